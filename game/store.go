package game

import (
	"context"
	"errors"
)

// ErrActiveRound is returned by RoundStore.Create when a non-terminal round
// already exists for the player. Backing stores must enforce this atomically
// (a partial uniqueness constraint, not a check-then-insert) so it holds
// across independent processes.
var ErrActiveRound = errors.New("active round exists for player")

// ErrRoundNotFound is returned by conditional updates on unknown round ids.
var ErrRoundNotFound = errors.New("round not found")

// RoundStore is the persistence contract for rounds. CompareAndSwap is the
// sole concurrency-control primitive: the engine never re-reads and re-checks
// manually; the race-closing logic lives behind this interface.
type RoundStore interface {
	// Create persists a new round, failing with ErrActiveRound when the
	// player (case-insensitive) already has a non-completed round.
	Create(ctx context.Context, round *Round) error

	// Get returns the round by id, or nil when unknown.
	Get(ctx context.Context, id string) (*Round, error)

	// List returns rounds ordered newest-created-first.
	List(ctx context.Context, limit int) ([]*Round, error)

	// ListByPlayer returns the player's rounds, newest first.
	ListByPlayer(ctx context.Context, player string, limit int) ([]*Round, error)

	// FindActiveByPlayer returns the player's non-completed round, if any.
	FindActiveByPlayer(ctx context.Context, player string) (*Round, error)

	// CompareAndSwap atomically applies mutate to the stored round when check
	// passes against the current record. It returns the persisted round and
	// whether the swap happened; on a failed check the current record is
	// returned unchanged. Unknown ids yield ErrRoundNotFound.
	CompareAndSwap(ctx context.Context, id string, check func(*Round) bool, mutate func(*Round)) (*Round, bool, error)
}
