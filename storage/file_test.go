package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"flipd/game"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.json")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)

	round := newRound("0xplayer1")
	require.NoError(t, store.Create(ctx, round))

	_, swapped, err := store.CompareAndSwap(ctx, round.ID,
		func(cur *game.Round) bool { return cur.Status == game.StatusAwaitingPayment },
		func(cur *game.Round) {
			cur.Status = game.StatusResolving
			cur.ProcessingToken = "claim-1"
		},
	)
	require.NoError(t, err)
	require.True(t, swapped)

	// A fresh store loads the same document, claim token included.
	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reloaded.Get(ctx, round.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, game.StatusResolving, got.Status)
	require.Equal(t, "claim-1", got.ProcessingToken)
}

func TestFileStoreSingleActiveRound(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "rounds.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newRound("0xAbCd")))
	require.ErrorIs(t, store.Create(ctx, newRound("0xABCD")), game.ErrActiveRound)
}

func TestFileStoreCASLoserSeesCurrentState(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "rounds.json"))
	require.NoError(t, err)
	ctx := context.Background()

	round := newRound("0xplayer1")
	require.NoError(t, store.Create(ctx, round))

	_, swapped, err := store.CompareAndSwap(ctx, round.ID,
		func(cur *game.Round) bool { return cur.Status == game.StatusAwaitingPayment },
		func(cur *game.Round) { cur.Status = game.StatusResolving },
	)
	require.NoError(t, err)
	require.True(t, swapped)

	current, swapped, err := store.CompareAndSwap(ctx, round.ID,
		func(cur *game.Round) bool { return cur.Status == game.StatusAwaitingPayment },
		func(cur *game.Round) { cur.Status = game.StatusCompleted },
	)
	require.NoError(t, err)
	require.False(t, swapped)
	require.Equal(t, game.StatusResolving, current.Status)

	_, _, err = store.CompareAndSwap(ctx, "missing", func(*game.Round) bool { return true }, func(*game.Round) {})
	require.ErrorIs(t, err, game.ErrRoundNotFound)
}

func TestFileStoreCreateRollsBackOnPersistFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rounds.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	// Occupy the document path with a directory so the rename in persist fails.
	require.NoError(t, os.Mkdir(path, 0o755))

	round := newRound("0xplayer1")
	require.Error(t, store.Create(ctx, round))

	// A failed create must not leave a phantom active round behind.
	active, err := store.FindActiveByPlayer(ctx, "0xplayer1")
	require.NoError(t, err)
	require.Nil(t, active)
	got, err := store.Get(ctx, round.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	// Once the path is writable again the same player can create a round.
	require.NoError(t, os.Remove(path))
	require.NoError(t, store.Create(ctx, newRound("0xplayer1")))
}

func TestFileStoreListOrderAndFilter(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "rounds.json"))
	require.NoError(t, err)
	ctx := context.Background()

	a := newRound("0xaaa1")
	b := newRound("0xbbb2")
	b.CreatedAt = a.CreatedAt.Add(1)
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	rounds, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	require.Equal(t, b.ID, rounds[0].ID)

	mine, err := store.ListByPlayer(ctx, "0xAAA1", 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, a.ID, mine[0].ID)
}
