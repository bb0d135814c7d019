package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"flipd/game"
)

// FileStore keeps all rounds in one serialized JSON document. It is the
// fallback when no shared database is configured and is explicitly
// single-process: nothing guards the file against a second writer. Not
// suitable for multi-instance deployments.
type FileStore struct {
	path string
	mu   sync.Mutex
	// rounds is the authoritative in-memory copy; the file is rewritten on
	// every mutation via tmp+rename so a crash never leaves a torn document.
	rounds map[string]*game.Round
	now    func() time.Time
}

// fileRound wraps a round with the claim token, which the API model hides
// from JSON but the store must keep.
type fileRound struct {
	Round           *game.Round `json:"round"`
	ProcessingToken string      `json:"processingToken,omitempty"`
}

type fileDocument struct {
	Rounds []fileRound `json:"rounds"`
}

// NewFileStore loads (or initialises) the round document at path.
func NewFileStore(path string) (*FileStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("file store path required")
	}
	store := &FileStore{path: trimmed, rounds: make(map[string]*game.Round), now: time.Now}
	raw, err := os.ReadFile(trimmed)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read round document: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse round document: %w", err)
	}
	for _, entry := range doc.Rounds {
		if entry.Round == nil {
			continue
		}
		entry.Round.ProcessingToken = entry.ProcessingToken
		store.rounds[entry.Round.ID] = entry.Round
	}
	return store, nil
}

// persist writes the full document atomically. Callers hold s.mu.
func (s *FileStore) persist() error {
	doc := fileDocument{Rounds: make([]fileRound, 0, len(s.rounds))}
	for _, round := range s.rounds {
		doc.Rounds = append(doc.Rounds, fileRound{Round: round, ProcessingToken: round.ProcessingToken})
	}
	sort.Slice(doc.Rounds, func(i, j int) bool {
		return doc.Rounds[i].Round.CreatedAt.After(doc.Rounds[j].Round.CreatedAt)
	})
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode round document: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write round document: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Create persists a new round, enforcing the single-active-round invariant
// under the store lock.
func (s *FileStore) Create(ctx context.Context, round *game.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	player := strings.ToLower(round.Player)
	for _, existing := range s.rounds {
		if existing.Player == player && existing.Status != game.StatusCompleted {
			return fmt.Errorf("create round for %s: %w", player, game.ErrActiveRound)
		}
	}
	stored := round.Clone()
	stored.Player = player
	s.rounds[stored.ID] = stored
	if err := s.persist(); err != nil {
		// Roll back so a failed create does not leave a phantom active round.
		delete(s.rounds, stored.ID)
		return err
	}
	return nil
}

// Get returns the round by id, or nil when unknown.
func (s *FileStore) Get(ctx context.Context, id string) (*game.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.rounds[id]
	if !ok {
		return nil, nil
	}
	return round.Clone(), nil
}

// List returns rounds newest-created-first.
func (s *FileStore) List(ctx context.Context, limit int) ([]*game.Round, error) {
	return s.list(limit, "")
}

// ListByPlayer returns the player's rounds newest-created-first.
func (s *FileStore) ListByPlayer(ctx context.Context, player string, limit int) ([]*game.Round, error) {
	return s.list(limit, strings.ToLower(player))
}

func (s *FileStore) list(limit int, player string) ([]*game.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rounds := make([]*game.Round, 0, len(s.rounds))
	for _, round := range s.rounds {
		if player != "" && round.Player != player {
			continue
		}
		rounds = append(rounds, round.Clone())
	}
	sort.Slice(rounds, func(i, j int) bool {
		return rounds[i].CreatedAt.After(rounds[j].CreatedAt)
	})
	if limit > 0 && len(rounds) > limit {
		rounds = rounds[:limit]
	}
	return rounds, nil
}

// FindActiveByPlayer returns the player's non-completed round, if any.
func (s *FileStore) FindActiveByPlayer(ctx context.Context, player string) (*game.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := strings.ToLower(player)
	for _, round := range s.rounds {
		if round.Player == normalized && round.Status != game.StatusCompleted {
			return round.Clone(), nil
		}
	}
	return nil, nil
}

// CompareAndSwap applies mutate when check passes, under the store lock.
func (s *FileStore) CompareAndSwap(ctx context.Context, id string, check func(*game.Round) bool, mutate func(*game.Round)) (*game.Round, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rounds[id]
	if !ok {
		return nil, false, game.ErrRoundNotFound
	}
	if !check(current.Clone()) {
		return current.Clone(), false, nil
	}
	next := current.Clone()
	mutate(next)
	next.UpdatedAt = s.now().UTC()
	s.rounds[id] = next
	if err := s.persist(); err != nil {
		// Roll back the in-memory copy so memory and disk stay consistent.
		s.rounds[id] = current
		return nil, false, err
	}
	return next.Clone(), true, nil
}
