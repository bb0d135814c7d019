// Package storage provides the round persistence backends: a gorm-backed
// store for shared multi-instance deployments (postgres, or sqlite for tests
// and single-node setups) and a single-process file fallback.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flipd/game"
)

type roundRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	Player          string `gorm:"size:64;index"`
	Move            string `gorm:"size:8"`
	Status          string `gorm:"size:24;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessingToken string           `gorm:"size:36"`
	Payment         game.PaymentInfo `gorm:"serializer:json"`
	Result          *game.Result     `gorm:"serializer:json"`
	Payout          *game.Payout     `gorm:"serializer:json"`
}

func (roundRecord) TableName() string { return "rounds" }

func toRecord(round *game.Round) roundRecord {
	return roundRecord{
		ID:              round.ID,
		Player:          strings.ToLower(round.Player),
		Move:            string(round.Move),
		Status:          string(round.Status),
		CreatedAt:       round.CreatedAt,
		UpdatedAt:       round.UpdatedAt,
		ProcessingToken: round.ProcessingToken,
		Payment:         round.Payment,
		Result:          round.Result,
		Payout:          round.Payout,
	}
}

func (r roundRecord) toRound() *game.Round {
	return &game.Round{
		ID:              r.ID,
		Player:          r.Player,
		Move:            game.Move(r.Move),
		Status:          game.Status(r.Status),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ProcessingToken: r.ProcessingToken,
		Payment:         r.Payment,
		Result:          r.Result,
		Payout:          r.Payout,
	}
}

// GormStore persists rounds through gorm. The single-active-round-per-player
// invariant is enforced by a partial unique index on the lowercased player
// address scoped to non-terminal status, so it survives concurrent creations
// across independent processes.
type GormStore struct {
	db *gorm.DB
	// mu queues writes within this process; the backend serializes across
	// processes via transactions and the partial index.
	mu  sync.Mutex
	now func() time.Time
}

// activeRoundIndex must be created manually: gorm's AutoMigrate cannot
// express partial indexes. The predicate works on both postgres and sqlite.
const activeRoundIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_player_active
    ON rounds (player) WHERE status <> 'completed'`

// NewGormStore migrates the schema and installs the active-round constraint.
// The supplied *gorm.DB should be opened with TranslateError enabled so
// constraint violations surface as gorm.ErrDuplicatedKey.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db required")
	}
	if err := db.AutoMigrate(&roundRecord{}); err != nil {
		return nil, fmt.Errorf("migrate rounds: %w", err)
	}
	if err := db.Exec(activeRoundIndex).Error; err != nil {
		return nil, fmt.Errorf("create active-round index: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// Create persists a new round, mapping the partial-index violation to
// game.ErrActiveRound.
func (s *GormStore) Create(ctx context.Context, round *game.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := toRecord(round)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("create round for %s: %w", record.Player, game.ErrActiveRound)
		}
		return fmt.Errorf("create round: %w", err)
	}
	return nil
}

// Get returns the round by id, or nil when unknown.
func (s *GormStore) Get(ctx context.Context, id string) (*game.Round, error) {
	var record roundRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get round: %w", err)
	}
	return record.toRound(), nil
}

// List returns rounds newest-created-first.
func (s *GormStore) List(ctx context.Context, limit int) ([]*game.Round, error) {
	return s.list(ctx, limit, "")
}

// ListByPlayer returns the player's rounds newest-created-first.
func (s *GormStore) ListByPlayer(ctx context.Context, player string, limit int) ([]*game.Round, error) {
	return s.list(ctx, limit, strings.ToLower(player))
}

func (s *GormStore) list(ctx context.Context, limit int, player string) ([]*game.Round, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if player != "" {
		query = query.Where("player = ?", player)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []roundRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	rounds := make([]*game.Round, 0, len(records))
	for _, record := range records {
		rounds = append(rounds, record.toRound())
	}
	return rounds, nil
}

// FindActiveByPlayer returns the player's non-completed round, if any.
func (s *GormStore) FindActiveByPlayer(ctx context.Context, player string) (*game.Round, error) {
	var record roundRecord
	err := s.db.WithContext(ctx).
		Where("player = ? AND status <> ?", strings.ToLower(player), string(game.StatusCompleted)).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active round: %w", err)
	}
	return record.toRound(), nil
}

// CompareAndSwap applies mutate inside a transaction when check passes on the
// current record. On postgres the row is locked for the duration; sqlite
// serializes writers on its own.
func (s *GormStore) CompareAndSwap(ctx context.Context, id string, check func(*game.Round) bool, mutate func(*game.Round)) (*game.Round, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		result  *game.Round
		swapped bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var record roundRecord
		if err := query.First(&record, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return game.ErrRoundNotFound
			}
			return err
		}
		current := record.toRound()
		if !check(current) {
			result = current
			return nil
		}
		mutate(current)
		current.UpdatedAt = s.now().UTC()
		updated := toRecord(current)
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		result = current
		swapped = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, swapped, nil
}
