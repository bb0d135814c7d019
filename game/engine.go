package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"flipd/amount"
	"flipd/chain"
	"flipd/observability"
	"flipd/payment"
)

// winDraw is the value of the uniform [0,10) draw that resolves to a win.
const winDraw = 0

// legacyRetryMarkers are the historical transient payout-construction error
// texts that qualify a completed win for exactly one payout retry. Kept
// narrow on purpose; do not generalize.
var legacyRetryMarkers = []string{
	"payout signer not configured",
	"gas estimation failed",
}

// PaymentFinder locates a round's qualifying entry payment.
type PaymentFinder interface {
	Find(ctx context.Context, q payment.Query) *payment.Found
}

// PathChecker answers whether a sufficient transfer path exists from the
// player to the payment recipient.
type PathChecker interface {
	FindPath(ctx context.Context, from, to string, amount *big.Int) (bool, error)
}

// PayoutExecutor submits the payout for a winning round. It never returns an
// error; failures are captured in the payout record.
type PayoutExecutor interface {
	Execute(ctx context.Context, roundID, winner, amountDecimal string) Payout
}

// Config carries the game parameters for the engine.
type Config struct {
	// Recipient receives entry payments (usually the org address).
	Recipient string
	// EntryAmount and PayoutAmount are decimal token amounts.
	EntryAmount  string
	PayoutAmount string
	// LinkBase prefixes generated payment links.
	LinkBase string
}

// Engine drives the round lifecycle. It is safe for concurrent use; per-round
// write ordering is established by the store's conditional updates, not by
// engine-level locks.
type Engine struct {
	cfg     Config
	store   RoundStore
	locator PaymentFinder
	paths   PathChecker
	payout  PayoutExecutor
	locks   *keyedMutex
	logger  *slog.Logger
	metrics *observability.GameMetrics

	draw func() int
	now  func() time.Time

	entryUnits *big.Int
}

// Option customises the engine instance.
type Option func(*Engine)

// WithDraw overrides the random outcome draw. The function must return a
// uniform integer in [0,10).
func WithDraw(draw func() int) Option {
	return func(e *Engine) { e.draw = draw }
}

// WithClock sets the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.now = clock }
}

// WithLogger supplies the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics supplies the metrics registry.
func WithMetrics(m *observability.GameMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine validates the configuration and constructs the lifecycle engine.
func NewEngine(cfg Config, store RoundStore, locator PaymentFinder, paths PathChecker, payout PayoutExecutor, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("round store required")
	}
	if locator == nil {
		return nil, fmt.Errorf("payment locator required")
	}
	if !common.IsHexAddress(cfg.Recipient) {
		return nil, fmt.Errorf("invalid payment recipient %q", cfg.Recipient)
	}
	entry, err := amount.ParseDecimal(cfg.EntryAmount, "entry amount")
	if err != nil {
		return nil, err
	}
	if _, err := amount.ParseDecimal(cfg.PayoutAmount, "payout amount"); err != nil {
		return nil, err
	}
	entryUnits, err := amount.ToBaseUnits(entry)
	if err != nil {
		return nil, err
	}
	cfg.Recipient = strings.ToLower(cfg.Recipient)
	engine := &Engine{
		cfg:        cfg,
		store:      store,
		locator:    locator,
		paths:      paths,
		payout:     payout,
		locks:      newKeyedMutex(),
		logger:     slog.Default(),
		draw:       func() int { return rand.Intn(10) },
		now:        time.Now,
		entryUnits: entryUnits,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// CreateRound validates the request, runs the preflight path check, and
// persists a new round awaiting payment. A second creation for the same
// player while a round is in flight fails with ConflictError naming the
// existing round.
func (e *Engine) CreateRound(ctx context.Context, player, move string) (*Round, error) {
	player = strings.TrimSpace(player)
	if !common.IsHexAddress(player) {
		return nil, &ValidationError{Field: "player", Msg: "not a valid address"}
	}
	player = strings.ToLower(player)
	parsedMove, err := ParseMove(move)
	if err != nil {
		return nil, err
	}

	// Serialize same-player creations within this process so near-simultaneous
	// requests do not race past the active-round check. The store's
	// uniqueness constraint remains the cross-process guarantee.
	unlock := e.locks.Lock(player)
	defer unlock()

	existing, err := e.store.FindActiveByPlayer(ctx, player)
	if err != nil {
		return nil, fmt.Errorf("look up active round: %w", err)
	}
	if existing != nil {
		return nil, &ConflictError{ExistingID: existing.ID}
	}

	if e.paths != nil {
		ok, err := e.paths.FindPath(ctx, player, e.cfg.Recipient, e.entryUnits)
		if err != nil {
			return nil, fmt.Errorf("preflight path check: %w", err)
		}
		if !ok {
			return nil, &PreflightError{Reason: "no transfer path from player to recipient for the entry amount"}
		}
	}

	now := e.now().UTC()
	id := uuid.NewString()
	marker := DeriveMarker(id, parsedMove, player)
	round := &Round{
		ID:        id,
		Player:    player,
		Move:      parsedMove,
		Status:    StatusAwaitingPayment,
		CreatedAt: now,
		UpdatedAt: now,
		Payment: PaymentInfo{
			Status:       PaymentPending,
			Recipient:    e.cfg.Recipient,
			Link:         chain.PaymentLink(e.cfg.LinkBase, e.cfg.Recipient, e.entryUnits, marker),
			ExpectedData: marker,
			Amount:       e.cfg.EntryAmount,
			Payloads:     chain.BuildPaymentPayloads(e.cfg.Recipient, e.entryUnits, marker),
		},
	}
	if err := e.store.Create(ctx, round); err != nil {
		if errors.Is(err, ErrActiveRound) {
			// Another process won the creation race; surface its round.
			if active, lookupErr := e.store.FindActiveByPlayer(ctx, player); lookupErr == nil && active != nil {
				return nil, &ConflictError{ExistingID: active.ID}
			}
			return nil, &ConflictError{}
		}
		return nil, fmt.Errorf("persist round: %w", err)
	}
	e.metrics.RecordRoundCreated()
	e.logger.Info("round created", "round", round.ID, "player", player, "move", parsedMove)
	return round, nil
}

// ProcessRound is the polling entry point: it advances the round as far as
// the observed chain state allows and returns the freshest known record. It
// is idempotent and safe to invoke concurrently from multiple pollers.
// Unknown ids return nil.
func (e *Engine) ProcessRound(ctx context.Context, id string) (*Round, error) {
	round, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, nil
	}
	return e.process(ctx, round)
}

// ListRounds returns rounds newest first, advancing every non-completed round
// first. List reads are the system's only progress driver; there is no
// background scheduler.
func (e *Engine) ListRounds(ctx context.Context, limit int) ([]*Round, error) {
	rounds, err := e.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	return e.processAll(ctx, rounds), nil
}

// ListRoundsByPlayer returns the player's rounds newest first, advancing
// non-completed rounds first. With pendingOnly set, completed rounds are
// filtered from the response after processing.
func (e *Engine) ListRoundsByPlayer(ctx context.Context, player string, limit int, pendingOnly bool) ([]*Round, error) {
	player = strings.ToLower(strings.TrimSpace(player))
	if !common.IsHexAddress(player) {
		return nil, &ValidationError{Field: "player", Msg: "not a valid address"}
	}
	rounds, err := e.store.ListByPlayer(ctx, player, limit)
	if err != nil {
		return nil, err
	}
	processed := e.processAll(ctx, rounds)
	if !pendingOnly {
		return processed, nil
	}
	pending := make([]*Round, 0, len(processed))
	for _, round := range processed {
		if round.Status != StatusCompleted {
			pending = append(pending, round)
		}
	}
	return pending, nil
}

func (e *Engine) processAll(ctx context.Context, rounds []*Round) []*Round {
	out := make([]*Round, 0, len(rounds))
	for _, round := range rounds {
		if round.Status == StatusCompleted && !e.legacyRetryEligible(round) {
			out = append(out, round)
			continue
		}
		processed, err := e.process(ctx, round)
		if err != nil {
			e.logger.Warn("round processing failed", "round", round.ID, "err", err)
			processed = round
		}
		out = append(out, processed)
	}
	return out
}

func (e *Engine) process(ctx context.Context, round *Round) (*Round, error) {
	switch round.Status {
	case StatusCompleted:
		if e.legacyRetryEligible(round) {
			return e.retryLegacyPayout(ctx, round)
		}
		return round, nil
	case StatusResolving:
		// Another in-flight claim owns this round.
		return round, nil
	case StatusAwaitingPayment:
		return e.detectAndResolve(ctx, round)
	default:
		return round, fmt.Errorf("round %s has unknown status %q", round.ID, round.Status)
	}
}

func (e *Engine) detectAndResolve(ctx context.Context, round *Round) (*Round, error) {
	minAmount, err := amount.ToBaseUnits(round.Payment.Amount)
	if err != nil {
		return round, fmt.Errorf("round %s has malformed entry amount: %w", round.ID, err)
	}
	found := e.locator.Find(ctx, payment.Query{
		ExpectedData: round.Payment.ExpectedData,
		Recipient:    round.Payment.Recipient,
		Player:       round.Player,
		MinAmount:    minAmount,
		NotBefore:    round.CreatedAt,
	})
	if found == nil {
		return round, nil
	}
	e.metrics.RecordDetection(found.Source)

	// Claim: only one concurrent poller may carry this round into resolving.
	token := uuid.NewString()
	now := e.now().UTC()
	claimed, swapped, err := e.store.CompareAndSwap(ctx, round.ID,
		func(cur *Round) bool { return cur.Status == StatusAwaitingPayment },
		func(cur *Round) {
			cur.Status = StatusResolving
			cur.ProcessingToken = token
			cur.Payment.Status = PaymentPaid
			cur.Payment.TxHash = found.TxHash
			paidAt := now
			cur.Payment.PaidAt = &paidAt
		},
	)
	if err != nil {
		return round, err
	}
	if !swapped || claimed.ProcessingToken != token {
		// Another caller won the claim; its view is authoritative.
		return claimed, nil
	}

	start := e.now()
	resolved := e.resolve(ctx, claimed)

	final, swapped, err := e.store.CompareAndSwap(ctx, round.ID,
		func(cur *Round) bool { return cur.Status == StatusResolving && cur.ProcessingToken == token },
		func(cur *Round) {
			cur.Status = StatusCompleted
			cur.ProcessingToken = ""
			cur.Result = resolved.Result
			cur.Payout = resolved.Payout
		},
	)
	if err != nil {
		return claimed, err
	}
	if !swapped {
		// Lost ownership between claim and finalize; do not overwrite.
		e.logger.Warn("lost resolution claim", "round", round.ID)
		return final, nil
	}
	e.metrics.RecordResolved(string(final.Result.Outcome), e.now().Sub(start))
	e.logger.Info("round resolved",
		"round", final.ID,
		"outcome", final.Result.Outcome,
		"coin", final.Result.Coin,
		"payout", final.Payout.Status,
	)
	return final, nil
}

// resolve draws the outcome and executes the payout for a claimed round. The
// coin face is derived from the outcome so the two can never disagree.
func (e *Engine) resolve(ctx context.Context, round *Round) *Round {
	resolved := round.Clone()
	win := e.draw() == winDraw
	result := &Result{ResolvedAt: e.now().UTC()}
	if win {
		result.Outcome = OutcomeWin
		result.Coin = round.Move
	} else {
		result.Outcome = OutcomeLose
		result.Coin = round.Move.Opposite()
	}
	resolved.Result = result

	if win {
		payoutRecord := e.executePayout(ctx, round.ID, round.Player)
		resolved.Payout = &payoutRecord
	} else {
		processedAt := e.now().UTC()
		resolved.Payout = &Payout{
			Status:      PayoutSkipped,
			To:          round.Player,
			Error:       "no payout: round resolved as a loss",
			ProcessedAt: &processedAt,
		}
		e.metrics.RecordPayout(string(PayoutSkipped))
	}
	return resolved
}

func (e *Engine) executePayout(ctx context.Context, roundID, winner string) Payout {
	if e.payout == nil {
		processedAt := e.now().UTC()
		payoutRecord := Payout{
			Status:      PayoutFailed,
			To:          winner,
			Amount:      e.cfg.PayoutAmount,
			Error:       "payout signer not configured",
			ProcessedAt: &processedAt,
		}
		e.metrics.RecordPayout(string(payoutRecord.Status))
		return payoutRecord
	}
	payoutRecord := e.payout.Execute(ctx, roundID, winner, e.cfg.PayoutAmount)
	e.metrics.RecordPayout(string(payoutRecord.Status))
	return payoutRecord
}

// legacyRetryEligible gates the narrow backward-compatibility payout retry:
// completed wins whose payout failed without a transaction hash, never
// retried, and whose error text names a known transient construction
// failure.
func (e *Engine) legacyRetryEligible(round *Round) bool {
	if round.Status != StatusCompleted || round.Result == nil || round.Result.Outcome != OutcomeWin {
		return false
	}
	payoutRecord := round.Payout
	if payoutRecord == nil || payoutRecord.Status != PayoutFailed {
		return false
	}
	if payoutRecord.TxHash != "" || payoutRecord.RetryCount != 0 {
		return false
	}
	for _, marker := range legacyRetryMarkers {
		if strings.Contains(payoutRecord.Error, marker) {
			return true
		}
	}
	return false
}

// retryLegacyPayout re-attempts the payout exactly once. The retry counter is
// claimed before the attempt so concurrent pollers cannot double-pay, and it
// stays incremented whatever the new attempt's outcome.
func (e *Engine) retryLegacyPayout(ctx context.Context, round *Round) (*Round, error) {
	claimed, swapped, err := e.store.CompareAndSwap(ctx, round.ID,
		func(cur *Round) bool { return e.legacyRetryEligible(cur) },
		func(cur *Round) {
			cur.Payout.Status = PayoutProcessing
			cur.Payout.RetryCount = 1
		},
	)
	if err != nil {
		return round, err
	}
	if !swapped {
		return claimed, nil
	}
	e.logger.Info("retrying legacy payout", "round", round.ID)

	payoutRecord := e.executePayout(ctx, round.ID, round.Player)
	payoutRecord.RetryCount = 1

	final, _, err := e.store.CompareAndSwap(ctx, round.ID,
		func(cur *Round) bool {
			return cur.Payout != nil && cur.Payout.Status == PayoutProcessing && cur.Payout.RetryCount == 1
		},
		func(cur *Round) {
			cur.Payout = &payoutRecord
		},
	)
	if err != nil {
		return claimed, err
	}
	return final, nil
}
