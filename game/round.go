// Package game implements the coin-flip round lifecycle: creation under
// per-player mutual exclusion, payment detection, claim-based resolution, and
// payout, driven entirely by caller reads.
package game

import (
	"fmt"
	"strings"
	"time"

	"flipd/chain"
)

// Move is the player's chosen coin face.
type Move string

const (
	MoveHeads Move = "heads"
	MoveTails Move = "tails"
)

// Opposite returns the other coin face.
func (m Move) Opposite() Move {
	if m == MoveHeads {
		return MoveTails
	}
	return MoveHeads
}

// ParseMove validates a submitted move.
func ParseMove(value string) (Move, error) {
	switch Move(strings.ToLower(strings.TrimSpace(value))) {
	case MoveHeads:
		return MoveHeads, nil
	case MoveTails:
		return MoveTails, nil
	default:
		return "", &ValidationError{Field: "move", Msg: fmt.Sprintf("must be %q or %q", MoveHeads, MoveTails)}
	}
}

// Status is the round lifecycle state. Transitions are strictly forward:
// awaiting_payment -> resolving -> completed.
type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusResolving       Status = "resolving"
	StatusCompleted       Status = "completed"
)

// PaymentStatus tracks the entry-fee sub-record.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Outcome is the resolved result of a round.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
)

// PayoutStatus tracks the payout sub-record.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
	PayoutSkipped    PayoutStatus = "skipped"
)

// PaymentInfo records the expected and, once detected, observed entry payment.
type PaymentInfo struct {
	Status       PaymentStatus         `json:"status"`
	Recipient    string                `json:"recipient"`
	Link         string                `json:"link"`
	ExpectedData string                `json:"expectedData"`
	Amount       string                `json:"amount"`
	TxHash       string                `json:"txHash,omitempty"`
	PaidAt       *time.Time            `json:"paidAt,omitempty"`
	Payloads     chain.PaymentPayloads `json:"payloads"`
}

// Result is present once a round resolved. The coin face is derived from the
// outcome: a win shows the player's move, a loss the opposite face.
type Result struct {
	Coin       Move      `json:"coin"`
	Outcome    Outcome   `json:"outcome"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Payout records the payout attempt for a resolved round.
type Payout struct {
	Status      PayoutStatus `json:"status"`
	From        string       `json:"from,omitempty"`
	To          string       `json:"to,omitempty"`
	Amount      string       `json:"amount,omitempty"`
	TxHash      string       `json:"txHash,omitempty"`
	Error       string       `json:"error,omitempty"`
	ProcessedAt *time.Time   `json:"processedAt,omitempty"`
	RetryCount  int          `json:"retryCount,omitempty"`
}

// Round is the central aggregate: one play of the game from move submission
// through payout resolution. Rounds are never deleted; the terminal state is
// completed with a populated result and payout.
type Round struct {
	ID        string    `json:"id"`
	Player    string    `json:"player"`
	Move      Move      `json:"move"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ProcessingToken is the ephemeral claim marker held by the caller that
	// owns the resolving window. Empty outside of that window.
	ProcessingToken string `json:"-"`

	Payment PaymentInfo `json:"payment"`
	Result  *Result     `json:"result,omitempty"`
	Payout  *Payout     `json:"payout,omitempty"`
}

// DeriveMarker builds the round-unique payment marker. It is server-derived,
// never client-supplied, and is the sole correlation key between an on-chain
// transfer and a round.
func DeriveMarker(roundID string, move Move, player string) string {
	return fmt.Sprintf("coinflip:%s:%s:%s", roundID, move, strings.ToLower(player))
}

// Clone deep-copies a round so callers can hand out snapshots without
// aliasing store-owned state.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	out := *r
	if r.Payment.PaidAt != nil {
		paidAt := *r.Payment.PaidAt
		out.Payment.PaidAt = &paidAt
	}
	if r.Result != nil {
		result := *r.Result
		out.Result = &result
	}
	if r.Payout != nil {
		payout := *r.Payout
		if r.Payout.ProcessedAt != nil {
			processedAt := *r.Payout.ProcessedAt
			payout.ProcessedAt = &processedAt
		}
		out.Payout = &payout
	}
	return &out
}

// ValidationError reports a rejected creation input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// ConflictError reports that the player already has a round in flight.
type ConflictError struct {
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("an active round %s already exists for this player", e.ExistingID)
}

// PreflightError reports a failed pre-creation transfer-path check.
type PreflightError struct {
	Reason string
}

func (e *PreflightError) Error() string {
	return "payment preflight rejected: " + e.Reason
}
