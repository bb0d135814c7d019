package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMove(t *testing.T) {
	move, err := ParseMove(" Heads ")
	require.NoError(t, err)
	require.Equal(t, MoveHeads, move)

	move, err = ParseMove("tails")
	require.NoError(t, err)
	require.Equal(t, MoveTails, move)

	_, err = ParseMove("edge")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "move", validation.Field)
}

func TestMoveOpposite(t *testing.T) {
	require.Equal(t, MoveTails, MoveHeads.Opposite())
	require.Equal(t, MoveHeads, MoveTails.Opposite())
}

func TestDeriveMarker(t *testing.T) {
	marker := DeriveMarker("r-1", MoveHeads, "0xAbC")
	require.Equal(t, "coinflip:r-1:heads:0xabc", marker)

	// Distinct rounds derive distinct markers even for the same player/move.
	require.NotEqual(t, marker, DeriveMarker("r-2", MoveHeads, "0xabc"))
}

func TestRoundCloneIsDeep(t *testing.T) {
	paidAt := time.Now().UTC()
	processedAt := paidAt.Add(time.Minute)
	original := &Round{
		ID:     "r-1",
		Status: StatusCompleted,
		Payment: PaymentInfo{
			Status: PaymentPaid,
			PaidAt: &paidAt,
		},
		Result: &Result{Coin: MoveHeads, Outcome: OutcomeWin, ResolvedAt: paidAt},
		Payout: &Payout{Status: PayoutPaid, ProcessedAt: &processedAt},
	}

	clone := original.Clone()
	clone.Payment.PaidAt = nil
	clone.Result.Outcome = OutcomeLose
	clone.Payout.Status = PayoutFailed

	require.NotNil(t, original.Payment.PaidAt)
	require.Equal(t, OutcomeWin, original.Result.Outcome)
	require.Equal(t, PayoutPaid, original.Payout.Status)

	var nothing *Round
	require.Nil(t, nothing.Clone())
}
