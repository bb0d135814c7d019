package payment

import (
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flipd/chain"
)

const (
	recipient = "0xOrg0000000000000000000000000000000000001"
	player    = "0xP000000000000000000000000000000000000002"
)

func TestMatchesDataEncodingInvariant(t *testing.T) {
	marker := "coinflip:round-1:heads:0xp"
	encodings := []string{
		marker,
		hex.EncodeToString([]byte(marker)),
		"0x" + hex.EncodeToString([]byte(marker)),
	}
	for _, data := range encodings {
		require.True(t, MatchesData(data, marker), data)
	}
	require.False(t, MatchesData("something else", marker))
	require.False(t, MatchesData("", marker))
	require.False(t, MatchesData(marker, ""))
}

func TestMatchEventAddressCaseInsensitive(t *testing.T) {
	q := Query{ExpectedData: "m", Recipient: recipient}
	ev := chain.TransferEvent{To: "0xORG0000000000000000000000000000000000001", Data: "m"}
	require.True(t, MatchEvent(ev, q))

	ev.To = "0xother"
	require.False(t, MatchEvent(ev, q))
}

func TestMatchHistoryRowFilters(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := chain.HistoryRow{
		From:      player,
		To:        recipient,
		Value:     big.NewInt(1000),
		Timestamp: created.Add(time.Minute),
		Events:    []chain.TransferEvent{{To: recipient, Data: "m"}},
	}
	q := Query{
		ExpectedData: "m",
		Recipient:    recipient,
		Player:       player,
		MinAmount:    big.NewInt(1000),
		NotBefore:    created,
	}
	require.True(t, MatchHistoryRow(base, q))

	low := base
	low.Value = big.NewInt(999)
	require.False(t, MatchHistoryRow(low, q), "below minimum amount")

	early := base
	early.Timestamp = created.Add(-time.Minute)
	require.False(t, MatchHistoryRow(early, q), "predates the round")

	wrongFrom := base
	wrongFrom.From = "0xstranger"
	require.False(t, MatchHistoryRow(wrongFrom, q), "wrong sender")

	noMarker := base
	noMarker.Events = nil
	require.False(t, MatchHistoryRow(noMarker, q), "marker required but absent")

	// Without a configured marker the direction/amount/time checks decide.
	unmarked := q
	unmarked.ExpectedData = ""
	require.True(t, MatchHistoryRow(noMarker, unmarked))
}

func TestMatchHistoryRowAnyEventMatches(t *testing.T) {
	q := Query{ExpectedData: "m", Recipient: recipient, Player: player}
	row := chain.HistoryRow{
		From:  player,
		To:    recipient,
		Value: big.NewInt(1),
		Events: []chain.TransferEvent{
			{Data: "unrelated"},
			{Data: "0x" + hex.EncodeToString([]byte("m"))},
		},
	}
	require.True(t, MatchHistoryRow(row, q))
}
