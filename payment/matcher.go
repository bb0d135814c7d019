// Package payment decides whether an observed on-chain transfer settles a
// round's entry fee. Matching is correlation-key based: every round derives a
// unique marker string that the paying wallet attaches to the transfer.
package payment

import (
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"flipd/chain"
)

// Query describes the payment a round is waiting for.
type Query struct {
	ExpectedData string
	Recipient    string
	Player       string
	MinAmount    *big.Int
	NotBefore    time.Time
}

// markerCandidates returns every accepted representation of the expected
// marker: raw text, bare lowercase hex, and 0x-prefixed lowercase hex.
func markerCandidates(expected string) map[string]struct{} {
	encoded := hex.EncodeToString([]byte(expected))
	return map[string]struct{}{
		expected:       {},
		encoded:        {},
		"0x" + encoded: {},
	}
}

// candidateForms normalizes an observed data field into the representations
// to test for membership: the value itself plus, when it decodes as hex, the
// decoded text.
func candidateForms(data string) []string {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return nil
	}
	forms := []string{trimmed, strings.ToLower(trimmed)}
	bare := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if decoded, err := hex.DecodeString(bare); err == nil {
		forms = append(forms, string(decoded))
	}
	return forms
}

// MatchesData reports whether an observed data field carries the expected
// marker in any accepted encoding.
func MatchesData(data, expected string) bool {
	if expected == "" {
		return false
	}
	candidates := markerCandidates(expected)
	for _, form := range candidateForms(data) {
		if _, ok := candidates[form]; ok {
			return true
		}
	}
	return false
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// MatchEvent reports whether a transfer-event row settles the query. Event
// rows carry no amount, so only recipient and marker are checked.
func MatchEvent(ev chain.TransferEvent, q Query) bool {
	if q.Recipient != "" && !sameAddress(ev.To, q.Recipient) {
		return false
	}
	return MatchesData(ev.Data, q.ExpectedData)
}

// MatchHistoryRow reports whether a history row settles the query: correct
// direction, at least the expected amount, not older than the round, and —
// when a marker is expected — a matching transfer event embedded in the row.
func MatchHistoryRow(row chain.HistoryRow, q Query) bool {
	if !sameAddress(row.From, q.Player) || !sameAddress(row.To, q.Recipient) {
		return false
	}
	if q.MinAmount != nil && (row.Value == nil || row.Value.Cmp(q.MinAmount) < 0) {
		return false
	}
	if !q.NotBefore.IsZero() && row.Timestamp.Before(q.NotBefore) {
		return false
	}
	if q.ExpectedData == "" {
		return true
	}
	for _, ev := range row.Events {
		if MatchesData(ev.Data, q.ExpectedData) {
			return true
		}
	}
	return false
}
