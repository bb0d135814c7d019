// Package chain contains the typed boundary toward the on-chain data
// sources: the transfer-event feed, the token transaction history, the
// pathfinder, and payment payload construction. External payloads are parsed
// into well-typed records here; malformed entries are skipped rather than
// propagated inward.
package chain

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// TransferEvent is one row of the indexed transfer-event feed. Data carries
// the transfer's attached payload exactly as the indexer returned it (raw
// text or hex encoded, with or without 0x prefix).
type TransferEvent struct {
	From        string
	To          string
	Data        string
	TxHash      string
	BlockNumber uint64
	LogIndex    uint64
}

// HistoryRow is one row of the token transaction history. Value is in base
// units. Events holds the transfer events emitted by the same transaction,
// when the indexer embeds them.
type HistoryRow struct {
	From        string
	To          string
	Value       *big.Int
	TxHash      string
	Timestamp   time.Time
	BlockNumber uint64
	Events      []TransferEvent
}

// ordinal tolerates the two shapes indexers use for ordering fields: bare
// JSON numbers and strings (decimal or 0x hex).
type ordinal string

func (o *ordinal) UnmarshalJSON(raw []byte) error {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		*o = ordinal(asString)
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return err
	}
	*o = ordinal(asNumber.String())
	return nil
}

type transferEventWire struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Data        string  `json:"data"`
	TxHash      string  `json:"transactionHash"`
	BlockNumber ordinal `json:"blockNumber"`
	LogIndex    ordinal `json:"logIndex"`
}

type historyRowWire struct {
	From        string              `json:"from"`
	To          string              `json:"to"`
	Value       string              `json:"value"`
	TxHash      string              `json:"transactionHash"`
	Timestamp   ordinal             `json:"timestamp"`
	BlockNumber ordinal             `json:"blockNumber"`
	Events      []transferEventWire `json:"events"`
}

func (w transferEventWire) decode() (TransferEvent, bool) {
	from := strings.TrimSpace(w.From)
	to := strings.TrimSpace(w.To)
	if from == "" || to == "" {
		return TransferEvent{}, false
	}
	return TransferEvent{
		From:        from,
		To:          to,
		Data:        w.Data,
		TxHash:      strings.TrimSpace(w.TxHash),
		BlockNumber: parseOrdinal(w.BlockNumber),
		LogIndex:    parseOrdinal(w.LogIndex),
	}, true
}

func (w historyRowWire) decode() (HistoryRow, bool) {
	from := strings.TrimSpace(w.From)
	to := strings.TrimSpace(w.To)
	if from == "" || to == "" {
		return HistoryRow{}, false
	}
	value, ok := ParseBaseUnits(w.Value)
	if !ok {
		return HistoryRow{}, false
	}
	row := HistoryRow{
		From:        from,
		To:          to,
		Value:       value,
		TxHash:      strings.TrimSpace(w.TxHash),
		Timestamp:   time.Unix(int64(parseOrdinal(w.Timestamp)), 0).UTC(),
		BlockNumber: parseOrdinal(w.BlockNumber),
	}
	for _, ev := range w.Events {
		decoded, ok := ev.decode()
		if !ok {
			continue
		}
		row.Events = append(row.Events, decoded)
	}
	return row, true
}

// ParseBaseUnits parses a base-unit value that indexers return either as a
// decimal string or as 0x-prefixed hex.
func ParseBaseUnits(value string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, false
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		parsed, err := uint256.FromHex("0x" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X"))
		if err != nil {
			return nil, false
		}
		return parsed.ToBig(), true
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, false
	}
	return parsed, true
}

func parseOrdinal(n ordinal) uint64 {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return 0
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0
		}
		return v
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
