package payment

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"flipd/chain"
)

const (
	// maxHistoryPages bounds the fallback scan so a poll can never walk an
	// unbounded history.
	maxHistoryPages = 5
	historyPageSize = 50
)

// EventFeed queries the marker/recipient-filtered transfer-event feed.
type EventFeed interface {
	TransferEvents(ctx context.Context, recipient, data string) ([]chain.TransferEvent, error)
}

// HistoryPager walks paginated history rows, newest first.
type HistoryPager interface {
	Next(ctx context.Context) ([]chain.HistoryRow, bool, error)
}

// HistorySource opens a newest-first pager over an account's transaction
// history.
type HistorySource interface {
	TransactionHistory(ctx context.Context, account string, pageSize int) (HistoryPager, error)
}

// Found describes the transfer that settled a round's entry fee. Source
// names the detection path that saw it ("feed" or "history").
type Found struct {
	TxHash string
	From   string
	Value  *big.Int
	At     time.Time
	Source string
}

// Locator finds a round's qualifying payment: event feed first, bounded
// history scan as fallback. Query failures on either path are swallowed and
// reported as "not found yet"; the next poll retries.
type Locator struct {
	feed    EventFeed
	history HistorySource
	logger  *slog.Logger
}

// NewLocator wires the two detection paths.
func NewLocator(feed EventFeed, history HistorySource, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{feed: feed, history: history, logger: logger}
}

// Find returns the first transfer satisfying the query, or nil when no
// qualifying payment is visible yet. It never returns an error.
func (l *Locator) Find(ctx context.Context, q Query) *Found {
	if found := l.fromFeed(ctx, q); found != nil {
		return found
	}
	return l.fromHistory(ctx, q)
}

func (l *Locator) fromFeed(ctx context.Context, q Query) *Found {
	if l.feed == nil || q.ExpectedData == "" {
		return nil
	}
	events, err := l.feed.TransferEvents(ctx, q.Recipient, q.ExpectedData)
	if err != nil {
		l.logger.Debug("event feed query failed", "err", err)
		return nil
	}
	for _, ev := range events {
		if MatchEvent(ev, q) {
			return &Found{TxHash: ev.TxHash, From: ev.From, Source: "feed"}
		}
	}
	return nil
}

func (l *Locator) fromHistory(ctx context.Context, q Query) *Found {
	if l.history == nil {
		return nil
	}
	pager, err := l.history.TransactionHistory(ctx, q.Recipient, historyPageSize)
	if err != nil {
		l.logger.Debug("history query failed", "err", err)
		return nil
	}
	for page := 0; page < maxHistoryPages; page++ {
		rows, more, err := pager.Next(ctx)
		if err != nil {
			l.logger.Debug("history page failed", "page", page, "err", err)
			return nil
		}
		for _, row := range rows {
			if MatchHistoryRow(row, q) {
				return &Found{TxHash: row.TxHash, From: row.From, Value: row.Value, At: row.Timestamp, Source: "history"}
			}
		}
		if !more {
			return nil
		}
	}
	return nil
}
