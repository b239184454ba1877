package model

import (
	"context"
)

// ── Ports ──
// These interfaces decouple the decision pipeline from the concrete exchange
// and control-channel implementations so each bot gets its own dependency set.

// CandleSource delivers historical windows and a restartable closed-candle stream.
type CandleSource interface {
	// History returns the most recent candles of interval, oldest first.
	History(ctx context.Context, interval string, limit int) ([]Candle, error)

	// Stream pushes closed candles into out until the connection dies or ctx ends.
	// A nil return after ctx is cancelled is a clean shutdown.
	Stream(ctx context.Context, out chan<- Candle) error

	// LastPrice returns the current traded price of the symbol.
	LastPrice(ctx context.Context) (float64, error)
}

// ControlChannel consumes dashboard commands and publishes engine projections.
type ControlChannel interface {
	// PollCommand returns and clears the pending command, if any.
	PollCommand(ctx context.Context) (Command, error)

	PublishStatus(ctx context.Context, rec StatusRecord) error
	PublishStats(ctx context.Context, rec StatsRecord) error
	PublishSummary(ctx context.Context, text string) error
}

// TradeJournal records closed trades for audit. It is never read back.
type TradeJournal interface {
	RecordTrade(rec TradeRecord) error
	Close() error
}
