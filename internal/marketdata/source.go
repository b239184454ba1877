// Package marketdata implements the candle source: REST history, the latest
// price and the closed-candle stream for a single symbol.
package marketdata

import (
	"context"
	"errors"
	"fmt"

	"papertrader/internal/marketdata/ws"
	"papertrader/internal/model"
	"papertrader/internal/retry"
	"papertrader/pkg/binance"
)

// ErrDataUnavailable means the exchange returned too little history to
// compute indicators. Callers abstain for the cycle.
var ErrDataUnavailable = errors.New("marketdata: insufficient history")

const (
	DefaultHistoryLimit = 500
	DefaultMinCandles   = 200
)

// Exchange is the subset of the exchange client the source needs.
type Exchange interface {
	ws.Streamer
	Klines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
	TickerPrice(ctx context.Context, symbol string) (float64, error)
}

// Config holds source settings.
type Config struct {
	Symbol       string
	Interval     string // streamed interval
	HistoryLimit int
	MinCandles   int
	Retry        retry.Policy
}

// Source implements model.CandleSource on top of the exchange client.
type Source struct {
	cfg    Config
	client Exchange
	ingest *ws.Ingest
}

var _ model.CandleSource = (*Source)(nil)

// NewSource creates a source for cfg.Symbol. Zero limits take the defaults.
func NewSource(cfg Config, client Exchange) *Source {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = DefaultMinCandles
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	return &Source{
		cfg:    cfg,
		client: client,
		ingest: ws.New(client, cfg.Symbol, cfg.Interval),
	}
}

// OnDisconnect registers a hook for stream drops.
func (s *Source) OnDisconnect(fn func(error)) { s.ingest.OnDisconnect = fn }

// History fetches the most recent candles of interval, oldest first. limit
// <= 0 uses the configured history limit. The newest candle may still be open.
func (s *Source) History(ctx context.Context, interval string, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	var ks []binance.Kline
	err := s.cfg.Retry.Do(ctx, "klines "+interval, func(ctx context.Context) error {
		var err error
		ks, err = s.client.Klines(ctx, s.cfg.Symbol, interval, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("history %s %s: %w", s.cfg.Symbol, interval, err)
	}
	if len(ks) < s.cfg.MinCandles {
		return nil, fmt.Errorf("%w: %s %s got %d candles, need %d",
			ErrDataUnavailable, s.cfg.Symbol, interval, len(ks), s.cfg.MinCandles)
	}
	out := make([]model.Candle, len(ks))
	for i, k := range ks {
		out[i] = ws.ToCandle(k)
	}
	return out, nil
}

// Stream pushes closed candles of the configured interval into out.
func (s *Source) Stream(ctx context.Context, out chan<- model.Candle) error {
	return s.ingest.Start(ctx, out)
}

// LastPrice returns the latest ticker price.
func (s *Source) LastPrice(ctx context.Context) (float64, error) {
	var p float64
	err := s.cfg.Retry.Do(ctx, "ticker", func(ctx context.Context) error {
		var err error
		p, err = s.client.TickerPrice(ctx, s.cfg.Symbol)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", s.cfg.Symbol, err)
	}
	return p, nil
}
