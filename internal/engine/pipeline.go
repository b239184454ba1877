package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"papertrader/internal/indicator"
	"papertrader/internal/model"
	"papertrader/internal/notification"
	"papertrader/internal/portfolio"
)

// pipeline serializes candle events: one decision at a time per session.
func (b *Bot) pipeline(ctx context.Context, in <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-in:
			b.onCandle(ctx, c)
		}
	}
}

// onCandle handles one closed candle: refetch the windows, compute the
// snapshot, derive the signal, let the executor decide and publish stats.
// A cycle without data returns the cause and leaves the ledger untouched.
func (b *Bot) onCandle(ctx context.Context, c model.Candle) (d portfolio.Decision, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
			b.prom.SkippedCycles.WithLabelValues(causeOther).Inc()
			log.Printf("[bot] %v", err)
		}
	}()

	b.mu.Lock()
	b.lastClose = c.Close
	b.mu.Unlock()
	b.prom.CandlesTotal.Inc()
	b.health.SetLastCandleTime(c.OpenTime)

	if !b.account.SessionActive() {
		return portfolio.Decision{Action: portfolio.ActionSkipped}, nil
	}

	in, err := b.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return portfolio.Decision{Action: portfolio.ActionSkipped}, ctx.Err()
		}
		cause := skipCause(err)
		b.prom.SkippedCycles.WithLabelValues(cause).Inc()
		log.Printf("[bot] no data this cycle (%s): %v", cause, err)
		return portfolio.Decision{Action: portfolio.ActionSkipped}, err
	}

	sig, _, err := b.strategy.Evaluate(in)
	if err != nil {
		b.prom.SkippedCycles.WithLabelValues(causeIndicator).Inc()
		log.Printf("[bot] evaluate %s: %v", b.strategy.Name(), err)
		return portfolio.Decision{Action: portfolio.ActionSkipped}, err
	}
	if ctx.Err() != nil {
		b.prom.SkippedCycles.WithLabelValues(causeSessionEnded).Inc()
		return portfolio.Decision{Action: portfolio.ActionSkipped}, ctx.Err()
	}
	if sig.None() {
		sig.Direction = model.DirectionNone
	}
	b.prom.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()

	d = b.executor.Execute(sig, c.Close, b.now())
	b.record(ctx, d)

	b.publishStats(ctx, c.Close)
	if d.Action == portfolio.ActionEntered || d.Action == portfolio.ActionClosed {
		b.publishStatus(ctx, true, MsgRunning)
	}
	b.prom.PipelineDur.Observe(time.Since(start).Seconds())
	return d, nil
}

// fetch pulls a fresh working window and, when the strategy reads one, the
// higher-timeframe window.
func (b *Bot) fetch(ctx context.Context) (indicator.Input, error) {
	working, higher := b.strategy.Intervals()

	var in indicator.Input
	var err error
	in.Working, err = b.source.History(ctx, working, b.cfg.HistoryLimit)
	if err != nil {
		return in, err
	}
	if higher != "" {
		in.Higher, err = b.source.History(ctx, higher, b.cfg.HistoryLimit)
		if err != nil {
			return in, err
		}
	}
	return in, nil
}

func (b *Bot) record(ctx context.Context, d portfolio.Decision) {
	switch d.Action {
	case portfolio.ActionEntered:
		b.prom.EntriesTotal.WithLabelValues(string(d.Position.Side)).Inc()
		notification.SendAsync(context.WithoutCancel(ctx), b.notifier, notification.EntryAlert(b.cfg.Symbol, d.Position))
	case portfolio.ActionClosed:
		b.recordClose(ctx, *d.Trade)
	case portfolio.ActionRejected:
		b.prom.RejectionsTotal.WithLabelValues(string(d.Reject.Reason)).Inc()
	}
}

func (b *Bot) recordClose(ctx context.Context, rec model.TradeRecord) {
	b.prom.ClosesTotal.WithLabelValues(string(rec.Reason)).Inc()
	notification.SendAsync(context.WithoutCancel(ctx), b.notifier, notification.CloseAlert(b.cfg.Symbol, rec))
}
