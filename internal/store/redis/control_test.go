package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"

	"papertrader/internal/model"
)

func newTestWriter(t *testing.T) (*Writer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWriter(client, "bot1"), mr
}

func TestPollCommand_ConsumesOnce(t *testing.T) {
	w, mr := newTestWriter(t)
	ctx := context.Background()

	mr.Set("command:bot1", "STOP")
	cmd, err := w.PollCommand(ctx)
	if err != nil || cmd != model.CommandStop {
		t.Fatalf("expected STOP, got %q %v", cmd, err)
	}
	if mr.Exists("command:bot1") {
		t.Error("command key must be cleared on consumption")
	}

	cmd, err = w.PollCommand(ctx)
	if err != nil || cmd != model.CommandNone {
		t.Errorf("second poll: expected none, got %q %v", cmd, err)
	}
}

func TestPollCommand_UnknownIsConsumed(t *testing.T) {
	w, mr := newTestWriter(t)

	mr.Set("command:bot1", "RESTART")
	cmd, err := w.PollCommand(context.Background())
	if err != nil || cmd != model.CommandNone {
		t.Fatalf("expected none, got %q %v", cmd, err)
	}
	if mr.Exists("command:bot1") {
		t.Error("unknown command must be consumed")
	}
}

func TestClearStaleCommand(t *testing.T) {
	w, mr := newTestWriter(t)
	ctx := context.Background()

	mr.Set("command:bot1", "STOP")
	if cleared, _ := w.ClearStaleCommand(ctx); cleared {
		t.Error("STOP must not be cleared")
	}
	mr.Set("command:bot1", "START")
	cleared, err := w.ClearStaleCommand(ctx)
	if err != nil || !cleared {
		t.Fatalf("expected START cleared, got %v %v", cleared, err)
	}
	if mr.Exists("command:bot1") {
		t.Error("key still present")
	}
}

func TestStartTime(t *testing.T) {
	w, mr := newTestWriter(t)
	ctx := context.Background()

	if _, ok, err := w.StartTime(ctx); ok || err != nil {
		t.Errorf("missing key: expected ok=false, got %v %v", ok, err)
	}
	mr.Set("bot_start_time:bot1", "1700000000.5")
	st, ok, err := w.StartTime(ctx)
	if err != nil || !ok {
		t.Fatalf("expected start time, got %v %v", ok, err)
	}
	if st.UnixMilli() != 1700000000500 {
		t.Errorf("unexpected start time %v", st)
	}
}

func TestPublishStatus(t *testing.T) {
	w, mr := newTestWriter(t)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0)

	err := w.PublishStatus(ctx, model.StatusRecord{LastUpdate: ts, StateMessage: "Waiting for START command"})
	if err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}
	if got := mr.HGet("bot_status:bot1", "state_message"); got != "Waiting for START command" {
		t.Errorf("unexpected state_message %q", got)
	}

	w.PublishStatus(ctx, model.StatusRecord{Running: true, InPosition: true, LastUpdate: ts})
	if mr.HGet("bot_status:bot1", "running") != "1" || mr.HGet("bot_status:bot1", "in_position") != "1" {
		t.Error("expected running and in_position flags")
	}
	if mr.HGet("bot_status:bot1", "last_update") != "1700000000" {
		t.Errorf("unexpected last_update %q", mr.HGet("bot_status:bot1", "last_update"))
	}
	if mr.HGet("bot_status:bot1", "state_message") != "" {
		t.Error("state_message must be removed when empty")
	}
}

func TestPublishStats_FixedPrecision(t *testing.T) {
	w, mr := newTestWriter(t)
	rec := model.StatsRecord{
		Balance:       1003.4,
		Equity:        1003.456,
		UnrealizedPnL: -0.005,
		TradesCount:   3,
		SessionPnL:    3.7,
		CurrentPrice:  0.123456,
		Side:          model.DirectionShort,
		EntryPrice:    0.1234,
		PriceDecimals: 4,
	}
	if err := w.PublishStats(context.Background(), rec); err != nil {
		t.Fatalf("PublishStats: %v", err)
	}
	want := map[string]string{
		"balance":                "1003.40",
		"equity":                 "1003.46",
		"pnl_percent_unrealized": "0.00",
		"trades_count":           "3",
		"session_pnl":            "3.70",
		"current_price":          "0.1235",
		"entry_price":            "0.1234",
		"is_long":                "0",
		"position_side":          "SHORT",
	}
	for k, v := range want {
		if got := mr.HGet("bot_stats:bot1", k); got != v {
			t.Errorf("%s: expected %q, got %q", k, v, got)
		}
	}
}

func TestPublishSummary(t *testing.T) {
	w, mr := newTestWriter(t)
	text := model.SessionSummary{FinalBalance: 1003.4, TotalPnL: 3.7, Trades: 1}.Text()
	if err := w.PublishSummary(context.Background(), text); err != nil {
		t.Fatalf("PublishSummary: %v", err)
	}
	got, _ := mr.Get("bot_summary:bot1")
	if got != "Final Balance 1003.40, Total PnL 3.70, Trades 1" {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestBufferedWriter_KeepsLatestWhileDown(t *testing.T) {
	w, mr := newTestWriter(t)
	cb := NewCircuitBreaker(1, time.Hour)
	bw := NewBufferedWriter(w, cb)
	ctx := context.Background()

	mr.SetError("LOADING")
	err := bw.PublishStats(ctx, model.StatsRecord{Balance: 1})
	if err == nil {
		t.Fatal("expected the failing write to surface")
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected breaker open, got %v", cb.CurrentState())
	}
	// Breaker open: buffered silently, newer record supersedes older.
	if err := bw.PublishStats(ctx, model.StatsRecord{Balance: 2}); err != nil {
		t.Errorf("expected nil while open, got %v", err)
	}
	bw.PublishSummary(ctx, "done")
	if n := bw.PendingCount(); n != 2 {
		t.Fatalf("expected 2 pending kinds, got %d", n)
	}

	mr.SetError("")
	cb.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := bw.PublishStatus(ctx, model.StatusRecord{Running: true, LastUpdate: time.Now()}); err != nil {
		t.Fatalf("trial write: %v", err)
	}
	if n := bw.PendingCount(); n != 0 {
		t.Errorf("expected pending flushed, got %d", n)
	}
	if got := mr.HGet("bot_stats:bot1", "balance"); got != "2.00" {
		t.Errorf("expected latest stats flushed, got balance %q", got)
	}
	if got, _ := mr.Get("bot_summary:bot1"); got != "done" {
		t.Errorf("expected summary flushed, got %q", got)
	}
}

func TestBufferedWriter_PollBypassesBreaker(t *testing.T) {
	w, mr := newTestWriter(t)
	cb := NewCircuitBreaker(1, time.Hour)
	bw := NewBufferedWriter(w, cb)
	cb.Execute(func() error { return errors.New("down") })

	mr.Set("command:bot1", "STOP")
	cmd, err := bw.PollCommand(context.Background())
	if err != nil || cmd != model.CommandStop {
		t.Errorf("expected STOP despite open breaker, got %q %v", cmd, err)
	}
}
