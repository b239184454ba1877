package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"papertrader/internal/model"
)

func TestDashboard_StartResetsSession(t *testing.T) {
	w, mr := newTestWriter(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	d := NewDashboard(client, "bot1")
	now := time.Unix(1700000000, 0)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	w.PublishSummary(ctx, "old")
	w.PublishStats(ctx, model.StatsRecord{Balance: 1})

	if err := d.SendCommand(ctx, model.CommandStart); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if s, _ := d.Summary(ctx); s != "" {
		t.Errorf("expected summary cleared, got %q", s)
	}
	if st, _ := d.Stats(ctx); len(st) != 0 {
		t.Errorf("expected stats cleared, got %v", st)
	}

	// The engine sees the command and the start time.
	if cmd, _ := w.PollCommand(ctx); cmd != model.CommandStart {
		t.Errorf("expected START, got %q", cmd)
	}
	st, ok, _ := w.StartTime(ctx)
	if !ok || !st.Equal(now) {
		t.Errorf("unexpected start time %v %v", st, ok)
	}

	now = now.Add(90 * time.Second)
	if rt, _ := d.Runtime(ctx); rt != 90*time.Second {
		t.Errorf("expected runtime 90s, got %v", rt)
	}
}

func TestDashboard_RejectsUnknownCommand(t *testing.T) {
	_, mr := newTestWriter(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := NewDashboard(client, "bot1").SendCommand(context.Background(), model.Command("PAUSE")); err == nil {
		t.Error("expected error")
	}
}
