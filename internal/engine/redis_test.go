package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"

	"papertrader/internal/execution"
	"papertrader/internal/model"
	"papertrader/internal/portfolio"
	redisstore "papertrader/internal/store/redis"
)

func TestRun_RedisControlChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	writer := redisstore.NewWriter(client, "bot1")
	control := redisstore.NewBufferedWriter(writer, redisstore.NewCircuitBreaker(3, time.Second))
	dash := redisstore.NewDashboard(client, "bot1")
	keys := redisstore.KeysFor("bot1")

	// Left over from before the process started.
	mr.Set(keys.Command, "START")

	src := &fakeSource{candles: []model.Candle{candleAt(100)}}
	bot, err := New(Config{
		BotID:         "bot1",
		Symbol:        "BTCUSDT",
		IdlePoll:      5 * time.Millisecond,
		SupervisePoll: 5 * time.Millisecond,
	}, Deps{
		Source:   src,
		Control:  control,
		House:    writer,
		Strategy: &fakeStrategy{signal: model.Signal{Direction: model.DirectionNone}},
		Executor: execution.NewPaperExecutor(portfolio.New(portfolio.DefaultConfig(portfolio.MarginReserve)), nil),
		Notifier: &recordingNotifier{},
	})
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "idle status", func() bool { return mr.HGet(keys.Status, "state_message") == MsgWaiting })
	if src.streamCount() != 0 {
		t.Fatal("stale START must not start a session")
	}

	if err := dash.SendCommand(ctx, model.CommandStart); err != nil {
		t.Fatalf("send START: %v", err)
	}
	waitFor(t, "running status", func() bool { return mr.HGet(keys.Status, "running") == "1" })
	waitFor(t, "session stats", func() bool { return mr.HGet(keys.Stats, "balance") == "1000.00" })

	if err := dash.SendCommand(ctx, model.CommandStop); err != nil {
		t.Fatalf("send STOP: %v", err)
	}
	waitFor(t, "summary", func() bool {
		s, err := mr.Get(keys.Summary)
		return err == nil && s != ""
	})
	summary, _ := dash.Summary(ctx)
	if summary != "Final Balance 1000.00, Total PnL 0.00, Trades 0" {
		t.Errorf("unexpected summary %q", summary)
	}
	waitFor(t, "stopped status", func() bool { return mr.HGet(keys.Status, "running") == "0" })
}
