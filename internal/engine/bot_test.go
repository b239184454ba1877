package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"papertrader/internal/execution"
	"papertrader/internal/marketdata"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/portfolio"
	"papertrader/internal/retry"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	bot      *Bot
	source   *fakeSource
	control  *fakeControl
	strategy *fakeStrategy
	notifier *recordingNotifier
	prom     *metrics.Metrics
}

func newHarness(t *testing.T, risk portfolio.Config) *harness {
	t.Helper()
	return newJournaledHarness(t, risk, nil)
}

func newJournaledHarness(t *testing.T, risk portfolio.Config, journal model.TradeJournal) *harness {
	t.Helper()
	h := &harness{
		source:   &fakeSource{candles: []model.Candle{{OpenTime: t0, Open: 100, High: 100, Low: 100, Close: 100, Closed: true}}},
		control:  &fakeControl{},
		strategy: &fakeStrategy{signal: model.Signal{Direction: model.DirectionNone}},
		notifier: &recordingNotifier{},
		prom:     metrics.NewMetrics(prometheus.NewRegistry()),
	}
	exec := execution.NewPaperExecutor(portfolio.New(risk), journal)
	bot, err := New(Config{
		BotID:         "test",
		Symbol:        "BTCUSDT",
		PriceDecimals: 2,
		IdlePoll:      5 * time.Millisecond,
		SupervisePoll: 5 * time.Millisecond,
		ErrorDelay:    5 * time.Millisecond,
		StopTimeout:   time.Second,
	}, Deps{
		Source:   h.source,
		Control:  h.control,
		Strategy: h.strategy,
		Executor: exec,
		Notifier: h.notifier,
		Metrics:  h.prom,
	})
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}
	bot.now = func() time.Time { return t0 }
	h.bot = bot
	return h
}

// run starts Bot.Run and returns a stop function that waits for it to exit.
func (h *harness) run(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run returned %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("run did not return after cancel")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func longSignal() model.Signal {
	return model.Signal{Direction: model.DirectionLong, ReferencePrice: 100, Time: t0}
}

func candleAt(price float64) model.Candle {
	return model.Candle{OpenTime: t0, Open: price, High: price, Low: price, Close: price, Closed: true}
}

func TestOnCandle_EntersOnSignal(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.strategy.signal = longSignal()
	h.bot.account.StartSession("s1")

	d, err := h.bot.onCandle(context.Background(), candleAt(100))
	if err != nil {
		t.Fatalf("onCandle: %v", err)
	}
	if d.Action != portfolio.ActionEntered {
		t.Fatalf("expected entry, got %s", d.Action)
	}

	st, n := h.control.lastStats()
	if n != 1 || st.Side != model.DirectionLong || st.PriceDecimals != 2 {
		t.Errorf("unexpected stats publish (%d): %+v", n, st)
	}
	if !h.control.lastStatus().InPosition {
		t.Error("status should report the open position")
	}
	if got := testutil.ToFloat64(h.prom.EntriesTotal.WithLabelValues("LONG")); got != 1 {
		t.Errorf("expected one LONG entry, got %v", got)
	}
	if got := testutil.ToFloat64(h.prom.InPosition); got != 1 {
		t.Errorf("expected in-position gauge 1, got %v", got)
	}
}

func TestOnCandle_NoSignalStillPublishesStats(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.bot.account.StartSession("s1")

	d, err := h.bot.onCandle(context.Background(), candleAt(100))
	if err != nil || d.Action != portfolio.ActionNone {
		t.Fatalf("expected no action, got %s %v", d.Action, err)
	}
	if _, n := h.control.lastStats(); n != 1 {
		t.Errorf("expected stats after every decision, got %d publishes", n)
	}
	if got := testutil.ToFloat64(h.prom.SignalsTotal.WithLabelValues("NONE")); got != 1 {
		t.Errorf("expected NONE signal counted, got %v", got)
	}
}

func TestOnCandle_DataUnavailableSkips(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.strategy.signal = longSignal()
	h.source.historyErr = fmt.Errorf("%w: got 12 candles", marketdata.ErrDataUnavailable)
	h.bot.account.StartSession("s1")

	d, err := h.bot.onCandle(context.Background(), candleAt(100))
	if !errors.Is(err, marketdata.ErrDataUnavailable) {
		t.Fatalf("expected data unavailable, got %v", err)
	}
	if d.Action != portfolio.ActionSkipped {
		t.Errorf("expected skipped, got %s", d.Action)
	}
	if h.bot.account.Position().Open {
		t.Error("ledger must not move without data")
	}
	if _, n := h.control.lastStats(); n != 0 {
		t.Errorf("no stats expected for a skipped cycle, got %d", n)
	}
	if got := testutil.ToFloat64(h.prom.SkippedCycles.WithLabelValues(causeDataUnavailable)); got != 1 {
		t.Errorf("expected one data_unavailable skip, got %v", got)
	}
}

func TestOnCandle_TransportFailureSkips(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.source.historyErr = &retry.ExhaustedError{Op: "klines 5m", Attempts: 3, Last: errors.New("timeout")}
	h.bot.account.StartSession("s1")

	if _, err := h.bot.onCandle(context.Background(), candleAt(100)); !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if got := testutil.ToFloat64(h.prom.SkippedCycles.WithLabelValues(causeTransport)); got != 1 {
		t.Errorf("expected one transport skip, got %v", got)
	}
}

func TestOnCandle_InactiveSessionDoesNotFetch(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))

	d, _ := h.bot.onCandle(context.Background(), candleAt(100))
	if d.Action != portfolio.ActionSkipped {
		t.Errorf("expected skipped, got %s", d.Action)
	}
	if len(h.source.fetched()) != 0 {
		t.Error("inactive session must not fetch history")
	}
	if h.bot.markPrice() != 100 {
		t.Error("last close should still be tracked")
	}
}

func TestOnCandle_FetchesHigherWindow(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.strategy.higher = "15m"
	h.bot.account.StartSession("s1")

	h.bot.onCandle(context.Background(), candleAt(100))

	got := h.source.fetched()
	if len(got) != 2 || got[0] != "5m" || got[1] != "15m" {
		t.Fatalf("expected 5m then 15m fetch, got %v", got)
	}
	if len(h.strategy.inputs) != 1 || h.strategy.inputs[0].Higher == nil {
		t.Error("higher window not passed to the strategy")
	}
}

func TestRun_StartStopCycle(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	stop := h.run(t)
	defer stop()

	waitFor(t, "idle status", func() bool { return h.control.lastStatus().StateMessage == MsgWaiting })

	h.control.push(model.CommandStart)
	waitFor(t, "stream subscription", func() bool { return h.source.streamCount() == 1 })
	if !h.bot.account.SessionActive() {
		t.Fatal("session should be active after START")
	}

	h.control.push(model.CommandStop)
	waitFor(t, "summary", func() bool { return len(h.control.summaryList()) == 1 })

	if got := h.control.summaryList()[0]; got != "Final Balance 1000.00, Total PnL 0.00, Trades 0" {
		t.Errorf("unexpected summary %q", got)
	}
	waitFor(t, "final status", func() bool {
		st := h.control.lastStatus()
		return !st.Running && (st.StateMessage == MsgStopped || st.StateMessage == MsgWaiting)
	})
	if h.bot.account.SessionActive() {
		t.Error("session should be inactive after STOP")
	}
	if got := testutil.ToFloat64(h.prom.SessionsTotal); got != 1 {
		t.Errorf("expected one session, got %v", got)
	}
}

func TestRun_StopForceClosesAtTickerPrice(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.strategy.signal = longSignal()
	h.source.price = 101
	h.source.stream = func(ctx context.Context, out chan<- model.Candle, n int) error {
		if n == 1 {
			out <- candleAt(100)
		}
		<-ctx.Done()
		return nil
	}
	stop := h.run(t)
	defer stop()

	h.control.push(model.CommandStart)
	waitFor(t, "entry", func() bool { return h.bot.account.Position().Open })

	h.control.push(model.CommandStop)
	waitFor(t, "summary", func() bool { return len(h.control.summaryList()) == 1 })

	trades := h.bot.account.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(trades))
	}
	if trades[0].Reason != model.ReasonCommandStop || trades[0].ExitPrice != 101 {
		t.Errorf("unexpected close %+v", trades[0])
	}
	if got := h.control.summaryList()[0]; got != "Final Balance 1001.40, Total PnL 1.70, Trades 1" {
		t.Errorf("unexpected summary %q", got)
	}
	if got := testutil.ToFloat64(h.prom.ClosesTotal.WithLabelValues("COMMAND_STOP")); got != 1 {
		t.Errorf("expected one COMMAND_STOP close, got %v", got)
	}
}

func TestRun_DecisionInFlightAtStopCannotReopen(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	journal := &hookJournal{onRecord: func(rec model.TradeRecord) {
		if rec.Reason == model.ReasonCommandStop {
			once.Do(func() { close(release) })
		}
	}}
	h := newJournaledHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve), journal)
	h.bot.cfg.StopTimeout = 200 * time.Millisecond
	h.source.price = 101
	h.strategy.eval = func(n int) model.Signal {
		if n == 1 {
			return longSignal()
		}
		// Held until the session-end close has been journaled, then asks
		// for the opposite side.
		<-release
		return model.Signal{Direction: model.DirectionShort, ReferencePrice: 100, Time: t0}
	}
	h.source.stream = func(ctx context.Context, out chan<- model.Candle, n int) error {
		if n == 1 {
			out <- candleAt(100)
			for !h.bot.account.Position().Open {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Millisecond):
				}
			}
			out <- candleAt(100)
		}
		<-ctx.Done()
		return nil
	}
	stop := h.run(t)
	defer stop()

	h.control.push(model.CommandStart)
	waitFor(t, "second evaluation", func() bool { return h.strategy.evaluations() == 2 })

	h.control.push(model.CommandStop)
	waitFor(t, "summary", func() bool { return len(h.control.summaryList()) == 1 })
	waitFor(t, "late decision dropped", func() bool {
		return testutil.ToFloat64(h.prom.SkippedCycles.WithLabelValues(causeSessionEnded)) == 1
	})

	if pos := h.bot.account.Position(); pos.Open {
		t.Fatalf("position opened after session end: %+v", pos)
	}
	if h.bot.account.SessionActive() {
		t.Error("session should be inactive")
	}
	trades := h.bot.account.Trades()
	if len(trades) != 1 || trades[0].Reason != model.ReasonCommandStop {
		t.Fatalf("expected only the COMMAND_STOP close, got %+v", trades)
	}
	if st := h.control.lastStatus(); st.Running || st.InPosition {
		t.Errorf("final status should be stopped and flat, got %+v", st)
	}
	if got := h.control.summaryList()[0]; !strings.HasSuffix(got, "Trades 1") {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestRun_ForceCloseFallsBackToLastClose(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.strategy.signal = longSignal()
	h.source.priceErr = errors.New("ticker down")
	h.source.stream = func(ctx context.Context, out chan<- model.Candle, n int) error {
		if n == 1 {
			out <- candleAt(100)
		}
		<-ctx.Done()
		return nil
	}
	stop := h.run(t)
	defer stop()

	h.control.push(model.CommandStart)
	waitFor(t, "entry", func() bool { return h.bot.account.Position().Open })
	h.control.push(model.CommandStop)
	waitFor(t, "summary", func() bool { return len(h.control.summaryList()) == 1 })

	trades := h.bot.account.Trades()
	if len(trades) != 1 || trades[0].ExitPrice != 100 {
		t.Fatalf("expected close at the last candle close, got %+v", trades)
	}
}

func TestRun_RestartsDeadStream(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.source.stream = func(ctx context.Context, out chan<- model.Candle, n int) error {
		if n == 1 {
			return errors.New("connection reset")
		}
		<-ctx.Done()
		return nil
	}
	stop := h.run(t)
	defer stop()

	h.control.push(model.CommandStart)
	waitFor(t, "restart", func() bool { return h.source.streamCount() >= 2 })

	if got := testutil.ToFloat64(h.prom.StreamRestarts); got != 1 {
		t.Errorf("expected one restart, got %v", got)
	}
	if !h.bot.account.SessionActive() {
		t.Error("a stream restart must not end the session")
	}
	waitFor(t, "restart alert", func() bool {
		for _, title := range h.notifier.titles() {
			if strings.Contains(title, "stream restarted") {
				return true
			}
		}
		return false
	})
}

func TestRun_SessionEndJoinsRestartedStream(t *testing.T) {
	var mu sync.Mutex
	returned := false
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.bot.cfg.StopTimeout = time.Second
	h.source.stream = func(ctx context.Context, out chan<- model.Candle, n int) error {
		if n == 1 {
			return errors.New("connection reset")
		}
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		returned = true
		mu.Unlock()
		return nil
	}
	stop := h.run(t)
	defer stop()

	h.control.push(model.CommandStart)
	waitFor(t, "restart", func() bool { return h.source.streamCount() >= 2 })

	h.control.push(model.CommandStop)
	waitFor(t, "summary", func() bool { return len(h.control.summaryList()) == 1 })

	mu.Lock()
	defer mu.Unlock()
	if !returned {
		t.Error("session ended before the restarted stream returned")
	}
}

func TestRun_DrawdownHaltEndsSession(t *testing.T) {
	risk := portfolio.DefaultConfig(portfolio.MarginReserve)
	risk.MaxDrawdown = 0 // any balance is at the floor
	h := newHarness(t, risk)
	h.strategy.signal = longSignal()
	h.source.stream = func(ctx context.Context, out chan<- model.Candle, n int) error {
		if n == 1 {
			out <- candleAt(100)
		}
		<-ctx.Done()
		return nil
	}
	stop := h.run(t)
	defer stop()

	h.control.push(model.CommandStart)
	waitFor(t, "summary", func() bool { return len(h.control.summaryList()) == 1 })

	if got := testutil.ToFloat64(h.prom.RejectionsTotal.WithLabelValues(string(portfolio.RejectDrawdown))); got != 1 {
		t.Errorf("expected one drawdown rejection, got %v", got)
	}
	waitFor(t, "halt status", func() bool {
		h.control.mu.Lock()
		defer h.control.mu.Unlock()
		for _, st := range h.control.statuses {
			if st.StateMessage == MsgHalted {
				return true
			}
		}
		return false
	})
}

func TestRun_RecoversFromPanickingCycle(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.control.pollPanics = 1
	h.control.push(model.CommandStart)

	stop := h.run(t)
	defer stop()

	waitFor(t, "session after recovery", func() bool { return h.source.streamCount() == 1 })
}

func TestReport_SendsAlert(t *testing.T) {
	h := newHarness(t, portfolio.DefaultConfig(portfolio.MarginReserve))
	h.bot.report(context.Background())
	waitFor(t, "report alert", func() bool {
		titles := h.notifier.titles()
		return len(titles) == 1 && strings.Contains(titles[0], "periodic report")
	})
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	exec := execution.NewPaperExecutor(portfolio.New(portfolio.DefaultConfig(portfolio.MarginReserve)), nil)
	_, err := New(Config{ReportSchedule: "every now and then"}, Deps{
		Source:   &fakeSource{},
		Control:  &fakeControl{},
		Strategy: &fakeStrategy{},
		Executor: exec,
	})
	if err == nil {
		t.Fatal("expected error for an invalid cron schedule")
	}
}
