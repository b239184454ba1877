// Package engine supervises trading sessions: it waits for START on the
// control channel, runs the candle stream and the decision pipeline, restarts
// dead subscriptions, and tears the session down on STOP or a drawdown halt.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"papertrader/internal/execution"
	"papertrader/internal/indicator"
	"papertrader/internal/logger"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/notification"
	"papertrader/internal/portfolio"
)

// State messages published in the status hash.
const (
	MsgWaiting  = "Waiting for START command"
	MsgRunning  = "Running"
	MsgStopped  = "Stopped by command"
	MsgHalted   = "Max drawdown reached"
	MsgShutdown = "Shutting down"
)

// Config holds supervisor settings. Zero durations take the defaults.
type Config struct {
	BotID          string
	Symbol         string
	PriceDecimals  int32
	HistoryLimit   int           // candles per fetch, 0 = source default
	IdlePoll       time.Duration // START poll while idle, default 1s
	SupervisePoll  time.Duration // STOP/halt/liveness check, default 1s
	ErrorDelay     time.Duration // pause after a failed idle cycle, default 5s
	StopTimeout    time.Duration // budget for session teardown, default 15s
	ReportSchedule string        // cron schedule for the periodic report, "" disables
}

// SignalGenerator is the strategy as seen by the pipeline.
type SignalGenerator interface {
	Name() string
	Intervals() (working, higher string)
	Evaluate(in indicator.Input) (model.Signal, indicator.Snapshot, error)
}

// Housekeeper is the optional bookkeeping side of the control channel.
type Housekeeper interface {
	ClearStaleCommand(ctx context.Context) (bool, error)
	StartTime(ctx context.Context) (time.Time, bool, error)
}

// Deps are the collaborators of a Bot. Source, Control, Strategy and
// Executor are required.
type Deps struct {
	Source   model.CandleSource
	Control  model.ControlChannel
	House    Housekeeper
	Strategy SignalGenerator
	Executor *execution.PaperExecutor
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
}

// Bot is one engine instance trading one symbol.
type Bot struct {
	cfg      Config
	source   model.CandleSource
	control  model.ControlChannel
	house    Housekeeper
	strategy SignalGenerator
	executor *execution.PaperExecutor
	account  *portfolio.Account
	notifier notification.Notifier
	prom     *metrics.Metrics
	health   *metrics.HealthStatus
	now      func() time.Time

	mu           sync.Mutex
	lastClose    float64
	sessionStart time.Time
}

// New validates cfg and builds a Bot.
func New(cfg Config, deps Deps) (*Bot, error) {
	if deps.Source == nil || deps.Control == nil || deps.Strategy == nil || deps.Executor == nil {
		return nil, errors.New("engine: source, control, strategy and executor are required")
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = time.Second
	}
	if cfg.SupervisePoll <= 0 {
		cfg.SupervisePoll = time.Second
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 15 * time.Second
	}
	if cfg.ReportSchedule != "" {
		if _, err := cron.ParseStandard(cfg.ReportSchedule); err != nil {
			return nil, fmt.Errorf("engine: report schedule %q: %w", cfg.ReportSchedule, err)
		}
	}

	b := &Bot{
		cfg:      cfg,
		source:   deps.Source,
		control:  deps.Control,
		house:    deps.House,
		strategy: deps.Strategy,
		executor: deps.Executor,
		account:  deps.Executor.Account(),
		notifier: deps.Notifier,
		prom:     deps.Metrics,
		health:   deps.Health,
		now:      time.Now,
	}
	if b.notifier == nil {
		b.notifier = notification.NewLogNotifier()
	}
	if b.prom == nil {
		b.prom = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if b.health == nil {
		b.health = metrics.NewHealthStatus()
	}
	return b, nil
}

// Account returns the ledger the bot trades against.
func (b *Bot) Account() *portfolio.Account { return b.account }

// Run waits for START commands and runs one session per START until ctx is
// cancelled. A failing or panicking idle cycle is logged and retried after
// ErrorDelay; it never ends the loop.
func (b *Bot) Run(ctx context.Context) error {
	if b.house != nil {
		cleared, err := b.house.ClearStaleCommand(ctx)
		switch {
		case err != nil:
			log.Printf("[bot] clear stale command: %v", err)
		case cleared:
			log.Printf("[bot] dropped a START left over from a previous run")
		}
	}
	log.Printf("[bot] %s %s (%s) ready, waiting for START", b.cfg.BotID, b.cfg.Symbol, b.strategy.Name())

	for {
		if err := b.idleCycle(ctx); err != nil {
			log.Printf("[bot] idle cycle failed: %v (retrying in %s)", err, b.cfg.ErrorDelay)
			if !sleepCtx(ctx, b.cfg.ErrorDelay) {
				return nil
			}
			continue
		}
		if !sleepCtx(ctx, b.cfg.IdlePoll) {
			return nil
		}
	}
}

func (b *Bot) idleCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			if b.account.SessionActive() {
				b.account.StopSession()
			}
		}
	}()

	cmd, err := b.control.PollCommand(ctx)
	if err != nil {
		return fmt.Errorf("poll command: %w", err)
	}
	if cmd == model.CommandStart {
		return b.runSession(ctx)
	}
	b.publishStatus(ctx, false, MsgWaiting)
	return nil
}

// runSession runs one START..STOP cycle.
func (b *Bot) runSession(ctx context.Context) error {
	id := uuid.NewString()
	ctx = logger.WithSessionID(ctx, id)
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.account.StartSession(id)
	b.mu.Lock()
	b.sessionStart = b.now()
	b.mu.Unlock()
	b.prom.SessionsTotal.Inc()
	b.prom.SessionActive.Set(1)
	b.health.SetSessionActive(true)

	slog.Info("session started", append([]any{
		slog.String("component", "bot"),
		slog.String("symbol", b.cfg.Symbol),
		slog.String("strategy", b.strategy.Name()),
	}, logger.SessionAttrs(ctx)...)...)

	b.publishStatus(ctx, true, MsgRunning)
	b.publishStats(ctx, b.markPrice())

	candles := make(chan model.Candle, 16)
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		b.pipeline(sessCtx, candles)
	}()

	stopReport := b.startReport(sessCtx)
	msg := b.supervise(sessCtx, candles)
	stopReport()
	cancel()

	// No entry may land between the force close and the end of the session.
	b.account.StopSession()
	select {
	case <-pipeDone:
	case <-time.After(b.cfg.StopTimeout):
		log.Printf("[bot] pipeline still busy after %s, ending session anyway", b.cfg.StopTimeout)
	}

	return b.endSession(ctx, msg)
}

// supervise blocks until the session must end and returns the state message
// to publish. The stream is restarted on the first check after it dies.
func (b *Bot) supervise(ctx context.Context, candles chan<- model.Candle) string {
	stream := b.startStream(ctx, candles)
	defer func() { stream.stop(b.cfg.StopTimeout) }()

	ticker := time.NewTicker(b.cfg.SupervisePoll)
	defer ticker.Stop()

	var dead error
	for {
		select {
		case <-ctx.Done():
			return MsgShutdown

		case err := <-stream.done:
			stream.finished = true
			if err == nil {
				err = errors.New("stream ended")
			}
			dead = fmt.Errorf("%w: %v", ErrSubscriptionDead, err)
			b.health.SetStreamConnected(false)

		case <-ticker.C:
			cmd, err := b.control.PollCommand(ctx)
			switch {
			case err != nil:
				log.Printf("[bot] poll command: %v", err)
			case cmd == model.CommandStop:
				log.Printf("[bot] STOP received")
				return MsgStopped
			case cmd == model.CommandStart:
				log.Printf("[bot] START ignored, session already running")
			}

			if b.account.Halted() {
				st := b.account.State()
				log.Printf("[bot] drawdown gate tripped, balance=%.2f initial=%.2f", st.Balance, st.InitialBalance)
				notification.SendAsync(context.WithoutCancel(ctx), b.notifier,
					notification.HaltAlert(b.cfg.Symbol, st.Balance, st.InitialBalance))
				return MsgHalted
			}

			if dead != nil {
				log.Printf("[bot] %v, restarting", dead)
				b.prom.StreamRestarts.Inc()
				notification.SendAsync(context.WithoutCancel(ctx), b.notifier,
					notification.StreamRestartAlert(b.cfg.Symbol, dead))
				stream.cancel()
				stream = b.startStream(ctx, candles)
				dead = nil
			}
		}
	}
}

type streamHandle struct {
	cancel   context.CancelFunc
	done     chan error
	finished bool
}

func (b *Bot) startStream(ctx context.Context, out chan<- model.Candle) *streamHandle {
	sctx, cancel := context.WithCancel(ctx)
	h := &streamHandle{cancel: cancel, done: make(chan error, 1)}
	b.health.SetStreamConnected(true)
	go func() {
		h.done <- b.source.Stream(sctx, out)
	}()
	return h
}

func (h *streamHandle) stop(timeout time.Duration) {
	h.cancel()
	if h.finished {
		return
	}
	select {
	case <-h.done:
	case <-time.After(timeout):
		log.Printf("[bot] stream did not stop within %s", timeout)
	}
	h.finished = true
}

// endSession force-closes any position, publishes the summary and the final
// status. It runs on a context detached from ctx's cancellation so that a
// process shutdown still leaves a consistent record behind.
func (b *Bot) endSession(ctx context.Context, msg string) error {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.StopTimeout)
	defer cancel()

	b.health.SetStreamConnected(false)

	b.account.StopSession()
	price, err := b.finalPrice(tctx)
	if err != nil && b.account.Position().Open {
		log.Printf("[bot] force close without a market price: %v", err)
	}
	if rec, ok := b.executor.ForceClose(price, model.ReasonCommandStop, b.now()); ok {
		b.recordClose(tctx, rec)
	}

	sum := b.account.Summary()
	sum.Runtime = b.runtime(tctx)
	text := sum.Text()
	if err := b.control.PublishSummary(tctx, text); err != nil {
		b.publishFailed("summary", err)
	}

	slog.Info("session ended", append([]any{
		slog.String("component", "bot"),
		slog.String("reason", msg),
		slog.String("summary", text),
		slog.Duration("runtime", sum.Runtime),
	}, logger.SessionAttrs(ctx)...)...)
	notification.SendAsync(context.WithoutCancel(ctx), b.notifier, notification.SummaryAlert(b.cfg.Symbol, sum))

	b.publishStats(tctx, price)
	b.publishStatus(tctx, false, msg)

	b.prom.SessionActive.Set(0)
	b.health.SetSessionActive(false)
	return nil
}

// finalPrice prices the session-end close: the ticker first, the last
// streamed close when the ticker is unreachable.
func (b *Bot) finalPrice(ctx context.Context) (float64, error) {
	p, err := b.source.LastPrice(ctx)
	if err == nil && p > 0 {
		return p, nil
	}
	if last := b.markPrice(); last > 0 {
		log.Printf("[bot] ticker unavailable (%v), using last close %.4f", err, last)
		return last, nil
	}
	if err == nil {
		err = fmt.Errorf("ticker returned %v", p)
	}
	return b.account.Position().EntryPrice, fmt.Errorf("%w: %v", ErrNoPrice, err)
}

func (b *Bot) runtime(ctx context.Context) time.Duration {
	if b.house != nil {
		t, ok, err := b.house.StartTime(ctx)
		if err != nil {
			log.Printf("[bot] read start time: %v", err)
		}
		if ok {
			return b.now().Sub(t)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Sub(b.sessionStart)
}

// markPrice is the latest streamed close, or the entry price while no candle
// has been seen.
func (b *Bot) markPrice() float64 {
	b.mu.Lock()
	last := b.lastClose
	b.mu.Unlock()
	if last > 0 {
		return last
	}
	return b.account.Position().EntryPrice
}

func (b *Bot) startReport(ctx context.Context) (stop func()) {
	if b.cfg.ReportSchedule == "" {
		return func() {}
	}
	c := cron.New()
	if _, err := c.AddFunc(b.cfg.ReportSchedule, func() { b.report(ctx) }); err != nil {
		log.Printf("[bot] report schedule: %v", err)
		return func() {}
	}
	c.Start()
	return func() { <-c.Stop().Done() }
}

// report logs and sends the periodic session report.
func (b *Bot) report(ctx context.Context) {
	st := b.stats(b.markPrice())
	log.Printf("[bot] report: balance=%.2f equity=%.2f session_pnl=%.2f trades=%d side=%s",
		st.Balance, st.Equity, st.SessionPnL, st.TradesCount, st.Side)
	notification.SendAsync(context.WithoutCancel(ctx), b.notifier, notification.ReportAlert(b.cfg.Symbol, st))
}

func (b *Bot) stats(price float64) model.StatsRecord {
	rec := b.account.Stats(price)
	rec.PriceDecimals = b.cfg.PriceDecimals
	return rec
}

func (b *Bot) publishStatus(ctx context.Context, running bool, msg string) {
	rec := model.StatusRecord{
		Running:      running,
		InPosition:   b.account.Position().Open,
		LastUpdate:   b.now(),
		StateMessage: msg,
	}
	if err := b.control.PublishStatus(ctx, rec); err != nil {
		b.publishFailed("status", err)
	}
}

func (b *Bot) publishStats(ctx context.Context, price float64) {
	rec := b.stats(price)
	b.prom.Balance.Set(rec.Balance)
	b.prom.Equity.Set(rec.Equity)
	if rec.Side == model.DirectionNone {
		b.prom.InPosition.Set(0)
	} else {
		b.prom.InPosition.Set(1)
	}
	if err := b.control.PublishStats(ctx, rec); err != nil {
		b.publishFailed("stats", err)
	}
}

func (b *Bot) publishFailed(kind string, err error) {
	b.prom.PublishErrors.WithLabelValues(kind).Inc()
	log.Printf("[bot] publish %s: %v", kind, err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
