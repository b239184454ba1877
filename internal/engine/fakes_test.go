package engine

import (
	"context"
	"sync"

	"papertrader/internal/indicator"
	"papertrader/internal/model"
	"papertrader/internal/notification"
)

type fakeSource struct {
	mu         sync.Mutex
	candles    []model.Candle
	historyErr error
	price      float64
	priceErr   error
	intervals  []string
	streams    int

	// stream is called for each subscription with its 1-based ordinal.
	// nil blocks until the subscription is cancelled.
	stream func(ctx context.Context, out chan<- model.Candle, n int) error
}

func (f *fakeSource) History(_ context.Context, interval string, _ int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervals = append(f.intervals, interval)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]model.Candle(nil), f.candles...), nil
}

func (f *fakeSource) Stream(ctx context.Context, out chan<- model.Candle) error {
	f.mu.Lock()
	f.streams++
	n := f.streams
	fn := f.stream
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, out, n)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeSource) LastPrice(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.priceErr
}

func (f *fakeSource) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

func (f *fakeSource) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.intervals...)
}

type fakeControl struct {
	mu         sync.Mutex
	commands   []model.Command
	statuses   []model.StatusRecord
	stats      []model.StatsRecord
	summaries  []string
	pollPanics int
}

func (f *fakeControl) push(cmd model.Command) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
}

func (f *fakeControl) PollCommand(context.Context) (model.Command, error) {
	f.mu.Lock()
	if f.pollPanics > 0 {
		f.pollPanics--
		f.mu.Unlock()
		panic("poll exploded")
	}
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return model.CommandNone, nil
	}
	cmd := f.commands[0]
	f.commands = f.commands[1:]
	return cmd, nil
}

func (f *fakeControl) PublishStatus(_ context.Context, rec model.StatusRecord) error {
	f.mu.Lock()
	f.statuses = append(f.statuses, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeControl) PublishStats(_ context.Context, rec model.StatsRecord) error {
	f.mu.Lock()
	f.stats = append(f.stats, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeControl) PublishSummary(_ context.Context, text string) error {
	f.mu.Lock()
	f.summaries = append(f.summaries, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeControl) lastStatus() model.StatusRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return model.StatusRecord{}
	}
	return f.statuses[len(f.statuses)-1]
}

func (f *fakeControl) lastStats() (model.StatsRecord, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.stats) == 0 {
		return model.StatsRecord{}, 0
	}
	return f.stats[len(f.stats)-1], len(f.stats)
}

func (f *fakeControl) summaryList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.summaries...)
}

type fakeStrategy struct {
	mu     sync.Mutex
	signal model.Signal
	higher string
	err    error
	inputs []indicator.Input

	// eval, when set, replaces signal for the n-th evaluation (1-based) and
	// may block.
	eval func(n int) model.Signal
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Intervals() (string, string) { return "5m", f.higher }

func (f *fakeStrategy) Evaluate(in indicator.Input) (model.Signal, indicator.Snapshot, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	n, eval, sig, err := len(f.inputs), f.eval, f.signal, f.err
	f.mu.Unlock()
	if eval != nil {
		sig = eval(n)
	}
	return sig, indicator.Snapshot{}, err
}

func (f *fakeStrategy) evaluations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// hookJournal calls onRecord for every journaled trade.
type hookJournal struct {
	onRecord func(model.TradeRecord)
}

func (j *hookJournal) RecordTrade(rec model.TradeRecord) error {
	if j.onRecord != nil {
		j.onRecord(rec)
	}
	return nil
}

func (j *hookJournal) Close() error { return nil }

type recordingNotifier struct {
	mu  sync.Mutex
	got []notification.Alert
}

func (r *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	r.got = append(r.got, a)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, a := range r.got {
		out[i] = a.Title
	}
	return out
}
