package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"papertrader/internal/model"
)

// Projection kinds kept while the breaker is open.
const (
	kindStatus  = "status"
	kindStats   = "stats"
	kindSummary = "summary"
)

// BufferedWriter wraps a Writer with a circuit breaker. A projection that
// cannot be written is kept as the latest pending record of its kind and
// replayed after the next successful write; older records of the same kind
// are superseded, never queued.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker

	mu      sync.Mutex
	pending map[string]func(ctx context.Context) error

	// Callbacks
	OnBuffer func(kind string) // called when a record is kept for later
	OnFlush  func(count int)   // called after pending records were replayed
}

var _ model.ControlChannel = (*BufferedWriter)(nil)

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(w *Writer, cb *CircuitBreaker) *BufferedWriter {
	return &BufferedWriter{
		writer:  w,
		cb:      cb,
		pending: make(map[string]func(ctx context.Context) error),
	}
}

// PollCommand reads and clears the pending command. Reads bypass the
// breaker so that a STOP is never held back by a failing publish path.
func (bw *BufferedWriter) PollCommand(ctx context.Context) (model.Command, error) {
	return bw.writer.PollCommand(ctx)
}

// PublishStatus writes the status hash through the breaker.
func (bw *BufferedWriter) PublishStatus(ctx context.Context, rec model.StatusRecord) error {
	return bw.publish(ctx, kindStatus, func(ctx context.Context) error {
		return bw.writer.PublishStatus(ctx, rec)
	})
}

// PublishStats writes the stats hash through the breaker.
func (bw *BufferedWriter) PublishStats(ctx context.Context, rec model.StatsRecord) error {
	return bw.publish(ctx, kindStats, func(ctx context.Context) error {
		return bw.writer.PublishStats(ctx, rec)
	})
}

// PublishSummary writes the summary text through the breaker.
func (bw *BufferedWriter) PublishSummary(ctx context.Context, text string) error {
	return bw.publish(ctx, kindSummary, func(ctx context.Context) error {
		return bw.writer.PublishSummary(ctx, text)
	})
}

// publish returns nil when the write succeeded or was buffered behind an
// open breaker; a failed attempt is buffered and its error returned.
func (bw *BufferedWriter) publish(ctx context.Context, kind string, write func(context.Context) error) error {
	err := bw.cb.Execute(func() error { return write(ctx) })
	switch {
	case err == nil:
		bw.drop(kind)
		bw.flush(ctx)
		return nil
	case errors.Is(err, ErrCircuitOpen):
		bw.keep(kind, write)
		return nil
	default:
		bw.keep(kind, write)
		return err
	}
}

func (bw *BufferedWriter) keep(kind string, write func(context.Context) error) {
	bw.mu.Lock()
	bw.pending[kind] = write
	bw.mu.Unlock()
	if bw.OnBuffer != nil {
		bw.OnBuffer(kind)
	}
}

func (bw *BufferedWriter) drop(kind string) {
	bw.mu.Lock()
	delete(bw.pending, kind)
	bw.mu.Unlock()
}

// flush replays pending records. A record that fails again stays pending
// unless a newer one replaced it meanwhile.
func (bw *BufferedWriter) flush(ctx context.Context) {
	bw.mu.Lock()
	if len(bw.pending) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.pending
	bw.pending = make(map[string]func(ctx context.Context) error)
	bw.mu.Unlock()

	flushed := 0
	for kind, write := range toFlush {
		if err := bw.cb.Execute(func() error { return write(ctx) }); err != nil {
			bw.mu.Lock()
			if _, newer := bw.pending[kind]; !newer {
				bw.pending[kind] = write
			}
			bw.mu.Unlock()
			continue
		}
		flushed++
	}

	if flushed > 0 {
		log.Printf("[buffered-writer] flushed %d pending records", flushed)
	}
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of records waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.pending)
}

// Underlying returns the wrapped writer for direct access.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
