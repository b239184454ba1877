// Package replay steps through fetched candle history one closed candle at a
// time, producing the windows a live fetch would have returned right after
// that candle closed.
package replay

import (
	"context"
	"log"
	"math"
	"time"

	"papertrader/internal/indicator"
	"papertrader/internal/model"
)

// Step is one replayed candle with the windows visible when it closed.
type Step struct {
	Index  int
	Candle model.Candle
	Input  indicator.Input
}

// Replayer walks a working-interval history and, optionally, a
// higher-interval one.
type Replayer struct {
	working []model.Candle
	higher  []model.Candle
	window  int // candles per window, as the live fetch limit
	warmup  int // candles required before the first step
}

// New creates a Replayer. window <= 0 means unbounded windows.
func New(working, higher []model.Candle, window, warmup int) *Replayer {
	if warmup < 1 {
		warmup = 1
	}
	return &Replayer{working: working, higher: higher, window: window, warmup: warmup}
}

// Len returns the number of steps Run will emit. The newest candle only
// serves as the just-opened bar of the step before it.
func (r *Replayer) Len() int {
	if n := len(r.working) - 1 - r.first(); n > 0 {
		return n
	}
	return 0
}

// first is the index of the first step: its window, just-opened bar
// included, holds warmup candles.
func (r *Replayer) first() int {
	return max(r.warmup-2, 0)
}

// At builds the step for working candle i, which must have a successor. The
// window is what a live fetch right after i closed returns: history up to i
// followed by candle i+1, of which only the open is known yet.
func (r *Replayer) At(i int) Step {
	c := r.working[i]
	next := opening(r.working[i+1])

	lo := 0
	if r.window > 0 {
		lo = max(i+2-r.window, 0)
	}
	win := make([]model.Candle, 0, i+2-lo)
	win = append(win, r.working[lo:i+1]...)
	win = append(win, next)

	in := indicator.Input{Working: win}
	if r.higher != nil {
		in.Higher = tail(r.higherAt(i, next), r.window)
	}
	return Step{Index: i, Candle: c, Input: in}
}

// opening is c as seen the moment it opens.
func opening(c model.Candle) model.Candle {
	return model.Candle{OpenTime: c.OpenTime, Open: c.Open, High: c.Open, Low: c.Open, Close: c.Open}
}

// higherAt returns the higher candles opened at or before next. The newest
// one is still forming, so it is rebuilt from the working candles it spans
// up to and including next.
func (r *Replayer) higherAt(i int, next model.Candle) []model.Candle {
	n := 0
	for n < len(r.higher) && !r.higher[n].OpenTime.After(next.OpenTime) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]model.Candle, n)
	copy(out, r.higher[:n])
	last := &out[n-1]

	j := i + 1
	for j > 0 && !r.working[j-1].OpenTime.Before(last.OpenTime) {
		j--
	}
	parts := append(r.working[j:i+1:i+1], next)
	last.Open, last.High, last.Low, last.Volume = parts[0].Open, parts[0].High, parts[0].Low, 0
	for _, p := range parts {
		last.High = math.Max(last.High, p.High)
		last.Low = math.Min(last.Low, p.Low)
		last.Volume += p.Volume
	}
	last.Close = next.Close
	last.Closed = false
	return out
}

// Run emits every step into fn in time order. speed controls the playback
// rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
func (r *Replayer) Run(ctx context.Context, speed float64, fn func(Step)) error {
	if r.Len() == 0 {
		log.Printf("[replay] %d candles, need %d: nothing to replay", len(r.working), r.warmup)
		return nil
	}
	log.Printf("[replay] %d steps (warmup %d), speed=%.1fx", r.Len(), r.warmup, speed)

	var prevTS time.Time
	emitted := 0
	for i := r.first(); i < len(r.working)-1; i++ {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d steps", emitted)
			return ctx.Err()
		default:
		}

		c := r.working[i]
		if speed > 0 && !prevTS.IsZero() {
			if gap := c.OpenTime.Sub(prevTS); gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = c.OpenTime

		fn(r.At(i))
		emitted++
	}

	log.Printf("[replay] completed: %d steps replayed", emitted)
	return nil
}

func tail(c []model.Candle, n int) []model.Candle {
	if n > 0 && len(c) > n {
		return c[len(c)-n:]
	}
	return c
}
