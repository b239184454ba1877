package indicator

import (
	"math"

	"papertrader/internal/model"
)

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per bar.
// The first bar has no previous close and uses high-low.
func TrueRange(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		tr := c.High - c.Low
		if i > 0 {
			prev := candles[i-1].Close
			tr = math.Max(tr, math.Abs(c.High-prev))
			tr = math.Max(tr, math.Abs(c.Low-prev))
		}
		out[i] = tr
	}
	return out
}

// ATR returns the exponentially smoothed true range.
func ATR(candles []model.Candle, period int) []float64 {
	return EMA(TrueRange(candles), period)
}
