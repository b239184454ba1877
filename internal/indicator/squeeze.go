package indicator

import "papertrader/internal/model"

// computeSqueeze derives the Bollinger/Keltner squeeze flag and the momentum
// oscillator over the working window.
func computeSqueeze(p SqueezeParams, in Input) (Snapshot, error) {
	candles := in.Working
	if len(candles) == 0 {
		return Snapshot{}, ErrEmptyInput
	}
	n := len(candles)
	closes := model.Closes(candles)

	snap := Snapshot{Kind: KindSqueeze, Working: candles}

	// Keltner channel
	snap.ATR = ATR(candles, p.ATRPeriod)
	kcMid := EMA(closes, p.KCLength)
	snap.KCUpper = make([]float64, n)
	snap.KCLower = make([]float64, n)
	for i := range candles {
		snap.KCUpper[i] = kcMid[i] + p.KCMult*snap.ATR[i]
		snap.KCLower[i] = kcMid[i] - p.KCMult*snap.ATR[i]
	}

	// Bollinger bands
	bbMid := SMA(closes, p.BBLength)
	dev := StdDev(closes, p.BBLength)
	snap.BBUpper = make([]float64, n)
	snap.BBLower = make([]float64, n)
	for i := range candles {
		snap.BBUpper[i] = bbMid[i] + p.BBMult*dev[i]
		snap.BBLower[i] = bbMid[i] - p.BBMult*dev[i]
	}

	// Squeeze: Bollinger fully inside Keltner. NaN comparisons are false.
	snap.Squeeze = make([]bool, n)
	for i := range candles {
		snap.Squeeze[i] = snap.BBUpper[i] < snap.KCUpper[i] && snap.BBLower[i] > snap.KCLower[i]
	}

	// Momentum: smoothed normalized distance from the range midpoint, minus
	// its own slower EMA.
	hh := Highest(model.Highs(candles), p.BBLength)
	ll := Lowest(model.Lows(candles), p.BBLength)
	val := nanSeries(n)
	for i := range candles {
		denom := p.BBMult * dev[i]
		if !Defined(hh[i]) || !Defined(ll[i]) || !Defined(denom) || denom == 0 {
			continue
		}
		val[i] = (closes[i] - (hh[i]+ll[i])/2) / denom
	}
	smooth := EMA(val, p.KCLength)
	slow := EMA(smooth, p.MomentumSlow)
	snap.Momentum = nanSeries(n)
	for i := range candles {
		if Defined(val[i]) {
			snap.Momentum[i] = smooth[i] - slow[i]
		}
	}
	return snap, nil
}
