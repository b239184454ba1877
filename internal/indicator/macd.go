package indicator

import (
	"math"

	"papertrader/internal/model"
)

// MACD returns the MACD line (EMA fast - EMA slow) and its signal line.
func MACD(closes []float64, fast, slow, signal int) (line, sig []float64) {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	return line, EMA(line, signal)
}

// Cloud returns the EMA of every period and the per-bar max/min across them.
func Cloud(closes []float64, periods []int) (emas map[int][]float64, high, low []float64) {
	emas = make(map[int][]float64, len(periods))
	for _, p := range periods {
		emas[p] = EMA(closes, p)
	}
	high = nanSeries(len(closes))
	low = nanSeries(len(closes))
	for i := range closes {
		hi, lo := math.Inf(-1), math.Inf(1)
		for _, p := range periods {
			v := emas[p][i]
			if !Defined(v) {
				continue
			}
			hi = math.Max(hi, v)
			lo = math.Min(lo, v)
		}
		if Defined(hi) {
			high[i] = hi
			low[i] = lo
		}
	}
	return emas, high, low
}

func computeMACDCloud(p MACDCloudParams, in Input) (Snapshot, error) {
	if len(in.Working) == 0 || len(in.Higher) == 0 {
		return Snapshot{}, ErrEmptyInput
	}
	snap := Snapshot{Kind: KindMACDCloud, Working: in.Working, Higher: in.Higher}
	snap.MACD, snap.MACDSignal = MACD(model.Closes(in.Higher), p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
	snap.EMAs, snap.CloudHigh, snap.CloudLow = Cloud(model.Closes(in.Working), p.CloudPeriods)
	return snap, nil
}
