// Package indicator provides technical indicator calculations over candle data.
//
// Every function is a pure transform over a full candle window: the same
// window always produces the same series. Nothing is carried between calls,
// so a missed or replayed stream event can never make the values drift.
// Undefined values (not enough history) are NaN.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"papertrader/internal/model"
)

// Kind selects the indicator set computed for a strategy.
type Kind string

const (
	KindMACDCloud Kind = "macd_cloud" // higher-TF MACD filter + working-TF EMA cloud
	KindSqueeze   Kind = "sqzmom"     // Bollinger/Keltner squeeze momentum
)

// ErrEmptyInput is returned when the window has no candles.
var ErrEmptyInput = errors.New("indicator: empty candle window")

// MACDCloudParams configures the MTF MACD / EMA-cloud variant.
type MACDCloudParams struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
	CloudPeriods []int
}

// SqueezeParams configures the squeeze-momentum variant.
type SqueezeParams struct {
	BBLength     int
	BBMult       float64
	KCLength     int
	KCMult       float64
	ATRPeriod    int
	MomentumSlow int // smoothing of the momentum-of-momentum term
}

// Params groups the parameters of both variants; only the selected one is read.
type Params struct {
	MACDCloud MACDCloudParams
	Squeeze   SqueezeParams
}

// DefaultParams returns the stock settings of both variants.
func DefaultParams() Params {
	return Params{
		MACDCloud: MACDCloudParams{
			FastPeriod:   20,
			SlowPeriod:   30,
			SignalPeriod: 9,
			CloudPeriods: []int{50, 100},
		},
		Squeeze: SqueezeParams{
			BBLength:     30,
			BBMult:       1.8,
			KCLength:     30,
			KCMult:       1.9,
			ATRPeriod:    14,
			MomentumSlow: 10,
		},
	}
}

// Input is the candle data a variant computes over.
// Higher is only read by KindMACDCloud.
type Input struct {
	Working []model.Candle
	Higher  []model.Candle
}

// Snapshot holds the derived series, aligned 1:1 with the input windows.
// Series that do not belong to the computed variant are nil.
type Snapshot struct {
	Kind    Kind
	Working []model.Candle
	Higher  []model.Candle

	// MACD / EMA cloud
	MACD       []float64         // aligned with Higher
	MACDSignal []float64         // aligned with Higher
	EMAs       map[int][]float64 // period -> EMA(close), aligned with Working
	CloudHigh  []float64         // aligned with Working
	CloudLow   []float64         // aligned with Working

	// Squeeze momentum
	ATR      []float64
	KCUpper  []float64
	KCLower  []float64
	BBUpper  []float64
	BBLower  []float64
	Squeeze  []bool
	Momentum []float64
}

// Compute derives the snapshot of the given variant from a fresh window.
func Compute(kind Kind, p Params, in Input) (Snapshot, error) {
	switch kind {
	case KindMACDCloud:
		return computeMACDCloud(p.MACDCloud, in)
	case KindSqueeze:
		return computeSqueeze(p.Squeeze, in)
	default:
		return Snapshot{}, fmt.Errorf("indicator: unknown kind %q", kind)
	}
}

// Defined reports whether v is a usable number.
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
