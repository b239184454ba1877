// Package strategy turns indicator snapshots into directional trade signals.
//
// A Strategy is a tagged variant: its Kind selects both the indicator set and
// the signal rule. Evaluation is a pure function of the candle windows it is
// given, so the live pipeline and the backtester share one code path.
package strategy

import (
	"fmt"

	"papertrader/internal/indicator"
	"papertrader/internal/model"
)

// Strategy is one configured signal generator.
type Strategy struct {
	Kind   indicator.Kind
	Params indicator.Params

	// Interval is the working timeframe (e.g. "5m").
	Interval string
	// HigherInterval is the filter timeframe; only KindMACDCloud uses it.
	HigherInterval string
}

// New validates the kind and returns a Strategy.
func New(kind indicator.Kind, params indicator.Params, interval, higher string) (*Strategy, error) {
	switch kind {
	case indicator.KindMACDCloud:
		if higher == "" {
			return nil, fmt.Errorf("strategy: %s needs a higher interval", kind)
		}
	case indicator.KindSqueeze:
	default:
		return nil, fmt.Errorf("strategy: unknown kind %q", kind)
	}
	return &Strategy{Kind: kind, Params: params, Interval: interval, HigherInterval: higher}, nil
}

// Name returns the strategy identifier.
func (s *Strategy) Name() string { return string(s.Kind) }

// NeedsHigher reports whether Evaluate reads a higher-timeframe window.
func (s *Strategy) NeedsHigher() bool { return s.Kind == indicator.KindMACDCloud }

// Intervals reports the working interval and, when the kind reads one, the
// higher interval ("" otherwise).
func (s *Strategy) Intervals() (working, higher string) {
	if s.NeedsHigher() {
		return s.Interval, s.HigherInterval
	}
	return s.Interval, ""
}

// Evaluate computes a fresh snapshot and derives the signal for the newest candle.
func (s *Strategy) Evaluate(in indicator.Input) (model.Signal, indicator.Snapshot, error) {
	snap, err := indicator.Compute(s.Kind, s.Params, in)
	if err != nil {
		return model.Signal{Direction: model.DirectionNone}, snap, err
	}
	return Generate(snap), snap, nil
}

// Generate derives the signal of a snapshot using the rule of its kind.
func Generate(snap indicator.Snapshot) model.Signal {
	switch snap.Kind {
	case indicator.KindMACDCloud:
		return cloudCross(snap)
	case indicator.KindSqueeze:
		return squeezeRelease(snap)
	default:
		return model.Signal{Direction: model.DirectionNone}
	}
}
