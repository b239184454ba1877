package strategy

import (
	"papertrader/internal/indicator"
	"papertrader/internal/model"
)

// squeezeRelease fires when the squeeze turns off on the last closed candle
// (two positions back from the newest). Direction follows the momentum sign
// on that candle and the entry reference is the newest candle's open.
func squeezeRelease(snap indicator.Snapshot) model.Signal {
	none := model.Signal{Direction: model.DirectionNone}
	n := len(snap.Working)
	if n < 3 || len(snap.Squeeze) != n || len(snap.Momentum) != n {
		return none
	}

	released := snap.Squeeze[n-3] && !snap.Squeeze[n-2]
	if !released {
		return none
	}
	mom := snap.Momentum[n-2]
	if !indicator.Defined(mom) {
		return none
	}

	next := snap.Working[n-1]
	switch {
	case mom > 0:
		return model.Signal{Direction: model.DirectionLong, ReferencePrice: next.Open, Time: snap.Working[n-2].OpenTime}
	case mom < 0:
		return model.Signal{Direction: model.DirectionShort, ReferencePrice: next.Open, Time: snap.Working[n-2].OpenTime}
	}
	return none
}
