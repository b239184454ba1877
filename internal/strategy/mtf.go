package strategy

import (
	"papertrader/internal/indicator"
	"papertrader/internal/model"
)

// cloudCross implements the MTF rule:
//
//	LONG:  higher-TF MACD > signal AND close crosses above the cloud high
//	SHORT: higher-TF MACD < signal AND close crosses below the cloud low
//
// The crossing compares the previous and current close against the cloud
// bound of the current candle, strictly on both sides.
func cloudCross(snap indicator.Snapshot) model.Signal {
	none := model.Signal{Direction: model.DirectionNone}
	w, h := len(snap.Working), len(snap.Higher)
	if w < 2 || h < 2 {
		return none
	}

	macd, sig := snap.MACD[h-1], snap.MACDSignal[h-1]
	hi, lo := snap.CloudHigh[w-1], snap.CloudLow[w-1]
	if !indicator.Defined(macd) || !indicator.Defined(sig) || !indicator.Defined(hi) || !indicator.Defined(lo) {
		return none
	}

	prevClose := snap.Working[w-2].Close
	cur := snap.Working[w-1]

	bullish := macd > sig
	bearish := macd < sig
	crossUp := prevClose < hi && cur.Close > hi
	crossDown := prevClose > lo && cur.Close < lo

	switch {
	case bullish && crossUp:
		return model.Signal{Direction: model.DirectionLong, ReferencePrice: cur.Close, Time: cur.OpenTime}
	case bearish && crossDown:
		return model.Signal{Direction: model.DirectionShort, ReferencePrice: cur.Close, Time: cur.OpenTime}
	}
	return none
}
