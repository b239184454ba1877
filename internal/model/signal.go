package model

import "time"

// Direction is the side a strategy wants to trade.
type Direction string

const (
	DirectionNone  Direction = "NONE"
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign returns +1 for LONG, -1 for SHORT and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	default:
		return 0
	}
}

// Opposite returns the reverse direction. NONE stays NONE.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNone
	}
}

// Signal is produced once per closed-candle event and discarded after use.
type Signal struct {
	Direction      Direction `json:"direction"`
	ReferencePrice float64   `json:"reference_price"` // 0 when Direction is NONE
	Time           time.Time `json:"time"`            // open time of the candle that triggered it
}

// None reports whether the signal carries no trade intent.
func (s Signal) None() bool {
	return s.Direction == "" || s.Direction == DirectionNone
}
