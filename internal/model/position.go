package model

import "time"

// Position is the single open position owned by the ledger.
// Size is always positive; Side carries the direction.
type Position struct {
	Open            bool      `json:"open"`
	Side            Direction `json:"side"`
	EntryPrice      float64   `json:"entry_price"`
	Size            float64   `json:"size"`     // base units
	Notional        float64   `json:"notional"` // quote units at entry
	Margin          float64   `json:"margin"`   // quote units reserved from balance
	StopLoss        float64   `json:"stop_loss"`
	TakeProfit      float64   `json:"take_profit"`
	EntryTime       time.Time `json:"entry_time"`
	EntryCommission float64   `json:"entry_commission"`
	EntrySlippage   float64   `json:"entry_slippage"`
}

// UnrealizedPnL returns the mark-to-market PnL in quote units, before exit costs.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if !p.Open {
		return 0
	}
	return p.Size * (price - p.EntryPrice) * p.Side.Sign()
}

// UnrealizedPct returns UnrealizedPnL as a percentage of the entry notional.
func (p *Position) UnrealizedPct(price float64) float64 {
	if !p.Open || p.Notional == 0 {
		return 0
	}
	return p.UnrealizedPnL(price) / p.Notional * 100
}
