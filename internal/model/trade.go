package model

import "time"

// CloseReason explains why a position was closed.
type CloseReason string

const (
	ReasonStopLoss      CloseReason = "STOP_LOSS"
	ReasonTakeProfit    CloseReason = "TAKE_PROFIT"
	ReasonReverseSignal CloseReason = "REVERSE_SIGNAL"
	ReasonCommandStop   CloseReason = "COMMAND_STOP"
)

// TradeRecord is appended to the session history when a position closes.
// It is never mutated afterwards.
type TradeRecord struct {
	SessionID  string      `json:"session_id"`
	Side       Direction   `json:"side"`
	EntryTime  time.Time   `json:"entry_time"`
	ExitTime   time.Time   `json:"exit_time"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	Size       float64     `json:"size"`
	GrossPnL   float64     `json:"gross_pnl"`   // size * price move, no costs
	PnL        float64     `json:"pnl"`         // gross minus exit-side costs
	PnLPercent float64     `json:"pnl_percent"` // PnL relative to entry notional
	Commission float64     `json:"commission"`  // entry + exit commission charged
	Slippage   float64     `json:"slippage"`    // entry + exit slippage charged as cash
	Reason     CloseReason `json:"reason"`
}
