package model

// AccountState is a point-in-time copy of the ledger's cash accounting.
type AccountState struct {
	Balance           float64 `json:"balance"`
	InitialBalance    float64 `json:"initial_balance"`
	DailyStartBalance float64 `json:"daily_start_balance"`
	DailyRealizedLoss float64 `json:"daily_realized_loss"` // <= 0
	SessionActive     bool    `json:"session_active"`
	Halted            bool    `json:"halted"` // drawdown gate tripped this session
}
