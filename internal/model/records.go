package model

import (
	"fmt"
	"time"
)

// Command is a control instruction written by the dashboard.
type Command string

const (
	CommandNone  Command = ""
	CommandStart Command = "START"
	CommandStop  Command = "STOP"
)

// ParseCommand maps a raw key value to a Command. Unknown payloads map to CommandNone.
func ParseCommand(raw string) Command {
	switch Command(raw) {
	case CommandStart:
		return CommandStart
	case CommandStop:
		return CommandStop
	default:
		return CommandNone
	}
}

// StatusRecord is the engine liveness projection read by the dashboard.
type StatusRecord struct {
	Running      bool
	InPosition   bool
	LastUpdate   time.Time
	StateMessage string // optional
}

// StatsRecord is the account/position projection read by the dashboard.
type StatsRecord struct {
	Balance       float64
	Equity        float64
	UnrealizedPnL float64
	UnrealizedPct float64
	TradesCount   int
	SessionPnL    float64
	CurrentPrice  float64
	Side          Direction // NONE when flat
	IsLong        bool
	EntryPrice    float64
	PriceDecimals int32 // fixed precision for price fields
}

// SessionSummary is the end-of-session report.
type SessionSummary struct {
	SessionID    string
	FinalBalance float64
	TotalPnL     float64
	Trades       int
	Runtime      time.Duration
}

// Text renders the one-line summary stored for the dashboard.
func (s SessionSummary) Text() string {
	return fmt.Sprintf("Final Balance %.2f, Total PnL %.2f, Trades %d", s.FinalBalance, s.TotalPnL, s.Trades)
}
