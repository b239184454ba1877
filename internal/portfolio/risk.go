package portfolio

import (
	"errors"
	"fmt"
	"math"
)

// Accounting selects how a strategy variant books entry and exit costs.
type Accounting int

const (
	// MarginReserve reserves the full notional as margin and charges
	// commission plus slippage on the entry notional at both entry and exit.
	// Exits fill at the observed price.
	MarginReserve Accounting = iota

	// FoldedSlippage expects slippage already folded into the entry price,
	// reserves only the risk amount, and charges commission on the entry
	// notional at entry and on the exit notional at exit. Stop and target
	// exits fill at the trigger level.
	FoldedSlippage
)

func (a Accounting) String() string {
	switch a {
	case MarginReserve:
		return "margin_reserve"
	case FoldedSlippage:
		return "folded_slippage"
	default:
		return fmt.Sprintf("accounting(%d)", int(a))
	}
}

// Config holds the risk limits and cost model. Percentages are fractions
// (0.005 = 0.5%).
type Config struct {
	InitialBalance float64
	RiskAmount     float64 // quote units lost if the stop is hit
	StopLossPct    float64
	TakeProfitPct  float64
	DailyMaxLoss   float64 // fraction of the daily start balance
	MaxDrawdown    float64 // fraction of the initial balance
	CommissionPct  float64
	SlippagePct    float64
	MinNotional    float64
	Accounting     Accounting
	ReverseSignal  bool // close on an opposite-direction signal
}

// DefaultConfig returns the stock limits for the given accounting convention.
func DefaultConfig(acc Accounting) Config {
	c := Config{
		InitialBalance: 1000,
		RiskAmount:     1,
		StopLossPct:    0.005,
		TakeProfitPct:  0.015,
		DailyMaxLoss:   0.05,
		MaxDrawdown:    0.20,
		CommissionPct:  0.001,
		SlippagePct:    0.0005,
		MinNotional:    10,
		Accounting:     acc,
		ReverseSignal:  true,
	}
	if acc == FoldedSlippage {
		c.SlippagePct = 0.0001
		c.ReverseSignal = false
	}
	return c
}

// Validate rejects limits the ledger cannot trade with.
func (c Config) Validate() error {
	switch {
	case c.InitialBalance <= 0:
		return fmt.Errorf("initial balance must be positive, got %v", c.InitialBalance)
	case c.RiskAmount <= 0:
		return fmt.Errorf("risk amount must be positive, got %v", c.RiskAmount)
	case c.StopLossPct <= 0 || c.StopLossPct >= 1:
		return fmt.Errorf("stop loss pct must be in (0,1), got %v", c.StopLossPct)
	case c.TakeProfitPct <= 0:
		return fmt.Errorf("take profit pct must be positive, got %v", c.TakeProfitPct)
	case c.DailyMaxLoss <= 0:
		return fmt.Errorf("daily max loss must be positive, got %v", c.DailyMaxLoss)
	case c.MaxDrawdown <= 0 || c.MaxDrawdown >= 1:
		return fmt.Errorf("max drawdown must be in (0,1), got %v", c.MaxDrawdown)
	case c.CommissionPct < 0 || c.SlippagePct < 0:
		return errors.New("commission and slippage must not be negative")
	case c.MinNotional < 0:
		return fmt.Errorf("min notional must not be negative, got %v", c.MinNotional)
	}
	return nil
}

// ErrInvalidEntry is matched by every *EntryError.
var ErrInvalidEntry = errors.New("invalid entry")

// RejectReason names the gate that refused an entry.
type RejectReason string

const (
	RejectSessionInactive RejectReason = "session_inactive"
	RejectInPosition      RejectReason = "in_position"
	RejectNoDirection     RejectReason = "no_direction"
	RejectStopDistance    RejectReason = "stop_distance"
	RejectDrawdown        RejectReason = "max_drawdown"
	RejectDailyLoss       RejectReason = "daily_max_loss"
	RejectMinNotional     RejectReason = "min_notional"
	RejectMargin          RejectReason = "insufficient_balance"
)

// EntryError reports a refused entry. It never indicates a ledger fault.
type EntryError struct {
	Reason RejectReason
	Detail string
}

func (e *EntryError) Error() string {
	if e.Detail == "" {
		return "entry rejected: " + string(e.Reason)
	}
	return fmt.Sprintf("entry rejected: %s (%s)", e.Reason, e.Detail)
}

func (e *EntryError) Is(target error) bool { return target == ErrInvalidEntry }

func reject(reason RejectReason, format string, args ...any) *EntryError {
	return &EntryError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// sizing is the result of a successful pre-trade check.
type sizing struct {
	stopLoss   float64
	takeProfit float64
	notional   float64
	size       float64
	margin     float64
}

// levels returns stop-loss and take-profit for an entry at price.
func (c Config) levels(price, sign float64) (sl, tp float64) {
	return price * (1 - sign*c.StopLossPct), price * (1 + sign*c.TakeProfitPct)
}

// sizeEntry computes the position from the fixed risk amount. It does not
// evaluate the balance gates.
func (c Config) sizeEntry(price, sign float64) (sizing, *EntryError) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return sizing{}, reject(RejectStopDistance, "entry price %v", price)
	}
	sl, tp := c.levels(price, sign)
	dist := (price - sl) * sign
	if dist <= 0 {
		return sizing{}, reject(RejectStopDistance, "stop distance %v", dist)
	}
	notional := c.RiskAmount / dist * price
	s := sizing{
		stopLoss:   sl,
		takeProfit: tp,
		notional:   notional,
		size:       notional / price,
		margin:     notional,
	}
	if c.Accounting == FoldedSlippage {
		s.margin = c.RiskAmount
	}
	return s, nil
}

// drawdownBreached reports whether balance has fallen to the halt level.
func (c Config) drawdownBreached(balance float64) bool {
	return balance <= c.InitialBalance*(1-c.MaxDrawdown)
}

// dailyLossBreached reports whether taking riskAmount more would reach the
// daily cap. dailyLoss is the non-positive realized loss since the reset.
func (c Config) dailyLossBreached(dailyLoss, dailyStart float64) bool {
	return math.Abs(dailyLoss)+c.RiskAmount >= dailyStart*c.DailyMaxLoss
}
