// Package portfolio implements the paper trading ledger.
//
// An Account holds at most one position, sizes entries from a fixed risk
// amount, enforces the drawdown and daily-loss gates, and books commission
// and slippage according to the configured accounting convention. Every
// exported method takes the account mutex, so the stream path and the
// supervisor may call it concurrently.
package portfolio

import (
	"log"
	"sync"
	"time"

	"papertrader/internal/model"
)

// MarketUpdate is one decision input: the latest closed-candle price, the
// signal derived from it and the fill price an entry would get.
type MarketUpdate struct {
	Price      float64
	Signal     model.Signal
	EntryPrice float64 // 0 = use Price
	Time       time.Time
}

// Action is what OnMarket did with an update.
type Action string

const (
	ActionNone     Action = "none"
	ActionHold     Action = "hold"
	ActionEntered  Action = "entered"
	ActionClosed   Action = "closed"
	ActionRejected Action = "rejected"
	ActionSkipped  Action = "skipped" // session inactive
)

// Decision describes the outcome of OnMarket.
type Decision struct {
	Action   Action
	Position model.Position     // set when entered
	Trade    *model.TradeRecord // set when closed
	Reject   *EntryError        // set when rejected
}

// Account is the single-symbol paper ledger.
type Account struct {
	mu  sync.Mutex
	cfg Config

	balance    float64
	dailyStart float64
	dailyLoss  float64

	pos  model.Position
	book *tradeBook

	sessionActive bool
	halted        bool
	sessionID     string
}

// New creates a flat account funded with cfg.InitialBalance.
func New(cfg Config) *Account {
	return &Account{
		cfg:        cfg,
		balance:    cfg.InitialBalance,
		dailyStart: cfg.InitialBalance,
		book:       newTradeBook(),
	}
}

// Config returns the account's limits.
func (a *Account) Config() Config { return a.cfg }

// StartSession activates trading, resets the daily counters and starts a new
// session trade window. Balance carries over from earlier sessions.
func (a *Account) StartSession(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionActive = true
	a.halted = false
	a.sessionID = id
	a.book.markSession()
	a.resetDailyLocked()
	log.Printf("[account] session %s started, balance=%.2f", id, a.balance)
}

// StopSession deactivates trading. An open position stays open.
func (a *Account) StopSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionActive = false
}

// SessionActive reports whether entries are currently allowed.
func (a *Account) SessionActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionActive
}

// Halted reports whether the drawdown gate stopped the current session.
func (a *Account) Halted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.halted
}

// ResetDaily makes the current balance the daily baseline and clears the
// realized daily loss.
func (a *Account) ResetDaily() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetDailyLocked()
}

func (a *Account) resetDailyLocked() {
	a.dailyStart = a.balance
	a.dailyLoss = 0
}

// Enter opens a position at price. It returns *EntryError when a gate refuses
// the entry; the drawdown gate additionally ends the session.
func (a *Account) Enter(side model.Direction, price float64, t time.Time) (model.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos, rej := a.enterLocked(side, price, t)
	if rej != nil {
		return model.Position{}, rej
	}
	return pos, nil
}

func (a *Account) enterLocked(side model.Direction, price float64, t time.Time) (model.Position, *EntryError) {
	if !a.sessionActive {
		return model.Position{}, reject(RejectSessionInactive, "")
	}
	if a.pos.Open {
		return model.Position{}, reject(RejectInPosition, "%s open at %.4f", a.pos.Side, a.pos.EntryPrice)
	}
	sign := side.Sign()
	if sign == 0 {
		return model.Position{}, reject(RejectNoDirection, "%q", side)
	}

	sz, rej := a.cfg.sizeEntry(price, sign)
	if rej != nil {
		return model.Position{}, rej
	}
	if a.cfg.drawdownBreached(a.balance) {
		a.sessionActive = false
		a.halted = true
		log.Printf("[account] max drawdown reached: balance=%.2f initial=%.2f, session halted",
			a.balance, a.cfg.InitialBalance)
		return model.Position{}, reject(RejectDrawdown, "balance %.2f", a.balance)
	}
	if a.cfg.dailyLossBreached(a.dailyLoss, a.dailyStart) {
		log.Printf("[account] daily max loss reached: loss=%.2f start=%.2f", a.dailyLoss, a.dailyStart)
		return model.Position{}, reject(RejectDailyLoss, "daily loss %.2f", a.dailyLoss)
	}
	if sz.notional < a.cfg.MinNotional {
		return model.Position{}, reject(RejectMinNotional, "notional %.4f < %.2f", sz.notional, a.cfg.MinNotional)
	}
	if sz.margin > a.balance {
		return model.Position{}, reject(RejectMargin, "margin %.2f > balance %.2f", sz.margin, a.balance)
	}

	commission := sz.notional * a.cfg.CommissionPct
	slippage := 0.0
	if a.cfg.Accounting == MarginReserve {
		slippage = sz.notional * a.cfg.SlippagePct
	}
	a.balance -= sz.margin + commission + slippage

	a.pos = model.Position{
		Open:            true,
		Side:            side,
		EntryPrice:      price,
		Size:            sz.size,
		Notional:        sz.notional,
		Margin:          sz.margin,
		StopLoss:        sz.stopLoss,
		TakeProfit:      sz.takeProfit,
		EntryTime:       t,
		EntryCommission: commission,
		EntrySlippage:   slippage,
	}
	log.Printf("[account] enter %s: price=%.4f notional=%.2f SL=%.4f TP=%.4f balance=%.2f",
		side, price, sz.notional, sz.stopLoss, sz.takeProfit, a.balance)
	return a.pos, nil
}

// Close flattens the open position at price. It is a no-op returning false
// when the account is already flat.
func (a *Account) Close(price float64, reason model.CloseReason, t time.Time) (model.TradeRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked(price, reason, t)
}

func (a *Account) closeLocked(price float64, reason model.CloseReason, t time.Time) (model.TradeRecord, bool) {
	if !a.pos.Open {
		return model.TradeRecord{}, false
	}
	p := a.pos
	gross := p.Size * (price - p.EntryPrice) * p.Side.Sign()

	var exitCommission, exitSlippage float64
	switch a.cfg.Accounting {
	case MarginReserve:
		exitCommission = p.Notional * a.cfg.CommissionPct
		exitSlippage = p.Notional * a.cfg.SlippagePct
	case FoldedSlippage:
		exitCommission = p.Size * price * a.cfg.CommissionPct
	}
	pnl := gross - exitCommission - exitSlippage
	a.balance += p.Margin + pnl
	if pnl < 0 {
		a.dailyLoss += pnl
	}

	pct := 0.0
	if p.Notional != 0 {
		pct = pnl / p.Notional * 100
	}
	rec := model.TradeRecord{
		SessionID:  a.sessionID,
		Side:       p.Side,
		EntryTime:  p.EntryTime,
		ExitTime:   t,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		Size:       p.Size,
		GrossPnL:   gross,
		PnL:        pnl,
		PnLPercent: pct,
		Commission: p.EntryCommission + exitCommission,
		Slippage:   p.EntrySlippage + exitSlippage,
		Reason:     reason,
	}
	a.book.append(rec)
	a.pos = model.Position{}

	log.Printf("[account] close %s: price=%.4f pnl=%.2f (%.2f%%) reason=%s balance=%.2f",
		p.Side, price, pnl, pct, reason, a.balance)
	return rec, true
}

// OnMarket applies one decision step. While in a position the exits are
// checked in order stop-loss, take-profit, reverse signal and the first
// match wins. While flat a non-empty signal is an entry attempt.
func (a *Account) OnMarket(u MarketUpdate) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pos.Open {
		if reason, px, ok := a.exitFor(u); ok {
			rec, _ := a.closeLocked(px, reason, u.Time)
			return Decision{Action: ActionClosed, Trade: &rec}
		}
		return Decision{Action: ActionHold}
	}
	if u.Signal.None() {
		return Decision{Action: ActionNone}
	}
	if !a.sessionActive {
		return Decision{Action: ActionSkipped}
	}
	price := u.EntryPrice
	if price == 0 {
		price = u.Price
	}
	pos, rej := a.enterLocked(u.Signal.Direction, price, u.Time)
	if rej != nil {
		return Decision{Action: ActionRejected, Reject: rej}
	}
	return Decision{Action: ActionEntered, Position: pos}
}

// exitFor picks the exit for the open position, if any, and the price it
// fills at.
func (a *Account) exitFor(u MarketUpdate) (model.CloseReason, float64, bool) {
	p := a.pos
	long := p.Side == model.DirectionLong
	atLevel := a.cfg.Accounting == FoldedSlippage

	if (long && u.Price <= p.StopLoss) || (!long && u.Price >= p.StopLoss) {
		if atLevel {
			return model.ReasonStopLoss, p.StopLoss, true
		}
		return model.ReasonStopLoss, u.Price, true
	}
	if (long && u.Price >= p.TakeProfit) || (!long && u.Price <= p.TakeProfit) {
		if atLevel {
			return model.ReasonTakeProfit, p.TakeProfit, true
		}
		return model.ReasonTakeProfit, u.Price, true
	}
	if a.cfg.ReverseSignal && u.Signal.Direction == p.Side.Opposite() && !u.Signal.None() {
		return model.ReasonReverseSignal, u.Price, true
	}
	return "", 0, false
}

// Position returns a copy of the open position (Open=false when flat).
func (a *Account) Position() model.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

// State returns the cash accounting snapshot.
func (a *Account) State() model.AccountState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return model.AccountState{
		Balance:           a.balance,
		InitialBalance:    a.cfg.InitialBalance,
		DailyStartBalance: a.dailyStart,
		DailyRealizedLoss: a.dailyLoss,
		SessionActive:     a.sessionActive,
		Halted:            a.halted,
	}
}

// Stats projects the account at the given mark price.
func (a *Account) Stats(price float64) model.StatsRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	upnl := a.pos.UnrealizedPnL(price)
	sessionPnL, n := a.book.sessionPnL()
	rec := model.StatsRecord{
		Balance:       a.balance,
		Equity:        a.balance,
		UnrealizedPnL: upnl,
		UnrealizedPct: a.pos.UnrealizedPct(price),
		TradesCount:   n,
		SessionPnL:    sessionPnL,
		CurrentPrice:  price,
		Side:          model.DirectionNone,
	}
	if a.pos.Open {
		rec.Equity = a.balance + a.pos.Margin + upnl
		rec.Side = a.pos.Side
		rec.IsLong = a.pos.Side == model.DirectionLong
		rec.EntryPrice = a.pos.EntryPrice
	}
	return rec
}

// Trades returns every trade closed since the account was created.
func (a *Account) Trades() []model.TradeRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.all()
}

// SessionTrades returns the trades closed in the current session.
func (a *Account) SessionTrades() []model.TradeRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.session()
}

// PnL aggregates all closed trades.
func (a *Account) PnL() PnLSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.summary()
}

// Summary reports the current session's result. Runtime is left to the caller.
func (a *Account) Summary() model.SessionSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	pnl, n := a.book.sessionPnL()
	return model.SessionSummary{
		SessionID:    a.sessionID,
		FinalBalance: a.balance,
		TotalPnL:     pnl,
		Trades:       n,
	}
}
