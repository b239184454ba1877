// Package execution turns signals into simulated fills against the paper
// ledger and records closed trades to the journal.
package execution

import (
	"fmt"
	"log"
	"sync"
	"time"

	"papertrader/internal/model"
	"papertrader/internal/portfolio"
)

// FillKind distinguishes opening and closing fills.
type FillKind string

const (
	FillEntry FillKind = "ENTRY"
	FillExit  FillKind = "EXIT"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID   string            `json:"order_id"`
	Kind      FillKind          `json:"kind"`
	Side      model.Direction   `json:"side"`
	RawPrice  float64           `json:"raw_price"`  // price before slippage
	FillPrice float64           `json:"fill_price"` // price booked by the ledger
	Size      float64           `json:"size"`
	Reason    model.CloseReason `json:"reason,omitempty"`
	FilledAt  time.Time         `json:"filled_at"`
}

// PaperExecutor prices signals, drives the account and journals closed
// trades. It never talks to a broker.
type PaperExecutor struct {
	account *portfolio.Account
	journal model.TradeJournal // optional

	mu       sync.RWMutex
	fills    []Fill
	orderSeq int64
}

// NewPaperExecutor creates a paper executor on top of account. journal may be nil.
func NewPaperExecutor(account *portfolio.Account, journal model.TradeJournal) *PaperExecutor {
	return &PaperExecutor{
		account: account,
		journal: journal,
		fills:   make([]Fill, 0, 256),
	}
}

// Account returns the ledger the executor trades against.
func (p *PaperExecutor) Account() *portfolio.Account { return p.account }

// EntryPrice returns the price an entry for sig would fill at. Under the
// folded-slippage convention a LONG pays up and a SHORT sells lower by the
// slippage fraction; otherwise the reference price is used as is.
func (p *PaperExecutor) EntryPrice(sig model.Signal) float64 {
	cfg := p.account.Config()
	if cfg.Accounting != portfolio.FoldedSlippage {
		return sig.ReferencePrice
	}
	switch sig.Direction {
	case model.DirectionLong:
		return sig.ReferencePrice * (1 + cfg.SlippagePct)
	case model.DirectionShort:
		return sig.ReferencePrice * (1 - cfg.SlippagePct)
	default:
		return sig.ReferencePrice
	}
}

// Execute feeds one closed-candle decision to the account. price is the
// close of the candle that produced sig.
func (p *PaperExecutor) Execute(sig model.Signal, price float64, t time.Time) portfolio.Decision {
	u := portfolio.MarketUpdate{Price: price, Signal: sig, Time: t}
	if !sig.None() && sig.ReferencePrice > 0 {
		u.EntryPrice = p.EntryPrice(sig)
	}

	d := p.account.OnMarket(u)
	switch d.Action {
	case portfolio.ActionEntered:
		p.recordFill(Fill{
			Kind:      FillEntry,
			Side:      d.Position.Side,
			RawPrice:  sig.ReferencePrice,
			FillPrice: d.Position.EntryPrice,
			Size:      d.Position.Size,
			FilledAt:  t,
		})
	case portfolio.ActionClosed:
		p.onClosed(*d.Trade, price)
	case portfolio.ActionRejected:
		log.Printf("[paper] %s entry rejected: %v", sig.Direction, d.Reject)
	}
	return d
}

// ForceClose flattens any open position, e.g. at session end.
func (p *PaperExecutor) ForceClose(price float64, reason model.CloseReason, t time.Time) (model.TradeRecord, bool) {
	rec, ok := p.account.Close(price, reason, t)
	if ok {
		p.onClosed(rec, price)
	}
	return rec, ok
}

func (p *PaperExecutor) onClosed(rec model.TradeRecord, raw float64) {
	p.recordFill(Fill{
		Kind:      FillExit,
		Side:      rec.Side,
		RawPrice:  raw,
		FillPrice: rec.ExitPrice,
		Size:      rec.Size,
		Reason:    rec.Reason,
		FilledAt:  rec.ExitTime,
	})
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordTrade(rec); err != nil {
		log.Printf("[paper] journal write failed: %v", err)
	}
}

func (p *PaperExecutor) recordFill(f Fill) {
	p.mu.Lock()
	p.orderSeq++
	f.OrderID = fmt.Sprintf("PAPER-%d", p.orderSeq)
	p.fills = append(p.fills, f)
	p.mu.Unlock()

	log.Printf("[paper] %s %s size=%.6f raw=%.4f fill=%.4f order=%s %s",
		f.Kind, f.Side, f.Size, f.RawPrice, f.FillPrice, f.OrderID, f.Reason)
}

// GetFills returns a snapshot of all fills.
func (p *PaperExecutor) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
