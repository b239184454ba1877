package portfolio

import (
	"papertrader/internal/model"
)

// tradeBook is the append-only trade history. It is guarded by the owning
// Account's mutex.
type tradeBook struct {
	trades []model.TradeRecord

	// sessionStart indexes the first trade of the current session.
	sessionStart int

	grossPnL   float64
	commission float64
	slippage   float64
}

func newTradeBook() *tradeBook {
	return &tradeBook{trades: make([]model.TradeRecord, 0, 64)}
}

func (b *tradeBook) append(rec model.TradeRecord) {
	b.trades = append(b.trades, rec)
	b.grossPnL += rec.GrossPnL
	b.commission += rec.Commission
	b.slippage += rec.Slippage
}

func (b *tradeBook) markSession() { b.sessionStart = len(b.trades) }

func (b *tradeBook) all() []model.TradeRecord {
	cp := make([]model.TradeRecord, len(b.trades))
	copy(cp, b.trades)
	return cp
}

func (b *tradeBook) session() []model.TradeRecord {
	s := b.trades[b.sessionStart:]
	cp := make([]model.TradeRecord, len(s))
	copy(cp, s)
	return cp
}

// sessionPnL sums the recorded PnL of the current session's trades.
func (b *tradeBook) sessionPnL() (pnl float64, n int) {
	for _, t := range b.trades[b.sessionStart:] {
		pnl += t.PnL
		n++
	}
	return pnl, n
}

// PnLSummary aggregates the cash effects of every closed trade.
type PnLSummary struct {
	GrossPnL   float64 `json:"gross_pnl"`
	Commission float64 `json:"commission"`
	Slippage   float64 `json:"slippage"`
	NetPnL     float64 `json:"net_pnl"`
	Trades     int     `json:"trades"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
}

func (b *tradeBook) summary() PnLSummary {
	s := PnLSummary{
		GrossPnL:   b.grossPnL,
		Commission: b.commission,
		Slippage:   b.slippage,
		NetPnL:     b.grossPnL - b.commission - b.slippage,
		Trades:     len(b.trades),
	}
	for _, t := range b.trades {
		if t.PnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	return s
}
