package execution

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"papertrader/internal/model"
	"papertrader/internal/portfolio"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memJournal struct {
	recs []model.TradeRecord
	err  error
}

func (m *memJournal) RecordTrade(rec model.TradeRecord) error {
	m.recs = append(m.recs, rec)
	return m.err
}

func (m *memJournal) Close() error { return nil }

func newExec(acc portfolio.Accounting, j model.TradeJournal) *PaperExecutor {
	a := portfolio.New(portfolio.DefaultConfig(acc))
	a.StartSession("s1")
	return NewPaperExecutor(a, j)
}

func TestEntryPrice_FoldedSlippage(t *testing.T) {
	p := newExec(portfolio.FoldedSlippage, nil)

	long := p.EntryPrice(model.Signal{Direction: model.DirectionLong, ReferencePrice: 200})
	if math.Abs(long-200.02) > 1e-9 {
		t.Errorf("LONG: expected 200.02, got %v", long)
	}
	short := p.EntryPrice(model.Signal{Direction: model.DirectionShort, ReferencePrice: 200})
	if math.Abs(short-199.98) > 1e-9 {
		t.Errorf("SHORT: expected 199.98, got %v", short)
	}
}

func TestEntryPrice_MarginReserveUsesReference(t *testing.T) {
	p := newExec(portfolio.MarginReserve, nil)
	if got := p.EntryPrice(model.Signal{Direction: model.DirectionLong, ReferencePrice: 200}); got != 200 {
		t.Errorf("expected 200, got %v", got)
	}
}

func TestExecute_EntersAtAdjustedOpen(t *testing.T) {
	p := newExec(portfolio.FoldedSlippage, nil)

	// The signal references the open of the newest candle; the candle's
	// close is what the exits are checked against.
	sig := model.Signal{Direction: model.DirectionLong, ReferencePrice: 50, Time: t0}
	d := p.Execute(sig, 50.4, t0)
	if d.Action != portfolio.ActionEntered {
		t.Fatalf("expected entry, got %+v", d)
	}
	want := 50 * 1.0001
	if math.Abs(d.Position.EntryPrice-want) > 1e-9 {
		t.Errorf("expected entry %v, got %v", want, d.Position.EntryPrice)
	}

	fills := p.GetFills()
	if len(fills) != 1 || fills[0].Kind != FillEntry || fills[0].RawPrice != 50 {
		t.Fatalf("unexpected fills: %+v", fills)
	}
	if fills[0].OrderID != "PAPER-1" {
		t.Errorf("unexpected order id %s", fills[0].OrderID)
	}
}

func TestExecute_CloseIsJournaled(t *testing.T) {
	j := &memJournal{}
	p := newExec(portfolio.MarginReserve, j)

	p.Execute(model.Signal{Direction: model.DirectionLong, ReferencePrice: 100}, 100, t0)
	d := p.Execute(model.Signal{Direction: model.DirectionNone}, 99, t0.Add(5*time.Minute))
	if d.Action != portfolio.ActionClosed {
		t.Fatalf("expected close, got %v", d.Action)
	}
	if len(j.recs) != 1 || j.recs[0].Reason != model.ReasonStopLoss || j.recs[0].SessionID != "s1" {
		t.Fatalf("unexpected journal: %+v", j.recs)
	}
	if n := len(p.GetFills()); n != 2 {
		t.Errorf("expected 2 fills, got %d", n)
	}
}

func TestExecute_JournalFailureDoesNotRollBack(t *testing.T) {
	j := &memJournal{err: errors.New("disk full")}
	p := newExec(portfolio.MarginReserve, j)

	p.Execute(model.Signal{Direction: model.DirectionLong, ReferencePrice: 100}, 100, t0)
	if _, ok := p.ForceClose(100, model.ReasonCommandStop, t0); !ok {
		t.Fatal("expected force close")
	}
	if p.Account().Position().Open {
		t.Error("position must be closed despite journal failure")
	}
	if len(p.Account().Trades()) != 1 {
		t.Error("ledger must keep the trade")
	}
}

func TestForceClose_Flat(t *testing.T) {
	j := &memJournal{}
	p := newExec(portfolio.MarginReserve, j)
	if _, ok := p.ForceClose(100, model.ReasonCommandStop, t0); ok {
		t.Fatal("expected no-op")
	}
	if len(j.recs) != 0 || len(p.GetFills()) != 0 {
		t.Error("flat force close must not record anything")
	}
}

func TestJournal_RecordAndRead(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "trades.db"), "bot-1")
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	rec := model.TradeRecord{
		SessionID:  "s1",
		Side:       model.DirectionShort,
		EntryTime:  t0,
		ExitTime:   t0.Add(time.Hour),
		EntryPrice: 100,
		ExitPrice:  98.5,
		Size:       2,
		GrossPnL:   3,
		PnL:        2.7,
		PnLPercent: 1.35,
		Commission: 0.4,
		Slippage:   0.2,
		Reason:     model.ReasonTakeProfit,
	}
	if err := j.RecordTrade(rec); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
	rec.SessionID = "s2"
	if err := j.RecordTrade(rec); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	rows, err := j.GetTrades(10)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].SessionID != "s2" || rows[1].SessionID != "s1" {
		t.Errorf("expected newest first, got %s, %s", rows[0].SessionID, rows[1].SessionID)
	}
	if rows[0].Side != "SHORT" || rows[0].PnL != 2.7 || rows[0].Reason != "TAKE_PROFIT" {
		t.Errorf("unexpected row: %+v", rows[0])
	}
}

func TestNewJournal_CreatesParentDir(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "data", "nested", "trades.db"), "bot-1")
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	j.Close()
}

func TestNewJournal_ParentDirFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewJournal(filepath.Join(blocker, "trades.db"), "bot-1"); err == nil {
		t.Fatal("expected an error when the parent path is a file")
	}
}
