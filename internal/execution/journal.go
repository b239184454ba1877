package execution

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"papertrader/internal/model"
)

// Journal persists closed trades to SQLite for analysis and audit.
// The engine never reads it back to restore state.
type Journal struct {
	mu    sync.Mutex
	db    *sql.DB
	botID string
}

// NewJournal opens (or creates) a SQLite journal database, creating its
// parent directory as needed.
func NewJournal(dbPath, botID string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		bot_id       TEXT NOT NULL,
		session_id   TEXT NOT NULL,
		side         TEXT NOT NULL,
		entry_price  REAL NOT NULL,
		exit_price   REAL NOT NULL,
		size         REAL NOT NULL,
		gross_pnl    REAL NOT NULL,
		pnl          REAL NOT NULL,
		pnl_percent  REAL NOT NULL,
		commission   REAL DEFAULT 0,
		slippage     REAL DEFAULT 0,
		reason       TEXT NOT NULL,
		entry_time   DATETIME NOT NULL,
		exit_time    DATETIME NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(bot_id, session_id);
	CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db, botID: botID}, nil
}

// RecordTrade persists a closed trade.
func (j *Journal) RecordTrade(rec model.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (bot_id, session_id, side, entry_price, exit_price, size,
		 gross_pnl, pnl, pnl_percent, commission, slippage, reason, entry_time, exit_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.botID,
		rec.SessionID,
		string(rec.Side),
		rec.EntryPrice,
		rec.ExitPrice,
		rec.Size,
		rec.GrossPnL,
		rec.PnL,
		rec.PnLPercent,
		rec.Commission,
		rec.Slippage,
		string(rec.Reason),
		rec.EntryTime.UTC().Format(time.RFC3339),
		rec.ExitTime.UTC().Format(time.RFC3339),
	)
	return err
}

// JournalRow represents a row from the trades table.
type JournalRow struct {
	ID        int64   `json:"id"`
	SessionID string  `json:"session_id"`
	Side      string  `json:"side"`
	Entry     float64 `json:"entry_price"`
	Exit      float64 `json:"exit_price"`
	PnL       float64 `json:"pnl"`
	Reason    string  `json:"reason"`
	ExitTime  string  `json:"exit_time"`
}

// GetTrades returns the last N trades of this bot, newest first.
func (j *Journal) GetTrades(limit int) ([]JournalRow, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, session_id, side, entry_price, exit_price, pnl, reason, exit_time
		 FROM trades WHERE bot_id = ? ORDER BY id DESC LIMIT ?`, j.botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []JournalRow
	for rows.Next() {
		var r JournalRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Side, &r.Entry, &r.Exit,
			&r.PnL, &r.Reason, &r.ExitTime); err != nil {
			continue
		}
		trades = append(trades, r)
	}
	return trades, rows.Err()
}

// DB returns the underlying database for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
