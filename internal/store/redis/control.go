package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"papertrader/internal/model"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Dial creates a Redis client and pings the server.
func Dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// Writer is the engine side of the control channel: it consumes commands and
// writes the status, stats and summary projections. Writes are raw; wrap it
// in a BufferedWriter for breaker protection.
type Writer struct {
	client *goredis.Client
	keys   Keys
}

// NewWriter binds a writer to botID's keys.
func NewWriter(client *goredis.Client, botID string) *Writer {
	return &Writer{client: client, keys: KeysFor(botID)}
}

// PollCommand atomically reads and clears the pending command. Unknown
// payloads are consumed and reported as CommandNone.
func (w *Writer) PollCommand(ctx context.Context) (model.Command, error) {
	raw, err := w.client.GetDel(ctx, w.keys.Command).Result()
	if errors.Is(err, goredis.Nil) {
		return model.CommandNone, nil
	}
	if err != nil {
		return model.CommandNone, fmt.Errorf("poll command: %w", err)
	}
	cmd := model.ParseCommand(raw)
	if cmd == model.CommandNone {
		log.Printf("[redis] ignoring unknown command %q", raw)
	}
	return cmd, nil
}

// ClearStaleCommand drops a START left from before this process came up.
// It reports whether a command was removed.
func (w *Writer) ClearStaleCommand(ctx context.Context) (bool, error) {
	raw, err := w.client.Get(ctx, w.keys.Command).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read command: %w", err)
	}
	if model.ParseCommand(raw) != model.CommandStart {
		return false, nil
	}
	if err := w.client.Del(ctx, w.keys.Command).Err(); err != nil {
		return false, fmt.Errorf("clear command: %w", err)
	}
	log.Printf("[redis] cleared stale START for %s", w.keys.Command)
	return true, nil
}

// StartTime reads the dashboard's last START timestamp. ok is false when the
// key is missing or unparsable.
func (w *Writer) StartTime(ctx context.Context) (t time.Time, ok bool, err error) {
	raw, err := w.client.Get(ctx, w.keys.StartTime).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read start time: %w", err)
	}
	secs, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(0, int64(secs*float64(time.Second))), true, nil
}

// PublishStatus writes the bot_status hash.
func (w *Writer) PublishStatus(ctx context.Context, rec model.StatusRecord) error {
	fields := map[string]interface{}{
		"running":     boolFlag(rec.Running),
		"in_position": boolFlag(rec.InPosition),
		"last_update": strconv.FormatInt(rec.LastUpdate.Unix(), 10),
	}
	pipe := w.client.TxPipeline()
	pipe.HSet(ctx, w.keys.Status, fields)
	if rec.StateMessage != "" {
		pipe.HSet(ctx, w.keys.Status, "state_message", rec.StateMessage)
	} else {
		pipe.HDel(ctx, w.keys.Status, "state_message")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// PublishStats writes the bot_stats hash. Amounts use two decimals and
// prices use rec.PriceDecimals (two when unset).
func (w *Writer) PublishStats(ctx context.Context, rec model.StatsRecord) error {
	if err := w.client.HSet(ctx, w.keys.Stats, StatsFields(rec)).Err(); err != nil {
		return fmt.Errorf("publish stats: %w", err)
	}
	return nil
}

// PublishSummary replaces the bot_summary text.
func (w *Writer) PublishSummary(ctx context.Context, text string) error {
	if err := w.client.Set(ctx, w.keys.Summary, text, 0).Err(); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

// StatsFields renders rec as the string hash the dashboard reads.
func StatsFields(rec model.StatsRecord) map[string]interface{} {
	pd := rec.PriceDecimals
	if pd <= 0 {
		pd = 2
	}
	side := rec.Side
	if side == "" {
		side = model.DirectionNone
	}
	return map[string]interface{}{
		"balance":                fixed(rec.Balance, 2),
		"equity":                 fixed(rec.Equity, 2),
		"pnl_unrealized":         fixed(rec.UnrealizedPnL, 2),
		"pnl_percent_unrealized": fixed(rec.UnrealizedPct, 2),
		"trades_count":           strconv.Itoa(rec.TradesCount),
		"session_pnl":            fixed(rec.SessionPnL, 2),
		"current_price":          fixed(rec.CurrentPrice, pd),
		"is_long":                boolFlag(rec.IsLong),
		"position_side":          string(side),
		"entry_price":            fixed(rec.EntryPrice, pd),
	}
}

func fixed(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
