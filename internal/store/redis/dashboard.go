package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"papertrader/internal/model"
)

// Dashboard is the operator side of the control channel. It issues commands
// and reads back the projections the engine publishes.
type Dashboard struct {
	client *goredis.Client
	keys   Keys
	now    func() time.Time
}

// NewDashboard binds a dashboard client to botID's keys.
func NewDashboard(client *goredis.Client, botID string) *Dashboard {
	return &Dashboard{client: client, keys: KeysFor(botID), now: time.Now}
}

// SendCommand writes cmd for the engine to consume. START also stamps the
// start time and clears the previous session's stats and summary.
func (d *Dashboard) SendCommand(ctx context.Context, cmd model.Command) error {
	if cmd != model.CommandStart && cmd != model.CommandStop {
		return fmt.Errorf("unsupported command %q", cmd)
	}
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, d.keys.Command, string(cmd), 0)
	if cmd == model.CommandStart {
		ts := float64(d.now().UnixNano()) / float64(time.Second)
		pipe.Set(ctx, d.keys.StartTime, strconv.FormatFloat(ts, 'f', 3, 64), 0)
		pipe.Del(ctx, d.keys.Summary, d.keys.Stats)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

// Status reads the bot_status hash. Missing keys yield an empty map.
func (d *Dashboard) Status(ctx context.Context) (map[string]string, error) {
	m, err := d.client.HGetAll(ctx, d.keys.Status).Result()
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	return m, nil
}

// Stats reads the bot_stats hash.
func (d *Dashboard) Stats(ctx context.Context) (map[string]string, error) {
	m, err := d.client.HGetAll(ctx, d.keys.Stats).Result()
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	return m, nil
}

// Summary reads the last session summary, "" when none.
func (d *Dashboard) Summary(ctx context.Context) (string, error) {
	s, err := d.client.Get(ctx, d.keys.Summary).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read summary: %w", err)
	}
	return s, nil
}

// Runtime returns the time elapsed since the last START, 0 when unknown.
func (d *Dashboard) Runtime(ctx context.Context) (time.Duration, error) {
	raw, err := d.client.Get(ctx, d.keys.StartTime).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read start time: %w", err)
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, nil
	}
	return d.now().Sub(time.Unix(0, int64(secs*float64(time.Second)))), nil
}
