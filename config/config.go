// Package config loads engine settings with viper: built-in defaults, an
// optional YAML file named by CONFIG_FILE, then environment overrides.
// Keys are flat; the environment variable for key "redis_addr" is REDIS_ADDR.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"papertrader/internal/indicator"
	"papertrader/internal/portfolio"
)

// Config holds all engine configuration.
type Config struct {
	BotID          string
	Symbol         string
	Strategy       indicator.Kind
	Interval       string
	HigherInterval string
	HistoryLimit   int
	MinCandles     int
	PriceDecimals  int32

	Indicators indicator.Params
	Risk       portfolio.Config

	// Infrastructure
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MetricsAddr    string
	JournalPath    string // empty disables the trade journal
	BinanceRESTURL string
	BinanceWSURL   string

	// Supervisor timing
	IdlePoll       time.Duration
	SupervisePoll  time.Duration
	ErrorDelay     time.Duration
	ReportSchedule string // cron schedule, empty disables

	RetryAttempts  int
	RetryBaseDelay time.Duration

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Notifications
	WebhookURL     string
	TelegramToken  string
	TelegramChatID string
}

// Load reads configuration from defaults, CONFIG_FILE and the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	p := indicator.DefaultParams()

	v.SetDefault("bot_id", "bot1")
	v.SetDefault("symbol", "BTCUSDT")
	v.SetDefault("strategy", string(indicator.KindMACDCloud))
	v.SetDefault("history_limit", 500)
	v.SetDefault("min_candles", 200)
	v.SetDefault("price_decimals", 2)

	v.SetDefault("macd_fast", p.MACDCloud.FastPeriod)
	v.SetDefault("macd_slow", p.MACDCloud.SlowPeriod)
	v.SetDefault("macd_signal", p.MACDCloud.SignalPeriod)
	v.SetDefault("cloud_periods", "50,100")
	v.SetDefault("bb_length", p.Squeeze.BBLength)
	v.SetDefault("bb_mult", p.Squeeze.BBMult)
	v.SetDefault("kc_length", p.Squeeze.KCLength)
	v.SetDefault("kc_mult", p.Squeeze.KCMult)
	v.SetDefault("atr_period", p.Squeeze.ATRPeriod)
	v.SetDefault("momentum_slow", p.Squeeze.MomentumSlow)

	// Strategy-dependent risk defaults (slippage_pct, reverse_signal,
	// interval, higher_interval) are resolved in fromViper.
	r := portfolio.DefaultConfig(portfolio.MarginReserve)
	v.SetDefault("initial_balance", r.InitialBalance)
	v.SetDefault("risk_amount", r.RiskAmount)
	v.SetDefault("stop_loss_pct", r.StopLossPct)
	v.SetDefault("take_profit_pct", r.TakeProfitPct)
	v.SetDefault("daily_max_loss", r.DailyMaxLoss)
	v.SetDefault("max_drawdown", r.MaxDrawdown)
	v.SetDefault("commission_pct", r.CommissionPct)
	v.SetDefault("min_notional", r.MinNotional)

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("journal_path", "data/trades.db")
	v.SetDefault("binance_rest_url", "https://api.binance.com")
	v.SetDefault("binance_ws_url", "wss://stream.binance.com:9443/ws")

	v.SetDefault("idle_poll", time.Second)
	v.SetDefault("supervise_poll", time.Second)
	v.SetDefault("error_delay", 5*time.Second)
	v.SetDefault("report_schedule", "@hourly")

	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_base_delay", 2*time.Second)
	v.SetDefault("breaker_max_failures", 5)
	v.SetDefault("breaker_reset_timeout", 10*time.Second)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 5)
	v.SetDefault("log_max_age_days", 14)

	v.SetDefault("webhook_url", "")
	v.SetDefault("telegram_token", "")
	v.SetDefault("telegram_chat_id", "")
}

func fromViper(v *viper.Viper) (*Config, error) {
	kind := indicator.Kind(strings.ToLower(v.GetString("strategy")))

	periods, err := ParseInts(v.GetString("cloud_periods"))
	if err != nil {
		return nil, fmt.Errorf("config: cloud_periods: %w", err)
	}

	cfg := &Config{
		BotID:         v.GetString("bot_id"),
		Symbol:        strings.ToUpper(v.GetString("symbol")),
		Strategy:      kind,
		HistoryLimit:  v.GetInt("history_limit"),
		MinCandles:    v.GetInt("min_candles"),
		PriceDecimals: v.GetInt32("price_decimals"),

		Indicators: indicator.Params{
			MACDCloud: indicator.MACDCloudParams{
				FastPeriod:   v.GetInt("macd_fast"),
				SlowPeriod:   v.GetInt("macd_slow"),
				SignalPeriod: v.GetInt("macd_signal"),
				CloudPeriods: periods,
			},
			Squeeze: indicator.SqueezeParams{
				BBLength:     v.GetInt("bb_length"),
				BBMult:       v.GetFloat64("bb_mult"),
				KCLength:     v.GetInt("kc_length"),
				KCMult:       v.GetFloat64("kc_mult"),
				ATRPeriod:    v.GetInt("atr_period"),
				MomentumSlow: v.GetInt("momentum_slow"),
			},
		},

		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		MetricsAddr:    v.GetString("metrics_addr"),
		JournalPath:    v.GetString("journal_path"),
		BinanceRESTURL: v.GetString("binance_rest_url"),
		BinanceWSURL:   v.GetString("binance_ws_url"),

		IdlePoll:       v.GetDuration("idle_poll"),
		SupervisePoll:  v.GetDuration("supervise_poll"),
		ErrorDelay:     v.GetDuration("error_delay"),
		ReportSchedule: v.GetString("report_schedule"),

		RetryAttempts:       v.GetInt("retry_attempts"),
		RetryBaseDelay:      v.GetDuration("retry_base_delay"),
		BreakerMaxFailures:  v.GetInt("breaker_max_failures"),
		BreakerResetTimeout: v.GetDuration("breaker_reset_timeout"),

		LogLevel:      v.GetString("log_level"),
		LogFile:       v.GetString("log_file"),
		LogMaxSizeMB:  v.GetInt("log_max_size_mb"),
		LogMaxBackups: v.GetInt("log_max_backups"),
		LogMaxAgeDays: v.GetInt("log_max_age_days"),

		WebhookURL:     v.GetString("webhook_url"),
		TelegramToken:  v.GetString("telegram_token"),
		TelegramChatID: v.GetString("telegram_chat_id"),
	}

	// The squeeze variant trades a single 15m stream; the cloud variant
	// filters 5m entries with a 15m MACD.
	cfg.Interval, cfg.HigherInterval = "5m", "15m"
	if kind == indicator.KindSqueeze {
		cfg.Interval, cfg.HigherInterval = "15m", ""
	}
	if v.IsSet("interval") {
		cfg.Interval = v.GetString("interval")
	}
	if v.IsSet("higher_interval") {
		cfg.HigherInterval = v.GetString("higher_interval")
	}

	r := portfolio.DefaultConfig(cfg.Accounting())
	r.InitialBalance = v.GetFloat64("initial_balance")
	r.RiskAmount = v.GetFloat64("risk_amount")
	r.StopLossPct = v.GetFloat64("stop_loss_pct")
	r.TakeProfitPct = v.GetFloat64("take_profit_pct")
	r.DailyMaxLoss = v.GetFloat64("daily_max_loss")
	r.MaxDrawdown = v.GetFloat64("max_drawdown")
	r.CommissionPct = v.GetFloat64("commission_pct")
	r.MinNotional = v.GetFloat64("min_notional")
	if v.IsSet("slippage_pct") {
		r.SlippagePct = v.GetFloat64("slippage_pct")
	}
	if v.IsSet("reverse_signal") {
		r.ReverseSignal = v.GetBool("reverse_signal")
	}
	cfg.Risk = r

	return cfg, nil
}

// Accounting returns the ledger cost convention of the configured strategy.
func (c *Config) Accounting() portfolio.Accounting {
	if c.Strategy == indicator.KindSqueeze {
		return portfolio.FoldedSlippage
	}
	return portfolio.MarginReserve
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.BotID == "" {
		return fmt.Errorf("config: bot_id is required")
	}
	if c.Symbol == "" {
		return fmt.Errorf("config: symbol is required")
	}
	switch c.Strategy {
	case indicator.KindMACDCloud:
		if c.HigherInterval == "" {
			return fmt.Errorf("config: strategy %s needs higher_interval", c.Strategy)
		}
		m := c.Indicators.MACDCloud
		if m.FastPeriod <= 0 || m.SlowPeriod <= 0 || m.SignalPeriod <= 0 {
			return fmt.Errorf("config: macd periods must be positive")
		}
		if len(m.CloudPeriods) == 0 {
			return fmt.Errorf("config: cloud_periods is empty")
		}
	case indicator.KindSqueeze:
		s := c.Indicators.Squeeze
		if s.BBLength <= 0 || s.KCLength <= 0 || s.ATRPeriod <= 0 || s.MomentumSlow <= 0 {
			return fmt.Errorf("config: squeeze periods must be positive")
		}
		if s.BBMult <= 0 || s.KCMult <= 0 {
			return fmt.Errorf("config: squeeze multipliers must be positive")
		}
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Strategy)
	}
	if c.Interval == "" {
		return fmt.Errorf("config: interval is required")
	}
	if c.MinCandles <= 0 || c.HistoryLimit < c.MinCandles {
		return fmt.Errorf("config: need 0 < min_candles (%d) <= history_limit (%d)", c.MinCandles, c.HistoryLimit)
	}
	if c.IdlePoll <= 0 || c.SupervisePoll <= 0 {
		return fmt.Errorf("config: poll intervals must be positive")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("config: retry_attempts must be positive")
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseInts parses a comma-separated list of positive integers.
func ParseInts(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid value %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

// LogSummary prints the effective settings without secrets.
func (c *Config) LogSummary() {
	log.Printf("[config] bot=%s symbol=%s strategy=%s interval=%s higher=%s accounting=%s",
		c.BotID, c.Symbol, c.Strategy, c.Interval, c.HigherInterval, c.Accounting())
	log.Printf("[config] redis=%s metrics=%s journal=%q report=%q",
		c.RedisAddr, c.MetricsAddr, c.JournalPath, c.ReportSchedule)
}
