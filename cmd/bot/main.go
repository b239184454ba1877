// cmd/bot runs one paper-trading engine: it waits for START on Redis, trades
// the configured symbol on Binance closed-candle data, and publishes its
// status, stats and session summary back to Redis.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrader/config"
	"papertrader/internal/engine"
	"papertrader/internal/execution"
	"papertrader/internal/logger"
	"papertrader/internal/marketdata"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/notification"
	"papertrader/internal/portfolio"
	"papertrader/internal/retry"
	redisstore "papertrader/internal/store/redis"
	"papertrader/internal/strategy"
	"papertrader/pkg/binance"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[bot] %v", err)
	}

	logger.Init("papertrader", logger.ParseLevel(cfg.LogLevel), logger.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   true,
	})
	log.Println("[bot] starting...")
	cfg.LogSummary()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()

	// ---- Redis control channel (required at boot) ----
	rdb, err := redisstore.Dial(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[bot] redis unreachable: %v", err)
	}
	defer rdb.Close()
	health.SetRedisConnected(true)

	writer := redisstore.NewWriter(rdb, cfg.BotID)
	cb := redisstore.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout)
	cb.OnStateChange = func(from, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[bot] redis breaker %s -> %s", from, to)
	}
	control := redisstore.NewBufferedWriter(writer, cb)
	control.OnBuffer = func(kind string) {
		prom.RedisBufferedWrites.Inc()
	}
	control.OnFlush = func(count int) {
		log.Printf("[bot] replayed %d buffered records", count)
	}

	// ---- Trade journal (optional) ----
	var journal model.TradeJournal
	var journalDB *execution.Journal
	if cfg.JournalPath != "" {
		journalDB, err = execution.NewJournal(cfg.JournalPath, cfg.BotID)
		if err != nil {
			log.Printf("[bot] WARNING: journal init failed: %v (continuing without journal)", err)
		} else {
			journal = journalDB
			defer journalDB.Close()
		}
	}
	if journalDB != nil {
		health.StartLivenessChecker(ctx, rdb, journalDB.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, rdb, nil, 10*time.Second)
	}

	// ---- Market data ----
	client := binance.NewClient(binance.Config{
		RootURL:   cfg.BinanceRESTURL,
		StreamURL: cfg.BinanceWSURL,
	})
	source := marketdata.NewSource(marketdata.Config{
		Symbol:       cfg.Symbol,
		Interval:     cfg.Interval,
		HistoryLimit: cfg.HistoryLimit,
		MinCandles:   cfg.MinCandles,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			Multiplier:  2,
		},
	}, client)

	// ---- Strategy & ledger ----
	strat, err := strategy.New(cfg.Strategy, cfg.Indicators, cfg.Interval, cfg.HigherInterval)
	if err != nil {
		log.Fatalf("[bot] %v", err)
	}
	account := portfolio.New(cfg.Risk)
	executor := execution.NewPaperExecutor(account, journal)

	bot, err := engine.New(engine.Config{
		BotID:          cfg.BotID,
		Symbol:         cfg.Symbol,
		PriceDecimals:  cfg.PriceDecimals,
		HistoryLimit:   cfg.HistoryLimit,
		IdlePoll:       cfg.IdlePoll,
		SupervisePoll:  cfg.SupervisePoll,
		ErrorDelay:     cfg.ErrorDelay,
		ReportSchedule: cfg.ReportSchedule,
	}, engine.Deps{
		Source:   source,
		Control:  control,
		House:    writer,
		Strategy: strat,
		Executor: executor,
		Notifier: buildNotifier(cfg),
		Metrics:  prom,
		Health:   health,
	})
	if err != nil {
		log.Fatalf("[bot] %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Run(ctx)
	}()

	log.Println("[bot] ╔══════════════════════════════════════════════════════════╗")
	log.Println("[bot] ║  Paper Trading Engine                                    ║")
	log.Println("[bot] ║                                                          ║")
	log.Println("[bot] ║  [Binance klines] → [Indicators] → [Ledger] → [Redis]    ║")
	log.Printf("[bot] ║  %s %s %s", cfg.BotID, cfg.Symbol, cfg.Strategy)
	log.Println("[bot] ╚══════════════════════════════════════════════════════════╝")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[bot] shutdown signal received, ending session...")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[bot] shutdown complete.")
}

// buildNotifier always logs and adds the webhook and Telegram backends
// that are configured.
func buildNotifier(cfg *config.Config) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL, cfg.BotID))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	return n
}
