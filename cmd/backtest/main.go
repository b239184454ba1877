// cmd/backtest replays recent exchange history through the configured
// strategy and paper ledger offline, then prints the session summary.
// Strategy and risk settings come from the same config as cmd/bot.
//
// Usage:
//
//	go run ./cmd/backtest --limit=1000 --window=500 --journal=data/backtest.db
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrader/config"
	"papertrader/internal/execution"
	"papertrader/internal/logger"
	"papertrader/internal/marketdata"
	"papertrader/internal/marketdata/replay"
	"papertrader/internal/model"
	"papertrader/internal/portfolio"
	"papertrader/internal/strategy"
	"papertrader/pkg/binance"
)

func main() {
	limit := flag.Int("limit", 1000, "Candles to fetch per interval (exchange max 1000)")
	window := flag.Int("window", 500, "Candles per indicator window, as the live fetch limit")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	journalPath := flag.String("journal", "", "Optional SQLite path for the trade journal")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	logger.Init("papertrader-backtest", logger.ParseLevel(cfg.LogLevel), logger.FileConfig{Path: cfg.LogFile})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	strat, err := strategy.New(cfg.Strategy, cfg.Indicators, cfg.Interval, cfg.HigherInterval)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	// ---- Fetch history ----
	client := binance.NewClient(binance.Config{RootURL: cfg.BinanceRESTURL})
	source := marketdata.NewSource(marketdata.Config{
		Symbol:     cfg.Symbol,
		Interval:   cfg.Interval,
		MinCandles: cfg.MinCandles,
	}, client)

	working, higher := strat.Intervals()
	workingCandles, err := source.History(ctx, working, *limit)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	var higherCandles []model.Candle
	if higher != "" {
		higherCandles, err = source.History(ctx, higher, *limit)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
	}
	// The exchange returns the still-open candle last. Replay only reads its
	// open, as the just-opened bar of the final step.

	// ---- Ledger ----
	var journal model.TradeJournal
	if *journalPath != "" {
		j, err := execution.NewJournal(*journalPath, cfg.BotID+"-backtest")
		if err != nil {
			log.Fatalf("[backtest] journal: %v", err)
		}
		defer j.Close()
		journal = j
	}
	account := portfolio.New(cfg.Risk)
	executor := execution.NewPaperExecutor(account, journal)
	account.StartSession(fmt.Sprintf("backtest-%d", time.Now().Unix()))

	// ---- Replay ----
	r := replay.New(workingCandles, higherCandles, *window, cfg.MinCandles)
	counts := map[portfolio.Action]int{}
	var last model.Candle
	err = r.Run(ctx, *speed, func(s replay.Step) {
		last = s.Candle
		if !account.SessionActive() {
			return
		}
		sig, _, err := strat.Evaluate(s.Input)
		if err != nil {
			log.Printf("[backtest] step %d: %v", s.Index, err)
			return
		}
		d := executor.Execute(sig, s.Candle.Close, s.Candle.OpenTime)
		counts[d.Action]++
	})
	if err != nil {
		log.Printf("[backtest] replay stopped: %v", err)
	}
	if last.Close > 0 {
		executor.ForceClose(last.Close, model.ReasonCommandStop, last.OpenTime)
	}
	account.StopSession()

	// ---- Report ----
	sum := account.Summary()
	if len(workingCandles) > 0 {
		sum.Runtime = last.OpenTime.Sub(workingCandles[0].OpenTime)
	}
	pnl := account.PnL()
	st := account.State()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║              BACKTEST COMPLETE               ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Printf("║  Symbol / strategy: %-24s ║\n", cfg.Symbol+" "+strat.Name())
	fmt.Printf("║  Steps replayed:    %-24d ║\n", r.Len())
	fmt.Printf("║  Entries:           %-24d ║\n", counts[portfolio.ActionEntered])
	fmt.Printf("║  Rejected entries:  %-24d ║\n", counts[portfolio.ActionRejected])
	fmt.Printf("║  Wins / losses:     %-24s ║\n", fmt.Sprintf("%d / %d", pnl.Wins, pnl.Losses))
	fmt.Printf("║  Gross PnL:         %-24.2f ║\n", pnl.GrossPnL)
	fmt.Printf("║  Costs:             %-24.2f ║\n", pnl.Commission+pnl.Slippage)
	fmt.Printf("║  Halted:            %-24v ║\n", st.Halted)
	fmt.Printf("║  History span:      %-24s ║\n", sum.Runtime)
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println(sum.Text())
}
