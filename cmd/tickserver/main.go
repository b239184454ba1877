// cmd/tickserver runs a local simulated exchange speaking the Binance public
// market-data protocol, so a bot can trade against it without network access.
//
// Point the bot at it with:
//
//	BINANCE_REST_URL=http://localhost:9001 BINANCE_WS_URL=ws://localhost:9001/ws
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"papertrader/config"
	"papertrader/internal/logger"
	"papertrader/internal/marketdata/sim"
)

func main() {
	addr := flag.String("addr", ":9001", "HTTP listen address")
	price := flag.Float64("price", 30000, "starting price")
	vol := flag.Float64("volatility", 0.001, "max fractional move per tick")
	every := flag.Duration("tick", 250*time.Millisecond, "tick interval")
	seed := flag.Int64("seed", 0, "random seed, 0 for time-seeded")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[tickserver] %v", err)
	}
	logger.Init("papertrader-sim", logger.ParseLevel(cfg.LogLevel), logger.FileConfig{})

	ex := sim.NewExchange(sim.Config{
		Symbol:     cfg.Symbol,
		StartPrice: *price,
		Volatility: *vol,
		Seed:       *seed,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go ex.Run(ctx, *every)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           ex.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[tickserver] simulating %s at %.2f, tick %s", cfg.Symbol, *price, *every)
		log.Printf("[tickserver] listening on %s (stream: ws://localhost%s/ws)", *addr, *addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[tickserver] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[tickserver] shutting down...")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
}
