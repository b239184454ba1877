// cmd/api_gateway serves the dashboard API: it relays START/STOP commands to
// bots over Redis and exposes their published status, stats and summaries.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrader/config"
	"papertrader/internal/api"
	"papertrader/internal/logger"
	redisstore "papertrader/internal/store/redis"
)

func main() {
	listenAddr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[api_gateway] %v", err)
	}
	logger.Init("papertrader-api", logger.ParseLevel(cfg.LogLevel), logger.FileConfig{Path: cfg.LogFile})

	rdb, err := redisstore.Dial(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[api_gateway] redis unreachable: %v", err)
	}
	defer rdb.Close()

	mux := api.NewRouter(func(botID string) api.BotStore {
		return redisstore.NewDashboard(rdb, botID)
	})
	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[api_gateway] serving at http://localhost%s", *listenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[api_gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[api_gateway] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
