// Package ws adapts the exchange kline websocket into a stream of closed
// candles.
package ws

import (
	"context"
	"log"

	"papertrader/internal/model"
	"papertrader/pkg/binance"
)

// Streamer is the websocket side of the exchange client.
type Streamer interface {
	StreamKlines(ctx context.Context, symbol, interval string, onKline func(binance.Kline)) error
}

// Ingest subscribes to one symbol/interval and pushes closed candles.
type Ingest struct {
	client   Streamer
	symbol   string
	interval string

	// Optional hook, called when the connection drops while ctx is live.
	OnDisconnect func(err error)
}

// New creates a new Ingest instance.
func New(client Streamer, symbol, interval string) *Ingest {
	return &Ingest{client: client, symbol: symbol, interval: interval}
}

// Start streams closed candles into out. It blocks until the connection dies
// (the error is returned) or ctx is cancelled (nil). Open-interval updates
// are dropped.
func (ing *Ingest) Start(ctx context.Context, out chan<- model.Candle) error {
	log.Printf("[ws] streaming %s %s", ing.symbol, ing.interval)
	err := ing.client.StreamKlines(ctx, ing.symbol, ing.interval, func(k binance.Kline) {
		if !k.Closed {
			return
		}
		select {
		case out <- ToCandle(k):
		case <-ctx.Done():
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("[ws] connection closed: %v", err)
		if ing.OnDisconnect != nil {
			ing.OnDisconnect(err)
		}
		return err
	}
	return nil
}

// ToCandle converts an exchange kline to the domain candle.
func ToCandle(k binance.Kline) model.Candle {
	return model.Candle{
		OpenTime: k.OpenTime,
		Open:     k.Open,
		High:     k.High,
		Low:      k.Low,
		Close:    k.Close,
		Volume:   k.Volume,
		Closed:   k.Closed,
	}
}
