package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStreamClosed is returned when the kline stream ends while its context
// is still live. The caller is expected to resubscribe.
var ErrStreamClosed = errors.New("binance: kline stream closed")

var subscribeSeq atomic.Int64

// subscribeRequest is the live-subscription control frame.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// KlineEvent is the "kline" stream payload.
type KlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// StreamName returns the stream identifier, e.g. "btcusdt@kline_5m".
func StreamName(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + interval
}

// StreamKlines dials the websocket, subscribes to symbol's kline stream and
// calls onKline for every kline update of interval. It blocks until the
// connection dies (ErrStreamClosed-wrapped error) or ctx is cancelled (nil).
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, onKline func(Kline)) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL, nil)
	if err != nil {
		if resp != nil {
			log.Printf("[binance] dial failed, status: %s", resp.Status)
		}
		return fmt.Errorf("binance: dial %s: %w", c.streamURL, err)
	}
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	stream := StreamName(symbol, interval)
	req := subscribeRequest{Method: "SUBSCRIBE", Params: []string{stream}, ID: subscribeSeq.Add(1)}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("binance: subscribe %s: %w", stream, err)
	}
	log.Printf("[binance] subscribed to %s", stream)

	// Unblock ReadMessage on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}

		k, ok, err := ParseKlineEvent(data)
		if err != nil {
			log.Printf("[binance] parse error: %v", err)
			continue
		}
		if !ok || k.Interval != interval {
			continue
		}
		onKline(k)
	}
}

// ParseKlineEvent decodes one stream frame. ok is false for frames that are
// not kline events, such as subscription acknowledgements.
func ParseKlineEvent(data []byte) (Kline, bool, error) {
	var ev KlineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return Kline{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.EventType != "kline" {
		return Kline{}, false, nil
	}

	k := Kline{
		OpenTime:  time.UnixMilli(ev.Kline.StartTime).UTC(),
		CloseTime: time.UnixMilli(ev.Kline.CloseTime).UTC(),
		Symbol:    ev.Kline.Symbol,
		Interval:  ev.Kline.Interval,
		Closed:    ev.Kline.Closed,
	}
	fields := []struct {
		dst *float64
		raw string
	}{
		{&k.Open, ev.Kline.Open},
		{&k.High, ev.Kline.High},
		{&k.Low, ev.Kline.Low},
		{&k.Close, ev.Kline.Close},
		{&k.Volume, ev.Kline.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return Kline{}, false, fmt.Errorf("%w: kline value %q", ErrMalformed, f.raw)
		}
		*f.dst = v
	}
	return k, true, nil
}
