// Package binance is a minimal client for Binance spot public market data:
// kline history, the latest ticker price and the kline websocket stream.
// No endpoint used here requires an API key.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultRootURL   = "https://api.binance.com"
	DefaultStreamURL = "wss://stream.binance.com:9443/ws"

	RouteKlines = "/api/v3/klines"
	RouteTicker = "/api/v3/ticker/price"
)

// Config configures a Client. Zero values fall back to the public endpoints.
type Config struct {
	RootURL     string
	StreamURL   string
	Timeout     time.Duration // REST timeout, default 10s
	ReadTimeout time.Duration // websocket idle limit, default 5m
	HTTPClient  *http.Client
}

// Client talks to the public REST and websocket endpoints.
type Client struct {
	rootURL     string
	streamURL   string
	readTimeout time.Duration
	httpClient  *http.Client

	now func() time.Time
}

// NewClient initializes the client with defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = DefaultRootURL
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = DefaultStreamURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		rootURL:     strings.TrimRight(cfg.RootURL, "/"),
		streamURL:   cfg.StreamURL,
		readTimeout: cfg.ReadTimeout,
		httpClient:  hc,
		now:         time.Now,
	}
}

// Kline is one candlestick as reported by the exchange.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Interval  string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool // the interval has ended
}

// APIError is a non-2xx REST response.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("binance: http %d", e.Status)
	}
	return fmt.Sprintf("binance: http %d: code %d: %s", e.Status, e.Code, e.Msg)
}

// ErrMalformed reports a response that could not be decoded.
var ErrMalformed = errors.New("binance: malformed response")

// Klines returns up to limit most recent klines, oldest first. Rows that fail
// to parse are skipped.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := c.get(ctx, RouteKlines, q, &raw); err != nil {
		return nil, err
	}

	now := c.now()
	out := make([]Kline, 0, len(raw))
	for _, row := range raw {
		k, err := parseKlineRow(row)
		if err != nil {
			continue
		}
		k.Symbol = strings.ToUpper(symbol)
		k.Interval = interval
		k.Closed = k.CloseTime.Before(now)
		out = append(out, k)
	}
	return out, nil
}

// TickerPrice returns the latest traded price of symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.get(ctx, RouteTicker, q, &resp); err != nil {
		return 0, err
	}
	p, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || p <= 0 {
		return 0, fmt.Errorf("%w: ticker price %q", ErrMalformed, resp.Price)
	}
	return p, nil
}

func (c *Client) get(ctx context.Context, route string, q url.Values, dst any) error {
	reqURL := c.rootURL + route + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: GET %s: %w", route, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance: read %s: %w", route, err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, route, err)
	}
	return nil
}

// parseKlineRow decodes [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlineRow(row []json.RawMessage) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("%w: kline row has %d fields", ErrMalformed, len(row))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return Kline{}, fmt.Errorf("%w: open time: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return Kline{}, fmt.Errorf("%w: close time: %v", ErrMalformed, err)
	}

	var vals [5]float64
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return Kline{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, i+1, err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Kline{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, i+1, err)
		}
		vals[i] = f
	}
	return Kline{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
