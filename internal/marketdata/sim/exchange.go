// Package sim is a local stand-in for the Binance public market-data
// endpoints. It random-walks one symbol and serves kline history, the ticker
// price and the kline websocket stream in the exchange's wire format, so the
// bot can run end to end without network access.
package sim

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"papertrader/internal/model"
	"papertrader/pkg/binance"
)

const (
	maxBars      = 1500
	defaultLimit = 500
)

// Config holds the simulated market parameters.
type Config struct {
	Symbol     string
	StartPrice float64
	Volatility float64 // max fractional move per tick, default 0.001
	Seed       int64   // 0 means time-seeded
}

// series is one interval's candle history plus the forming bar.
type series struct {
	interval string
	dur      time.Duration
	bars     []model.Candle // closed, oldest first
	forming  model.Candle
}

// Exchange holds the simulated order book state.
type Exchange struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	price  float64
	series map[string]*series

	hub *hub
}

// NewExchange creates an exchange quoting cfg.Symbol at cfg.StartPrice.
func NewExchange(cfg Config) *Exchange {
	cfg.Symbol = strings.ToUpper(cfg.Symbol)
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.001
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Exchange{
		cfg:    cfg,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(seed)),
		price:  cfg.StartPrice,
		series: make(map[string]*series),
		hub:    newHub(),
	}
}

// IntervalDuration parses an exchange interval such as "1m", "4h" or "1d".
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("sim: bad interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("sim: bad interval %q", interval)
	}
	var unit time.Duration
	switch interval[len(interval)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("sim: bad interval %q", interval)
	}
	return time.Duration(n) * unit, nil
}

// bucket aligns t down to the start of its interval.
func bucket(t time.Time, d time.Duration) time.Time {
	return t.UTC().Truncate(d)
}

// Price returns the current simulated price.
func (e *Exchange) Price() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.price
}

// Tick advances the random walk one step and returns the kline events it
// produced for every tracked interval. A bar that ended emits a closing event
// before the next bar's first update.
func (e *Exchange) Tick() []binance.KlineEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	move := (e.rng.Float64()*2 - 1) * e.cfg.Volatility
	e.price = math.Max(e.price*(1+move), 0.01)
	now := e.now()

	var out []binance.KlineEvent
	for _, s := range e.series {
		if b := bucket(now, s.dur); b.After(s.forming.OpenTime) {
			closed := s.forming
			closed.Closed = true
			s.bars = append(s.bars, closed)
			if len(s.bars) > maxBars {
				s.bars = s.bars[len(s.bars)-maxBars:]
			}
			out = append(out, e.event(s, closed, now))
			s.forming = model.Candle{OpenTime: b, Open: closed.Close, High: closed.Close, Low: closed.Close, Close: closed.Close}
		}
		f := &s.forming
		f.Close = e.price
		f.High = math.Max(f.High, e.price)
		f.Low = math.Min(f.Low, e.price)
		f.Volume += e.rng.Float64()
		out = append(out, e.event(s, *f, now))
	}
	return out
}

// track returns the series for interval, seeding a backwards random walk
// that ends at the current price on first use. Caller holds e.mu.
func (e *Exchange) track(interval string) (*series, error) {
	if s, ok := e.series[interval]; ok {
		return s, nil
	}
	d, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	open := bucket(e.now(), d)
	s := &series{
		interval: interval,
		dur:      d,
		forming:  model.Candle{OpenTime: open, Open: e.price, High: e.price, Low: e.price, Close: e.price},
	}

	bars := make([]model.Candle, maxBars)
	next := e.price
	for i := maxBars - 1; i >= 0; i-- {
		c := next
		o := c * (1 + (e.rng.Float64()*2-1)*e.cfg.Volatility*5)
		spread := math.Abs(c-o) * e.rng.Float64()
		bars[i] = model.Candle{
			OpenTime: open.Add(-time.Duration(maxBars-i) * d),
			Open:     o,
			High:     math.Max(o, c) + spread,
			Low:      math.Max(math.Min(o, c)-spread, 0.01),
			Close:    c,
			Volume:   e.rng.Float64() * 100,
			Closed:   true,
		}
		next = o
	}
	s.bars = bars
	e.series[interval] = s
	log.Printf("[sim] tracking %s %s", e.cfg.Symbol, interval)
	return s, nil
}

func (e *Exchange) event(s *series, c model.Candle, now time.Time) binance.KlineEvent {
	var ev binance.KlineEvent
	ev.EventType = "kline"
	ev.EventTime = now.UnixMilli()
	ev.Symbol = e.cfg.Symbol
	ev.Kline.StartTime = c.OpenTime.UnixMilli()
	ev.Kline.CloseTime = c.OpenTime.Add(s.dur).UnixMilli() - 1
	ev.Kline.Symbol = e.cfg.Symbol
	ev.Kline.Interval = s.interval
	ev.Kline.Open = fmtFloat(c.Open)
	ev.Kline.High = fmtFloat(c.High)
	ev.Kline.Low = fmtFloat(c.Low)
	ev.Kline.Close = fmtFloat(c.Close)
	ev.Kline.Volume = fmtFloat(c.Volume)
	ev.Kline.Closed = c.Closed
	return ev
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 8, 64)
}

// Handler serves the REST routes and the websocket stream at /ws.
func (e *Exchange) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(binance.RouteKlines, e.handleKlines)
	mux.HandleFunc(binance.RouteTicker, e.handleTicker)
	mux.HandleFunc("/ws", e.handleStream)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"sim"}`))
	})
	return mux
}

func (e *Exchange) checkSymbol(w http.ResponseWriter, r *http.Request) bool {
	if strings.ToUpper(r.URL.Query().Get("symbol")) != e.cfg.Symbol {
		writeAPIError(w, http.StatusBadRequest, -1121, "Invalid symbol.")
		return false
	}
	return true
}

func (e *Exchange) handleKlines(w http.ResponseWriter, r *http.Request) {
	if !e.checkSymbol(w, r) {
		return
	}
	q := r.URL.Query()
	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeAPIError(w, http.StatusBadRequest, -1100, "Illegal characters found in parameter 'limit'.")
			return
		}
		limit = min(n, maxBars)
	}

	e.mu.Lock()
	s, err := e.track(q.Get("interval"))
	if err != nil {
		e.mu.Unlock()
		writeAPIError(w, http.StatusBadRequest, -1120, "Invalid interval.")
		return
	}
	closed := s.bars[max(len(s.bars)-(limit-1), 0):]
	rows := make([][]any, 0, len(closed)+1)
	for _, c := range append(closed[:len(closed):len(closed)], s.forming) {
		closeMs := c.OpenTime.Add(s.dur).UnixMilli() - 1
		rows = append(rows, []any{
			c.OpenTime.UnixMilli(), fmtFloat(c.Open), fmtFloat(c.High), fmtFloat(c.Low),
			fmtFloat(c.Close), fmtFloat(c.Volume), closeMs, "0", 0, "0", "0", "0",
		})
	}
	e.mu.Unlock()

	writeJSON(w, rows)
}

func (e *Exchange) handleTicker(w http.ResponseWriter, r *http.Request) {
	if !e.checkSymbol(w, r) {
		return
	}
	writeJSON(w, map[string]string{"symbol": e.cfg.Symbol, "price": fmtFloat(e.Price())})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg})
}
