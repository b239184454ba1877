package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"papertrader/pkg/binance"

	"github.com/gorilla/websocket"
)

// client is one websocket connection and the streams it subscribed to.
type client struct {
	send    chan []byte
	mu      sync.RWMutex
	streams map[string]bool
}

func (c *client) subscribed(stream string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[stream]
}

type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) register() *client {
	c := &client{send: make(chan []byte, 256), streams: make(map[string]bool)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast sends msg to clients subscribed to stream. Slow clients drop.
func (h *hub) broadcast(stream string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(stream) {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// deliver sends msg to c if it is still registered.
func (h *hub) deliver(c *client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// Run ticks the market every interval and pushes the resulting kline events
// to subscribed clients until ctx is cancelled.
func (e *Exchange) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range e.Tick() {
				b, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				e.hub.broadcast(binance.StreamName(ev.Symbol, ev.Kline.Interval), b)
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type controlFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type controlReply struct {
	Result any   `json:"result"`
	ID     int64 `json:"id"`
}

func (e *Exchange) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[sim] upgrade error: %v", err)
		return
	}
	log.Printf("[sim] client connected: %s", r.RemoteAddr)

	c := e.hub.register()
	defer func() {
		e.hub.unregister(c)
		conn.Close()
		log.Printf("[sim] client disconnected: %s", r.RemoteAddr)
	}()

	go e.readControl(conn, c)

	for msg := range c.send {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readControl applies SUBSCRIBE and UNSUBSCRIBE frames until the connection
// drops, then unregisters the client so the write loop ends.
func (e *Exchange) readControl(conn *websocket.Conn, c *client) {
	defer e.hub.unregister(c)
	for {
		var f controlFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Method {
		case "SUBSCRIBE", "UNSUBSCRIBE":
		default:
			continue
		}
		for _, stream := range f.Params {
			stream = strings.ToLower(stream)
			if f.Method == "UNSUBSCRIBE" {
				c.mu.Lock()
				delete(c.streams, stream)
				c.mu.Unlock()
				continue
			}
			if err := e.subscribe(stream); err != nil {
				log.Printf("[sim] subscribe %s: %v", stream, err)
				continue
			}
			c.mu.Lock()
			c.streams[stream] = true
			c.mu.Unlock()
		}
		reply, _ := json.Marshal(controlReply{ID: f.ID})
		e.hub.deliver(c, reply)
	}
}

// subscribe starts tracking the interval named by a "<symbol>@kline_<interval>"
// stream.
func (e *Exchange) subscribe(stream string) error {
	sym, interval, ok := strings.Cut(stream, "@kline_")
	if !ok || !strings.EqualFold(sym, e.cfg.Symbol) {
		return fmt.Errorf("sim: unknown stream %q", stream)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.track(interval)
	return err
}
