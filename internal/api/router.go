// Package api serves the dashboard's HTTP surface: START/STOP commands and
// the status, stats and summary projections each bot publishes to Redis.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"papertrader/internal/model"
)

// BotStore is the dashboard side of one bot's control channel.
type BotStore interface {
	SendCommand(ctx context.Context, cmd model.Command) error
	Status(ctx context.Context) (map[string]string, error)
	Stats(ctx context.Context) (map[string]string, error)
	Summary(ctx context.Context) (string, error)
	Runtime(ctx context.Context) (time.Duration, error)
}

// StoreFor returns the store of a bot id.
type StoreFor func(botID string) BotStore

// CommandRequest is the body of POST /api/v1/command.
type CommandRequest struct {
	BotID  string `json:"bot_id"`
	Action string `json:"action"`
}

// BotView is everything the dashboard renders for one bot.
type BotView struct {
	BotID          string            `json:"bot_id"`
	Status         map[string]string `json:"status"`
	Stats          map[string]string `json:"stats"`
	Summary        string            `json:"summary,omitempty"`
	RuntimeSeconds float64           `json:"runtime_seconds"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PushInterval is how often a websocket client receives the bot view.
var PushInterval = time.Second

// NewRouter sets up HTTP routes for the dashboard API.
func NewRouter(stores StoreFor) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/api/v1/command", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}

		var req CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		cmd := model.ParseCommand(strings.ToUpper(strings.TrimSpace(req.Action)))
		if req.BotID == "" || cmd == model.CommandNone {
			http.Error(w, `{"error":"bot_id and action START or STOP required"}`, http.StatusBadRequest)
			return
		}
		if err := stores(req.BotID).SendCommand(r.Context(), cmd); err != nil {
			log.Printf("[api] send %s to %s: %v", cmd, req.BotID, err)
			http.Error(w, `{"error":"command not delivered"}`, http.StatusBadGateway)
			return
		}
		log.Printf("[api] %s sent to %s", cmd, req.BotID)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "bot_id": req.BotID, "action": string(cmd)})
	})

	mux.HandleFunc("GET /api/v1/bots/{id}", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		w.Header().Set("Content-Type", "application/json")
		view, err := readView(r.Context(), r.PathValue("id"), stores(r.PathValue("id")))
		if err != nil {
			log.Printf("[api] read %s: %v", r.PathValue("id"), err)
			http.Error(w, `{"error":"state unavailable"}`, http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(view)
	})

	// WebSocket: pushes the bot view every PushInterval.
	mux.HandleFunc("GET /api/v1/bots/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[api] ws upgrade error: %v", err)
			return
		}
		id := r.PathValue("id")
		go pushViews(conn, id, stores(id))
	})

	return mux
}

func readView(ctx context.Context, botID string, s BotStore) (BotView, error) {
	view := BotView{BotID: botID}
	var err error
	if view.Status, err = s.Status(ctx); err != nil {
		return view, err
	}
	if view.Stats, err = s.Stats(ctx); err != nil {
		return view, err
	}
	if view.Summary, err = s.Summary(ctx); err != nil {
		return view, err
	}
	rt, err := s.Runtime(ctx)
	if err != nil {
		return view, err
	}
	view.RuntimeSeconds = rt.Seconds()
	return view, nil
}

// pushViews writes the view until the peer goes away. Reads only serve to
// notice the close.
func pushViews(conn *websocket.Conn, botID string, s BotStore) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		conn.Close()
		log.Printf("[api] ws client for %s disconnected", botID)
	}()

	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(PushInterval)
	defer ticker.Stop()
	for {
		view, err := readView(ctx, botID, s)
		if err != nil {
			log.Printf("[api] ws read %s: %v", botID, err)
		} else {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(view); err != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
