package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	redisstore "papertrader/internal/store/redis"
)

func newServer(t *testing.T) (*httptest.Server, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	srv := httptest.NewServer(NewRouter(func(id string) BotStore {
		return redisstore.NewDashboard(client, id)
	}))
	t.Cleanup(srv.Close)
	return srv, mr
}

func TestCommand_StartWritesKeys(t *testing.T) {
	srv, mr := newServer(t)
	mr.Set("bot_summary:b1", "old summary")

	resp, err := http.Post(srv.URL+"/api/v1/command", "application/json",
		strings.NewReader(`{"bot_id":"b1","action":"start"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if got, _ := mr.Get("command:b1"); got != "START" {
		t.Errorf("expected START command, got %q", got)
	}
	if mr.Exists("bot_summary:b1") {
		t.Error("START should clear the previous summary")
	}
	if !mr.Exists("bot_start_time:b1") {
		t.Error("START should stamp the start time")
	}
}

func TestCommand_RejectsUnknownAction(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/command", "application/json",
		strings.NewReader(`{"bot_id":"b1","action":"PAUSE"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBotView(t *testing.T) {
	srv, mr := newServer(t)
	mr.HSet("bot_status:b1", "running", "1", "in_position", "0")
	mr.HSet("bot_stats:b1", "balance", "1000.00")
	mr.Set("bot_summary:b1", "Final Balance 1000.00, Total PnL 0.00, Trades 0")

	resp, err := http.Get(srv.URL + "/api/v1/bots/b1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var view BotView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status["running"] != "1" || view.Stats["balance"] != "1000.00" {
		t.Errorf("unexpected view %+v", view)
	}
	if !strings.HasPrefix(view.Summary, "Final Balance") {
		t.Errorf("unexpected summary %q", view.Summary)
	}
}

func TestBotView_WebSocketPush(t *testing.T) {
	PushInterval = 10 * time.Millisecond
	srv, mr := newServer(t)
	mr.HSet("bot_status:b1", "running", "0")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/bots/b1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first BotView
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.BotID != "b1" || first.Status["running"] != "0" {
		t.Errorf("unexpected first view %+v", first)
	}

	mr.HSet("bot_status:b1", "running", "1")
	for i := 0; i < 50; i++ {
		var v BotView
		if err := conn.ReadJSON(&v); err != nil {
			t.Fatalf("read: %v", err)
		}
		if v.Status["running"] == "1" {
			return
		}
	}
	t.Error("pushed view never reflected the new status")
}
