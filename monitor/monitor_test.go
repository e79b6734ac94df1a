package monitor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mazesync/protocol"
	"mazesync/server"
)

type fakeSource struct {
	timeout time.Duration
	metrics server.RelayMetrics
}

func (f *fakeSource) State() server.State { return server.Running }
func (f *fakeSource) Players() []server.PlayerInfo {
	return []server.PlayerInfo{{Username: "A", Port: 5001, Number: 0, Active: true}}
}
func (f *fakeSource) Metrics() *server.RelayMetrics  { return &f.metrics }
func (f *fakeSource) TickTimeout() time.Duration     { return f.timeout }
func (f *fakeSource) SetTickTimeout(d time.Duration) { f.timeout = d }

func TestHealthAndMetrics(t *testing.T) {
	src := &fakeSource{timeout: time.Second}
	src.metrics.AddTick(int64(2 * time.Millisecond))
	srv := httptest.NewServer(New(src).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		State   string         `json:"state"`
		Metrics map[string]any `json:"metrics"`
		Players []server.PlayerInfo
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.State != "RUNNING" {
		t.Fatalf("state: %q", payload.State)
	}
	if payload.Metrics["tick_count"].(float64) != 1 {
		t.Fatalf("tick_count: %v", payload.Metrics["tick_count"])
	}
	if len(payload.Players) != 1 || payload.Players[0].Username != "A" {
		t.Fatalf("players: %+v", payload.Players)
	}
}

func TestAdminConfigUpdatesTickTimeout(t *testing.T) {
	src := &fakeSource{timeout: time.Second}
	srv := httptest.NewServer(New(src).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/config", "application/json", bytes.NewBufferString(`{"tickTimeoutMs":250}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if src.timeout != 250*time.Millisecond {
		t.Fatalf("timeout not updated: %v", src.timeout)
	}

	resp, err = http.Post(srv.URL+"/admin/config", "application/json", bytes.NewBufferString(`{"tickTimeoutMs":-1}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative timeout should be rejected, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/admin/config", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
}

func TestSpectatorReceivesRelay(t *testing.T) {
	m := New(&fakeSource{timeout: time.Second})
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for m.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("spectator never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	body, _ := protocol.TickBody(protocol.Encode(protocol.Tick{
		ClientNumber: 5001,
		DirX:         protocol.DirLeft,
		DirY:         protocol.DirNone,
		Facing:       protocol.DirLeft,
		Enemies:      []protocol.EnemyRecord{{DirX: protocol.DirRight, DirY: protocol.DirNone, Facing: protocol.DirRight}},
	}))
	m.Publish(protocol.Encode(protocol.Relay{Records: [][]byte{body}, Removed: []int{5002}}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var view RelayView
	if err := json.Unmarshal(payload, &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.Type != "relay" || len(view.Players) != 1 || view.Players[0].DirX != "LEFT" {
		t.Fatalf("view: %+v", view)
	}
	if len(view.Enemies) != 1 || view.Enemies[0].DirX != "RIGHT" {
		t.Fatalf("enemies: %+v", view.Enemies)
	}
	if len(view.Removed) != 1 || view.Removed[0] != 5002 {
		t.Fatalf("removed: %v", view.Removed)
	}
}
