// Package monitor 主机侧的 HTTP 监控面：健康检查、中转指标、热更新配置，
// 以及把每一轮中转以 JSON 推送给观战者的 /ws。
package monitor

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"mazesync/protocol"
	"mazesync/server"
)

// Source 被监控的服务端
type Source interface {
	State() server.State
	Players() []server.PlayerInfo
	Metrics() *server.RelayMetrics
	TickTimeout() time.Duration
	SetTickTimeout(time.Duration)
}

// Monitor 见包注释
type Monitor struct {
	src    Source
	hub    *Hub
	relays atomic.Int64
}

func New(src Source) *Monitor {
	return &Monitor{src: src, hub: NewHub()}
}

// Handler 返回挂好所有路由的 mux
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.HandleWS)
	mux.HandleFunc("/admin/config", m.HandleAdminConfig)
	mux.HandleFunc("/metrics", m.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type playerView struct {
	Client     int     `json:"client"`
	DirX       string  `json:"dirX"`
	DirY       string  `json:"dirY"`
	Facing     string  `json:"facing"`
	Moving     bool    `json:"moving"`
	Invisible  bool    `json:"invisible"`
	SpeedBoost bool    `json:"speedBoost"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

type enemyView struct {
	DirX   string `json:"dirX"`
	DirY   string `json:"dirY"`
	Facing string `json:"facing"`
	Moving bool   `json:"moving"`
}

// RelayView 推送给观战者的一轮中转
type RelayView struct {
	Type    string       `json:"type"`
	Seq     int64        `json:"seq"`
	Players []playerView `json:"players"`
	Enemies []enemyView  `json:"enemies,omitempty"`
	Removed []int        `json:"removed,omitempty"`
}

// Publish 作为 Server.OnRelay 回调：解析中转数据报并推送；不阻塞调用方
func (m *Monitor) Publish(datagram []byte) {
	seq := m.relays.Add(1)
	if m.hub.Len() == 0 {
		return
	}
	msg, err := protocol.Decode(datagram)
	if err != nil {
		return
	}
	relay, ok := msg.(protocol.Relay)
	if !ok {
		return
	}
	b, err := json.Marshal(buildView(seq, relay))
	if err != nil {
		return
	}
	m.hub.Broadcast(b)
}

func buildView(seq int64, relay protocol.Relay) RelayView {
	v := RelayView{Type: "relay", Seq: seq, Removed: relay.Removed, Players: make([]playerView, 0, len(relay.Records))}
	for _, t := range relay.Ticks() {
		v.Players = append(v.Players, playerView{
			Client:     t.ClientNumber,
			DirX:       t.DirX.String(),
			DirY:       t.DirY.String(),
			Facing:     t.Facing.String(),
			Moving:     t.Moving,
			Invisible:  t.Invisible,
			SpeedBoost: t.SpeedBoost,
			X:          t.X,
			Y:          t.Y,
		})
		for _, e := range t.Enemies {
			v.Enemies = append(v.Enemies, enemyView{
				DirX:   e.DirX.String(),
				DirY:   e.DirY.String(),
				Facing: e.Facing.String(),
				Moving: e.Moving,
			})
		}
	}
	return v
}
