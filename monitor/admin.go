package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"mazesync/logging"
)

// HandleAdminConfig 读取与热更新中转参数
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func (m *Monitor) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		TickTimeoutMs *int64 `json:"tickTimeoutMs,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		cur := m.src.TickTimeout().Milliseconds()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg{TickTimeoutMs: &cur})
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.TickTimeoutMs != nil {
			if *body.TickTimeoutMs <= 0 {
				http.Error(w, "tickTimeoutMs must be positive", http.StatusBadRequest)
				return
			}
			m.src.SetTickTimeout(time.Duration(*body.TickTimeoutMs) * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		logging.Log.Infof("monitor: config updated: tickTimeout=%s", m.src.TickTimeout())
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出服务端运行指标
// GET /metrics
func (m *Monitor) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"state":      m.src.State().String(),
		"players":    m.src.Players(),
		"spectators": m.hub.Len(),
		"relays":     m.relays.Load(),
		"metrics":    m.src.Metrics().Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
