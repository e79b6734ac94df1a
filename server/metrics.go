package server

import (
	"sync/atomic"
)

// RelayMetrics 记录服务端运行期的关键指标（用于监控与调试）
type RelayMetrics struct {
	TickCount      int64 // 完成的中转轮数
	DatagramsIn    int64 // 收到的数据报总数
	FrameErrors    int64 // 帧头损坏被丢弃的数据报
	StrayIgnored   int64 // 非当前阶段/未知端口的数据报
	DuplicateJoins int64 // 同一端口重复 join
	Rejected       int64 // 用户名冲突被拒绝
	PlayersRemoved int64 // quit 或超时移除的玩家
	Timeouts       int64 // 接收超时次数
	TotalTickNs    int64 // 中转累计耗时（纳秒）
}

func (m *RelayMetrics) IncDatagrams()      { atomic.AddInt64(&m.DatagramsIn, 1) }
func (m *RelayMetrics) IncFrameErrors()    { atomic.AddInt64(&m.FrameErrors, 1) }
func (m *RelayMetrics) IncStray()          { atomic.AddInt64(&m.StrayIgnored, 1) }
func (m *RelayMetrics) IncDuplicateJoins() { atomic.AddInt64(&m.DuplicateJoins, 1) }
func (m *RelayMetrics) IncRejected()       { atomic.AddInt64(&m.Rejected, 1) }
func (m *RelayMetrics) IncRemoved()        { atomic.AddInt64(&m.PlayersRemoved, 1) }
func (m *RelayMetrics) IncTimeouts()       { atomic.AddInt64(&m.Timeouts, 1) }
func (m *RelayMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RelayMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":      tick,
		"datagrams_in":    atomic.LoadInt64(&m.DatagramsIn),
		"frame_errors":    atomic.LoadInt64(&m.FrameErrors),
		"stray_ignored":   atomic.LoadInt64(&m.StrayIgnored),
		"duplicate_joins": atomic.LoadInt64(&m.DuplicateJoins),
		"rejected":        atomic.LoadInt64(&m.Rejected),
		"players_removed": atomic.LoadInt64(&m.PlayersRemoved),
		"timeouts":        atomic.LoadInt64(&m.Timeouts),
		"avg_tick_ms":     avgMs,
	}
}
