package monitor

import "sync"

// Hub 管理所有观战连接
type Hub struct {
	mu    sync.RWMutex
	conns map[*SpectatorConn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*SpectatorConn]struct{})}
}

// Add 注册观战连接
func (h *Hub) Add(c *SpectatorConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

// Remove 注销并关闭连接，重复调用安全
func (h *Hub) Remove(c *SpectatorConn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Broadcast 非阻塞地推送给所有观战者
func (h *Hub) Broadcast(b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.Enqueue(b)
	}
}

// Len 当前观战人数
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
