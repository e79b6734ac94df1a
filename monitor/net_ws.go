package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mazesync/logging"
)

// SpectatorConn 负责把中转快照写到观战者的轻量包装
type SpectatorConn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func NewSpectatorConn(ws *websocket.Conn) *SpectatorConn {
	return &SpectatorConn{
		ws:   ws,
		send: make(chan []byte, 64),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *SpectatorConn) Enqueue(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// 观战者跟不上时直接丢帧，不能拖慢中转
	}
}

// Close 关闭发送队列与底层连接
func (c *SpectatorConn) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *SpectatorConn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump 观战者不发送内容，只用于感知断开
func (c *SpectatorConn) readPump(hub *Hub) {
	defer hub.Remove(c)
	c.ws.SetReadLimit(1 << 10)
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 观战端为本地工具，允许所有来源
		return true
	},
}

// HandleWS 观战 WebSocket 接入
func (m *Monitor) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.Warnf("monitor: upgrade error: %v", err)
		return
	}
	c := NewSpectatorConn(ws)
	m.hub.Add(c)
	logging.Log.Infof("monitor: spectator connected from %s", r.RemoteAddr)

	go c.writePump()
	go c.readPump(m.hub)
}
