package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mazesync/config"
	"mazesync/gamemap"
	"mazesync/logging"
	"mazesync/protocol"
	"mazesync/storage"
)

var (
	ErrTimeout     = errors.New("client: receive timed out")
	ErrUnreachable = errors.New("client: server port unreachable")
	ErrClosed      = errors.New("client: socket closed")
	ErrNotJoined   = errors.New("client: not joined")
)

// UnavailableError 用户名已被占用，提示用户换一个名字；服务端不会因此关闭
type UnavailableError struct {
	Username string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("client: username %q is unavailable", e.Username)
}

// Client 每个进程一个（主机进程也有），只与一个 Server 通信
type Client struct {
	cfg  config.MatchConfig
	conn *net.UDPConn
	port int // 本地源端口，即 clientNumber
	data *storage.DataStorage
	log  *zap.SugaredLogger
	buf  []byte

	// host 与服务端同进程时，tick 中附带全部敌人状态
	host bool

	roster       []protocol.UserEntry
	playerNumber int
	grid         *gamemap.Grid
	matchID      string
	spawn        protocol.Spawn

	closed atomic.Bool
}

// Dial 绑定任意空闲本地端口并固定对端地址（UDP connect）
func Dial(cfg config.MatchConfig, data *storage.DataStorage) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", cfg.ServerAddr())
	if err != nil {
		return nil, fmt.Errorf("client: resolve %s: %w", cfg.ServerAddr(), err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", raddr, err)
	}
	c := &Client{
		cfg:  cfg,
		conn: conn,
		port: conn.LocalAddr().(*net.UDPAddr).Port,
		data: data,
		log:  logging.Named("client"),
		buf:  make([]byte, protocol.RecvBufferSize),
		host: cfg.Host,
	}
	c.log.Debugf("bound %s -> %s", conn.LocalAddr(), raddr)
	return c, nil
}

// ClientNumber 本地源端口
func (c *Client) ClientNumber() int { return c.port }

// PlayerNumber 服务端按加入顺序分配的下标
func (c *Client) PlayerNumber() int { return c.playerNumber }

// Roster 加入顺序的玩家列表
func (c *Client) Roster() []protocol.UserEntry {
	return append([]protocol.UserEntry(nil), c.roster...)
}

func (c *Client) Grid() *gamemap.Grid { return c.grid }

func (c *Client) MatchID() string { return c.matchID }

func (c *Client) Spawn() protocol.Spawn { return c.spawn }

func (c *Client) Data() *storage.DataStorage { return c.data }

// Close 关闭套接字，重复调用安全
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) send(m protocol.Message) error {
	data := protocol.Encode(m)
	if len(data) > protocol.MaxPayload {
		return protocol.ErrTooLarge
	}
	if _, err := c.conn.Write(data); err != nil {
		return c.mapErr(err)
	}
	return nil
}

// recv 阻塞接收一个数据报；ctx 只在开始前检查与截短 deadline
func (c *Client) recv(ctx context.Context, deadline time.Time) (protocol.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := deadline
		if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
			d = cd
		}
		if err := c.conn.SetReadDeadline(d); err != nil {
			return nil, c.mapErr(err)
		}
		n, err := c.conn.Read(c.buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, c.mapErr(err)
		}
		msg, err := protocol.Decode(c.buf[:n])
		if err != nil {
			c.log.Warnf("drop datagram: %v", err)
			continue
		}
		return msg, nil
	}
}

func (c *Client) mapErr(err error) error {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return ErrTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrUnreachable
	case errors.Is(err, net.ErrClosed):
		return ErrClosed
	default:
		return err
	}
}
