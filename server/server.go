package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mazesync/config"
	"mazesync/gamemap"
	"mazesync/logging"
	"mazesync/protocol"
)

var (
	ErrTimeout      = errors.New("server: receive timed out")
	ErrClosed       = errors.New("server: socket closed")
	ErrNotConnected = errors.New("server: match not running")
	ErrMatchEnded   = errors.New("server: match already ended")
)

// 出生区域的行数：玩家在地图底部，敌人在顶部
const spawnRows = 4

// MapGenerator 迷宫生成协作方
type MapGenerator interface {
	Generate(difficulty string) (*gamemap.Grid, error)
}

// Server 主机进程中的权威服务端：玩家准入、地图与出生点分配、每轮中转
type Server struct {
	cfg  config.MatchConfig
	conn *net.UDPConn
	gen  MapGenerator
	rng  *rand.Rand
	log  *zap.SugaredLogger
	buf  []byte

	state       atomic.Int32
	tickTimeout atomic.Int64

	mu       sync.Mutex
	peers    []*peer
	byPort   map[int]*peer
	active   int // numberOfPlayers，移除玩家时递减
	hostPort int // 与服务端同进程的客户端端口，只有它的敌人记录被采纳
	grid     *gamemap.Grid
	matchID  string
	enemies  []gamemap.Cell
	scores   map[string]int

	spawnOnce  sync.Once
	spawnReady chan struct{}

	metrics *RelayMetrics
	onRelay func([]byte)
}

// Listen 在 cfg.ServerPort 上绑定 UDP（0 表示由系统分配）
func Listen(cfg config.MatchConfig, gen MapGenerator) (*Server, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.ServerPort})
	if err != nil {
		return nil, fmt.Errorf("server: bind port %d: %w", cfg.ServerPort, err)
	}
	s := &Server{
		cfg:        cfg,
		conn:       conn,
		gen:        gen,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        logging.Named("server"),
		buf:        make([]byte, protocol.RecvBufferSize),
		byPort:     make(map[int]*peer),
		spawnReady: make(chan struct{}),
		metrics:    &RelayMetrics{},
	}
	s.tickTimeout.Store(int64(cfg.TickTimeout))
	s.log.Infof("listening on %s, expecting %d player(s)", conn.LocalAddr(), cfg.NumPlayers)
	return s, nil
}

// Port 实际绑定的端口
func (s *Server) Port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.log.Infof("state %s -> %s", old, st)
	}
}

// IsConnected 全部玩家已就位且已开局
func (s *Server) IsConnected() bool { return s.State() == Running }

func (s *Server) Metrics() *RelayMetrics { return s.metrics }

// OnRelay 注册中转回调，每个发出的中转数据报都会回调一次（需非阻塞）
func (s *Server) OnRelay(fn func([]byte)) { s.onRelay = fn }

// SetHost 登记本进程客户端的源端口，名单里据此标记主机
func (s *Server) SetHost(port int) {
	s.mu.Lock()
	s.hostPort = port
	s.mu.Unlock()
}

func (s *Server) TickTimeout() time.Duration { return time.Duration(s.tickTimeout.Load()) }

// SetTickTimeout 热更新每轮接收超时
func (s *Server) SetTickTimeout(d time.Duration) {
	if d > 0 {
		s.tickTimeout.Store(int64(d))
	}
}

// SpawnReady 出生点广播完成后关闭，只关闭一次
func (s *Server) SpawnReady() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnReady
}

// MatchID 本局地图对应的 ID，地图下发后有效
func (s *Server) MatchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchID
}

// ActivePlayers 当前在线玩家数（numberOfPlayers）
func (s *Server) ActivePlayers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Players 按加入顺序返回玩家信息
func (s *Server) Players() []PlayerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]PlayerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		r = append(r, PlayerInfo{Username: p.Username, Port: p.Port, Number: p.Number, Active: p.Active})
	}
	return r
}

// Grid 当前地图
func (s *Server) Grid() *gamemap.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// Admit 准入循环：阻塞接收 join，直到加入人数达到 NumPlayers
func (s *Server) Admit(ctx context.Context) error {
	for {
		s.mu.Lock()
		joined := len(s.peers)
		s.mu.Unlock()
		if joined >= s.cfg.NumPlayers {
			break
		}
		data, addr, err := s.recv(ctx, time.Now().Add(s.cfg.JoinTimeout))
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.metrics.IncFrameErrors()
			s.log.Warnf("drop datagram from %s: %v", addr, err)
			continue
		}
		join, ok := msg.(protocol.Join)
		if !ok {
			s.metrics.IncStray()
			s.log.Debugf("ignore %s from %s while admitting", msg.Kind(), addr)
			continue
		}
		s.handleJoin(join, addr)
	}
	s.setState(Connected)
	return nil
}

// handleJoin 同端口去重；用户名冲突回复 unavailable；否则分配下一个 playerNumber 并广播名单
func (s *Server) handleJoin(join protocol.Join, addr *net.UDPAddr) {
	s.mu.Lock()
	if _, dup := s.byPort[addr.Port]; dup {
		s.mu.Unlock()
		s.metrics.IncDuplicateJoins()
		s.log.Debugf("duplicate join from port %d", addr.Port)
		s.send(addr, s.usernames())
		return
	}
	if join.Username == "" || s.usernameTaken(join.Username) || len(s.peers) >= s.cfg.NumPlayers {
		s.mu.Unlock()
		s.metrics.IncRejected()
		s.log.Infof("reject join %q from %s", join.Username, addr)
		s.send(addr, protocol.Unavailable{Username: join.Username})
		return
	}
	p := &peer{Username: join.Username, Addr: addr, Port: addr.Port, Number: len(s.peers), Active: true}
	s.peers = append(s.peers, p)
	s.byPort[p.Port] = p
	s.active++
	s.mu.Unlock()

	s.log.Infof("player %q joined from %s as #%d", p.Username, addr, p.Number)
	s.broadcast(s.usernames())
}

// usernameTaken 调用方需持有 s.mu
func (s *Server) usernameTaken(name string) bool {
	for _, p := range s.peers {
		if p.Username == name {
			return true
		}
	}
	return false
}

func (s *Server) usernames() protocol.Usernames {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := protocol.Usernames{Entries: make([]protocol.UserEntry, 0, len(s.peers))}
	for _, p := range s.peers {
		m.Entries = append(m.Entries, protocol.UserEntry{Username: p.Username, Port: p.Port, Host: p.Port == s.hostPort})
	}
	return m
}

// DistributeMap 生成地图（若尚未生成）、计算出生点并把同一份网格发给每个端口
func (s *Server) DistributeMap() error {
	s.mu.Lock()
	if s.grid == nil {
		if err := s.regenerate(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if err := s.assignSpawns(); err != nil {
		s.mu.Unlock()
		return err
	}
	blob, err := s.grid.Marshal()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("server: marshal map: %w", err)
	}
	msg := protocol.MapData{MatchID: s.matchID, Difficulty: string(s.cfg.Difficulty), Grid: blob}
	w, h := s.grid.Width, s.grid.Height
	s.mu.Unlock()

	s.log.Infof("sending %dx%d map (%d bytes) for match %s", w, h, len(blob), msg.MatchID)
	s.broadcast(msg)
	if s.State() == AwaitingPlayers {
		s.setState(Connected)
	}
	return nil
}

// regenerate 调用方需持有 s.mu
func (s *Server) regenerate() error {
	grid, err := s.gen.Generate(string(s.cfg.Difficulty))
	if err != nil {
		return fmt.Errorf("server: generate map: %w", err)
	}
	s.grid = grid
	s.matchID = uuid.New().String()
	return nil
}

// assignSpawns 玩家取底部 4 行、敌人取顶部 4 行，互不重叠且不落在道具上；调用方需持有 s.mu
func (s *Server) assignSpawns() error {
	used := make(map[gamemap.Cell]bool)
	h := s.grid.Height
	for _, p := range s.peers {
		c, err := s.grid.RandomEmptyCell(s.rng, h-spawnRows, h, used)
		if err != nil {
			return fmt.Errorf("server: player spawn: %w", err)
		}
		used[c] = true
		p.Spawn = c
	}
	s.enemies = s.enemies[:0]
	for i := 0; i < s.cfg.Enemies(); i++ {
		c, err := s.grid.RandomEmptyCell(s.rng, 0, spawnRows, used)
		if err != nil {
			return fmt.Errorf("server: enemy spawn: %w", err)
		}
		used[c] = true
		s.enemies = append(s.enemies, c)
	}
	return nil
}

// SpawnAssignment 当前的出生点分配
func (s *Server) SpawnAssignment() protocol.Spawn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m protocol.Spawn
	for _, p := range s.peers {
		m.Players = append(m.Players, protocol.PlayerSpawn{Port: p.Port, Cell: protocol.Cell{X: p.Spawn.X, Y: p.Spawn.Y}})
	}
	for _, c := range s.enemies {
		m.Enemies = append(m.Enemies, protocol.Cell{X: c.X, Y: c.Y})
	}
	return m
}

// AwaitReady 等待任意客户端的 ready，随后广播出生点与 start，并完成 SpawnReady
func (s *Server) AwaitReady(ctx context.Context) error {
	for {
		data, addr, err := s.recv(ctx, time.Now().Add(s.cfg.JoinTimeout))
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.metrics.IncFrameErrors()
			continue
		}
		switch m := msg.(type) {
		case protocol.Ready:
			if s.known(addr.Port) {
				s.log.Debugf("client %d ready", addr.Port)
				s.startMatch()
				return nil
			}
			s.metrics.IncStray()
		case protocol.Join:
			// 迟到的重复 join：补发名单
			s.handleJoin(m, addr)
		default:
			s.metrics.IncStray()
		}
	}
}

func (s *Server) known(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byPort[port]
	return ok && p.Active
}

func (s *Server) startMatch() {
	spawn := s.SpawnAssignment()
	s.broadcast(spawn)
	for _, p := range s.activePeers() {
		s.send(p.Addr, protocol.Start{Port: p.Port})
	}
	s.setState(Running)
	s.mu.Lock()
	ready := s.spawnReady
	s.mu.Unlock()
	s.spawnOnce.Do(func() { close(ready) })
	s.log.Infof("match started with %d player(s), %d enemies", len(spawn.Players), len(spawn.Enemies))
}

// Reset 回到等待玩家状态并立即重新生成地图；套接字保持绑定
func (s *Server) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = nil
	s.byPort = make(map[int]*peer)
	s.active = 0
	s.hostPort = 0
	s.enemies = nil
	s.scores = nil
	s.spawnOnce = sync.Once{}
	s.spawnReady = make(chan struct{})
	s.state.Store(int32(AwaitingPlayers))
	s.log.Info("reset, regenerating map")
	return s.regenerate()
}

// Close 关闭服务端套接字
func (s *Server) Close() error {
	return s.conn.Close()
}

func (s *Server) activePeers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p.Active {
			r = append(r, p)
		}
	}
	return r
}

// recv 阻塞接收直到 deadline；ctx 只在开始接收前检查，接收过程中不会被打断
func (s *Server) recv(ctx context.Context, deadline time.Time) ([]byte, *net.UDPAddr, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, fmt.Errorf("server: set deadline: %w", err)
	}
	n, addr, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			s.metrics.IncTimeouts()
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, ErrTimeout
		case errors.Is(err, net.ErrClosed):
			return nil, nil, ErrClosed
		default:
			return nil, nil, fmt.Errorf("server: read: %w", err)
		}
	}
	s.metrics.IncDatagrams()
	return append([]byte(nil), s.buf[:n]...), addr, nil
}

func (s *Server) sendRaw(addr *net.UDPAddr, data []byte) error {
	if len(data) > protocol.MaxPayload {
		return protocol.ErrTooLarge
	}
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.log.Warnf("send to %s: %v", addr, err)
		return err
	}
	return nil
}

func (s *Server) send(addr *net.UDPAddr, m protocol.Message) error {
	return s.sendRaw(addr, protocol.Encode(m))
}

// broadcast 发给所有在线端口，单个端口失败不影响其他端口
func (s *Server) broadcast(m protocol.Message) {
	data := protocol.Encode(m)
	for _, p := range s.activePeers() {
		_ = s.sendRaw(p.Addr, data)
	}
}
