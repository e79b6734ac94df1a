// Package netsys 对局网络生命周期的唯一入口：按是否主机组装 Server/Client，
// 负责开局屏障、每帧更新、重开与收尾。游戏其他部分只依赖这里。
package netsys

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mazesync/client"
	"mazesync/config"
	"mazesync/gamemap"
	"mazesync/logging"
	"mazesync/server"
	"mazesync/storage"
)

const (
	ephemeralMin = 49152
	ephemeralMax = 65535
	bindAttempts = 10
)

var (
	ErrNotInitiated = errors.New("netsys: not initiated")
	ErrEnded        = errors.New("netsys: match ended")
)

// Reason 对局结束原因
type Reason int

const (
	ReasonFinished Reason = iota
	ReasonQuit
)

func (r Reason) String() string {
	if r == ReasonQuit {
		return "QUIT"
	}
	return "FINISHED"
}

// Completion 交给游戏状态机的结束通知
type Completion struct {
	Reason  Reason
	MatchID string
}

// ScoreRecorder 分数交换完成后的持久化协作方
type ScoreRecorder interface {
	Record(matchID string, board map[string]int) error
}

type Option func(*NetworkSystem)

// WithEndHandler 收到 end 时回调
func WithEndHandler(fn func(Completion)) Option {
	return func(n *NetworkSystem) { n.onEnd = fn }
}

func WithScoreRecorder(r ScoreRecorder) Option {
	return func(n *NetworkSystem) { n.recorder = r }
}

// WithRelayObserver 主机每发出一轮中转回调一次
func WithRelayObserver(fn func([]byte)) Option {
	return func(n *NetworkSystem) { n.observer = fn }
}

// WithGenerator 替换默认迷宫生成器
func WithGenerator(gen server.MapGenerator) Option {
	return func(n *NetworkSystem) { n.gen = gen }
}

// WithEnemyAI 主机侧敌人 AI，Run 每帧在发送前调用
func WithEnemyAI(ai EnemyAI) Option {
	return func(n *NetworkSystem) { n.ai = ai }
}

// NetworkSystem 见包注释；非并发安全，只在游戏主循环中调用
type NetworkSystem struct {
	cfg config.MatchConfig
	log *zap.SugaredLogger
	gen server.MapGenerator
	rng *rand.Rand

	server *server.Server
	client *client.Client
	data   *storage.DataStorage

	onEnd    func(Completion)
	recorder ScoreRecorder
	observer func([]byte)
	ai       EnemyAI

	ended bool
}

// New cfg.Host 决定多人模式下本进程是否主机；单人模式总是自托管
func New(cfg config.MatchConfig, opts ...Option) *NetworkSystem {
	n := &NetworkSystem{
		cfg: cfg,
		log: logging.Named("netsys"),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.gen == nil {
		size := cfg.MapSize
		if size <= 0 {
			size = gamemap.DefaultSize
		}
		n.gen = gamemap.NewGenerator(size, size, cfg.MapSeed)
	}
	return n
}

func (n *NetworkSystem) Config() config.MatchConfig { return n.cfg }
func (n *NetworkSystem) Data() *storage.DataStorage { return n.data }
func (n *NetworkSystem) Server() *server.Server     { return n.server }
func (n *NetworkSystem) Client() *client.Client     { return n.client }
func (n *NetworkSystem) IsHost() bool               { return n.server != nil }
func (n *NetworkSystem) Ended() bool                { return n.ended }

// Initiate 用菜单输入的字符串参数组装服务端与客户端
func (n *NetworkSystem) Initiate(numPlayers int, username, ip, port string) error {
	cfg := n.cfg
	cfg.NumPlayers = numPlayers
	cfg.Username = username
	if cfg.SinglePlayer() {
		cfg.Host = true
		cfg.ServerIP = "127.0.0.1"
	} else {
		var err error
		if cfg, err = cfg.WithEndpoint(ip, port); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	n.cfg = cfg

	if cfg.Host {
		srv, err := n.listen()
		if err != nil {
			return err
		}
		if n.observer != nil {
			srv.OnRelay(n.observer)
		}
		n.server = srv
		// 对外公布的仍是配置中的 IP，只记下实际端口；本机客户端在 dial 时改走回环
		n.cfg.ServerPort = srv.Port()
	}
	if err := n.dial(); err != nil {
		n.CloseServerSocket()
		return err
	}
	n.log.Infof("initiated: players=%d host=%v server=%s", cfg.NumPlayers, cfg.Host, n.cfg.ServerAddr())
	return nil
}

// listen 单人模式在 [49152, 65535] 随机挑端口，仅在端口被占用时重试
func (n *NetworkSystem) listen() (*server.Server, error) {
	if !n.cfg.SinglePlayer() {
		return server.Listen(n.cfg, n.gen)
	}
	var lastErr error
	for i := 0; i < bindAttempts; i++ {
		cfg := n.cfg
		cfg.ServerPort = ephemeralMin + n.rng.Intn(ephemeralMax-ephemeralMin+1)
		srv, err := server.Listen(cfg, n.gen)
		if err == nil {
			return srv, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		n.log.Debugf("port %d in use, retrying", cfg.ServerPort)
		lastErr = err
	}
	return nil, fmt.Errorf("netsys: no free port after %d attempts: %w", bindAttempts, lastErr)
}

func (n *NetworkSystem) dial() error {
	cfg := n.cfg
	cfg.Host = n.server != nil
	if cfg.Host {
		cfg.ServerIP = "127.0.0.1"
	}
	n.data = storage.New(cfg.Enemies())
	c, err := client.Dial(cfg, n.data)
	if err != nil {
		return err
	}
	if n.server != nil {
		n.server.SetHost(c.ClientNumber())
	}
	n.client = c
	return nil
}

// Start 开局屏障：主机在后台跑准入循环，客户端在调用方线程 join；
// 随后拿地图、发 ready，等出生点就绪后读取出生点
func (n *NetworkSystem) Start(ctx context.Context) error {
	if n.client == nil {
		return ErrNotInitiated
	}
	n.ended = false
	if n.server == nil {
		return n.startRemote(ctx)
	}

	admitted := make(chan error, 1)
	go func() { admitted <- n.server.Admit(ctx) }()
	if err := n.client.Join(ctx); err != nil {
		// 关闭套接字以结束后台准入循环
		n.server.Close()
		<-admitted
		return err
	}
	if err := <-admitted; err != nil {
		return err
	}
	if err := n.server.DistributeMap(); err != nil {
		return err
	}
	if _, err := n.client.ReceiveMap(ctx); err != nil {
		return err
	}

	if err := n.readyBarrier(ctx); err != nil {
		return err
	}
	select {
	case <-n.server.SpawnReady():
	case <-ctx.Done():
		return ctx.Err()
	}
	_, err := n.client.ReceiveSpawn(ctx)
	return err
}

// readyBarrier 后台等待全部 ready，本机客户端同时发出自己的 ready；
// 发送失败时关闭服务端套接字，等后台循环退出后再返回
func (n *NetworkSystem) readyBarrier(ctx context.Context) error {
	ready := make(chan error, 1)
	go func() { ready <- n.server.AwaitReady(ctx) }()
	if err := n.client.SendReady(); err != nil {
		n.server.Close()
		<-ready
		return err
	}
	return <-ready
}

func (n *NetworkSystem) startRemote(ctx context.Context) error {
	if err := n.client.Join(ctx); err != nil {
		return err
	}
	if _, err := n.client.ReceiveMap(ctx); err != nil {
		return err
	}
	if err := n.client.SendReady(); err != nil {
		return err
	}
	_, err := n.client.ReceiveSpawn(ctx)
	return err
}

// SendCoordinates 每帧本地玩家意图
func (n *NetworkSystem) SendCoordinates(in Input) error {
	if n.client == nil {
		return ErrNotInitiated
	}
	return n.client.SendCoordinates(in.DirX, in.DirY, in.Moving, in.Facing, in.X, in.Y, in.Invisible, in.SpeedBoost)
}

// Update 每帧一次，调用前需先 SendCoordinates。
// 主机先完成一轮中转再接收；服务端未开局时为空操作
func (n *NetworkSystem) Update(ctx context.Context) (client.Event, error) {
	if n.client == nil {
		return client.Event{}, ErrNotInitiated
	}
	if n.ended {
		return client.Event{}, ErrEnded
	}
	if n.server != nil {
		switch n.server.State() {
		case server.Running:
			if _, err := n.server.Update(ctx); err != nil {
				return client.Event{}, err
			}
		case server.Ended:
			// 已广播 end，只需把它收下来
		default:
			return client.Event{}, nil
		}
	}
	ev, err := n.client.Update(ctx)
	if err != nil {
		return ev, err
	}
	if ev.Kind == client.EventEnd {
		reason := ReasonQuit
		if ev.Finished {
			reason = ReasonFinished
		}
		n.complete(reason)
	}
	return ev, nil
}

func (n *NetworkSystem) complete(reason Reason) {
	if n.ended {
		return
	}
	n.ended = true
	c := Completion{Reason: reason, MatchID: n.client.MatchID()}
	n.log.Infof("match %s completed: %s", c.MatchID, c.Reason)
	if n.onEnd != nil {
		n.onEnd(c)
	}
}

// HandleQuit 本地玩家退出：主机结束全场，普通客户端发送 quit
func (n *NetworkSystem) HandleQuit() error {
	if n.client == nil {
		return ErrNotInitiated
	}
	var err error
	if n.server != nil {
		n.server.SendEnd(false)
	} else {
		err = n.client.SendQuit()
	}
	n.complete(ReasonQuit)
	return err
}

// HandleFinish 本地玩家到达终点；结束通知由随后的 Update 收到
func (n *NetworkSystem) HandleFinish() error {
	if n.client == nil {
		return ErrNotInitiated
	}
	if n.server != nil {
		n.server.SendEnd(true)
		return nil
	}
	return n.client.SendEnd()
}

// Scores 交换分数；主机在后台同时驱动服务端的收集与广播
func (n *NetworkSystem) Scores(ctx context.Context, score int) (map[string]int, error) {
	if n.client == nil {
		return nil, ErrNotInitiated
	}
	var collected chan error
	if n.server != nil {
		collected = make(chan error, 1)
		go func() {
			_, err := n.server.CollectScores(ctx)
			if err != nil {
				n.log.Warnf("score collection incomplete: %v", err)
			}
			n.server.SendScores()
			collected <- err
		}()
	}
	board, err := n.client.ExchangeScores(ctx, score)
	if collected != nil {
		<-collected
	}
	if err != nil {
		return nil, err
	}
	if n.recorder != nil && n.server != nil {
		if err := n.recorder.Record(n.client.MatchID(), board); err != nil {
			n.log.Warnf("record scores: %v", err)
		}
	}
	return board, nil
}

// Restart 主机重置服务端并重新生成地图，客户端重新连接后再次开局
func (n *NetworkSystem) Restart(ctx context.Context) error {
	if n.client == nil {
		return ErrNotInitiated
	}
	if n.server != nil {
		if err := n.server.Reset(); err != nil {
			return err
		}
	}
	n.CloseClientSocket()
	if err := n.dial(); err != nil {
		return err
	}
	n.log.Info("restarting match")
	return n.Start(ctx)
}

func (n *NetworkSystem) CloseClientSocket() {
	if n.client != nil {
		_ = n.client.Close()
	}
}

func (n *NetworkSystem) CloseServerSocket() {
	if n.server != nil {
		_ = n.server.Close()
	}
}

// Close 回到菜单：释放两个套接字
func (n *NetworkSystem) Close() {
	n.CloseClientSocket()
	n.CloseServerSocket()
	n.client = nil
	n.server = nil
}

// Endpoint 对外公布的地址：配置中的 IP 加服务端实际绑定的端口
func (n *NetworkSystem) Endpoint() string {
	if n.server == nil {
		return n.cfg.ServerAddr()
	}
	return net.JoinHostPort(n.cfg.ServerIP, strconv.Itoa(n.server.Port()))
}
