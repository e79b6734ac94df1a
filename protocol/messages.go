package protocol

import "fmt"

// Kind 消息类型，位于帧头第 4 字节
type Kind uint8

const (
	KindJoin Kind = iota + 1
	KindUsernames
	KindUnavailable
	KindMap
	KindReady
	KindSpawn
	KindStart
	KindTick
	KindRelay
	KindQuit
	KindEnd
	KindScore
	KindScores
)

var kindNames = map[Kind]string{
	KindJoin:        "join",
	KindUsernames:   "usernames",
	KindUnavailable: "unavailable",
	KindMap:         "map",
	KindReady:       "ready",
	KindSpawn:       "spawn",
	KindStart:       "start",
	KindTick:        "tick",
	KindRelay:       "relay",
	KindQuit:        "quit",
	KindEnd:         "end",
	KindScore:       "score",
	KindScores:      "scores",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message 所有线上消息的公共接口
type Message interface {
	Kind() Kind
	body() []byte
}

// Encode 序列化为完整数据报
func Encode(m Message) []byte {
	return frame(m.Kind(), m.body())
}

// Decode 解析数据报；帧错误返回 error，字段错误回落默认值
func Decode(datagram []byte) (Message, error) {
	k, body, err := unframe(datagram)
	if err != nil {
		return nil, err
	}
	fs, _ := parseFields(body)
	switch k {
	case KindJoin:
		return Join{Username: fs.str(1)}, nil
	case KindUsernames:
		return decodeUsernames(fs), nil
	case KindUnavailable:
		return Unavailable{Username: fs.str(1)}, nil
	case KindMap:
		return MapData{MatchID: fs.str(1), Difficulty: fs.str(2), Grid: append([]byte(nil), fs.bytes(3)...)}, nil
	case KindReady:
		return Ready{ClientNumber: int(fs.uint(1))}, nil
	case KindSpawn:
		return decodeSpawn(fs), nil
	case KindStart:
		return Start{Port: int(fs.uint(1))}, nil
	case KindTick:
		return ParseTick(body), nil
	case KindRelay:
		return decodeRelay(fs), nil
	case KindQuit:
		return Quit{ClientNumber: int(fs.uint(1))}, nil
	case KindEnd:
		return End{Finished: fs.uint(1) == endReasonFinished}, nil
	case KindScore:
		return Score{Username: fs.str(1), Score: int(fs.int(2))}, nil
	case KindScores:
		return decodeScores(fs), nil
	default:
		return nil, ErrKind
	}
}

// Join 客户端请求加入，携带用户名
type Join struct {
	Username string
}

func (Join) Kind() Kind { return KindJoin }

func (m Join) body() []byte {
	var w fieldWriter
	w.str(1, m.Username)
	return w.bytes()
}

// UserEntry 一个已加入玩家：用户名 + 源端口（clientNumber）；Host 标记与服务端同进程的玩家
type UserEntry struct {
	Username string
	Port     int
	Host     bool
}

// Usernames 服务端广播的完整加入列表，顺序即 playerNumber
type Usernames struct {
	Entries []UserEntry
}

func (Usernames) Kind() Kind { return KindUsernames }

func (m Usernames) body() []byte {
	var w fieldWriter
	for _, e := range m.Entries {
		var ew fieldWriter
		ew.str(1, e.Username)
		ew.uint(2, uint64(e.Port))
		ew.bool(3, e.Host)
		w.raw(2, ew.bytes())
	}
	return w.bytes()
}

func decodeUsernames(fs fields) Usernames {
	var m Usernames
	for _, raw := range fs.all(2) {
		efs, _ := parseFields(raw)
		m.Entries = append(m.Entries, UserEntry{Username: efs.str(1), Port: int(efs.uint(2)), Host: efs.bool(3)})
	}
	return m
}

// Unavailable 用户名冲突
type Unavailable struct {
	Username string
}

func (Unavailable) Kind() Kind { return KindUnavailable }

func (m Unavailable) body() []byte {
	var w fieldWriter
	w.str(1, m.Username)
	return w.bytes()
}

// MapData 服务端生成的地图快照（msgpack 编码的网格，对协议层不透明）
type MapData struct {
	MatchID    string
	Difficulty string
	Grid       []byte
}

func (MapData) Kind() Kind { return KindMap }

func (m MapData) body() []byte {
	var w fieldWriter
	w.str(1, m.MatchID)
	w.str(2, m.Difficulty)
	w.raw(3, m.Grid)
	return w.bytes()
}

// Ready 客户端已收到地图，可以下发出生点
type Ready struct {
	ClientNumber int
}

func (Ready) Kind() Kind { return KindReady }

func (m Ready) body() []byte {
	var w fieldWriter
	w.uint(1, uint64(m.ClientNumber))
	return w.bytes()
}

// Cell 地图格坐标（列, 行）
type Cell struct {
	X int
	Y int
}

// PlayerSpawn 玩家出生点，按端口标识
type PlayerSpawn struct {
	Port int
	Cell
}

// Spawn 出生点分配：玩家在前，敌人在后
type Spawn struct {
	Players []PlayerSpawn
	Enemies []Cell
}

func (Spawn) Kind() Kind { return KindSpawn }

func (m Spawn) body() []byte {
	var w fieldWriter
	for _, p := range m.Players {
		var pw fieldWriter
		pw.uint(1, uint64(p.Port))
		pw.int(2, int64(p.X))
		pw.int(3, int64(p.Y))
		w.raw(1, pw.bytes())
	}
	for _, c := range m.Enemies {
		var ew fieldWriter
		ew.int(2, int64(c.X))
		ew.int(3, int64(c.Y))
		w.raw(2, ew.bytes())
	}
	return w.bytes()
}

func decodeSpawn(fs fields) Spawn {
	var m Spawn
	for _, raw := range fs.all(1) {
		pfs, _ := parseFields(raw)
		m.Players = append(m.Players, PlayerSpawn{
			Port: int(pfs.uint(1)),
			Cell: Cell{X: int(pfs.int(2)), Y: int(pfs.int(3))},
		})
	}
	for _, raw := range fs.all(2) {
		efs, _ := parseFields(raw)
		m.Enemies = append(m.Enemies, Cell{X: int(efs.int(2)), Y: int(efs.int(3))})
	}
	return m
}

// Start 开局信号，Port 为接收方自己的端口
type Start struct {
	Port int
}

func (Start) Kind() Kind { return KindStart }

func (m Start) body() []byte {
	var w fieldWriter
	w.uint(1, uint64(m.Port))
	return w.bytes()
}

// Relay 一轮中转：所有在线玩家 tick body 的原样拼接，附带本轮被移除的端口
type Relay struct {
	Records [][]byte
	Removed []int
}

func (Relay) Kind() Kind { return KindRelay }

func (m Relay) body() []byte {
	var w fieldWriter
	for _, r := range m.Records {
		w.raw(1, r)
	}
	for _, p := range m.Removed {
		w.uint(2, uint64(p))
	}
	return w.bytes()
}

// Ticks 解析全部玩家记录
func (m Relay) Ticks() []Tick {
	ticks := make([]Tick, 0, len(m.Records))
	for _, r := range m.Records {
		ticks = append(ticks, ParseTick(r))
	}
	return ticks
}

func decodeRelay(fs fields) Relay {
	var m Relay
	for _, raw := range fs.all(1) {
		m.Records = append(m.Records, append([]byte(nil), raw...))
	}
	for _, port := range fs.uints(2) {
		m.Removed = append(m.Removed, int(port))
	}
	return m
}

// Quit 客户端主动退出
type Quit struct {
	ClientNumber int
}

func (Quit) Kind() Kind { return KindQuit }

func (m Quit) body() []byte {
	var w fieldWriter
	w.uint(1, uint64(m.ClientNumber))
	return w.bytes()
}

const (
	endReasonQuit     = 0
	endReasonFinished = 1
)

// End 对局结束；Finished 为 true 时随后进行分数交换
type End struct {
	Finished bool
}

func (End) Kind() Kind { return KindEnd }

func (m End) body() []byte {
	var w fieldWriter
	if m.Finished {
		w.uint(1, endReasonFinished)
	} else {
		w.uint(1, endReasonQuit)
	}
	return w.bytes()
}

// Score 客户端上报的本地分数
type Score struct {
	Username string
	Score    int
}

func (Score) Kind() Kind { return KindScore }

func (m Score) body() []byte {
	var w fieldWriter
	w.str(1, m.Username)
	w.int(2, int64(m.Score))
	return w.bytes()
}

// ScoreEntry 汇总分数中的一项
type ScoreEntry struct {
	Username string
	Score    int
}

// Scores 服务端广播的分数汇总
type Scores struct {
	Entries []ScoreEntry
}

func (Scores) Kind() Kind { return KindScores }

func (m Scores) body() []byte {
	var w fieldWriter
	for _, e := range m.Entries {
		var ew fieldWriter
		ew.str(1, e.Username)
		ew.int(2, int64(e.Score))
		w.raw(1, ew.bytes())
	}
	return w.bytes()
}

func decodeScores(fs fields) Scores {
	var m Scores
	for _, raw := range fs.all(1) {
		efs, _ := parseFields(raw)
		m.Entries = append(m.Entries, ScoreEntry{Username: efs.str(1), Score: int(efs.int(2))})
	}
	return m
}
