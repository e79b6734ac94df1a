// Package storage 保存每个进程本地的同步状态快照：所有玩家与敌人的方向、朝向、
// 移动、增益与坐标，以及对局结束时的分数表。
//
// 所有字段由同一把读写锁保护：
//   - 玩家槽位（按 playerNumber 索引）与敌人槽位（按敌人序号索引）：
//     客户端接收路径写，游戏帧线程读；主机 AI 通过 SetEnemy* 写敌人槽位
//   - scoreboard：仅分数交换协程写
//
// 读方可以逐字段获取，也可以用 Snapshot 拿一份不可变副本。
package storage

import (
	"sync"

	"mazesync/protocol"
)

const (
	MaxPlayers = 4
	MaxEnemies = 4
)

// PlayerState 单个玩家的同步状态
type PlayerState struct {
	Username   string
	Port       int
	Active     bool
	Host       bool
	DirX       protocol.Direction
	DirY       protocol.Direction
	Facing     protocol.Direction
	Moving     bool
	Invisible  bool
	SpeedBoost bool
	X          float64
	Y          float64
	// Transform 本轮隐身/加速是否发生变化，远端副本据此切换外观
	Transform bool
}

// EnemyState 单个 AI 敌人的同步状态（无增益）
type EnemyState struct {
	DirX   protocol.Direction
	DirY   protocol.Direction
	Facing protocol.Direction
	Moving bool
	X      float64
	Y      float64
}

// Snapshot 某一时刻的只读副本
type Snapshot struct {
	Ticks      uint64
	Players    []PlayerState
	Enemies    []EnemyState
	Scoreboard map[string]int
}

// DataStorage 见包注释
type DataStorage struct {
	mu sync.RWMutex

	players    [MaxPlayers]PlayerState
	numPlayers int
	enemies    []EnemyState
	scoreboard map[string]int
	ticks      uint64
}

func idlePlayer() PlayerState {
	return PlayerState{
		DirX:   protocol.DirNone,
		DirY:   protocol.DirNone,
		Facing: protocol.DefaultFacing,
	}
}

// New numEnemies 超过上限时截断
func New(numEnemies int) *DataStorage {
	if numEnemies > MaxEnemies {
		numEnemies = MaxEnemies
	}
	if numEnemies < 0 {
		numEnemies = 0
	}
	s := &DataStorage{enemies: make([]EnemyState, numEnemies)}
	for i := range s.players {
		s.players[i] = idlePlayer()
	}
	for i := range s.enemies {
		s.enemies[i] = EnemyState{DirX: protocol.DirNone, DirY: protocol.DirNone, Facing: protocol.DefaultFacing}
	}
	return s
}

// SetRoster 按加入顺序写入玩家列表，下标即 playerNumber
func (s *DataStorage) SetRoster(entries []protocol.UserEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numPlayers = 0
	for i := range s.players {
		if i < len(entries) {
			s.players[i].Username = entries[i].Username
			s.players[i].Port = entries[i].Port
			s.players[i].Host = entries[i].Host
			s.players[i].Active = true
			s.numPlayers++
		} else {
			s.players[i] = idlePlayer()
		}
	}
}

// PlayerNumber 通过端口（clientNumber）查找 playerNumber
func (s *DataStorage) PlayerNumber(port int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.players {
		if s.players[i].Port == port && s.players[i].Username != "" {
			return i, true
		}
	}
	return 0, false
}

// SetPlayerSpawn 写入出生点坐标
func (s *DataStorage) SetPlayerSpawn(n int, x, y float64) {
	if n < 0 || n >= MaxPlayers {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[n].X, s.players[n].Y = x, y
}

// SetEnemySpawn 写入敌人出生点
func (s *DataStorage) SetEnemySpawn(i int, x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.enemies) {
		return
	}
	s.enemies[i].X, s.enemies[i].Y = x, y
}

// ApplyTick 将中转中某个玩家的记录写入槽位 n；敌人状态只认主机的记录，
// 其他玩家携带的敌人记录被丢弃
func (s *DataStorage) ApplyTick(n int, t protocol.Tick, fromHost bool) {
	if n < 0 || n >= MaxPlayers {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &s.players[n]
	p.Transform = p.Invisible != t.Invisible || p.SpeedBoost != t.SpeedBoost
	p.DirX = t.DirX
	p.DirY = t.DirY
	p.Facing = t.Facing
	p.Moving = t.Moving
	p.Invisible = t.Invisible
	p.SpeedBoost = t.SpeedBoost
	p.X = t.X
	p.Y = t.Y
	if !fromHost {
		return
	}
	for i, e := range t.Enemies {
		if i >= len(s.enemies) {
			break
		}
		s.enemies[i].DirX = e.DirX
		s.enemies[i].DirY = e.DirY
		s.enemies[i].Moving = e.Moving
		s.enemies[i].Facing = e.Facing
	}
}

// MarkTick 一轮中转处理完毕
func (s *DataStorage) MarkTick() {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()
}

// RemovePlayer 玩家掉线/退出：槽位保留但不再参与同步；重复移除返回 false
func (s *DataStorage) RemovePlayer(n int) bool {
	if n < 0 || n >= MaxPlayers {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.players[n].Active {
		return false
	}
	s.players[n].Active = false
	s.players[n].Moving = false
	s.players[n].DirX = protocol.DirNone
	s.players[n].DirY = protocol.DirNone
	s.numPlayers--
	return true
}

// ActivePlayers 当前在线玩家数
func (s *DataStorage) ActivePlayers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numPlayers
}

func (s *DataStorage) player(n int) PlayerState {
	if n < 0 || n >= MaxPlayers {
		return idlePlayer()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players[n]
}

// PlayerDirections 返回 (X, Y) 方向
func (s *DataStorage) PlayerDirections(n int) (protocol.Direction, protocol.Direction) {
	p := s.player(n)
	return p.DirX, p.DirY
}

func (s *DataStorage) PlayerFacing(n int) protocol.Direction { return s.player(n).Facing }
func (s *DataStorage) PlayerMoving(n int) bool               { return s.player(n).Moving }
func (s *DataStorage) InvisibilityBoost(n int) bool          { return s.player(n).Invisible }
func (s *DataStorage) SpeedBoost(n int) bool                 { return s.player(n).SpeedBoost }
func (s *DataStorage) TransformCheck(n int) bool             { return s.player(n).Transform }
func (s *DataStorage) PlayerActive(n int) bool               { return s.player(n).Active }
func (s *DataStorage) PlayerHost(n int) bool                 { return s.player(n).Host }

func (s *DataStorage) PlayerPosition(n int) (float64, float64) {
	p := s.player(n)
	return p.X, p.Y
}

// EnemyCount 对局开始时确定，之后不变
func (s *DataStorage) EnemyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.enemies)
}

func (s *DataStorage) enemy(i int) EnemyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.enemies) {
		return EnemyState{DirX: protocol.DirNone, DirY: protocol.DirNone, Facing: protocol.DefaultFacing}
	}
	return s.enemies[i]
}

func (s *DataStorage) EnemyDirections(i int) (protocol.Direction, protocol.Direction) {
	e := s.enemy(i)
	return e.DirX, e.DirY
}

func (s *DataStorage) EnemyFacing(i int) protocol.Direction { return s.enemy(i).Facing }
func (s *DataStorage) EnemyMoving(i int) bool               { return s.enemy(i).Moving }

func (s *DataStorage) EnemyPosition(i int) (float64, float64) {
	e := s.enemy(i)
	return e.X, e.Y
}

// SetEnemyDirections 主机 AI 写入敌人方向
func (s *DataStorage) SetEnemyDirections(i int, x, y protocol.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.enemies) {
		return
	}
	s.enemies[i].DirX, s.enemies[i].DirY = x, y
}

func (s *DataStorage) SetEnemyMoving(i int, moving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.enemies) {
		return
	}
	s.enemies[i].Moving = moving
}

func (s *DataStorage) SetEnemyFacing(i int, d protocol.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.enemies) {
		return
	}
	s.enemies[i].Facing = d
}

// EnemyRecords 主机发送 tick 时附带的敌人状态
func (s *DataStorage) EnemyRecords() []protocol.EnemyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := make([]protocol.EnemyRecord, len(s.enemies))
	for i, e := range s.enemies {
		r[i] = protocol.EnemyRecord{DirX: e.DirX, DirY: e.DirY, Moving: e.Moving, Facing: e.Facing}
	}
	return r
}

// SetScoreboard 写入对局结束时的分数表
func (s *DataStorage) SetScoreboard(board map[string]int) {
	cp := make(map[string]int, len(board))
	for k, v := range board {
		cp[k] = v
	}
	s.mu.Lock()
	s.scoreboard = cp
	s.mu.Unlock()
}

func (s *DataStorage) Scoreboard() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int, len(s.scoreboard))
	for k, v := range s.scoreboard {
		cp[k] = v
	}
	return cp
}

// Snapshot 复制当前全部状态
func (s *DataStorage) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Ticks:      s.ticks,
		Players:    make([]PlayerState, 0, s.numPlayers),
		Enemies:    append([]EnemyState(nil), s.enemies...),
		Scoreboard: make(map[string]int, len(s.scoreboard)),
	}
	for _, p := range s.players {
		if p.Username != "" {
			snap.Players = append(snap.Players, p)
		}
	}
	for k, v := range s.scoreboard {
		snap.Scoreboard[k] = v
	}
	return snap
}
