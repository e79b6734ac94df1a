package server

import (
	"net"

	"mazesync/gamemap"
)

// peer 已加入的玩家（服务端视角），按加入顺序保存
type peer struct {
	Username string
	Addr     *net.UDPAddr
	Port     int // 客户端源端口，即 clientNumber
	Number   int // playerNumber，加入顺序
	Active   bool
	Spawn    gamemap.Cell
}

// PlayerInfo 对外暴露的只读玩家信息
type PlayerInfo struct {
	Username string `json:"username"`
	Port     int    `json:"port"`
	Number   int    `json:"number"`
	Active   bool   `json:"active"`
}

// State 服务端状态机
type State int32

const (
	AwaitingPlayers State = iota
	Connected
	Running
	Ended
)

func (s State) String() string {
	switch s {
	case AwaitingPlayers:
		return "AWAITING_PLAYERS"
	case Connected:
		return "CONNECTED"
	case Running:
		return "RUNNING"
	case Ended:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Outcome 一轮 Update 的结果
type Outcome int

const (
	// Relayed 正常中转
	Relayed Outcome = iota
	// Finished 有玩家发送 end，已广播 end(finished)
	Finished
	// Abandoned 多人对局只剩一名玩家，已广播 end(quit)
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Relayed:
		return "relayed"
	case Finished:
		return "finished"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}
