package netsys

import (
	"context"
	"errors"
	"time"

	"mazesync/client"
	"mazesync/protocol"
	"mazesync/storage"
)

const (
	// TicksPerSecond 每秒发送/中转的帧数（20 TPS）
	TicksPerSecond = 20
)

var frameInterval = time.Duration(1000/TicksPerSecond) * time.Millisecond // 50ms

// Input 本地玩家一帧的意图
type Input struct {
	DirX, DirY protocol.Direction
	Moving     bool
	Facing     protocol.Direction
	X, Y       float64
	Invisible  bool
	SpeedBoost bool
}

// InputSource 本地输入来源：键盘、回放或脚本
type InputSource interface {
	Next(frame int, data *storage.DataStorage) Input
}

// IdleInput 原地不动，朝下，位置保持出生点
type IdleInput struct {
	PlayerNumber int
}

func (in IdleInput) Next(_ int, data *storage.DataStorage) Input {
	x, y := data.PlayerPosition(in.PlayerNumber)
	return Input{
		DirX:   protocol.DirNone,
		DirY:   protocol.DirNone,
		Facing: protocol.DefaultFacing,
		X:      x,
		Y:      y,
	}
}

// EnemyAI 主机侧敌人决策，写入 DataStorage 后随 tick 发出
type EnemyAI interface {
	Step(frame int, data *storage.DataStorage)
}

// Patrol 按固定节奏轮流切换方向的巡逻 AI
type Patrol struct {
	Period int // 多少帧换一次方向
}

var patrolDirs = []protocol.Direction{protocol.DirLeft, protocol.DirUp, protocol.DirRight, protocol.DirDown}

func (p Patrol) Step(frame int, data *storage.DataStorage) {
	period := p.Period
	if period <= 0 {
		period = TicksPerSecond
	}
	for i := 0; i < data.EnemyCount(); i++ {
		d := patrolDirs[(frame/period+i)%len(patrolDirs)]
		switch d {
		case protocol.DirLeft, protocol.DirRight:
			data.SetEnemyDirections(i, d, protocol.DirNone)
		default:
			data.SetEnemyDirections(i, protocol.DirNone, d)
		}
		data.SetEnemyFacing(i, d)
		data.SetEnemyMoving(i, true)
	}
}

// Run 固定频率驱动：每帧（主机先跑 AI）发送本地输入，再阻塞等待中转。
// frames <= 0 表示一直跑到对局结束；返回已完成的帧数
func (n *NetworkSystem) Run(ctx context.Context, frames int, input InputSource) (int, error) {
	if n.client == nil {
		return 0, ErrNotInitiated
	}
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	done := 0
	for frames <= 0 || done < frames {
		select {
		case <-ctx.Done():
			return done, ctx.Err()
		case <-ticker.C:
		}
		start := time.Now()
		if n.server != nil && n.ai != nil {
			n.ai.Step(done, n.data)
		}
		if err := n.SendCoordinates(input.Next(done, n.data)); err != nil {
			return done, err
		}
		ev, err := n.Update(ctx)
		if errors.Is(err, ErrEnded) {
			return done, nil
		}
		if err != nil {
			return done, err
		}
		if ev.Kind == client.EventEnd {
			return done, nil
		}
		done++
		n.log.Debugf("frame %d took %s", done, time.Since(start))
	}
	return done, nil
}
