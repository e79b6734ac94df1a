package client

import (
	"context"
	"time"

	"mazesync/protocol"
)

// EventKind Update 的结果类型
type EventKind int

const (
	EventNone EventKind = iota
	EventTick
	EventEnd
)

// Event 一次 Update 收到的内容
type Event struct {
	Kind EventKind
	// Finished 仅对 EventEnd 有效：true 表示正常结束、随后交换分数；false 表示有人退出
	Finished bool
	// Removed 本轮被移除的 playerNumber
	Removed []int
}

// SendCoordinates 每帧发送本地玩家意图；主机额外附带全部敌人状态
func (c *Client) SendCoordinates(dirX, dirY protocol.Direction, moving bool, facing protocol.Direction, x, y float64, invisible, speedBoost bool) error {
	t := protocol.Tick{
		ClientNumber: c.port,
		DirX:         dirX,
		DirY:         dirY,
		Moving:       moving,
		Facing:       facing,
		Invisible:    invisible,
		SpeedBoost:   speedBoost,
		X:            x,
		Y:            y,
	}
	if c.host {
		t.Enemies = c.data.EnemyRecords()
	}
	return c.send(t)
}

// Update 阻塞接收一轮中转并写入 DataStorage
func (c *Client) Update(ctx context.Context) (Event, error) {
	deadline := time.Now().Add(c.cfg.TickTimeout)
	for {
		msg, err := c.recv(ctx, deadline)
		if err != nil {
			return Event{}, err
		}
		switch m := msg.(type) {
		case protocol.Relay:
			return c.applyRelay(m), nil
		case protocol.End:
			c.log.Infof("match ended (finished=%v)", m.Finished)
			return Event{Kind: EventEnd, Finished: m.Finished}, nil
		default:
			// 迟到的 usernames/spawn/start 等
			c.log.Debugf("ignore %s during match", msg.Kind())
		}
	}
}

func (c *Client) applyRelay(m protocol.Relay) Event {
	ev := Event{Kind: EventTick}
	for _, t := range m.Ticks() {
		n, ok := c.data.PlayerNumber(t.ClientNumber)
		if !ok || !c.data.PlayerActive(n) {
			continue
		}
		c.data.ApplyTick(n, t, c.data.PlayerHost(n))
	}
	for _, port := range m.Removed {
		if n, ok := c.data.PlayerNumber(port); ok && c.data.RemovePlayer(n) {
			c.log.Infof("player #%d (client %d) left", n, port)
			ev.Removed = append(ev.Removed, n)
		}
	}
	c.data.MarkTick()
	return ev
}

// SendQuit 主动退出对局
func (c *Client) SendQuit() error {
	return c.send(protocol.Quit{ClientNumber: c.port})
}

// SendEnd 本端到达终点，请求服务端结束对局
func (c *Client) SendEnd() error {
	return c.send(protocol.End{Finished: true})
}

// ExchangeScores 上报本地分数并等待汇总；未收到时每秒重发一次
func (c *Client) ExchangeScores(ctx context.Context, score int) (map[string]int, error) {
	report := protocol.Score{Username: c.cfg.Username, Score: score}
	if err := c.send(report); err != nil {
		return nil, err
	}
	overall := time.Now().Add(c.cfg.ScoreTimeout)
	for {
		next := time.Now().Add(time.Second)
		if next.After(overall) {
			next = overall
		}
		msg, err := c.recv(ctx, next)
		if err == ErrTimeout {
			if !time.Now().Before(overall) {
				return nil, ErrTimeout
			}
			if err := c.send(report); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		m, ok := msg.(protocol.Scores)
		if !ok {
			continue
		}
		board := make(map[string]int, len(m.Entries))
		for _, e := range m.Entries {
			board[e.Username] = e.Score
		}
		c.data.SetScoreboard(board)
		c.log.Infof("scoreboard received: %v", board)
		return board, nil
	}
}
