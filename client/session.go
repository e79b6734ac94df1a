package client

import (
	"context"
	"fmt"
	"time"

	"mazesync/gamemap"
	"mazesync/protocol"
)

// Join 发送 join 并等待名单，直到已加入人数达到 NumPlayers（开局屏障）
func (c *Client) Join(ctx context.Context) error {
	if err := c.send(protocol.Join{Username: c.cfg.Username}); err != nil {
		return err
	}
	c.log.Infof("joining %s as %q (client %d)", c.cfg.ServerAddr(), c.cfg.Username, c.port)

	deadline := time.Now().Add(c.cfg.JoinTimeout)
	for {
		msg, err := c.recv(ctx, deadline)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case protocol.Unavailable:
			return &UnavailableError{Username: c.cfg.Username}
		case protocol.Usernames:
			c.roster = m.Entries
			c.log.Debugf("%d/%d player(s) connected", len(m.Entries), c.cfg.NumPlayers)
			if len(m.Entries) >= c.cfg.NumPlayers {
				return c.finishJoin()
			}
		default:
			c.log.Debugf("ignore %s while joining", msg.Kind())
		}
	}
}

func (c *Client) finishJoin() error {
	for i, e := range c.roster {
		if e.Port == c.port {
			c.playerNumber = i
			c.data.SetRoster(c.roster)
			c.log.Infof("joined as player #%d of %d", i, len(c.roster))
			return nil
		}
	}
	return fmt.Errorf("client: port %d missing from roster: %w", c.port, ErrNotJoined)
}

// ReceiveMap 等待服务端下发的地图快照
func (c *Client) ReceiveMap(ctx context.Context) (*gamemap.Grid, error) {
	deadline := time.Now().Add(c.cfg.JoinTimeout)
	for {
		msg, err := c.recv(ctx, deadline)
		if err != nil {
			return nil, err
		}
		m, ok := msg.(protocol.MapData)
		if !ok {
			continue
		}
		grid, err := gamemap.Unmarshal(m.Grid)
		if err != nil {
			return nil, fmt.Errorf("client: decode map: %w", err)
		}
		c.grid = grid
		c.matchID = m.MatchID
		c.log.Infof("received %dx%d map for match %s", grid.Width, grid.Height, m.MatchID)
		return grid, nil
	}
}

// SendReady 通知服务端本端已拿到地图
func (c *Client) SendReady() error {
	return c.send(protocol.Ready{ClientNumber: c.port})
}

// ReceiveSpawn 等待出生点分配与 start；两者都到达后写入 DataStorage
func (c *Client) ReceiveSpawn(ctx context.Context) (protocol.Spawn, error) {
	deadline := time.Now().Add(c.cfg.JoinTimeout)
	var gotSpawn, started bool
	for !gotSpawn || !started {
		msg, err := c.recv(ctx, deadline)
		if err != nil {
			return protocol.Spawn{}, err
		}
		switch m := msg.(type) {
		case protocol.Spawn:
			c.spawn = m
			gotSpawn = true
		case protocol.Start:
			started = m.Port == c.port
		}
	}
	for _, p := range c.spawn.Players {
		if n, ok := c.data.PlayerNumber(p.Port); ok {
			c.data.SetPlayerSpawn(n, float64(p.X), float64(p.Y))
		}
	}
	for i, e := range c.spawn.Enemies {
		c.data.SetEnemySpawn(i, float64(e.X), float64(e.Y))
	}
	c.log.Infof("spawned, %d player(s) and %d enemies placed", len(c.spawn.Players), len(c.spawn.Enemies))
	return c.spawn, nil
}
