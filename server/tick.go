package server

import (
	"context"
	"errors"
	"time"

	"mazesync/protocol"
)

// Update 一轮中转：每个在线端口收一个数据报（同端口后到的覆盖先到的），
// 然后把所有在线玩家 tick body 原样拼接，发给每个仍在线的端口。
//
// 超时时若本轮至少有一个端口上报，未上报的端口按掉线移除；一个都没有则返回 ErrTimeout。
func (s *Server) Update(ctx context.Context) (Outcome, error) {
	switch s.State() {
	case Running:
	case Ended:
		return Relayed, ErrMatchEnded
	default:
		return Relayed, ErrNotConnected
	}

	start := time.Now()
	active := s.activePeers()
	expected := make(map[int]bool, len(active))
	for _, p := range active {
		expected[p.Port] = true
	}

	pending := make(map[int][]byte, len(active))
	reported := make(map[int]bool, len(active))
	var removed []int
	deadline := time.Now().Add(s.TickTimeout())

	for len(reported) < len(expected) {
		data, addr, err := s.recv(ctx, deadline)
		if errors.Is(err, ErrTimeout) && len(reported) > 0 {
			for port := range expected {
				if !reported[port] {
					s.log.Warnf("client %d timed out, removing", port)
					removed = append(removed, port)
					reported[port] = true
				}
			}
			break
		}
		if err != nil {
			return Relayed, err
		}
		if !expected[addr.Port] {
			s.metrics.IncStray()
			continue
		}
		kind, err := protocol.Peek(data)
		if err != nil {
			s.metrics.IncFrameErrors()
			s.log.Warnf("drop datagram from %d: %v", addr.Port, err)
			continue
		}
		switch kind {
		case protocol.KindTick:
			if containsPort(removed, addr.Port) {
				continue
			}
			body, _ := protocol.TickBody(data)
			pending[addr.Port] = body
			reported[addr.Port] = true
		case protocol.KindQuit:
			if !containsPort(removed, addr.Port) {
				s.log.Infof("client %d quit", addr.Port)
				removed = append(removed, addr.Port)
			}
			delete(pending, addr.Port)
			reported[addr.Port] = true
		case protocol.KindEnd:
			s.log.Infof("client %d reached the end", addr.Port)
			s.SendEnd(true)
			return Finished, nil
		default:
			// 迟到的 ready/join 等
			s.metrics.IncStray()
		}
	}

	remaining := s.removePlayers(removed)
	if len(removed) > 0 && s.cfg.NumPlayers > 1 && remaining <= 1 {
		s.log.Infof("only %d player(s) left, ending match", remaining)
		s.SendEnd(false)
		return Abandoned, nil
	}

	relay := protocol.Relay{Removed: removed}
	for _, p := range s.activePeers() {
		if body, ok := pending[p.Port]; ok {
			relay.Records = append(relay.Records, body)
		}
	}
	data := protocol.Encode(relay)
	for _, p := range s.activePeers() {
		_ = s.sendRaw(p.Addr, data)
	}
	if s.onRelay != nil {
		s.onRelay(data)
	}
	s.metrics.AddTick(time.Since(start).Nanoseconds())
	s.log.Debugf("relayed %d record(s), %d bytes", len(relay.Records), len(data))
	return Relayed, nil
}

func containsPort(ports []int, port int) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

// removePlayers 标记掉线玩家，numberOfPlayers 逐个递减；返回剩余在线人数
func (s *Server) removePlayers(ports []int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, port := range ports {
		p, ok := s.byPort[port]
		if !ok || !p.Active {
			continue
		}
		p.Active = false
		s.active--
		s.metrics.IncRemoved()
	}
	return s.active
}

// SendEnd 通知所有在线端口对局结束；finished 为 true 时随后进行分数交换
func (s *Server) SendEnd(finished bool) {
	s.log.Infof("sending end (finished=%v)", finished)
	s.broadcast(protocol.End{Finished: finished})
	s.setState(Ended)
}

// CollectScores 循环接收 score，直到每个在线端口各上报一次
func (s *Server) CollectScores(ctx context.Context) (map[string]int, error) {
	board := make(map[string]int)
	reported := make(map[int]bool)
	deadline := time.Now().Add(s.cfg.ScoreTimeout)
	for {
		want := s.ActivePlayers()
		if len(reported) >= want {
			break
		}
		data, addr, err := s.recv(ctx, deadline)
		if err != nil {
			s.storeScores(board)
			return board, err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.metrics.IncFrameErrors()
			continue
		}
		sc, ok := msg.(protocol.Score)
		if !ok || !s.known(addr.Port) {
			// 结束后迟到的 tick 等
			s.metrics.IncStray()
			continue
		}
		name := sc.Username
		if name == "" {
			name = s.usernameOf(addr.Port)
		}
		board[name] = sc.Score
		reported[addr.Port] = true
	}
	s.storeScores(board)
	s.log.Infof("collected %d score(s)", len(board))
	return board, nil
}

func (s *Server) usernameOf(port int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byPort[port]; ok {
		return p.Username
	}
	return ""
}

func (s *Server) storeScores(board map[string]int) {
	s.mu.Lock()
	s.scores = board
	s.mu.Unlock()
}

// SendScores 按加入顺序广播分数汇总
func (s *Server) SendScores() {
	s.mu.Lock()
	var m protocol.Scores
	for _, p := range s.peers {
		if v, ok := s.scores[p.Username]; ok {
			m.Entries = append(m.Entries, protocol.ScoreEntry{Username: p.Username, Score: v})
		}
	}
	s.mu.Unlock()
	s.broadcast(m)
}
