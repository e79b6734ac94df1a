package netsys

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"mazesync/client"
	"mazesync/config"
)

type memRecorder struct {
	mu      sync.Mutex
	matches map[string]map[string]int
}

func (r *memRecorder) Record(matchID string, board map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.matches == nil {
		r.matches = make(map[string]map[string]int)
	}
	r.matches[matchID] = board
	return nil
}

func testConfig(host bool) config.MatchConfig {
	cfg := config.Default()
	cfg.Host = host
	cfg.Difficulty = config.Easy
	cfg.MapSeed = 11
	cfg.JoinTimeout = 3 * time.Second
	cfg.TickTimeout = 3 * time.Second
	cfg.ScoreTimeout = 3 * time.Second
	return cfg
}

func TestTwoPlayerMatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var mu sync.Mutex
	var completions []Completion
	onEnd := func(c Completion) {
		mu.Lock()
		completions = append(completions, c)
		mu.Unlock()
	}
	rec := &memRecorder{}

	host := New(testConfig(true), WithEndHandler(onEnd), WithScoreRecorder(rec), WithEnemyAI(Patrol{Period: 3}))
	// 公布的地址不是回环，本机客户端仍需连上
	if err := host.Initiate(2, "A", "192.0.2.10", "0"); err != nil {
		t.Fatalf("host initiate: %v", err)
	}
	defer host.Close()
	if !host.IsHost() {
		t.Fatalf("expected host")
	}
	if want := "192.0.2.10:" + strconv.Itoa(host.Server().Port()); host.Endpoint() != want {
		t.Fatalf("endpoint: got %s want %s", host.Endpoint(), want)
	}
	if _, err := host.Update(ctx); err != nil {
		t.Fatalf("update before start should be a no-op: %v", err)
	}

	hostStarted := make(chan error, 1)
	go func() { hostStarted <- host.Start(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for len(host.Server().Players()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("host client never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}

	remote := New(testConfig(false), WithEndHandler(onEnd))
	if err := remote.Initiate(2, "B", "127.0.0.1", strconv.Itoa(host.Server().Port())); err != nil {
		t.Fatalf("remote initiate: %v", err)
	}
	defer remote.Close()
	if err := remote.Start(ctx); err != nil {
		t.Fatalf("remote start: %v", err)
	}
	if err := <-hostStarted; err != nil {
		t.Fatalf("host start: %v", err)
	}

	if host.Client().PlayerNumber() != 0 || remote.Client().PlayerNumber() != 1 {
		t.Fatalf("player numbers: A=%d B=%d", host.Client().PlayerNumber(), remote.Client().PlayerNumber())
	}
	if !remote.Data().PlayerHost(0) || remote.Data().PlayerHost(1) {
		t.Fatalf("host flag: A=%v B=%v", remote.Data().PlayerHost(0), remote.Data().PlayerHost(1))
	}
	grid := host.Server().Grid()
	if grid.Width != 14 || grid.Height != 14 {
		t.Fatalf("map size: %dx%d", grid.Width, grid.Height)
	}
	if sp := remote.Client().Spawn(); len(sp.Players) != 2 || len(sp.Enemies) != 3 {
		t.Fatalf("spawn: %+v", sp)
	}

	var wg sync.WaitGroup
	counts := make([]int, 2)
	errs := make([]error, 2)
	for i, ns := range []*NetworkSystem{host, remote} {
		wg.Add(1)
		go func(i int, ns *NetworkSystem) {
			defer wg.Done()
			counts[i], errs[i] = ns.Run(ctx, 10, IdleInput{PlayerNumber: ns.Client().PlayerNumber()})
		}(i, ns)
	}
	wg.Wait()
	for i := range errs {
		if errs[i] != nil || counts[i] != 10 {
			t.Fatalf("run %d: frames=%d err=%v", i, counts[i], errs[i])
		}
	}

	a, b := host.Data().Snapshot(), remote.Data().Snapshot()
	if a.Ticks != 10 || b.Ticks != 10 {
		t.Fatalf("ticks: %d %d", a.Ticks, b.Ticks)
	}
	if len(a.Enemies) != 3 || !reflect.DeepEqual(a.Enemies, b.Enemies) {
		t.Fatalf("enemy state diverged:\n%+v\n%+v", a.Enemies, b.Enemies)
	}
	if !reflect.DeepEqual(a.Players, b.Players) {
		t.Fatalf("player state diverged:\n%+v\n%+v", a.Players, b.Players)
	}

	// B 到达终点
	if err := remote.HandleFinish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	hostEv := make(chan client.Event, 1)
	go func() {
		ev, err := host.Update(ctx)
		if err != nil {
			t.Errorf("host update: %v", err)
		}
		hostEv <- ev
	}()
	ev, err := remote.Update(ctx)
	if err != nil || ev.Kind != client.EventEnd || !ev.Finished {
		t.Fatalf("remote end: %+v %v", ev, err)
	}
	if ev := <-hostEv; ev.Kind != client.EventEnd {
		t.Fatalf("host end: %+v", ev)
	}
	if _, err := remote.Update(ctx); !errors.Is(err, ErrEnded) {
		t.Fatalf("update after end: %v", err)
	}

	boards := make(chan map[string]int, 1)
	go func() {
		board, err := host.Scores(ctx, 20)
		if err != nil {
			t.Errorf("host scores: %v", err)
		}
		boards <- board
	}()
	board, err := remote.Scores(ctx, 8)
	if err != nil {
		t.Fatalf("remote scores: %v", err)
	}
	if board["A"] != 20 || board["B"] != 8 {
		t.Fatalf("board: %v", board)
	}
	<-boards

	mu.Lock()
	defer mu.Unlock()
	if len(completions) != 2 {
		t.Fatalf("completions: %+v", completions)
	}
	for _, c := range completions {
		if c.Reason != ReasonFinished || c.MatchID != host.Server().MatchID() {
			t.Fatalf("completion: %+v", c)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.matches[host.Server().MatchID()]["B"] != 8 {
		t.Fatalf("scores not recorded: %v", rec.matches)
	}
}

func TestSinglePlayerSelfHostsAndRestarts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var got []Completion
	ns := New(testConfig(false), WithEndHandler(func(c Completion) { got = append(got, c) }))
	if err := ns.Initiate(1, "solo", "", ""); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	defer ns.Close()

	port := ns.Server().Port()
	if !ns.IsHost() || port < ephemeralMin || port > ephemeralMax {
		t.Fatalf("single player should self-host on an ephemeral port, got %d", port)
	}
	if err := ns.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if n, err := ns.Run(ctx, 3, IdleInput{}); err != nil || n != 3 {
		t.Fatalf("run: %d %v", n, err)
	}
	first := ns.Server().MatchID()

	if err := ns.HandleQuit(); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if len(got) != 1 || got[0].Reason != ReasonQuit {
		t.Fatalf("completion: %+v", got)
	}
	if _, err := ns.Update(ctx); !errors.Is(err, ErrEnded) {
		t.Fatalf("update after quit: %v", err)
	}

	if err := ns.Restart(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if ns.Server().MatchID() == first {
		t.Fatalf("restart should regenerate the map")
	}
	if ns.Server().Port() != port {
		t.Fatalf("server socket should stay bound across restart")
	}
	if n, err := ns.Run(ctx, 2, IdleInput{}); err != nil || n != 2 {
		t.Fatalf("run after restart: %d %v", n, err)
	}
	if ns.Data().Snapshot().Ticks != 2 {
		t.Fatalf("storage should be recreated on restart")
	}

	if err := ns.HandleFinish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if n, err := ns.Run(ctx, 5, IdleInput{}); err != nil || n != 0 {
		t.Fatalf("run should stop at end: %d %v", n, err)
	}
	if len(got) != 2 || got[1].Reason != ReasonFinished {
		t.Fatalf("completion after finish: %+v", got)
	}
	board, err := ns.Scores(ctx, 42)
	if err != nil || board["solo"] != 42 {
		t.Fatalf("scores: %v %v", board, err)
	}
}

func TestInitiateRejectsBadEndpoint(t *testing.T) {
	ns := New(testConfig(false))
	if err := ns.Initiate(2, "B", "not-an-ip", "7777"); !errors.Is(err, config.ErrIP) {
		t.Fatalf("expected ErrIP, got %v", err)
	}
	if err := ns.Initiate(2, "B", "127.0.0.1", "port"); !errors.Is(err, config.ErrPort) {
		t.Fatalf("expected ErrPort, got %v", err)
	}
	if err := ns.Initiate(5, "B", "127.0.0.1", "7777"); !errors.Is(err, config.ErrPlayers) {
		t.Fatalf("expected ErrPlayers, got %v", err)
	}
	if _, err := ns.Update(context.Background()); !errors.Is(err, ErrNotInitiated) {
		t.Fatalf("expected ErrNotInitiated, got %v", err)
	}
}

func TestReadyFailureReleasesServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ns := New(testConfig(false))
	if err := ns.Initiate(1, "solo", "", ""); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	defer ns.Close()
	port := ns.Server().Port()

	admitted := make(chan error, 1)
	go func() { admitted <- ns.Server().Admit(ctx) }()
	if err := ns.Client().Join(ctx); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := <-admitted; err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := ns.Server().DistributeMap(); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if _, err := ns.Client().ReceiveMap(ctx); err != nil {
		t.Fatalf("receive map: %v", err)
	}

	ns.CloseClientSocket()
	done := make(chan error, 1)
	go func() { done <- ns.readyBarrier(ctx) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("ready should fail on a closed client socket")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ready barrier hung")
	}

	// 后台等待循环已退出，端口已释放
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		t.Fatalf("server port still held: %v", err)
	}
	conn.Close()
}
