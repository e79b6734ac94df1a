package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"mazesync/config"
	"mazesync/logging"
	"mazesync/monitor"
	"mazesync/netsys"
	"mazesync/scorestore"
)

// mazesync 入口：无界面地主持或加入一局对战，跑 N 帧空闲输入后交换并打印分数
func main() {
	var (
		cfgPath    string
		host       bool
		players    int
		user       string
		ip         string
		port       int
		difficulty string
		frames     int
		score      int
		monitorAt  string
		logFile    string
		logLevel   string
		scoreDB    string
	)
	flag.StringVar(&cfgPath, "config", "", "YAML match config file")
	flag.BoolVar(&host, "host", true, "host the match in this process")
	flag.IntVar(&players, "players", 1, "number of players (1-4)")
	flag.StringVar(&user, "user", "player", "username")
	flag.StringVar(&ip, "ip", "127.0.0.1", "server ip")
	flag.IntVar(&port, "port", config.DefaultPort, "server port")
	flag.StringVar(&difficulty, "difficulty", "NORMAL", "EASY, NORMAL or HARD")
	flag.IntVar(&frames, "frames", 100, "frames to play before finishing, 0 runs until the match ends")
	flag.IntVar(&score, "score", 0, "local score reported at the end")
	flag.StringVar(&monitorAt, "monitor", "", "monitor listen address on the host, e.g. :8080")
	flag.StringVar(&logFile, "log", "", "log file (rolling), empty logs to stderr")
	flag.StringVar(&logLevel, "level", "info", "log level")
	flag.StringVar(&scoreDB, "scoredb", "", "sqlite score history path")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(2)
		}
	}
	// 命令行显式给出的参数覆盖配置文件
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = host
		case "players":
			cfg.NumPlayers = players
		case "user":
			cfg.Username = user
		case "ip":
			cfg.ServerIP = ip
		case "port":
			cfg.ServerPort = port
		case "difficulty":
			cfg.Difficulty = config.Difficulty(strings.ToUpper(difficulty))
		case "monitor":
			cfg.MonitorAddr = monitorAt
		case "log":
			cfg.LogFile = logFile
		case "level":
			cfg.LogLevel = logLevel
		case "scoredb":
			cfg.ScoreDB = scoreDB
		}
	})

	if err := logging.Init(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer logging.Sync()
	log := logging.Log

	// 优雅退出（Ctrl+C）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("Shutting down...")
		cancel()
	}()

	var mon *monitor.Monitor
	var finished bool
	opts := []netsys.Option{
		netsys.WithEnemyAI(netsys.Patrol{}),
		netsys.WithEndHandler(func(c netsys.Completion) {
			log.Infof("game completed: %s", c.Reason)
			finished = c.Reason == netsys.ReasonFinished
		}),
		netsys.WithRelayObserver(func(b []byte) {
			if mon != nil {
				mon.Publish(b)
			}
		}),
	}
	var store *scorestore.Store
	if cfg.ScoreDB != "" {
		var err error
		if store, err = scorestore.Open(cfg.ScoreDB); err != nil {
			log.Fatalf("open score db: %v", err)
		}
		defer store.Close()
		opts = append(opts, netsys.WithScoreRecorder(store))
	}

	ns := netsys.New(cfg, opts...)
	defer ns.Close()
	if err := ns.Initiate(cfg.NumPlayers, cfg.Username, cfg.ServerIP, strconv.Itoa(cfg.ServerPort)); err != nil {
		log.Fatalf("initiate: %v", err)
	}

	if ns.IsHost() && cfg.MonitorAddr != "" {
		mon = monitor.New(ns.Server())
		srv := &http.Server{Addr: cfg.MonitorAddr, Handler: mon.Handler()}
		go func() {
			log.Infof("monitor listening on %s", cfg.MonitorAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("monitor: %v", err)
			}
		}()
		defer srv.Close()
	}

	log.Infof("waiting for %d player(s) on %s", cfg.NumPlayers, ns.Endpoint())
	if err := ns.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}

	played, err := ns.Run(ctx, frames, netsys.IdleInput{PlayerNumber: ns.Client().PlayerNumber()})
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	log.Infof("played %d frame(s)", played)

	if !ns.Ended() {
		if err := ns.HandleFinish(); err != nil {
			log.Fatalf("finish: %v", err)
		}
		for !ns.Ended() {
			if _, err := ns.Update(ctx); err != nil && !errors.Is(err, netsys.ErrEnded) {
				log.Fatalf("update: %v", err)
			}
		}
	}

	// 有人退出时不交换分数
	if !finished {
		return
	}
	board, err := ns.Scores(ctx, score)
	if err != nil {
		log.Fatalf("scores: %v", err)
	}
	printBoard(board)

	if store != nil {
		top, err := store.Top(5)
		if err == nil && len(top) > 0 {
			fmt.Println("best scores:")
			for _, e := range top {
				fmt.Printf("  %-12s %6d  %s\n", e.Username, e.Score, e.RecordedAt.Format("2006-01-02 15:04"))
			}
		}
	}
}

func printBoard(board map[string]int) {
	names := make([]string, 0, len(board))
	for name := range board {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return board[names[i]] > board[names[j]] })
	fmt.Println("scoreboard:")
	for _, name := range names {
		fmt.Printf("  %-12s %6d\n", name, board[name])
	}
}
