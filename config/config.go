package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Difficulty 难度，决定敌人数量与道具数量
type Difficulty string

const (
	Easy   Difficulty = "EASY"
	Normal Difficulty = "NORMAL"
	Hard   Difficulty = "HARD"
)

const (
	MaxPlayers       = 4
	DefaultPort      = 7777
	DefaultJoinWait  = 300 * time.Second
	DefaultTickWait  = 300 * time.Second
	DefaultScoreWait = 30 * time.Second
)

var (
	ErrPlayers  = errors.New("config: number of players must be between 1 and 4")
	ErrUsername = errors.New("config: username must not be empty")
	ErrPort     = errors.New("config: invalid server port")
	ErrIP       = errors.New("config: invalid server ip")
)

// MatchConfig 一局对战的全部配置，显式传入 NetworkSystem/Server/Client
type MatchConfig struct {
	NumPlayers int        `yaml:"num_players"`
	Username   string     `yaml:"username"`
	ServerIP   string     `yaml:"server_ip"`
	ServerPort int        `yaml:"server_port"`
	Host       bool       `yaml:"host"`
	Difficulty Difficulty `yaml:"difficulty"`
	MapSize    int        `yaml:"map_size"`
	MapSeed    int64      `yaml:"map_seed"`

	JoinTimeout  time.Duration `yaml:"join_timeout"`
	TickTimeout  time.Duration `yaml:"tick_timeout"`
	ScoreTimeout time.Duration `yaml:"score_timeout"`

	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
	MonitorAddr string `yaml:"monitor_addr"`
	ScoreDB     string `yaml:"score_db"`
}

// Default 单人本机默认配置
func Default() MatchConfig {
	return MatchConfig{
		NumPlayers:   1,
		Username:     "player",
		ServerIP:     "127.0.0.1",
		ServerPort:   DefaultPort,
		Host:         true,
		Difficulty:   Normal,
		MapSize:      14,
		JoinTimeout:  DefaultJoinWait,
		TickTimeout:  DefaultTickWait,
		ScoreTimeout: DefaultScoreWait,
		LogLevel:     "info",
	}
}

// Load 读取 YAML 配置，未给出的字段保留默认值
func Load(path string) (MatchConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Difficulty = Difficulty(strings.ToUpper(string(cfg.Difficulty)))
	return cfg, cfg.Validate()
}

// Validate 校验人数、用户名与地址
func (c MatchConfig) Validate() error {
	if c.NumPlayers < 1 || c.NumPlayers > MaxPlayers {
		return ErrPlayers
	}
	if strings.TrimSpace(c.Username) == "" {
		return ErrUsername
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return ErrPort
	}
	if net.ParseIP(c.ServerIP) == nil {
		return ErrIP
	}
	return nil
}

// Enemies EASY 3 个，其余 4 个
func (c MatchConfig) Enemies() int {
	if c.Difficulty == Easy {
		return 3
	}
	return 4
}

// SinglePlayer 单人模式：本进程自托管，端口随机
func (c MatchConfig) SinglePlayer() bool {
	return c.NumPlayers == 1
}

// ServerAddr "ip:port"
func (c MatchConfig) ServerAddr() string {
	return net.JoinHostPort(c.ServerIP, strconv.Itoa(c.ServerPort))
}

// WithEndpoint 接收菜单中输入的字符串 IP 与端口
func (c MatchConfig) WithEndpoint(ip, port string) (MatchConfig, error) {
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil || p < 0 || p > 65535 {
		return c, ErrPort
	}
	ip = strings.TrimSpace(ip)
	if net.ParseIP(ip) == nil {
		return c, ErrIP
	}
	c.ServerIP = ip
	c.ServerPort = p
	return c, nil
}
