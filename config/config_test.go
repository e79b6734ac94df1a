package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.yml")
	data := []byte(`num_players: 2
username: A
server_ip: 127.0.0.1
server_port: 9100
difficulty: easy
tick_timeout: 2s
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NumPlayers != 2 || cfg.Username != "A" || cfg.ServerPort != 9100 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Difficulty != Easy || cfg.Enemies() != 3 {
		t.Fatalf("difficulty %q enemies %d", cfg.Difficulty, cfg.Enemies())
	}
	if cfg.TickTimeout != 2*time.Second {
		t.Fatalf("tick timeout: %v", cfg.TickTimeout)
	}
	if cfg.JoinTimeout != DefaultJoinWait || cfg.MapSize != 14 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("num_players: 5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrPlayers) {
		t.Fatalf("expected ErrPlayers, got %v", err)
	}
}

func TestEnemiesByDifficulty(t *testing.T) {
	cfg := Default()
	for d, want := range map[Difficulty]int{Easy: 3, Normal: 4, Hard: 4} {
		cfg.Difficulty = d
		if got := cfg.Enemies(); got != want {
			t.Fatalf("%s: got %d want %d", d, got, want)
		}
	}
}

func TestWithEndpoint(t *testing.T) {
	cfg, err := Default().WithEndpoint(" 10.0.0.2 ", "8123")
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if cfg.ServerAddr() != "10.0.0.2:8123" {
		t.Fatalf("addr: %s", cfg.ServerAddr())
	}
	if _, err := Default().WithEndpoint("127.0.0.1", "port"); !errors.Is(err, ErrPort) {
		t.Fatalf("expected ErrPort, got %v", err)
	}
	if _, err := Default().WithEndpoint("not-an-ip", "80"); !errors.Is(err, ErrIP) {
		t.Fatalf("expected ErrIP, got %v", err)
	}
}
