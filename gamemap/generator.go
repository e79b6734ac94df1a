package gamemap

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	DefaultSize = 14
	keyCount    = 3
)

// Generator 随机迷宫生成器（递归回溯 + 打通部分墙形成回路）
type Generator struct {
	Width  int
	Height int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator seed 为 0 时使用当前时间
func NewGenerator(width, height int, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{Width: width, Height: height, rng: rand.New(rand.NewSource(seed))}
}

func powerUpsFor(difficulty string) int {
	switch strings.ToUpper(difficulty) {
	case "EASY":
		return 4
	case "HARD":
		return 2
	default:
		return 3
	}
}

// Generate 生成一张新地图：通道、出口、钥匙与道具
func (gen *Generator) Generate(difficulty string) (*Grid, error) {
	gen.mu.Lock()
	defer gen.mu.Unlock()

	w, h := gen.Width, gen.Height
	g := NewGrid(w, h)

	var walk func(x, y int)
	walk = func(x, y int) {
		g.Tiles[y][x] = TileEmpty
		dirs := [][2]int{{0, 2}, {0, -2}, {2, 0}, {-2, 0}}
		gen.rng.Shuffle(len(dirs), func(i, j int) { dirs[i], dirs[j] = dirs[j], dirs[i] })
		for _, d := range dirs {
			nx, ny := x+d[0], y+d[1]
			if nx > 0 && nx < w-1 && ny > 0 && ny < h-1 && g.Tiles[ny][nx] == TileWall {
				g.Tiles[y+d[1]/2][x+d[0]/2] = TileEmpty
				walk(nx, ny)
			}
		}
	}
	walk(1, 1)
	gen.braid(g)

	exit, err := g.RandomEmptyCell(gen.rng, h/3, 2*h/3, nil)
	if err != nil {
		return nil, err
	}
	g.Set(exit, TileExit)

	for i := 0; i < keyCount; i++ {
		c, err := g.RandomEmptyCell(gen.rng, 0, h, nil)
		if err != nil {
			return nil, err
		}
		g.Set(c, TileKey)
	}
	for i := 0; i < powerUpsFor(difficulty); i++ {
		c, err := g.RandomEmptyCell(gen.rng, 0, h, nil)
		if err != nil {
			return nil, err
		}
		g.Set(c, TilePowerUp)
	}
	return g, nil
}

// braid 打通夹在两条通道之间的墙，避免死路过多
func (gen *Generator) braid(g *Grid) {
	for y := 1; y < g.Height-1; y++ {
		for x := 1; x < g.Width-1; x++ {
			if g.Tiles[y][x] != TileWall {
				continue
			}
			horiz := g.Tiles[y][x-1] == TileEmpty && g.Tiles[y][x+1] == TileEmpty
			vert := g.Tiles[y-1][x] == TileEmpty && g.Tiles[y+1][x] == TileEmpty
			if (horiz || vert) && gen.rng.Intn(6) == 0 {
				g.Tiles[y][x] = TileEmpty
			}
		}
	}
}
