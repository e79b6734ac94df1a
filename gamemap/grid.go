// Package gamemap 迷宫网格：生成、随机空格查询以及整张地图的 msgpack 快照。
// 服务端生成一次后原样下发给所有客户端，对局期间不可变。
package gamemap

import (
	"errors"
	"math/rand"

	"github.com/vmihailenco/msgpack/v5"
)

// Tile 单个格子的内容
type Tile uint8

const (
	TileEmpty Tile = iota
	TileWall
	TileKey
	TilePowerUp
	TileExit
)

// Cell 格坐标（列, 行）
type Cell struct {
	X int
	Y int
}

var ErrNoFreeCell = errors.New("gamemap: no free cell in range")

// Grid 地图网格，Tiles[row][col]
type Grid struct {
	Width  int      `msgpack:"w"`
	Height int      `msgpack:"h"`
	Tiles  [][]Tile `msgpack:"tiles"`
}

// NewGrid 创建全墙网格
func NewGrid(width, height int) *Grid {
	g := &Grid{Width: width, Height: height, Tiles: make([][]Tile, height)}
	for y := range g.Tiles {
		g.Tiles[y] = make([]Tile, width)
		for x := range g.Tiles[y] {
			g.Tiles[y][x] = TileWall
		}
	}
	return g
}

func (g *Grid) inBounds(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.Width && c.Y < g.Height
}

// At 越界视为墙
func (g *Grid) At(c Cell) Tile {
	if !g.inBounds(c) {
		return TileWall
	}
	return g.Tiles[c.Y][c.X]
}

func (g *Grid) Set(c Cell, t Tile) {
	if g.inBounds(c) {
		g.Tiles[c.Y][c.X] = t
	}
}

// IsFree 可通行且没有钥匙/道具/出口
func (g *Grid) IsFree(c Cell) bool {
	return g.At(c) == TileEmpty
}

// RandomEmptyCell 在 [rowMin, rowMax) 行内随机挑一个未被占用的空格
func (g *Grid) RandomEmptyCell(rng *rand.Rand, rowMin, rowMax int, used map[Cell]bool) (Cell, error) {
	if rowMin < 0 {
		rowMin = 0
	}
	if rowMax > g.Height {
		rowMax = g.Height
	}
	var candidates []Cell
	for y := rowMin; y < rowMax; y++ {
		for x := 0; x < g.Width; x++ {
			c := Cell{X: x, Y: y}
			if g.IsFree(c) && !used[c] {
				candidates = append(candidates, c)
			}
		}
	}
	if len(candidates) == 0 {
		return Cell{}, ErrNoFreeCell
	}
	return candidates[rng.Intn(len(candidates))], nil
}

// Count 统计某类格子数量
func (g *Grid) Count(t Tile) int {
	n := 0
	for _, row := range g.Tiles {
		for _, v := range row {
			if v == t {
				n++
			}
		}
	}
	return n
}

// Marshal 序列化为 msgpack，作为 map 消息的不透明载荷
func (g *Grid) Marshal() ([]byte, error) {
	return msgpack.Marshal(g)
}

// Unmarshal 反序列化 map 消息中的网格
func Unmarshal(b []byte) (*Grid, error) {
	var g Grid
	if err := msgpack.Unmarshal(b, &g); err != nil {
		return nil, err
	}
	if len(g.Tiles) != g.Height {
		return nil, errors.New("gamemap: tile rows do not match height")
	}
	for _, row := range g.Tiles {
		if len(row) != g.Width {
			return nil, errors.New("gamemap: tile columns do not match width")
		}
	}
	return &g, nil
}
