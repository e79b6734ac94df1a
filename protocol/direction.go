package protocol

// Direction 移动/朝向方向，与移动、动画组件共享
type Direction uint8

const (
	DirNone Direction = iota
	DirLeft
	DirRight
	DirUp
	DirDown
)

func (d Direction) String() string {
	switch d {
	case DirNone:
		return "NONE"
	case DirLeft:
		return "LEFT"
	case DirRight:
		return "RIGHT"
	case DirUp:
		return "UP"
	case DirDown:
		return "DOWN"
	default:
		return "INVALID"
	}
}

// Valid 是否为已定义的枚举值
func (d Direction) Valid() bool {
	return d <= DirDown
}

// ParseDirection 解析菜单/命令行中的方向名，无法识别时返回 def
func ParseDirection(s string, def Direction) Direction {
	switch s {
	case "NONE", "none":
		return DirNone
	case "LEFT", "left":
		return DirLeft
	case "RIGHT", "right":
		return DirRight
	case "UP", "up":
		return DirUp
	case "DOWN", "down":
		return DirDown
	default:
		return def
	}
}

// 解码兜底值：X 方向缺省 NONE，Y 方向与朝向缺省 DOWN
const (
	DefaultDirX   = DirNone
	DefaultDirY   = DirDown
	DefaultFacing = DirDown
)

func decodeDirection(v uint64, ok bool, def Direction) Direction {
	if !ok || v > 0xff {
		return def
	}
	d := Direction(v)
	if !d.Valid() {
		return def
	}
	return d
}
