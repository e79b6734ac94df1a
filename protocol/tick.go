package protocol

// tick 字段 tag
const (
	tagTickClient    = 1
	tagTickDirX      = 2
	tagTickDirY      = 3
	tagTickMoving    = 4
	tagTickFacing    = 5
	tagTickInvisible = 6
	tagTickSpeed     = 7
	tagTickX         = 8
	tagTickY         = 9
	tagTickEnemy     = 10
)

// EnemyRecord 主机附带的单个 AI 敌人状态
type EnemyRecord struct {
	DirX   Direction
	DirY   Direction
	Moving bool
	Facing Direction
}

// Tick 客户端每帧上报的本地玩家意图；主机额外携带全部敌人状态
type Tick struct {
	ClientNumber int
	DirX         Direction
	DirY         Direction
	Moving       bool
	Facing       Direction
	Invisible    bool
	SpeedBoost   bool
	X            float64
	Y            float64
	Enemies      []EnemyRecord
}

func (Tick) Kind() Kind { return KindTick }

func (t Tick) body() []byte {
	var w fieldWriter
	w.uint(tagTickClient, uint64(t.ClientNumber))
	w.dir(tagTickDirX, t.DirX)
	w.dir(tagTickDirY, t.DirY)
	w.bool(tagTickMoving, t.Moving)
	w.dir(tagTickFacing, t.Facing)
	w.bool(tagTickInvisible, t.Invisible)
	w.bool(tagTickSpeed, t.SpeedBoost)
	w.float(tagTickX, t.X)
	w.float(tagTickY, t.Y)
	for _, e := range t.Enemies {
		var ew fieldWriter
		ew.dir(tagTickDirX, e.DirX)
		ew.dir(tagTickDirY, e.DirY)
		ew.bool(tagTickMoving, e.Moving)
		ew.dir(tagTickFacing, e.Facing)
		w.raw(tagTickEnemy, ew.bytes())
	}
	return w.bytes()
}

// FromHost 是否携带敌人记录（仅主机发送）
func (t Tick) FromHost() bool {
	return len(t.Enemies) > 0
}

// ParseTick 解析 tick body，永不失败：损坏或缺失的字段回落到默认值
func ParseTick(body []byte) Tick {
	fs, _ := parseFields(body)
	t := Tick{
		ClientNumber: int(fs.uint(tagTickClient)),
		DirX:         fs.dir(tagTickDirX, DefaultDirX),
		DirY:         fs.dir(tagTickDirY, DefaultDirY),
		Moving:       fs.bool(tagTickMoving),
		Facing:       fs.dir(tagTickFacing, DefaultFacing),
		Invisible:    fs.bool(tagTickInvisible),
		SpeedBoost:   fs.bool(tagTickSpeed),
		X:            fs.float(tagTickX),
		Y:            fs.float(tagTickY),
	}
	for _, raw := range fs.all(tagTickEnemy) {
		efs, _ := parseFields(raw)
		t.Enemies = append(t.Enemies, EnemyRecord{
			DirX:   efs.dir(tagTickDirX, DefaultDirX),
			DirY:   efs.dir(tagTickDirY, DefaultDirY),
			Moving: efs.bool(tagTickMoving),
			Facing: efs.dir(tagTickFacing, DefaultFacing),
		})
	}
	return t
}

// TickBody 返回 tick 数据报中的原始 body，供服务端原样转发
func TickBody(datagram []byte) ([]byte, error) {
	k, body, err := unframe(datagram)
	if err != nil {
		return nil, err
	}
	if k != KindTick {
		return nil, ErrKind
	}
	return body, nil
}
