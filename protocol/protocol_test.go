package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func sampleTick() Tick {
	return Tick{
		ClientNumber: 50123,
		DirX:         DirLeft,
		DirY:         DirNone,
		Moving:       true,
		Facing:       DirLeft,
		Invisible:    true,
		X:            3.5,
		Y:            -1.25,
		Enemies: []EnemyRecord{
			{DirX: DirRight, DirY: DirNone, Moving: true, Facing: DirRight},
			{DirX: DirNone, DirY: DirUp, Moving: false, Facing: DirUp},
		},
	}
}

func TestTickDecodeKeepsEveryField(t *testing.T) {
	want := sampleTick()
	m, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := m.(Tick)
	if !ok {
		t.Fatalf("expected Tick, got %T", m)
	}
	if got.ClientNumber != want.ClientNumber || got.DirX != want.DirX || got.DirY != want.DirY ||
		got.Moving != want.Moving || got.Facing != want.Facing || got.Invisible != want.Invisible ||
		got.SpeedBoost != want.SpeedBoost || got.X != want.X || got.Y != want.Y {
		t.Fatalf("tick mismatch: got %+v want %+v", got, want)
	}
	if len(got.Enemies) != 2 || got.Enemies[0] != want.Enemies[0] || got.Enemies[1] != want.Enemies[1] {
		t.Fatalf("enemy mismatch: %+v", got.Enemies)
	}
	if !got.FromHost() {
		t.Fatalf("tick with enemies should be marked as host tick")
	}
}

func TestCorruptedDirectionFallsBackToDefaults(t *testing.T) {
	var w fieldWriter
	w.uint(tagTickClient, 7)
	w.uint(tagTickDirX, 42)
	w.uint(tagTickDirY, 1<<20)
	w.raw(tagTickFacing, []byte{1}) // 线类型不符
	w.uint(tagTickX, 1)             // 应为 fixed64
	w.uint(tagTickMoving, 9)

	m, err := Decode(frame(KindTick, w.bytes()))
	if err != nil {
		t.Fatalf("decode should not fail on bad fields: %v", err)
	}
	got := m.(Tick)
	if got.ClientNumber != 7 {
		t.Fatalf("client number lost: %d", got.ClientNumber)
	}
	if got.DirX != DirNone {
		t.Fatalf("dirX default: got %v want NONE", got.DirX)
	}
	if got.DirY != DirDown {
		t.Fatalf("dirY default: got %v want DOWN", got.DirY)
	}
	if got.Facing != DirDown {
		t.Fatalf("facing default: got %v want DOWN", got.Facing)
	}
	if got.X != 0 || got.Moving {
		t.Fatalf("numeric defaults: x=%v moving=%v", got.X, got.Moving)
	}
}

func TestMissingFieldsUseDefaults(t *testing.T) {
	got := ParseTick(nil)
	if got.DirX != DefaultDirX || got.DirY != DefaultDirY || got.Facing != DefaultFacing {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestTruncatedBodyKeepsParsedPrefix(t *testing.T) {
	body := Tick{ClientNumber: 9, DirX: DirRight, DirY: DirUp}.body()
	got := ParseTick(body[:len(body)-3])
	if got.ClientNumber != 9 || got.DirX != DirRight || got.DirY != DirUp {
		t.Fatalf("prefix fields lost: %+v", got)
	}
}

func TestPaddingAfterBodyIsIgnored(t *testing.T) {
	d := Encode(Join{Username: "alice"})
	padded := append(append([]byte(nil), d...), make([]byte, 64)...)
	padded = append(padded, '#', 0xff)
	m, err := Decode(padded)
	if err != nil {
		t.Fatalf("decode padded: %v", err)
	}
	if j := m.(Join); j.Username != "alice" {
		t.Fatalf("username: %q", j.Username)
	}
}

func TestFrameErrors(t *testing.T) {
	d := Encode(Quit{ClientNumber: 1})

	bad := append([]byte(nil), d...)
	bad[0] = 'X'
	if _, err := Decode(bad); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}

	ver := append([]byte(nil), d...)
	ver[2] = Version + 1
	if _, err := Decode(ver); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}

	if _, err := Decode(d[:len(d)-1]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, err := Decode(d[:3]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated for short header, got %v", err)
	}

	unknown := frame(Kind(99), nil)
	if _, err := Decode(unknown); !errors.Is(err, ErrKind) {
		t.Fatalf("expected ErrKind, got %v", err)
	}
}

func TestUnknownTagsAreSkipped(t *testing.T) {
	var w fieldWriter
	w.str(77, "future field")
	w.buf = protowire.AppendTag(w.buf, 78, protowire.Fixed32Type)
	w.buf = protowire.AppendFixed32(w.buf, 0xdeadbeef)
	w.str(1, "bob")
	m, err := Decode(frame(KindJoin, w.bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if j := m.(Join); j.Username != "bob" {
		t.Fatalf("username: %q", j.Username)
	}
}

func TestRelayCarriesRecordsVerbatim(t *testing.T) {
	a := Tick{ClientNumber: 1, DirX: DirLeft, DirY: DirNone, Facing: DirLeft}
	b := sampleTick()
	bodyA, err := TickBody(Encode(a))
	if err != nil {
		t.Fatalf("tick body: %v", err)
	}
	bodyB, _ := TickBody(Encode(b))

	relay := Relay{Records: [][]byte{bodyA, bodyB}, Removed: []int{4242}}
	m, err := Decode(Encode(relay))
	if err != nil {
		t.Fatalf("decode relay: %v", err)
	}
	got := m.(Relay)
	if len(got.Records) != 2 || !bytes.Equal(got.Records[0], bodyA) || !bytes.Equal(got.Records[1], bodyB) {
		t.Fatalf("records were not carried verbatim")
	}
	if len(got.Removed) != 1 || got.Removed[0] != 4242 {
		t.Fatalf("removed: %v", got.Removed)
	}
	ticks := got.Ticks()
	if ticks[1].ClientNumber != b.ClientNumber || len(ticks[1].Enemies) != 2 {
		t.Fatalf("relay tick: %+v", ticks[1])
	}
}

func TestTickBodyRejectsOtherKinds(t *testing.T) {
	if _, err := TickBody(Encode(Quit{})); !errors.Is(err, ErrKind) {
		t.Fatalf("expected ErrKind, got %v", err)
	}
}

func TestLobbyMessages(t *testing.T) {
	us := Usernames{Entries: []UserEntry{{Username: "A", Port: 1000, Host: true}, {Username: "B", Port: 1001}}}
	m, _ := Decode(Encode(us))
	got := m.(Usernames)
	if len(got.Entries) != 2 || got.Entries[0] != us.Entries[0] || got.Entries[1] != us.Entries[1] {
		t.Fatalf("usernames: %+v", got)
	}

	sp := Spawn{
		Players: []PlayerSpawn{{Port: 1000, Cell: Cell{X: 3, Y: 11}}},
		Enemies: []Cell{{X: 5, Y: 1}, {X: 8, Y: 2}},
	}
	m, _ = Decode(Encode(sp))
	gotSp := m.(Spawn)
	if len(gotSp.Players) != 1 || gotSp.Players[0] != sp.Players[0] || len(gotSp.Enemies) != 2 || gotSp.Enemies[1] != sp.Enemies[1] {
		t.Fatalf("spawn: %+v", gotSp)
	}

	m, _ = Decode(Encode(End{Finished: true}))
	if !m.(End).Finished {
		t.Fatalf("end reason lost")
	}
	m, _ = Decode(Encode(Scores{Entries: []ScoreEntry{{"A", -3}, {"B", 12}}}))
	if sc := m.(Scores); len(sc.Entries) != 2 || sc.Entries[0].Score != -3 {
		t.Fatalf("scores: %+v", sc)
	}
	if k, _ := Peek(Encode(Start{Port: 5})); k != KindStart {
		t.Fatalf("peek: %v", k)
	}
}

func TestBodiesAreProtobufWireFormat(t *testing.T) {
	body := Tick{ClientNumber: 300, DirX: DirLeft, X: 1.5}.body()
	fs, err := parseFields(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// field 1 varint: 0x08 | 300 = 0xac 0x02
	if !bytes.HasPrefix(body, []byte{0x08, 0xac, 0x02}) {
		t.Fatalf("client number not encoded as varint field 1: % x", body[:3])
	}
	x, ok := fs.get(tagTickX, protowire.Fixed64Type)
	if !ok || math.Float64frombits(x.v) != 1.5 {
		t.Fatalf("x not encoded as fixed64: %+v", x)
	}
	if y, ok := fs.get(tagTickY, protowire.Fixed64Type); !ok || y.v != 0 {
		t.Fatalf("zero y should still be written: %+v %v", y, ok)
	}
}

func TestUsernamesCarryOnlyEntries(t *testing.T) {
	if body := (Usernames{}).body(); len(body) != 0 {
		t.Fatalf("empty roster should have an empty body: % x", body)
	}
	fs, err := parseFields(Usernames{Entries: []UserEntry{{Username: "A", Port: 1}}}.body())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, f := range fs {
		if f.num != 2 {
			t.Fatalf("unexpected top-level field %d", f.num)
		}
	}
}
