package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// 帧格式：'M' 'Z' | version u8 | kind u8 | bodyLen u32 BE | body
// body 为 protobuf 线格式的字段序列（field number 即 tag），未知字段与未知线类型直接跳过
const (
	magic0     = 'M'
	magic1     = 'Z'
	Version    = 1
	HeaderSize = 8

	// MaxPayload 为 IPv4 下单个 UDP 数据报可承载的最大字节数
	MaxPayload = 65507
	// RecvBufferSize 接收缓冲：统一按最大数据报分配，不再按消息类型定长
	RecvBufferSize = 65535
)

var (
	ErrBadMagic  = errors.New("protocol: bad magic")
	ErrVersion   = errors.New("protocol: unsupported version")
	ErrTruncated = errors.New("protocol: truncated datagram")
	ErrTooLarge  = errors.New("protocol: datagram exceeds max payload")
	ErrKind      = errors.New("protocol: unknown message kind")
)

func frame(kind Kind, body []byte) []byte {
	b := make([]byte, HeaderSize+len(body))
	b[0] = magic0
	b[1] = magic1
	b[2] = Version
	b[3] = uint8(kind)
	binary.BigEndian.PutUint32(b[4:8], uint32(len(body)))
	copy(b[HeaderSize:], body)
	return b
}

// unframe 校验帧头并返回 body；bodyLen 之后的字节视为填充忽略
func unframe(datagram []byte) (Kind, []byte, error) {
	if len(datagram) < HeaderSize {
		return 0, nil, ErrTruncated
	}
	if datagram[0] != magic0 || datagram[1] != magic1 {
		return 0, nil, ErrBadMagic
	}
	if datagram[2] != Version {
		return 0, nil, ErrVersion
	}
	n := binary.BigEndian.Uint32(datagram[4:8])
	if uint64(n) > uint64(len(datagram)-HeaderSize) {
		return 0, nil, ErrTruncated
	}
	return Kind(datagram[3]), datagram[HeaderSize : HeaderSize+int(n)], nil
}

// Peek 只解析帧头，返回消息类型
func Peek(datagram []byte) (Kind, error) {
	k, _, err := unframe(datagram)
	return k, err
}

// fieldWriter 按 protobuf 线格式追加字段（field number 即 tag）
type fieldWriter struct {
	buf []byte
}

func (w *fieldWriter) raw(num protowire.Number, v []byte) {
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, v)
}

func (w *fieldWriter) str(num protowire.Number, s string) {
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendString(w.buf, s)
}

func (w *fieldWriter) uint(num protowire.Number, v uint64) {
	w.buf = protowire.AppendTag(w.buf, num, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, v)
}

// int 有符号整数按 zigzag 编码（sint64）
func (w *fieldWriter) int(num protowire.Number, v int64) {
	w.uint(num, protowire.EncodeZigZag(v))
}

func (w *fieldWriter) float(num protowire.Number, f float64) {
	w.buf = protowire.AppendTag(w.buf, num, protowire.Fixed64Type)
	w.buf = protowire.AppendFixed64(w.buf, math.Float64bits(f))
}

func (w *fieldWriter) bool(num protowire.Number, v bool) {
	w.uint(num, protowire.EncodeBool(v))
}

func (w *fieldWriter) dir(num protowire.Number, d Direction) {
	w.uint(num, uint64(d))
}

func (w *fieldWriter) bytes() []byte {
	return w.buf
}

// field 一个已解析字段：varint/fixed64 存在 v，bytes 存在 val
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	val []byte
}

type fields []field

// parseFields 逐个解析字段；未知线类型跳过，遇到截断时返回已解析部分与 ErrTruncated
func parseFields(body []byte) (fields, error) {
	var fs fields
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return fs, fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		body = body[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(body)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(body)
		case protowire.BytesType:
			f.val, n = protowire.ConsumeBytes(body)
		default:
			n = protowire.ConsumeFieldValue(num, typ, body)
		}
		if n < 0 {
			return fs, fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		body = body[n:]
		switch typ {
		case protowire.VarintType, protowire.Fixed64Type, protowire.BytesType:
			fs = append(fs, f)
		}
	}
	return fs, nil
}

// get 线类型不符的字段视为缺失
func (fs fields) get(num protowire.Number, typ protowire.Type) (field, bool) {
	for _, f := range fs {
		if f.num == num && f.typ == typ {
			return f, true
		}
	}
	return field{}, false
}

func (fs fields) all(num protowire.Number) [][]byte {
	var r [][]byte
	for _, f := range fs {
		if f.num == num && f.typ == protowire.BytesType {
			r = append(r, f.val)
		}
	}
	return r
}

func (fs fields) uints(num protowire.Number) []uint64 {
	var r []uint64
	for _, f := range fs {
		if f.num == num && f.typ == protowire.VarintType {
			r = append(r, f.v)
		}
	}
	return r
}

func (fs fields) bytes(num protowire.Number) []byte {
	f, _ := fs.get(num, protowire.BytesType)
	return f.val
}

func (fs fields) str(num protowire.Number) string {
	return string(fs.bytes(num))
}

func (fs fields) uint(num protowire.Number) uint64 {
	f, _ := fs.get(num, protowire.VarintType)
	return f.v
}

func (fs fields) int(num protowire.Number) int64 {
	return protowire.DecodeZigZag(fs.uint(num))
}

func (fs fields) float(num protowire.Number) float64 {
	f, ok := fs.get(num, protowire.Fixed64Type)
	if !ok {
		return 0
	}
	v := math.Float64frombits(f.v)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (fs fields) bool(num protowire.Number) bool {
	return fs.uint(num) == 1
}

func (fs fields) dir(num protowire.Number, def Direction) Direction {
	f, ok := fs.get(num, protowire.VarintType)
	return decodeDirection(f.v, ok, def)
}
