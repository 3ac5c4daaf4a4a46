package protocol

import (
	"fmt"
	"time"
)

// Attr is one named attribute of a predefined record.
type Attr struct {
	Key   string `yaml:"key" json:"key"`
	Value any    `yaml:"value" json:"value"`
}

// Description is the host-side rendering of a decoded record.
type Description struct {
	Seq        uint8  `yaml:"seq" json:"seq"`
	Kind       string `yaml:"kind" json:"kind"`
	Originator uint8  `yaml:"originator" json:"originator"`
	Time       uint32 `yaml:"time" json:"time"`
	Attrs      []Attr `yaml:"attrs,omitempty" json:"attrs,omitempty"`
	Fields     []any  `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// TargetInfo is the decoded payload of a TARGET_INFO record.
type TargetInfo struct {
	Reset       bool
	Version     uint16
	Sizes       Sizes
	EvtSize     uint8
	QueueCtr    uint8
	TevtCtr     uint8
	PoolBlk     uint8
	PoolCtr     uint8
	MaxActive   uint8
	MaxTickRate uint8
	Build       time.Time
}

// TargetInfoLen is the payload length of a TARGET_INFO record.
const TargetInfoLen = 3 + 7 + 6

const (
	// MaxPeekDataLen is the payload length of a PEEK_DATA record reading 255
	// items of 4 bytes.
	MaxPeekDataLen = 4 + 4*255
	// MaxPredefinedRecordLen is the logical length of the largest record the
	// engine emits on its own, with the widest timestamp and the checksum.
	MaxPredefinedRecordLen = 3 + 4 + MaxPeekDataLen + 1
)

// AppendTargetInfo appends the raw TARGET_INFO payload for info.
func AppendTargetInfo(dst []byte, info TargetInfo) []byte {
	reset := byte(0)
	if info.Reset {
		reset = 1
	}
	b := info.Build
	dst = append(dst, reset)
	dst = AppendUint(dst, uint64(info.Version), 2)
	return append(dst,
		info.Sizes.Signal&0x0F|info.EvtSize<<4,
		info.QueueCtr&0x0F|info.TevtCtr<<4,
		info.PoolBlk&0x0F|info.PoolCtr<<4,
		info.Sizes.ObjPtr&0x0F|info.Sizes.FunPtr<<4,
		info.Sizes.Time,
		info.MaxActive,
		info.MaxTickRate,
		byte(b.Second()), byte(b.Minute()), byte(b.Hour()),
		byte(b.Day()), byte(b.Month()), byte(b.Year()%100),
	)
}

// ParseTargetInfo decodes a TARGET_INFO payload.
func ParseTargetInfo(payload []byte) (TargetInfo, error) {
	if len(payload) < TargetInfoLen {
		return TargetInfo{}, fmt.Errorf("%w: target info len=%d", ErrTruncated, len(payload))
	}
	p := payload
	info := TargetInfo{
		Reset:   p[0] != 0,
		Version: uint16(readUint(p[1:3])),
		Sizes: Sizes{
			Signal: p[3] & 0x0F,
			ObjPtr: p[6] & 0x0F,
			FunPtr: p[6] >> 4,
			Time:   p[7],
		},
		EvtSize:     p[3] >> 4,
		QueueCtr:    p[4] & 0x0F,
		TevtCtr:     p[4] >> 4,
		PoolBlk:     p[5] & 0x0F,
		PoolCtr:     p[5] >> 4,
		MaxActive:   p[8],
		MaxTickRate: p[9],
	}
	info.Build = time.Date(2000+int(p[15]), time.Month(p[14]), int(p[13]),
		int(p[12]), int(p[11]), int(p[10]), 0, time.UTC)
	return info, nil
}

// Describe renders rec for display. Predefined kinds decode their raw layout;
// every other kind is decoded as a sequence of tagged fields.
func Describe(rec Record, sz Sizes) (Description, error) {
	d := Description{
		Seq:        rec.Seq,
		Kind:       rec.Kind.String(),
		Originator: rec.Originator,
		Time:       rec.Time,
	}
	r := NewReader(rec.Payload, sz)
	attr := func(k string, v any) { d.Attrs = append(d.Attrs, Attr{Key: k, Value: v}) }

	switch rec.Kind {
	case KindTargetInfo:
		info, err := ParseTargetInfo(rec.Payload)
		if err != nil {
			return d, err
		}
		attr("reset", info.Reset)
		attr("version", info.Version)
		attr("sizes", fmt.Sprintf("sig=%d obj=%d fun=%d time=%d",
			info.Sizes.Signal, info.Sizes.ObjPtr, info.Sizes.FunPtr, info.Sizes.Time))
		attr("build", info.Build.Format("2006-01-02T15:04:05"))
		return d, nil
	case KindTargetDone:
		attr("command", CommandID(r.U8()).String())
	case KindRxStatus:
		attr("status", Status(r.U8()).String())
	case KindQueryData:
		attr("object_kind", ObjectKind(r.U8()).String())
		attr("addr", fmt.Sprintf("0x%X", r.Obj()))
	case KindPeekData:
		attr("offset", r.U16())
		size := r.U8()
		count := r.U8()
		attr("size", size)
		attr("count", count)
		attr("data", fmt.Sprintf("% X", r.Bytes(int(size)*int(count))))
	case KindAssertFail:
		attr("location", r.U16())
		attr("module", r.Str())
		attr("delay", r.U32())
	case KindTestPaused:
	case KindTestProbeGet:
		attr("fun", fmt.Sprintf("0x%X", r.Fun()))
		attr("data", r.U32())
	case KindSigDict:
		attr("sig", r.Signal())
		attr("obj", fmt.Sprintf("0x%X", r.Obj()))
		attr("name", r.Str())
	case KindObjDict, KindFunDict:
		if rec.Kind == KindObjDict {
			attr("addr", fmt.Sprintf("0x%X", r.Obj()))
		} else {
			attr("addr", fmt.Sprintf("0x%X", r.Fun()))
		}
		attr("name", r.Str())
	case KindUsrDict:
		attr("kind", Kind(r.U8()).String())
		attr("name", r.Str())
	case KindEnumDict:
		attr("value", r.U8())
		attr("group", r.U8())
		attr("name", r.Str())
	default:
		vals, err := DecodeFields(rec.Payload, sz)
		if err != nil {
			return d, err
		}
		for _, v := range vals {
			d.Fields = append(d.Fields, v.Any())
		}
		return d, nil
	}
	return d, r.Err()
}
