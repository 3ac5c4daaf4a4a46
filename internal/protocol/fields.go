package protocol

import (
	"fmt"
	"math"
)

// FieldType is the low nibble of a field format byte.
type FieldType uint8

const (
	TypeI8 FieldType = iota
	TypeU8
	TypeI16
	TypeU16
	TypeI32
	TypeU32
	TypeF32
	TypeF64
	TypeStr
	TypeMem
	TypeSig
	TypeObj
	TypeFun
	TypeI64
	TypeU64

	// TypeEnum is encoded on the wire as TypeI8 with the group flag set.
	TypeEnum
)

const (
	enumFlag  byte = 0x80
	typeMask  byte = 0x0F
	widthMask byte = 0x0F

	// MaxMemLen bounds a memory block field.
	MaxMemLen = 255
	// MaxEnumGroup is the highest group id an enum field can carry.
	MaxEnumGroup = 7
)

var fieldTypeNames = [...]string{
	"i8", "u8", "i16", "u16", "i32", "u32", "f32", "f64",
	"str", "mem", "sig", "obj", "fun", "i64", "u64", "enum",
}

func (t FieldType) String() string {
	if int(t) < len(fieldTypeNames) {
		return fieldTypeNames[t]
	}
	return fmt.Sprintf("type_%d", uint8(t))
}

// Sizes fixes the configurable field widths of a target.
type Sizes struct {
	Signal uint8
	ObjPtr uint8
	FunPtr uint8
	Time   uint8
}

func DefaultSizes() Sizes {
	return Sizes{
		Signal: 2,
		ObjPtr: 4,
		FunPtr: 4,
		Time:   4,
	}
}

func (s Sizes) Validate() error {
	switch s.Signal {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: signal=%d", ErrInvalidSizes, s.Signal)
	}
	switch s.ObjPtr {
	case 2, 4, 8:
	default:
		return fmt.Errorf("%w: obj_ptr=%d", ErrInvalidSizes, s.ObjPtr)
	}
	switch s.FunPtr {
	case 2, 4, 8:
	default:
		return fmt.Errorf("%w: fun_ptr=%d", ErrInvalidSizes, s.FunPtr)
	}
	switch s.Time {
	case 2, 4:
	default:
		return fmt.Errorf("%w: time=%d", ErrInvalidSizes, s.Time)
	}
	return nil
}

// RecordHeaderLen is the logical length of seq, kind, originator and timestamp.
func (s Sizes) RecordHeaderLen() int { return 3 + int(s.Time) }

// Value is one typed record field.
type Value struct {
	Type  FieldType
	Width uint8
	Group uint8
	Int   int64
	Uint  uint64
	Float float64
	Str   string
	Mem   []byte
	Addr  uint64
}

func I8(v int8) Value     { return Value{Type: TypeI8, Int: int64(v)} }
func U8(v uint8) Value    { return Value{Type: TypeU8, Uint: uint64(v)} }
func I16(v int16) Value   { return Value{Type: TypeI16, Int: int64(v)} }
func U16(v uint16) Value  { return Value{Type: TypeU16, Uint: uint64(v)} }
func I32(v int32) Value   { return Value{Type: TypeI32, Int: int64(v)} }
func U32(v uint32) Value  { return Value{Type: TypeU32, Uint: uint64(v)} }
func I64(v int64) Value   { return Value{Type: TypeI64, Int: v} }
func U64(v uint64) Value  { return Value{Type: TypeU64, Uint: v} }
func F32(v float32) Value { return Value{Type: TypeF32, Float: float64(v)} }
func F64(v float64) Value { return Value{Type: TypeF64, Float: v} }
func Str(s string) Value  { return Value{Type: TypeStr, Str: s} }
func Mem(b []byte) Value  { return Value{Type: TypeMem, Mem: b} }
func Obj(addr uint64) Value {
	return Value{Type: TypeObj, Addr: addr}
}
func Fun(addr uint64) Value {
	return Value{Type: TypeFun, Addr: addr}
}

// Sig is a signal paired with the raw address of the object it targets.
func Sig(sig uint32, obj uint64) Value {
	return Value{Type: TypeSig, Uint: uint64(sig), Addr: obj}
}

// Enum is a grouped enumerated value. Groups above MaxEnumGroup are masked.
func Enum(group, v uint8) Value {
	return Value{Type: TypeEnum, Group: group & MaxEnumGroup, Uint: uint64(v)}
}

// WithWidth sets the display width hint carried in the format byte.
func (v Value) WithWidth(w uint8) Value {
	v.Width = w & widthMask
	return v
}

// Format returns the format byte that precedes v on the wire.
func (v Value) Format() byte {
	if v.Type == TypeEnum {
		return enumFlag | (v.Group&MaxEnumGroup)<<4 | byte(TypeI8)
	}
	w := v.Width & widthMask
	if v.Type == TypeI8 {
		w &= 0x07
	}
	return w<<4 | byte(v.Type)&typeMask
}

// Any returns v as a plain Go value for display.
func (v Value) Any() any {
	switch v.Type {
	case TypeI8, TypeI16, TypeI32, TypeI64:
		return v.Int
	case TypeU8, TypeU16, TypeU32, TypeU64, TypeEnum:
		return v.Uint
	case TypeF32, TypeF64:
		return v.Float
	case TypeStr:
		return v.Str
	case TypeMem:
		return v.Mem
	case TypeSig:
		return map[string]uint64{"sig": v.Uint, "obj": v.Addr}
	case TypeObj, TypeFun:
		return fmt.Sprintf("0x%X", v.Addr)
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Type {
	case TypeEnum:
		return fmt.Sprintf("enum(%d:%d)", v.Group, v.Uint)
	case TypeSig:
		return fmt.Sprintf("sig(%d,0x%X)", v.Uint, v.Addr)
	case TypeStr:
		return fmt.Sprintf("%q", v.Str)
	case TypeMem:
		return fmt.Sprintf("% X", v.Mem)
	case TypeF32, TypeF64:
		return fmt.Sprintf("%g", v.Float)
	default:
		return fmt.Sprint(v.Any())
	}
}

// scalarWidth returns the byte width of fixed-size value types.
func scalarWidth(t FieldType, sz Sizes) (int, bool) {
	switch t {
	case TypeI8, TypeU8, TypeEnum:
		return 1, true
	case TypeI16, TypeU16:
		return 2, true
	case TypeI32, TypeU32, TypeF32:
		return 4, true
	case TypeI64, TypeU64, TypeF64:
		return 8, true
	case TypeObj:
		return int(sz.ObjPtr), true
	case TypeFun:
		return int(sz.FunPtr), true
	case TypeSig:
		return int(sz.Signal) + int(sz.ObjPtr), true
	default:
		return 0, false
	}
}

// bits returns the raw little-endian bit pattern of a scalar value.
func (v Value) bits() uint64 {
	switch v.Type {
	case TypeI8, TypeI16, TypeI32, TypeI64:
		return uint64(v.Int)
	case TypeF32:
		return uint64(math.Float32bits(float32(v.Float)))
	case TypeF64:
		return math.Float64bits(v.Float)
	case TypeObj, TypeFun:
		return v.Addr
	default:
		return v.Uint
	}
}
