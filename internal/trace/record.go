package trace

import "github.com/danmuck/tracectl/internal/protocol"

// Record is the token returned by Begin. The zero Record is "not recording":
// every method is a no-op on it, so callers may chain without checking.
type Record struct {
	ch   *Channel
	gen  uint64
	held bool
}

func (r Record) Recording() bool { return r.ch != nil }

func (r Record) live() *Channel {
	if r.ch == nil || !r.ch.active || r.ch.gen != r.gen {
		return nil
	}
	return r.ch
}

// End closes the record: checksum, delimiter, commit. A record that ran out
// of room is discarded here and the section is released either way.
func (r Record) End() {
	if c := r.live(); c != nil {
		c.close(r.held)
	}
}

// Append writes one tagged field.
func (r Record) Append(v protocol.Value) Record {
	if c := r.live(); c != nil {
		c.put(v.Format())
		c.putRaw(v)
	}
	return r
}

// Raw writes v without its format byte.
func (r Record) Raw(v protocol.Value) Record {
	if c := r.live(); c != nil {
		c.putRaw(v)
	}
	return r
}

func (c *Channel) putRaw(v protocol.Value) {
	switch v.Type {
	case protocol.TypeStr:
		s := protocol.ClampString(v.Str, c.maxStr)
		for i := 0; i < len(s); i++ {
			c.put(s[i])
		}
		c.put(0)
	case protocol.TypeMem:
		m := protocol.ClampMem(v.Mem)
		c.put(byte(len(m)))
		for _, b := range m {
			c.put(b)
		}
	default:
		var scratch [16]byte
		for _, b := range protocol.AppendRaw(scratch[:0], v, c.sizes, 0) {
			c.put(b)
		}
	}
}

func (r Record) I8(v int8) Record       { return r.Append(protocol.I8(v)) }
func (r Record) U8(v uint8) Record      { return r.Append(protocol.U8(v)) }
func (r Record) I16(v int16) Record     { return r.Append(protocol.I16(v)) }
func (r Record) U16(v uint16) Record    { return r.Append(protocol.U16(v)) }
func (r Record) I32(v int32) Record     { return r.Append(protocol.I32(v)) }
func (r Record) U32(v uint32) Record    { return r.Append(protocol.U32(v)) }
func (r Record) I64(v int64) Record     { return r.Append(protocol.I64(v)) }
func (r Record) U64(v uint64) Record    { return r.Append(protocol.U64(v)) }
func (r Record) F32(v float32) Record   { return r.Append(protocol.F32(v)) }
func (r Record) F64(v float64) Record   { return r.Append(protocol.F64(v)) }
func (r Record) Str(s string) Record    { return r.Append(protocol.Str(s)) }
func (r Record) Mem(b []byte) Record    { return r.Append(protocol.Mem(b)) }
func (r Record) Obj(addr uint64) Record { return r.Append(protocol.Obj(addr)) }
func (r Record) Fun(addr uint64) Record { return r.Append(protocol.Fun(addr)) }

func (r Record) Enum(group, v uint8) Record {
	return r.Append(protocol.Enum(group, v))
}

func (r Record) Sig(sig uint32, obj uint64) Record {
	return r.Append(protocol.Sig(sig, obj))
}

// Raw field helpers for predefined record layouts.

func (r Record) RawU8(v uint8) Record {
	if c := r.live(); c != nil {
		c.put(v)
	}
	return r
}

func (r Record) RawU16(v uint16) Record {
	if c := r.live(); c != nil {
		c.putUint(uint64(v), 2)
	}
	return r
}

func (r Record) RawU32(v uint32) Record {
	if c := r.live(); c != nil {
		c.putUint(uint64(v), 4)
	}
	return r
}

func (r Record) RawObj(addr uint64) Record {
	if c := r.live(); c != nil {
		c.putUint(addr, int(c.sizes.ObjPtr))
	}
	return r
}

func (r Record) RawFun(addr uint64) Record {
	if c := r.live(); c != nil {
		c.putUint(addr, int(c.sizes.FunPtr))
	}
	return r
}

func (r Record) RawSignal(sig uint32) Record {
	if c := r.live(); c != nil {
		c.putUint(uint64(sig), int(c.sizes.Signal))
	}
	return r
}

func (r Record) RawStr(s string) Record { return r.Raw(protocol.Str(s)) }

// RawBytes writes b as is, with no length prefix.
func (r Record) RawBytes(b []byte) Record {
	if c := r.live(); c != nil {
		for _, x := range b {
			c.put(x)
		}
	}
	return r
}
