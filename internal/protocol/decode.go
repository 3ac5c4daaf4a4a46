package protocol

import (
	"bytes"
	"fmt"
	"math"
)

// Record is one decoded trace record. Payload aliases the frame it came from.
type Record struct {
	Seq        uint8
	Kind       Kind
	Originator uint8
	Time       uint32
	Payload    []byte
}

func readUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// ParseRecord decodes an un-stuffed frame that still carries its checksum.
func ParseRecord(frame []byte, sz Sizes) (Record, error) {
	hdr := sz.RecordHeaderLen()
	if len(frame) < hdr+1 {
		return Record{}, fmt.Errorf("%w: len=%d", ErrShortRecord, len(frame))
	}
	var sum byte
	for _, c := range frame {
		sum += c
	}
	if sum != GoodChecksum {
		return Record{}, fmt.Errorf("%w: sum=0x%02X", ErrBadChecksum, sum)
	}
	body := frame[:len(frame)-1]
	return Record{
		Seq:        body[0],
		Kind:       Kind(body[1]),
		Originator: body[2],
		Time:       uint32(readUint(body[3:hdr])),
		Payload:    body[hdr:],
	}, nil
}

// DecodeFields decodes a payload made only of tagged fields.
func DecodeFields(payload []byte, sz Sizes) ([]Value, error) {
	out := make([]Value, 0, 4)
	for i := 0; i < len(payload); {
		v, n, err := DecodeValue(payload[i:], sz)
		if err != nil {
			return nil, fmt.Errorf("field %d at offset %d: %w", len(out), i, err)
		}
		out = append(out, v)
		i += n
	}
	return out, nil
}

// DecodeValue decodes one tagged field from the start of b and returns the
// number of bytes it used.
func DecodeValue(b []byte, sz Sizes) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, ErrTruncated
	}
	f := b[0]
	t := FieldType(f & typeMask)
	w := (f >> 4) & widthMask

	if t == TypeI8 && f&enumFlag != 0 {
		if len(b) < 2 {
			return Value{}, 0, ErrTruncated
		}
		return Enum((f>>4)&MaxEnumGroup, b[1]), 2, nil
	}
	if t == TypeI8 {
		w &= 0x07
	}
	if t == TypeEnum {
		return Value{}, 0, fmt.Errorf("%w: 0x%02X", ErrUnknownFieldType, f)
	}

	switch t {
	case TypeStr:
		end := bytes.IndexByte(b[1:], 0)
		if end < 0 {
			return Value{}, 0, ErrUnterminatedString
		}
		return Value{Type: TypeStr, Width: w, Str: string(b[1 : 1+end])}, end + 2, nil
	case TypeMem:
		if len(b) < 2 {
			return Value{}, 0, ErrTruncated
		}
		n := int(b[1])
		if len(b) < 2+n {
			return Value{}, 0, ErrTruncated
		}
		mem := make([]byte, n)
		copy(mem, b[2:2+n])
		return Value{Type: TypeMem, Width: w, Mem: mem}, n + 2, nil
	}

	n, ok := scalarWidth(t, sz)
	if !ok {
		return Value{}, 0, fmt.Errorf("%w: 0x%02X", ErrUnknownFieldType, f)
	}
	if len(b) < 1+n {
		return Value{}, 0, ErrTruncated
	}
	raw := b[1 : 1+n]
	v := Value{Type: t, Width: w}
	switch t {
	case TypeI8:
		v.Int = int64(int8(raw[0]))
	case TypeI16:
		v.Int = int64(int16(readUint(raw)))
	case TypeI32:
		v.Int = int64(int32(readUint(raw)))
	case TypeI64:
		v.Int = int64(readUint(raw))
	case TypeF32:
		v.Float = float64(math.Float32frombits(uint32(readUint(raw))))
	case TypeF64:
		v.Float = math.Float64frombits(readUint(raw))
	case TypeObj, TypeFun:
		v.Addr = readUint(raw)
	case TypeSig:
		v.Uint = readUint(raw[:sz.Signal])
		v.Addr = readUint(raw[sz.Signal:])
	default:
		v.Uint = readUint(raw)
	}
	return v, n + 1, nil
}
