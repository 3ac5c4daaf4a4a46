package protocol

import "strings"

// AppendUint appends the low n bytes of v in little-endian order.
func AppendUint(dst []byte, v uint64, n int) []byte {
	for i := 0; i < n; i++ {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

// Checksum returns the one's complement of the byte sum of b. Records and
// commands sum their logical bytes, before stuffing, so a receiver checks the
// un-stuffed frame.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return ^sum
}

// ClampString cuts s at its first NUL and at max bytes when max > 0.
func ClampString(s string, max int) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	if max > 0 && len(s) > max {
		s = s[:max]
	}
	return s
}

// ClampMem bounds a memory block to MaxMemLen bytes.
func ClampMem(b []byte) []byte {
	if len(b) > MaxMemLen {
		return b[:MaxMemLen]
	}
	return b
}

// AppendValue appends the format byte and encoded value of v. Strings are
// bounded by maxStr when maxStr > 0.
func AppendValue(dst []byte, v Value, sz Sizes, maxStr int) []byte {
	dst = append(dst, v.Format())
	return AppendRaw(dst, v, sz, maxStr)
}

// AppendRaw appends the encoded value of v without a format byte. Predefined
// records use raw values.
func AppendRaw(dst []byte, v Value, sz Sizes, maxStr int) []byte {
	switch v.Type {
	case TypeStr:
		dst = append(dst, ClampString(v.Str, maxStr)...)
		return append(dst, 0)
	case TypeMem:
		m := ClampMem(v.Mem)
		dst = append(dst, byte(len(m)))
		return append(dst, m...)
	case TypeSig:
		dst = AppendUint(dst, v.Uint, int(sz.Signal))
		return AppendUint(dst, v.Addr, int(sz.ObjPtr))
	}
	n, ok := scalarWidth(v.Type, sz)
	if !ok {
		return dst
	}
	return AppendUint(dst, v.bits(), n)
}

// AppendFields appends every value with its format byte.
func AppendFields(dst []byte, sz Sizes, maxStr int, vals ...Value) []byte {
	for _, v := range vals {
		dst = AppendValue(dst, v, sz, maxStr)
	}
	return dst
}

// EncodeRecord returns the logical bytes of rec followed by its checksum.
func EncodeRecord(rec Record, sz Sizes) []byte {
	out := make([]byte, 0, sz.RecordHeaderLen()+len(rec.Payload)+1)
	out = append(out, rec.Seq, byte(rec.Kind), rec.Originator)
	out = AppendUint(out, uint64(rec.Time), int(sz.Time))
	out = append(out, rec.Payload...)
	return append(out, Checksum(out))
}
