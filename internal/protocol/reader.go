package protocol

import "bytes"

// Reader walks the raw payload of a predefined record. The first short read
// sets a sticky ErrTruncated and every later read returns zero values.
type Reader struct {
	buf []byte
	off int
	sz  Sizes
	err error
}

func NewReader(payload []byte, sz Sizes) *Reader {
	return &Reader{buf: payload, sz: sz}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint(n int) uint64 { return readUint(r.take(n)) }
func (r *Reader) U8() uint8         { return uint8(r.Uint(1)) }
func (r *Reader) U16() uint16       { return uint16(r.Uint(2)) }
func (r *Reader) U32() uint32       { return uint32(r.Uint(4)) }
func (r *Reader) Obj() uint64       { return r.Uint(int(r.sz.ObjPtr)) }
func (r *Reader) Fun() uint64       { return r.Uint(int(r.sz.FunPtr)) }
func (r *Reader) Signal() uint32    { return uint32(r.Uint(int(r.sz.Signal))) }

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte { return r.take(n) }

// Str reads a NUL-terminated string.
func (r *Reader) Str() string {
	if r.err != nil {
		return ""
	}
	end := bytes.IndexByte(r.buf[r.off:], 0)
	if end < 0 {
		r.err = ErrUnterminatedString
		return ""
	}
	s := string(r.buf[r.off : r.off+end])
	r.off += end + 1
	return s
}

// Rest returns the unread bytes.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

func (r *Reader) Len() int { return len(r.buf) - r.off }

func (r *Reader) Err() error { return r.err }
