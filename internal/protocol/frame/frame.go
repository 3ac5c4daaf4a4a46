package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/tracectl/internal/protocol"
)

var (
	ErrFrameTooLong = errors.New("frame: frame exceeds limit")
	ErrBadEscape    = errors.New("frame: escape byte before delimiter")
)

// Sync is sent once by a host before its first command so the target parser
// leaves its wait-for-delimiter state.
var Sync = []byte{protocol.FrameByte}

// Limits constrains host-side frame reassembly memory use.
type Limits struct {
	MaxFrameBytes int
}

// DefaultMaxFrameBytes fits every predefined record, rounded up to 1 KiB.
const DefaultMaxFrameBytes = (protocol.MaxPredefinedRecordLen + 1023) &^ 1023

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: DefaultMaxFrameBytes}
}

// AppendStuffed appends logical bytes with reserved values escaped.
func AppendStuffed(dst []byte, logical ...byte) []byte {
	for _, b := range logical {
		if b == protocol.FrameByte || b == protocol.EscapeByte {
			dst = append(dst, protocol.EscapeByte, b^protocol.EscapeXOR)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// Encode stuffs logical bytes, checksum included, and terminates the frame.
func Encode(dst, logical []byte) []byte {
	dst = AppendStuffed(dst, logical...)
	return append(dst, protocol.FrameByte)
}

// EncodeCommand builds a complete host-to-target command frame.
func EncodeCommand(seq uint8, cmd protocol.CommandID, payload []byte) []byte {
	logical := make([]byte, 0, len(payload)+3)
	logical = append(logical, seq, byte(cmd))
	logical = append(logical, payload...)
	logical = append(logical, protocol.Checksum(logical))
	return Encode(make([]byte, 0, len(logical)*2+1), logical)
}

// Unstuff reverses byte stuffing of one frame body without its delimiter.
func Unstuff(dst, stuffed []byte) ([]byte, error) {
	esc := false
	for _, b := range stuffed {
		switch {
		case esc:
			dst = append(dst, b^protocol.EscapeXOR)
			esc = false
		case b == protocol.EscapeByte:
			esc = true
		default:
			dst = append(dst, b)
		}
	}
	if esc {
		return dst, ErrBadEscape
	}
	return dst, nil
}

// Reader splits a byte stream into un-stuffed frames. The stream is assumed
// to start at a frame boundary; empty frames are skipped.
type Reader struct {
	r      *bufio.Reader
	limits Limits
	buf    []byte
}

func NewReader(r io.Reader, limits Limits) *Reader {
	if limits.MaxFrameBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Reader{
		r:      bufio.NewReader(r),
		limits: limits,
		buf:    make([]byte, 0, limits.MaxFrameBytes),
	}
}

// ReadFrame returns the next un-stuffed frame, checksum included. The slice
// is valid until the next call. ErrFrameTooLong and ErrBadEscape leave the
// reader synchronized on the following frame.
func (r *Reader) ReadFrame() ([]byte, error) {
	r.buf = r.buf[:0]
	esc := false
	overrun := false
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(r.buf) > 0 || esc || overrun) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if b == protocol.FrameByte {
			switch {
			case overrun:
				return nil, fmt.Errorf("%w: max=%d", ErrFrameTooLong, r.limits.MaxFrameBytes)
			case esc:
				return nil, ErrBadEscape
			case len(r.buf) == 0:
				continue
			}
			return r.buf, nil
		}
		if overrun {
			continue
		}
		if esc {
			b ^= protocol.EscapeXOR
			esc = false
		} else if b == protocol.EscapeByte {
			esc = true
			continue
		}
		if len(r.buf) >= r.limits.MaxFrameBytes {
			overrun = true
			continue
		}
		r.buf = append(r.buf, b)
	}
}

// ReadRecord reads frames until one decodes as a record. Frames that fail to
// decode are counted in skipped and dropped.
func (r *Reader) ReadRecord(sz protocol.Sizes) (rec protocol.Record, skipped int, err error) {
	for {
		f, err := r.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrFrameTooLong) || errors.Is(err, ErrBadEscape) {
				skipped++
				continue
			}
			return protocol.Record{}, skipped, err
		}
		rec, err = protocol.ParseRecord(f, sz)
		if err != nil {
			skipped++
			continue
		}
		return rec, skipped, nil
	}
}
