// Package command owns the inbound command channel: a single-producer,
// single-consumer byte ring fed by the transport and a frame reassembly state
// machine that validates and dispatches host commands.
package command

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/tracectl/internal/protocol"
)

const (
	// MinCapacity is the smallest accepted ingress ring.
	MinCapacity = 8
	// DefaultFrameLen bounds one reassembled command frame.
	DefaultFrameLen = 256
	// minFrameLen covers seq, command id and checksum.
	minFrameLen = 3
)

var ErrCapacity = errors.New("command: buffer capacity too small")

// Handler receives the outcome of every completed frame.
type Handler interface {
	Handle(cmd Command)
	Reject(id protocol.CommandID, code protocol.ErrorCode)
}

type Config struct {
	Sizes protocol.Sizes
	// FrameStorage holds one un-stuffed frame. Defaults to DefaultFrameLen.
	FrameStorage []byte
}

func DefaultConfig() Config {
	return Config{Sizes: protocol.DefaultSizes()}
}

type parseState uint8

const (
	waitDelimiter parseState = iota
	accumulating
)

// Channel is the inbound side. PutByte and PutBlock may run concurrently with
// Parse; the transport must feed from a single context. Parse admits one
// caller at a time.
type Channel struct {
	ring    []byte
	head    atomic.Uint32
	tail    atomic.Uint32
	parsing atomic.Bool

	sizes protocol.Sizes
	frame []byte
	n     int
	sum   byte
	esc   bool
	state parseState
	seq   uint8
	valid bool

	frames       atomic.Uint64
	checksumErrs atomic.Uint64
	overruns     atomic.Uint64
	badPayloads  atomic.Uint64
	seqGaps      atomic.Uint64
	ingressDrops atomic.Uint64
}

// New builds a channel over caller-supplied ingress storage.
func New(storage []byte, cfg Config) (*Channel, error) {
	if len(storage) < MinCapacity {
		return nil, fmt.Errorf("%w: %d < %d", ErrCapacity, len(storage), MinCapacity)
	}
	if err := cfg.Sizes.Validate(); err != nil {
		return nil, err
	}
	frame := cfg.FrameStorage
	if len(frame) == 0 {
		frame = make([]byte, DefaultFrameLen)
	}
	if len(frame) < minFrameLen {
		return nil, fmt.Errorf("%w: frame storage %d", ErrCapacity, len(frame))
	}
	return &Channel{
		ring:  storage,
		sizes: cfg.Sizes,
		frame: frame,
		state: waitDelimiter,
	}, nil
}

func (c *Channel) next(i uint32) uint32 {
	i++
	if int(i) == len(c.ring) {
		return 0
	}
	return i
}

// PutByte appends one byte from the transport. It reports false and counts
// the byte as dropped when the ring is full.
func (c *Channel) PutByte(b byte) bool {
	h := c.head.Load()
	n := c.next(h)
	if n == c.tail.Load() {
		c.ingressDrops.Add(1)
		return false
	}
	c.ring[h] = b
	c.head.Store(n)
	return true
}

// PutBlock appends as many bytes of p as fit and returns how many were taken.
// The rest are counted as dropped.
func (c *Channel) PutBlock(p []byte) int {
	for i, b := range p {
		if !c.PutByte(b) {
			c.ingressDrops.Add(uint64(len(p) - i - 1))
			return i
		}
	}
	return len(p)
}

// FreeBytes returns how many bytes PutBlock can currently accept.
func (c *Channel) FreeBytes() int {
	h, t := int(c.head.Load()), int(c.tail.Load())
	return (t - h - 1 + len(c.ring)) % len(c.ring)
}

// Parse consumes every buffered byte and reports completed frames to h. It
// returns the number of frames completed, good or bad. A call made while
// another Parse is running, including one from inside h, returns 0 without
// consuming anything.
func (c *Channel) Parse(h Handler) int {
	if !c.parsing.CompareAndSwap(false, true) {
		return 0
	}
	defer c.parsing.Store(false)
	done := 0
	for {
		t := c.tail.Load()
		if t == c.head.Load() {
			return done
		}
		b := c.ring[t]
		c.tail.Store(c.next(t))
		if c.feed(b, h) {
			done++
		}
	}
}

func (c *Channel) restart() {
	c.n = 0
	c.sum = 0
	c.esc = false
	c.state = accumulating
}

func (c *Channel) feed(b byte, h Handler) bool {
	if c.state == waitDelimiter {
		if b == protocol.FrameByte {
			c.restart()
		}
		return false
	}

	if b == protocol.FrameByte {
		complete := c.n > 0 || c.esc
		if complete {
			c.finish(h)
		}
		c.restart()
		return complete
	}
	if c.esc {
		b ^= protocol.EscapeXOR
		c.esc = false
	} else if b == protocol.EscapeByte {
		c.esc = true
		return false
	}
	if c.n == len(c.frame) {
		c.overruns.Add(1)
		h.Reject(c.guessID(), protocol.ErrCodeOverrun)
		c.state = waitDelimiter
		return true
	}
	c.frame[c.n] = b
	c.n++
	c.sum += b
	return false
}

func (c *Channel) guessID() protocol.CommandID {
	if c.n >= 2 {
		return protocol.CommandID(c.frame[1])
	}
	return 0
}

func (c *Channel) finish(h Handler) {
	if c.esc || c.sum != protocol.GoodChecksum {
		c.checksumErrs.Add(1)
		h.Reject(c.guessID(), protocol.ErrCodeChecksum)
		return
	}
	if c.n < minFrameLen {
		c.badPayloads.Add(1)
		h.Reject(c.guessID(), protocol.ErrCodeBadPayload)
		return
	}

	seq := c.frame[0]
	if c.valid && seq != c.seq+1 {
		c.seqGaps.Add(1)
	}
	c.seq = seq
	c.valid = true

	id := protocol.CommandID(c.frame[1])
	cmd, err := Decode(id, c.frame[2:c.n-1], c.sizes)
	if err != nil {
		c.badPayloads.Add(1)
		code := protocol.ErrCodeBadPayload
		if !id.Valid() {
			code = protocol.ErrCodeUnknown
		}
		h.Reject(id, code)
		return
	}
	c.frames.Add(1)
	h.Handle(cmd)
}

// Stats is a point-in-time view of the inbound side.
type Stats struct {
	Frames       uint64
	ChecksumErrs uint64
	Overruns     uint64
	BadPayloads  uint64
	SeqGaps      uint64
	IngressDrops uint64
	Buffered     int
}

func (c *Channel) Stats() Stats {
	h, t := int(c.head.Load()), int(c.tail.Load())
	return Stats{
		Frames:       c.frames.Load(),
		ChecksumErrs: c.checksumErrs.Load(),
		Overruns:     c.overruns.Load(),
		BadPayloads:  c.badPayloads.Load(),
		SeqGaps:      c.seqGaps.Load(),
		IngressDrops: c.ingressDrops.Load(),
		Buffered:     (h - t + len(c.ring)) % len(c.ring),
	}
}
