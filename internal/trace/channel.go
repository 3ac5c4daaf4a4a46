// Package trace owns the outbound trace channel: a fixed ring of stuffed,
// checksummed, delimited records with all-or-nothing record commits.
package trace

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/tracectl/internal/crit"
	"github.com/danmuck/tracectl/internal/filter"
	"github.com/danmuck/tracectl/internal/protocol"
)

// MinCapacity is the smallest accepted ring size.
const MinCapacity = 16

var ErrCapacity = errors.New("trace: buffer capacity too small")

type Config struct {
	Sizes protocol.Sizes
	// Section serializes producers and the drain step. Defaults to a spin lock.
	Section crit.Section
	// Clock supplies record timestamps. Defaults to microseconds since New.
	Clock        func() uint32
	MaxStringLen int
}

func DefaultConfig() Config {
	return Config{
		Sizes:        protocol.DefaultSizes(),
		MaxStringLen: 255,
	}
}

// Channel is the outbound ring. Bytes between tail and head are committed
// records; a record in progress is written past head and only becomes visible
// when it closes.
type Channel struct {
	buf    []byte
	sizes  protocol.Sizes
	maxStr int
	sec    crit.Section
	flt    *filter.Set
	clock  func() uint32

	head int
	tail int
	used int
	seq  uint8

	wpos   int
	wused  int
	chk    byte
	active bool
	failed bool
	nest   int

	// gen identifies the open record so a Record kept past End goes inert.
	gen uint64

	records atomic.Uint64
	dropped atomic.Uint64
	drained atomic.Uint64
}

// New builds a channel over caller-supplied storage.
func New(storage []byte, flt *filter.Set, cfg Config) (*Channel, error) {
	if len(storage) < MinCapacity {
		return nil, fmt.Errorf("%w: %d < %d", ErrCapacity, len(storage), MinCapacity)
	}
	if err := cfg.Sizes.Validate(); err != nil {
		return nil, err
	}
	if flt == nil {
		flt = filter.New(cfg.Section)
	}
	if cfg.Section == nil {
		cfg.Section = crit.NewSpin()
	}
	if cfg.Clock == nil {
		start := time.Now()
		cfg.Clock = func() uint32 { return uint32(time.Since(start).Microseconds()) }
	}
	return &Channel{
		buf:    storage,
		sizes:  cfg.Sizes,
		maxStr: cfg.MaxStringLen,
		sec:    cfg.Section,
		flt:    flt,
		clock:  cfg.Clock,
	}, nil
}

func (c *Channel) Filter() *filter.Set   { return c.flt }
func (c *Channel) Sizes() protocol.Sizes { return c.sizes }

// Begin opens a record of kind from originator id. A rejected record returns
// a Record that ignores every call and never touches the section.
func (c *Channel) Begin(kind protocol.Kind, id uint8) Record {
	if !c.flt.Accepts(kind, id) {
		return Record{}
	}
	c.sec.Enter()
	if c.active {
		c.sec.Exit()
		c.dropped.Add(1)
		return Record{}
	}
	c.open(kind, id)
	return Record{ch: c, gen: c.gen}
}

// BeginSession opens a predefined record that only the global filter gates.
func (c *Channel) BeginSession(kind protocol.Kind) Record {
	if !c.flt.AcceptsKind(kind) {
		return Record{}
	}
	c.sec.Enter()
	if c.active {
		c.sec.Exit()
		c.dropped.Add(1)
		return Record{}
	}
	c.open(kind, 0)
	return Record{ch: c, gen: c.gen}
}

// BeginInSection opens a record for a caller that already holds the section.
// End leaves the section held.
func (c *Channel) BeginInSection(kind protocol.Kind, id uint8) Record {
	if !c.flt.Accepts(kind, id) {
		return Record{}
	}
	if c.active {
		c.dropped.Add(1)
		return Record{}
	}
	c.open(kind, id)
	return Record{ch: c, gen: c.gen, held: true}
}

func (c *Channel) open(kind protocol.Kind, id uint8) {
	c.gen++
	c.nest++
	c.active = true
	c.failed = false
	c.chk = 0
	c.wpos = c.head
	c.wused = c.used
	c.put(c.seq + 1)
	c.put(byte(kind))
	c.put(id)
	c.putUint(uint64(c.clock()), int(c.sizes.Time))
}

func (c *Channel) fail() {
	if !c.failed {
		c.failed = true
		c.dropped.Add(1)
	}
}

func (c *Channel) raw(b byte) {
	if c.failed {
		return
	}
	if c.wused >= len(c.buf) {
		c.fail()
		return
	}
	c.buf[c.wpos] = b
	c.wpos++
	if c.wpos == len(c.buf) {
		c.wpos = 0
	}
	c.wused++
}

func (c *Channel) stuff(b byte) {
	if b == protocol.FrameByte || b == protocol.EscapeByte {
		c.raw(protocol.EscapeByte)
		c.raw(b ^ protocol.EscapeXOR)
		return
	}
	c.raw(b)
}

// put adds one logical byte to the checksum and writes it stuffed.
func (c *Channel) put(b byte) {
	c.chk += b
	c.stuff(b)
}

func (c *Channel) putUint(v uint64, n int) {
	for i := 0; i < n; i++ {
		c.put(byte(v >> (8 * i)))
	}
}

func (c *Channel) close(held bool) {
	if !c.failed {
		c.stuff(^c.chk)
		c.raw(protocol.FrameByte)
	}
	if !c.failed {
		c.head = c.wpos
		c.used = c.wused
		c.seq++
		c.records.Add(1)
	}
	c.active = false
	c.nest--
	if !held {
		c.sec.Exit()
	}
}

// GetByte removes the next committed byte.
func (c *Channel) GetByte() (byte, bool) {
	c.sec.Enter()
	defer c.sec.Exit()
	if c.used == 0 {
		return 0, false
	}
	b := c.buf[c.tail]
	c.tail++
	if c.tail == len(c.buf) {
		c.tail = 0
	}
	c.used--
	c.drained.Add(1)
	return b, true
}

// GetBlock copies up to len(p) committed bytes into p and removes them.
func (c *Channel) GetBlock(p []byte) int {
	c.sec.Enter()
	defer c.sec.Exit()
	n := len(p)
	if n > c.used {
		n = c.used
	}
	first := len(c.buf) - c.tail
	if first > n {
		first = n
	}
	copy(p, c.buf[c.tail:c.tail+first])
	copy(p[first:n], c.buf[:n-first])
	c.tail = (c.tail + n) % len(c.buf)
	c.used -= n
	c.drained.Add(uint64(n))
	return n
}

// Stats is a point-in-time view of the channel.
type Stats struct {
	Capacity int
	Used     int
	Head     int
	Tail     int
	Seq      uint8
	Nest     int
	Records  uint64
	Dropped  uint64
	Drained  uint64
}

func (c *Channel) Stats() Stats {
	c.sec.Enter()
	s := Stats{
		Capacity: len(c.buf),
		Used:     c.used,
		Head:     c.head,
		Tail:     c.tail,
		Seq:      c.seq,
		Nest:     c.nest,
	}
	c.sec.Exit()
	s.Records = c.records.Load()
	s.Dropped = c.dropped.Load()
	s.Drained = c.drained.Load()
	return s
}

// Used returns the number of committed bytes waiting for the drain step.
func (c *Channel) Used() int {
	c.sec.Enter()
	defer c.sec.Exit()
	return c.used
}

// Dropped returns the number of failed record attempts.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }
