// Package filter decides which trace records reach the channel.
//
// A record passes when the global bit of its kind and the local bit of its
// originator are both set. Readers load an immutable snapshot, so Accepts never
// observes a half-applied update and never takes the exclusive section.
package filter

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/tracectl/internal/crit"
	"github.com/danmuck/tracectl/internal/protocol"
)

const (
	Bits  = 256
	Bytes = Bits / 8
)

var (
	ErrUnknownGroup = errors.New("filter: unknown group")
	// ErrClearZero rejects "-0", which the signed encoding reads as a set.
	ErrClearZero = errors.New("filter: -0 cannot clear id 0, use a group or a full replace")
)

// Mask is one 256-bit filter axis.
type Mask [Bytes]byte

func (m *Mask) Set(i uint8)      { m[i>>3] |= 1 << (i & 7) }
func (m *Mask) Clear(i uint8)    { m[i>>3] &^= 1 << (i & 7) }
func (m *Mask) Has(i uint8) bool { return m[i>>3]&(1<<(i&7)) != 0 }

func (m *Mask) apply(lo, hi int, on bool) {
	for i := lo; i <= hi; i++ {
		if on {
			m.Set(uint8(i))
		} else {
			m.Clear(uint8(i))
		}
	}
}

// Count returns the number of set bits.
func (m Mask) Count() int {
	n := 0
	for i := 0; i < Bits; i++ {
		if m.Has(uint8(i)) {
			n++
		}
	}
	return n
}

// MaskOf returns a mask with exactly the given bits set.
func MaskOf(ids ...uint8) Mask {
	var m Mask
	for _, id := range ids {
		m.Set(id)
	}
	return m
}

type span struct{ lo, hi int }

var globalGroups = map[uint8][]span{
	protocol.GroupAll: {{0, Bits - 1}},
	protocol.GroupSM:  {{int(protocol.KindStateEntry), int(protocol.KindUnhandled)}},
	protocol.GroupAO: {
		{int(protocol.KindAODefer), int(protocol.KindAORecallAttempt)},
		{int(protocol.KindAODeferAttempt), int(protocol.KindAODeferAttempt)},
	},
	protocol.GroupEQ:  {{int(protocol.KindEQPost), int(protocol.KindEQGetLast)}},
	protocol.GroupMP:  {{int(protocol.KindMPGet), int(protocol.KindMPPut)}},
	protocol.GroupTE:  {{int(protocol.KindTEArm), int(protocol.KindTEPost)}},
	protocol.GroupQF:  {{int(protocol.KindNewAttempt), int(protocol.KindDeleteRef)}},
	protocol.GroupSC:  {{int(protocol.KindSchedPreempt), int(protocol.KindSchedIdle)}},
	protocol.GroupSEM: {{int(protocol.KindSemTake), int(protocol.KindSemBlockAttempt)}},
	protocol.GroupMTX: {{int(protocol.KindMtxLock), int(protocol.KindMtxUnlockAttempt)}},
	protocol.GroupUA:  {{int(protocol.KindUser), int(protocol.LastUserKind)}},
}

func init() {
	for g := uint8(0); g < protocol.UserGroups; g++ {
		lo := int(protocol.UserKind(g, 0))
		globalGroups[protocol.GroupU0+g] = []span{{lo, lo + protocol.UserGroupSize - 1}}
	}
}

var localGroups = map[uint8]span{
	protocol.LocalGroupAll: {0, Bits - 1},
	protocol.LocalGroupAO:  {int(protocol.BandAOStart), int(protocol.BandEPStart) - 1},
	protocol.LocalGroupEP:  {int(protocol.BandEPStart), int(protocol.BandEQStart) - 1},
	protocol.LocalGroupEQ:  {int(protocol.BandEQStart), int(protocol.BandAPStart) - 1},
	protocol.LocalGroupAP:  {int(protocol.BandAPStart), int(protocol.BandAPEnd) - 1},
}

type snapshot struct {
	glb Mask
	loc Mask
}

// Set holds the global and local filter axes.
type Set struct {
	cur atomic.Pointer[snapshot]
	sec crit.Section
}

// New returns a filter with every maskable kind off and every originator on.
func New(sec crit.Section) *Set {
	if sec == nil {
		sec = crit.NewSpin()
	}
	s := &Set{sec: sec}
	var snap snapshot
	snap.loc.apply(0, Bits-1, true)
	pinSession(&snap.glb)
	pinMisc(&snap.glb)
	s.cur.Store(&snap)
	return s
}

func pinSession(m *Mask) {
	m.apply(int(protocol.FirstSessionKind), int(protocol.LastSessionKind), true)
}

func pinMisc(m *Mask) {
	m.apply(int(protocol.FirstMiscKind), int(protocol.LastMiscKind), true)
}

// Accepts reports whether a record of kind from originator id passes.
func (s *Set) Accepts(kind protocol.Kind, id uint8) bool {
	snap := s.cur.Load()
	return snap.glb.Has(uint8(kind)) && snap.loc.Has(id)
}

// AcceptsKind checks the global axis only. Predefined session records use it.
func (s *Set) AcceptsKind(kind protocol.Kind) bool {
	return s.cur.Load().glb.Has(uint8(kind))
}

func (s *Set) update(fn func(next *snapshot) error) error {
	s.sec.Enter()
	defer s.sec.Exit()
	next := *s.cur.Load()
	if err := fn(&next); err != nil {
		return err
	}
	s.cur.Store(&next)
	return nil
}

func splitValue(v int16) (uint8, bool, error) {
	on := v >= 0
	abs := int(v)
	if !on {
		abs = -abs
	}
	if abs > 0xFF {
		return 0, false, fmt.Errorf("%w: %d", ErrUnknownGroup, v)
	}
	return uint8(abs), on, nil
}

// SetGlobal applies one global filter value. Values below GroupAll name a
// single kind; higher values name a group. A negative value clears, so kind 0
// can only be cleared by a group or ReplaceGlobal. Group operations keep the
// session band on; the misc band can never be cleared.
func (s *Set) SetGlobal(v int16) error {
	g, on, err := splitValue(v)
	if err != nil {
		return err
	}
	return s.update(func(next *snapshot) error {
		if g < protocol.GroupAll {
			next.glb.apply(int(g), int(g), on)
			pinMisc(&next.glb)
			return nil
		}
		spans, ok := globalGroups[g]
		if !ok {
			return fmt.Errorf("%w: global 0x%02X", ErrUnknownGroup, g)
		}
		for _, sp := range spans {
			next.glb.apply(sp.lo, sp.hi, on)
		}
		pinSession(&next.glb)
		pinMisc(&next.glb)
		return nil
	})
}

// SetLocal applies one local filter value. Values below LocalGroupAO name a
// single originator id; the band codes name a band. A negative value clears.
// Id 0, which dictionary records carry, is cleared with -LocalGroupAO or
// ReplaceLocal.
func (s *Set) SetLocal(v int16) error {
	g, on, err := splitValue(v)
	if err != nil {
		return err
	}
	return s.update(func(next *snapshot) error {
		if g < protocol.LocalGroupAO {
			next.loc.apply(int(g), int(g), on)
			return nil
		}
		sp, ok := localGroups[g]
		if !ok {
			return fmt.Errorf("%w: local 0x%02X", ErrUnknownGroup, g)
		}
		next.loc.apply(sp.lo, sp.hi, on)
		return nil
	})
}

// ReplaceGlobal installs m as the global axis. The session and misc bands
// stay on.
func (s *Set) ReplaceGlobal(m Mask) {
	_ = s.update(func(next *snapshot) error {
		next.glb = m
		pinSession(&next.glb)
		pinMisc(&next.glb)
		return nil
	})
}

// ReplaceLocal installs m as the local axis.
func (s *Set) ReplaceLocal(m Mask) {
	_ = s.update(func(next *snapshot) error {
		next.loc = m
		return nil
	})
}

func (s *Set) Global() Mask { return s.cur.Load().glb }
func (s *Set) Local() Mask  { return s.cur.Load().loc }
