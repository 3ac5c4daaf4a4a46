// Package target composes the on-target trace engine: filter, outbound trace
// channel, inbound command channel, dictionary and test probes, plus the
// command dispatcher that ties them together.
package target

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/danmuck/tracectl/internal/command"
	"github.com/danmuck/tracectl/internal/crit"
	"github.com/danmuck/tracectl/internal/dictionary"
	"github.com/danmuck/tracectl/internal/filter"
	"github.com/danmuck/tracectl/internal/probe"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/trace"
	"github.com/rs/zerolog/log"
)

// Hooks are the platform and application collaborators. Nil entries are
// reported to the host as unsupported where a command needs them.
type Hooks struct {
	Section crit.Section
	Clock   func() uint32
	Memory  Memory

	OnReset        func()
	OnCommand      func(cmd uint8, p1, p2, p3 uint32)
	OnTick         func(rate uint8)
	OnEvent        func(prio uint8, sig uint32, params []byte)
	OnTestSetup    func()
	OnTestTeardown func()
	// OnTestLoop runs repeatedly while the target is paused. It is expected
	// to move transport bytes and call Step.
	OnTestLoop func()
}

type Target struct {
	cfg    Config
	hooks  Hooks
	filter *filter.Set
	tx     *trace.Channel
	rx     *command.Channel
	dict   *dictionary.Registry
	probes *probe.Registry

	curr   [protocol.ObjectKinds]atomic.Uint64
	paused atomic.Bool

	peekBuf [255 * 4]byte
}

// New builds a target over caller-supplied TX and RX storage.
func New(cfg Config, txStorage, rxStorage []byte, hooks Hooks) (*Target, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hooks.Section == nil {
		hooks.Section = crit.NewSpin()
	}
	t := &Target{cfg: cfg, hooks: hooks}
	t.filter = filter.New(hooks.Section)

	tx, err := trace.New(txStorage, t.filter, trace.Config{
		Sizes:        cfg.Sizes,
		Section:      hooks.Section,
		Clock:        hooks.Clock,
		MaxStringLen: cfg.MaxStringLen,
	})
	if err != nil {
		return nil, fmt.Errorf("trace channel: %w", err)
	}
	rx, err := command.New(rxStorage, command.Config{
		Sizes:        cfg.Sizes,
		FrameStorage: make([]byte, cfg.FrameLen),
	})
	if err != nil {
		return nil, fmt.Errorf("command channel: %w", err)
	}
	t.tx = tx
	t.rx = rx
	t.dict = dictionary.New(tx, dictionary.Config{
		MaxNameLen: cfg.MaxNameLen,
		Capacity:   cfg.DictionaryCapacity,
	})
	t.probes = probe.New(hooks.Section, t.reportProbe)
	log.Info().Msgf("target.New tx=%d rx=%d frame=%d sizes=%+v", len(txStorage), len(rxStorage), cfg.FrameLen, cfg.Sizes)
	return t, nil
}

func (t *Target) Config() Config                   { return t.cfg }
func (t *Target) Filter() *filter.Set              { return t.filter }
func (t *Target) TX() *trace.Channel               { return t.tx }
func (t *Target) RX() *command.Channel             { return t.rx }
func (t *Target) Dictionary() *dictionary.Registry { return t.dict }
func (t *Target) Probes() *probe.Registry          { return t.probes }

// Step runs the cooperative parse step over buffered command bytes. It
// returns 0 when another context is already stepping.
func (t *Target) Step() int {
	return t.rx.Parse(t)
}

// AnnounceInfo emits TARGET_INFO. reset marks announcements that follow a
// target reset.
func (t *Target) AnnounceInfo(reset bool) {
	var scratch [protocol.TargetInfoLen]byte
	info := protocol.AppendTargetInfo(scratch[:0], protocol.TargetInfo{
		Reset:       reset,
		Version:     t.cfg.Version,
		Sizes:       t.cfg.Sizes,
		EvtSize:     t.cfg.EvtSize,
		QueueCtr:    t.cfg.QueueCtrSize,
		TevtCtr:     t.cfg.TevtCtrSize,
		PoolBlk:     t.cfg.PoolBlkSize,
		PoolCtr:     t.cfg.PoolCtrSize,
		MaxActive:   t.cfg.MaxActive,
		MaxTickRate: t.cfg.MaxTickRate,
		Build:       t.cfg.BuildTime,
	})
	t.tx.BeginSession(protocol.KindTargetInfo).RawBytes(info).End()
}

// Assert reports an assertion failure from instrumented code. Halting is the
// caller's business.
func (t *Target) Assert(module string, location uint16, delay uint32) {
	log.Error().Msgf("target.Assert module=%s location=%d", module, location)
	t.tx.BeginSession(protocol.KindAssertFail).
		RawU16(location).
		RawStr(module).
		RawU32(delay).
		End()
}

// TestProbe consumes the pending probe value for the call site at fun.
func (t *Target) TestProbe(fun uint64) uint32 {
	return t.probes.Consume(fun)
}

func (t *Target) reportProbe(fun uint64, data uint32) {
	t.tx.BeginSession(protocol.KindTestProbeGet).RawFun(fun).RawU32(data).End()
}

// TestPost reports an action performed under test, such as a post to an
// active entity, as a user record the test script can expect.
func (t *Target) TestPost(sig uint32, obj uint64) {
	t.tx.Begin(protocol.KindTestPost, 0).Sig(sig, obj).End()
}

// TestPause emits TEST_PAUSED and keeps servicing the host until it sends
// TEST_CONTINUE or ctx is done. When a transport already drives Step, the
// loop only yields to it. Hooks run under Step, so calling TestPause from one
// waits on ctx.
func (t *Target) TestPause(ctx context.Context) error {
	t.paused.Store(true)
	t.tx.BeginSession(protocol.KindTestPaused).End()
	log.Debug().Msg("target.TestPause paused")
	for t.paused.Load() {
		if err := ctx.Err(); err != nil {
			t.paused.Store(false)
			return err
		}
		if t.hooks.OnTestLoop != nil {
			t.hooks.OnTestLoop()
			continue
		}
		if t.Step() == 0 {
			runtime.Gosched()
		}
	}
	log.Debug().Msg("target.TestPause resumed")
	return nil
}

func (t *Target) Paused() bool { return t.paused.Load() }

// SetCurrent sets the current object of kind. ObjSMAO sets both the state
// machine and active entity slots.
func (t *Target) SetCurrent(kind protocol.ObjectKind, addr uint64) error {
	switch {
	case kind == protocol.ObjSMAO:
		t.curr[protocol.ObjSM].Store(addr)
		t.curr[protocol.ObjAO].Store(addr)
	case int(kind) < protocol.ObjectKinds:
		t.curr[kind].Store(addr)
	default:
		return fmt.Errorf("%w: object kind %d", ErrInvalidConfig, kind)
	}
	return nil
}

func (t *Target) Current(kind protocol.ObjectKind) uint64 {
	if int(kind) >= protocol.ObjectKinds {
		return 0
	}
	return t.curr[kind].Load()
}

// Stats is a point-in-time view of the whole engine.
type Stats struct {
	TX         trace.Stats
	RX         command.Stats
	Dictionary int
	Probes     int
	Paused     bool
}

func (t *Target) Stats() Stats {
	return Stats{
		TX:         t.tx.Stats(),
		RX:         t.rx.Stats(),
		Dictionary: t.dict.Len(),
		Probes:     t.probes.Pending(),
		Paused:     t.paused.Load(),
	}
}
