package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/target"
	"github.com/rs/zerolog/log"
)

// Fake code addresses so the dictionary has something to name.
const (
	heartbeatFun uint64 = 0x0800_1000
	commandFun   uint64 = 0x0800_1100
	eventFun     uint64 = 0x0800_1200
	appObject    uint64 = 0x2000_0000
)

var (
	kindHeartbeat = protocol.UserKind(0, 0)
	kindCommand   = protocol.UserKind(0, 1)
	kindEvent     = protocol.UserKind(0, 2)
)

// demoApp is the application a simulated target runs: a heartbeat producer
// plus handlers for host-driven commands.
type demoApp struct {
	t     *target.Target
	mem   *target.FlatMemory
	beats atomic.Uint32
}

func newDemoApp(mem *target.FlatMemory) *demoApp {
	return &demoApp{mem: mem}
}

func (a *demoApp) hooks() target.Hooks {
	return target.Hooks{
		Memory: a.mem,
		OnReset: func() {
			a.beats.Store(0)
			_ = a.mem.WriteAt(make([]byte, len(a.mem.Data)), a.mem.Base)
			log.Info().Msg("demo reset")
		},
		OnCommand: func(cmd uint8, p1, p2, p3 uint32) {
			a.t.TX().Begin(kindCommand, 0).U8(cmd).U32(p1).U32(p2).U32(p3).End()
		},
		OnTick: func(uint8) { a.beat() },
		OnEvent: func(prio uint8, sig uint32, params []byte) {
			a.t.TX().Begin(kindEvent, prio).Sig(sig, appObject).Mem(params).End()
			a.t.TestPost(sig, appObject)
		},
		OnTestSetup:    func() { log.Info().Msg("demo test setup") },
		OnTestTeardown: func() { log.Info().Msg("demo test teardown") },
	}
}

func (a *demoApp) register() error {
	d := a.t.Dictionary()
	for _, err := range []error{
		d.RegisterFunction(heartbeatFun, "demo_heartbeat"),
		d.RegisterFunction(commandFun, "demo_command"),
		d.RegisterFunction(eventFun, "demo_event"),
		d.RegisterUser(kindHeartbeat, "HEARTBEAT"),
		d.RegisterUser(kindCommand, "COMMAND"),
		d.RegisterUser(kindEvent, "EVENT"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// beat emits one heartbeat record. A probe queued for the heartbeat function
// is reported alongside the counter.
func (a *demoApp) beat() {
	n := a.beats.Add(1)
	probe := a.t.TestProbe(heartbeatFun)
	a.t.TX().Begin(kindHeartbeat, 0).U32(n).Fun(heartbeatFun).U32(probe).End()
}

func (a *demoApp) run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.beat()
		}
	}
}
