package command

import (
	"github.com/danmuck/tracectl/internal/filter"
	"github.com/danmuck/tracectl/internal/protocol"
)

// Command is one decoded host command. The concrete type selects the action;
// byte slices inside a Command alias the frame buffer and are only valid for
// the duration of Handle.
type Command interface {
	ID() protocol.CommandID
}

type Info struct{}

type Reset struct{}

// User is an application command with up to three parameters.
type User struct {
	Cmd    uint8
	Params [3]uint32
}

type Tick struct {
	Rate uint8
}

type Peek struct {
	Offset uint16
	Size   uint8
	Count  uint8
}

type Poke struct {
	Offset uint16
	Size   uint8
	Count  uint8
	Data   []byte
}

type Fill struct {
	Offset uint16
	Size   uint8
	Count  uint8
	Item   uint32
}

type TestSetup struct{}

type TestTeardown struct{}

// TestProbe queues Data for the call site whose function address is Fun.
type TestProbe struct {
	Fun  uint64
	Data uint32
}

// GlobalFilter is either a full replace (Replace set, Mask valid) or a
// signed group value.
type GlobalFilter struct {
	Replace bool
	Mask    filter.Mask
	Value   int16
}

type LocalFilter struct {
	Replace bool
	Mask    filter.Mask
	Value   int16
}

type AOFilter struct {
	Value int16
}

type CurrentObject struct {
	Kind protocol.ObjectKind
	Addr uint64
}

type TestContinue struct{}

type QueryCurrent struct {
	Kind protocol.ObjectKind
}

type Event struct {
	Prio   uint8
	Sig    uint32
	Params []byte
}

func (Info) ID() protocol.CommandID          { return protocol.CmdInfo }
func (Reset) ID() protocol.CommandID         { return protocol.CmdReset }
func (User) ID() protocol.CommandID          { return protocol.CmdCommand }
func (Tick) ID() protocol.CommandID          { return protocol.CmdTick }
func (Peek) ID() protocol.CommandID          { return protocol.CmdPeek }
func (Poke) ID() protocol.CommandID          { return protocol.CmdPoke }
func (Fill) ID() protocol.CommandID          { return protocol.CmdFill }
func (TestSetup) ID() protocol.CommandID     { return protocol.CmdTestSetup }
func (TestTeardown) ID() protocol.CommandID  { return protocol.CmdTestTeardown }
func (TestProbe) ID() protocol.CommandID     { return protocol.CmdTestProbe }
func (GlobalFilter) ID() protocol.CommandID  { return protocol.CmdGlobalFilter }
func (LocalFilter) ID() protocol.CommandID   { return protocol.CmdLocalFilter }
func (AOFilter) ID() protocol.CommandID      { return protocol.CmdAOFilter }
func (CurrentObject) ID() protocol.CommandID { return protocol.CmdCurrentObject }
func (TestContinue) ID() protocol.CommandID  { return protocol.CmdTestContinue }
func (QueryCurrent) ID() protocol.CommandID  { return protocol.CmdQueryCurrent }
func (Event) ID() protocol.CommandID         { return protocol.CmdEvent }
