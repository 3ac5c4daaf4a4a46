package target

import (
	"errors"

	"github.com/danmuck/tracectl/internal/command"
	"github.com/danmuck/tracectl/internal/filter"
	"github.com/danmuck/tracectl/internal/probe"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	errUnsupported = errors.New("target: command not supported by this target")
	errBadArgument = errors.New("target: bad command argument")
)

func codeOf(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, probe.ErrFull):
		return protocol.ErrCodeProbeFull
	case errors.Is(err, filter.ErrUnknownGroup), errors.Is(err, errBadArgument), errors.Is(err, ErrOutOfRange):
		return protocol.ErrCodeBadPayload
	default:
		return protocol.ErrCodeUnsupported
	}
}

// Handle executes one decoded command and reports its status. Commands that
// hand work to the application also emit TARGET_DONE.
func (t *Target) Handle(cmd command.Command) {
	done, err := t.execute(cmd)
	status := protocol.Ack(cmd.ID())
	if err != nil {
		status = protocol.Fail(codeOf(err))
		log.Warn().Msgf("target.Handle command=%s err=%v", cmd.ID(), err)
	} else {
		log.Debug().Msgf("target.Handle command=%s ok", cmd.ID())
	}
	t.emitStatus(status)
	if err == nil && done {
		t.tx.BeginSession(protocol.KindTargetDone).RawU8(uint8(cmd.ID())).End()
	}
}

// Reject reports a frame that could not be dispatched.
func (t *Target) Reject(id protocol.CommandID, code protocol.ErrorCode) {
	log.Warn().Msgf("target.Reject command=%s code=%s", id, code)
	t.emitStatus(protocol.Fail(code))
}

func (t *Target) emitStatus(s protocol.Status) {
	t.tx.BeginSession(protocol.KindRxStatus).RawU8(uint8(s)).End()
}

func (t *Target) execute(cmd command.Command) (done bool, err error) {
	h := t.hooks
	switch c := cmd.(type) {
	case command.Info:
		t.AnnounceInfo(false)
		t.dict.DumpAll()
	case command.Reset:
		if h.OnReset == nil {
			return false, errUnsupported
		}
		h.OnReset()
		t.AnnounceInfo(true)
		t.dict.DumpAll()
		return true, nil
	case command.User:
		if h.OnCommand == nil {
			return false, errUnsupported
		}
		h.OnCommand(c.Cmd, c.Params[0], c.Params[1], c.Params[2])
		return true, nil
	case command.Tick:
		if h.OnTick == nil {
			return false, errUnsupported
		}
		h.OnTick(c.Rate)
		return true, nil
	case command.Peek:
		return false, t.peek(c)
	case command.Poke:
		return true, t.poke(c)
	case command.Fill:
		return true, t.fill(c)
	case command.TestSetup:
		if h.OnTestSetup != nil {
			h.OnTestSetup()
		}
		return true, nil
	case command.TestTeardown:
		t.probes.Clear()
		if h.OnTestTeardown != nil {
			h.OnTestTeardown()
		}
		return true, nil
	case command.TestProbe:
		return false, t.probes.Inject(c.Fun, c.Data)
	case command.GlobalFilter:
		if c.Replace {
			t.filter.ReplaceGlobal(c.Mask)
			return false, nil
		}
		return false, t.filter.SetGlobal(c.Value)
	case command.LocalFilter:
		if c.Replace {
			t.filter.ReplaceLocal(c.Mask)
			return false, nil
		}
		return false, t.filter.SetLocal(c.Value)
	case command.AOFilter:
		if c.Value >= int16(protocol.LocalGroupAO) || c.Value <= -int16(protocol.LocalGroupAO) {
			return false, errBadArgument
		}
		return false, t.filter.SetLocal(c.Value)
	case command.CurrentObject:
		if err := t.SetCurrent(c.Kind, c.Addr); err != nil {
			return false, errBadArgument
		}
	case command.TestContinue:
		t.paused.Store(false)
	case command.QueryCurrent:
		t.tx.BeginSession(protocol.KindQueryData).
			RawU8(uint8(c.Kind)).
			RawObj(t.Current(c.Kind)).
			End()
	case command.Event:
		if h.OnEvent == nil {
			return false, errUnsupported
		}
		h.OnEvent(c.Prio, c.Sig, c.Params)
	default:
		return false, errUnsupported
	}
	return false, nil
}

// Peek, poke and fill address memory relative to the current application
// object.

func (t *Target) peek(c command.Peek) error {
	if t.hooks.Memory == nil {
		return errUnsupported
	}
	n := int(c.Size) * int(c.Count)
	buf := t.peekBuf[:n]
	if err := t.hooks.Memory.ReadAt(buf, t.Current(protocol.ObjAP)+uint64(c.Offset)); err != nil {
		return err
	}
	t.tx.BeginSession(protocol.KindPeekData).
		RawU16(c.Offset).
		RawU8(c.Size).
		RawU8(c.Count).
		RawBytes(buf).
		End()
	return nil
}

func (t *Target) poke(c command.Poke) error {
	if t.hooks.Memory == nil {
		return errUnsupported
	}
	return t.hooks.Memory.WriteAt(c.Data, t.Current(protocol.ObjAP)+uint64(c.Offset))
}

func (t *Target) fill(c command.Fill) error {
	if t.hooks.Memory == nil {
		return errUnsupported
	}
	var item [4]byte
	for i := 0; i < int(c.Size); i++ {
		item[i] = byte(c.Item >> (8 * i))
	}
	base := t.Current(protocol.ObjAP) + uint64(c.Offset)
	for i := 0; i < int(c.Count); i++ {
		if err := t.hooks.Memory.WriteAt(item[:c.Size], base+uint64(i)*uint64(c.Size)); err != nil {
			return err
		}
	}
	return nil
}
