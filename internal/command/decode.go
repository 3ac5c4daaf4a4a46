package command

import (
	"github.com/danmuck/tracectl/internal/filter"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/protocol/schema"
)

// Decode validates payload against the layout of id and returns the typed
// command.
func Decode(id protocol.CommandID, payload []byte, sz protocol.Sizes) (Command, error) {
	if err := schema.Validate(id, payload, sz); err != nil {
		return nil, err
	}
	r := protocol.NewReader(payload, sz)
	switch id {
	case protocol.CmdInfo:
		return Info{}, nil
	case protocol.CmdReset:
		return Reset{}, nil
	case protocol.CmdCommand:
		u := User{Cmd: r.U8()}
		for i := 0; r.Len() > 0 && i < len(u.Params); i++ {
			u.Params[i] = r.U32()
		}
		return u, r.Err()
	case protocol.CmdTick:
		return Tick{Rate: r.U8()}, nil
	case protocol.CmdPeek:
		return Peek{Offset: r.U16(), Size: r.U8(), Count: r.U8()}, r.Err()
	case protocol.CmdPoke:
		p := Poke{Offset: r.U16(), Size: r.U8(), Count: r.U8()}
		p.Data = r.Rest()
		return p, r.Err()
	case protocol.CmdFill:
		f := Fill{Offset: r.U16(), Size: r.U8(), Count: r.U8()}
		f.Item = uint32(r.Uint(int(f.Size)))
		return f, r.Err()
	case protocol.CmdTestSetup:
		return TestSetup{}, nil
	case protocol.CmdTestTeardown:
		return TestTeardown{}, nil
	case protocol.CmdTestProbe:
		return TestProbe{Fun: r.Fun(), Data: r.U32()}, r.Err()
	case protocol.CmdGlobalFilter:
		replace, mask, v := decodeFilter(r)
		return GlobalFilter{Replace: replace, Mask: mask, Value: v}, r.Err()
	case protocol.CmdLocalFilter:
		replace, mask, v := decodeFilter(r)
		return LocalFilter{Replace: replace, Mask: mask, Value: v}, r.Err()
	case protocol.CmdAOFilter:
		return AOFilter{Value: int16(r.U16())}, r.Err()
	case protocol.CmdCurrentObject:
		return CurrentObject{Kind: protocol.ObjectKind(r.U8()), Addr: r.Obj()}, r.Err()
	case protocol.CmdTestContinue:
		return TestContinue{}, nil
	case protocol.CmdQueryCurrent:
		return QueryCurrent{Kind: protocol.ObjectKind(r.U8())}, nil
	case protocol.CmdEvent:
		e := Event{Prio: r.U8(), Sig: r.Signal()}
		e.Params = r.Rest()
		return e, r.Err()
	}
	return nil, schema.ValidationError{Command: id, Len: len(payload), Reason: "unknown command"}
}

func decodeFilter(r *protocol.Reader) (bool, filter.Mask, int16) {
	var mask filter.Mask
	n := int(r.U8())
	if n == schema.FilterBitmapLen {
		copy(mask[:], r.Bytes(n))
		return true, mask, 0
	}
	return false, mask, int16(r.U16())
}
