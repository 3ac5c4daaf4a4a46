package command

import (
	"fmt"

	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/protocol/schema"
)

// AppendPayload appends the wire payload of cmd. It is the host-side inverse
// of Decode.
func AppendPayload(dst []byte, cmd Command, sz protocol.Sizes) ([]byte, error) {
	put := protocol.AppendUint
	switch c := cmd.(type) {
	case Info, Reset, TestSetup, TestTeardown, TestContinue:
	case User:
		dst = append(dst, c.Cmd)
		for _, p := range c.Params {
			dst = put(dst, uint64(p), 4)
		}
	case Tick:
		dst = append(dst, c.Rate)
	case Peek:
		dst = put(dst, uint64(c.Offset), 2)
		dst = append(dst, c.Size, c.Count)
	case Poke:
		dst = put(dst, uint64(c.Offset), 2)
		dst = append(dst, c.Size, c.Count)
		dst = append(dst, c.Data...)
	case Fill:
		dst = put(dst, uint64(c.Offset), 2)
		dst = append(dst, c.Size, c.Count)
		dst = put(dst, uint64(c.Item), int(c.Size))
	case TestProbe:
		dst = put(dst, c.Fun, int(sz.FunPtr))
		dst = put(dst, uint64(c.Data), 4)
	case GlobalFilter:
		dst = appendFilter(dst, c.Replace, c.Mask[:], c.Value)
	case LocalFilter:
		dst = appendFilter(dst, c.Replace, c.Mask[:], c.Value)
	case AOFilter:
		dst = put(dst, uint64(uint16(c.Value)), 2)
	case CurrentObject:
		dst = append(dst, byte(c.Kind))
		dst = put(dst, c.Addr, int(sz.ObjPtr))
	case QueryCurrent:
		dst = append(dst, byte(c.Kind))
	case Event:
		dst = append(dst, c.Prio)
		dst = put(dst, uint64(c.Sig), int(sz.Signal))
		dst = append(dst, c.Params...)
	default:
		return dst, fmt.Errorf("command: cannot encode %T", cmd)
	}
	return dst, nil
}

func appendFilter(dst []byte, replace bool, mask []byte, v int16) []byte {
	if replace {
		dst = append(dst, schema.FilterBitmapLen)
		return append(dst, mask...)
	}
	dst = append(dst, schema.FilterGroupLen)
	return protocol.AppendUint(dst, uint64(uint16(v)), 2)
}
