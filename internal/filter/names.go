package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/tracectl/internal/protocol"
)

var globalNames = map[string]uint8{
	"ALL": protocol.GroupAll,
	"SM":  protocol.GroupSM,
	"AO":  protocol.GroupAO,
	"EQ":  protocol.GroupEQ,
	"MP":  protocol.GroupMP,
	"TE":  protocol.GroupTE,
	"QF":  protocol.GroupQF,
	"SC":  protocol.GroupSC,
	"SEM": protocol.GroupSEM,
	"MTX": protocol.GroupMTX,
	"U0":  protocol.GroupU0,
	"U1":  protocol.GroupU1,
	"U2":  protocol.GroupU2,
	"U3":  protocol.GroupU3,
	"U4":  protocol.GroupU4,
	"UA":  protocol.GroupUA,
}

var localNames = map[string]uint8{
	"ALL": protocol.LocalGroupAll,
	"AO":  protocol.LocalGroupAO,
	"EP":  protocol.LocalGroupEP,
	"EQ":  protocol.LocalGroupEQ,
	"AP":  protocol.LocalGroupAP,
}

// ParseGlobal turns "SM", "-TE", "U0" or a kind number into a SetGlobal value.
func ParseGlobal(raw string) (int16, error) {
	return parse(raw, globalNames, protocol.GroupAll)
}

// ParseLocal turns "AO", "-EP", "ALL" or an id number into a SetLocal value.
func ParseLocal(raw string) (int16, error) {
	return parse(raw, localNames, protocol.LocalGroupAO)
}

func parse(raw string, names map[string]uint8, firstGroup uint8) (int16, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var v int16
	if g, ok := names[s]; ok {
		v = int16(g)
	} else {
		n, err := strconv.ParseUint(s, 0, 8)
		if err != nil || uint8(n) >= firstGroup {
			return 0, fmt.Errorf("%w: %q", ErrUnknownGroup, raw)
		}
		v = int16(n)
	}
	if neg {
		if v == 0 {
			return 0, fmt.Errorf("%w: %q", ErrClearZero, raw)
		}
		v = -v
	}
	return v, nil
}
