package schema

import (
	"fmt"

	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// FilterBitmapLen is the payload length of a full filter replace.
const FilterBitmapLen = 32

// FilterGroupLen is the payload length of a signed group filter value.
const FilterGroupLen = 2

type ValidationError struct {
	Command protocol.CommandID
	Len     int
	Reason  string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("schema: command=%s len=%d: %s", e.Command, e.Len, e.Reason)
}

// rule describes a command payload: a fixed part that must be present and
// an optional check over the whole payload.
type rule struct {
	fixed    func(sz protocol.Sizes) int
	variable bool
	check    func(p []byte, sz protocol.Sizes) string
}

func size(n int) func(protocol.Sizes) int {
	return func(protocol.Sizes) int { return n }
}

func validItemSize(s byte) bool { return s == 1 || s == 2 || s == 4 }

var rules = map[protocol.CommandID]rule{
	protocol.CmdInfo:  {fixed: size(0)},
	protocol.CmdReset: {fixed: size(0)},
	protocol.CmdCommand: {fixed: size(1), variable: true, check: func(p []byte, _ protocol.Sizes) string {
		if params := len(p) - 1; params%4 != 0 || params/4 > 3 {
			return "params must be up to three u32 values"
		}
		return ""
	}},
	protocol.CmdTick: {fixed: size(1)},
	protocol.CmdPeek: {fixed: size(4), check: func(p []byte, _ protocol.Sizes) string {
		if !validItemSize(p[2]) {
			return "item size must be 1, 2 or 4"
		}
		return ""
	}},
	protocol.CmdPoke: {fixed: size(4), variable: true, check: func(p []byte, _ protocol.Sizes) string {
		if !validItemSize(p[2]) {
			return "item size must be 1, 2 or 4"
		}
		if p[3] == 0 || len(p) != 4+int(p[2])*int(p[3]) {
			return "data length must equal size*count"
		}
		return ""
	}},
	protocol.CmdFill: {fixed: size(4), variable: true, check: func(p []byte, _ protocol.Sizes) string {
		if !validItemSize(p[2]) {
			return "item size must be 1, 2 or 4"
		}
		if len(p) != 4+int(p[2]) {
			return "fill item length must equal size"
		}
		return ""
	}},
	protocol.CmdTestSetup:    {fixed: size(0)},
	protocol.CmdTestTeardown: {fixed: size(0)},
	protocol.CmdTestProbe:    {fixed: func(sz protocol.Sizes) int { return int(sz.FunPtr) + 4 }},
	protocol.CmdGlobalFilter: {fixed: size(1), variable: true, check: checkFilter},
	protocol.CmdLocalFilter:  {fixed: size(1), variable: true, check: checkFilter},
	protocol.CmdAOFilter:     {fixed: size(2)},
	protocol.CmdCurrentObject: {fixed: func(sz protocol.Sizes) int { return 1 + int(sz.ObjPtr) }, check: func(p []byte, _ protocol.Sizes) string {
		if protocol.ObjectKind(p[0]) > protocol.ObjSMAO {
			return "unknown object kind"
		}
		return ""
	}},
	protocol.CmdTestContinue: {fixed: size(0)},
	protocol.CmdQueryCurrent: {fixed: size(1), check: func(p []byte, _ protocol.Sizes) string {
		if int(p[0]) >= protocol.ObjectKinds {
			return "unknown object kind"
		}
		return ""
	}},
	protocol.CmdEvent: {fixed: func(sz protocol.Sizes) int { return 1 + int(sz.Signal) }, variable: true},
}

func checkFilter(p []byte, _ protocol.Sizes) string {
	n := int(p[0])
	if n != FilterBitmapLen && n != FilterGroupLen {
		return "filter length must be 2 or 32"
	}
	if len(p) != 1+n {
		return "filter length does not match payload"
	}
	return ""
}

// Validate checks a command payload against the layout of its command id.
func Validate(cmd protocol.CommandID, payload []byte, sz protocol.Sizes) error {
	log.Debug().Msgf("schema.Validate command=%s len=%d", cmd, len(payload))
	r, ok := rules[cmd]
	if !ok {
		log.Warn().Msgf("schema.Validate unknown command=%d", uint8(cmd))
		return ValidationError{Command: cmd, Len: len(payload), Reason: "unknown command"}
	}
	fixed := r.fixed(sz)
	switch {
	case len(payload) < fixed:
		return reject(cmd, payload, "payload too short")
	case !r.variable && len(payload) != fixed:
		return reject(cmd, payload, "payload length mismatch")
	}
	if r.check != nil {
		if reason := r.check(payload, sz); reason != "" {
			return reject(cmd, payload, reason)
		}
	}
	return nil
}

// Known reports whether cmd has a payload layout.
func Known(cmd protocol.CommandID) bool {
	_, ok := rules[cmd]
	return ok
}

func reject(cmd protocol.CommandID, payload []byte, reason string) error {
	log.Warn().Msgf("schema.Validate rejected command=%s len=%d reason=%q", cmd, len(payload), reason)
	return ValidationError{Command: cmd, Len: len(payload), Reason: reason}
}
