package protocol

import "fmt"

// Reserved wire bytes.
const (
	FrameByte    byte = 0x7E
	EscapeByte   byte = 0x7D
	EscapeXOR    byte = 0x20
	GoodChecksum byte = 0xFF
)

// Kind is a trace record kind id.
type Kind uint8

// Session band. Pinned on by every group or whole-set filter operation.
const (
	KindEmpty        Kind = 0
	FirstSessionKind Kind = 0
	LastSessionKind  Kind = 9
)

// State machine records.
const (
	KindStateEntry Kind = iota + 10
	KindStateExit
	KindStateInit
	KindInitTran
	KindInternTran
	KindTran
	KindIgnored
	KindDispatch
	KindUnhandled
)

// Active entity, queue, pool, time event, framework and scheduler records.
const (
	KindAODefer Kind = iota + 19
	KindAORecall
	KindAOSubscribe
	KindAOUnsubscribe
	KindAOPost
	KindAOPostLIFO
	KindAOGet
	KindAOGetLast
	KindAORecallAttempt

	KindEQPost
	KindEQPostLIFO
	KindEQGet
	KindEQGetLast

	KindMPGet
	KindMPPut

	KindTEArm
	KindTEAutoDisarm
	KindTEDisarmAttempt
	KindTEDisarm
	KindTERearm
	KindTEPost

	KindNewAttempt
	KindPublish
	KindNewRef
	KindNew
	KindGCAttempt
	KindGC
	KindTick
	KindDeleteRef

	KindSchedPreempt
	KindSchedRestore
	KindSchedLock
	KindSchedUnlock
	KindSchedNext
	KindSchedIdle
)

// Misc, dictionary and diagnostic records. Never masked.
const (
	KindEnumDict     Kind = 54
	KindTestPaused   Kind = 58
	KindTestProbeGet Kind = 59
	KindSigDict      Kind = 60
	KindObjDict      Kind = 61
	KindFunDict      Kind = 62
	KindUsrDict      Kind = 63
	KindTargetInfo   Kind = 64
	KindTargetDone   Kind = 65
	KindRxStatus     Kind = 66
	KindQueryData    Kind = 67
	KindPeekData     Kind = 68
	KindAssertFail   Kind = 69
	KindRun          Kind = 70

	FirstMiscKind = KindEnumDict
	LastMiscKind  = KindRun
)

// Semaphore and mutex records.
const (
	KindSemTake Kind = iota + 71
	KindSemBlock
	KindSemSignal
	KindSemBlockAttempt

	KindMtxLock
	KindMtxBlock
	KindMtxUnlock
	KindMtxLockAttempt
	KindMtxBlockAttempt
	KindMtxUnlockAttempt

	KindAODeferAttempt
)

// User record groups: five groups of five ids.
const (
	KindUser      Kind = 100
	UserGroupSize      = 5
	UserGroups         = 5
	LastUserKind  Kind = KindUser + UserGroupSize*UserGroups - 1

	// KindTestPost carries reports from instrumented code back to a test script.
	KindTestPost Kind = LastUserKind
)

var kindNames = map[Kind]string{
	KindEmpty:            "EMPTY",
	KindStateEntry:       "SM_STATE_ENTRY",
	KindStateExit:        "SM_STATE_EXIT",
	KindStateInit:        "SM_STATE_INIT",
	KindInitTran:         "SM_INIT_TRAN",
	KindInternTran:       "SM_INTERN_TRAN",
	KindTran:             "SM_TRAN",
	KindIgnored:          "SM_IGNORED",
	KindDispatch:         "SM_DISPATCH",
	KindUnhandled:        "SM_UNHANDLED",
	KindAODefer:          "AO_DEFER",
	KindAORecall:         "AO_RECALL",
	KindAOSubscribe:      "AO_SUBSCRIBE",
	KindAOUnsubscribe:    "AO_UNSUBSCRIBE",
	KindAOPost:           "AO_POST",
	KindAOPostLIFO:       "AO_POST_LIFO",
	KindAOGet:            "AO_GET",
	KindAOGetLast:        "AO_GET_LAST",
	KindAORecallAttempt:  "AO_RECALL_ATTEMPT",
	KindEQPost:           "EQ_POST",
	KindEQPostLIFO:       "EQ_POST_LIFO",
	KindEQGet:            "EQ_GET",
	KindEQGetLast:        "EQ_GET_LAST",
	KindMPGet:            "MP_GET",
	KindMPPut:            "MP_PUT",
	KindTEArm:            "TE_ARM",
	KindTEAutoDisarm:     "TE_AUTO_DISARM",
	KindTEDisarmAttempt:  "TE_DISARM_ATTEMPT",
	KindTEDisarm:         "TE_DISARM",
	KindTERearm:          "TE_REARM",
	KindTEPost:           "TE_POST",
	KindNewAttempt:       "QF_NEW_ATTEMPT",
	KindPublish:          "QF_PUBLISH",
	KindNewRef:           "QF_NEW_REF",
	KindNew:              "QF_NEW",
	KindGCAttempt:        "QF_GC_ATTEMPT",
	KindGC:               "QF_GC",
	KindTick:             "QF_TICK",
	KindDeleteRef:        "QF_DELETE_REF",
	KindSchedPreempt:     "SCHED_PREEMPT",
	KindSchedRestore:     "SCHED_RESTORE",
	KindSchedLock:        "SCHED_LOCK",
	KindSchedUnlock:      "SCHED_UNLOCK",
	KindSchedNext:        "SCHED_NEXT",
	KindSchedIdle:        "SCHED_IDLE",
	KindEnumDict:         "ENUM_DICT",
	KindTestPaused:       "TEST_PAUSED",
	KindTestProbeGet:     "TEST_PROBE_GET",
	KindSigDict:          "SIG_DICT",
	KindObjDict:          "OBJ_DICT",
	KindFunDict:          "FUN_DICT",
	KindUsrDict:          "USR_DICT",
	KindTargetInfo:       "TARGET_INFO",
	KindTargetDone:       "TARGET_DONE",
	KindRxStatus:         "RX_STATUS",
	KindQueryData:        "QUERY_DATA",
	KindPeekData:         "PEEK_DATA",
	KindAssertFail:       "ASSERT_FAIL",
	KindRun:              "QF_RUN",
	KindSemTake:          "SEM_TAKE",
	KindSemBlock:         "SEM_BLOCK",
	KindSemSignal:        "SEM_SIGNAL",
	KindSemBlockAttempt:  "SEM_BLOCK_ATTEMPT",
	KindMtxLock:          "MTX_LOCK",
	KindMtxBlock:         "MTX_BLOCK",
	KindMtxUnlock:        "MTX_UNLOCK",
	KindMtxLockAttempt:   "MTX_LOCK_ATTEMPT",
	KindMtxBlockAttempt:  "MTX_BLOCK_ATTEMPT",
	KindMtxUnlockAttempt: "MTX_UNLOCK_ATTEMPT",
	KindAODeferAttempt:   "AO_DEFER_ATTEMPT",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	if k.IsUser() {
		return fmt.Sprintf("USER_%03d", uint8(k))
	}
	return fmt.Sprintf("KIND_%03d", uint8(k))
}

// IsSession reports whether k belongs to the pinned session band.
func (k Kind) IsSession() bool { return k <= LastSessionKind }

// IsMisc reports whether k belongs to the never-masked misc band.
func (k Kind) IsMisc() bool { return k >= FirstMiscKind && k <= LastMiscKind }

// IsUser reports whether k is one of the user record ids.
func (k Kind) IsUser() bool { return k >= KindUser && k <= LastUserKind }

// UserKind returns id n (0..4) of user group g (0..4).
func UserKind(g, n uint8) Kind {
	return KindUser + Kind(g%UserGroups)*UserGroupSize + Kind(n%UserGroupSize)
}

// Originator id bands of the local filter.
const (
	BandAOStart uint8 = 0
	BandEPStart uint8 = 64
	BandEQStart uint8 = 80
	BandAPStart uint8 = 96
	BandAPEnd   uint8 = 112
)

// Global filter group codes. A negative command value clears the group.
const (
	GroupAll uint8 = 0xF0 + iota
	GroupSM
	GroupAO
	GroupEQ
	GroupMP
	GroupTE
	GroupQF
	GroupSC
	GroupSEM
	GroupMTX
	GroupU0
	GroupU1
	GroupU2
	GroupU3
	GroupU4
	GroupUA
)

// Local filter group codes. Values below LocalGroupAO name a single id.
const (
	LocalGroupAO  uint8 = 0x80
	LocalGroupEP  uint8 = 0xC0
	LocalGroupEQ  uint8 = 0xD0
	LocalGroupAP  uint8 = 0xE0
	LocalGroupAll uint8 = 0xF0
)

// ObjectKind selects a slot of the current-object table.
type ObjectKind uint8

const (
	ObjSM ObjectKind = iota
	ObjAO
	ObjMP
	ObjEQ
	ObjTE
	ObjAP
	ObjSMAO

	ObjectKinds = int(ObjAP) + 1
)

func (k ObjectKind) String() string {
	switch k {
	case ObjSM:
		return "SM"
	case ObjAO:
		return "AO"
	case ObjMP:
		return "MP"
	case ObjEQ:
		return "EQ"
	case ObjTE:
		return "TE"
	case ObjAP:
		return "AP"
	case ObjSMAO:
		return "SM_AO"
	default:
		return fmt.Sprintf("OBJ_%d", uint8(k))
	}
}

// CommandID identifies a host-to-target command.
type CommandID uint8

const (
	CmdInfo CommandID = iota
	CmdCommand
	CmdReset
	CmdTick
	CmdPeek
	CmdPoke
	CmdFill
	CmdTestSetup
	CmdTestTeardown
	CmdTestProbe
	CmdGlobalFilter
	CmdLocalFilter
	CmdAOFilter
	CmdCurrentObject
	CmdTestContinue
	CmdQueryCurrent
	CmdEvent

	commandCount
)

var commandNames = [...]string{
	"INFO", "COMMAND", "RESET", "TICK", "PEEK", "POKE", "FILL",
	"TEST_SETUP", "TEST_TEARDOWN", "TEST_PROBE", "GLB_FILTER", "LOC_FILTER",
	"AO_FILTER", "CURR_OBJ", "TEST_CONTINUE", "QUERY_CURR", "EVENT",
}

func (c CommandID) String() string {
	if c.Valid() {
		return commandNames[c]
	}
	return fmt.Sprintf("CMD_%d", uint8(c))
}

// Valid reports whether c is a known command id.
func (c CommandID) Valid() bool { return c < commandCount }

// ErrorCode is the low part of an RX error status.
type ErrorCode uint8

const (
	ErrCodeChecksum    ErrorCode = 0x41
	ErrCodeOverrun     ErrorCode = 0x42
	ErrCodeUnknown     ErrorCode = 0x43
	ErrCodeBadPayload  ErrorCode = 0x44
	ErrCodeUnsupported ErrorCode = 0x45
	ErrCodeProbeFull   ErrorCode = 0x46
)

func (e ErrorCode) String() string {
	switch e {
	case ErrCodeChecksum:
		return "checksum"
	case ErrCodeOverrun:
		return "overrun"
	case ErrCodeUnknown:
		return "unknown_command"
	case ErrCodeBadPayload:
		return "bad_payload"
	case ErrCodeUnsupported:
		return "unsupported"
	case ErrCodeProbeFull:
		return "probe_full"
	default:
		return fmt.Sprintf("error_0x%02x", uint8(e))
	}
}

// Status is the one-byte payload of an RX_STATUS record.
type Status uint8

const statusErrorBit Status = 0x80

// Ack returns the acknowledgment status for cmd.
func Ack(cmd CommandID) Status { return Status(cmd) &^ statusErrorBit }

// Fail returns the error status for code.
func Fail(code ErrorCode) Status { return statusErrorBit | Status(code) }

// IsError reports whether s carries an error code.
func (s Status) IsError() bool { return s&statusErrorBit != 0 }

// Code returns the error code of an error status.
func (s Status) Code() ErrorCode { return ErrorCode(s &^ statusErrorBit) }

// Command returns the acknowledged command of an ack status.
func (s Status) Command() CommandID { return CommandID(s) }

func (s Status) String() string {
	if s.IsError() {
		return "error:" + s.Code().String()
	}
	return "ack:" + s.Command().String()
}
