// Package message is the diagnostics sink of the runtime: numeric report
// codes, their text, and a bounded collector that nodes push to and the
// embedding application drains.
package message

import (
	"context"
	"fmt"

	"github.com/c360/avflow/errors"
)

// Code is a report code. Negative codes are errors. Positive codes are info or
// warning reports, distinguished by the fourth tag byte.
type Code int32

const (
	infoSuffix    = 0xF1
	warningSuffix = 0xF2
)

// Tag builds a code from four tag bytes the way FFmpeg's FFERRTAG does.
func Tag(a, b, c, d byte) Code {
	t := uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
	return Code(-int32(t))
}

// InfoTag builds a positive info code.
func InfoTag(a, b, c byte) Code { return Tag(a, b, c, infoSuffix) }

// WarningTag builds a positive warning code.
func WarningTag(a, b, c byte) Code { return Tag(a, b, c, warningSuffix) }

// Success is the zero code.
const Success Code = 0

// Sentinels shared with the processing loop.
var (
	CodeTryAgain    = Code(-11) // EAGAIN
	CodeEndOfStream = Tag('E', 'O', 'F', ' ')
)

// Implementation errors
var (
	CodeImplConstruct   = Tag('E', 'I', 'O', 'C')
	CodeImplDynamicInit = Tag('E', 'I', 'D', 'I')
	CodeImplDestruct    = Tag('E', 'E', 'O', 'D')
	CodeImplProcess     = Tag('I', 'P', 'R', 'F')
	CodeImplPostProcess = Tag('I', 'P', 'P', 'F')
)

// Node errors
var (
	CodeEmptyImpl   = Tag('B', 'E', 'I', 'M')
	CodePostProcess = Tag('B', 'P', 'P', 'F')
	CodeEmptyOption = Tag('B', 'E', 'I', 'O')
	CodeNoSenders   = Tag('B', 'N', 'S', 'D')
	CodeEdgeClosed  = Tag('B', 'E', 'C', 'L')
)

// Factory errors
var (
	CodeFactoryNoVariant    = Tag('F', 'N', 'I', 'T')
	CodeFactoryNoCategory   = Tag('F', 'N', 'C', 'T')
	CodeFactoryBadVariant   = Tag('F', 'I', 'I', 'T')
	CodeFactoryCreateFailed = Tag('F', 'C', 'I', 'F')
)

// Option dictionary errors
var (
	CodeDictNoSuchKey    = Tag('D', 'N', 'S', 'K')
	CodeDictKeyExists    = Tag('D', 'K', 'E', 'X')
	CodeDictValueInvalid = Tag('D', 'V', 'I', 'V')
	CodeDictOutOfRange   = Tag('D', 'V', 'O', 'R')
	CodeDictTypeMismatch = Tag('D', 'V', 'T', 'M')
	CodeDictMissInputURL = Tag('D', 'M', 'I', 'U')
	CodeDictMissOutput   = Tag('D', 'M', 'O', 'U')
)

// Event errors
var (
	CodeEventInvalid      = Tag('E', 'M', 'I', 'V')
	CodeEventNotSupported = Tag('E', 'P', 'N', 'S')
	CodeEventLayout       = Tag('E', 'P', 'L', 'U')
	CodeEventMuteUnmute   = Tag('E', 'M', 'A', 'U')
	CodeEventBackground   = Tag('E', 'B', 'G', 'U')
)

// Stream and timestamp errors
var (
	CodeInvalidCodecPar = Tag('T', 'S', 'I', 'C')
	CodeInvalidVideoPar = Tag('T', 'S', 'I', 'V')
	CodeInvalidAudioPar = Tag('T', 'S', 'I', 'A')
	CodeDataNoPTS       = Tag('E', 'I', 'D', 'N')
	CodeUnexpectedEmpty = Tag('I', 'U', 'E', 'I')
	CodeClearCache      = Tag('I', 'C', 'C', 'B')
	CodeDTSNotMonotonic = Tag('I', 'D', 'N', 'M')
	CodePacketNoDTS     = Tag('I', 'P', 'N', 'D')
	CodeCodecNotFound   = Tag('I', 'C', 'N', 'F')
)

// Engine errors
var (
	CodeLoadGraph      = Tag('E', 'L', 'C', 'F')
	CodeBuildStreamlet = Tag('E', 'B', 'S', 'L')
)

// Info reports
var (
	InfoConstructDone   = InfoTag('B', 'C', 'D')
	InfoDestructDone    = InfoTag('B', 'D', 'D')
	InfoDeleteReceiver  = InfoTag('B', 'D', 'R')
	InfoEndProcess      = InfoTag('B', 'E', 'P')
	InfoRunThread       = InfoTag('R', 'P', 'T')
	InfoEndThread       = InfoTag('E', 'P', 'T')
	InfoImplCreated     = InfoTag('I', 'I', 'C')
	InfoImplDestroyed   = InfoTag('I', 'I', 'D')
	InfoConnect         = InfoTag('D', 'C', 'N')
	InfoDisconnect      = InfoTag('D', 'D', 'C')
	InfoSubscribe       = InfoTag('D', 'S', 'C')
	InfoUnsubscribe     = InfoTag('D', 'U', 'S')
	InfoAddMixStream    = InfoTag('A', 'M', 'S')
	InfoMixStreamEnded  = InfoTag('O', 'F', 'M')
	InfoStreamletRemove = InfoTag('R', 'S', 'R')
	InfoStreamletAdd    = InfoTag('R', 'S', 'A')
)

// Warning reports
var (
	WarnDropData     = WarningTag('I', 'D', 'D')
	WarnCacheTooMany = WarningTag('I', 'C', 'M')
	WarnUnusedOpts   = WarningTag('I', 'U', 'O')
)

var codeText = map[Code]string{
	Success:         "Success",
	CodeTryAgain:    "Resource temporarily unavailable",
	CodeEndOfStream: "End of file",

	CodeImplConstruct:   "Impl - failed on impl construct",
	CodeImplDynamicInit: "Impl - failed on dynamic initialization",
	CodeImplDestruct:    "Impl - failed on impl destruct",
	CodeImplProcess:     "Impl - do process fail",
	CodeImplPostProcess: "Impl - do post-process fail",

	CodeEmptyImpl:   "Node has empty implementation",
	CodePostProcess: "Node do post-process fail",
	CodeEmptyOption: "Node required options not present",
	CodeNoSenders:   "Node has no senders left",
	CodeEdgeClosed:  "Node edge closed",

	CodeFactoryNoVariant:    "Impl factory - no impl type found in options",
	CodeFactoryNoCategory:   "Impl factory - no class category found in options",
	CodeFactoryBadVariant:   "Impl factory - impl type not registered",
	CodeFactoryCreateFailed: "Impl factory - create implementation failed",

	CodeDictNoSuchKey:    "Dict - no such key",
	CodeDictKeyExists:    "Dict - key exists",
	CodeDictValueInvalid: "Dict - value invalid",
	CodeDictOutOfRange:   "Dict - value out of range",
	CodeDictTypeMismatch: "Dict - type mismatch",
	CodeDictMissInputURL: "Dict - missing input url",
	CodeDictMissOutput:   "Dict - missing output url",

	CodeEventInvalid:      "Event - message invalid",
	CodeEventNotSupported: "Event - not supported for processing",
	CodeEventLayout:       "Event - video mix layout update fail",
	CodeEventMuteUnmute:   "Event - audio mute/unmute fail",
	CodeEventBackground:   "Event - video mix set background picture fail",

	CodeInvalidCodecPar: "Impl - stream descriptor - invalid codec parameters",
	CodeInvalidVideoPar: "Impl - stream descriptor - invalid video parameters",
	CodeInvalidAudioPar: "Impl - stream descriptor - invalid audio parameters",
	CodeDataNoPTS:       "Impl - data without valid timestamp",
	CodeUnexpectedEmpty: "Impl - unexpected empty input buf",
	CodeClearCache:      "Impl - clear input cache buffer",
	CodeDTSNotMonotonic: "Impl - pkt dts not monotonic",
	CodePacketNoDTS:     "Impl - pkt has no valid dts",
	CodeCodecNotFound:   "Impl - codec not found",

	InfoConstructDone:   "Node - construct done",
	InfoDestructDone:    "Node - destruct done",
	InfoDeleteReceiver:  "Node - delete one of its input senders",
	InfoEndProcess:      "Node - end process after self flush done",
	InfoRunThread:       "Node - run process loop",
	InfoEndThread:       "Node - end process loop",
	InfoImplCreated:     "Impl instance create done",
	InfoImplDestroyed:   "Impl instance destroy done",
	InfoConnect:         "Node connect",
	InfoDisconnect:      "Node disconnect",
	InfoSubscribe:       "Node subscribe peer event",
	InfoUnsubscribe:     "Node unsubscribe peer event",
	InfoAddMixStream:    "Impl - add one stream to mixer done",
	InfoMixStreamEnded:  "Impl - one stream end when mix streams",
	InfoStreamletRemove: "River - removed stopped streamlet",
	InfoStreamletAdd:    "River - added streamlet",

	CodeLoadGraph:      "Engine - failed to load graph",
	CodeBuildStreamlet: "Engine - failed to build streamlet",

	WarnDropData:     "Impl - drop data",
	WarnCacheTooMany: "Impl - cache too many data",
	WarnUnusedOpts:   "Impl - unused options",
}

// String returns the report text for c.
func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	if c > 0 {
		return "unknown"
	}
	return fmt.Sprintf("error %d", int32(c))
}

// Severity classifies a code.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the severity name used in logs and metrics.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Severity derives the classification from the code range. Zero is info.
func (c Code) Severity() Severity {
	if c < 0 {
		return SeverityError
	}
	if c == 0 {
		return SeverityInfo
	}
	switch uint32(-int32(c)) >> 24 {
	case warningSuffix:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// IsError reports whether c is an error code.
func (c Code) IsError() bool { return c < 0 }

// sentinelCodes maps runtime sentinel errors onto report codes, most specific first.
var sentinelCodes = []struct {
	err  error
	code Code
}{
	{errors.ErrTryAgain, CodeTryAgain},
	{errors.ErrEndOfStream, CodeEndOfStream},
	{errors.ErrNoSenders, CodeNoSenders},
	{errors.ErrEdgeClosed, CodeEdgeClosed},
	{errors.ErrDynamicInit, CodeImplDynamicInit},
	{errors.ErrEmptyImplementation, CodeEmptyImpl},
	{errors.ErrEmptyOption, CodeEmptyOption},
	{errors.ErrNoCategory, CodeFactoryNoCategory},
	{errors.ErrNoVariant, CodeFactoryNoVariant},
	{errors.ErrVariantNotRegistered, CodeFactoryBadVariant},
	{errors.ErrCreateImplementation, CodeFactoryCreateFailed},
	{errors.ErrEventNotSupported, CodeEventNotSupported},
	{errors.ErrNoSuchKey, CodeDictNoSuchKey},
	{errors.ErrKeyExists, CodeDictKeyExists},
	{errors.ErrValueInvalid, CodeDictValueInvalid},
	{errors.ErrValueOutOfRange, CodeDictOutOfRange},
	{errors.ErrTypeMismatch, CodeDictTypeMismatch},
	{errors.ErrNoDTS, CodePacketNoDTS},
	{errors.ErrDTSNotMonotonic, CodeDTSNotMonotonic},
	{errors.ErrInvalidDescriptor, CodeInvalidCodecPar},
}

// CodeOf maps err to a report code. Unknown errors map to CodeImplProcess.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeTryAgain
	}
	return CodeImplProcess
}

// Error attaches an explicit report code to an error.
type Error struct {
	Code Code
	Err  error
}

// Errorf wraps a formatted error with code.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
