package protocol

import "fmt"

// Kind enumerates the error taxonomy of spec §7 that originates from, or is
// detected by, the protocol engine.
type Kind int

const (
	KindTransport Kind = iota
	KindProtocolTimeout
	KindMotionTimeout
	KindHomingTimeout
	KindControllerAlarm
	KindControllerError
	KindRequiresHoming
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "Transport"
	case KindProtocolTimeout:
		return "ProtocolTimeout"
	case KindMotionTimeout:
		return "MotionTimeout"
	case KindHomingTimeout:
		return "HomingTimeout"
	case KindControllerAlarm:
		return "ControllerAlarm"
	case KindControllerError:
		return "ControllerError"
	case KindRequiresHoming:
		return "RequiresHoming"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with its taxonomy Kind so callers up the
// stack (motion adapter, orchestrator) can switch on the kind without
// string matching.
type Error struct {
	Kind Kind
	Code int // controller error/alarm numeric code, when applicable
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Kind, e.Err)
	}
	if e.Code != 0 {
		return fmt.Sprintf("protocol: %s (code %d)", e.Kind, e.Code)
	}
	return fmt.Sprintf("protocol: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, code int, cause error) *Error {
	return &Error{Kind: k, Code: code, Err: cause}
}
