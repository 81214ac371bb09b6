package irc

import "fmt"

// ErrKind classifies the errors the session surfaces to its caller.
type ErrKind int

const (
	_ ErrKind = iota
	ErrKindMalformedLine
	ErrKindInvalidArgument
	ErrKindNotRegistered
	ErrKindNotSupported
	ErrKindAsyncRequestError
	ErrKindDisconnected
	ErrKindCancelled
	ErrKindTransportError
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindMalformedLine:
		return "MalformedLine"
	case ErrKindInvalidArgument:
		return "InvalidArgument"
	case ErrKindNotRegistered:
		return "NotRegistered"
	case ErrKindNotSupported:
		return "NotSupported"
	case ErrKindAsyncRequestError:
		return "AsyncRequestError"
	case ErrKindDisconnected:
		return "Disconnected"
	case ErrKindCancelled:
		return "Cancelled"
	case ErrKindTransportError:
		return "TransportError"
	default:
		return "Unknown"
	}
}

// Err is the error type returned by every session API. Kind is stable and
// switchable; Message is human readable; Cause, if set, is the underlying
// error (a transport failure, a parse failure, ...).
type Err struct {
	Kind    ErrKind
	Message string
	Cause   error

	// Numeric and Line are populated when Kind is ErrKindAsyncRequestError:
	// the offending numeric reply and the full line that carried it.
	Numeric string
	Line    Message
}

func (e *Err) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("irc: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("irc: %s: %s", e.Kind, e.Message)
}

func (e *Err) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Err with the same Kind, so callers can
// write errors.Is(err, &irc.Err{Kind: irc.ErrKindNotRegistered}).
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind ErrKind, message string) *Err {
	return &Err{Kind: kind, Message: message}
}

func wrapErr(kind ErrKind, message string, cause error) *Err {
	return &Err{Kind: kind, Message: message, Cause: cause}
}

// ErrMalformedLine is returned by Parse when no command can be extracted
// from a line.
var ErrMalformedLine = newErr(ErrKindMalformedLine, "no command found")

// ErrDisconnected is returned by pending requests failed because the session
// dropped its connection.
var ErrDisconnected = newErr(ErrKindDisconnected, "session is disconnected")

// ErrCancelled is returned by a pending request aborted by its caller.
var ErrCancelled = newErr(ErrKindCancelled, "request cancelled")

// ErrNotRegistered is returned by APIs gated behind registration (see
// Session.State).
var ErrNotRegistered = newErr(ErrKindNotRegistered, "operation requires server info to have been received")

func asyncRequestErr(numeric string, line Message) *Err {
	return &Err{
		Kind:    ErrKindAsyncRequestError,
		Message: fmt.Sprintf("request terminated by %s", numeric),
		Numeric: numeric,
		Line:    line,
	}
}

func invalidArgument(message string) *Err {
	return newErr(ErrKindInvalidArgument, message)
}

func notSupported(message string) *Err {
	return newErr(ErrKindNotSupported, message)
}
