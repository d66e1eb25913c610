// Package rterr defines the error taxonomy shared by components, execution
// contexts, ports and RPC substrates.
//
// Every error produced by the core carries a Kind. Kinds survive the RPC
// substrate as short codes, so a precondition failure raised inside a remote
// port arrives at the caller as a precondition failure too.
package rterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling purposes.
type Kind int

const (
	// KindUnknown is used for errors that were not produced by the core.
	KindUnknown Kind = iota
	// KindPreconditionNotMet means the operation is forbidden in the current state.
	KindPreconditionNotMet
	// KindBadParameter means an argument or profile is malformed.
	KindBadParameter
	// KindNotFound means a port, connector, context or component id is unknown.
	KindNotFound
	// KindConnection means a peer is unreachable or a connector could not be established.
	KindConnection
	// KindTransition means a lifecycle callback returned ERROR.
	KindTransition
	// KindFatal means a lifecycle callback returned FATAL.
	KindFatal
	// KindTimeout means a synchronous wait expired.
	KindTimeout
)

// Sentinel errors, one per kind. Use errors.Is against these.
var (
	ErrPreconditionNotMet = errors.New("precondition not met")
	ErrBadParameter       = errors.New("bad parameter")
	ErrNotFound           = errors.New("not found")
	ErrConnection         = errors.New("connection error")
	ErrTransition         = errors.New("transition error")
	ErrFatal              = errors.New("fatal error")
	ErrTimeout            = errors.New("timeout")
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindPreconditionNotMet: "precondition_not_met",
	KindBadParameter:       "bad_parameter",
	KindNotFound:           "not_found",
	KindConnection:         "connection",
	KindTransition:         "transition",
	KindFatal:              "fatal",
	KindTimeout:            "timeout",
}

// String returns the wire code of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a wire code back to a Kind. Unknown codes yield KindUnknown.
func ParseKind(code string) Kind {
	for k, s := range kindNames {
		if s == code {
			return k
		}
	}
	return KindUnknown
}

func (k Kind) sentinel() error {
	switch k {
	case KindPreconditionNotMet:
		return ErrPreconditionNotMet
	case KindBadParameter:
		return ErrBadParameter
	case KindNotFound:
		return ErrNotFound
	case KindConnection:
		return ErrConnection
	case KindTransition:
		return ErrTransition
	case KindFatal:
		return ErrFatal
	case KindTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// Error is a classified error raised by an operation on a subject
// (a component instance name, a port name, a connector id...).
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Subject != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Subject, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// New creates a classified error with a formatted message.
func New(kind Kind, op, subject, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Precondition reports an operation requested from a state that forbids it.
func Precondition(op, subject, format string, args ...any) error {
	return New(KindPreconditionNotMet, op, subject, format, args...)
}

// BadParameter reports a malformed argument.
func BadParameter(op, subject, format string, args ...any) error {
	return New(KindBadParameter, op, subject, format, args...)
}

// NotFound reports an unknown id or name.
func NotFound(op, subject, format string, args ...any) error {
	return New(KindNotFound, op, subject, format, args...)
}

// Connection reports a connect/disconnect failure.
func Connection(op, subject, format string, args ...any) error {
	return New(KindConnection, op, subject, format, args...)
}

// Transition reports a callback that returned ERROR.
func Transition(op, subject, format string, args ...any) error {
	return New(KindTransition, op, subject, format, args...)
}

// Fatal reports a callback that returned FATAL.
func Fatal(op, subject, format string, args ...any) error {
	return New(KindFatal, op, subject, format, args...)
}

// Timeout reports an expired synchronous wait.
func Timeout(op, subject, format string, args ...any) error {
	return New(KindTimeout, op, subject, format, args...)
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	for k := KindPreconditionNotMet; k <= KindTimeout; k++ {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return KindUnknown
}
