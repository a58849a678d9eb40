// Package failure defines the error taxonomy shared by the transport and
// tunnel layers.
//
// Every error that crosses a package boundary carries a Kind. Callers branch
// on the kind with errors.Is:
//
//	if errors.Is(err, failure.Timeout) {
//		// retry with fresh ephemeral state
//	}
//
// The wrapped cause holds the detailed local diagnostic (usually an
// oops error). It is logged, never sent to a peer.
package failure

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Kind classifies a failure.
type Kind uint8

const (
	// ProtocolViolation is a malformed or out-of-state message. Fatal to the
	// session or build, never retried automatically.
	ProtocolViolation Kind = iota + 1
	// AuthenticationFailure is a tag or signature mismatch. Fatal.
	AuthenticationFailure
	// Timeout means no response arrived within the deadline. Callers may
	// retry with fresh key material.
	Timeout
	// CapacityRejected means a peer declined a tunnel build.
	CapacityRejected
	// TransportClosed means the underlying channel or session is gone.
	TransportClosed
	// Exhausted means hop selection cannot satisfy its constraints.
	Exhausted
	// Cancelled means the caller or the owning entity aborted the operation.
	Cancelled
)

var kindNames = map[Kind]string{
	ProtocolViolation:     "protocol violation",
	AuthenticationFailure: "authentication failure",
	Timeout:               "timeout",
	CapacityRejected:      "capacity rejected",
	TransportClosed:       "transport closed",
	Exhausted:             "exhausted",
	Cancelled:             "cancelled",
}

// String returns the human readable kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error lets a Kind be used directly as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// code is the machine readable code attached to oops causes.
func (k Kind) code() string {
	switch k {
	case ProtocolViolation:
		return "protocol_violation"
	case AuthenticationFailure:
		return "authentication_failure"
	case Timeout:
		return "timeout"
	case CapacityRejected:
		return "capacity_rejected"
	case TransportClosed:
		return "transport_closed"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Error is a classified failure of operation Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	sentinel *Error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the detailed cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a Kind target, the sentinel this error was derived from, or
// another *Error with the same kind and operation.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		if e.sentinel != nil && e.sentinel == t {
			return true
		}
		return t.Err == nil && t.Kind == e.Kind && t.Op == e.Op
	}
	return false
}

// Sentinel declares a package level error value of the given kind.
func Sentinel(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// New classifies cause as kind for operation op.
func New(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf builds an oops cause from the format and classifies it.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  oops.In(op).Code(kind.code()).Errorf(format, args...),
	}
}

// Wrap derives an error from a sentinel, keeping errors.Is(err, sentinel)
// true while attaching a cause.
func Wrap(sentinel *Error, cause error) error {
	return &Error{Kind: sentinel.Kind, Op: sentinel.Op, Err: cause, sentinel: sentinel}
}

// Wrapf is Wrap with an oops cause built from the format.
func Wrapf(sentinel *Error, format string, args ...any) error {
	return Wrap(sentinel, oops.In(sentinel.Op).Code(sentinel.Kind.code()).Errorf(format, args...))
}

// KindOf returns the kind of the first classified error in err's chain, or
// zero when err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// FromContext converts a context error into a classified failure. A
// deadline becomes Timeout and an explicit cancel becomes Cancelled.
func FromContext(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return New(Timeout, op, err)
	case errors.Is(err, context.Canceled):
		return New(Cancelled, op, err)
	}
	return New(TransportClosed, op, err)
}

// Uniform is the single message exposed to peers for any cryptographic or
// framing rejection.
const Uniform = "rejected"
