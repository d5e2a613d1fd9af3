// Package chorderr defines the error taxonomy shared by every Chord
// component and the translation of that taxonomy onto gRPC status codes.
package chorderr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind distinguishes the handful of error categories a caller of any
// Chord package needs to tell apart.
type Kind int

const (
	// Unknown is the zero value; Error values built through New always
	// carry a real Kind, so Unknown only appears on errors this package
	// did not produce.
	Unknown Kind = iota

	// InvalidConfiguration covers malformed URLs, missing or unreadable
	// TLS material, contradictory flags, duplicate declared ports, and
	// out-of-range endpoint indices.
	InvalidConfiguration

	// InternalViolation covers state-machine preconditions being
	// violated: machine already exists, machine not in expected phase,
	// double-terminate, abandoned machine.
	InternalViolation

	// MachineError covers spawn failure, a child dying mid-handshake,
	// or binder startup failure.
	MachineError

	// AgentError covers an agent-side RPC failing or the agent being
	// unreachable.
	AgentError

	// PosixError wraps OS-level failures: fork, setsid, dup2, open.
	PosixError
)

func (k Kind) String() string {
	switch k {
	case InvalidConfiguration:
		return "InvalidConfiguration"
	case InternalViolation:
		return "InternalViolation"
	case MachineError:
		return "MachineError"
	case AgentError:
		return "AgentError"
	case PosixError:
		return "PosixError"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error. It wraps an underlying cause so
// callers can still errors.Is/errors.As through it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a taxonomy error around an existing error. If err is nil,
// Wrap returns nil so it is safe to use in the common
// `if err := foo(); err != nil { return chorderr.Wrap(...) }` idiom.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf reports the Kind carried by err, or Unknown if err was not
// produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ToStatus translates a taxonomy error into the gRPC status a waiter
// or RPC adapter should return: InvalidConfiguration maps to
// INVALID_ARGUMENT, everything else this package produces maps to
// ABORTED with the message carried verbatim, per the propagation
// policy.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return status.Error(codes.Aborted, err.Error())
	}
	if e.Kind == InvalidConfiguration {
		return status.Error(codes.InvalidArgument, e.Error())
	}
	return status.Error(codes.Aborted, e.Error())
}
