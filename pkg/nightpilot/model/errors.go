// Package model defines the entities and error taxonomy shared across the
// Store, Executor, Scheduler, and Facade layers.
package model

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the facade boundary and the scheduler's
// retry logic need it classified. Names are concept labels, not wrapped
// error types from other packages.
type Kind int

const (
	// KindUnknown is the zero value; never intentionally returned.
	KindUnknown Kind = iota
	// KindValidation means caller-supplied input violated a stated constraint.
	KindValidation
	// KindNotFound means the referenced entity does not exist.
	KindNotFound
	// KindInUse means a delete was blocked by a foreign-key dependency.
	KindInUse
	// KindBusy means the Store is contended; the caller may retry.
	KindBusy
	// KindPolicyDenied means the operation is disallowed by environment policy.
	KindPolicyDenied
	// KindCooldown means the agent reports its quota is exhausted.
	KindCooldown
	// KindTimeout means an operation exceeded its time budget.
	KindTimeout
	// KindAgentError means the agent exited non-zero or reported a failure.
	KindAgentError
	// KindParseError means the agent's output could not be parsed.
	KindParseError
	// KindPromptReference means an @path token could not be resolved.
	KindPromptReference
	// KindIOError means a filesystem or subprocess-spawn failure occurred.
	KindIOError
	// KindFatal means unrecoverable state was detected (corruption, invariant violation).
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInUse:
		return "in_use"
	case KindBusy:
		return "busy"
	case KindPolicyDenied:
		return "policy_denied"
	case KindCooldown:
		return "cooldown"
	case KindTimeout:
		return "timeout"
	case KindAgentError:
		return "agent_error"
	case KindParseError:
		return "parse_error"
	case KindPromptReference:
		return "prompt_reference"
	case KindIOError:
		return "io_error"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a classified failure. It is compatible with errors.Is/As:
// errors.Is(err, model.KindNotFound) does not work directly since Kind is
// not an error; callers compare via model.KindOf(err) == model.KindNotFound
// or via the Is* helpers below.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// ResetSeconds is populated only for KindCooldown.
	ResetSeconds int64

	// ExitCode is populated only for KindAgentError.
	ExitCode int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, keeping it in the cause chain.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from an error, returning KindUnknown if the
// error (or any error in its chain) is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
