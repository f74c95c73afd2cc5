package errors

// Command-level error taxonomy. Callers match with the standard errors.Is.

import (
	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrInvalidTarget reports a session or command aimed at a missing generator.
	ErrInvalidTarget = pkgerrors.New("invalid target")
	// ErrUnknownSession reports a stop request for an id that is not active.
	ErrUnknownSession = pkgerrors.New("unknown session")
	// ErrCapacityExceeded reports a generator or session limit.
	ErrCapacityExceeded = pkgerrors.New("capacity exceeded")
	// ErrUnknownGenerator reports a command naming a generator that does not exist.
	ErrUnknownGenerator = pkgerrors.New("unknown generator")
	// ErrConnection reports a generator or responder socket failure.
	ErrConnection = pkgerrors.New("connection error")
	// ErrNotRunning reports a command that needs a started simulator.
	ErrNotRunning = pkgerrors.New("simulator not running")
	// ErrEmptyReplayBuffer reports a replay request before any packet was retained.
	ErrEmptyReplayBuffer = pkgerrors.New("replay buffer empty")
)

// InvalidTarget returns ErrInvalidTarget annotated with the target index.
func InvalidTarget(index int) error {
	return pkgerrors.Wrapf(ErrInvalidTarget, "target %d", index)
}

// UnknownSession returns ErrUnknownSession annotated with the session id.
func UnknownSession(id uint64) error {
	return pkgerrors.Wrapf(ErrUnknownSession, "session %d", id)
}

// CapacityExceeded returns ErrCapacityExceeded annotated with the limit.
func CapacityExceeded(what string, limit int) error {
	return pkgerrors.Wrapf(ErrCapacityExceeded, "%s limit %d reached", what, limit)
}

// UnknownGenerator returns ErrUnknownGenerator annotated with the id.
func UnknownGenerator(id int) error {
	return pkgerrors.Wrapf(ErrUnknownGenerator, "generator %d", id)
}

// NotRunning returns ErrNotRunning annotated with the rejected operation.
func NotRunning(op string) error {
	return pkgerrors.Wrapf(ErrNotRunning, "%s", op)
}

// EmptyReplayBuffer returns ErrEmptyReplayBuffer annotated with the source.
func EmptyReplayBuffer(source string) error {
	return pkgerrors.Wrapf(ErrEmptyReplayBuffer, "%s", source)
}

// Connection wraps a socket failure so it matches ErrConnection while
// keeping the underlying cause reachable through Cause.
func Connection(err error, op string) error {
	if err == nil {
		return nil
	}
	return &connectionError{op: op, cause: err}
}

type connectionError struct {
	op    string
	cause error
}

func (e *connectionError) Error() string {
	return e.op + ": " + e.cause.Error()
}

func (e *connectionError) Is(target error) bool {
	return target == ErrConnection
}

func (e *connectionError) Unwrap() error { return e.cause }

// Cause lets pkg/errors.Cause reach the socket error.
func (e *connectionError) Cause() error { return e.cause }

// Cause returns the innermost error of a pkg/errors chain.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}
