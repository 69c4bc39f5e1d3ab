package tunnel

import (
	"errors"
	"fmt"

	"github.com/gluk-w/claworc/tunneling/internal/database"
	"github.com/gluk-w/claworc/tunneling/internal/sshexec"
)

var (
	ErrConnectionUnavailable     = sshexec.ErrConnectionUnavailable
	ErrTunnelStartFailed         = errors.New("could not forward port to system via ssh tunnel")
	ErrTunnelStopFailed          = errors.New("could not stop ssh tunnel")
	ErrServiceRegistrationFailed = errors.New("could not register cluster service for tunnel")
	ErrRemoteActionFailed        = errors.New("remote ssh action failed")
	ErrNotFound                  = database.ErrNotFound
	ErrInvalidRequest            = errors.New("invalid request")
)

// Error is returned by the lifecycle operations. Kind is one of the
// sentinels above; Err carries the underlying cause.
type Error struct {
	Kind          error
	Op            string
	Hostname      string
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Detail is the cause without the kind prefix, for API error bodies.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func newError(kind error, op, hostname, cid string, err error) *Error {
	return &Error{Kind: kind, Op: op, Hostname: hostname, CorrelationID: cid, Err: err}
}

func invalid(op, format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidRequest, Op: op, Err: fmt.Errorf(format, args...)}
}
