package sshexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gluk-w/claworc/tunneling/internal/logging"
	"github.com/gluk-w/claworc/tunneling/internal/sshcmd"
)

// ErrConnectionUnavailable is matched by every *ConnectionError.
var ErrConnectionUnavailable = errors.New("system not available")

const createAttempts = 3

// ConnectionError reports that the multiplexed control connection to a host
// could not be checked or (re-)created.
type ConnectionError struct {
	Kind     sshcmd.Kind
	Hostname string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("system not available: could not connect via ssh to %s: %v", e.Hostname, e.Err)
}

func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionUnavailable }

func (e *ConnectionError) Unwrap() error { return e.Err }

// GuardRequest carries the host identity and logging context of a guarded
// action.
type GuardRequest struct {
	Kind          sshcmd.Kind
	Params        sshcmd.Params
	CorrelationID string
	AlertAdmins   bool
	Timeout       time.Duration
	QuietStderr   bool
}

// Guard makes sure the control connection for a host is alive before an
// action runs over it.
type Guard struct {
	exec *Executor
}

func NewGuard(exec *Executor) *Guard {
	return &Guard{exec: exec}
}

// Ensure checks the control connection once and creates it (with retries)
// when the check fails.
func (g *Guard) Ensure(ctx context.Context, req GuardRequest) error {
	_, err := g.exec.Execute(ctx, Request{
		Kind:          req.Kind,
		Action:        sshcmd.ActionCheck,
		Params:        req.Params,
		MaxAttempts:   1,
		Timeout:       req.Timeout,
		QuietStderr:   req.QuietStderr,
		CorrelationID: req.CorrelationID,
		Message:       "SSH " + string(req.Kind) + " check connection",
	})
	if err == nil {
		return nil
	}

	_, err = g.exec.Execute(ctx, Request{
		Kind:          req.Kind,
		Action:        sshcmd.ActionCreate,
		Params:        req.Params,
		MaxAttempts:   createAttempts,
		Timeout:       req.Timeout,
		AlertAdmins:   req.AlertAdmins,
		QuietStderr:   req.QuietStderr,
		CorrelationID: req.CorrelationID,
		Message:       "SSH " + string(req.Kind) + " create connection",
	})
	if err != nil {
		logging.Warn("Could not create ssh connection", logging.Fields{
			"uuidcode": req.CorrelationID,
			"hostname": req.Params.Hostname,
			"kind":     req.Kind,
		})
		return &ConnectionError{Kind: req.Kind, Hostname: req.Params.Hostname, Err: err}
	}
	return nil
}

// Run invokes action once the connection is confirmed. When the connection
// cannot be established the action is not run and a *ConnectionError is
// returned; whether that aborts the caller is the caller's decision.
func (g *Guard) Run(ctx context.Context, req GuardRequest, action func(ctx context.Context) error) error {
	if err := g.Ensure(ctx, req); err != nil {
		return err
	}
	return action(ctx)
}
