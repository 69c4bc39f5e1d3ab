package tunnel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gluk-w/claworc/tunneling/internal/logging"
	"github.com/gluk-w/claworc/tunneling/internal/sshcmd"
	"github.com/gluk-w/claworc/tunneling/internal/sshexec"
)

// Exit codes of the remote session script.
const (
	RemoteRunning    = 217
	RemoteNotRunning = 218
)

// RemoteStatuses persists the last known state of remote sessions.
type RemoteStatuses interface {
	UpsertRemoteStatus(ctx context.Context, hostname string, running bool) error
}

// RemoteOptions control one remote session call.
type RemoteOptions struct {
	CorrelationID string
	AlertAdmins   bool
	// Timeout overrides the per-attempt command timeout.
	Timeout time.Duration
	// QuietStderr keeps stderr out of the command log lines.
	QuietStderr bool
}

type RemoteManager struct {
	exec     *sshexec.Executor
	guard    *sshexec.Guard
	statuses RemoteStatuses
}

func NewRemoteManager(exec *sshexec.Executor, statuses RemoteStatuses) *RemoteManager {
	return &RemoteManager{exec: exec, guard: sshexec.NewGuard(exec), statuses: statuses}
}

type remoteCall struct {
	action   sshcmd.Action
	op       string
	message  string
	attempts int
	expected []int
}

var (
	remoteStart  = remoteCall{sshcmd.ActionStart, "start remote", "SSH start remote", 3, []int{RemoteRunning}}
	remoteStatus = remoteCall{sshcmd.ActionStatus, "status remote", "SSH status remote", 1, []int{RemoteRunning, RemoteNotRunning}}
	remoteStop   = remoteCall{sshcmd.ActionStop, "stop remote", "SSH stop remote", 3, []int{RemoteNotRunning}}
)

func (r *RemoteManager) run(ctx context.Context, call remoteCall, hostname string, opts RemoteOptions) (bool, error) {
	if hostname == "" {
		return false, invalid(call.op, "hostname is required")
	}
	p := sshcmd.Params{Hostname: hostname}
	var code int
	err := r.guard.Run(ctx, sshexec.GuardRequest{
		Kind:          sshcmd.KindRemote,
		Params:        p,
		CorrelationID: opts.CorrelationID,
		AlertAdmins:   opts.AlertAdmins,
		Timeout:       opts.Timeout,
		QuietStderr:   opts.QuietStderr,
	}, func(ctx context.Context) error {
		out, err := r.exec.Execute(ctx, sshexec.Request{
			Kind:          sshcmd.KindRemote,
			Action:        call.action,
			Params:        p,
			MaxAttempts:   call.attempts,
			ExpectedCodes: call.expected,
			Timeout:       opts.Timeout,
			AlertAdmins:   opts.AlertAdmins,
			QuietStderr:   opts.QuietStderr,
			CorrelationID: opts.CorrelationID,
			Message:       call.message,
		})
		code = out.ExitCode
		return err
	})
	if err != nil {
		if errors.Is(err, sshexec.ErrConnectionUnavailable) {
			return false, newError(ErrConnectionUnavailable, call.op, hostname, opts.CorrelationID, err)
		}
		return false, newError(ErrRemoteActionFailed, call.op, hostname, opts.CorrelationID, err)
	}

	running := code == RemoteRunning
	if err := r.statuses.UpsertRemoteStatus(ctx, hostname, running); err != nil {
		return running, fmt.Errorf("%s %s: %w", call.op, hostname, err)
	}
	logging.Debug("Remote status updated", logging.Fields{
		"uuidcode": opts.CorrelationID,
		"hostname": hostname,
		"running":  running,
	})
	return running, nil
}

// Start starts the remote session of hostname. It succeeds only when the
// session reports running.
func (r *RemoteManager) Start(ctx context.Context, hostname string, opts RemoteOptions) error {
	_, err := r.run(ctx, remoteStart, hostname, opts)
	return err
}

// Status reports whether the remote session of hostname is running.
func (r *RemoteManager) Status(ctx context.Context, hostname string, opts RemoteOptions) (bool, error) {
	return r.run(ctx, remoteStatus, hostname, opts)
}

// Stop stops the remote session of hostname. It succeeds only when the
// session reports not running.
func (r *RemoteManager) Stop(ctx context.Context, hostname string, opts RemoteOptions) error {
	_, err := r.run(ctx, remoteStop, hostname, opts)
	return err
}
