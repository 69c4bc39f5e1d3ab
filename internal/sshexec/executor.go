// Package sshexec runs ssh control-socket commands with bounded retries and
// guarantees a live multiplexed connection before tunnel or remote actions.
package sshexec

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gluk-w/claworc/tunneling/internal/logging"
	"github.com/gluk-w/claworc/tunneling/internal/sshcmd"
)

// ErrUnexpectedExitCode is matched by every *ExitCodeError.
var ErrUnexpectedExitCode = errors.New("unexpected exit code")

// Request describes one logical command, possibly executed several times.
type Request struct {
	Kind   sshcmd.Kind
	Action sshcmd.Action
	Params sshcmd.Params

	// MaxAttempts below 1 is treated as 1.
	MaxAttempts int
	// ExpectedCodes defaults to {0}.
	ExpectedCodes []int
	// Timeout defaults to the executor's timeout.
	Timeout time.Duration

	AlertAdmins   bool
	QuietStderr   bool
	CorrelationID string
	// Message prefixes the log lines, e.g. "SSH start tunnel".
	Message string
}

// Outcome is the transient result of a Request.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Attempts int
	Verbose  bool
}

// ExitCodeError reports that every attempt returned a code outside the
// expected set.
type ExitCodeError struct {
	Action   sshcmd.Action
	Expected []int
	Outcome  Outcome
	// Err is set when the process could not be started at all.
	Err error
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("%s: unexpected returncode: %d not in %v", e.Action, e.Outcome.ExitCode, e.Expected)
}

func (e *ExitCodeError) Is(target error) bool { return target == ErrUnexpectedExitCode }

func (e *ExitCodeError) Unwrap() error { return e.Err }

type Executor struct {
	builder sshcmd.Builder
	runner  Runner
	timeout time.Duration
}

// killGrace is how long the runner waits past the timeout(1) limit before
// killing the process group.
const killGrace = time.Second

// timeoutSeconds rounds d up to whole seconds, at least one.
func timeoutSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func NewExecutor(builder sshcmd.Builder, runner Runner, timeout time.Duration) *Executor {
	if runner == nil {
		runner = OSRunner{}
	}
	if timeout <= 0 {
		timeout = time.Duration(builder.Timeout) * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Executor{builder: builder, runner: runner, timeout: timeout}
}

// Execute runs req until its exit code is expected or attempts run out. Only
// the final attempt of a multi-attempt request runs verbose. On success the
// final exit code is returned in the Outcome for the caller to interpret.
func (e *Executor) Execute(ctx context.Context, req Request) (Outcome, error) {
	maxAttempts := req.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	expected := req.ExpectedCodes
	if len(expected) == 0 {
		expected = []int{0}
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	// timeout(1) gets the request timeout so it kills ssh itself; the runner
	// deadline is only a backstop.
	builder := e.builder
	builder.Timeout = timeoutSeconds(timeout)
	runTimeout := time.Duration(builder.Timeout)*time.Second + killGrace

	msg := req.Message
	if msg == "" {
		msg = fmt.Sprintf("SSH %s %s", req.Action, req.Kind)
	}
	lvl := req.Action.LogLevel()

	var (
		out    Outcome
		runErr error
		fields logging.Fields
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		verbose := maxAttempts > 1 && attempt == maxAttempts

		argv, err := builder.Build(req.Kind, req.Action, req.Params, verbose)
		if err != nil {
			return Outcome{}, err
		}

		fields = logging.Fields{
			"uuidcode": req.CorrelationID,
			"hostname": req.Params.Hostname,
			"cmd":      strings.Join(argv, " "),
			"attempt":  attempt,
		}
		logging.Logf(lvl, msg+" ...", fields)

		res, err := e.runner.Run(ctx, runTimeout, argv)
		runErr = err
		out = Outcome{
			ExitCode: res.ExitCode,
			Stdout:   strings.TrimSpace(res.Stdout),
			Stderr:   strings.TrimSpace(res.Stderr),
			Attempts: attempt,
			Verbose:  verbose,
		}
		if err != nil {
			out.ExitCode = -1
			fields["error"] = err.Error()
		}

		fields["stdout"] = out.Stdout
		if !req.QuietStderr {
			fields["stderr"] = out.Stderr
		}
		fields["returncode"] = out.ExitCode
		logging.Logf(lvl, msg+" done", fields)

		if err == nil && slices.Contains(expected, out.ExitCode) {
			return out, nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	if !req.Action.IsProbe() {
		logging.Alert(req.AlertAdmins, msg+" failed. Action may be required", fields)
	}
	return out, &ExitCodeError{Action: req.Action, Expected: expected, Outcome: out, Err: runErr}
}
