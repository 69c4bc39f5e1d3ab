package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// TimeoutExitCode is reported when a command is killed for exceeding its
// timeout. It matches the exit status of timeout(1).
const TimeoutExitCode = 124

// Result is the captured outcome of one process invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Runner executes one command. Implementations must not retry.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, argv []string) (Result, error)
}

// OSRunner runs commands as local processes.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, timeout time.Duration, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	killProcessGroup(cmd)

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Result{ExitCode: TimeoutExitCode, Stdout: "timeout", Stderr: stderr.String(), TimedOut: true}, nil
	}
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("run %s: %w", argv[0], err)
}
