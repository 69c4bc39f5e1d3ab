package sshexec

import (
	"context"
	"slices"
	"sync"
	"time"
)

// FakeRunner records every command and answers through Handler. It is used
// by tests across packages in place of real ssh processes.
type FakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	// Handler returns the result for argv; nil means exit code 0.
	Handler func(argv []string) (Result, error)
}

func (f *FakeRunner) Run(_ context.Context, _ time.Duration, argv []string) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return Result{}, nil
	}
	return h(argv)
}

// Calls returns a copy of the recorded argument vectors.
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Actions returns the action name of every recorded call in order.
func (f *FakeRunner) Actions() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, ActionOf(c))
	}
	return out
}

// Count returns how many recorded calls ran the named action.
func (f *FakeRunner) Count(action string) int {
	n := 0
	for _, a := range f.Actions() {
		if a == action {
			n++
		}
	}
	return n
}

// Reset drops the recorded calls.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// ActionOf extracts the action name from an argv built by sshcmd.Builder.
func ActionOf(argv []string) string {
	if i := slices.Index(argv, "-O"); i >= 0 && i+1 < len(argv) {
		return argv[i+1]
	}
	if n := len(argv); n > 0 {
		switch argv[n-1] {
		case "start", "status", "stop":
			return argv[n-1]
		}
	}
	return "create"
}

// IsVerbose reports whether argv carries the -v flag.
func IsVerbose(argv []string) bool {
	return slices.Contains(argv, "-v")
}
