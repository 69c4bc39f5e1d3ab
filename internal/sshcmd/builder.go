// Package sshcmd builds the argument vectors for the external ssh
// control-socket commands. It performs no I/O.
package sshcmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedAction = errors.New("action not supported for kind")
	ErrInvalidHostname   = errors.New("invalid hostname")
)

// Params identify the host alias and, for forward/cancel, the forward spec.
type Params struct {
	Hostname   string
	LocalPort  int
	TargetNode string
	TargetPort int
}

// Builder holds the settings shared by every command.
type Builder struct {
	ConfigPath string
	// Timeout in seconds passed to timeout(1).
	Timeout int
}

// Alias returns the ssh config host alias, e.g. tunnel_hpc1.
func Alias(kind Kind, hostname string) string {
	return string(kind) + "_" + hostname
}

// ForwardSpec returns the -L argument for a forward or cancel.
func ForwardSpec(p Params) string {
	return fmt.Sprintf("0.0.0.0:%d:%s:%d", p.LocalPort, p.TargetNode, p.TargetPort)
}

// Build returns the argv for kind/action. With verbose set, -v is placed
// right after the config file argument.
func (b Builder) Build(kind Kind, action Action, p Params, verbose bool) ([]string, error) {
	if !action.Supports(kind) {
		return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedAction, kind, action)
	}
	host := strings.TrimSpace(p.Hostname)
	if host == "" || strings.HasPrefix(host, "-") || strings.ContainsAny(host, " \t\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHostname, p.Hostname)
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 3
	}
	argv := []string{"timeout", strconv.Itoa(timeout) + "s", "ssh", "-F", b.ConfigPath}
	if verbose {
		argv = append(argv, "-v")
	}

	alias := Alias(kind, host)
	switch action {
	case ActionCheck:
		argv = append(argv, "-O", "check", alias)
	case ActionCreate:
		argv = append(argv, alias)
	case ActionForward, ActionCancel:
		argv = append(argv, "-O", action.String(), alias, "-L", ForwardSpec(p))
	case ActionStart, ActionStatus, ActionStop:
		argv = append(argv, alias, action.String())
	}
	return argv, nil
}
