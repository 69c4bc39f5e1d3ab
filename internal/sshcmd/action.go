package sshcmd

import (
	"fmt"

	"github.com/gluk-w/claworc/tunneling/internal/logging"
)

// Kind selects the ssh host alias family: tunnel_<hostname> for port
// forwards, remote_<hostname> for one-shot remote sessions.
type Kind string

const (
	KindTunnel Kind = "tunnel"
	KindRemote Kind = "remote"
)

// Action is one operation against the ssh control-socket mechanism.
type Action int

const (
	ActionCheck Action = iota
	ActionCreate
	ActionForward
	ActionCancel
	ActionStart
	ActionStatus
	ActionStop
)

type actionSpec struct {
	name     string
	kinds    []Kind
	logLevel logging.Level
	// probe actions are expected to fail during normal operation and are
	// never reported as an operational anomaly.
	probe bool
}

var actions = map[Action]actionSpec{
	ActionCheck:   {name: "check", kinds: []Kind{KindTunnel, KindRemote}, logLevel: logging.LevelTrace, probe: true},
	ActionCreate:  {name: "create", kinds: []Kind{KindTunnel, KindRemote}, logLevel: logging.LevelDebug},
	ActionForward: {name: "forward", kinds: []Kind{KindTunnel}, logLevel: logging.LevelInfo},
	ActionCancel:  {name: "cancel", kinds: []Kind{KindTunnel}, logLevel: logging.LevelInfo},
	ActionStart:   {name: "start", kinds: []Kind{KindRemote}, logLevel: logging.LevelInfo},
	ActionStatus:  {name: "status", kinds: []Kind{KindRemote}, logLevel: logging.LevelDebug},
	ActionStop:    {name: "stop", kinds: []Kind{KindRemote}, logLevel: logging.LevelInfo},
}

func (a Action) String() string {
	if s, ok := actions[a]; ok {
		return s.name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// LogLevel is the level used for the "..." / "done" lines of this action.
func (a Action) LogLevel() logging.Level {
	if s, ok := actions[a]; ok {
		return s.logLevel
	}
	return logging.LevelInfo
}

// IsProbe reports whether a failure of this action is an expected way of
// learning state rather than an incident.
func (a Action) IsProbe() bool {
	return actions[a].probe
}

// Supports reports whether the action is valid for the given kind.
func (a Action) Supports(k Kind) bool {
	s, ok := actions[a]
	if !ok {
		return false
	}
	for _, kk := range s.kinds {
		if kk == k {
			return true
		}
	}
	return false
}
