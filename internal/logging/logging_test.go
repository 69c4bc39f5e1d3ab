package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldFlags, oldLevel := log.Writer(), log.Flags(), CurrentLevel()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(oldOut)
		log.SetFlags(oldFlags)
		SetLevel(oldLevel)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace":      LevelTrace,
		"DEBUG":      LevelDebug,
		"":           LevelInfo,
		"warn":       LevelWarning,
		"Warning":    LevelWarning,
		"critical":   LevelCritical,
		"deactivate": LevelOff,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogfFiltersByLevelAndSortsFields(t *testing.T) {
	buf := captureLog(t)
	SetLevel(LevelInfo)

	Debug("hidden", nil)
	Info("SSH start tunnel done", Fields{"returncode": 0, "hostname": "hpc\nfake", "cmd": "ssh -F x"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered: %q", out)
	}
	want := `[INFO] SSH start tunnel done cmd="ssh -F x" hostname="hpc fake" returncode=0`
	if strings.TrimSpace(out) != want {
		t.Errorf("got %q, want %q", strings.TrimSpace(out), want)
	}
}

func TestAlertEscalates(t *testing.T) {
	buf := captureLog(t)
	SetLevel(LevelTrace)

	Alert(true, "a", nil)
	Alert(false, "b", nil)

	out := buf.String()
	if !strings.Contains(out, "[CRITICAL] a") || !strings.Contains(out, "[WARNING] b") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRefreshFromFileAppliesLevel(t *testing.T) {
	captureLog(t)
	SetLevel(LevelInfo)

	path := filepath.Join(t.TempDir(), "logging.yaml")
	if err := os.WriteFile(path, []byte("level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	WatchFile(path, 0)
	defer WatchFile("", 0)

	RefreshFromFile()
	if CurrentLevel() != LevelDebug {
		t.Errorf("expected DEBUG after refresh, got %v", CurrentLevel())
	}

	if err := os.WriteFile(path, []byte("level: nonsense-level\n"), 0644); err != nil {
		t.Fatal(err)
	}
	RefreshFromFile()
	if CurrentLevel() != LevelDebug {
		t.Errorf("invalid config should keep previous level, got %v", CurrentLevel())
	}
}
