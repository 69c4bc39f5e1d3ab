package tunnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gluk-w/claworc/tunneling/internal/database"
)

func TestRemoteStatusMapsExitCodes(t *testing.T) {
	tests := []struct {
		code    int
		running bool
	}{
		{RemoteRunning, true},
		{RemoteNotRunning, false},
	}
	for _, tt := range tests {
		env := newTestEnv(t)
		env.host.remoteCodes["status"] = tt.code

		running, err := env.remote.Status(context.Background(), "hpc1", RemoteOptions{})
		if err != nil {
			t.Fatalf("code %d: unexpected error %v", tt.code, err)
		}
		if running != tt.running {
			t.Errorf("code %d: running=%v, want %v", tt.code, running, tt.running)
		}
		rs, err := env.store.GetRemoteStatus(context.Background(), "hpc1")
		if err != nil || rs.Running != tt.running {
			t.Errorf("code %d: stored status %+v, %v", tt.code, rs, err)
		}
	}
}

func TestRemoteStatusUnexpectedCode(t *testing.T) {
	env := newTestEnv(t)
	env.host.remoteCodes["status"] = 1

	_, err := env.remote.Status(context.Background(), "hpc1", RemoteOptions{})
	if !errors.Is(err, ErrRemoteActionFailed) {
		t.Fatalf("expected ErrRemoteActionFailed, got %v", err)
	}
	if _, err := env.store.GetRemoteStatus(context.Background(), "hpc1"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("failed status must not be stored, got %v", err)
	}
	if n := env.runner.Count("status"); n != 1 {
		t.Errorf("expected a single status attempt, got %d", n)
	}
}

func TestRemoteStartAndStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.remote.Start(ctx, "hpc1", RemoteOptions{CorrelationID: "cid"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	rs, _ := env.store.GetRemoteStatus(ctx, "hpc1")
	if rs == nil || !rs.Running {
		t.Errorf("expected running=true after start, got %+v", rs)
	}

	if err := env.remote.Stop(ctx, "hpc1", RemoteOptions{CorrelationID: "cid"}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rs, _ = env.store.GetRemoteStatus(ctx, "hpc1")
	if rs == nil || rs.Running {
		t.Errorf("expected running=false after stop, got %+v", rs)
	}

	for _, c := range env.runner.Calls() {
		if c[len(c)-2] != "remote_hpc1" && c[len(c)-1] != "remote_hpc1" {
			t.Errorf("unexpected command target %v", c)
		}
	}
}

func TestRemoteStartRetriesThenFails(t *testing.T) {
	env := newTestEnv(t)
	env.host.remoteCodes["start"] = RemoteNotRunning

	err := env.remote.Start(context.Background(), "hpc1", RemoteOptions{Timeout: time.Second, QuietStderr: true})
	if !errors.Is(err, ErrRemoteActionFailed) {
		t.Fatalf("expected ErrRemoteActionFailed, got %v", err)
	}
	if n := env.runner.Count("start"); n != 3 {
		t.Errorf("expected 3 start attempts, got %d", n)
	}
}

func TestRemoteConnectionUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.host.checkCode = 255
	env.host.createCode = 255

	err := env.remote.Stop(context.Background(), "hpc1", RemoteOptions{})
	if !errors.Is(err, ErrConnectionUnavailable) {
		t.Fatalf("expected ErrConnectionUnavailable, got %v", err)
	}
	if env.runner.Count("stop") != 0 {
		t.Error("stop must not run without a connection")
	}
}

func TestRemoteRequiresHostname(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.remote.Status(context.Background(), "", RemoteOptions{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}
