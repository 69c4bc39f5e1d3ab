package reconcile

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gluk-w/claworc/tunneling/internal/database"
	"github.com/gluk-w/claworc/tunneling/internal/registrar"
	"github.com/gluk-w/claworc/tunneling/internal/sshcmd"
	"github.com/gluk-w/claworc/tunneling/internal/sshexec"
	"github.com/gluk-w/claworc/tunneling/internal/tunnel"
)

const sshConfig = `Host tunnel_hpc1
    HostName hpc1.example.org
Host remote_hpc1
    HostName hpc1.example.org
Host remote_hpc2
    HostName hpc2.example.org
Host remote_hpc1
`

type testEnv struct {
	runner *sshexec.FakeRunner
	store  *database.Store
	reg    *registrar.MemoryRegistrar
	rec    *Reconciler
	config string
}

// codes answers every ssh command with 0, remote start with 217 and remote
// stop with 218. Entries of fail, keyed by "<action> <alias>", override it.
func codes(fail map[string]int) func([]string) (sshexec.Result, error) {
	return func(argv []string) (sshexec.Result, error) {
		action := sshexec.ActionOf(argv)
		alias := ""
		for _, a := range argv {
			if strings.HasPrefix(a, "tunnel_") || strings.HasPrefix(a, "remote_") {
				alias = a
			}
		}
		if c, ok := fail[action+" "+alias]; ok {
			return sshexec.Result{ExitCode: c}, nil
		}
		switch action {
		case "start":
			return sshexec.Result{ExitCode: tunnel.RemoteRunning}, nil
		case "stop", "status":
			return sshexec.Result{ExitCode: tunnel.RemoteNotRunning}, nil
		}
		return sshexec.Result{}, nil
	}
}

func newTestEnv(t *testing.T, pod string, cfg Config) *testEnv {
	t.Helper()
	old := log.Writer()
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(old) })

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(sshConfig), 0644); err != nil {
		t.Fatal(err)
	}
	if cfg.SSHConfigFile == "" {
		cfg.SSHConfigFile = path
	}
	cfg.Deployment = "tunneling"

	runner := &sshexec.FakeRunner{Handler: codes(nil)}
	exec := sshexec.NewExecutor(sshcmd.Builder{ConfigPath: cfg.SSHConfigFile}, runner, time.Second)
	store := database.NewStore(db)
	reg := registrar.NewMemory("tunneling", "tunneling-0", "tunneling-1")
	mgr := tunnel.NewManager(exec, store, reg, pod)
	mgr.PortInUse = func(int) bool { return false }

	return &testEnv{
		runner: runner,
		store:  store,
		reg:    reg,
		rec:    New(cfg, mgr, tunnel.NewRemoteManager(exec, store), store, reg),
		config: path,
	}
}

func TestParseRemoteHosts(t *testing.T) {
	hosts, err := ParseRemoteHosts([]byte(sshConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := []string{"hpc1", "hpc2"}; !reflect.DeepEqual(hosts, want) {
		t.Errorf("hosts %v, want %v", hosts, want)
	}
	hosts, _ = ParseRemoteHosts([]byte("  Host remote_indented\n#Host remote_comment\n"))
	if len(hosts) != 0 {
		t.Errorf("expected no hosts, got %v", hosts)
	}
}

func TestRemoteHostsReloadsOnChange(t *testing.T) {
	env := newTestEnv(t, "tunneling-0", Config{})

	hosts, err := env.rec.RemoteHosts()
	if err != nil || len(hosts) != 2 {
		t.Fatalf("unexpected hosts %v, %v", hosts, err)
	}

	os.WriteFile(env.config, []byte("Host remote_hpc3\n"), 0644)
	later := time.Now().Add(time.Minute)
	os.Chtimes(env.config, later, later)

	hosts, err = env.rec.RemoteHosts()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(hosts, []string{"hpc3"}) {
		t.Errorf("expected reloaded hosts, got %v", hosts)
	}
}

func TestSyncRemotesStartsEveryHost(t *testing.T) {
	env := newTestEnv(t, "tunneling-0", Config{})
	env.runner.Handler = codes(map[string]int{"start remote_hpc1": tunnel.RemoteNotRunning})
	ctx := context.Background()

	if err := env.rec.SyncRemotes(ctx, PeriodicCheckID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := env.store.GetRemoteStatus(ctx, "hpc1"); err == nil {
		t.Error("failed host must not be stored as running")
	}
	rs, err := env.store.GetRemoteStatus(ctx, "hpc2")
	if err != nil || !rs.Running {
		t.Errorf("expected hpc2 running despite hpc1 failing, got %+v, %v", rs, err)
	}
	if n := env.runner.Count("start"); n != 4 {
		t.Errorf("expected 3 attempts for hpc1 and 1 for hpc2, got %d", n)
	}
}

func TestSyncRemotesMissingConfig(t *testing.T) {
	env := newTestEnv(t, "tunneling-0", Config{SSHConfigFile: filepath.Join(t.TempDir(), "missing")})
	if err := env.rec.SyncRemotes(context.Background(), PeriodicCheckID); err == nil {
		t.Error("expected error for missing ssh config")
	}
}

func TestRunRemoteLoopRepeatsUntilCancelled(t *testing.T) {
	env := newTestEnv(t, "tunneling-0", Config{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		env.rec.RunRemoteLoop(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for env.runner.Count("start") < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	if env.runner.Count("start") < 4 {
		t.Errorf("expected at least two passes, got %d starts", env.runner.Count("start"))
	}
}

func saveTunnel(t *testing.T, env *testEnv, name, host, pod string) {
	t.Helper()
	ctx := context.Background()
	rec := &database.Tunnel{
		ServerName: name, Hostname: host, LocalPort: 40000 + len(name), ServiceName: name,
		ServicePort: 8080, TargetNode: "n", TargetPort: 9000, OwnerPod: pod,
	}
	if err := env.store.SaveTunnel(ctx, rec); err != nil {
		t.Fatal(err)
	}
	env.reg.Create(ctx, registrar.ServiceSpec{Name: name, Port: 8080, TargetPort: rec.LocalPort, OwnerPod: pod})
}

func TestRestoreOwnedTunnels(t *testing.T) {
	env := newTestEnv(t, "tunneling-0", Config{})
	saveTunnel(t, env, "good", "hpc1", "tunneling-0")
	saveTunnel(t, env, "bad", "broken", "tunneling-0")
	saveTunnel(t, env, "foreign", "other", "tunneling-1")
	env.runner.Handler = codes(map[string]int{"forward tunnel_broken": 255})

	restored, failed := env.rec.RestoreOwnedTunnels(context.Background())
	if restored != 1 || failed != 1 {
		t.Errorf("restored=%d failed=%d, want 1 and 1", restored, failed)
	}
	if _, ok := env.reg.Get("good"); !ok {
		t.Error("restored tunnel lost its service")
	}
	if _, ok := env.reg.Get("bad"); ok {
		t.Error("service of the unrestorable tunnel must be deleted")
	}
	if _, err := env.store.GetTunnel(context.Background(), "bad"); err != nil {
		t.Errorf("record of the unrestorable tunnel must be kept, got %v", err)
	}
	for _, c := range env.runner.Calls() {
		if slices.Contains(c, "tunnel_other") {
			t.Errorf("tunnel owned by another pod was touched: %v", c)
		}
	}
}

func createdAgo(env *testEnv, name string, age time.Duration) {
	env.reg.Clock = func() time.Time { return time.Now().Add(-age) }
	env.reg.Create(context.Background(), registrar.ServiceSpec{Name: name, Port: 1, TargetPort: 1})
	env.reg.Clock = time.Now
}

func TestSweepOrphanServices(t *testing.T) {
	env := newTestEnv(t, "tunneling-0", Config{})
	saveTunnel(t, env, "known", "hpc1", "tunneling-0")
	createdAgo(env, "orphan", time.Hour)

	deleted, err := env.rec.SweepOrphanServices(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !reflect.DeepEqual(deleted, []string{"orphan"}) {
		t.Errorf("deleted %v, want [orphan]", deleted)
	}
	if _, ok := env.reg.Get("known"); !ok {
		t.Error("service with a record must be kept")
	}
}

func TestSweepKeepsRecentlyCreatedServices(t *testing.T) {
	env := newTestEnv(t, "tunneling-0", Config{SweepGrace: time.Minute})
	createdAgo(env, "starting", time.Second)
	createdAgo(env, "stale", 2*time.Minute)

	deleted, err := env.rec.SweepOrphanServices(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !reflect.DeepEqual(deleted, []string{"stale"}) {
		t.Errorf("deleted %v, want [stale]", deleted)
	}
	if _, ok := env.reg.Get("starting"); !ok {
		t.Error("service of a tunnel still being started was swept")
	}
}

func TestStartOrphanSweep(t *testing.T) {
	env := newTestEnv(t, "tunneling-0", Config{})
	if err := env.rec.StartOrphanSweep("not a schedule"); err == nil {
		t.Error("expected an invalid schedule to be rejected")
	}

	createdAgo(env, "orphan", time.Hour)
	if err := env.rec.StartOrphanSweep("@every 1s"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	defer env.rec.Stop()

	var gone atomic.Bool
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := env.reg.Get("orphan"); !ok {
			gone.Store(true)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !gone.Load() {
		t.Error("scheduled sweep did not delete the orphan service")
	}
}

func TestShouldRunRemoteLoop(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		pod, mode string
		want      bool
	}{
		{"tunneling-0", "auto", true},
		{"tunneling-1", "auto", false},
		{"tunneling-1", "true", true},
		{"tunneling-0", "false", false},
	}
	for _, tt := range tests {
		env := newTestEnv(t, tt.pod, Config{RemoteCheck: tt.mode})
		if got := env.rec.ShouldRunRemoteLoop(ctx); got != tt.want {
			t.Errorf("pod=%s mode=%s: got %v, want %v", tt.pod, tt.mode, got, tt.want)
		}
	}
}

func TestRestartHost(t *testing.T) {
	env := newTestEnv(t, "tunneling-0", Config{})
	saveTunnel(t, env, "t1", "hpc1", "tunneling-0")
	saveTunnel(t, env, "t2", "hpc2", "tunneling-0")

	if err := env.rec.RestartHost(context.Background(), "hpc1", "cid"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	var got []string
	for _, c := range env.runner.Calls() {
		if a := sshexec.ActionOf(c); a != "check" {
			got = append(got, a+" "+c[len(c)-1])
		}
	}
	want := []string{
		"cancel 0.0.0.0:40002:n:9000",
		"forward 0.0.0.0:40002:n:9000",
		"stop stop",
		"start start",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("commands %v, want %v", got, want)
	}
	for _, c := range env.runner.Calls() {
		if slices.Contains(c, "tunnel_hpc2") {
			t.Errorf("tunnel of another host was restarted: %v", c)
		}
	}
	rs, err := env.store.GetRemoteStatus(context.Background(), "hpc1")
	if err != nil || !rs.Running {
		t.Errorf("expected remote running after restart, got %+v, %v", rs, err)
	}
}
