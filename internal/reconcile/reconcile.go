// Package reconcile drives actual tunnel and remote session state towards
// the desired state: remote sessions declared in the ssh config, tunnels
// persisted for this replica and services that still have a record.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/claworc/tunneling/internal/audit"
	"github.com/gluk-w/claworc/tunneling/internal/cache"
	"github.com/gluk-w/claworc/tunneling/internal/logging"
	"github.com/gluk-w/claworc/tunneling/internal/registrar"
	"github.com/gluk-w/claworc/tunneling/internal/tunnel"
)

const (
	PeriodicCheckID = "PeriodicCheck"
	StartupID       = "StartUp Tunnel"
	SweepID         = "OrphanSweep"
)

type Config struct {
	SSHConfigFile string
	// Interval between remote reconciliation passes.
	Interval time.Duration
	// RemoteTimeout is the per-attempt timeout of remote starts in a pass.
	RemoteTimeout time.Duration
	// RemoteCheck is "auto", "true" or "false".
	RemoteCheck string
	Deployment  string
	// SweepGrace keeps services younger than this out of the orphan sweep,
	// covering the window between registration and the record being saved.
	SweepGrace time.Duration
}

type Reconciler struct {
	cfg       Config
	tunnels   *tunnel.Manager
	remotes   *tunnel.RemoteManager
	records   tunnel.Records
	registrar registrar.Registrar
	hosts     *cache.Cache[[]string]

	mu   sync.Mutex
	cron *cron.Cron
}

func New(cfg Config, tunnels *tunnel.Manager, remotes *tunnel.RemoteManager, records tunnel.Records, reg registrar.Registrar) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = time.Second
	}
	if cfg.SweepGrace <= 0 {
		cfg.SweepGrace = 2 * time.Minute
	}
	return &Reconciler{
		cfg:       cfg,
		tunnels:   tunnels,
		remotes:   remotes,
		records:   records,
		registrar: reg,
		hosts:     cache.NewFile(cfg.SSHConfigFile, 0, ParseRemoteHosts),
	}
}

// RemoteHosts returns the remote hostnames of the ssh config file. The file
// is re-read only when its modification time changed.
func (r *Reconciler) RemoteHosts() ([]string, error) {
	hosts, _, err := r.hosts.RefreshIfStale()
	if err != nil {
		return nil, fmt.Errorf("load ssh config: %w", err)
	}
	return hosts, nil
}

// SyncRemotes starts the remote session of every declared host once. A
// failing host is logged and skipped.
func (r *Reconciler) SyncRemotes(ctx context.Context, cid string) error {
	hosts, err := r.RemoteHosts()
	if err != nil {
		return err
	}
	for _, h := range hosts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.remotes.Start(ctx, h, tunnel.RemoteOptions{
			CorrelationID: cid,
			Timeout:       r.cfg.RemoteTimeout,
			QuietStderr:   true,
		})
		if err != nil {
			logging.Debug("PeriodicCheck - Could not start ssh remote tunnel", logging.Fields{
				"uuidcode": cid,
				"hostname": h,
				"error":    err.Error(),
			})
		}
	}
	return nil
}

// RunRemoteLoop calls SyncRemotes every interval until ctx is done.
func (r *Reconciler) RunRemoteLoop(ctx context.Context) {
	logging.Info("PeriodicCheck - Start remote tunnels from config file", logging.Fields{
		"uuidcode": PeriodicCheckID,
		"interval": r.cfg.Interval,
	})
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := r.SyncRemotes(ctx, PeriodicCheckID); err != nil && !errors.Is(err, context.Canceled) {
			logging.Critical("PeriodicCheck - Could not load ssh config file", logging.Fields{
				"uuidcode": PeriodicCheckID,
				"error":    err.Error(),
			})
		}
		t.Reset(r.cfg.Interval)
	}
}

// ShouldRunRemoteLoop reports whether this replica runs the remote loop.
// With "auto" only the first replica of the statefulset does.
func (r *Reconciler) ShouldRunRemoteLoop(ctx context.Context) bool {
	switch r.cfg.RemoteCheck {
	case "true":
		return true
	case "false":
		return false
	}
	pods, err := r.registrar.ReplicaPods(ctx)
	if err != nil {
		logging.Warn("Could not list tunnel replica pods", logging.Fields{"uuidcode": StartupID, "error": err.Error()})
		return false
	}
	logging.Info("Get tunnel sts pod names", logging.Fields{"uuidcode": StartupID, "pods": pods})
	return len(pods) > 0 && pods[0] == r.tunnels.Pod()
}

// RestoreOwnedTunnels re-establishes every tunnel persisted for this replica.
// When a tunnel cannot be restored its service is deleted so that nothing
// routes to a dead port; the record is kept.
func (r *Reconciler) RestoreOwnedTunnels(ctx context.Context) (restored, failed int) {
	recs, err := r.tunnels.Owned(ctx)
	if err != nil {
		logging.Error("Could not load tunnels saved in database", logging.Fields{"uuidcode": StartupID, "error": err.Error()})
		return 0, 0
	}
	logging.Info("Start all tunnels saved in database", logging.Fields{
		"uuidcode": StartupID,
		"pod":      r.tunnels.Pod(),
		"count":    len(recs),
	})
	for i := range recs {
		rec := &recs[i]
		fields := logging.Fields{"uuidcode": StartupID, "servername": rec.ServerName, "hostname": rec.Hostname}
		err := r.tunnels.Resume(ctx, rec, tunnel.Options{CorrelationID: StartupID, AlertAdmins: true, RaiseOnFailure: true})
		if err == nil {
			restored++
			continue
		}
		failed++
		fields["error"] = err.Error()
		logging.Error("Could not start ssh tunnel at StartUp", fields)
		if err := r.registrar.Delete(ctx, rec.ServiceName); err != nil {
			fields["error"] = err.Error()
			logging.Debug("Could not delete service", fields)
		}
	}
	return restored, failed
}

// SweepOrphanServices deletes services labelled as managed by this
// deployment that have no tunnel record. Services created within
// SweepGrace are left alone.
func (r *Reconciler) SweepOrphanServices(ctx context.Context) ([]string, error) {
	services, err := r.registrar.List(ctx, map[string]string{registrar.LabelManagedBy: r.cfg.Deployment})
	if err != nil {
		return nil, err
	}
	recs, err := r.records.ListTunnels(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(recs))
	for _, rec := range recs {
		known[rec.ServiceName] = true
	}

	now := time.Now()
	var deleted []string
	for _, svc := range services {
		if known[svc.Name] {
			continue
		}
		if !svc.CreatedAt.IsZero() && now.Sub(svc.CreatedAt) < r.cfg.SweepGrace {
			logging.Debug("PeriodicCheck - Skip recently created service", logging.Fields{"uuidcode": SweepID, "svc_name": svc.Name})
			continue
		}
		fields := logging.Fields{"uuidcode": SweepID, "svc_name": svc.Name}
		logging.Info("PeriodicCheck - Found unknown service pointing to the tunneling service. Delete it.", fields)
		if err := r.registrar.Delete(ctx, svc.Name); err != nil {
			fields["error"] = err.Error()
			logging.Error("PeriodicCheck - Could not delete unused svc", fields)
			continue
		}
		audit.Record(audit.Entry{EventType: audit.EventOrphanDeleted, ServerName: svc.Name, UUIDCode: SweepID, Success: true})
		deleted = append(deleted, svc.Name)
	}
	return deleted, nil
}

// StartOrphanSweep schedules SweepOrphanServices with a five field cron
// expression.
func (r *Reconciler) StartOrphanSweep(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := r.SweepOrphanServices(context.Background()); err != nil {
			logging.Error("PeriodicCheck - Could not sweep services", logging.Fields{"uuidcode": SweepID, "error": err.Error()})
		}
	})
	if err != nil {
		return fmt.Errorf("invalid orphan sweep schedule %q: %w", schedule, err)
	}
	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()
	c.Start()
	logging.Info("Orphan service sweep scheduled", logging.Fields{"uuidcode": SweepID, "schedule": schedule})
	return nil
}

// Stop halts the orphan sweep scheduler and waits for a running sweep.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RestartHost cancels and forwards every tunnel of hostname again, then
// stops and starts its remote session. Failures are logged, not returned.
func (r *Reconciler) RestartHost(ctx context.Context, hostname, cid string) error {
	logging.Info("Restart for all tunnels requested", logging.Fields{"uuidcode": cid, "hostname": hostname})
	recs, err := r.tunnels.ByHostname(ctx, hostname)
	if err != nil {
		return err
	}
	opts := tunnel.Options{CorrelationID: cid, AlertAdmins: true}
	for i := range recs {
		r.tunnels.Restart(ctx, &recs[i], opts)
	}
	ropts := tunnel.RemoteOptions{CorrelationID: cid, AlertAdmins: true}
	if err := r.remotes.Stop(ctx, hostname, ropts); err != nil {
		logging.Debug("Restart - could not stop remote", logging.Fields{"uuidcode": cid, "hostname": hostname, "error": err.Error()})
	}
	if err := r.remotes.Start(ctx, hostname, ropts); err != nil {
		logging.Debug("Restart - could not start remote", logging.Fields{"uuidcode": cid, "hostname": hostname, "error": err.Error()})
	}
	return nil
}
