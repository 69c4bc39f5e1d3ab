// Package tunnel drives the lifecycle of port forwards and remote sessions
// over multiplexed ssh control connections, and keeps the persisted records
// and cluster services in line with them.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gluk-w/claworc/tunneling/internal/database"
	"github.com/gluk-w/claworc/tunneling/internal/logging"
	"github.com/gluk-w/claworc/tunneling/internal/registrar"
	"github.com/gluk-w/claworc/tunneling/internal/sshcmd"
	"github.com/gluk-w/claworc/tunneling/internal/sshexec"
)

const forwardAttempts = 3

// Records is the persistence the tunnel lifecycle needs. *database.Store
// implements it.
type Records interface {
	GetTunnel(ctx context.Context, serverName string) (*database.Tunnel, error)
	SaveTunnel(ctx context.Context, t *database.Tunnel) error
	DeleteTunnel(ctx context.Context, serverName string) error
	ListTunnels(ctx context.Context) ([]database.Tunnel, error)
	ListTunnelsByPod(ctx context.Context, pod string) ([]database.Tunnel, error)
	ListTunnelsByHostname(ctx context.Context, hostname string) ([]database.Tunnel, error)
}

// Options control how a lifecycle call reports failures.
type Options struct {
	CorrelationID string
	// AlertAdmins escalates exhausted retries to CRITICAL.
	AlertAdmins bool
	// RaiseOnFailure returns step failures to the caller. Without it they are
	// logged and the call continues.
	RaiseOnFailure bool
}

// StartRequest describes a tunnel to create.
type StartRequest struct {
	ServerName string
	Hostname   string
	// LocalPort 0 picks a free port.
	LocalPort int
	// ServiceName defaults to a name derived from ServerName.
	ServiceName string
	ServicePort int
	TargetNode  string
	TargetPort  int
	Labels      map[string]string

	CorrelationID string
}

// Status is a tunnel record together with the local liveness probe.
type Status struct {
	database.Tunnel
	Running bool `json:"running"`
}

type Manager struct {
	exec      *sshexec.Executor
	guard     *sshexec.Guard
	records   Records
	registrar registrar.Registrar
	pod       string

	// AllocatePort and PortInUse default to FreeLocalPort and PortInUse.
	AllocatePort func() (int, error)
	PortInUse    func(port int) bool
}

func NewManager(exec *sshexec.Executor, records Records, reg registrar.Registrar, pod string) *Manager {
	return &Manager{
		exec:         exec,
		guard:        sshexec.NewGuard(exec),
		records:      records,
		registrar:    reg,
		pod:          pod,
		AllocatePort: FreeLocalPort,
		PortInUse:    PortInUse,
	}
}

// Pod is the replica identity recorded as owner of new tunnels.
func (m *Manager) Pod() string { return m.pod }

func params(t *database.Tunnel) sshcmd.Params {
	return sshcmd.Params{Hostname: t.Hostname, LocalPort: t.LocalPort, TargetNode: t.TargetNode, TargetPort: t.TargetPort}
}

func logFields(t *database.Tunnel, cid string) logging.Fields {
	return logging.Fields{
		"uuidcode":    cid,
		"servername":  t.ServerName,
		"hostname":    t.Hostname,
		"local_port":  t.LocalPort,
		"svc_name":    t.ServiceName,
		"target_node": t.TargetNode,
		"target_port": t.TargetPort,
	}
}

func validate(req StartRequest) error {
	switch {
	case req.ServerName == "":
		return invalid("start tunnel", "servername is required")
	case req.Hostname == "":
		return invalid("start tunnel", "hostname is required")
	case req.TargetNode == "":
		return invalid("start tunnel", "target_node is required")
	case req.TargetPort < 1 || req.TargetPort > 65535:
		return invalid("start tunnel", "target_port %d out of range", req.TargetPort)
	case req.ServicePort < 1 || req.ServicePort > 65535:
		return invalid("start tunnel", "svc_port %d out of range", req.ServicePort)
	case req.LocalPort < 0 || req.LocalPort > 65535:
		return invalid("start tunnel", "local_port %d out of range", req.LocalPort)
	}
	return nil
}

// Start creates the tunnel described by req. A previous tunnel with the same
// server name is stopped and removed first. The record is persisted only
// after the forward and the service registration both succeeded.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*database.Tunnel, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	cid := req.CorrelationID

	prev, err := m.records.GetTunnel(ctx, req.ServerName)
	switch {
	case err == nil:
		logging.Info("Replace existing tunnel", logFields(prev, cid))
		m.Stop(ctx, prev, Options{CorrelationID: cid})
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("load tunnel %s: %w", req.ServerName, err)
	}

	port := req.LocalPort
	if port == 0 {
		if port, err = m.AllocatePort(); err != nil {
			return nil, newError(ErrTunnelStartFailed, "start tunnel", req.Hostname, cid, err)
		}
	}
	svcName := req.ServiceName
	if svcName == "" {
		svcName = registrar.ServiceName(req.ServerName)
	}

	rec := &database.Tunnel{
		ServerName:  req.ServerName,
		Hostname:    req.Hostname,
		LocalPort:   port,
		ServiceName: svcName,
		ServicePort: req.ServicePort,
		TargetNode:  req.TargetNode,
		TargetPort:  req.TargetPort,
		OwnerPod:    m.pod,
		Labels:      req.Labels,
		CreatedAt:   time.Now(),
	}
	opts := Options{CorrelationID: cid, AlertAdmins: true, RaiseOnFailure: true}

	if err := m.forward(ctx, rec, opts); err != nil {
		if !errors.Is(err, ErrConnectionUnavailable) {
			m.cancel(ctx, rec, Options{CorrelationID: cid})
		}
		return nil, err
	}
	if err := m.register(ctx, rec, opts); err != nil {
		m.cancel(ctx, rec, Options{CorrelationID: cid})
		return nil, err
	}
	if err := m.records.SaveTunnel(ctx, rec); err != nil {
		m.cancel(ctx, rec, Options{CorrelationID: cid})
		m.unregister(ctx, rec, Options{CorrelationID: cid})
		return nil, err
	}
	logging.Info("Tunnel started", logFields(rec, cid))
	return rec, nil
}

// forward runs the guarded forward for rec.
func (m *Manager) forward(ctx context.Context, rec *database.Tunnel, opts Options) error {
	p := params(rec)
	err := m.guard.Run(ctx, sshexec.GuardRequest{
		Kind:          sshcmd.KindTunnel,
		Params:        p,
		CorrelationID: opts.CorrelationID,
		AlertAdmins:   opts.AlertAdmins,
	}, func(ctx context.Context) error {
		_, err := m.exec.Execute(ctx, sshexec.Request{
			Kind:          sshcmd.KindTunnel,
			Action:        sshcmd.ActionForward,
			Params:        p,
			MaxAttempts:   forwardAttempts,
			AlertAdmins:   opts.AlertAdmins,
			CorrelationID: opts.CorrelationID,
			Message:       "SSH start tunnel",
		})
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, sshexec.ErrConnectionUnavailable) {
		return newError(ErrConnectionUnavailable, "start tunnel", rec.Hostname, opts.CorrelationID, err)
	}
	logging.Alert(opts.AlertAdmins, "Could not start tunnel", logFields(rec, opts.CorrelationID))
	return newError(ErrTunnelStartFailed, "start tunnel", rec.Hostname, opts.CorrelationID, err)
}

// cancel runs the guarded cancel for rec.
func (m *Manager) cancel(ctx context.Context, rec *database.Tunnel, opts Options) error {
	p := params(rec)
	err := m.guard.Run(ctx, sshexec.GuardRequest{
		Kind:          sshcmd.KindTunnel,
		Params:        p,
		CorrelationID: opts.CorrelationID,
		AlertAdmins:   opts.AlertAdmins,
	}, func(ctx context.Context) error {
		_, err := m.exec.Execute(ctx, sshexec.Request{
			Kind:          sshcmd.KindTunnel,
			Action:        sshcmd.ActionCancel,
			Params:        p,
			MaxAttempts:   1,
			AlertAdmins:   opts.AlertAdmins,
			CorrelationID: opts.CorrelationID,
			Message:       "SSH stop tunnel",
		})
		return err
	})
	if err == nil {
		return nil
	}
	logging.Alert(opts.AlertAdmins, "Could not stop ssh tunnel", logFields(rec, opts.CorrelationID))
	if errors.Is(err, sshexec.ErrConnectionUnavailable) {
		return newError(ErrConnectionUnavailable, "stop tunnel", rec.Hostname, opts.CorrelationID, err)
	}
	return newError(ErrTunnelStopFailed, "stop tunnel", rec.Hostname, opts.CorrelationID, err)
}

func (m *Manager) register(ctx context.Context, rec *database.Tunnel, opts Options) error {
	fields := logFields(rec, opts.CorrelationID)
	fields["backend"] = m.registrar.BackendName()
	logging.Debug("Call registrar to create svc ...", fields)
	_, err := m.registrar.Create(ctx, registrar.ServiceSpec{
		Name:       rec.ServiceName,
		Port:       rec.ServicePort,
		TargetPort: rec.LocalPort,
		OwnerPod:   rec.OwnerPod,
		Labels:     rec.Labels,
	})
	if err != nil {
		fields["error"] = err.Error()
		logging.Alert(opts.AlertAdmins, "Call registrar to create svc failed", fields)
		return newError(ErrServiceRegistrationFailed, "create service", rec.Hostname, opts.CorrelationID, err)
	}
	logging.Info("Call registrar to create svc done", fields)
	return nil
}

func (m *Manager) unregister(ctx context.Context, rec *database.Tunnel, opts Options) error {
	fields := logFields(rec, opts.CorrelationID)
	fields["backend"] = m.registrar.BackendName()
	logging.Debug("Call registrar to delete svc ...", fields)
	if err := m.registrar.Delete(ctx, rec.ServiceName); err != nil {
		fields["error"] = err.Error()
		logging.Alert(opts.AlertAdmins, "Call registrar to delete svc failed", fields)
		return newError(ErrServiceRegistrationFailed, "delete service", rec.Hostname, opts.CorrelationID, err)
	}
	logging.Info("Call registrar to delete svc done", fields)
	return nil
}

// Stop cancels the forward, deletes the service and deletes the record. Each
// step runs regardless of the outcome of the previous one, so the record is
// always cleared. Step failures are returned only with RaiseOnFailure; a
// failure to delete the record is always returned.
func (m *Manager) Stop(ctx context.Context, rec *database.Tunnel, opts Options) error {
	cancelErr := m.cancel(ctx, rec, opts)
	svcErr := m.unregister(ctx, rec, opts)
	if err := m.records.DeleteTunnel(ctx, rec.ServerName); err != nil {
		return fmt.Errorf("delete tunnel %s: %w", rec.ServerName, err)
	}
	logging.Info("Tunnel stopped", logFields(rec, opts.CorrelationID))
	if opts.RaiseOnFailure {
		return errors.Join(cancelErr, svcErr)
	}
	return nil
}

// Delete stops the tunnel stored under serverName.
func (m *Manager) Delete(ctx context.Context, serverName string, opts Options) error {
	rec, err := m.records.GetTunnel(ctx, serverName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return newError(ErrNotFound, "delete tunnel", "", opts.CorrelationID, fmt.Errorf("tunnel %s", serverName))
		}
		return err
	}
	return m.Stop(ctx, rec, opts)
}

// Get returns the stored record with its liveness.
func (m *Manager) Get(ctx context.Context, serverName string) (*Status, error) {
	rec, err := m.records.GetTunnel(ctx, serverName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newError(ErrNotFound, "get tunnel", "", "", fmt.Errorf("tunnel %s", serverName))
		}
		return nil, err
	}
	return &Status{Tunnel: *rec, Running: m.PortInUse(rec.LocalPort)}, nil
}

// Status reports whether the tunnel's local port accepts connections.
func (m *Manager) Status(ctx context.Context, serverName string) (bool, error) {
	st, err := m.Get(ctx, serverName)
	if err != nil {
		return false, err
	}
	return st.Running, nil
}

// List returns every stored tunnel with its liveness.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	recs, err := m.records.ListTunnels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(recs))
	for i, r := range recs {
		out[i] = Status{Tunnel: r, Running: m.PortInUse(r.LocalPort)}
	}
	return out, nil
}

// Resume re-establishes the forward of a stored tunnel on its stored port and
// registers its service again. The record itself is left untouched.
func (m *Manager) Resume(ctx context.Context, rec *database.Tunnel, opts Options) error {
	if err := m.forward(ctx, rec, opts); err != nil {
		return err
	}
	if err := m.register(ctx, rec, opts); err != nil {
		if opts.RaiseOnFailure {
			return err
		}
	}
	return nil
}

// Restart cancels and forwards the tunnel again without touching its service
// or record.
func (m *Manager) Restart(ctx context.Context, rec *database.Tunnel, opts Options) error {
	logging.Debug("Restart tunnel", logFields(rec, opts.CorrelationID))
	cancelErr := m.cancel(ctx, rec, opts)
	fwdErr := m.forward(ctx, rec, opts)
	if opts.RaiseOnFailure {
		return errors.Join(cancelErr, fwdErr)
	}
	return nil
}

// ByHostname lists the stored tunnels of one host.
func (m *Manager) ByHostname(ctx context.Context, hostname string) ([]database.Tunnel, error) {
	return m.records.ListTunnelsByHostname(ctx, hostname)
}

// Owned lists the stored tunnels started by this replica.
func (m *Manager) Owned(ctx context.Context) ([]database.Tunnel, error) {
	return m.records.ListTunnelsByPod(ctx, m.pod)
}

// Registrar returns the service registrar backing this manager.
func (m *Manager) Registrar() registrar.Registrar { return m.registrar }
