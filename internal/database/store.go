package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a tunnel or remote status record is missing.
var ErrNotFound = errors.New("record not found")

// Store persists tunnel and remote status records. Every write touches a
// single primary key, so concurrent requests need no further locking.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Store) GetTunnel(ctx context.Context, serverName string) (*Tunnel, error) {
	var t Tunnel
	if err := s.db.WithContext(ctx).Where("server_name = ?", serverName).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// SaveTunnel inserts t or replaces the record with the same server name.
func (s *Store) SaveTunnel(ctx context.Context, t *Tunnel) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(t).Error
	if err != nil {
		return fmt.Errorf("save tunnel %s: %w", t.ServerName, err)
	}
	return nil
}

// DeleteTunnel removes the record; a missing record is not an error.
func (s *Store) DeleteTunnel(ctx context.Context, serverName string) error {
	return s.db.WithContext(ctx).Where("server_name = ?", serverName).Delete(&Tunnel{}).Error
}

func (s *Store) ListTunnels(ctx context.Context) ([]Tunnel, error) {
	var ts []Tunnel
	if err := s.db.WithContext(ctx).Order("server_name").Find(&ts).Error; err != nil {
		return nil, err
	}
	return ts, nil
}

func (s *Store) ListTunnelsByPod(ctx context.Context, pod string) ([]Tunnel, error) {
	var ts []Tunnel
	if err := s.db.WithContext(ctx).Where("owner_pod = ?", pod).Order("server_name").Find(&ts).Error; err != nil {
		return nil, err
	}
	return ts, nil
}

func (s *Store) ListTunnelsByHostname(ctx context.Context, hostname string) ([]Tunnel, error) {
	var ts []Tunnel
	if err := s.db.WithContext(ctx).Where("hostname = ?", hostname).Order("server_name").Find(&ts).Error; err != nil {
		return nil, err
	}
	return ts, nil
}

// UpsertRemoteStatus records the current state of a host's remote session.
func (s *Store) UpsertRemoteStatus(ctx context.Context, hostname string, running bool) error {
	rs := RemoteStatus{Hostname: hostname, Running: running, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hostname"}},
		DoUpdates: clause.AssignmentColumns([]string{"running", "updated_at"}),
	}).Create(&rs).Error
	if err != nil {
		return fmt.Errorf("save remote status %s: %w", hostname, err)
	}
	return nil
}

func (s *Store) GetRemoteStatus(ctx context.Context, hostname string) (*RemoteStatus, error) {
	var rs RemoteStatus
	if err := s.db.WithContext(ctx).Where("hostname = ?", hostname).First(&rs).Error; err != nil {
		return nil, notFound(err)
	}
	return &rs, nil
}

func (s *Store) ListRemoteStatuses(ctx context.Context) ([]RemoteStatus, error) {
	var out []RemoteStatus
	if err := s.db.WithContext(ctx).Order("hostname").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
