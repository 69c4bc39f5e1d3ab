// Package audit keeps a queryable trail of the tunnel and remote session
// operations requested through the API.
package audit

import (
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/claworc/tunneling/internal/database"
	"github.com/gluk-w/claworc/tunneling/internal/logutil"
)

// Event types.
const (
	EventTunnelStart   = "tunnel_start"
	EventTunnelStop    = "tunnel_stop"
	EventRemoteStart   = "remote_start"
	EventRemoteStop    = "remote_stop"
	EventHostRestart   = "host_restart"
	EventOrphanDeleted = "orphan_service_deleted"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 30

// Entry contains the fields needed to create an audit log entry.
type Entry struct {
	EventType  string
	ServerName string
	Hostname   string
	Username   string
	SourceIP   string
	UUIDCode   string
	Success    bool
	Details    string
	Duration   time.Duration
}

// Auditor writes audit records to the database and the log.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor returns an Auditor writing to db. If retentionDays is 0,
// DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{db: db, retentionDays: retentionDays, nowFn: time.Now}
}

func (a *Auditor) Log(e Entry) error {
	rec := database.AuditLog{
		EventType:  e.EventType,
		ServerName: e.ServerName,
		Hostname:   e.Hostname,
		Username:   e.Username,
		SourceIP:   e.SourceIP,
		UUIDCode:   e.UUIDCode,
		Success:    e.Success,
		Details:    e.Details,
		Duration:   e.Duration.Milliseconds(),
	}

	if err := a.db.Create(&rec).Error; err != nil {
		log.Printf("[audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[audit] %s servername=%s hostname=%s user=%s success=%v uuidcode=%s",
		e.EventType,
		logutil.SanitizeForLog(e.ServerName),
		logutil.SanitizeForLog(e.Hostname),
		logutil.SanitizeForLog(e.Username),
		e.Success,
		e.UUIDCode,
	)
	return nil
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	EventType  string
	ServerName string
	Hostname   string
	Since      *time.Time
	Limit      int
	Offset     int
}

type QueryResult struct {
	Entries []database.AuditLog `json:"entries"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Query returns the newest matching entries first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&database.AuditLog{})
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.ServerName != "" {
		tx = tx.Where("server_name = ?", opts.ServerName)
	}
	if opts.Hostname != "" {
		tx = tx.Where("hostname = ?", opts.Hostname)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	entries := []database.AuditLog{}
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// PurgeOlderThan removes entries older than days, or older than the
// retention period when days is 0. It returns the number of deleted rows.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	res := a.db.Where("created_at < ?", cutoff).Delete(&database.AuditLog{})
	if res.Error != nil {
		log.Printf("[audit] purge failed: %v", res.Error)
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("[audit] purged %d audit log entries older than %d days", res.RowsAffected, days)
	}
	return res.RowsAffected, nil
}

func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc replaces the clock used by PurgeOlderThan.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
