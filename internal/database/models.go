package database

import "time"

// Tunnel is the persistent record of one port forward and the cluster
// service that exposes it. ServerName is unique across the deployment.
type Tunnel struct {
	ServerName  string `gorm:"primaryKey;size:255" json:"servername"`
	Hostname    string `gorm:"not null;index" json:"hostname"`
	LocalPort   int    `gorm:"not null" json:"local_port"`
	ServiceName string `gorm:"not null" json:"svc_name"`
	ServicePort int    `gorm:"not null" json:"svc_port"`
	TargetNode  string `gorm:"not null" json:"target_node"`
	TargetPort  int    `gorm:"not null" json:"target_port"`
	OwnerPod    string `gorm:"not null;index" json:"owner_pod"`

	// Labels are the caller supplied service labels, kept so the service can
	// be registered again on restore.
	Labels    map[string]string `gorm:"serializer:json" json:"labels,omitempty"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// RemoteStatus is the last known state of a host's remote session.
type RemoteStatus struct {
	Hostname  string    `gorm:"primaryKey;size:255" json:"hostname"`
	Running   bool      `gorm:"not null;default:false" json:"running"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an API client authenticated with HTTP basic auth.
type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserGroup grants a user access to the endpoints guarded by Group.
type UserGroup struct {
	UserID uint   `gorm:"primaryKey" json:"user_id"`
	Group  string `gorm:"primaryKey;size:128" json:"group"`
}

// AuditLog records one lifecycle operation requested through the API.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType  string    `gorm:"not null;index;size:64" json:"event_type"`
	ServerName string    `gorm:"index;size:255" json:"servername,omitempty"`
	Hostname   string    `gorm:"index;size:255" json:"hostname,omitempty"`
	Username   string    `gorm:"size:64" json:"username,omitempty"`
	SourceIP   string    `gorm:"size:64" json:"source_ip,omitempty"`
	UUIDCode   string    `gorm:"size:64" json:"uuidcode,omitempty"`
	Success    bool      `gorm:"not null" json:"success"`
	Details    string    `gorm:"type:text" json:"details,omitempty"`
	Duration   int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
