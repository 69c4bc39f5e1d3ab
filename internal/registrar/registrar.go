// Package registrar keeps one cluster network service per active tunnel so
// that other workloads can reach the forwarded port through the replica
// that owns it.
package registrar

import (
	"context"
	"strings"
	"time"
)

const (
	LabelName      = "name"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelApp       = "app"
	LabelPodName   = "statefulset.kubernetes.io/pod-name"
)

// ServiceSpec describes the service to create for a tunnel.
type ServiceSpec struct {
	Name string
	Port int
	// TargetPort is the tunnel's local port on the owning pod.
	TargetPort int
	OwnerPod   string
	Labels     map[string]string
}

// Descriptor is a registered service as reported by the backend.
type Descriptor struct {
	Name       string            `json:"name"`
	Port       int               `json:"port"`
	TargetPort int               `json:"target_port"`
	OwnerPod   string            `json:"owner_pod"`
	Labels     map[string]string `json:"labels"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Registrar creates and removes tunnel services.
type Registrar interface {
	// Create registers spec, replacing a service with the same name.
	Create(ctx context.Context, spec ServiceSpec) (*Descriptor, error)
	// Delete removes the named service. A missing service is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the services whose labels match every pair in selector.
	List(ctx context.Context, selector map[string]string) ([]Descriptor, error)
	// ReplicaPods returns the pod names of this deployment's replicas in
	// ordinal order.
	ReplicaPods(ctx context.Context) ([]string, error)
	BackendName() string
}

// ServiceLabels merges caller labels with the labels every tunnel service
// carries. The fixed labels win over caller supplied ones.
func ServiceLabels(name, deployment string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		out[k] = v
	}
	out[LabelName] = name
	out[LabelManagedBy] = deployment
	return out
}

const maxServiceNameLen = 63

// ServiceName derives a valid DNS-1035 service name from a server name:
// lower case, invalid characters replaced by '-', starting with a letter and
// at most 63 characters long.
func ServiceName(serverName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(serverName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		name = "svc-" + name
	}
	if len(name) > maxServiceNameLen {
		name = name[:maxServiceNameLen]
	}
	return strings.TrimRight(name, "-")
}

func matches(labels, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}
