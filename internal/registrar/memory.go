package registrar

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryRegistrar keeps services in process memory. It backs local runs
// outside a cluster and tests.
type MemoryRegistrar struct {
	mu         sync.Mutex
	services   map[string]Descriptor
	deployment string
	pods       []string

	// Clock stamps CreatedAt of new services. Defaults to time.Now.
	Clock func() time.Time
}

// NewMemory returns an empty registrar whose replica set is pods.
func NewMemory(deployment string, pods ...string) *MemoryRegistrar {
	return &MemoryRegistrar{
		services:   make(map[string]Descriptor),
		deployment: deployment,
		pods:       pods,
		Clock:      time.Now,
	}
}

func (m *MemoryRegistrar) BackendName() string {
	return "memory"
}

func (m *MemoryRegistrar) Create(_ context.Context, spec ServiceSpec) (*Descriptor, error) {
	d := Descriptor{
		Name:       spec.Name,
		Port:       spec.Port,
		TargetPort: spec.TargetPort,
		OwnerPod:   spec.OwnerPod,
		Labels:     ServiceLabels(spec.Name, m.deployment, spec.Labels),
		CreatedAt:  m.Clock(),
	}
	m.mu.Lock()
	m.services[spec.Name] = d
	m.mu.Unlock()
	return &d, nil
}

func (m *MemoryRegistrar) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.services, name)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistrar) List(_ context.Context, selector map[string]string) ([]Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Descriptor
	for _, d := range m.services {
		if matches(d.Labels, selector) {
			d.Labels = maps.Clone(d.Labels)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRegistrar) ReplicaPods(context.Context) ([]string, error) {
	return append([]string(nil), m.pods...), nil
}

// Get returns the named service.
func (m *MemoryRegistrar) Get(name string) (Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.services[name]
	return d, ok
}
