package registrar

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gluk-w/claworc/tunneling/internal/config"
)

var (
	current Registrar
	mu      sync.RWMutex
)

// Init selects the backend named by config.Cfg.RegistrarBackend. "auto" tries
// Kubernetes and falls back to the in-memory registrar.
func Init(ctx context.Context) error {
	backend := config.Cfg.RegistrarBackend
	if backend == "" {
		backend = "auto"
	}

	if backend == "auto" || backend == "kubernetes" {
		k8s, err := ConnectKubernetes(ctx, config.Cfg.K8sNamespace, config.Cfg.DeploymentName)
		if err == nil {
			set(k8s)
			log.Println("Registrar: using Kubernetes backend")
			return nil
		}
		log.Printf("Kubernetes backend unavailable: %v", err)
		if backend == "kubernetes" {
			return fmt.Errorf("no registrar backend available (tried: %s)", backend)
		}
	}

	if backend == "auto" || backend == "memory" {
		set(NewMemory(config.Cfg.DeploymentName, config.Cfg.PodName))
		if backend == "auto" {
			log.Println("WARNING: Registrar: using in-memory backend, services are not published to the cluster")
		} else {
			log.Println("Registrar: using in-memory backend")
		}
		return nil
	}

	return fmt.Errorf("unknown registrar backend %q", backend)
}

func set(r Registrar) {
	mu.Lock()
	current = r
	mu.Unlock()
}

func Get() Registrar {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
