package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hisabimbola/ostrom-bridge/clients/ostrom"
	"github.com/hisabimbola/ostrom-bridge/service"
)

// SetupConfig carries everything needed to bring up one integration
// instance. Credential fields are validated for presence only.
type SetupConfig struct {
	ClientID     string
	ClientSecret string
	ZipCode      string
	AuthURL      string
	APIURL       string
	Location     *time.Location
}

// instance pairs a coordinator with the API client whose connection it
// owns, so teardown can release the client exactly once.
type instance struct {
	coordinator *service.Coordinator
	client      *ostrom.Client
}

// Registry is an explicit mapping from zip code to coordinator handle.
// Instances are registered at setup and located here instead of through
// any ambient global state.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*instance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*instance)}
}

// Setup constructs the client and coordinator for one zip code, performs
// the eager first refresh, and registers the instance. A failed first
// refresh still registers the instance (the scheduler keeps retrying on
// cadence) and is returned so the caller can surface it.
func (r *Registry) Setup(ctx context.Context, cfg SetupConfig) (*service.Coordinator, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client id and secret are required")
	}
	if cfg.ZipCode == "" {
		return nil, fmt.Errorf("zip code is required")
	}

	r.mu.Lock()
	if _, exists := r.instances[cfg.ZipCode]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("instance for zip %s already registered", cfg.ZipCode)
	}
	client := ostrom.New(cfg.AuthURL, cfg.APIURL, cfg.ClientID, cfg.ClientSecret)
	coordinator := service.NewCoordinator(client, cfg.ZipCode, cfg.Location)
	r.instances[cfg.ZipCode] = &instance{coordinator: coordinator, client: client}
	r.mu.Unlock()

	if _, err := coordinator.Refresh(ctx); err != nil {
		slog.Warn("first refresh failed, will retry on schedule",
			"zip", cfg.ZipCode, "error", err)
		return coordinator, err
	}

	slog.Info("instance ready", "name", coordinator.DisplayName())
	return coordinator, nil
}

// Lookup returns the coordinator for a zip code.
func (r *Registry) Lookup(zipCode string) (*service.Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[zipCode]
	if !ok {
		return nil, false
	}
	return inst.coordinator, true
}

// Resolve returns the coordinator for a zip code, or any registered
// coordinator when zipCode is empty.
func (r *Registry) Resolve(zipCode string) (*service.Coordinator, bool) {
	if zipCode != "" {
		return r.Lookup(zipCode)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.instances {
		return inst.coordinator, true
	}
	return nil, false
}

// All returns every registered coordinator.
func (r *Registry) All() []*service.Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coordinators := make([]*service.Coordinator, 0, len(r.instances))
	for _, inst := range r.instances {
		coordinators = append(coordinators, inst.coordinator)
	}
	return coordinators
}

// Teardown removes one instance and releases its client.
func (r *Registry) Teardown(zipCode string) {
	r.mu.Lock()
	inst, ok := r.instances[zipCode]
	if ok {
		delete(r.instances, zipCode)
	}
	r.mu.Unlock()

	if ok {
		inst.client.Close()
		slog.Info("instance torn down", "zip", zipCode)
	}
}

// Close tears down every registered instance.
func (r *Registry) Close() {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]*instance)
	r.mu.Unlock()

	for zip, inst := range instances {
		inst.client.Close()
		slog.Debug("instance torn down", "zip", zip)
	}
}
