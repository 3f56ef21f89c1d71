// Package registry resolves which provider serves a model for a metered call.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/davidbz/creditmeter/internal/domain"
)

// Registry implements domain.ProviderRegistry. Providers are consulted in
// registration order, so the first provider to advertise a model owns it.
type Registry struct {
	mu      sync.RWMutex
	ordered []domain.Provider
	byName  map[string]domain.Provider
	byModel map[string]domain.Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]domain.Provider),
		byModel: make(map[string]domain.Provider),
	}
}

// Register adds a provider and indexes the models it advertises.
func (r *Registry) Register(ctx context.Context, provider domain.Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.ordered = append(r.ordered, provider)
	r.byName[name] = provider
	for _, model := range provider.SupportedModels(ctx) {
		if _, claimed := r.byModel[model]; !claimed {
			r.byModel[model] = provider
		}
	}

	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(_ context.Context, providerName string) (domain.Provider, error) {
	if providerName == "" {
		return nil, errors.New("provider name cannot be empty")
	}

	r.mu.RLock()
	provider, exists := r.byName[providerName]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, providerName)
	}
	return provider, nil
}

// List returns provider names in registration order.
func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ordered))
	for _, provider := range r.ordered {
		names = append(names, provider.Name())
	}
	return names, nil
}

// GetByModel returns the provider that owns model. Models nobody advertises
// go to the first provider that accepts them.
func (r *Registry) GetByModel(ctx context.Context, model string) (domain.Provider, error) {
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, ok := r.byModel[model]; ok {
		return provider, nil
	}
	for _, provider := range r.ordered {
		if provider.IsModelSupported(ctx, model) {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("%w: no provider found for model: %s", domain.ErrProviderNotFound, model)
}
