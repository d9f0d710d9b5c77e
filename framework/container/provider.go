package container

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ── ServiceProvider interface ─────────────────────────────────────────────────

// ServiceProvider groups the bindings of one module of the application.
//
// Register is called first for every eager provider. Boot is called after
// all providers have been registered, making it safe to resolve other
// bindings inside Boot.
//
//	type StorageProvider struct{ container.BaseProvider }
//
//	func (p *StorageProvider) Register(s *container.Scope) error {
//	    return container.Singleton[Store](s, container.Provide(NewDiskStore))
//	}
//
//	func (p *StorageProvider) Boot(s *container.Scope) error {
//	    store, err := container.Resolve[Store](s)
//	    if err != nil {
//	        return err
//	    }
//	    return store.Migrate()
//	}
type ServiceProvider interface {
	// Register binds components into the scope.
	// Do NOT resolve other bindings here; use Boot for that.
	Register(s *Scope) error

	// Boot is called after all providers are registered.
	Boot(s *Scope) error

	// Provides returns the types this provider binds. Used for deferred
	// loading; eager providers may return nil.
	Provides() []reflect.Type

	// IsDeferred returns true if the provider should only be registered
	// when one of its Provides types is first looked up.
	IsDeferred() bool
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

// BaseProvider is an embeddable struct with no-op implementations of Boot,
// Provides and IsDeferred.
//
//	type MyProvider struct{ container.BaseProvider }
//	func (p *MyProvider) Register(s *container.Scope) error { ... }
type BaseProvider struct{}

func (p *BaseProvider) Boot(_ *Scope) error      { return nil }
func (p *BaseProvider) Provides() []reflect.Type { return nil }
func (p *BaseProvider) IsDeferred() bool         { return false }

// ── ProviderRegistry ──────────────────────────────────────────────────────────

// ProviderRegistry manages registration and booting of ServiceProviders,
// including deferred providers.
type ProviderRegistry struct {
	scope *Scope

	mu         sync.Mutex
	eager      []ServiceProvider
	deferred   map[reflect.Type]ServiceProvider
	registered map[ServiceProvider]bool
	booted     bool
}

// NewProviderRegistry creates a registry that registers into s.
func NewProviderRegistry(s *Scope) *ProviderRegistry {
	return &ProviderRegistry{
		scope:      s,
		deferred:   make(map[reflect.Type]ServiceProvider),
		registered: make(map[ServiceProvider]bool),
	}
}

// Register adds a provider and calls its Register method unless it is
// deferred. A provider registered after Boot is booted immediately.
// Registering the same provider twice is a no-op.
func (r *ProviderRegistry) Register(provider ServiceProvider) error {
	r.mu.Lock()
	if r.registered[provider] {
		r.mu.Unlock()
		return nil
	}
	r.registered[provider] = true

	if provider.IsDeferred() {
		apis := provider.Provides()
		for _, api := range apis {
			r.deferred[api] = provider
		}
		r.mu.Unlock()
		r.scope.Defer(apis, func() error { return r.load(provider) })
		r.scope.Logger().WithField("provider", fmt.Sprintf("%T", provider)).Debug("provider deferred")
		return nil
	}
	r.mu.Unlock()

	return r.activate(provider)
}

// load registers a deferred provider on first lookup of one of its types.
func (r *ProviderRegistry) load(provider ServiceProvider) error {
	r.mu.Lock()
	for api, p := range r.deferred {
		if p == provider {
			delete(r.deferred, api)
		}
	}
	r.mu.Unlock()

	return r.activate(provider)
}

func (r *ProviderRegistry) activate(provider ServiceProvider) error {
	if err := provider.Register(r.scope); err != nil {
		return fmt.Errorf("container: registering provider %T: %w", provider, err)
	}

	r.mu.Lock()
	r.eager = append(r.eager, provider)
	booted := r.booted
	r.mu.Unlock()

	r.scope.Logger().WithField("provider", fmt.Sprintf("%T", provider)).Debug("provider registered")

	if booted {
		if err := provider.Boot(r.scope); err != nil {
			return fmt.Errorf("container: booting provider %T: %w", provider, err)
		}
	}
	return nil
}

// Boot calls Boot on every registered provider. Calling it again is a no-op.
// Every provider is booted even when an earlier one fails; the failures are
// joined.
func (r *ProviderRegistry) Boot() error {
	r.mu.Lock()
	if r.booted {
		r.mu.Unlock()
		return nil
	}
	r.booted = true
	providers := append([]ServiceProvider(nil), r.eager...)
	r.mu.Unlock()

	var errs []error
	for _, provider := range providers {
		if err := provider.Boot(r.scope); err != nil {
			errs = append(errs, fmt.Errorf("container: booting provider %T: %w", provider, err))
		}
	}
	return errors.Join(errs...)
}

// Booted returns true if Boot has been called.
func (r *ProviderRegistry) Booted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.booted
}

// Providers returns the providers whose Register has run.
func (r *ProviderRegistry) Providers() []ServiceProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ServiceProvider(nil), r.eager...)
}

// Pending returns the types still waiting on a deferred provider.
func (r *ProviderRegistry) Pending() []reflect.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]reflect.Type, 0, len(r.deferred))
	for api := range r.deferred {
		out = append(out, api)
	}
	return out
}
