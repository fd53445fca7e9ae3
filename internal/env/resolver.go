package env

import (
	"context"
	"fmt"
	"sync"
)

// ResolvedContent is what a Resolver returns for a module/resolver/input
// import source (spec.md §4.4 step 4 "Fetch").
type ResolvedContent struct {
	Content  string
	Hash     string
	CacheTTL int // milliseconds; 0 means "do not cache"
}

// Resolver fetches content for one import-source classification
// (@user/name, @local/x, @INPUT, @TIME, ...). The provider-registry shape
// below is lifted 1:1 from pkg/llm/client.go's ProviderFactory/RegisterProvider/
// NewClient, generalizing "provider name → Client factory" into
// "resolver name → Resolver instance".
type Resolver interface {
	Resolve(ctx context.Context, ref string) (ResolvedContent, error)
}

// ResolverFactory is invoked lazily, mirroring llm.ProviderFactory, so a
// resolver that needs per-call state (the current environment, a seeded
// clock) can be constructed fresh per registration site instead of shared.
type ResolverFactory func() (Resolver, error)

// ResolverRegistry maps resolver names (e.g. "@INPUT", "@TIME", "@local",
// "@user") to factories.
type ResolverRegistry struct {
	mu       sync.RWMutex
	registry map[string]ResolverFactory
}

// NewResolverRegistry creates an empty registry.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{registry: make(map[string]ResolverFactory)}
}

// Register associates a factory with a resolver name. Call from init()-style
// setup, mirroring llm.RegisterProvider.
func (r *ResolverRegistry) Register(name string, factory ResolverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[name] = factory
}

// Resolve constructs (or reconstructs) the named resolver and resolves ref.
func (r *ResolverRegistry) Resolve(ctx context.Context, name, ref string) (ResolvedContent, error) {
	r.mu.RLock()
	factory, ok := r.registry[name]
	r.mu.RUnlock()
	if !ok {
		return ResolvedContent{}, fmt.Errorf("no resolver registered for %q — did you register it with ResolverRegistry.Register?", name)
	}
	resolver, err := factory()
	if err != nil {
		return ResolvedContent{}, fmt.Errorf("resolver %q: construct: %w", name, err)
	}
	return resolver.Resolve(ctx, ref)
}

// Has reports whether a resolver is registered under name.
func (r *ResolverRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.registry[name]
	return ok
}
