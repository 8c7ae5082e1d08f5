package telephony

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Registry resolves the provider configured for a campaign.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	defaultName string
}

func NewRegistry(defaultName string, providers ...Provider) *Registry {
	r := &Registry{providers: map[string]Provider{}, defaultName: defaultName}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider; an empty name selects the default.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RateLimited paces call placement through lim. Call control on existing
// calls is never throttled.
func RateLimited(p Provider, lim *rate.Limiter) Provider {
	if lim == nil {
		return p
	}
	return &rateLimited{Provider: p, lim: lim}
}

type rateLimited struct {
	Provider
	lim *rate.Limiter
}

func (r *rateLimited) PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if err := r.lim.Wait(ctx); err != nil {
		return OutboundCallResult{}, &ProviderError{Provider: r.Name(), Op: "place", Err: err}
	}
	return r.Provider.PlaceOutboundCall(ctx, req)
}
