package dialer

import (
	"context"
	"sort"
	"sync"
)

// Repository persists campaigns. Update runs fn under a per-campaign lock and
// writes the result only when fn returns nil.
type Repository interface {
	Create(ctx context.Context, c Campaign) error
	Get(ctx context.Context, id string) (Campaign, error)
	List(ctx context.Context, organizationID string) ([]Campaign, error)
	ListActive(ctx context.Context) ([]Campaign, error)
	// GetByFromNumber finds the blended campaign answering on number.
	GetByFromNumber(ctx context.Context, number string) (Campaign, error)
	Update(ctx context.Context, id string, fn func(*Campaign) error) (Campaign, error)
}

// MemoryRepo is a mutex-guarded Repository for tests and local runs.
type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Campaign{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = cloneCampaign(c)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (r *MemoryRepo) List(ctx context.Context, organizationID string) ([]Campaign, error) {
	return r.filter(func(c Campaign) bool { return organizationID == "" || c.OrganizationID == organizationID }), nil
}

func (r *MemoryRepo) ListActive(ctx context.Context) ([]Campaign, error) {
	return r.filter(func(c Campaign) bool { return c.Active }), nil
}

func (r *MemoryRepo) GetByFromNumber(ctx context.Context, number string) (Campaign, error) {
	matches := r.filter(func(c Campaign) bool { return c.Type == TypeBlended && c.FromNumber == number })
	if len(matches) == 0 {
		return Campaign{}, ErrNotFound
	}
	// prefer a running campaign, then the newest
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Active && !matches[j].Active })
	return matches[0], nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, fn func(*Campaign) error) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	next := cloneCampaign(c)
	if err := fn(&next); err != nil {
		return cloneCampaign(c), err
	}
	r.byID[id] = next
	return cloneCampaign(next), nil
}

func (r *MemoryRepo) filter(keep func(Campaign) bool) []Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Campaign, 0)
	for _, c := range r.byID {
		if keep(c) {
			out = append(out, cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func cloneCampaign(c Campaign) Campaign {
	c.Config.InboundTargets = append([]WeightedTarget(nil), c.Config.InboundTargets...)
	if c.StartedAt != nil {
		t := *c.StartedAt
		c.StartedAt = &t
	}
	if c.StoppedAt != nil {
		t := *c.StoppedAt
		c.StoppedAt = &t
	}
	return c
}
