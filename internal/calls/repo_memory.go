package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu          sync.Mutex
	byID        map[string]*Call
	order       []string
	transcripts map[string][]Transcript
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]*Call{}, transcripts: map[string][]Transcript{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		return ErrInvalidCall
	}
	if c.ProviderCallID != "" && !c.Status.Terminal() {
		for _, existing := range r.byID {
			if existing.Provider == c.Provider && existing.ProviderCallID == c.ProviderCallID && !existing.Status.Terminal() {
				return ErrDuplicateProviderCall
			}
		}
	}
	cp := clone(c)
	r.byID[c.ID] = &cp
	r.order = append(r.order, c.ID)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return clone(*c), nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, provider, providerCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.byID[r.order[i]]
		if c.ProviderCallID == providerCallID && (provider == "" || c.Provider == provider) {
			return clone(*c), nil
		}
	}
	return Call{}, ErrNotFound
}

func (r *MemoryRepo) Update(ctx context.Context, id string, fn func(*Call) error) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	next := clone(*c)
	if err := fn(&next); err != nil {
		return clone(*c), err
	}
	*c = next
	return clone(next), nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, id := range r.order {
		c := r.byID[id]
		if f.match(*c) {
			out = append(out, clone(*c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Call{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) AddTranscript(ctx context.Context, t Transcript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[t.CallID]; !ok {
		return ErrNotFound
	}
	r.transcripts[t.CallID] = append(r.transcripts[t.CallID], t)
	return nil
}

func (r *MemoryRepo) Transcripts(ctx context.Context, callID string) ([]Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[callID]; !ok {
		return nil, ErrNotFound
	}
	out := append([]Transcript(nil), r.transcripts[callID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// clone detaches pointer and slice fields so callers never alias stored rows.
func clone(c Call) Call {
	if c.AnsweredAt != nil {
		t := *c.AnsweredAt
		c.AnsweredAt = &t
	}
	if c.EndTime != nil {
		t := *c.EndTime
		c.EndTime = &t
	}
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		c.DurationSeconds = &d
	}
	c.Transfers = append([]Transfer(nil), c.Transfers...)
	return c
}
