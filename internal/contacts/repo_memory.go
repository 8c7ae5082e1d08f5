package contacts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*Contact
	byPhone map[string]map[string]string // campaign_id -> phone -> contact id
	seq     int64

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    map[string]*Contact{},
		byPhone: map[string]map[string]string{},
		clock:   time.Now,
	}
}

// WithClock sets the clock used for created_at stamps on import.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Import(ctx context.Context, campaignID string, records []Record) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	phones := s.byPhone[campaignID]
	if phones == nil {
		phones = map[string]string{}
		s.byPhone[campaignID] = phones
	}

	now := s.clock().UTC()
	var res ImportResult
	for _, r := range records {
		phone, ok := NormalizePhone(r.PhoneNumber)
		if !ok {
			res.Failed++
			continue
		}
		if _, dup := phones[phone]; dup {
			res.Duplicates++
			continue
		}
		s.seq++
		c := &Contact{
			ID:          uuid.NewString(),
			CampaignID:  campaignID,
			PhoneNumber: phone,
			Name:        r.Name,
			Notes:       r.Notes,
			Status:      StatusPending,
			Seq:         s.seq,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.byID[c.ID] = c
		phones[phone] = c.ID
		res.Imported++
	}
	return res, nil
}

func (s *MemoryStore) NextEligible(ctx context.Context, campaignID string, now time.Time, limit int) ([]Contact, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Contact, 0)
	for _, id := range s.byPhone[campaignID] {
		c := s.byID[id]
		if c.eligible(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].dueAt(), out[j].dueAt()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].Seq < out[j].Seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkDialing(ctx context.Context, contactID string, maxAttempts int, now time.Time) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[contactID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	if c.Status != StatusPending && c.Status != StatusScheduled {
		return *c, ErrNotClaimable
	}
	if maxAttempts > 0 && c.AttemptCount >= maxAttempts {
		c.Status = StatusFailed
		c.NextAttemptAt = nil
		c.LastDisposition = DispositionMaxAttempts
		c.UpdatedAt = now
		return *c, ErrAttemptsExhausted
	}
	c.Status = StatusCalling
	c.AttemptCount++
	c.NextAttemptAt = nil
	c.UpdatedAt = now
	return *c, nil
}

func (s *MemoryStore) MarkOutcome(ctx context.Context, contactID string, o Outcome, now time.Time) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[contactID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	next := *c
	if err := applyOutcome(&next, o, now); err != nil {
		return *c, err
	}
	*c = next
	return next, nil
}

func (s *MemoryStore) ScheduleCallback(ctx context.Context, contactID string, when time.Time, notes string, now time.Time) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[contactID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	next := *c
	if err := applyCallback(&next, when, notes, now); err != nil {
		return *c, err
	}
	*c = next
	return next, nil
}

func (s *MemoryStore) Get(ctx context.Context, contactID string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[contactID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return *c, nil
}

func (s *MemoryStore) Count(ctx context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPhone[campaignID]), nil
}

func (s *MemoryStore) List(ctx context.Context, campaignID string, f ListFilter) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Contact, 0)
	for _, id := range s.byPhone[campaignID] {
		c := s.byID[id]
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return paginate(out, f), nil
}

func paginate(in []Contact, f ListFilter) []Contact {
	if f.Offset > 0 {
		if f.Offset >= len(in) {
			return []Contact{}
		}
		in = in[f.Offset:]
	}
	if f.Limit > 0 && len(in) > f.Limit {
		in = in[:f.Limit]
	}
	return in
}
