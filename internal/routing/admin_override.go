package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/telephony"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidOverride = errors.New("routing: invalid override")
	errEmptyConnectTo  = errors.New("routing: override connect_to empty")
)

// AdminOverrideEngine applies silent, expiry-based routing overrides.
//
// Requirements:
//   - Silent routing: callers must not be able to infer that an override was
//     used, so the decision carries no reason.
//   - Expiry based: overrides are time-bounded.
//   - Every applied override is recorded in the internal audit log.
//
// This component returns a Decision only and does not call providers.
// It runs ahead of campaign rule evaluation.
type AdminOverrideEngine struct {
	Store OverrideStore
	Audit AuditLogger
	Now   func() time.Time
}

// OverrideStore resolves currently-active overrides.
//
// SECURITY NOTE:
// Keep this data plane accessible only to privileged internal services.
type OverrideStore interface {
	// GetActiveOverride returns an active override if one exists for this request.
	// If none exists, it returns (Override{}, false, nil).
	GetActiveOverride(ctx context.Context, organizationID, campaignID string, req telephony.InboundCallRequest, now time.Time) (Override, bool, error)
}

// OverrideWriter is the admin side of an OverrideStore.
type OverrideWriter interface {
	OverrideStore
	Set(ctx context.Context, o Override, now time.Time) error
	Clear(ctx context.Context, campaignID string) error
}

// AuditLogger records internal-only audit events.
type AuditLogger interface {
	LogOverrideApplied(ctx context.Context, e OverrideAuditEvent) error
}

type Override struct {
	OrganizationID string `json:"organization_id"`
	CampaignID     string `json:"campaign_id"`
	// OverrideID correlates audit records.
	OverrideID string `json:"override_id,omitempty"`

	// ConnectTo is the forced dial target.
	ConnectTo string `json:"connect_to"`

	// ExpiresAt marks when the override stops applying.
	ExpiresAt time.Time `json:"expires_at"`

	// Metadata is optional JSON for internal audit correlation.
	Metadata string `json:"metadata,omitempty"`
}

func (o Override) validate(now time.Time) error {
	switch {
	case o.OrganizationID == "":
		return fmt.Errorf("%w: organization_id is required", ErrInvalidOverride)
	case o.CampaignID == "":
		return fmt.Errorf("%w: campaign_id is required", ErrInvalidOverride)
	case o.ConnectTo == "":
		return fmt.Errorf("%w: connect_to is required", ErrInvalidOverride)
	case !o.ExpiresAt.After(now):
		return fmt.Errorf("%w: expires_at must be in the future", ErrInvalidOverride)
	}
	return nil
}

type OverrideAuditEvent struct {
	OrganizationID string
	CampaignID     string
	OverrideID     string

	ProviderCallID string
	From           string
	To             string
	IPAddress      string

	ConnectTo string
	AppliedAt time.Time
	ExpiresAt time.Time

	Metadata string
}

func NewAdminOverrideEngine(store OverrideStore, audit AuditLogger) *AdminOverrideEngine {
	return &AdminOverrideEngine{Store: store, Audit: audit, Now: time.Now}
}

// Decide returns (decision, true, nil) if an active override was applied.
// Returns (Decision{}, false, nil) if no override applies.
func (e *AdminOverrideEngine) Decide(ctx context.Context, organizationID, campaignID string, req telephony.InboundCallRequest) (Decision, bool, error) {
	if organizationID == "" {
		return Decision{}, false, errors.New("routing: organization_id required")
	}
	if e.Store == nil {
		return Decision{}, false, nil
	}

	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	o, ok, err := e.Store.GetActiveOverride(ctx, organizationID, campaignID, req, now)
	if err != nil {
		return Decision{}, false, err
	}
	if !ok {
		return Decision{}, false, nil
	}
	if !o.ExpiresAt.After(now) {
		// Treat as not found; stores should filter these out.
		return Decision{}, false, nil
	}
	if o.ConnectTo == "" {
		return Decision{}, false, errEmptyConnectTo
	}

	// Silent routing: no Reason.
	d := Decision{OrganizationID: organizationID, CampaignID: campaignID, Action: ActionConnect, ConnectTo: o.ConnectTo}

	if e.Audit != nil {
		_ = e.Audit.LogOverrideApplied(ctx, OverrideAuditEvent{
			OrganizationID: organizationID,
			CampaignID:     campaignID,
			OverrideID:     o.OverrideID,
			ProviderCallID: req.ProviderCallID,
			From:           req.From,
			To:             req.To,
			IPAddress:      audit.ClientIPFromContext(ctx),
			ConnectTo:      o.ConnectTo,
			AppliedAt:      now,
			ExpiresAt:      o.ExpiresAt,
			Metadata:       o.Metadata,
		})
	}

	return d, true, nil
}

// MemoryOverrideStore keeps one override per campaign in process memory.
type MemoryOverrideStore struct {
	mu   sync.RWMutex
	byID map[string]Override
}

func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{byID: map[string]Override{}}
}

func (s *MemoryOverrideStore) GetActiveOverride(ctx context.Context, organizationID, campaignID string, req telephony.InboundCallRequest, now time.Time) (Override, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[campaignID]
	if !ok || o.OrganizationID != organizationID || !o.ExpiresAt.After(now) {
		return Override{}, false, nil
	}
	return o, true, nil
}

func (s *MemoryOverrideStore) Set(ctx context.Context, o Override, now time.Time) error {
	if err := o.validate(now); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.CampaignID] = o
	return nil
}

func (s *MemoryOverrideStore) Clear(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, campaignID)
	return nil
}

// RedisOverrideStore shares overrides across dialer processes. Each override
// is a JSON value whose TTL ends at its expiry.
type RedisOverrideStore struct {
	rdb    *redis.Client
	prefix string
}

const DefaultOverridePrefix = "dialer:routing:override:"

func NewRedisOverrideStore(rdb *redis.Client, prefix string) *RedisOverrideStore {
	if prefix == "" {
		prefix = DefaultOverridePrefix
	}
	return &RedisOverrideStore{rdb: rdb, prefix: prefix}
}

func (s *RedisOverrideStore) key(campaignID string) string { return s.prefix + campaignID }

func (s *RedisOverrideStore) GetActiveOverride(ctx context.Context, organizationID, campaignID string, req telephony.InboundCallRequest, now time.Time) (Override, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(campaignID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Override{}, false, nil
	}
	if err != nil {
		return Override{}, false, fmt.Errorf("get override: %w", err)
	}
	var o Override
	if err := json.Unmarshal(raw, &o); err != nil {
		return Override{}, false, fmt.Errorf("decode override: %w", err)
	}
	if o.OrganizationID != organizationID || !o.ExpiresAt.After(now) {
		return Override{}, false, nil
	}
	return o, true, nil
}

func (s *RedisOverrideStore) Set(ctx context.Context, o Override, now time.Time) error {
	if err := o.validate(now); err != nil {
		return err
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(o.CampaignID), raw, o.ExpiresAt.Sub(now)).Err()
}

func (s *RedisOverrideStore) Clear(ctx context.Context, campaignID string) error {
	return s.rdb.Del(ctx, s.key(campaignID)).Err()
}
