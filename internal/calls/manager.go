package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"

	"github.com/google/uuid"
)

// EventKind names the lifecycle transitions published to sinks.
type EventKind string

const (
	EventAnswered  EventKind = "answered"
	EventCompleted EventKind = "completed"
)

// Event is a snapshot of a call taken right after a published transition.
type Event struct {
	Kind EventKind `json:"kind"`
	Call Call      `json:"call"`
}

// EventSink receives lifecycle events. HandleCallEvent must be safe for
// concurrent use; events for one call arrive in transition order.
type EventSink interface {
	HandleCallEvent(ctx context.Context, ev Event) error
}

// ProviderResolver is satisfied by *telephony.Registry.
type ProviderResolver interface {
	Get(name string) (telephony.Provider, error)
}

// TargetResolver maps an agent id to a dialable target (E.164 or sip: URI).
type TargetResolver func(ctx context.Context, agentID string) (string, error)

// Manager owns Call records and drives their state machine.
type Manager struct {
	repo      Repository
	providers ProviderResolver
	audit     *audit.Service
	targets   TargetResolver
	clock     func() time.Time

	mu    sync.RWMutex
	sinks []EventSink
}

type Options struct {
	Repo      Repository
	Providers ProviderResolver
	Audit     *audit.Service
	// Targets defaults to dialing the agent id as-is.
	Targets TargetResolver
	Clock   func() time.Time
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		repo:      opts.Repo,
		providers: opts.Providers,
		audit:     opts.Audit,
		targets:   opts.Targets,
		clock:     opts.Clock,
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.targets == nil {
		m.targets = func(_ context.Context, agentID string) (string, error) { return agentID, nil }
	}
	return m
}

// Subscribe registers a sink for answered and terminal transitions.
func (m *Manager) Subscribe(s EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

func (m *Manager) now() time.Time { return m.clock().UTC() }

func (m *Manager) newCall(n NewCall, dir Direction, status Status) (Call, error) {
	if n.OrganizationID == "" {
		return Call{}, fmt.Errorf("%w: organization_id is required", ErrInvalidCall)
	}
	if strings.TrimSpace(n.ToNumber) == "" {
		return Call{}, fmt.Errorf("%w: to_number is required", ErrInvalidCall)
	}
	now := m.now()
	return Call{
		ID:             uuid.NewString(),
		OrganizationID: n.OrganizationID,
		CampaignID:     n.CampaignID,
		ContactID:      n.ContactID,
		FromNumber:     n.FromNumber,
		ToNumber:       n.ToNumber,
		Direction:      dir,
		Provider:       n.Provider,
		ProviderCallID: n.ProviderCallID,
		Status:         status,
		AgentID:        n.AgentID,
		Notes:          n.Notes,
		StartTime:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CreateOutbound records a call the provider accepted. It starts QUEUED.
func (m *Manager) CreateOutbound(ctx context.Context, n NewCall) (Call, error) {
	c, err := m.newCall(n, DirectionOutbound, StatusQueued)
	if err != nil {
		return Call{}, err
	}
	if err := m.repo.Create(ctx, c); err != nil {
		return Call{}, err
	}
	return c, nil
}

// CreateInbound records an inbound call being offered. It starts RINGING.
func (m *Manager) CreateInbound(ctx context.Context, n NewCall) (Call, error) {
	c, err := m.newCall(n, DirectionInbound, StatusRinging)
	if err != nil {
		return Call{}, err
	}
	if err := m.repo.Create(ctx, c); err != nil {
		return Call{}, err
	}
	return c, nil
}

// RecordPlacementFailure persists a FAILED call with disposition
// provider_error so a rejected placement still leaves an auditable row.
func (m *Manager) RecordPlacementFailure(ctx context.Context, n NewCall, cause error) (Call, error) {
	c, err := m.newCall(n, DirectionOutbound, StatusQueued)
	if err != nil {
		return Call{}, err
	}
	c.finish(StatusFailed, DispositionProviderError, c.StartTime)
	if err := m.repo.Create(ctx, c); err != nil {
		return Call{}, err
	}
	logger.From(ctx).Warn("call placement failed",
		"call_id", c.ID, "campaign_id", c.CampaignID, "contact_id", c.ContactID, "provider", c.Provider, "err", cause)
	m.publish(ctx, Event{Kind: EventCompleted, Call: c})
	return c, nil
}

// Dial places a manual outbound call through the named provider. A provider
// failure is returned to the caller together with the FAILED call row.
func (m *Manager) Dial(ctx context.Context, n NewCall) (Call, error) {
	if m.providers == nil {
		return Call{}, errors.New("calls: providers not configured")
	}
	p, err := m.providers.Get(n.Provider)
	if err != nil {
		return Call{}, err
	}
	n.Provider = p.Name()
	if _, err := m.newCall(n, DirectionOutbound, StatusQueued); err != nil {
		return Call{}, err
	}

	res, err := p.PlaceOutboundCall(ctx, telephony.OutboundCallRequest{From: n.FromNumber, To: n.ToNumber})
	if err != nil {
		failed, recErr := m.RecordPlacementFailure(ctx, n, err)
		if recErr != nil {
			return Call{}, errors.Join(err, recErr)
		}
		return failed, err
	}
	n.ProviderCallID = res.ProviderCallID
	return m.CreateOutbound(ctx, n)
}

// HandleProviderEvent applies a push or polled provider signal.
func (m *Manager) HandleProviderEvent(ctx context.Context, ev telephony.ProviderEvent) error {
	current, err := m.repo.GetByProviderCallID(ctx, ev.Provider, ev.ProviderCallID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s %s: %w", telephony.ErrUnknownCall, ev.Provider, ev.ProviderCallID, err)
	}
	if err != nil {
		return err
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = m.now()
	}

	var changed bool
	wasAnswered := current.AnsweredAt != nil
	c, err := m.repo.Update(ctx, current.ID, func(c *Call) error {
		changed = applySignal(c, ev.Signal, ev.AnsweredBy, at)
		if !changed {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		logger.From(ctx).Debug("provider event ignored", "call_id", current.ID, "signal", ev.Signal, "status", current.Status)
		return nil
	}
	if err != nil {
		return err
	}

	if !wasAnswered && c.AnsweredAt != nil {
		m.publish(ctx, Event{Kind: EventAnswered, Call: c})
	}
	if c.Status.Terminal() {
		m.publish(ctx, Event{Kind: EventCompleted, Call: c})
	}
	return nil
}

var errNoChange = errors.New("calls: no change")

// Refresh polls the provider for a live call's status and applies it.
func (m *Manager) Refresh(ctx context.Context, id string) (Call, error) {
	c, err := m.repo.Get(ctx, id)
	if err != nil {
		return Call{}, err
	}
	if c.Status.Terminal() || c.ProviderCallID == "" {
		return c, nil
	}
	p, err := m.provider(c)
	if err != nil {
		return Call{}, err
	}
	sig, err := p.QueryStatus(ctx, c.ProviderCallID)
	if err != nil {
		return Call{}, err
	}
	ev := telephony.ProviderEvent{Provider: c.Provider, ProviderCallID: c.ProviderCallID, Signal: sig, OccurredAt: m.now()}
	if err := m.HandleProviderEvent(ctx, ev); err != nil {
		return Call{}, err
	}
	return m.repo.Get(ctx, id)
}

type EndRequest struct {
	Disposition string `json:"disposition"`
	Notes       string `json:"notes"`
}

// End terminates a live call. An answered call becomes COMPLETED; a call
// still queued or ringing is canceled as NO_ANSWER. Hanging up at the provider
// is best-effort and never blocks the local transition.
func (m *Manager) End(ctx context.Context, id string, req EndRequest) (Call, error) {
	now := m.now()
	c, err := m.repo.Update(ctx, id, func(c *Call) error {
		if c.Status.Terminal() {
			return ErrInvalidState
		}
		if req.Disposition != "" {
			c.Disposition = req.Disposition
		}
		if req.Notes != "" {
			c.Notes = req.Notes
		}
		if c.Status == StatusInProgress {
			c.finish(StatusCompleted, DispositionCompleted, now)
		} else {
			c.finish(StatusNoAnswer, DispositionCanceled, now)
		}
		return nil
	})
	if err != nil {
		return Call{}, err
	}

	log := logger.From(ctx).With("call_id", c.ID)
	if c.ProviderCallID != "" {
		if p, err := m.provider(c); err != nil {
			log.Warn("end call: provider unavailable", "err", err)
		} else if err := p.EndCall(ctx, c.ProviderCallID); err != nil {
			log.Warn("end call: provider hangup failed", "err", err)
		}
	}

	m.audit.Record(ctx, audit.Event{
		OrganizationID: c.OrganizationID,
		Type:           audit.EventTypeCallEnded,
		CampaignID:     c.CampaignID,
		ContactID:      c.ContactID,
		CallID:         c.ID,
		Message:        c.Disposition,
	})
	m.publish(ctx, Event{Kind: EventCompleted, Call: c})
	return c, nil
}

// Transfer hands a live call to another agent. The provider must accept the
// transfer before the local record changes.
func (m *Manager) Transfer(ctx context.Context, id, agentID string) (Call, error) {
	if strings.TrimSpace(agentID) == "" {
		return Call{}, fmt.Errorf("%w: agent_id is required", ErrInvalidCall)
	}
	c, err := m.repo.Get(ctx, id)
	if err != nil {
		return Call{}, err
	}
	if !transferable(c.Status) {
		return Call{}, ErrInvalidState
	}

	if c.ProviderCallID != "" {
		p, err := m.provider(c)
		if err != nil {
			return Call{}, err
		}
		target, err := m.targets(ctx, agentID)
		if err != nil {
			return Call{}, err
		}
		if err := p.TransferCall(ctx, c.ProviderCallID, target); err != nil {
			return Call{}, err
		}
	}

	now := m.now()
	c, err = m.repo.Update(ctx, id, func(c *Call) error {
		if !transferable(c.Status) {
			return ErrInvalidState
		}
		c.Transfers = append(c.Transfers, Transfer{FromAgentID: c.AgentID, ToAgentID: agentID, At: now})
		c.AgentID = agentID
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Call{}, err
	}

	m.audit.Record(ctx, audit.Event{
		OrganizationID: c.OrganizationID,
		Type:           audit.EventTypeCallTransferred,
		CampaignID:     c.CampaignID,
		CallID:         c.ID,
		Message:        agentID,
	})
	return c, nil
}

func transferable(s Status) bool { return s == StatusRinging || s == StatusInProgress }

// UpdateRequest amends a call. Nil fields are left untouched.
type UpdateRequest struct {
	Notes       *string `json:"notes"`
	Disposition *string `json:"disposition"`
	// AgentID assigns the handling agent; only allowed on live calls.
	AgentID *string `json:"agent_id"`
}

func (m *Manager) Update(ctx context.Context, id string, req UpdateRequest) (Call, error) {
	now := m.now()
	return m.repo.Update(ctx, id, func(c *Call) error {
		if req.AgentID != nil {
			if c.Status.Terminal() {
				return ErrInvalidState
			}
			c.AgentID = *req.AgentID
		}
		if req.Notes != nil {
			c.Notes = *req.Notes
		}
		if req.Disposition != nil {
			c.Disposition = *req.Disposition
		}
		c.UpdatedAt = now
		return nil
	})
}

// AddTranscript appends one line. Lines are immutable once stored.
func (m *Manager) AddTranscript(ctx context.Context, callID string, t Transcript) (Transcript, error) {
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return Transcript{}, fmt.Errorf("%w: role must be user or assistant", ErrInvalidCall)
	}
	if strings.TrimSpace(t.Content) == "" {
		return Transcript{}, fmt.Errorf("%w: content is required", ErrInvalidCall)
	}
	t.ID = uuid.NewString()
	t.CallID = callID
	if t.Timestamp.IsZero() {
		t.Timestamp = m.now()
	}
	t.Timestamp = t.Timestamp.UTC()
	if err := m.repo.AddTranscript(ctx, t); err != nil {
		return Transcript{}, err
	}
	return t, nil
}

func (m *Manager) Transcripts(ctx context.Context, callID string) ([]Transcript, error) {
	return m.repo.Transcripts(ctx, callID)
}

func (m *Manager) Get(ctx context.Context, id string) (Call, error) {
	return m.repo.Get(ctx, id)
}

func (m *Manager) GetByProviderCallID(ctx context.Context, provider, providerCallID string) (Call, error) {
	return m.repo.GetByProviderCallID(ctx, provider, providerCallID)
}

func (m *Manager) List(ctx context.Context, f ListFilter) ([]Call, error) {
	return m.repo.List(ctx, f)
}

func (m *Manager) provider(c Call) (telephony.Provider, error) {
	if m.providers == nil {
		return nil, errors.New("calls: providers not configured")
	}
	return m.providers.Get(c.Provider)
}

// publish fans ev out to every sink in registration order. Sink failures are
// logged; the call transition is already durable.
func (m *Manager) publish(ctx context.Context, ev Event) {
	m.mu.RLock()
	sinks := append([]EventSink(nil), m.sinks...)
	m.mu.RUnlock()

	for _, s := range sinks {
		if err := s.HandleCallEvent(ctx, ev); err != nil {
			logger.From(ctx).Error("call event sink failed", "call_id", ev.Call.ID, "kind", ev.Kind, "err", err)
		}
	}
}
