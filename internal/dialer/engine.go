package dialer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"

	"github.com/google/uuid"
)

// CallRecorder is the slice of *calls.Manager the engine needs.
// RecordPlacementFailure and Refresh must publish terminal transitions back
// to the engine's HandleCallEvent.
type CallRecorder interface {
	CreateOutbound(ctx context.Context, n calls.NewCall) (calls.Call, error)
	RecordPlacementFailure(ctx context.Context, n calls.NewCall, cause error) (calls.Call, error)
	Refresh(ctx context.Context, id string) (calls.Call, error)
	List(ctx context.Context, f calls.ListFilter) ([]calls.Call, error)
}

// ProviderResolver is satisfied by *telephony.Registry.
type ProviderResolver interface {
	Get(name string) (telephony.Provider, error)
}

type Options struct {
	Campaigns Repository
	Contacts  contacts.Store
	Calls     CallRecorder
	Providers ProviderResolver

	DNC     compliance.DNCRegistry
	Consent compliance.ConsentService
	// Slots is optional; nil keeps the cap process-local.
	Slots SlotLimiter
	Audit *audit.Service

	Clock            func() time.Time
	TickInterval     time.Duration
	PlacementTimeout time.Duration
	// StaleCallAfter is how long a live call may go without a status event
	// before a pass polls the provider for it.
	StaleCallAfter time.Duration
}

// Engine owns campaign configuration and one runtime per campaign id.
// Runtimes are independent: a slow tick in one campaign never blocks another.
type Engine struct {
	campaigns Repository
	contacts  contacts.Store
	calls     CallRecorder
	providers ProviderResolver
	dnc       compliance.DNCRegistry
	consent   compliance.ConsentService
	slots     SlotLimiter
	audit     *audit.Service

	clock            func() time.Time
	tickInterval     time.Duration
	placementTimeout time.Duration
	staleCallAfter   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	runtimes map[string]*runtime
	closed   bool
}

func NewEngine(opts Options) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		campaigns:        opts.Campaigns,
		contacts:         opts.Contacts,
		calls:            opts.Calls,
		providers:        opts.Providers,
		dnc:              opts.DNC,
		consent:          opts.Consent,
		slots:            opts.Slots,
		audit:            opts.Audit,
		clock:            opts.Clock,
		tickInterval:     opts.TickInterval,
		placementTimeout: opts.PlacementTimeout,
		staleCallAfter:   opts.StaleCallAfter,
		ctx:              ctx,
		cancel:           cancel,
		runtimes:         map[string]*runtime{},
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.tickInterval <= 0 {
		e.tickInterval = 5 * time.Second
	}
	if e.placementTimeout <= 0 {
		e.placementTimeout = 15 * time.Second
	}
	if e.staleCallAfter <= 0 {
		e.staleCallAfter = 2 * time.Minute
	}
	if e.consent == nil {
		e.consent = compliance.NewStaticConsent(false)
	}
	return e
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

// CreateCampaign validates n and stores an inactive campaign.
func (e *Engine) CreateCampaign(ctx context.Context, n NewCampaign) (Campaign, error) {
	n.Config = n.Config.withDefaults()
	if err := validateNewCampaign(n); err != nil {
		return Campaign{}, err
	}
	from, ok := contacts.NormalizePhone(n.FromNumber)
	if !ok {
		return Campaign{}, fmt.Errorf("%w: from_number %q is not a valid phone number", ErrInvalidConfig, n.FromNumber)
	}
	if n.Provider != "" && e.providers != nil {
		if _, err := e.providers.Get(n.Provider); err != nil {
			return Campaign{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if n.Type == "" {
		n.Type = TypeOutbound
	}

	now := e.now()
	c := Campaign{
		ID:             uuid.NewString(),
		OrganizationID: n.OrganizationID,
		Name:           n.Name,
		Type:           n.Type,
		Provider:       n.Provider,
		FromNumber:     from,
		Config:         n.Config,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.campaigns.Create(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

// UpdateConfig replaces the config of an inactive campaign.
func (e *Engine) UpdateConfig(ctx context.Context, id string, cfg Config) (Campaign, error) {
	if err := validateConfig(cfg); err != nil {
		return Campaign{}, err
	}
	now := e.now()
	c, err := e.campaigns.Update(ctx, id, func(c *Campaign) error {
		if c.Active {
			return ErrCampaignActive
		}
		c.Config = cfg
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Campaign{}, err
	}
	if rt := e.lookup(id); rt != nil {
		rt.mu.Lock()
		rt.campaign = c
		rt.mu.Unlock()
	}
	e.audit.Record(ctx, audit.Event{
		OrganizationID: c.OrganizationID,
		Type:           audit.EventTypeCampaignUpdated,
		CampaignID:     c.ID,
	})
	return c, nil
}

// Get returns the campaign with live stats while it runs in this process.
func (e *Engine) Get(ctx context.Context, id string) (Campaign, error) {
	c, err := e.campaigns.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if rt := e.lookup(id); rt != nil {
		rt.mu.Lock()
		if rt.active {
			c.Stats = rt.stats
		}
		rt.mu.Unlock()
	}
	return c, nil
}

func (e *Engine) List(ctx context.Context, organizationID string) ([]Campaign, error) {
	return e.campaigns.List(ctx, organizationID)
}

// Start activates a campaign and attaches its ticker. The first pass runs
// one interval after start; call Tick to dial immediately.
func (e *Engine) Start(ctx context.Context, id string) (Campaign, error) {
	c, err := e.campaigns.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Active {
		return Campaign{}, ErrAlreadyActive
	}
	if err := validateConfig(c.Config); err != nil {
		return Campaign{}, err
	}
	if _, err := e.providers.Get(c.Provider); err != nil {
		return Campaign{}, err
	}

	rt, err := e.runtime(c)
	if err != nil {
		return Campaign{}, err
	}
	defer e.unpin(rt)
	rt.ctl.Lock()
	defer rt.ctl.Unlock()

	if err := e.seedActiveCalls(ctx, rt); err != nil {
		return Campaign{}, err
	}

	rt.mu.Lock()
	now := e.now()
	c, err = e.campaigns.Update(ctx, id, func(c *Campaign) error {
		if c.Active {
			return ErrAlreadyActive
		}
		c.Active = true
		c.Stats = rt.stats
		c.StartedAt = &now
		c.StoppedAt = nil
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		rt.mu.Unlock()
		return Campaign{}, err
	}
	rt.campaign = c
	rt.active = true
	rt.mu.Unlock()

	e.attachTicker(rt)
	logger.From(ctx).Info("campaign started", "campaign_id", c.ID, "max_concurrent_calls", c.Config.MaxConcurrentCalls)
	e.audit.Record(ctx, audit.Event{
		OrganizationID: c.OrganizationID,
		Type:           audit.EventTypeCampaignStarted,
		CampaignID:     c.ID,
	})
	return c, nil
}

// Stop detaches the ticker and persists final stats. Live calls are left
// running; their terminal events still update the persisted stats. Stopping
// an inactive campaign returns it unchanged.
func (e *Engine) Stop(ctx context.Context, id string) (Campaign, error) {
	c, err := e.campaigns.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	rt := e.pinned(id)
	if rt == nil {
		if !c.Active {
			return c, nil
		}
		// persisted active but not scheduled here; deactivate the row
		if rt, err = e.runtime(c); err != nil {
			return Campaign{}, err
		}
	}
	defer e.unpin(rt)

	rt.ctl.Lock()
	defer rt.ctl.Unlock()
	rt.detachTicker()

	rt.tickMu.Lock()
	defer rt.tickMu.Unlock()
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := e.now()
	wasActive := false
	c, err = e.campaigns.Update(ctx, id, func(c *Campaign) error {
		if !c.Active {
			return errNoChange
		}
		wasActive = true
		c.Active = false
		c.Stats = rt.stats
		c.StoppedAt = &now
		c.UpdatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return Campaign{}, err
	}
	rt.campaign = c
	rt.active = false
	if !wasActive {
		return c, nil
	}

	logger.From(ctx).Info("campaign stopped", "campaign_id", c.ID, "active_calls", len(rt.activeCalls))
	e.audit.Record(ctx, audit.Event{
		OrganizationID: c.OrganizationID,
		Type:           audit.EventTypeCampaignStopped,
		CampaignID:     c.ID,
	})
	return c, nil
}

var errNoChange = errors.New("dialer: no change")

// Tick runs one scheduling pass now. Passes for the same campaign never
// overlap; a manual Tick waits for a running one.
func (e *Engine) Tick(ctx context.Context, id string) (TickResult, error) {
	rt := e.lookup(id)
	if rt == nil {
		if _, err := e.campaigns.Get(ctx, id); err != nil {
			return TickResult{}, err
		}
		return TickResult{}, ErrNotActive
	}
	return e.tick(ctx, rt)
}

// GetStats returns live counters while the campaign runs here, otherwise the
// last persisted snapshot.
func (e *Engine) GetStats(ctx context.Context, id string) (Stats, error) {
	c, err := e.Get(ctx, id)
	if err != nil {
		return Stats{}, err
	}
	return c.Stats, nil
}

// ScheduleCallback parks a contact until when. Allowed in any contact state
// except dnc_excluded, completed and failed with attempts exhausted.
func (e *Engine) ScheduleCallback(ctx context.Context, campaignID, contactID string, when time.Time, notes string) (contacts.Contact, error) {
	c, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return contacts.Contact{}, err
	}
	if !c.Config.CallbackEnabled {
		return contacts.Contact{}, ErrCallbacksDisabled
	}
	ct, err := e.contacts.Get(ctx, contactID)
	if err != nil {
		return contacts.Contact{}, err
	}
	if ct.CampaignID != campaignID {
		return contacts.Contact{}, contacts.ErrNotFound
	}
	if ct.Status == contacts.StatusFailed && ct.AttemptCount >= c.Config.MaxAttemptsPerContact {
		return contacts.Contact{}, contacts.ErrInvalidState
	}

	rt, err := e.runtime(c)
	if err != nil {
		return contacts.Contact{}, err
	}
	defer e.unpin(rt)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ct, err = e.contacts.ScheduleCallback(ctx, contactID, when, notes, e.now())
	if err != nil {
		return contacts.Contact{}, err
	}
	rt.stats.Callbacks++
	if !rt.active {
		e.persistStats(ctx, rt)
	}

	e.audit.Record(ctx, audit.Event{
		OrganizationID: c.OrganizationID,
		Type:           audit.EventTypeCallbackScheduled,
		CampaignID:     campaignID,
		ContactID:      contactID,
		Message:        ct.NextAttemptAt.Format(time.RFC3339),
	})
	return ct, nil
}

// ImportContacts adds records to the campaign and refreshes TotalContacts.
func (e *Engine) ImportContacts(ctx context.Context, campaignID string, records []contacts.Record) (contacts.ImportResult, error) {
	c, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return contacts.ImportResult{}, err
	}
	res, err := e.contacts.Import(ctx, campaignID, records)
	if err != nil {
		return contacts.ImportResult{}, err
	}
	total, err := e.contacts.Count(ctx, campaignID)
	if err != nil {
		return res, err
	}

	rt, err := e.runtime(c)
	if err != nil {
		return res, err
	}
	rt.mu.Lock()
	rt.stats.TotalContacts = total
	e.persistStats(ctx, rt)
	rt.mu.Unlock()
	e.unpin(rt)

	e.audit.Record(ctx, audit.Event{
		OrganizationID: c.OrganizationID,
		Type:           audit.EventTypeContactsImported,
		CampaignID:     campaignID,
		Message:        fmt.Sprintf("imported=%d failed=%d duplicates=%d", res.Imported, res.Failed, res.Duplicates),
	})
	return res, nil
}

// ListContacts pages through a campaign's contacts.
func (e *Engine) ListContacts(ctx context.Context, campaignID string, f contacts.ListFilter) ([]contacts.Contact, error) {
	if _, err := e.campaigns.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	return e.contacts.List(ctx, campaignID, f)
}

// ScreenNumber normalizes raw and runs c's compliance gates on it ahead of a
// manual call placed for the campaign. Blocked numbers return
// compliance.ErrDNCExcluded or compliance.ErrConsentMissing.
func (e *Engine) ScreenNumber(ctx context.Context, c Campaign, raw string) (string, error) {
	number, ok := contacts.NormalizePhone(raw)
	if !ok {
		return "", fmt.Errorf("%w: to_number %q is not a valid phone number", calls.ErrInvalidCall, raw)
	}
	if err := e.screen(ctx, c, number); err != nil {
		return "", err
	}
	return number, nil
}

// HandleCallEvent implements calls.EventSink. Events are applied by the
// campaign's event loop, one at a time; HandleCallEvent returns once the
// event has been applied.
func (e *Engine) HandleCallEvent(ctx context.Context, ev calls.Event) error {
	c := ev.Call
	if c.CampaignID == "" || c.ContactID == "" || c.Direction != calls.DirectionOutbound {
		return nil
	}
	rt := e.pinned(c.CampaignID)
	if rt == nil {
		campaign, err := e.campaigns.Get(ctx, c.CampaignID)
		if err != nil {
			return err
		}
		if rt, err = e.runtime(campaign); err != nil {
			return err
		}
	}
	defer e.unpin(rt)
	return rt.submit(ctx, e.ctx.Done(), ev)
}

// Resume reattaches tickers for campaigns persisted as active, typically
// after a restart. It returns the number of campaigns resumed.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	active, err := e.campaigns.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, c := range active {
		log := logger.From(ctx).With("campaign_id", c.ID)
		if _, err := e.providers.Get(c.Provider); err != nil {
			log.Error("resume campaign: provider unavailable", "provider", c.Provider, "err", err)
			continue
		}
		rt, err := e.runtime(c)
		if err != nil {
			return resumed, err
		}
		rt.ctl.Lock()
		// Calls placed before the restart still hold slots.
		if err := e.seedActiveCalls(ctx, rt); err != nil {
			rt.ctl.Unlock()
			e.unpin(rt)
			log.Error("resume campaign: restore live calls failed", "err", err)
			continue
		}
		rt.mu.Lock()
		already := rt.active
		rt.campaign = c
		if !already {
			rt.stats = c.Stats
		}
		rt.active = true
		live := len(rt.activeCalls)
		rt.mu.Unlock()
		if !already {
			e.attachTicker(rt)
			resumed++
		}
		rt.ctl.Unlock()
		e.unpin(rt)
		log.Info("campaign resumed", "active_calls", live)
	}
	return resumed, nil
}

// Close detaches every ticker, flushes live stats and stops the event loops.
// Campaigns stay persisted as active so Resume picks them up again.
func (e *Engine) Close(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	rts := make([]*runtime, 0, len(e.runtimes))
	for _, rt := range e.runtimes {
		rts = append(rts, rt)
	}
	e.mu.Unlock()

	for _, rt := range rts {
		rt.ctl.Lock()
		rt.detachTicker()
		rt.ctl.Unlock()

		rt.tickMu.Lock()
		rt.mu.Lock()
		if rt.active {
			e.persistStats(ctx, rt)
		}
		rt.mu.Unlock()
		rt.tickMu.Unlock()
	}
	e.cancel()
	e.wg.Wait()
}

// ActiveCampaigns lists the ids scheduled by this process.
func (e *Engine) ActiveCampaigns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.runtimes))
	for id, rt := range e.runtimes {
		rt.mu.Lock()
		if rt.active {
			out = append(out, id)
		}
		rt.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

// persistStats writes rt.stats to the campaign row. Caller holds rt.mu.
func (e *Engine) persistStats(ctx context.Context, rt *runtime) {
	stats := rt.stats
	now := e.now()
	if _, err := e.campaigns.Update(ctx, rt.id, func(c *Campaign) error {
		c.Stats = stats
		c.UpdatedAt = now
		return nil
	}); err != nil {
		logger.From(ctx).Error("persist campaign stats failed", "campaign_id", rt.id, "err", err)
	}
}
