package dialer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/telephony/telephonytest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	e        *Engine
	calls    *calls.Manager
	store    *contacts.MemoryStore
	repo     *MemoryRepo
	fake     *telephonytest.FakeProvider
	dnc      *compliance.MemoryRegistry
	consent  *compliance.StaticConsent
	clock    *fakeClock
	campaign Campaign
}

func newFixture(t *testing.T, cfg Config, phones ...string) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
	fake := telephonytest.New()
	registry := telephony.NewRegistry("fake", fake)
	mgr := calls.NewManager(calls.Options{Repo: calls.NewMemoryRepo(), Providers: registry, Clock: clock.Now})
	store := contacts.NewMemoryStore().WithClock(clock.Now)
	repo := NewMemoryRepo()
	dnc := compliance.NewMemoryRegistry()
	consent := compliance.NewStaticConsent(true)

	e := NewEngine(Options{
		Campaigns:    repo,
		Contacts:     store,
		Calls:        mgr,
		Providers:    registry,
		DNC:          dnc,
		Consent:      consent,
		Clock:        clock.Now,
		TickInterval: time.Hour,
	})
	mgr.Subscribe(e)
	t.Cleanup(func() { e.Close(context.Background()) })

	ctx := context.Background()
	c, err := e.CreateCampaign(ctx, NewCampaign{
		OrganizationID: "org1",
		Name:           "spring renewals",
		FromNumber:     "+12125550100",
		Config:         cfg,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if len(phones) > 0 {
		records := make([]contacts.Record, 0, len(phones))
		for _, p := range phones {
			records = append(records, contacts.Record{PhoneNumber: p})
		}
		if _, err := e.ImportContacts(ctx, c.ID, records); err != nil {
			t.Fatalf("import: %v", err)
		}
	}
	return &fixture{e: e, calls: mgr, store: store, repo: repo, fake: fake, dnc: dnc, consent: consent, clock: clock, campaign: c}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if _, err := f.e.Start(context.Background(), f.campaign.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func (f *fixture) tick(t *testing.T) TickResult {
	t.Helper()
	res, err := f.e.Tick(context.Background(), f.campaign.ID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return res
}

func (f *fixture) contact(t *testing.T, phone string) contacts.Contact {
	t.Helper()
	list, err := f.store.List(context.Background(), f.campaign.ID, contacts.ListFilter{})
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	for _, c := range list {
		if c.PhoneNumber == phone {
			return c
		}
	}
	t.Fatalf("contact %s not found", phone)
	return contacts.Contact{}
}

func (f *fixture) providerCall(t *testing.T, n int) calls.Call {
	t.Helper()
	c, err := f.calls.GetByProviderCallID(context.Background(), "fake", fmt.Sprintf("fake-call-%d", n))
	if err != nil {
		t.Fatalf("call fake-call-%d: %v", n, err)
	}
	return c
}

func (f *fixture) signal(t *testing.T, n int, sig telephony.Signal) {
	t.Helper()
	err := f.calls.HandleProviderEvent(context.Background(), telephony.ProviderEvent{
		Provider:       "fake",
		ProviderCallID: fmt.Sprintf("fake-call-%d", n),
		Signal:         sig,
		OccurredAt:     f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("provider event: %v", err)
	}
}

func (f *fixture) stats(t *testing.T) Stats {
	t.Helper()
	s, err := f.e.GetStats(context.Background(), f.campaign.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return s
}

func baseConfig() Config {
	return Config{MaxConcurrentCalls: 1, MaxAttemptsPerContact: 3, TimeBetweenAttemptsMinutes: 30}
}

func TestTick_ConcurrencyCapOfOne(t *testing.T) {
	f := newFixture(t, baseConfig(), "+12125550101", "+12125550102")
	f.start(t)

	first := f.tick(t)
	if first.Placed != 1 || first.FreeSlots != 1 {
		t.Fatalf("expected one placement, got %+v", first)
	}
	second := f.tick(t)
	if second.Skipped != SkipNoFreeSlots || second.Placed != 0 {
		t.Fatalf("expected no_free_slots, got %+v", second)
	}
	if got := len(f.fake.Placed()); got != 1 {
		t.Fatalf("expected 1 provider placement, got %d", got)
	}
	if c := f.contact(t, "+12125550101"); c.Status != contacts.StatusCalling || c.AttemptCount != 1 {
		t.Fatalf("expected first contact calling with 1 attempt, got %s/%d", c.Status, c.AttemptCount)
	}
	if c := f.contact(t, "+12125550102"); c.Status != contacts.StatusPending {
		t.Fatalf("expected second contact pending, got %s", c.Status)
	}
}

func TestTick_PlacementCarriesCampaignMetadata(t *testing.T) {
	cfg := baseConfig()
	cfg.VoicemailDetection = true
	f := newFixture(t, cfg, "2125550101")
	f.start(t)
	f.tick(t)

	placed := f.fake.Placed()
	if len(placed) != 1 {
		t.Fatalf("expected 1 placement, got %d", len(placed))
	}
	req := placed[0]
	if req.From != "+12125550100" || req.To != "+12125550101" {
		t.Fatalf("unexpected numbers: %s -> %s", req.From, req.To)
	}
	if req.Metadata[MetaCampaignID] != f.campaign.ID || req.Metadata[MetaOrganizationID] != "org1" {
		t.Fatalf("unexpected metadata: %v", req.Metadata)
	}
	if !req.MachineDetection || req.Record {
		t.Fatalf("expected machine detection without recording, got %+v", req)
	}
	call := f.providerCall(t, 1)
	if call.CampaignID != f.campaign.ID || call.ContactID != req.Metadata[MetaContactID] || call.Status != calls.StatusQueued {
		t.Fatalf("unexpected call row: %+v", call)
	}
}

func TestCompletion_SuccessAfter120Seconds(t *testing.T) {
	f := newFixture(t, baseConfig(), "+12125550101")
	f.start(t)
	f.tick(t)

	f.signal(t, 1, telephony.SignalRinging)
	f.signal(t, 1, telephony.SignalAnswered)
	if c := f.contact(t, "+12125550101"); c.Status != contacts.StatusConnected {
		t.Fatalf("expected connected contact, got %s", c.Status)
	}

	f.clock.Advance(120 * time.Second)
	call := f.providerCall(t, 1)
	if _, err := f.calls.End(context.Background(), call.ID, calls.EndRequest{Disposition: calls.DispositionSuccess}); err != nil {
		t.Fatalf("end: %v", err)
	}

	s := f.stats(t)
	if s.ContactsDialed != 1 || s.ContactsConnected != 1 || s.ContactsCompleted != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.AvgCallDurationSeconds != 120 {
		t.Fatalf("expected avg 120, got %v", s.AvgCallDurationSeconds)
	}
	if s.ConversionRate != 1.0 {
		t.Fatalf("expected conversion 1.0, got %v", s.ConversionRate)
	}
	c := f.contact(t, "+12125550101")
	if c.Status != contacts.StatusCompleted || c.LastCallID != call.ID {
		t.Fatalf("expected completed contact linked to call, got %+v", c)
	}
	if res := f.tick(t); res.Skipped != "" || res.FreeSlots != 1 || res.Claimed != 0 {
		t.Fatalf("expected a free slot and nothing to dial, got %+v", res)
	}
}

func TestCompletion_RunningMeanOverCompletedCalls(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentCalls = 2
	f := newFixture(t, cfg, "+12125550101", "+12125550102")
	f.start(t)
	f.tick(t)

	ctx := context.Background()
	f.signal(t, 1, telephony.SignalAnswered)
	f.signal(t, 2, telephony.SignalAnswered)
	f.clock.Advance(60 * time.Second)
	if _, err := f.calls.End(ctx, f.providerCall(t, 1).ID, calls.EndRequest{Disposition: calls.DispositionSuccess}); err != nil {
		t.Fatalf("end 1: %v", err)
	}
	f.clock.Advance(120 * time.Second)
	if _, err := f.calls.End(ctx, f.providerCall(t, 2).ID, calls.EndRequest{}); err != nil {
		t.Fatalf("end 2: %v", err)
	}

	s := f.stats(t)
	if s.ContactsCompleted != 2 || s.AvgCallDurationSeconds != 120 {
		t.Fatalf("expected 2 completed averaging 120s, got %+v", s)
	}
}

func TestTick_PlacementFailureLeavesAuditRow(t *testing.T) {
	f := newFixture(t, baseConfig(), "+12125550101")
	f.fake.SetFailPlace(true)
	f.start(t)

	res := f.tick(t)
	if res.Failed != 1 || res.Placed != 0 {
		t.Fatalf("expected one failed placement, got %+v", res)
	}

	rows, err := f.calls.List(context.Background(), calls.ListFilter{OrganizationID: "org1", CampaignID: f.campaign.ID})
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != calls.StatusFailed || rows[0].Disposition != calls.DispositionProviderError {
		t.Fatalf("expected one failed provider_error row, got %+v", rows)
	}
	if rows[0].EndTime == nil {
		t.Fatalf("expected end time on failed row")
	}

	c := f.contact(t, "+12125550101")
	if c.Status != contacts.StatusPending || c.AttemptCount != 1 {
		t.Fatalf("expected pending contact with 1 attempt, got %s/%d", c.Status, c.AttemptCount)
	}
	if c.NextAttemptAt == nil || !c.NextAttemptAt.Equal(f.clock.Now().Add(30*time.Minute)) {
		t.Fatalf("expected retry in 30m, got %v", c.NextAttemptAt)
	}

	s := f.stats(t)
	if s.ContactsDialed != 1 || s.ProviderErrors != 1 || s.ConversionRate != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if res := f.tick(t); res.FreeSlots != 1 || res.Claimed != 0 {
		t.Fatalf("expected the failed call to free its slot and the contact to wait, got %+v", res)
	}
}

func TestTick_PlacementFailureExhaustsAttempts(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxAttemptsPerContact = 1
	f := newFixture(t, cfg, "+12125550101")
	f.fake.SetFailPlace(true)
	f.start(t)
	f.tick(t)

	c := f.contact(t, "+12125550101")
	if c.Status != contacts.StatusFailed || c.LastDisposition != contacts.DispositionMaxAttempts {
		t.Fatalf("expected failed exhausted contact, got %s/%s", c.Status, c.LastDisposition)
	}
	f.clock.Advance(time.Hour)
	if res := f.tick(t); res.Claimed != 0 {
		t.Fatalf("expected exhausted contact never re-dialed, got %+v", res)
	}
	if c := f.contact(t, "+12125550101"); c.AttemptCount != 1 {
		t.Fatalf("expected attempt count to stay at 1, got %d", c.AttemptCount)
	}
}

func TestTick_NoAnswerRetriesAfterDelay(t *testing.T) {
	f := newFixture(t, baseConfig(), "+12125550101")
	f.start(t)
	f.tick(t)
	f.signal(t, 1, telephony.SignalNoAnswer)

	c := f.contact(t, "+12125550101")
	if c.Status != contacts.StatusPending || c.LastDisposition != calls.DispositionNoAnswer {
		t.Fatalf("expected pending retry after no answer, got %s/%s", c.Status, c.LastDisposition)
	}
	if res := f.tick(t); res.Claimed != 0 {
		t.Fatalf("expected retry delay to hold the contact, got %+v", res)
	}
	f.clock.Advance(31 * time.Minute)
	if res := f.tick(t); res.Placed != 1 {
		t.Fatalf("expected retry placement, got %+v", res)
	}
	if c := f.contact(t, "+12125550101"); c.AttemptCount != 2 {
		t.Fatalf("expected 2 attempts, got %d", c.AttemptCount)
	}
	if s := f.stats(t); s.ContactsDialed != 1 || s.ContactsConnected != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestScheduleCallback_HoldsContactUntilDue(t *testing.T) {
	cfg := baseConfig()
	cfg.CallbackEnabled = true
	f := newFixture(t, cfg, "+12125550101")
	ctx := context.Background()
	ct := f.contact(t, "+12125550101")

	when := f.clock.Now().Add(time.Hour)
	got, err := f.e.ScheduleCallback(ctx, f.campaign.ID, ct.ID, when, "after lunch")
	if err != nil {
		t.Fatalf("schedule callback: %v", err)
	}
	if got.Status != contacts.StatusScheduled || !got.NextAttemptAt.Equal(when) || got.Notes != "after lunch" {
		t.Fatalf("unexpected contact: %+v", got)
	}

	f.start(t)
	if res := f.tick(t); res.Claimed != 0 {
		t.Fatalf("expected no selection before callback time, got %+v", res)
	}
	f.clock.Advance(61 * time.Minute)
	if res := f.tick(t); res.Placed != 1 {
		t.Fatalf("expected placement after callback time, got %+v", res)
	}
	if s := f.stats(t); s.Callbacks != 1 {
		t.Fatalf("expected 1 callback, got %d", s.Callbacks)
	}
}

func TestScheduleCallback_Rejections(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, baseConfig(), "+12125550101")
	ct := f.contact(t, "+12125550101")
	if _, err := f.e.ScheduleCallback(ctx, f.campaign.ID, ct.ID, f.clock.Now(), ""); !errors.Is(err, ErrCallbacksDisabled) {
		t.Fatalf("expected ErrCallbacksDisabled, got %v", err)
	}

	cfg := baseConfig()
	cfg.CallbackEnabled = true
	cfg.Compliance.DNCListEnabled = true
	f = newFixture(t, cfg, "+12125550101")
	if err := f.dnc.Add(ctx, "+12125550101"); err != nil {
		t.Fatalf("dnc add: %v", err)
	}
	f.start(t)
	f.tick(t)
	ct = f.contact(t, "+12125550101")
	if _, err := f.e.ScheduleCallback(ctx, f.campaign.ID, ct.ID, f.clock.Now(), ""); !errors.Is(err, contacts.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for dnc contact, got %v", err)
	}
	if _, err := f.e.ScheduleCallback(ctx, f.campaign.ID, "missing", f.clock.Now(), ""); !errors.Is(err, contacts.ErrNotFound) {
		t.Fatalf("expected contacts.ErrNotFound, got %v", err)
	}
	if _, err := f.e.ScheduleCallback(ctx, "missing", ct.ID, f.clock.Now(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompletion_CallbackDisposition(t *testing.T) {
	cfg := baseConfig()
	cfg.CallbackEnabled = true
	f := newFixture(t, cfg, "+12125550101")
	f.start(t)
	f.tick(t)
	f.signal(t, 1, telephony.SignalAnswered)
	if _, err := f.calls.End(context.Background(), f.providerCall(t, 1).ID, calls.EndRequest{Disposition: calls.DispositionCallback}); err != nil {
		t.Fatalf("end: %v", err)
	}

	c := f.contact(t, "+12125550101")
	if c.Status != contacts.StatusScheduled || !c.NextAttemptAt.Equal(f.clock.Now().Add(30*time.Minute)) {
		t.Fatalf("expected callback in 30m, got %s %v", c.Status, c.NextAttemptAt)
	}
	s := f.stats(t)
	if s.Callbacks != 1 || s.ContactsCompleted != 0 || s.ContactsConnected != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestTick_DNCExcludesWithoutPlacing(t *testing.T) {
	cfg := baseConfig()
	cfg.Compliance.DNCListEnabled = true
	f := newFixture(t, cfg, "+12125550101")
	if err := f.dnc.Add(context.Background(), "+12125550101"); err != nil {
		t.Fatalf("dnc add: %v", err)
	}
	f.start(t)

	res := f.tick(t)
	if res.DNCExcluded != 1 || res.Placed != 0 {
		t.Fatalf("expected dnc exclusion, got %+v", res)
	}
	if len(f.fake.Placed()) != 0 {
		t.Fatalf("expected no provider I/O")
	}
	if c := f.contact(t, "+12125550101"); c.Status != contacts.StatusDNCExcluded {
		t.Fatalf("expected dnc_excluded, got %s", c.Status)
	}
	if s := f.stats(t); s.DNCExcluded != 1 || s.ContactsDialed != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	f.clock.Advance(24 * time.Hour)
	if res := f.tick(t); res.Claimed != 0 {
		t.Fatalf("expected dnc contact never selected again, got %+v", res)
	}
}

func TestTick_DNCIgnoredWhenDisabled(t *testing.T) {
	f := newFixture(t, baseConfig(), "+12125550101")
	if err := f.dnc.Add(context.Background(), "+12125550101"); err != nil {
		t.Fatalf("dnc add: %v", err)
	}
	f.start(t)
	if res := f.tick(t); res.Placed != 1 {
		t.Fatalf("expected placement with dnc checks off, got %+v", res)
	}
}

func TestTick_ConsentGates(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentCalls = 2
	cfg.Compliance.ConsentRequired = true
	cfg.Compliance.RecordingConsent = true
	f := newFixture(t, cfg, "+12125550101", "+12125550102")
	f.consent.AllowAll = false
	_ = f.consent.Grant(context.Background(), true, "+12125550101")
	f.start(t)

	res := f.tick(t)
	if res.Placed != 1 || res.DNCExcluded != 1 {
		t.Fatalf("expected one placement and one exclusion, got %+v", res)
	}
	placed := f.fake.Placed()
	if len(placed) != 1 || placed[0].To != "+12125550101" || !placed[0].Record {
		t.Fatalf("expected recorded call to consenting contact, got %+v", placed)
	}
	c := f.contact(t, "+12125550102")
	if c.Status != contacts.StatusDNCExcluded || c.LastDisposition != DispositionConsentMissing {
		t.Fatalf("expected consent_missing exclusion, got %s/%s", c.Status, c.LastDisposition)
	}
}

func TestTick_OutsideDialingHours(t *testing.T) {
	cfg := baseConfig()
	cfg.DialingHours = DialingHours{StartTime: "09:00", EndTime: "17:00", Timezone: "America/New_York"}
	f := newFixture(t, cfg, "+12125550101")
	f.clock.now = time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC) // 21:00 in New York
	f.start(t)

	if res := f.tick(t); res.Skipped != SkipOutsideHours {
		t.Fatalf("expected outside hours, got %+v", res)
	}
	if c := f.contact(t, "+12125550101"); c.Status != contacts.StatusPending || c.AttemptCount != 0 {
		t.Fatalf("expected untouched contact, got %s/%d", c.Status, c.AttemptCount)
	}
	f.clock.Advance(13 * time.Hour) // 10:00 in New York
	if res := f.tick(t); res.Placed != 1 {
		t.Fatalf("expected placement inside hours, got %+v", res)
	}
}

func TestTick_ProviderTimeoutIsFailure(t *testing.T) {
	f := newFixture(t, baseConfig(), "+12125550101")
	f.e.placementTimeout = 20 * time.Millisecond
	f.fake.Block = true
	f.start(t)

	res := f.tick(t)
	if res.Failed != 1 {
		t.Fatalf("expected timeout to count as failure, got %+v", res)
	}
	if c := f.contact(t, "+12125550101"); c.Status != contacts.StatusPending {
		t.Fatalf("expected pending contact, got %s", c.Status)
	}
}

func TestActiveCallsNeverExceedCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrentCalls = 3
	f := newFixture(t, cfg, "+12125550101", "+12125550102", "+12125550103", "+12125550104", "+12125550105")
	f.start(t)

	if res := f.tick(t); res.Placed != 3 {
		t.Fatalf("expected 3 placements, got %+v", res)
	}
	if res := f.tick(t); res.Skipped != SkipNoFreeSlots {
		t.Fatalf("expected cap reached, got %+v", res)
	}
	f.signal(t, 2, telephony.SignalBusy)
	res := f.tick(t)
	if res.FreeSlots != 1 || res.Placed != 1 {
		t.Fatalf("expected exactly one freed slot to be reused, got %+v", res)
	}
	if got := len(f.fake.Placed()); got != 4 {
		t.Fatalf("expected 4 placements in total, got %d", got)
	}
}

func TestStartStopContract(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, baseConfig(), "+12125550101")

	if _, err := f.e.Tick(ctx, f.campaign.ID); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive before start, got %v", err)
	}
	stopped, err := f.e.Stop(ctx, f.campaign.ID)
	if err != nil || stopped.Active {
		t.Fatalf("expected stop on inactive campaign to be a no-op, got %+v %v", stopped, err)
	}

	started, err := f.e.Start(ctx, f.campaign.ID)
	if err != nil || !started.Active || started.StartedAt == nil {
		t.Fatalf("expected active campaign, got %+v %v", started, err)
	}
	if _, err := f.e.Start(ctx, f.campaign.ID); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if got := f.e.ActiveCampaigns(); len(got) != 1 || got[0] != f.campaign.ID {
		t.Fatalf("expected one scheduled campaign, got %v", got)
	}
	if _, err := f.e.UpdateConfig(ctx, f.campaign.ID, baseConfig()); !errors.Is(err, ErrCampaignActive) {
		t.Fatalf("expected ErrCampaignActive, got %v", err)
	}

	stopped, err = f.e.Stop(ctx, f.campaign.ID)
	if err != nil || stopped.Active || stopped.StoppedAt == nil {
		t.Fatalf("expected inactive campaign, got %+v %v", stopped, err)
	}
	if got := f.e.ActiveCampaigns(); len(got) != 0 {
		t.Fatalf("expected no scheduled campaigns, got %v", got)
	}
	if _, err := f.e.Stop(ctx, f.campaign.ID); err != nil {
		t.Fatalf("expected second stop to be a no-op, got %v", err)
	}
	if _, err := f.e.Start(ctx, f.campaign.ID); err != nil {
		t.Fatalf("expected restart, got %v", err)
	}

	for _, op := range []func() error{
		func() error { _, err := f.e.Start(ctx, "missing"); return err },
		func() error { _, err := f.e.Stop(ctx, "missing"); return err },
		func() error { _, err := f.e.Tick(ctx, "missing"); return err },
		func() error { _, err := f.e.GetStats(ctx, "missing"); return err },
	} {
		if err := op(); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
}

func TestStop_LateCompletionUpdatesPersistedStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, baseConfig(), "+12125550101")
	f.start(t)
	f.tick(t)
	f.signal(t, 1, telephony.SignalAnswered)

	if _, err := f.e.Stop(ctx, f.campaign.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(f.fake.Ended()) != 0 {
		t.Fatalf("expected stop to leave live calls alone")
	}
	if call := f.providerCall(t, 1); call.Status != calls.StatusInProgress {
		t.Fatalf("expected call still in progress, got %s", call.Status)
	}

	f.clock.Advance(90 * time.Second)
	if _, err := f.calls.End(ctx, f.providerCall(t, 1).ID, calls.EndRequest{Disposition: calls.DispositionSuccess}); err != nil {
		t.Fatalf("end: %v", err)
	}

	persisted, err := f.repo.Get(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if persisted.Active || persisted.Stats.ContactsCompleted != 1 || persisted.Stats.AvgCallDurationSeconds != 90 {
		t.Fatalf("expected late completion in persisted stats, got %+v", persisted.Stats)
	}
	if s := f.stats(t); s.ContactsDialed != 1 {
		t.Fatalf("expected stats snapshot after stop, got %+v", s)
	}
}

func TestResume_ReattachesPersistedActiveCampaigns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, baseConfig(), "+12125550101")
	if _, err := f.repo.Update(ctx, f.campaign.ID, func(c *Campaign) error {
		c.Active = true
		c.Stats.ContactsDialed = 4
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := f.e.Resume(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 resumed campaign, got %d %v", n, err)
	}
	if res := f.tick(t); res.Placed != 1 {
		t.Fatalf("expected resumed campaign to dial, got %+v", res)
	}
	if s := f.stats(t); s.ContactsDialed != 4 {
		t.Fatalf("expected resumed stats, got %+v", s)
	}
	if n, _ := f.e.Resume(ctx); n != 0 {
		t.Fatalf("expected resume to be idempotent, got %d", n)
	}
}

func TestImportContacts_UpdatesTotal(t *testing.T) {
	f := newFixture(t, baseConfig(), "+12125550101", "2125550102", "bad")
	if s := f.stats(t); s.TotalContacts != 2 {
		t.Fatalf("expected 2 contacts, got %d", s.TotalContacts)
	}
	if _, err := f.e.ImportContacts(context.Background(), "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateCampaign_Validation(t *testing.T) {
	f := newFixture(t, baseConfig())
	ctx := context.Background()

	cases := []struct {
		name string
		n    NewCampaign
	}{
		{"missing org", NewCampaign{Name: "x", FromNumber: "+12125550100"}},
		{"missing name", NewCampaign{OrganizationID: "org1", FromNumber: "+12125550100"}},
		{"bad from number", NewCampaign{OrganizationID: "org1", Name: "x", FromNumber: "123"}},
		{"too many slots", NewCampaign{OrganizationID: "org1", Name: "x", FromNumber: "+12125550100", Config: Config{MaxConcurrentCalls: 5000}}},
		{"bad type", NewCampaign{OrganizationID: "org1", Name: "x", Type: "predictive", FromNumber: "+12125550100"}},
		{"half window", NewCampaign{OrganizationID: "org1", Name: "x", FromNumber: "+12125550100", Config: Config{DialingHours: DialingHours{StartTime: "09:00"}}}},
		{"bad clock", NewCampaign{OrganizationID: "org1", Name: "x", FromNumber: "+12125550100", Config: Config{DialingHours: DialingHours{StartTime: "9am", EndTime: "17:00"}}}},
		{"bad timezone", NewCampaign{OrganizationID: "org1", Name: "x", FromNumber: "+12125550100", Config: Config{DialingHours: DialingHours{Timezone: "Mars/Olympus"}}}},
		{"unknown provider", NewCampaign{OrganizationID: "org1", Name: "x", FromNumber: "+12125550100", Provider: "acme"}},
		{"empty inbound target", NewCampaign{OrganizationID: "org1", Name: "x", FromNumber: "+12125550100", Config: Config{InboundTargets: []WeightedTarget{{Target: "", Weight: 1}}}}},
	}
	for _, tc := range cases {
		if _, err := f.e.CreateCampaign(ctx, tc.n); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}

	c, err := f.e.CreateCampaign(ctx, NewCampaign{OrganizationID: "org1", Name: "defaults", FromNumber: "(212) 555-0199"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Type != TypeOutbound || c.FromNumber != "+12125550199" || c.Config.MaxConcurrentCalls != 1 || c.Config.MaxAttemptsPerContact != 3 || c.Active {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestRouteOutcome(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	answered := now.Add(-time.Minute)
	cfg := Config{MaxAttemptsPerContact: 2, TimeBetweenAttemptsMinutes: 10}
	calling := contacts.Contact{ID: "c1", Status: contacts.StatusCalling, AttemptCount: 1}
	exhausted := contacts.Contact{ID: "c1", Status: contacts.StatusCalling, AttemptCount: 2}

	cases := []struct {
		name     string
		ct       contacts.Contact
		call     calls.Call
		status   contacts.Status
		route    bool
		callback bool
	}{
		{"success", calling, calls.Call{Status: calls.StatusCompleted, Disposition: "success", AnsweredAt: &answered}, contacts.StatusCompleted, true, false},
		{"operator code", calling, calls.Call{Status: calls.StatusCompleted, Disposition: "not_interested", AnsweredAt: &answered}, contacts.StatusCompleted, true, false},
		{"voicemail retries", calling, calls.Call{Status: calls.StatusCompleted, Disposition: "voicemail", AnsweredAt: &answered}, contacts.StatusPending, true, false},
		{"busy retries", calling, calls.Call{Status: calls.StatusBusy, Disposition: "busy"}, contacts.StatusPending, true, false},
		{"busy exhausted", exhausted, calls.Call{Status: calls.StatusBusy, Disposition: "busy"}, contacts.StatusFailed, true, false},
		{"callback disabled retries", calling, calls.Call{Status: calls.StatusCompleted, Disposition: "callback", AnsweredAt: &answered}, contacts.StatusPending, true, false},
		{"dnc", calling, calls.Call{Status: calls.StatusCompleted, Disposition: "dnc", AnsweredAt: &answered}, contacts.StatusDNCExcluded, true, false},
		{"unanswered success is not a conversion", calling, calls.Call{Status: calls.StatusNoAnswer, Disposition: "success"}, contacts.StatusPending, true, false},
		{"already scheduled", contacts.Contact{Status: contacts.StatusScheduled}, calls.Call{Status: calls.StatusBusy}, "", false, false},
	}
	for _, tc := range cases {
		o, callback, route := routeOutcome(cfg, tc.ct, tc.call, now)
		if route != tc.route || callback != tc.callback || o.Status != tc.status {
			t.Fatalf("%s: expected %s route=%v callback=%v, got %s route=%v callback=%v", tc.name, tc.status, tc.route, tc.callback, o.Status, route, callback)
		}
	}

	cfg.CallbackEnabled = true
	o, callback, _ := routeOutcome(cfg, calling, calls.Call{Status: calls.StatusCompleted, Disposition: "callback", AnsweredAt: &answered}, now)
	if o.Status != contacts.StatusScheduled || !callback || !o.NextAttemptAt.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("expected scheduled callback in 10m, got %+v %v", o, callback)
	}
}

func TestApplyCompletion(t *testing.T) {
	answered := time.Now()
	d := func(n int) *int { return &n }
	var s Stats
	applyCompletion(&s, calls.Call{Status: calls.StatusNoAnswer, Disposition: "no_answer", DurationSeconds: d(30)}, false)
	applyCompletion(&s, calls.Call{Status: calls.StatusFailed, Disposition: "provider_error", DurationSeconds: d(0)}, false)
	applyCompletion(&s, calls.Call{Status: calls.StatusCompleted, Disposition: "completed", AnsweredAt: &answered, DurationSeconds: d(100)}, false)
	applyCompletion(&s, calls.Call{Status: calls.StatusCompleted, Disposition: "success", AnsweredAt: &answered, DurationSeconds: d(200)}, true)

	if s.ContactsDialed != 4 || s.ContactsConnected != 2 || s.ContactsCompleted != 2 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.AvgCallDurationSeconds != 150 || s.ConversionRate != 0.5 {
		t.Fatalf("expected avg 150 and rate 0.5, got %v %v", s.AvgCallDurationSeconds, s.ConversionRate)
	}
	if s.ProviderErrors != 1 || s.Callbacks != 1 {
		t.Fatalf("unexpected side counters: %+v", s)
	}
}

// engine builds a second engine over the fixture's stores, as a restarted
// process would.
func (f *fixture) engine(t *testing.T, edit func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		Campaigns:    f.repo,
		Contacts:     f.store,
		Calls:        f.calls,
		Providers:    telephony.NewRegistry("fake", f.fake),
		DNC:          f.dnc,
		Consent:      f.consent,
		Clock:        f.clock.Now,
		TickInterval: time.Hour,
	}
	if edit != nil {
		edit(&opts)
	}
	e := NewEngine(opts)
	f.calls.Subscribe(e)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func liveRuntimes(e *Engine) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runtimes)
}

// corruptingStore hands out claims whose stored number no longer parses.
type corruptingStore struct {
	*contacts.MemoryStore
}

func (s corruptingStore) MarkDialing(ctx context.Context, contactID string, maxAttempts int, now time.Time) (contacts.Contact, error) {
	c, err := s.MemoryStore.MarkDialing(ctx, contactID, maxAttempts, now)
	c.PhoneNumber = "12345"
	return c, err
}

type failingDNC struct{}

func (failingDNC) IsExcluded(ctx context.Context, phone string) (bool, error) {
	return false, errors.New("dnc backend unavailable")
}

func TestResume_CountsCallsPlacedBeforeRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, baseConfig(), "+12125550101", "+12125550102")
	f.start(t)
	if res := f.tick(t); res.Placed != 1 {
		t.Fatalf("expected one placement, got %+v", res)
	}
	f.e.Close(ctx)

	restarted := f.engine(t, nil)
	if n, err := restarted.Resume(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 resumed campaign, got %d %v", n, err)
	}
	res, err := restarted.Tick(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Skipped != SkipNoFreeSlots || res.Placed != 0 {
		t.Fatalf("expected the live call to hold the only slot, got %+v", res)
	}
	if got := len(f.fake.Placed()); got != 1 {
		t.Fatalf("expected 1 provider placement, got %d", got)
	}

	f.signal(t, 1, telephony.SignalCompleted)
	if res, err = restarted.Tick(ctx, f.campaign.ID); err != nil || res.Placed != 1 {
		t.Fatalf("expected the freed slot to be reused, got %+v %v", res, err)
	}
	if c := f.contact(t, "+12125550101"); c.Status != contacts.StatusPending || c.LastDisposition != calls.DispositionNoAnswer {
		t.Fatalf("expected first contact settled by the restarted engine, got %s/%s", c.Status, c.LastDisposition)
	}
}

func TestTick_PollsQuietCallsAndFreesTheirSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, baseConfig(), "+12125550101", "+12125550102")
	f.start(t)
	f.tick(t)

	// the provider hangs up but its status callback never arrives
	if err := f.fake.EndCall(ctx, "fake-call-1"); err != nil {
		t.Fatalf("end call: %v", err)
	}
	f.clock.Advance(time.Minute)
	if res := f.tick(t); res.Skipped != SkipNoFreeSlots {
		t.Fatalf("expected the slot held before the call goes quiet, got %+v", res)
	}

	f.clock.Advance(2 * time.Minute)
	res := f.tick(t)
	if res.Placed != 1 {
		t.Fatalf("expected the polled call to free its slot, got %+v", res)
	}
	if call := f.providerCall(t, 1); !call.Status.Terminal() {
		t.Fatalf("expected polled call to be terminal, got %s", call.Status)
	}
	if c := f.contact(t, "+12125550101"); c.Status != contacts.StatusPending || c.LastDisposition != calls.DispositionNoAnswer {
		t.Fatalf("expected first contact queued for retry, got %s/%s", c.Status, c.LastDisposition)
	}
	if s := f.stats(t); s.ContactsDialed != 1 {
		t.Fatalf("expected the polled completion counted once, got %+v", s)
	}
}

func TestTick_PollingLiveCallKeepsSlot(t *testing.T) {
	f := newFixture(t, baseConfig(), "+12125550101", "+12125550102")
	f.start(t)
	f.tick(t)
	f.signal(t, 1, telephony.SignalAnswered)

	f.clock.Advance(10 * time.Minute)
	if res := f.tick(t); res.Skipped != SkipNoFreeSlots {
		t.Fatalf("expected an answered call to keep its slot, got %+v", res)
	}
	if call := f.providerCall(t, 1); call.Status != calls.StatusInProgress {
		t.Fatalf("expected call still in progress, got %s", call.Status)
	}
}

func TestTick_MalformedStoredNumberFailsWithoutPlacing(t *testing.T) {
	f := newFixture(t, baseConfig(), "+12125550101")
	e := f.engine(t, func(o *Options) { o.Contacts = corruptingStore{f.store} })
	ctx := context.Background()
	if _, err := e.Start(ctx, f.campaign.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := e.Tick(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.InvalidNumbers != 1 || res.Placed != 0 {
		t.Fatalf("expected one invalid number, got %+v", res)
	}
	if got := len(f.fake.Placed()); got != 0 {
		t.Fatalf("expected no provider I/O, got %d placements", got)
	}
	c := f.contact(t, "+12125550101")
	if c.Status != contacts.StatusFailed || c.LastDisposition != contacts.DispositionInvalidNumber {
		t.Fatalf("expected failed invalid_number contact, got %s/%s", c.Status, c.LastDisposition)
	}
	s, err := e.GetStats(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.InvalidNumbers != 1 || s.ContactsDialed != 0 {
		t.Fatalf("expected 1 invalid number and nothing dialed, got %+v", s)
	}
}

func TestTick_ReleasedCallbackStaysScheduled(t *testing.T) {
	cfg := baseConfig()
	cfg.CallbackEnabled = true
	cfg.Compliance.DNCListEnabled = true
	f := newFixture(t, cfg, "+12125550101")
	ctx := context.Background()

	when := f.clock.Now().Add(time.Hour)
	ct := f.contact(t, "+12125550101")
	if _, err := f.e.ScheduleCallback(ctx, f.campaign.ID, ct.ID, when, ""); err != nil {
		t.Fatalf("schedule callback: %v", err)
	}

	e := f.engine(t, func(o *Options) { o.DNC = failingDNC{} })
	if _, err := e.Start(ctx, f.campaign.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(61 * time.Minute)
	res, err := e.Tick(ctx, f.campaign.ID)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Released != 1 || res.Placed != 0 {
		t.Fatalf("expected the claim released, got %+v", res)
	}
	c := f.contact(t, "+12125550101")
	if c.Status != contacts.StatusScheduled || c.NextAttemptAt == nil || !c.NextAttemptAt.Equal(when) {
		t.Fatalf("expected callback kept at %v, got %s/%v", when, c.Status, c.NextAttemptAt)
	}
	if c.AttemptCount != 0 {
		t.Fatalf("expected the attempt refunded, got %d", c.AttemptCount)
	}
}

func TestScreenNumber(t *testing.T) {
	cfg := baseConfig()
	cfg.Compliance.DNCListEnabled = true
	cfg.Compliance.ConsentRequired = true
	f := newFixture(t, cfg)
	f.consent.AllowAll = false
	ctx := context.Background()
	if err := f.dnc.Add(ctx, "+12125550101"); err != nil {
		t.Fatalf("dnc add: %v", err)
	}
	_ = f.consent.Grant(ctx, false, "+12125550103")

	if _, err := f.e.ScreenNumber(ctx, f.campaign, "(212) 555-0101"); !errors.Is(err, compliance.ErrDNCExcluded) {
		t.Fatalf("expected ErrDNCExcluded, got %v", err)
	}
	if _, err := f.e.ScreenNumber(ctx, f.campaign, "2125550102"); !errors.Is(err, compliance.ErrConsentMissing) {
		t.Fatalf("expected ErrConsentMissing, got %v", err)
	}
	if _, err := f.e.ScreenNumber(ctx, f.campaign, "12345"); !errors.Is(err, calls.ErrInvalidCall) {
		t.Fatalf("expected ErrInvalidCall, got %v", err)
	}
	got, err := f.e.ScreenNumber(ctx, f.campaign, "212-555-0103")
	if err != nil || got != "+12125550103" {
		t.Fatalf("expected normalized number, got %q %v", got, err)
	}
}

func TestDormantRuntimesAreEvicted(t *testing.T) {
	cfg := baseConfig()
	cfg.CallbackEnabled = true
	f := newFixture(t, cfg, "+12125550101", "+12125550102")
	ctx := context.Background()
	if n := liveRuntimes(f.e); n != 0 {
		t.Fatalf("expected no runtime after import, got %d", n)
	}

	ct := f.contact(t, "+12125550102")
	if _, err := f.e.ScheduleCallback(ctx, f.campaign.ID, ct.ID, f.clock.Now().Add(time.Hour), ""); err != nil {
		t.Fatalf("schedule callback: %v", err)
	}
	if n := liveRuntimes(f.e); n != 0 {
		t.Fatalf("expected no runtime after callback, got %d", n)
	}

	f.start(t)
	f.tick(t)
	if _, err := f.e.Stop(ctx, f.campaign.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if n := liveRuntimes(f.e); n != 1 {
		t.Fatalf("expected the runtime kept for its live call, got %d", n)
	}

	f.signal(t, 1, telephony.SignalBusy)
	if n := liveRuntimes(f.e); n != 0 {
		t.Fatalf("expected the runtime evicted after its last call, got %d", n)
	}
	if s := f.stats(t); s.ContactsDialed != 1 || s.Callbacks != 1 || s.TotalContacts != 2 {
		t.Fatalf("expected persisted stats after eviction, got %+v", s)
	}

	f.start(t)
	if n := liveRuntimes(f.e); n != 1 {
		t.Fatalf("expected a fresh runtime on restart, got %d", n)
	}
}
