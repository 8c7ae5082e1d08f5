package contacts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newStore() *MemoryStore {
	return NewMemoryStore().WithClock(func() time.Time { return t0 })
}

func TestImport_CountsFailuresAndDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	if _, err := s.Import(ctx, "camp", []Record{{PhoneNumber: "2125550100"}}); err != nil {
		t.Fatalf("seed import: %v", err)
	}

	rows := []Record{
		{PhoneNumber: "2125550101"},
		{PhoneNumber: "2125550102"},
		{PhoneNumber: "2125550103"},
		{PhoneNumber: "12125550104"},
		{PhoneNumber: "+12125550105"},
		{PhoneNumber: "(212) 555-0106"},
		{PhoneNumber: "212.555.0107"},
		{PhoneNumber: "123"},
		{PhoneNumber: ""},
		{PhoneNumber: "+1 212 555 0100"},
	}
	res, err := s.Import(ctx, "camp", rows)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res != (ImportResult{Imported: 7, Failed: 2, Duplicates: 1}) {
		t.Fatalf("expected {7 2 1}, got %+v", res)
	}

	n, _ := s.Count(ctx, "camp")
	if n != 8 {
		t.Fatalf("expected 8 contacts, got %d", n)
	}
	other, _ := s.Count(ctx, "other")
	if other != 0 {
		t.Fatalf("expected campaigns to be isolated, got %d", other)
	}
}

func TestNextEligible_OrderAndFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	if _, err := s.Import(ctx, "camp", []Record{
		{PhoneNumber: "2125550101"},
		{PhoneNumber: "2125550102"},
		{PhoneNumber: "2125550103"},
		{PhoneNumber: "2125550104"},
	}); err != nil {
		t.Fatalf("import: %v", err)
	}
	all, _ := s.List(ctx, "camp", ListFilter{})

	// first: callback due later, second: dnc, third: retry not yet due
	if _, err := s.ScheduleCallback(ctx, all[0].ID, t0.Add(time.Hour), "call back", t0); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if _, err := s.MarkOutcome(ctx, all[1].ID, Outcome{Status: StatusDNCExcluded}, t0); err != nil {
		t.Fatalf("dnc: %v", err)
	}
	later := t0.Add(30 * time.Minute)
	if _, err := s.MarkOutcome(ctx, all[2].ID, Outcome{Status: StatusPending, NextAttemptAt: &later}, t0); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, err := s.NextEligible(ctx, "camp", t0, 10)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(got) != 1 || got[0].ID != all[3].ID {
		t.Fatalf("expected only the untouched contact, got %+v", got)
	}

	got, _ = s.NextEligible(ctx, "camp", t0.Add(2*time.Hour), 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 eligible after delays pass, got %d", len(got))
	}
	if got[0].ID != all[3].ID || got[1].ID != all[2].ID || got[2].ID != all[0].ID {
		t.Fatalf("expected due-time order, got %s %s %s", got[0].PhoneNumber, got[1].PhoneNumber, got[2].PhoneNumber)
	}

	got, _ = s.NextEligible(ctx, "camp", t0.Add(2*time.Hour), 2)
	if len(got) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}
}

func TestMarkDialing_SingleFlight(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	if _, err := s.Import(ctx, "camp", []Record{{PhoneNumber: "2125550101"}}); err != nil {
		t.Fatalf("import: %v", err)
	}
	c, _ := s.List(ctx, "camp", ListFilter{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.MarkDialing(ctx, c[0].ID, 3, t0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins)
	}

	got, _ := s.Get(ctx, c[0].ID)
	if got.Status != StatusCalling || got.AttemptCount != 1 {
		t.Fatalf("expected calling with 1 attempt, got %s/%d", got.Status, got.AttemptCount)
	}
}

func TestMarkDialing_ExhaustedBecomesFailed(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	if _, err := s.Import(ctx, "camp", []Record{{PhoneNumber: "2125550101"}}); err != nil {
		t.Fatalf("import: %v", err)
	}
	c, _ := s.List(ctx, "camp", ListFilter{})
	id := c[0].ID

	if _, err := s.MarkDialing(ctx, id, 1, t0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.MarkOutcome(ctx, id, Outcome{Status: StatusPending}, t0); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	got, err := s.MarkDialing(ctx, id, 1, t0)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if got.Status != StatusFailed || got.AttemptCount != 1 {
		t.Fatalf("expected failed with attempt count kept at cap, got %s/%d", got.Status, got.AttemptCount)
	}
	if _, err := s.MarkDialing(ctx, id, 1, t0); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("expected failed contact to stay unclaimable, got %v", err)
	}
}

func TestMarkOutcome_DNCIsSticky(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	if _, err := s.Import(ctx, "camp", []Record{{PhoneNumber: "2125550101"}}); err != nil {
		t.Fatalf("import: %v", err)
	}
	c, _ := s.List(ctx, "camp", ListFilter{})
	id := c[0].ID

	if _, err := s.MarkOutcome(ctx, id, Outcome{Status: StatusDNCExcluded, Disposition: "dnc"}, t0); err != nil {
		t.Fatalf("dnc: %v", err)
	}
	if _, err := s.MarkOutcome(ctx, id, Outcome{Status: StatusPending}, t0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState leaving dnc, got %v", err)
	}
	if _, err := s.ScheduleCallback(ctx, id, t0.Add(time.Hour), "", t0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState scheduling dnc contact, got %v", err)
	}
	got, _ := s.Get(ctx, id)
	if got.Status != StatusDNCExcluded {
		t.Fatalf("expected dnc_excluded, got %s", got.Status)
	}
}

func TestMarkOutcome_RefundAttempt(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	if _, err := s.Import(ctx, "camp", []Record{{PhoneNumber: "2125550101"}}); err != nil {
		t.Fatalf("import: %v", err)
	}
	c, _ := s.List(ctx, "camp", ListFilter{})
	if _, err := s.MarkDialing(ctx, c[0].ID, 3, t0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	got, err := s.MarkOutcome(ctx, c[0].ID, Outcome{Status: StatusPending, RefundAttempt: true}, t0)
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if got.AttemptCount != 0 || got.Status != StatusPending {
		t.Fatalf("expected refunded pending contact, got %s/%d", got.Status, got.AttemptCount)
	}
}

func TestUnknownContact(t *testing.T) {
	s := newStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.MarkDialing(context.Background(), "nope", 1, t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
