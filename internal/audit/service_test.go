package audit

import (
	"context"
	"testing"
	"time"

	"dialer-platform/internal/auth"
)

func TestService_AppendRequiresOrganizationAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventTypeCampaignStarted}); err == nil {
		t.Fatalf("expected error without organization")
	}
	if err := svc.Append(context.Background(), Event{OrganizationID: "o"}); err == nil {
		t.Fatalf("expected error without type")
	}
}

func TestService_CapturesActorAndIPFromContext(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	ctx := auth.WithIdentity(context.Background(), auth.Identity{UserID: "u1", OrganizationID: "o", Role: "supervisor"})
	ctx = WithClientIP(ctx, "1.2.3.4")
	svc.Record(ctx, Event{OrganizationID: "o", Type: EventTypeCampaignStopped, CampaignID: "c1"})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ActorUserID != "u1" || e.ActorRole != "supervisor" {
		t.Fatalf("expected actor from context, got %q/%q", e.ActorUserID, e.ActorRole)
	}
	if e.IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured, got %q", e.IPAddress)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned")
	}
}

func TestService_RecordOnNilServiceIsNoop(t *testing.T) {
	var svc *Service
	svc.Record(context.Background(), Event{OrganizationID: "o", Type: EventTypeCallEnded})
}

func TestService_ListScopesToOrganizationNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	svc.Record(ctx, Event{OrganizationID: "o", Type: EventTypeCampaignStarted, CampaignID: "c1", CreatedAt: base})
	svc.Record(ctx, Event{OrganizationID: "o", Type: EventTypeCampaignStopped, CampaignID: "c1", CreatedAt: base.Add(time.Hour)})
	svc.Record(ctx, Event{OrganizationID: "o", Type: EventTypeCampaignStarted, CampaignID: "c2", CreatedAt: base})
	svc.Record(ctx, Event{OrganizationID: "other", Type: EventTypeCampaignStarted, CampaignID: "c1", CreatedAt: base})

	got, err := svc.List(ctx, ListFilter{OrganizationID: "o", CampaignID: "c1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != EventTypeCampaignStopped {
		t.Fatalf("expected newest first, got %s", got[0].Type)
	}

	got, _ = svc.List(ctx, ListFilter{OrganizationID: "o", Type: EventTypeCampaignStarted, Limit: 1})
	if len(got) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}

	if _, err := svc.List(ctx, ListFilter{}); err == nil {
		t.Fatalf("expected error without organization")
	}
}
