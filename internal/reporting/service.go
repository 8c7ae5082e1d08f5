package reporting

import (
	"context"
	"errors"
	"fmt"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/dialer"
)

var (
	ErrInvalidRequest = errors.New("reporting: invalid request")
	ErrNotFound       = errors.New("reporting: campaign not found")
)

// Sources abstract data access for reporting.
//
// IMPORTANT:
// - Methods must enforce organization filtering.
// - Reports read call records and contact rows; they never write.
type CallSource interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.Call, error)
}

type ContactSource interface {
	List(ctx context.Context, campaignID string, f contacts.ListFilter) ([]contacts.Contact, error)
}

type CampaignSource interface {
	Get(ctx context.Context, id string) (dialer.Campaign, error)
}

type Service struct {
	calls     CallSource
	contacts  ContactSource
	campaigns CampaignSource
}

func NewService(calls CallSource, contacts ContactSource, campaigns CampaignSource) *Service {
	return &Service{calls: calls, contacts: contacts, campaigns: campaigns}
}

func (s *Service) CallStats(ctx context.Context, req CallStatsRequest) (CallStats, error) {
	if req.OrganizationID == "" {
		return CallStats{}, ErrInvalidRequest
	}
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CallStats{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return CallStats{}, errors.New("reporting: call source not configured")
	}

	rows, err := s.calls.List(ctx, calls.ListFilter{
		OrganizationID: req.OrganizationID,
		CampaignID:     req.CampaignID,
		AgentID:        req.AgentID,
		Direction:      req.Direction,
		From:           req.Range.From,
		To:             req.Range.To,
	})
	if err != nil {
		return CallStats{}, err
	}

	out := CallStats{OrganizationID: req.OrganizationID, CampaignID: req.CampaignID, Dispositions: map[string]int{}}
	for _, c := range rows {
		out.TotalCalls++
		if c.Disposition != "" {
			out.Dispositions[c.Disposition]++
		}
		if c.AnsweredAt != nil {
			out.AnsweredCalls++
			if c.Disposition == calls.DispositionSuccess || c.Disposition == calls.DispositionCompleted {
				out.Conversions++
			}
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
			if c.DurationSeconds != nil {
				out.TotalDurationSeconds += *c.DurationSeconds
			}
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusInProgress:
			out.InProgressCalls++
		case calls.StatusQueued, calls.StatusRinging:
			out.PendingCalls++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = float64(out.TotalDurationSeconds) / float64(out.CompletedCalls)
	}
	if out.TotalCalls > 0 {
		out.ConnectionRate = float64(out.AnsweredCalls) / float64(out.TotalCalls)
		out.ConversionRate = float64(out.Conversions) / float64(out.TotalCalls)
	}
	return out, nil
}

func (s *Service) ComplianceReport(ctx context.Context, organizationID, campaignID string) (ComplianceReport, error) {
	if organizationID == "" || campaignID == "" {
		return ComplianceReport{}, ErrInvalidRequest
	}
	if s.contacts == nil || s.calls == nil || s.campaigns == nil {
		return ComplianceReport{}, errors.New("reporting: sources not configured")
	}

	c, err := s.campaigns.Get(ctx, campaignID)
	if errors.Is(err, dialer.ErrNotFound) {
		return ComplianceReport{}, ErrNotFound
	}
	if err != nil {
		return ComplianceReport{}, fmt.Errorf("get campaign: %w", err)
	}
	if c.OrganizationID != organizationID {
		// never leak that another organization's campaign exists
		return ComplianceReport{}, ErrNotFound
	}

	list, err := s.contacts.List(ctx, campaignID, contacts.ListFilter{})
	if err != nil {
		return ComplianceReport{}, fmt.Errorf("list contacts: %w", err)
	}
	out := ComplianceReport{
		OrganizationID:     organizationID,
		CampaignID:         campaignID,
		ByStatus:           map[string]int{},
		ProviderErrorCalls: []calls.Call{},
	}
	for _, ct := range list {
		out.TotalContacts++
		out.ByStatus[string(ct.Status)]++
		switch {
		case ct.Status == contacts.StatusDNCExcluded && ct.LastDisposition == dialer.DispositionConsentMissing:
			out.ConsentMissing++
		case ct.Status == contacts.StatusDNCExcluded:
			out.DNCExcluded++
		case ct.Status == contacts.StatusFailed && ct.LastDisposition == contacts.DispositionInvalidNumber:
			out.InvalidNumbers++
		case ct.Status == contacts.StatusFailed && ct.LastDisposition == contacts.DispositionMaxAttempts:
			out.AttemptsExhausted++
		}
	}

	failed, err := s.calls.List(ctx, calls.ListFilter{
		OrganizationID: organizationID,
		CampaignID:     campaignID,
		Status:         calls.StatusFailed,
	})
	if err != nil {
		return ComplianceReport{}, fmt.Errorf("list failed calls: %w", err)
	}
	for _, call := range failed {
		if call.Disposition == calls.DispositionProviderError {
			out.ProviderErrorCalls = append(out.ProviderErrorCalls, call)
		}
	}
	return out, nil
}
