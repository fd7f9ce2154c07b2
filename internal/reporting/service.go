package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"voicegate/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce tenant filtering.
// - Totals are grouped by session status over sessions started in [from, to).

type Repository interface {
	StatusTotals(ctx context.Context, tenantID string, from, to time.Time) ([]StatusTotal, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.StatusTotals(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TenantID: req.TenantID, Range: req.Range, TotalCost: decimal.Zero}
	for _, r := range rows {
		out.TotalCalls += r.Calls
		out.BlockedCalls += r.Calls - r.BillableCalls
		out.TotalDurationSeconds += r.DurationSeconds
		out.TotalCost = out.TotalCost.Add(r.Cost)
		if out.Currency == "" {
			out.Currency = r.Currency
		}
		switch r.Status {
		case calls.StatusCompleted:
			out.CompletedCalls += r.Calls
		case calls.StatusFailed:
			out.FailedCalls += r.Calls
		case calls.StatusNoAnswer:
			out.NoAnswerCalls += r.Calls
		case calls.StatusInProgress:
			out.InProgressCalls += r.Calls
		case calls.StatusRinging:
			out.RingingCalls += r.Calls
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}
