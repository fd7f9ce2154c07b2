package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"voicegate/internal/calls"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Tenant isolation: TenantID is required.

type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

// StatusTotal is one status bucket as aggregated by the repository.
type StatusTotal struct {
	Status          calls.Status
	Calls           int
	BillableCalls   int
	DurationSeconds int
	Cost            decimal.Decimal
	Currency        string
}

type CallsSummary struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	RingingCalls    int `json:"ringing_calls"`

	// BlockedCalls were refused by the entitlement gate.
	BlockedCalls int `json:"blocked_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	TotalCost decimal.Decimal `json:"total_cost"`
	Currency  string          `json:"currency,omitempty"`
}
