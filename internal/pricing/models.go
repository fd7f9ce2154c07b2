package pricing

import "github.com/shopspring/decimal"

// Rate is the flat amount charged per connected call.
// The product bills a fixed price per call, not per minute; minutes are still
// counted against the tenant's allotment.
type Rate struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// CallCharge is the settlement for one call, priced as if the call were billable.
type CallCharge struct {
	Cost     decimal.Decimal `json:"cost"`
	Currency string          `json:"currency"`

	BillableSeconds int `json:"billable_seconds"`
	BillableMinutes int `json:"billable_minutes"`
}
