package pricing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidRate = errors.New("pricing: invalid rate")

// Service prices call settlements.
//
// Contract:
//   - a connected call (completed with a positive duration) costs exactly the flat rate
//   - every other terminal outcome costs zero
//   - minutes counted against the tenant are ceil(duration / 60), for completed calls only
//   - pure calculation, no lookups
type Service struct {
	rate Rate
}

func NewService(rate Rate) (*Service, error) {
	if rate.Amount.IsNegative() || len(strings.TrimSpace(rate.Currency)) != 3 {
		return nil, ErrInvalidRate
	}
	rate.Currency = strings.ToUpper(strings.TrimSpace(rate.Currency))
	return &Service{rate: rate}, nil
}

func (s *Service) Rate() Rate { return s.rate }

// ChargeFor prices a terminal call. completed is whether the call reached the
// completed state; durationSeconds is the carrier-reported duration.
func (s *Service) ChargeFor(completed bool, durationSeconds int) CallCharge {
	out := CallCharge{Cost: decimal.Zero, Currency: s.rate.Currency}
	if !completed || durationSeconds <= 0 {
		return out
	}
	out.Cost = s.rate.Amount
	out.BillableSeconds = billableSeconds(durationSeconds, 0, 60)
	out.BillableMinutes = billableMinutesFromSeconds(out.BillableSeconds)
	return out
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec <= 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	if sec%incrementSec != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
