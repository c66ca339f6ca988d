/*
projection.go - Year-end balance preview

PURPOSE:
  Answers "where will this bucket stand on December 31, and how much of
  it survives carry-over?" without writing anything. HR uses it to warn
  employees about credits they will forfeit.

MODEL:
  The remaining accruals of the year are replayed with the same cap as a
  real accrual run:
    Monthly: one period per month after asOf's month
    Annual:  none once the year has started (the grant happens on day one)
  A year that has not started yet counts all of its periods; a year
  that is over counts none. The result is then passed through the
  policy's carry-over rule.

SEE ALSO:
  - accrual.go: The cap being replayed
  - carryover.go: carryAmount
*/
package leavecredit

import (
	"time"

	"github.com/shopspring/decimal"
)

type Projection struct {
	Key              BucketKey
	PolicyID         string
	AsOf             time.Time
	Current          decimal.Decimal // zero when the bucket does not exist yet
	RemainingPeriods int
	YearEndBalance   decimal.Decimal
	CarryOver        decimal.Decimal
	Forfeited        decimal.Decimal
}

// ProjectYearEnd previews the bucket (employeeID, p.LeaveType, year) at
// year end under policy p.
func (l *Ledger) ProjectYearEnd(snap Snapshot, p Policy, employeeID string, year int, asOf time.Time) (Projection, error) {
	if err := validateBucket(employeeID, p.LeaveType, year); err != nil {
		return Projection{}, err
	}
	if err := p.Validate(); err != nil {
		return Projection{}, err
	}

	key := BucketKey{EmployeeID: employeeID, LeaveType: p.LeaveType, Year: year}
	current := decimal.Zero
	if e, ok := snap.Lookup(key); ok {
		current = e.Balance
	}

	remaining := remainingPeriods(p.AccrualFrequency, year, asOf)
	balance := current
	for i := 0; i < remaining; i++ {
		balance = decimal.Min(balance.Add(p.CreditsPerPeriod), p.MaxAccumulation)
	}

	carry, forfeited := decimal.Zero, decimal.Zero
	if balance.IsPositive() {
		carry = carryAmount(p, balance)
		forfeited = balance.Sub(carry)
	}

	return Projection{
		Key:              key,
		PolicyID:         p.ID,
		AsOf:             asOf,
		Current:          current,
		RemainingPeriods: remaining,
		YearEndBalance:   balance,
		CarryOver:        carry,
		Forfeited:        forfeited,
	}, nil
}

func remainingPeriods(freq AccrualFrequency, year int, asOf time.Time) int {
	switch {
	case asOf.Year() > year:
		return 0
	case asOf.Year() < year:
		switch freq {
		case FreqMonthly:
			return 12
		case FreqAnnual:
			return 1
		}
		return 0
	}
	if freq == FreqMonthly {
		return 12 - int(asOf.Month())
	}
	return 0
}
