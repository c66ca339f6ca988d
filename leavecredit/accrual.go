/*
accrual.go - Policy-driven accrual runs

PURPOSE:
  Tops up every applicable bucket by the policy's CreditsPerPeriod, capped
  at MaxAccumulation. Runs are triggered explicitly (API or CLI); nothing
  here reads a clock to decide WHEN to accrue.

FORMULA:
  prior   = current balance of (employee, policy.LeaveType, asOf.Year), or 0
  balance = min(prior + CreditsPerPeriod, MaxAccumulation)

  The cap is applied as written: a bucket already above the cap (after a
  manual adjustment) is brought down to MaxAccumulation.

EXAMPLE:
  Vacation: 1.25/month, max 30
  prior=29.5 -> balance=30 (not 30.75)
  prior=0    -> balance=1.25

OUTCOMES:
  - A second policy for a bucket already accrued in this batch: ConflictError
  - A prior balance so negative the top-up stays below 0: ValidationError

IDEMPOTENCY:
  Each row carries "accrual:<policy>:<period>:<employee>" where period is
  YYYY-MM (Monthly) or YYYY (Annual). Stores reject duplicate keys, and
  Service claims the (policy, period) token before a batch is computed.

SEE ALSO:
  - period.go: PeriodLabel, AccrualKey
  - service.go: Claiming tokens and persisting the batch
*/
package leavecredit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RunAccrual computes one accrual batch. Only policies whose frequency
// equals freq take part; every pair reads snap, never another pair's output.
// The error return is reserved for an unusable frequency.
func (l *Ledger) RunAccrual(snap Snapshot, policies []Policy, employees []EmployeePositionRef, asOf time.Time, freq AccrualFrequency) (BatchResult, error) {
	if freq != FreqMonthly && freq != FreqAnnual {
		return BatchResult{}, &ValidationError{
			Field:   "frequency",
			Message: fmt.Sprintf("accrual runs need monthly or annual frequency, got %q", freq),
		}
	}

	period := PeriodLabel(freq, asOf)
	result := BatchResult{Kind: RunAccrual, Period: period}

	matching := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.AccrualFrequency == freq {
			matching = append(matching, p)
		}
	}
	if len(matching) == 0 {
		return result, nil
	}

	now := l.Now()

	// Buckets topped up earlier in this batch, so a second policy for the
	// same leave type conflicts instead of shadowing the first grant.
	accrued := make(map[BucketKey]string)

	for _, emp := range employees {
		for _, p := range matching {
			if !p.AppliesTo(emp.PositionType) {
				continue
			}
			outcome := Outcome{EmployeeID: emp.EmployeeID, PolicyID: p.ID, LeaveType: p.LeaveType}
			if err := p.Validate(); err != nil {
				outcome.Err = err
				result.Outcomes = append(result.Outcomes, outcome)
				continue
			}

			key := BucketKey{EmployeeID: emp.EmployeeID, LeaveType: p.LeaveType, Year: asOf.Year()}
			if by, ok := accrued[key]; ok {
				outcome.Err = &ConflictError{
					Key:     key.String(),
					Message: fmt.Sprintf("already accrued by policy %s in this run", by),
				}
				result.Outcomes = append(result.Outcomes, outcome)
				continue
			}

			entry, err := l.accrue(snap, p, emp.EmployeeID, asOf.Year(), period, now)
			if err != nil {
				outcome.Err = err
				result.Outcomes = append(result.Outcomes, outcome)
				continue
			}
			accrued[key] = p.ID
			outcome.Entry = &entry
			result.Outcomes = append(result.Outcomes, outcome)
		}
	}
	return result, nil
}

func (l *Ledger) accrue(snap Snapshot, p Policy, employeeID string, year int, period string, now time.Time) (Entry, error) {
	key := BucketKey{EmployeeID: employeeID, LeaveType: p.LeaveType, Year: year}

	priorBalance, priorUsed := decimal.Zero, decimal.Zero
	if prior, ok := snap.Lookup(key); ok {
		priorBalance = prior.Balance
		priorUsed = prior.UsedCredits
	}

	balance := decimal.Min(priorBalance.Add(p.CreditsPerPeriod), p.MaxAccumulation)
	if balance.IsNegative() {
		return Entry{}, &ValidationError{
			Field:   "balance",
			Message: fmt.Sprintf("accrual would leave a negative balance: prior=%s, added=%s", priorBalance, p.CreditsPerPeriod),
		}
	}

	return Entry{
		ID:              l.NewID(),
		EmployeeID:      employeeID,
		LeaveType:       p.LeaveType,
		Year:            year,
		PolicyID:        p.ID,
		TotalCredits:    priorUsed.Add(balance),
		UsedCredits:     priorUsed,
		CreditsAdded:    p.CreditsPerPeriod,
		CreditsUsed:     decimal.Zero,
		Balance:         balance,
		TransactionType: accrualTxType(p.AccrualFrequency),
		DateAdded:       now,
		AddedBy:         "system",
		Remarks:         fmt.Sprintf("%s accrual for %s", p.AccrualFrequency, period),
		IdempotencyKey:  AccrualKey(p.ID, period, employeeID),
	}, nil
}
