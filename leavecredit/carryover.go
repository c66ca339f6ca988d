/*
carryover.go - Year-end carry-over

PURPOSE:
  Closes a year by opening next year's buckets. For each applicable
  (employee, policy) pair with a bucket in the closing year:

    carry = CarryOver ? min(balance, CarryOverLimit) : 0

  and a new Initial row for year+1 starts with Balance = carry.

EXAMPLE:
  Vacation (limit 10), balance 14    -> 2026 bucket starts at 10
  Birthday (no carry-over), balance 1 -> 2026 bucket starts at 0

OUTCOMES:
  - No bucket in the closing year: skipped
  - Next-year bucket already exists: ConflictError
  - Negative closing balance: ValidationError (never clamped)

SEE ALSO:
  - accrual.go: The other bulk operation
  - service.go: Claims the (policy, year) token before running
*/
package leavecredit

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ProcessYearEndCarryOver computes the carry-over batch for currentYear.
func (l *Ledger) ProcessYearEndCarryOver(snap Snapshot, policies []Policy, employees []EmployeePositionRef, currentYear int) BatchResult {
	result := BatchResult{Kind: RunCarryOver, Period: CarryOverLabel(currentYear)}
	now := l.Now()

	// Buckets opened earlier in this batch, so a second policy for the same
	// leave type conflicts instead of double-opening.
	opened := make(map[BucketKey]bool)

	for _, emp := range employees {
		for _, p := range policies {
			if !p.AppliesTo(emp.PositionType) {
				continue
			}
			outcome := Outcome{EmployeeID: emp.EmployeeID, PolicyID: p.ID, LeaveType: p.LeaveType}

			from := BucketKey{EmployeeID: emp.EmployeeID, LeaveType: p.LeaveType, Year: currentYear}
			to := BucketKey{EmployeeID: emp.EmployeeID, LeaveType: p.LeaveType, Year: currentYear + 1}

			current, ok := snap.Lookup(from)
			if !ok {
				outcome.Skipped = true
				outcome.Reason = fmt.Sprintf("no %d bucket", currentYear)
				result.Outcomes = append(result.Outcomes, outcome)
				continue
			}

			if _, exists := snap.Lookup(to); exists || opened[to] {
				outcome.Err = &ConflictError{Key: to.String(), Message: "next-year leave credits already exist"}
				result.Outcomes = append(result.Outcomes, outcome)
				continue
			}

			if err := p.Validate(); err != nil {
				outcome.Err = err
				result.Outcomes = append(result.Outcomes, outcome)
				continue
			}

			if current.Balance.IsNegative() {
				outcome.Err = &ValidationError{
					Field:   "balance",
					Message: fmt.Sprintf("cannot carry over a negative balance: balance=%s", current.Balance),
				}
				result.Outcomes = append(result.Outcomes, outcome)
				continue
			}

			carry := carryAmount(p, current.Balance)
			entry := Entry{
				ID:              l.NewID(),
				EmployeeID:      emp.EmployeeID,
				LeaveType:       p.LeaveType,
				Year:            currentYear + 1,
				PolicyID:        p.ID,
				TotalCredits:    carry,
				UsedCredits:     decimal.Zero,
				CreditsAdded:    carry,
				CreditsUsed:     decimal.Zero,
				Balance:         carry,
				TransactionType: TxInitial,
				DateAdded:       now,
				AddedBy:         "system",
				Remarks:         fmt.Sprintf("carried over from %d", currentYear),
				IdempotencyKey:  CarryOverKey(p.ID, currentYear, emp.EmployeeID),
			}
			opened[to] = true
			outcome.Entry = &entry
			result.Outcomes = append(result.Outcomes, outcome)
		}
	}
	return result
}

func carryAmount(p Policy, balance decimal.Decimal) decimal.Decimal {
	if !p.CarryOver {
		return decimal.Zero
	}
	if p.CarryOverLimit == nil {
		return balance
	}
	return decimal.Min(balance, *p.CarryOverLimit)
}
