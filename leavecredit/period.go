package leavecredit

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Which accrual or carry-over window a run belongs to
// =============================================================================

// RunKind distinguishes accrual runs from year-end carry-over runs.
type RunKind string

const (
	RunAccrual   RunKind = "accrual"
	RunCarryOver RunKind = "carry_over"
)

// PeriodLabel names the accrual period containing asOf:
// "2025-03" for Monthly, "2025" for Annual.
func PeriodLabel(freq AccrualFrequency, asOf time.Time) string {
	if freq == FreqMonthly {
		return asOf.Format("2006-01")
	}
	return fmt.Sprintf("%04d", asOf.Year())
}

// CarryOverLabel names the carry-over period closing the given year.
func CarryOverLabel(year int) string {
	return fmt.Sprintf("%04d", year)
}

// PeriodToken records that a policy was processed for one period.
// At most one token exists per (Kind, PolicyID, Period).
type PeriodToken struct {
	Kind     RunKind
	PolicyID string
	Period   string
}

func (t PeriodToken) String() string {
	return fmt.Sprintf("%s:%s:%s", t.Kind, t.PolicyID, t.Period)
}

// AccrualKey is the idempotency key of an accrual row.
func AccrualKey(policyID, period, employeeID string) string {
	return fmt.Sprintf("accrual:%s:%s:%s", policyID, period, employeeID)
}

// CarryOverKey is the idempotency key of a carry-over row.
func CarryOverKey(policyID string, fromYear int, employeeID string) string {
	return fmt.Sprintf("carryover:%s:%04d:%s", policyID, fromYear, employeeID)
}

// =============================================================================
// RUN - Audit record of a claimed period
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed" // token may be claimed again
)

// Run is the audit record kept alongside a claimed PeriodToken.
type Run struct {
	ID          string
	Token       PeriodToken
	Status      RunStatus
	Applied     int
	Skipped     int
	Failed      int
	StartedAt   time.Time
	CompletedAt *time.Time
}
