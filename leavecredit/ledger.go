/*
ledger.go - Pure ledger operations on a bucket snapshot

PURPOSE:
  The Ledger computes new or patched entries from a Snapshot of current
  buckets. It never reads or writes a store; Service does that.

OPERATIONS:
  SeedInitialBalance      Create a bucket (Initial row)
  ApplyAdjustment         Signed deltas; patches the current row in place,
                          or creates the bucket when it does not exist
  RecordUsage             Consume credits from an existing bucket (Used row)
  RunAccrual              accrual.go
  ProcessYearEndCarryOver carryover.go

ROW RULES:
  - Initial, Monthly, Annual, Used rows are APPENDED (new ID).
  - Adjustment PATCHES the bucket's current row (same ID, same idempotency key).
  - Every row satisfies Balance = TotalCredits - UsedCredits.

EXAMPLE:
  l := leavecredit.NewLedger()
  e, err := l.ApplyAdjustment(snap, leavecredit.AdjustmentRequest{
      EmployeeID: "emp-1", LeaveType: leavecredit.LeaveVacation, Year: 2025,
      UsedDelta: decimal.NewFromInt(-5),
  })
  // err: "used_credits: cannot reduce used credits below 0: current=3, delta=-5"

SEE ALSO:
  - accrual.go, carryover.go: Bulk operations
  - service.go: Snapshot -> Ledger -> Store orchestration
*/
package leavecredit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger holds no state beyond its clock and ID source.
type Ledger struct {
	Now   func() time.Time
	NewID func() string
}

func NewLedger() *Ledger {
	return &Ledger{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

type SeedRequest struct {
	EmployeeID   string
	LeaveType    LeaveType
	Year         int
	TotalCredits decimal.Decimal
	UsedCredits  decimal.Decimal
	AddedBy      string
	Remarks      string
}

type AdjustmentRequest struct {
	EmployeeID   string
	LeaveType    LeaveType
	Year         int
	CreditsDelta decimal.Decimal
	UsedDelta    decimal.Decimal
	AddedBy      string
	Remarks      string
}

type UsageRequest struct {
	EmployeeID     string
	LeaveType      LeaveType
	Year           int
	Credits        decimal.Decimal
	AddedBy        string
	Remarks        string
	IdempotencyKey string // optional; generated when empty
}

func validateBucket(employeeID string, lt LeaveType, year int) error {
	if employeeID == "" {
		return requiredField("employee_id")
	}
	if lt == "" {
		return requiredField("leave_type")
	}
	if !lt.Valid() {
		return &ValidationError{Field: "leave_type", Message: fmt.Sprintf("unknown leave type %q", lt)}
	}
	if year <= 0 {
		return &ValidationError{Field: "year", Message: fmt.Sprintf("must be a positive year, got %d", year)}
	}
	return nil
}

// checkBalance rejects totals that would leave the bucket overdrawn.
func checkBalance(total, used decimal.Decimal) error {
	if total.Sub(used).IsNegative() {
		return &ValidationError{
			Field:   "balance",
			Message: fmt.Sprintf("cannot reduce balance below 0: total=%s, used=%s", total, used),
		}
	}
	return nil
}

func initialKey(k BucketKey) string {
	return fmt.Sprintf("initial:%s:%s:%04d", k.EmployeeID, k.LeaveType, k.Year)
}

// =============================================================================
// SEED
// =============================================================================

// SeedInitialBalance creates a bucket with Balance = total - used.
// Fails with ConflictError if the bucket already exists in snap.
func (l *Ledger) SeedInitialBalance(snap Snapshot, req SeedRequest) (Entry, error) {
	if err := validateBucket(req.EmployeeID, req.LeaveType, req.Year); err != nil {
		return Entry{}, err
	}
	if req.TotalCredits.IsNegative() {
		return Entry{}, &ValidationError{Field: "total_credits", Message: fmt.Sprintf("must be >= 0, got %s", req.TotalCredits)}
	}
	if req.UsedCredits.IsNegative() {
		return Entry{}, &ValidationError{Field: "used_credits", Message: fmt.Sprintf("must be >= 0, got %s", req.UsedCredits)}
	}
	if err := checkBalance(req.TotalCredits, req.UsedCredits); err != nil {
		return Entry{}, err
	}

	key := BucketKey{EmployeeID: req.EmployeeID, LeaveType: req.LeaveType, Year: req.Year}
	if _, exists := snap.Lookup(key); exists {
		return Entry{}, &ConflictError{Key: key.String(), Message: "leave credits already exist for this employee, leave type and year"}
	}
	return l.initialEntry(key, req.TotalCredits, req.UsedCredits, req.AddedBy, req.Remarks), nil
}

func (l *Ledger) initialEntry(key BucketKey, total, used decimal.Decimal, addedBy, remarks string) Entry {
	return Entry{
		ID:              l.NewID(),
		EmployeeID:      key.EmployeeID,
		LeaveType:       key.LeaveType,
		Year:            key.Year,
		TotalCredits:    total,
		UsedCredits:     used,
		CreditsAdded:    total,
		CreditsUsed:     used,
		Balance:         total.Sub(used),
		TransactionType: TxInitial,
		DateAdded:       l.Now(),
		AddedBy:         addedBy,
		Remarks:         remarks,
		IdempotencyKey:  initialKey(key),
	}
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

// ApplyAdjustment applies signed deltas to a bucket. An existing bucket's
// current row is returned patched (same ID); a missing bucket yields a new
// Initial row using the deltas as starting totals. Total, used or the
// resulting balance dropping below zero is a ValidationError.
func (l *Ledger) ApplyAdjustment(snap Snapshot, req AdjustmentRequest) (Entry, error) {
	if err := validateBucket(req.EmployeeID, req.LeaveType, req.Year); err != nil {
		return Entry{}, err
	}

	key := BucketKey{EmployeeID: req.EmployeeID, LeaveType: req.LeaveType, Year: req.Year}
	current, exists := snap.Lookup(key)
	if !exists {
		current = Entry{TotalCredits: decimal.Zero, UsedCredits: decimal.Zero}
	}

	newTotal := current.TotalCredits.Add(req.CreditsDelta)
	if newTotal.IsNegative() {
		return Entry{}, &ValidationError{
			Field:   "total_credits",
			Message: fmt.Sprintf("cannot reduce total credits below 0: current=%s, delta=%s", current.TotalCredits, req.CreditsDelta),
		}
	}
	newUsed := current.UsedCredits.Add(req.UsedDelta)
	if newUsed.IsNegative() {
		return Entry{}, &ValidationError{
			Field:   "used_credits",
			Message: fmt.Sprintf("cannot reduce used credits below 0: current=%s, delta=%s", current.UsedCredits, req.UsedDelta),
		}
	}

	if err := checkBalance(newTotal, newUsed); err != nil {
		return Entry{}, err
	}

	if !exists {
		return l.initialEntry(key, newTotal, newUsed, req.AddedBy, req.Remarks), nil
	}

	patched := current
	patched.TotalCredits = newTotal
	patched.UsedCredits = newUsed
	patched.CreditsAdded = req.CreditsDelta
	patched.CreditsUsed = req.UsedDelta
	patched.Balance = newTotal.Sub(newUsed)
	patched.TransactionType = TxAdjustment
	patched.DateAdded = l.Now()
	patched.AddedBy = req.AddedBy
	patched.Remarks = req.Remarks
	return patched, nil
}

// =============================================================================
// USAGE
// =============================================================================

// RecordUsage consumes credits from an existing bucket and returns the
// appended Used row. The bucket must exist and must not go negative.
func (l *Ledger) RecordUsage(snap Snapshot, req UsageRequest) (Entry, error) {
	if err := validateBucket(req.EmployeeID, req.LeaveType, req.Year); err != nil {
		return Entry{}, err
	}
	if !req.Credits.IsPositive() {
		return Entry{}, &ValidationError{Field: "credits", Message: fmt.Sprintf("must be > 0, got %s", req.Credits)}
	}

	key := BucketKey{EmployeeID: req.EmployeeID, LeaveType: req.LeaveType, Year: req.Year}
	current, exists := snap.Lookup(key)
	if !exists {
		return Entry{}, &NotFoundError{Kind: "bucket", Key: key.String()}
	}

	newUsed := current.UsedCredits.Add(req.Credits)
	balance := current.TotalCredits.Sub(newUsed)
	if balance.IsNegative() {
		return Entry{}, &ValidationError{
			Field:   "credits",
			Message: fmt.Sprintf("insufficient balance: balance=%s, requested=%s", current.Balance, req.Credits),
		}
	}

	id := l.NewID()
	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = "usage:" + id
	}
	return Entry{
		ID:              id,
		EmployeeID:      key.EmployeeID,
		LeaveType:       key.LeaveType,
		Year:            key.Year,
		PolicyID:        current.PolicyID,
		TotalCredits:    current.TotalCredits,
		UsedCredits:     newUsed,
		CreditsAdded:    decimal.Zero,
		CreditsUsed:     req.Credits,
		Balance:         balance,
		TransactionType: TxUsed,
		DateAdded:       l.Now(),
		AddedBy:         req.AddedBy,
		Remarks:         req.Remarks,
		IdempotencyKey:  idemKey,
	}, nil
}
