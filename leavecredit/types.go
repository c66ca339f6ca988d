/*
Package leavecredit implements the leave-credit ledger.

PURPOSE:
  Tracks leave credits per employee, per leave type, per calendar year.
  Each (employee, leave type, year) triple is a BUCKET with one running
  balance. Buckets change through four producers:
    - Initial seeding (hire date, or implicit creation by an adjustment)
    - Accrual runs (Monthly / Annual, policy driven)
    - Manual adjustments (signed deltas from an HR administrator)
    - Year-end carry-over (opens next year's bucket)

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveType, PositionType, AccrualFrequency, TransactionType: closed enums
  - Policy: how one leave type accrues and carries over
  - Entry: one ledger row; the latest row of a bucket is its current state
  - BucketKey / Snapshot: the read model every ledger operation works on
  - EmployeePositionRef: roster data used to match policies to employees

DESIGN PRINCIPLES:
  1. Purity: ledger operations take a Snapshot and return entries. The
     caller persists them (see service.go).
  2. Precision: all credit quantities use decimal.Decimal.
  3. Closed sets: leave and position types are enums, never free strings.

SEE ALSO:
  - ledger.go: Seed, adjust, record usage
  - accrual.go: Accrual runs
  - carryover.go: Year-end carry-over
  - store.go: Persistence interface
*/
package leavecredit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEAVE TYPE
// =============================================================================

// LeaveType is a leave category. Unknown values are rejected by ParseLeaveType.
type LeaveType string

const (
	LeaveVacation    LeaveType = "vacation"
	LeaveSick        LeaveType = "sick"
	LeaveBirthday    LeaveType = "birthday"
	LeaveBereavement LeaveType = "bereavement"
	LeavePaternity   LeaveType = "paternity"
	LeaveMaternity   LeaveType = "maternity"
	LeaveSoloParent  LeaveType = "solo_parent"
)

// LeaveTypes lists every supported leave type in display order.
var LeaveTypes = []LeaveType{
	LeaveVacation,
	LeaveSick,
	LeaveBirthday,
	LeaveBereavement,
	LeavePaternity,
	LeaveMaternity,
	LeaveSoloParent,
}

func (t LeaveType) Valid() bool {
	for _, lt := range LeaveTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// ParseLeaveType accepts the canonical value case-insensitively, with
// spaces or dashes in place of underscores ("Solo-Parent" -> solo_parent).
func ParseLeaveType(s string) (LeaveType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	lt := LeaveType(norm)
	if !lt.Valid() {
		return "", &ValidationError{Field: "leave_type", Message: fmt.Sprintf("unknown leave type %q", s)}
	}
	return lt, nil
}

// =============================================================================
// POSITION TYPE
// =============================================================================

type PositionType string

const (
	PositionAcademic       PositionType = "academic"
	PositionAdministration PositionType = "administration"
)

func (p PositionType) Valid() bool {
	return p == PositionAcademic || p == PositionAdministration
}

func ParsePositionType(s string) (PositionType, error) {
	p := PositionType(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", &ValidationError{Field: "position_type", Message: fmt.Sprintf("unknown position type %q", s)}
	}
	return p, nil
}

// PositionSet is a set of position types a policy applies to.
type PositionSet map[PositionType]struct{}

func NewPositionSet(positions ...PositionType) PositionSet {
	s := make(PositionSet, len(positions))
	for _, p := range positions {
		s[p] = struct{}{}
	}
	return s
}

func (s PositionSet) Contains(p PositionType) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members in a stable order (for JSON and storage).
func (s PositionSet) Sorted() []PositionType {
	out := make([]PositionType, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// ACCRUAL FREQUENCY / TRANSACTION TYPE
// =============================================================================

type AccrualFrequency string

const (
	FreqMonthly AccrualFrequency = "monthly"
	FreqAnnual  AccrualFrequency = "annual"
	FreqNone    AccrualFrequency = "none"
)

func (f AccrualFrequency) Valid() bool {
	return f == FreqMonthly || f == FreqAnnual || f == FreqNone
}

func ParseAccrualFrequency(s string) (AccrualFrequency, error) {
	f := AccrualFrequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", &ValidationError{Field: "accrual_frequency", Message: fmt.Sprintf("unknown accrual frequency %q", s)}
	}
	return f, nil
}

type TransactionType string

const (
	TxInitial    TransactionType = "initial"
	TxMonthly    TransactionType = "monthly"
	TxAnnual     TransactionType = "annual"
	TxAdjustment TransactionType = "adjustment"
	TxUsed       TransactionType = "used"
)

// accrualTxType maps an accrual frequency to the transaction type it writes.
func accrualTxType(f AccrualFrequency) TransactionType {
	if f == FreqAnnual {
		return TxAnnual
	}
	return TxMonthly
}

// =============================================================================
// POLICY
// =============================================================================

// Policy governs how credits accrue and carry over for one leave type.
type Policy struct {
	ID               string
	Name             string
	LeaveType        LeaveType
	AccrualFrequency AccrualFrequency
	CreditsPerPeriod decimal.Decimal
	MaxAccumulation  decimal.Decimal
	CarryOver        bool
	CarryOverLimit   *decimal.Decimal // nil = no cap on the carried amount

	ApplicablePositionTypes PositionSet
}

// AppliesTo reports whether employees in the given position receive this policy.
func (p Policy) AppliesTo(pos PositionType) bool {
	return p.ApplicablePositionTypes.Contains(pos)
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// BucketKey identifies one running balance.
type BucketKey struct {
	EmployeeID string
	LeaveType  LeaveType
	Year       int
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.EmployeeID, k.LeaveType, k.Year)
}

// Entry is one ledger row. TotalCredits, UsedCredits and Balance describe the
// bucket after this row; CreditsAdded and CreditsUsed are the row's deltas.
type Entry struct {
	ID         string
	EmployeeID string
	LeaveType  LeaveType
	Year       int
	PolicyID   string // set on accrual and carry-over rows

	TotalCredits decimal.Decimal
	UsedCredits  decimal.Decimal
	CreditsAdded decimal.Decimal
	CreditsUsed  decimal.Decimal
	Balance      decimal.Decimal

	TransactionType TransactionType
	DateAdded       time.Time
	AddedBy         string
	Remarks         string
	IdempotencyKey  string
}

func (e Entry) Key() BucketKey {
	return BucketKey{EmployeeID: e.EmployeeID, LeaveType: e.LeaveType, Year: e.Year}
}

// EmployeePositionRef is roster data: which position category an employee holds.
type EmployeePositionRef struct {
	EmployeeID   string
	PositionType PositionType
}

// =============================================================================
// SNAPSHOT - Current row per bucket
// =============================================================================

// Snapshot is the read model ledger operations run against: the current
// (latest) entry of each bucket. Operations never modify it.
type Snapshot map[BucketKey]Entry

func (s Snapshot) Lookup(key BucketKey) (Entry, bool) {
	e, ok := s[key]
	return e, ok
}

// SnapshotFrom builds a snapshot from entries in write order; later entries
// for the same bucket replace earlier ones.
func SnapshotFrom(entries []Entry) Snapshot {
	s := make(Snapshot, len(entries))
	for _, e := range entries {
		s[e.Key()] = e
	}
	return s
}
