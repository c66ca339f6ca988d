package leavecredit

import "fmt"

// =============================================================================
// BATCH RESULTS - Per-pair outcomes of bulk operations
// =============================================================================

// Outcome is the result for one (employee, policy) pair in a bulk run.
// Exactly one of Entry, Err or Skipped is meaningful.
type Outcome struct {
	EmployeeID string
	PolicyID   string
	LeaveType  LeaveType
	Entry      *Entry
	Err        error
	Skipped    bool
	Reason     string // why the pair was skipped
}

func (o Outcome) Applied() bool { return o.Entry != nil && o.Err == nil }

// BatchResult collects outcomes. One failing pair never aborts the batch.
type BatchResult struct {
	Kind     RunKind
	Period   string
	Outcomes []Outcome
}

// Entries returns the entries of applied outcomes, in outcome order.
func (r BatchResult) Entries() []Entry {
	var out []Entry
	for _, o := range r.Outcomes {
		if o.Applied() {
			out = append(out, *o.Entry)
		}
	}
	return out
}

func (r BatchResult) Counts() (applied, skipped, failed int) {
	for _, o := range r.Outcomes {
		switch {
		case o.Err != nil:
			failed++
		case o.Skipped:
			skipped++
		case o.Entry != nil:
			applied++
		}
	}
	return applied, skipped, failed
}

// Failures returns the failed outcomes.
func (r BatchResult) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Summary renders a one-line report for the administrator, e.g.
// "accrual completed for 42 of 45 pairs; 0 skipped, 3 failed".
func (r BatchResult) Summary() string {
	applied, skipped, failed := r.Counts()
	kind := string(r.Kind)
	if r.Kind == RunCarryOver {
		kind = "carry-over"
	}
	return fmt.Sprintf("%s completed for %d of %d pairs; %d skipped, %d failed",
		kind, applied, len(r.Outcomes), skipped, failed)
}
