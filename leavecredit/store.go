/*
store.go - Persistence interface for ledger entries and run tokens

PURPOSE:
  Defines the boundary between the pure ledger and the database. The
  ledger reads a Snapshot and returns entries; a Store persists them and
  serializes writes to the same bucket.

KEY INTERFACES:
  EntryStore: Ledger rows (current row per bucket + history)
  RunStore:   (policy, period) tokens so a batch runs at most once
  Store:      Both; what Service needs

WRITE CONTRACT:
  Insert  appends a row. Duplicate idempotency keys fail with
          ErrDuplicateIdempotencyKey. An Initial row for a bucket that
          already has rows fails with ConflictError.
  Update  patches the bucket's current row by ID (adjustments only).
          Patching a row that is no longer current is a ConflictError.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with migrations
  - leavecredit/memstore:   In-memory for tests and dev

SEE ALSO:
  - service.go: The only caller that writes
*/
package leavecredit

import "context"

// SnapshotFilter narrows Snapshot. Empty fields mean "all".
type SnapshotFilter struct {
	EmployeeIDs []string
	Years       []int
}

// Matches reports whether a bucket passes the filter.
func (f SnapshotFilter) Matches(k BucketKey) bool {
	if len(f.EmployeeIDs) > 0 && !containsString(f.EmployeeIDs, k.EmployeeID) {
		return false
	}
	if len(f.Years) > 0 && !containsInt(f.Years, k.Year) {
		return false
	}
	return true
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// EntryStore persists ledger rows.
type EntryStore interface {
	// Current returns the bucket's current row, or a *NotFoundError.
	Current(ctx context.Context, key BucketKey) (*Entry, error)

	// Get returns any row by ID, or a *NotFoundError.
	Get(ctx context.Context, id string) (*Entry, error)

	// Snapshot returns the current row of every bucket matching filter.
	Snapshot(ctx context.Context, filter SnapshotFilter) (Snapshot, error)

	// History returns every row of a bucket in write order.
	History(ctx context.Context, key BucketKey) ([]Entry, error)

	Insert(ctx context.Context, e Entry) error
	Update(ctx context.Context, e Entry) error

	// ReferencesPolicy reports whether any row was written under policyID.
	ReferencesPolicy(ctx context.Context, policyID string) (bool, error)
}

// RunStore records which (policy, period) pairs were processed.
type RunStore interface {
	// ClaimPeriod records run.Token. It returns false when the token is
	// already held by a running or completed run; a failed run may be
	// claimed again.
	ClaimPeriod(ctx context.Context, run Run) (bool, error)

	// FinishRun stores the final status and counts of a claimed run.
	FinishRun(ctx context.Context, run Run) error

	ListRuns(ctx context.Context) ([]Run, error)
}

// Store is everything Service needs.
type Store interface {
	EntryStore
	RunStore
}
