package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-credits/leavecredit"
	"github.com/warp/leave-credits/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func entry(id string, txType leavecredit.TransactionType, total, used string) leavecredit.Entry {
	return leavecredit.Entry{
		ID:              id,
		EmployeeID:      "emp-1",
		LeaveType:       leavecredit.LeaveVacation,
		Year:            2025,
		PolicyID:        "vac",
		TotalCredits:    d(total),
		UsedCredits:     d(used),
		CreditsAdded:    d(total),
		CreditsUsed:     d(used),
		Balance:         d(total).Sub(d(used)),
		TransactionType: txType,
		DateAdded:       time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		AddedBy:         "hr-admin",
		IdempotencyKey:  "key-" + id,
	}
}

var vacation2025 = leavecredit.BucketKey{EmployeeID: "emp-1", LeaveType: leavecredit.LeaveVacation, Year: 2025}

// =============================================================================
// LEDGER ROWS
// =============================================================================

func TestStore_InsertAndCurrent(t *testing.T) {
	// GIVEN: An Initial row then a Monthly row for one bucket
	// WHEN: Loading the bucket
	// THEN: Current is the latest row, history holds both in write order

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, entry("e1", leavecredit.TxInitial, "10", "2")))
	require.NoError(t, store.Insert(ctx, entry("e2", leavecredit.TxMonthly, "11.25", "2")))

	current, err := store.Current(ctx, vacation2025)
	require.NoError(t, err)
	assert.Equal(t, "e2", current.ID)
	assert.True(t, current.Balance.Equal(d("9.25")))
	assert.Equal(t, "vac", current.PolicyID)
	assert.Equal(t, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), current.DateAdded)

	history, err := store.History(ctx, vacation2025)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "e1", history[0].ID)
	assert.Equal(t, "e2", history[1].ID)

	_, err = store.Current(ctx, leavecredit.BucketKey{EmployeeID: "nobody", LeaveType: leavecredit.LeaveSick, Year: 2025})
	assert.True(t, leavecredit.IsNotFound(err))
}

func TestStore_DuplicateIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, entry("e1", leavecredit.TxInitial, "10", "0")))
	dup := entry("e2", leavecredit.TxMonthly, "11", "0")
	dup.IdempotencyKey = "key-e1"

	err := store.Insert(ctx, dup)
	assert.ErrorIs(t, err, leavecredit.ErrDuplicateIdempotencyKey)
}

func TestStore_SecondInitial_Conflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, entry("e1", leavecredit.TxInitial, "10", "0")))
	err := store.Insert(ctx, entry("e2", leavecredit.TxInitial, "5", "0"))

	assert.True(t, leavecredit.IsConflict(err))
}

func TestStore_Update_PatchesCurrentOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, entry("e1", leavecredit.TxInitial, "10", "0")))

	patched := entry("e1", leavecredit.TxAdjustment, "12", "1")
	require.NoError(t, store.Update(ctx, patched))

	history, err := store.History(ctx, vacation2025)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, leavecredit.TxAdjustment, history[0].TransactionType)
	assert.True(t, history[0].Balance.Equal(d("11")))
	assert.Equal(t, "key-e1", history[0].IdempotencyKey)

	require.NoError(t, store.Insert(ctx, entry("e2", leavecredit.TxUsed, "12", "2")))
	err = store.Update(ctx, entry("e1", leavecredit.TxAdjustment, "20", "0"))
	assert.True(t, leavecredit.IsConflict(err), "stale row must not be patched")
}

func TestStore_Snapshot_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, entry("e1", leavecredit.TxInitial, "10", "0")))
	require.NoError(t, store.Insert(ctx, entry("e2", leavecredit.TxMonthly, "11.25", "0")))

	other := entry("e3", leavecredit.TxInitial, "3", "0")
	other.EmployeeID = "emp-2"
	require.NoError(t, store.Insert(ctx, other))

	nextYear := entry("e4", leavecredit.TxInitial, "4", "0")
	nextYear.Year = 2026
	require.NoError(t, store.Insert(ctx, nextYear))

	snap, err := store.Snapshot(ctx, leavecredit.SnapshotFilter{EmployeeIDs: []string{"emp-1"}, Years: []int{2025}})
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "e2", snap[vacation2025].ID)

	all, err := store.Snapshot(ctx, leavecredit.SnapshotFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	listed, err := store.ListCurrent(ctx, "emp-1", 2025)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "e2", listed[0].ID)
}

// =============================================================================
// PERIOD RUNS
// =============================================================================

func TestStore_ClaimPeriod(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	token := leavecredit.PeriodToken{Kind: leavecredit.RunAccrual, PolicyID: "vac", Period: "2025-03"}
	started := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	ok, err := store.ClaimPeriod(ctx, leavecredit.Run{ID: "r1", Token: token, Status: leavecredit.RunRunning, StartedAt: started})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ClaimPeriod(ctx, leavecredit.Run{ID: "r2", Token: token, Status: leavecredit.RunRunning, StartedAt: started})
	require.NoError(t, err)
	assert.False(t, ok, "token already held")

	// a failed run releases the token
	require.NoError(t, store.FinishRun(ctx, leavecredit.Run{ID: "r1", Token: token, Status: leavecredit.RunFailed}))
	ok, err = store.ClaimPeriod(ctx, leavecredit.Run{ID: "r3", Token: token, Status: leavecredit.RunRunning, StartedAt: started})
	require.NoError(t, err)
	assert.True(t, ok)

	completed := started.Add(time.Minute)
	require.NoError(t, store.FinishRun(ctx, leavecredit.Run{
		ID: "r3", Token: token, Status: leavecredit.RunCompleted, Applied: 5, Failed: 1, CompletedAt: &completed,
	}))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, token, runs[0].Token)
	assert.Equal(t, leavecredit.RunCompleted, runs[0].Status)
	assert.Equal(t, 5, runs[0].Applied)
	require.NotNil(t, runs[0].CompletedAt)

	err = store.FinishRun(ctx, leavecredit.Run{ID: "missing", Token: token, Status: leavecredit.RunCompleted})
	assert.True(t, leavecredit.IsNotFound(err))
}

// =============================================================================
// POLICIES AND EMPLOYEES
// =============================================================================

func TestStore_DeletePolicy_RejectedWhileReferenced(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePolicy(ctx, sqlite.PolicyRecord{ID: "vac", Name: "Vacation", LeaveType: "vacation", ConfigJSON: "{}"}))
	require.NoError(t, store.SavePolicy(ctx, sqlite.PolicyRecord{ID: "vac", Name: "Vacation v2", LeaveType: "vacation", ConfigJSON: "{}"}))
	require.NoError(t, store.Insert(ctx, entry("e1", leavecredit.TxMonthly, "1.25", "0")))

	p, err := store.GetPolicy(ctx, "vac")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, "Vacation v2", p.Name)

	err = store.DeletePolicy(ctx, "vac")
	assert.True(t, leavecredit.IsConflict(err))

	_, err = store.GetPolicy(ctx, "vac")
	assert.NoError(t, err, "policy must survive the rejected delete")

	require.NoError(t, store.SavePolicy(ctx, sqlite.PolicyRecord{ID: "bday", Name: "Birthday", LeaveType: "birthday", ConfigJSON: "{}"}))
	require.NoError(t, store.DeletePolicy(ctx, "bday"))
	_, err = store.GetPolicy(ctx, "bday")
	assert.True(t, leavecredit.IsNotFound(err))

	assert.True(t, leavecredit.IsNotFound(store.DeletePolicy(ctx, "bday")))
}

func TestStore_Employees(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hired := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "emp-2", Name: "Bea", PositionType: leavecredit.PositionAdministration}))
	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "emp-1", Name: "Ana", Email: "ana@example.edu", PositionType: leavecredit.PositionAcademic, HireDate: &hired}))

	emps, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, emps, 2)
	assert.Equal(t, "Ana", emps[0].Name)
	require.NotNil(t, emps[0].HireDate)
	assert.Equal(t, hired, *emps[0].HireDate)
	assert.Equal(t, leavecredit.EmployeePositionRef{EmployeeID: "emp-2", PositionType: leavecredit.PositionAdministration}, emps[1].Ref())

	_, err = store.GetEmployee(ctx, "emp-9")
	assert.True(t, leavecredit.IsNotFound(err))
}

// =============================================================================
// SERVICE ON SQLITE
// =============================================================================

func TestService_OnSQLite_AccrualIdempotent(t *testing.T) {
	// GIVEN: The service backed by SQLite
	// WHEN: The same monthly accrual is triggered twice
	// THEN: Balances move once; the second run is all skipped

	store := newTestStore(t)
	ctx := context.Background()
	svc, err := leavecredit.NewService(store, slog.New(slog.NewJSONHandler(io.Discard, nil)), 2)
	require.NoError(t, err)
	defer svc.Close()

	policies := []leavecredit.Policy{leavecredit.VacationPolicy("vac")}
	employees := []leavecredit.EmployeePositionRef{
		{EmployeeID: "emp-1", PositionType: leavecredit.PositionAcademic},
		{EmployeeID: "emp-2", PositionType: leavecredit.PositionAdministration},
	}
	asOf := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	first, err := svc.RunAccrual(ctx, policies, employees, asOf, leavecredit.FreqMonthly)
	require.NoError(t, err)
	applied, _, failed := first.Counts()
	assert.Equal(t, 2, applied)
	assert.Equal(t, 0, failed)

	second, err := svc.RunAccrual(ctx, policies, employees, asOf, leavecredit.FreqMonthly)
	require.NoError(t, err)
	applied, skipped, _ := second.Counts()
	assert.Equal(t, 0, applied)
	assert.Equal(t, 1, skipped)

	current, err := store.Current(ctx, vacation2025)
	require.NoError(t, err)
	assert.True(t, current.Balance.Equal(d("1.25")))
}
