package leavecredit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-credits/leavecredit"
	"github.com/warp/leave-credits/leavecredit/memstore"
)

func newTestService(t *testing.T, store leavecredit.Store) *leavecredit.Service {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc, err := leavecredit.NewService(store, logger, 4)
	require.NoError(t, err)
	svc.Ledger = newTestLedger()
	t.Cleanup(svc.Close)
	return svc
}

func TestService_SeedThenAdjust_PatchesInPlace(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(t, store)

	seed, err := svc.SeedInitialBalance(ctx, leavecredit.SeedRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025,
		TotalCredits: d("10"), UsedCredits: d("0"),
	})
	require.NoError(t, err)

	_, err = svc.SeedInitialBalance(ctx, leavecredit.SeedRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025,
		TotalCredits: d("1"),
	})
	assert.True(t, leavecredit.IsConflict(err))

	adj, err := svc.ApplyAdjustment(ctx, leavecredit.AdjustmentRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025,
		CreditsDelta: d("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, seed.ID, adj.ID)

	history, err := store.History(ctx, seed.Key())
	require.NoError(t, err)
	require.Len(t, history, 1, "adjustment patches, never appends")
	assert.True(t, history[0].Balance.Equal(d("12")))
}

func TestService_RejectedAdjustment_WritesNothing(t *testing.T) {
	// GIVEN: A bucket with used 3
	// WHEN: An adjustment would make used negative
	// THEN: ValidationError and the stored row is unchanged

	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(t, store)

	_, err := svc.SeedInitialBalance(ctx, leavecredit.SeedRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveSick, Year: 2025,
		TotalCredits: d("10"), UsedCredits: d("3"),
	})
	require.NoError(t, err)

	_, err = svc.ApplyAdjustment(ctx, leavecredit.AdjustmentRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveSick, Year: 2025,
		UsedDelta: d("-5"),
	})
	require.Error(t, err)
	assert.True(t, leavecredit.IsClientError(err))

	current, err := store.Current(ctx, leavecredit.BucketKey{EmployeeID: "emp-a", LeaveType: leavecredit.LeaveSick, Year: 2025})
	require.NoError(t, err)
	assert.True(t, current.UsedCredits.Equal(d("3")))
	assert.Equal(t, leavecredit.TxInitial, current.TransactionType)
}

func TestService_SetTotals(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(t, store)

	seed, err := svc.SeedInitialBalance(ctx, leavecredit.SeedRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025,
		TotalCredits: d("10"), UsedCredits: d("2"),
	})
	require.NoError(t, err)

	total := d("15")
	e, err := svc.SetTotals(ctx, seed.ID, &total, nil, "hr-admin", "")
	require.NoError(t, err)
	assert.True(t, e.CreditsAdded.Equal(d("5")))
	assert.True(t, e.Balance.Equal(d("13")))

	// a used row makes the seed row stale
	_, err = svc.RecordUsage(ctx, leavecredit.UsageRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025, Credits: d("1"),
	})
	require.NoError(t, err)
	_, err = svc.SetTotals(ctx, seed.ID, &total, nil, "hr-admin", "")
	assert.True(t, leavecredit.IsConflict(err))

	_, err = svc.SetTotals(ctx, "missing", &total, nil, "hr-admin", "")
	assert.True(t, leavecredit.IsNotFound(err))
}

func TestService_UsageOnMissingBucket_NotFound(t *testing.T) {
	svc := newTestService(t, memstore.New())

	_, err := svc.RecordUsage(context.Background(), leavecredit.UsageRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025, Credits: d("1"),
	})
	var nf *leavecredit.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "bucket", nf.Kind)
}

func TestService_RunAccrual_SecondRunSkipped(t *testing.T) {
	// GIVEN: A monthly accrual already ran for March 2025
	// WHEN: The same run is triggered again
	// THEN: Every policy is reported skipped and balances do not change

	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(t, store)
	policies := []leavecredit.Policy{leavecredit.VacationPolicy("vac"), leavecredit.SickLeavePolicy("sick")}
	employees := []leavecredit.EmployeePositionRef{academic, admin}

	first, err := svc.RunAccrual(ctx, policies, employees, fixedNow, leavecredit.FreqMonthly)
	require.NoError(t, err)
	applied, _, failed := first.Counts()
	assert.Equal(t, 4, applied)
	assert.Equal(t, 0, failed)

	second, err := svc.RunAccrual(ctx, policies, employees, fixedNow, leavecredit.FreqMonthly)
	require.NoError(t, err)
	applied, skipped, _ := second.Counts()
	assert.Equal(t, 0, applied)
	assert.Equal(t, 2, skipped)

	current, err := store.Current(ctx, leavecredit.BucketKey{EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025})
	require.NoError(t, err)
	assert.True(t, current.Balance.Equal(d("1.25")))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, leavecredit.RunCompleted, r.Status)
		assert.Equal(t, 2, r.Applied)
	}

	// next month accrues again
	april := fixedNow.AddDate(0, 0, 1)
	third, err := svc.RunAccrual(ctx, policies, employees, april, leavecredit.FreqMonthly)
	require.NoError(t, err)
	applied, _, _ = third.Counts()
	assert.Equal(t, 4, applied)

	current, err = store.Current(ctx, leavecredit.BucketKey{EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025})
	require.NoError(t, err)
	assert.True(t, current.Balance.Equal(d("2.5")))
}

// failingStore rejects inserts for one employee.
type failingStore struct {
	*memstore.Store
	failFor string
}

func (f *failingStore) Insert(ctx context.Context, e leavecredit.Entry) error {
	if e.EmployeeID == f.failFor {
		return errors.New("disk full")
	}
	return f.Store.Insert(ctx, e)
}

func TestService_RunAccrual_WriteFailureIsolated(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memstore.New(), failFor: "emp-b"}
	svc := newTestService(t, store)

	result, err := svc.RunAccrual(ctx,
		[]leavecredit.Policy{leavecredit.VacationPolicy("vac")},
		[]leavecredit.EmployeePositionRef{academic, admin}, fixedNow, leavecredit.FreqMonthly)

	require.NoError(t, err)
	applied, _, failed := result.Counts()
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, failed)
	require.Len(t, result.Failures(), 1)
	assert.Equal(t, "emp-b", result.Failures()[0].EmployeeID)
	assert.EqualError(t, result.Failures()[0].Err, "disk full")

	// The run is left failed so the period can be triggered again
	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, leavecredit.RunFailed, runs[0].Status)
	assert.Equal(t, 1, runs[0].Failed)
}

func TestService_RunAccrual_RetryAfterWriteFailure(t *testing.T) {
	// GIVEN: A monthly run where the write for emp-b failed
	ctx := context.Background()
	store := &failingStore{Store: memstore.New(), failFor: "emp-b"}
	svc := newTestService(t, store)
	policies := []leavecredit.Policy{leavecredit.VacationPolicy("vac")}
	employees := []leavecredit.EmployeePositionRef{academic, admin}

	_, err := svc.RunAccrual(ctx, policies, employees, fixedNow, leavecredit.FreqMonthly)
	require.NoError(t, err)

	// WHEN: The store recovers and the same period is triggered again
	store.failFor = ""
	retry, err := svc.RunAccrual(ctx, policies, employees, fixedNow, leavecredit.FreqMonthly)

	// THEN: emp-b is accrued, emp-a is not accrued twice
	require.NoError(t, err)
	assert.Equal(t, "accrual completed for 1 of 2 pairs; 1 skipped, 0 failed", retry.Summary())

	for _, emp := range []string{"emp-a", "emp-b"} {
		key := leavecredit.BucketKey{EmployeeID: emp, LeaveType: leavecredit.LeaveVacation, Year: 2025}
		current, err := store.Current(ctx, key)
		require.NoError(t, err, emp)
		assert.True(t, current.Balance.Equal(d("1.25")), "%s balance = %s", emp, current.Balance)
		history, err := store.History(ctx, key)
		require.NoError(t, err)
		assert.Len(t, history, 1, emp)
	}

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, leavecredit.RunCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].Applied)
	assert.Equal(t, 1, runs[0].Skipped)

	// A completed period is not run a third time
	again, err := svc.RunAccrual(ctx, policies, employees, fixedNow, leavecredit.FreqMonthly)
	require.NoError(t, err)
	_, skipped, _ := again.Counts()
	assert.Equal(t, 1, skipped)
}

func TestService_AdjustedAccrualRow_StillDedupesRetry(t *testing.T) {
	// GIVEN: emp-a's accrual row is the bucket's current row and gets
	// patched by an adjustment while emp-b's write is still pending retry
	ctx := context.Background()
	store := &failingStore{Store: memstore.New(), failFor: "emp-b"}
	svc := newTestService(t, store)
	policies := []leavecredit.Policy{leavecredit.VacationPolicy("vac")}
	employees := []leavecredit.EmployeePositionRef{academic, admin}

	_, err := svc.RunAccrual(ctx, policies, employees, fixedNow, leavecredit.FreqMonthly)
	require.NoError(t, err)

	adjusted, err := svc.ApplyAdjustment(ctx, leavecredit.AdjustmentRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025,
		CreditsDelta: d("2"), AddedBy: "hr-admin",
	})
	require.NoError(t, err)
	assert.Equal(t, leavecredit.TxAdjustment, adjusted.TransactionType)
	assert.Equal(t, "accrual:vac:2025-03:emp-a", adjusted.IdempotencyKey)

	// WHEN: The period is retried
	store.failFor = ""
	retry, err := svc.RunAccrual(ctx, policies, employees, fixedNow, leavecredit.FreqMonthly)
	require.NoError(t, err)

	// THEN: emp-a keeps the adjusted balance and is not accrued again
	_, skipped, _ := retry.Counts()
	assert.Equal(t, 1, skipped)
	current, err := store.Current(ctx, leavecredit.BucketKey{EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025})
	require.NoError(t, err)
	assert.True(t, current.Balance.Equal(d("3.25")), "balance = %s", current.Balance)
}

func TestService_ProcessYearEndCarryOver_RetryAfterWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memstore.New()}
	svc := newTestService(t, store)
	policies := []leavecredit.Policy{leavecredit.VacationPolicy("vac")}
	employees := []leavecredit.EmployeePositionRef{academic, admin}

	for _, emp := range []string{"emp-a", "emp-b"} {
		_, err := svc.SeedInitialBalance(ctx, leavecredit.SeedRequest{
			EmployeeID: emp, LeaveType: leavecredit.LeaveVacation, Year: 2025,
			TotalCredits: d("8"), UsedCredits: d("2"),
		})
		require.NoError(t, err)
	}

	store.failFor = "emp-b"
	first, err := svc.ProcessYearEndCarryOver(ctx, policies, employees, 2025)
	require.NoError(t, err)
	_, _, failed := first.Counts()
	assert.Equal(t, 1, failed)

	store.failFor = ""
	retry, err := svc.ProcessYearEndCarryOver(ctx, policies, employees, 2025)
	require.NoError(t, err)
	assert.Equal(t, "carry-over completed for 1 of 2 pairs; 1 skipped, 0 failed", retry.Summary())

	next, err := store.Current(ctx, leavecredit.BucketKey{EmployeeID: "emp-b", LeaveType: leavecredit.LeaveVacation, Year: 2026})
	require.NoError(t, err)
	assert.True(t, next.Balance.Equal(d("6")))
}

func TestService_ProcessYearEndCarryOver(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(t, store)

	_, err := svc.SeedInitialBalance(ctx, leavecredit.SeedRequest{
		EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2025,
		TotalCredits: d("20"), UsedCredits: d("6"),
	})
	require.NoError(t, err)

	policies := []leavecredit.Policy{leavecredit.VacationPolicy("vac")}
	employees := []leavecredit.EmployeePositionRef{academic, admin}

	result, err := svc.ProcessYearEndCarryOver(ctx, policies, employees, 2025)
	require.NoError(t, err)
	applied, skipped, failed := result.Counts()
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, skipped) // emp-b has no 2025 bucket
	assert.Equal(t, 0, failed)

	next, err := store.Current(ctx, leavecredit.BucketKey{EmployeeID: "emp-a", LeaveType: leavecredit.LeaveVacation, Year: 2026})
	require.NoError(t, err)
	assert.True(t, next.Balance.Equal(d("10")))

	again, err := svc.ProcessYearEndCarryOver(ctx, policies, employees, 2025)
	require.NoError(t, err)
	_, skipped, _ = again.Counts()
	assert.Equal(t, 1, skipped)

	referenced, err := store.ReferencesPolicy(ctx, "vac")
	require.NoError(t, err)
	assert.True(t, referenced)

	_, err = svc.ProcessYearEndCarryOver(ctx, policies, employees, 0)
	assert.True(t, leavecredit.IsClientError(err))
}
