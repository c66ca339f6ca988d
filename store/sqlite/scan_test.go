package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-credits/leavecredit"
)

func TestScan_CorruptColumnsAreErrors(t *testing.T) {
	// GIVEN: Rows whose stored text no longer parses
	// WHEN: Reading them back
	// THEN: An error naming the column, never a zero amount or time

	ctx := context.Background()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	key := leavecredit.BucketKey{EmployeeID: "emp-1", LeaveType: leavecredit.LeaveVacation, Year: 2025}
	require.NoError(t, store.Insert(ctx, leavecredit.Entry{
		ID: "row-1", EmployeeID: key.EmployeeID, LeaveType: key.LeaveType, Year: key.Year,
		TotalCredits: decimal.NewFromInt(5), UsedCredits: decimal.Zero,
		CreditsAdded: decimal.NewFromInt(5), CreditsUsed: decimal.Zero, Balance: decimal.NewFromInt(5),
		TransactionType: leavecredit.TxInitial, DateAdded: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}))

	_, err = store.db.ExecContext(ctx, "UPDATE leave_credits SET balance = 'five' WHERE id = 'row-1'")
	require.NoError(t, err)

	_, err = store.Current(ctx, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid balance "five"`)
	assert.False(t, leavecredit.IsNotFound(err))

	_, err = store.History(ctx, key)
	assert.Error(t, err)

	// Timestamps
	_, err = store.db.ExecContext(ctx, "UPDATE leave_credits SET balance = '5', date_added = 'yesterday' WHERE id = 'row-1'")
	require.NoError(t, err)
	_, err = store.Get(ctx, "row-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date_added")

	token := leavecredit.PeriodToken{Kind: leavecredit.RunAccrual, PolicyID: "vac", Period: "2025-03"}
	ok, err := store.ClaimPeriod(ctx, leavecredit.Run{ID: "run-1", Token: token, Status: leavecredit.RunRunning, StartedAt: time.Now()})
	require.NoError(t, err)
	require.True(t, ok)
	_, err = store.db.ExecContext(ctx, "UPDATE period_runs SET started_at = '' WHERE id = 'run-1'")
	require.NoError(t, err)
	_, err = store.ListRuns(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid started_at")
}
