package leavecredit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-credits/leavecredit"
)

func TestProjectYearEnd_MonthlyWithCarryOverLimit(t *testing.T) {
	// GIVEN: 4 vacation credits at the end of March (1.25/month, max 30, carry 10)
	l := newTestLedger()
	snap := leavecredit.SnapshotFrom([]leavecredit.Entry{bucket("emp-a", leavecredit.LeaveVacation, 2025, "5", "1")})
	policy := leavecredit.VacationPolicy("vac")

	// WHEN: Projecting to year end
	p, err := l.ProjectYearEnd(snap, policy, "emp-a", 2025, fixedNow)

	// THEN: 9 more months accrue, 10 carries over and the rest is forfeited
	require.NoError(t, err)
	assert.Equal(t, 9, p.RemainingPeriods)
	assert.True(t, p.Current.Equal(d("4")))
	assert.True(t, p.YearEndBalance.Equal(d("15.25")), "year end = %s", p.YearEndBalance)
	assert.True(t, p.CarryOver.Equal(d("10")))
	assert.True(t, p.Forfeited.Equal(d("5.25")))
}

func TestProjectYearEnd_CapsAtMaxAccumulation(t *testing.T) {
	l := newTestLedger()
	snap := leavecredit.SnapshotFrom([]leavecredit.Entry{bucket("emp-a", leavecredit.LeaveSick, 2025, "29", "0")})

	p, err := l.ProjectYearEnd(snap, leavecredit.SickLeavePolicy("sick"), "emp-a", 2025, fixedNow)

	require.NoError(t, err)
	assert.True(t, p.YearEndBalance.Equal(d("30")))
	assert.True(t, p.CarryOver.Equal(d("15")))
}

func TestProjectYearEnd_PeriodsByYear(t *testing.T) {
	l := newTestLedger()
	empty := leavecredit.Snapshot{}

	// Next year, no bucket yet: every month accrues from zero
	p, err := l.ProjectYearEnd(empty, leavecredit.VacationPolicy("vac"), "emp-a", 2026, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 12, p.RemainingPeriods)
	assert.True(t, p.YearEndBalance.Equal(d("15")))

	// A closed year accrues nothing more
	p, err = l.ProjectYearEnd(empty, leavecredit.VacationPolicy("vac"), "emp-a", 2024, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 0, p.RemainingPeriods)

	// Annual grants land at the start of the year; none remain once it began
	p, err = l.ProjectYearEnd(empty, leavecredit.BirthdayPolicy("bday"), "emp-a", 2025, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 0, p.RemainingPeriods)
	assert.True(t, p.Forfeited.IsZero())

	p, err = l.ProjectYearEnd(empty, leavecredit.BirthdayPolicy("bday"), "emp-a", 2026, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, p.RemainingPeriods)
	assert.True(t, p.Forfeited.Equal(d("1")), "birthday credits do not carry over")
}

func TestProjectYearEnd_Validation(t *testing.T) {
	l := newTestLedger()

	_, err := l.ProjectYearEnd(leavecredit.Snapshot{}, leavecredit.VacationPolicy("vac"), "", 2025, fixedNow)
	assert.True(t, leavecredit.IsClientError(err))

	bad := leavecredit.VacationPolicy("vac")
	bad.CarryOverLimit = nil
	_, err = l.ProjectYearEnd(leavecredit.Snapshot{}, bad, "emp-a", 2025, fixedNow)
	assert.True(t, leavecredit.IsClientError(err))
}
