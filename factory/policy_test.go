package factory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-credits/factory"
	"github.com/warp/leave-credits/leavecredit"
)

func TestParsePolicy(t *testing.T) {
	f := factory.NewPolicyFactory()

	p, err := f.ParsePolicy(`{
		"id": "vacation-admin",
		"name": "Vacation Leave",
		"leave_type": "vacation",
		"accrual_frequency": "monthly",
		"credits_per_period": 1.25,
		"max_accumulation": 30,
		"carry_over": true,
		"carry_over_limit": 10,
		"applicable_position_types": ["administration"]
	}`)

	require.NoError(t, err)
	assert.Equal(t, leavecredit.LeaveVacation, p.LeaveType)
	assert.Equal(t, leavecredit.FreqMonthly, p.AccrualFrequency)
	assert.True(t, p.CreditsPerPeriod.Equal(decimal.RequireFromString("1.25")))
	require.NotNil(t, p.CarryOverLimit)
	assert.True(t, p.CarryOverLimit.Equal(decimal.NewFromInt(10)))
	assert.True(t, p.AppliesTo(leavecredit.PositionAdministration))
	assert.False(t, p.AppliesTo(leavecredit.PositionAcademic))
}

func TestParsePolicy_Defaults(t *testing.T) {
	f := factory.NewPolicyFactory()

	p, err := f.ParsePolicy(`{"id": "bday", "leave_type": "Birthday", "credits_per_period": 1, "max_accumulation": 1}`)

	require.NoError(t, err)
	assert.Equal(t, "bday", p.Name)
	assert.Equal(t, leavecredit.FreqNone, p.AccrualFrequency)
	assert.True(t, p.AppliesTo(leavecredit.PositionAcademic))
	assert.True(t, p.AppliesTo(leavecredit.PositionAdministration))
}

func TestParsePolicy_Rejects(t *testing.T) {
	f := factory.NewPolicyFactory()
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"id": `},
		{"unknown leave type", `{"id": "x", "leave_type": "sabbatical"}`},
		{"unknown frequency", `{"id": "x", "leave_type": "sick", "accrual_frequency": "weekly"}`},
		{"unknown position", `{"id": "x", "leave_type": "sick", "applicable_position_types": ["intern"]}`},
		{"carry over without limit", `{"id": "x", "leave_type": "sick", "carry_over": true}`},
		{"negative credits", `{"id": "x", "leave_type": "sick", "credits_per_period": -1}`},
		{"missing id", `{"leave_type": "sick"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePolicy(tt.json)
			require.Error(t, err)
			assert.True(t, leavecredit.IsClientError(err), err.Error())
		})
	}
}

func TestToJSON_RoundTripsPresets(t *testing.T) {
	f := factory.NewPolicyFactory()

	for _, preset := range leavecredit.DefaultPolicies() {
		raw, err := f.Marshal(preset)
		require.NoError(t, err)

		parsed, err := f.ParsePolicy(raw)
		require.NoError(t, err, preset.ID)
		assert.Equal(t, preset.LeaveType, parsed.LeaveType)
		assert.True(t, preset.MaxAccumulation.Equal(parsed.MaxAccumulation), preset.ID)
		assert.Equal(t, preset.ApplicablePositionTypes, parsed.ApplicablePositionTypes)
	}
}

func TestParsePolicies(t *testing.T) {
	f := factory.NewPolicyFactory()

	policies, err := f.ParsePolicies([]byte(`[
		{"id": "sick", "leave_type": "sick", "accrual_frequency": "monthly", "credits_per_period": 1.25, "max_accumulation": 30},
		{"id": "solo", "leave_type": "solo-parent", "accrual_frequency": "annual", "credits_per_period": 7, "max_accumulation": 7}
	]`))
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, leavecredit.LeaveSoloParent, policies[1].LeaveType)

	_, err = f.ParsePolicies([]byte(`[{"id": "bad", "leave_type": "nope"}]`))
	assert.True(t, leavecredit.IsClientError(err))
}
