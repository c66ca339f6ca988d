/*
policy.go - Policy validation and pre-built leave policies

PURPOSE:
  Validates HR-authored policies and provides ready-to-use configurations
  for the standard leave types.

AVAILABLE POLICIES:
  VacationPolicy:    1.25/month, capped at 30, carries up to 10 days
  SickLeavePolicy:   1.25/month, capped at 30, carries up to 15 days
  BirthdayPolicy:    1 day per year, no carry-over
  BereavementPolicy: 3 days per year, no carry-over
  PaternityPolicy:   7 days per year, no carry-over
  MaternityPolicy:   105 days per year, no carry-over
  SoloParentPolicy:  7 days per year, no carry-over

EXAMPLE:
  p := leavecredit.VacationPolicy("vac-admin", leavecredit.PositionAdministration)
  if err := p.Validate(); err != nil { ... }

SEE ALSO:
  - factory/policy.go: JSON-based policy creation
  - accrual.go: Consumes CreditsPerPeriod / MaxAccumulation
  - carryover.go: Consumes CarryOver / CarryOverLimit
*/
package leavecredit

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Validate checks the policy invariants and returns a *ValidationError
// naming the first offending field.
func (p Policy) Validate() error {
	if p.ID == "" {
		return requiredField("id")
	}
	if !p.LeaveType.Valid() {
		return &ValidationError{Field: "leave_type", Message: fmt.Sprintf("unknown leave type %q", p.LeaveType)}
	}
	if !p.AccrualFrequency.Valid() {
		return &ValidationError{Field: "accrual_frequency", Message: fmt.Sprintf("unknown accrual frequency %q", p.AccrualFrequency)}
	}
	if p.CreditsPerPeriod.IsNegative() {
		return &ValidationError{Field: "credits_per_period", Message: fmt.Sprintf("must be >= 0, got %s", p.CreditsPerPeriod)}
	}
	if p.MaxAccumulation.IsNegative() {
		return &ValidationError{Field: "max_accumulation", Message: fmt.Sprintf("must be >= 0, got %s", p.MaxAccumulation)}
	}
	if p.CarryOver {
		if p.CarryOverLimit == nil {
			return &ValidationError{Field: "carry_over_limit", Message: "is required when carry_over is enabled"}
		}
		if p.CarryOverLimit.IsNegative() {
			return &ValidationError{Field: "carry_over_limit", Message: fmt.Sprintf("must be >= 0, got %s", *p.CarryOverLimit)}
		}
	}
	if len(p.ApplicablePositionTypes) == 0 {
		return &ValidationError{Field: "applicable_position_types", Message: "must name at least one position type"}
	}
	for pos := range p.ApplicablePositionTypes {
		if !pos.Valid() {
			return &ValidationError{Field: "applicable_position_types", Message: fmt.Sprintf("unknown position type %q", pos)}
		}
	}
	return nil
}

// =============================================================================
// COMMON LEAVE POLICIES
// =============================================================================

func days(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func limit(v float64) *decimal.Decimal {
	d := days(v)
	return &d
}

func allPositions(positions []PositionType) PositionSet {
	if len(positions) == 0 {
		return NewPositionSet(PositionAcademic, PositionAdministration)
	}
	return NewPositionSet(positions...)
}

// VacationPolicy returns a monthly vacation policy with a 10-day carry-over.
// With no positions given it applies to every position type.
func VacationPolicy(id string, positions ...PositionType) Policy {
	return Policy{
		ID:                      id,
		Name:                    "Vacation Leave",
		LeaveType:               LeaveVacation,
		AccrualFrequency:        FreqMonthly,
		CreditsPerPeriod:        days(1.25),
		MaxAccumulation:         days(30),
		CarryOver:               true,
		CarryOverLimit:          limit(10),
		ApplicablePositionTypes: allPositions(positions),
	}
}

func SickLeavePolicy(id string, positions ...PositionType) Policy {
	return Policy{
		ID:                      id,
		Name:                    "Sick Leave",
		LeaveType:               LeaveSick,
		AccrualFrequency:        FreqMonthly,
		CreditsPerPeriod:        days(1.25),
		MaxAccumulation:         days(30),
		CarryOver:               true,
		CarryOverLimit:          limit(15),
		ApplicablePositionTypes: allPositions(positions),
	}
}

// annualGrant builds a fixed yearly allowance that resets at year end.
func annualGrant(id, name string, lt LeaveType, amount float64, positions []PositionType) Policy {
	return Policy{
		ID:                      id,
		Name:                    name,
		LeaveType:               lt,
		AccrualFrequency:        FreqAnnual,
		CreditsPerPeriod:        days(amount),
		MaxAccumulation:         days(amount),
		ApplicablePositionTypes: allPositions(positions),
	}
}

func BirthdayPolicy(id string, positions ...PositionType) Policy {
	return annualGrant(id, "Birthday Leave", LeaveBirthday, 1, positions)
}

func BereavementPolicy(id string, positions ...PositionType) Policy {
	return annualGrant(id, "Bereavement Leave", LeaveBereavement, 3, positions)
}

func PaternityPolicy(id string, positions ...PositionType) Policy {
	return annualGrant(id, "Paternity Leave", LeavePaternity, 7, positions)
}

func MaternityPolicy(id string, positions ...PositionType) Policy {
	return annualGrant(id, "Maternity Leave", LeaveMaternity, 105, positions)
}

func SoloParentPolicy(id string, positions ...PositionType) Policy {
	return annualGrant(id, "Solo Parent Leave", LeaveSoloParent, 7, positions)
}

// DefaultPolicies returns one policy per leave type, applicable to every position.
func DefaultPolicies() []Policy {
	return []Policy{
		VacationPolicy("vacation-default"),
		SickLeavePolicy("sick-default"),
		BirthdayPolicy("birthday-default"),
		BereavementPolicy("bereavement-default"),
		PaternityPolicy("paternity-default"),
		MaternityPolicy("maternity-default"),
		SoloParentPolicy("solo-parent-default"),
	}
}
