/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts HR-authored JSON policy documents into leavecredit.Policy.
  Policies are stored as JSON (leave_credit_policies.config_json), loaded
  from an optional seed file at startup, and accepted by the REST API.

JSON SCHEMA:
  {
    "id": "vacation-admin",
    "name": "Vacation Leave",
    "leave_type": "vacation",
    "accrual_frequency": "monthly",
    "credits_per_period": 1.25,
    "max_accumulation": 30,
    "carry_over": true,
    "carry_over_limit": 10,
    "applicable_position_types": ["administration"]
  }

DEFAULTS:
  - name: the id
  - accrual_frequency: "none"
  - applicable_position_types: every position type

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(jsonString)
  policies, err := f.ParsePolicies(fileBytes) // a JSON array

SEE ALSO:
  - leavecredit/policy.go: Validation and pre-built policies
  - api/handlers.go: Policy endpoints
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-credits/leavecredit"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type PolicyJSON struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name,omitempty"`
	LeaveType               string   `json:"leave_type"`
	AccrualFrequency        string   `json:"accrual_frequency,omitempty"`
	CreditsPerPeriod        float64  `json:"credits_per_period"`
	MaxAccumulation         float64  `json:"max_accumulation"`
	CarryOver               bool     `json:"carry_over"`
	CarryOverLimit          *float64 `json:"carry_over_limit,omitempty"`
	ApplicablePositionTypes []string `json:"applicable_position_types,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy creates a validated Policy from a JSON document.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*leavecredit.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, &leavecredit.ValidationError{Message: fmt.Sprintf("invalid policy JSON: %v", err)}
	}
	return f.FromJSON(pj)
}

// ParsePolicies parses a JSON array of policies, failing on the first bad one.
func (f *PolicyFactory) ParsePolicies(data []byte) ([]leavecredit.Policy, error) {
	var docs []PolicyJSON
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, &leavecredit.ValidationError{Message: fmt.Sprintf("invalid policy list JSON: %v", err)}
	}
	policies := make([]leavecredit.Policy, 0, len(docs))
	for i, pj := range docs {
		p, err := f.FromJSON(pj)
		if err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, pj.ID, err)
		}
		policies = append(policies, *p)
	}
	return policies, nil
}

// FromJSON converts and validates a parsed document.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (*leavecredit.Policy, error) {
	leaveType, err := leavecredit.ParseLeaveType(pj.LeaveType)
	if err != nil {
		return nil, err
	}

	freq := leavecredit.FreqNone
	if pj.AccrualFrequency != "" {
		if freq, err = leavecredit.ParseAccrualFrequency(pj.AccrualFrequency); err != nil {
			return nil, err
		}
	}

	positions := leavecredit.NewPositionSet(leavecredit.PositionAcademic, leavecredit.PositionAdministration)
	if len(pj.ApplicablePositionTypes) > 0 {
		positions = leavecredit.NewPositionSet()
		for _, raw := range pj.ApplicablePositionTypes {
			pos, err := leavecredit.ParsePositionType(raw)
			if err != nil {
				return nil, err
			}
			positions[pos] = struct{}{}
		}
	}

	name := pj.Name
	if name == "" {
		name = pj.ID
	}

	policy := &leavecredit.Policy{
		ID:                      pj.ID,
		Name:                    name,
		LeaveType:               leaveType,
		AccrualFrequency:        freq,
		CreditsPerPeriod:        decimal.NewFromFloat(pj.CreditsPerPeriod),
		MaxAccumulation:         decimal.NewFromFloat(pj.MaxAccumulation),
		CarryOver:               pj.CarryOver,
		ApplicablePositionTypes: positions,
	}
	if pj.CarryOverLimit != nil {
		limit := decimal.NewFromFloat(*pj.CarryOverLimit)
		policy.CarryOverLimit = &limit
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// ToJSON converts a Policy back to its JSON document.
func (f *PolicyFactory) ToJSON(p leavecredit.Policy) PolicyJSON {
	pj := PolicyJSON{
		ID:               p.ID,
		Name:             p.Name,
		LeaveType:        string(p.LeaveType),
		AccrualFrequency: string(p.AccrualFrequency),
		CreditsPerPeriod: p.CreditsPerPeriod.InexactFloat64(),
		MaxAccumulation:  p.MaxAccumulation.InexactFloat64(),
		CarryOver:        p.CarryOver,
	}
	if p.CarryOverLimit != nil {
		limit := p.CarryOverLimit.InexactFloat64()
		pj.CarryOverLimit = &limit
	}
	for _, pos := range p.ApplicablePositionTypes.Sorted() {
		pj.ApplicablePositionTypes = append(pj.ApplicablePositionTypes, string(pos))
	}
	return pj
}

// Marshal renders a Policy as the JSON string stored in the database.
func (f *PolicyFactory) Marshal(p leavecredit.Policy) (string, error) {
	data, err := json.Marshal(f.ToJSON(p))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
