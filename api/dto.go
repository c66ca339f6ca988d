/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes for the REST surface. Amounts travel as JSON numbers and
  are converted to decimal.Decimal at the boundary; the ledger never
  sees a float.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry `validate` tags checked by validation.go before a
  handler touches the service. Business rules (negative balances, bucket
  existence) stay in the ledger.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-credits/factory"
	"github.com/warp/leave-credits/leavecredit"
	"github.com/warp/leave-credits/store/sqlite"
)

// =============================================================================
// LEAVE CREDITS
// =============================================================================

// LeaveCreditDTO is one ledger row.
type LeaveCreditDTO struct {
	ID              string    `json:"id"`
	EmployeeID      string    `json:"employee"`
	LeaveType       string    `json:"leave_type"`
	Year            int       `json:"year"`
	PolicyID        string    `json:"policy,omitempty"`
	TotalCredits    float64   `json:"total_credits"`
	UsedCredits     float64   `json:"used_credits"`
	Balance         float64   `json:"balance"`
	CreditsAdded    float64   `json:"credits_added"`
	CreditsUsed     float64   `json:"credits_used"`
	TransactionType string    `json:"transaction_type"`
	DateAdded       time.Time `json:"date_added"`
	AddedBy         string    `json:"added_by,omitempty"`
	Remarks         string    `json:"remarks,omitempty"`
}

// CreateLeaveCreditRequest seeds a new bucket.
type CreateLeaveCreditRequest struct {
	EmployeeID   string  `json:"employee" validate:"required"`
	LeaveType    string  `json:"leave_type" validate:"required,leavetype"`
	Year         int     `json:"year" validate:"required,gt=0"`
	TotalCredits float64 `json:"total_credits" validate:"gte=0"`
	UsedCredits  float64 `json:"used_credits" validate:"gte=0"`
	AddedBy      string  `json:"added_by"`
	Remarks      string  `json:"remarks"`
}

// AdjustLeaveCreditRequest applies signed deltas to a bucket, creating it
// if it does not exist.
type AdjustLeaveCreditRequest struct {
	EmployeeID   string  `json:"employee" validate:"required"`
	LeaveType    string  `json:"leave_type" validate:"required,leavetype"`
	Year         int     `json:"year" validate:"required,gt=0"`
	CreditsDelta float64 `json:"credits_delta"`
	UsedDelta    float64 `json:"used_delta"`
	AddedBy      string  `json:"added_by" validate:"required"`
	Remarks      string  `json:"remarks"`
}

// UpdateLeaveCreditRequest sets absolute totals on an existing bucket.
// Omitted fields keep their current value.
type UpdateLeaveCreditRequest struct {
	TotalCredits *float64 `json:"total_credits" validate:"omitempty,gte=0"`
	UsedCredits  *float64 `json:"used_credits" validate:"omitempty,gte=0"`
	AddedBy      string   `json:"added_by"`
	Remarks      string   `json:"remarks"`
}

// RecordUsageRequest consumes credits from an existing bucket.
type RecordUsageRequest struct {
	EmployeeID     string  `json:"employee" validate:"required"`
	LeaveType      string  `json:"leave_type" validate:"required,leavetype"`
	Year           int     `json:"year" validate:"required,gt=0"`
	Credits        float64 `json:"credits" validate:"gt=0"`
	AddedBy        string  `json:"added_by"`
	Remarks        string  `json:"remarks"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// ProjectionDTO previews a bucket at year end.
type ProjectionDTO struct {
	EmployeeID       string  `json:"employee"`
	LeaveType        string  `json:"leave_type"`
	Year             int     `json:"year"`
	PolicyID         string  `json:"policy"`
	AsOf             string  `json:"as_of"`
	Current          float64 `json:"current_balance"`
	RemainingPeriods int     `json:"remaining_periods"`
	YearEndBalance   float64 `json:"year_end_balance"`
	CarryOver        float64 `json:"carry_over"`
	Forfeited        float64 `json:"forfeited"`
}

// =============================================================================
// BULK RUNS
// =============================================================================

type RunAccrualRequest struct {
	Frequency string `json:"frequency" validate:"required,oneof=monthly annual"`
	AsOf      string `json:"as_of" validate:"omitempty,datetime=2006-01-02"` // defaults to today
}

type RunCarryOverRequest struct {
	Year int `json:"year" validate:"required,gt=0"`
}

// OutcomeDTO is one (employee, policy) pair of a bulk run.
type OutcomeDTO struct {
	EmployeeID string          `json:"employee,omitempty"`
	PolicyID   string          `json:"policy"`
	LeaveType  string          `json:"leave_type"`
	Status     string          `json:"status"` // applied, skipped, failed
	Reason     string          `json:"reason,omitempty"`
	Error      string          `json:"error,omitempty"`
	Entry      *LeaveCreditDTO `json:"entry,omitempty"`
}

type BatchResultDTO struct {
	Kind     string       `json:"kind"`
	Period   string       `json:"period"`
	Summary  string       `json:"summary"`
	Applied  int          `json:"applied"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
	Outcomes []OutcomeDTO `json:"outcomes"`
}

// RunDTO is a recorded (kind, policy, period) run.
type RunDTO struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	PolicyID    string     `json:"policy"`
	Period      string     `json:"period"`
	Status      string     `json:"status"`
	Applied     int        `json:"applied"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// =============================================================================
// POLICIES AND EMPLOYEES
// =============================================================================

// PolicyDTO wraps the stored policy document.
type PolicyDTO struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	LeaveType string             `json:"leave_type"`
	Config    factory.PolicyJSON `json:"config"`
	Version   int                `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type EmployeeDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email,omitempty"`
	PositionType string     `json:"position_type"`
	HireDate     *time.Time `json:"hire_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type CreateEmployeeRequest struct {
	ID           string `json:"id" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Email        string `json:"email" validate:"omitempty,email"`
	PositionType string `json:"position_type" validate:"required,positiontype"`
	HireDate     string `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// DEMO
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Details string       `json:"details,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toLeaveCreditDTO(e leavecredit.Entry) LeaveCreditDTO {
	return LeaveCreditDTO{
		ID:              e.ID,
		EmployeeID:      e.EmployeeID,
		LeaveType:       string(e.LeaveType),
		Year:            e.Year,
		PolicyID:        e.PolicyID,
		TotalCredits:    e.TotalCredits.InexactFloat64(),
		UsedCredits:     e.UsedCredits.InexactFloat64(),
		Balance:         e.Balance.InexactFloat64(),
		CreditsAdded:    e.CreditsAdded.InexactFloat64(),
		CreditsUsed:     e.CreditsUsed.InexactFloat64(),
		TransactionType: string(e.TransactionType),
		DateAdded:       e.DateAdded,
		AddedBy:         e.AddedBy,
		Remarks:         e.Remarks,
	}
}

func toLeaveCreditDTOs(entries []leavecredit.Entry) []LeaveCreditDTO {
	out := make([]LeaveCreditDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLeaveCreditDTO(e))
	}
	return out
}

func toProjectionDTO(p leavecredit.Projection) ProjectionDTO {
	return ProjectionDTO{
		EmployeeID:       p.Key.EmployeeID,
		LeaveType:        string(p.Key.LeaveType),
		Year:             p.Key.Year,
		PolicyID:         p.PolicyID,
		AsOf:             p.AsOf.Format("2006-01-02"),
		Current:          p.Current.InexactFloat64(),
		RemainingPeriods: p.RemainingPeriods,
		YearEndBalance:   p.YearEndBalance.InexactFloat64(),
		CarryOver:        p.CarryOver.InexactFloat64(),
		Forfeited:        p.Forfeited.InexactFloat64(),
	}
}

func toBatchResultDTO(r leavecredit.BatchResult) BatchResultDTO {
	applied, skipped, failed := r.Counts()
	dto := BatchResultDTO{
		Kind:     string(r.Kind),
		Period:   r.Period,
		Summary:  r.Summary(),
		Applied:  applied,
		Skipped:  skipped,
		Failed:   failed,
		Outcomes: make([]OutcomeDTO, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		od := OutcomeDTO{
			EmployeeID: o.EmployeeID,
			PolicyID:   o.PolicyID,
			LeaveType:  string(o.LeaveType),
			Reason:     o.Reason,
		}
		switch {
		case o.Err != nil:
			od.Status = "failed"
			od.Error = o.Err.Error()
		case o.Skipped:
			od.Status = "skipped"
		default:
			od.Status = "applied"
			entry := toLeaveCreditDTO(*o.Entry)
			od.Entry = &entry
		}
		dto.Outcomes = append(dto.Outcomes, od)
	}
	return dto
}

func toRunDTO(r leavecredit.Run) RunDTO {
	return RunDTO{
		ID:          r.ID,
		Kind:        string(r.Token.Kind),
		PolicyID:    r.Token.PolicyID,
		Period:      r.Token.Period,
		Status:      string(r.Status),
		Applied:     r.Applied,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func toEmployeeDTO(e sqlite.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:           e.ID,
		Name:         e.Name,
		Email:        e.Email,
		PositionType: string(e.PositionType),
		HireDate:     e.HireDate,
		CreatedAt:    e.CreatedAt,
	}
}

// amount converts a request number to a ledger amount.
func amount(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func amountPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := amount(*v)
	return &d
}
