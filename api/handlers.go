/*
handlers.go - HTTP API handlers for the leave-credit ledger

PURPOSE:
  Exposes the ledger operations over REST. Handlers parse and validate
  the request, call the service, and serialize the result.

ENDPOINTS:
  Leave credits:
    GET    /api/leave-credits/by_employee/?employee_id=&year=  Current buckets
    POST   /api/leave-credits/                               Seed a bucket
    PATCH  /api/leave-credits/adjust/                        Apply deltas
    PATCH  /api/leave-credits/{id}/                          Set totals
    POST   /api/leave-credits/usage/                         Record usage
    GET    /api/leave-credits/{id}/history                   Bucket history
    GET    /api/leave-credits/projection/?employee_id=&leave_type=&year=&as_of=
                                                             Year-end preview

  Runs:
    POST   /api/accruals/run        Monthly or annual accrual
    POST   /api/carry-over/run      Year-end carry-over
    GET    /api/runs                Recorded runs

  Policies, employees, demo scenarios: see server.go.

ERROR HANDLING:
  - 400: ValidationError, malformed body, failed tag validation
  - 404: NotFoundError
  - 409: ConflictError, duplicate idempotency key
  - 500: Everything else

SECURITY NOTE:
  No authentication. AddedBy is taken from the request body.

SEE ALSO:
  - dto.go: Request/response data structures
  - demo.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/leave-credits/factory"
	"github.com/warp/leave-credits/leavecredit"
	"github.com/warp/leave-credits/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type Handler struct {
	Store         *sqlite.Store
	Service       *leavecredit.Service
	Runner        *Runner
	PolicyFactory *factory.PolicyFactory
	Logger        *slog.Logger

	validate *validator.Validate

	// scenarioMu serializes demo loads and resets and guards currentScenario.
	scenarioMu      sync.Mutex
	currentScenario string
}

func NewHandler(store *sqlite.Store, service *leavecredit.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:         store,
		Service:       service,
		Runner:        NewRunner(store, service, logger),
		PolicyFactory: factory.NewPolicyFactory(),
		Logger:        logger,
		validate:      newValidator(),
	}
}

// =============================================================================
// LEAVE CREDIT ENDPOINTS
// =============================================================================

// ListByEmployee returns the current bucket rows of one employee.
func (h *Handler) ListByEmployee(w http.ResponseWriter, r *http.Request) {
	employeeID := r.URL.Query().Get("employee_id")
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year <= 0 {
		writeError(w, http.StatusBadRequest, "year must be a positive integer", err)
		return
	}

	entries, err := h.Store.ListCurrent(r.Context(), employeeID, year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load leave credits", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveCreditDTOs(entries))
}

func (h *Handler) CreateLeaveCredit(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveCreditRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	lt, _ := leavecredit.ParseLeaveType(req.LeaveType)

	entry, err := h.Service.SeedInitialBalance(r.Context(), leavecredit.SeedRequest{
		EmployeeID:   req.EmployeeID,
		LeaveType:    lt,
		Year:         req.Year,
		TotalCredits: amount(req.TotalCredits),
		UsedCredits:  amount(req.UsedCredits),
		AddedBy:      req.AddedBy,
		Remarks:      req.Remarks,
	})
	if err != nil {
		writeDomainError(w, "Failed to create leave credits", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveCreditDTO(entry))
}

func (h *Handler) AdjustLeaveCredit(w http.ResponseWriter, r *http.Request) {
	var req AdjustLeaveCreditRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	lt, _ := leavecredit.ParseLeaveType(req.LeaveType)

	entry, err := h.Service.ApplyAdjustment(r.Context(), leavecredit.AdjustmentRequest{
		EmployeeID:   req.EmployeeID,
		LeaveType:    lt,
		Year:         req.Year,
		CreditsDelta: amount(req.CreditsDelta),
		UsedDelta:    amount(req.UsedDelta),
		AddedBy:      req.AddedBy,
		Remarks:      req.Remarks,
	})
	if err != nil {
		writeDomainError(w, "Failed to adjust leave credits", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveCreditDTO(entry))
}

// UpdateLeaveCredit sets absolute totals on the bucket whose current row
// is {id}.
func (h *Handler) UpdateLeaveCredit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateLeaveCreditRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if req.TotalCredits == nil && req.UsedCredits == nil {
		writeError(w, http.StatusBadRequest, "total_credits or used_credits is required", nil)
		return
	}

	entry, err := h.Service.SetTotals(r.Context(), id,
		amountPtr(req.TotalCredits), amountPtr(req.UsedCredits), req.AddedBy, req.Remarks)
	if err != nil {
		writeDomainError(w, "Failed to update leave credits", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveCreditDTO(entry))
}

func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req RecordUsageRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	lt, _ := leavecredit.ParseLeaveType(req.LeaveType)

	entry, err := h.Service.RecordUsage(r.Context(), leavecredit.UsageRequest{
		EmployeeID:     req.EmployeeID,
		LeaveType:      lt,
		Year:           req.Year,
		Credits:        amount(req.Credits),
		AddedBy:        req.AddedBy,
		Remarks:        req.Remarks,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, "Failed to record usage", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveCreditDTO(entry))
}

// GetHistory returns every row of the bucket that entry {id} belongs to.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, err := h.Store.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to load entry", err)
		return
	}
	history, err := h.Store.History(ctx, entry.Key())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveCreditDTOs(history))
}

// GetProjection previews a bucket's year-end balance and carry-over.
func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	employeeID := q.Get("employee_id")
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}
	lt, err := leavecredit.ParseLeaveType(q.Get("leave_type"))
	if err != nil {
		writeDomainError(w, "Invalid leave_type", err)
		return
	}
	asOf := h.Service.Ledger.Now()
	if raw := q.Get("as_of"); raw != "" {
		if asOf, err = time.Parse("2006-01-02", raw); err != nil {
			writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD", err)
			return
		}
	}
	year := asOf.Year()
	if raw := q.Get("year"); raw != "" {
		if year, err = strconv.Atoi(raw); err != nil || year <= 0 {
			writeError(w, http.StatusBadRequest, "year must be a positive integer", err)
			return
		}
	}

	projection, err := h.Runner.Project(r.Context(), employeeID, lt, year, asOf)
	if err != nil {
		writeDomainError(w, "Failed to project balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectionDTO(projection))
}

// =============================================================================
// RUN ENDPOINTS
// =============================================================================

func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var req RunAccrualRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	freq, _ := leavecredit.ParseAccrualFrequency(req.Frequency)

	asOf := h.Service.Ledger.Now()
	if req.AsOf != "" {
		asOf, _ = time.Parse("2006-01-02", req.AsOf)
	}

	result, err := h.Runner.Accrue(r.Context(), freq, asOf)
	if err != nil {
		writeDomainError(w, "Failed to run accrual", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

func (h *Handler) RunCarryOver(w http.ResponseWriter, r *http.Request) {
	var req RunCarryOverRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.Runner.CarryOver(r.Context(), req.Year)
	if err != nil {
		writeDomainError(w, "Failed to run carry-over", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	out := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// POLICY ENDPOINTS
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}
	out := make([]PolicyDTO, 0, len(records))
	for _, rec := range records {
		dto, err := h.toPolicyDTO(rec)
		if err != nil {
			h.Logger.Warn("stored policy does not parse", "policy_id", rec.ID, "error", err)
			continue
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to load policy", err)
		return
	}
	dto, err := h.toPolicyDTO(*rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Stored policy is invalid", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreatePolicy accepts a policy document, validates it and stores it.
// Posting an existing id replaces the policy and bumps its version.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	policy, err := h.PolicyFactory.FromJSON(req)
	if err != nil {
		writeDomainError(w, "Invalid policy", err)
		return
	}

	ctx := r.Context()
	if err := h.Runner.SavePolicies(ctx, *policy); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}
	rec, err := h.Store.GetPolicy(ctx, policy.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load saved policy", err)
		return
	}
	dto, _ := h.toPolicyDTO(*rec)
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeletePolicy(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddDefaultPolicies stores the built-in policy set for every position.
func (h *Handler) AddDefaultPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defaults := leavecredit.DefaultPolicies()
	if err := h.Runner.SavePolicies(ctx, defaults...); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save default policies", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": len(defaults)})
}

// =============================================================================
// EMPLOYEE ENDPOINTS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}
	out := make([]EmployeeDTO, 0, len(employees))
	for _, e := range employees {
		out = append(out, toEmployeeDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to load employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	position, _ := leavecredit.ParsePositionType(req.PositionType)

	emp := sqlite.Employee{
		ID:           req.ID,
		Name:         req.Name,
		Email:        req.Email,
		PositionType: position,
	}
	if req.HireDate != "" {
		hd, _ := time.Parse("2006-01-02", req.HireDate)
		emp.HireDate = &hd
	}

	ctx := r.Context()
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save employee", err)
		return
	}
	saved, err := h.Store.GetEmployee(ctx, emp.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load saved employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*saved))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) toPolicyDTO(rec sqlite.PolicyRecord) (PolicyDTO, error) {
	var cfg factory.PolicyJSON
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &cfg); err != nil {
		return PolicyDTO{}, err
	}
	return PolicyDTO{
		ID:        rec.ID,
		Name:      rec.Name,
		LeaveType: rec.LeaveType,
		Config:    cfg,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger error kinds to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case leavecredit.IsNotFound(err):
		status = http.StatusNotFound
	case leavecredit.IsConflict(err):
		status = http.StatusConflict
	case leavecredit.IsClientError(err):
		status = http.StatusBadRequest
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var verr *leavecredit.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		resp.Fields = []FieldError{{Field: verr.Field, Tag: "ledger", Message: verr.Message}}
	}
	writeJSON(w, status, resp)
}
