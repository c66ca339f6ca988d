/*
demo.go - Pre-configured demo scenarios

PURPOSE:
  Loads a small roster, the default policies and seed balances so the
  API can be explored without manual setup. Loading a scenario resets
  the database first.

SCENARIOS:
  1. new-year:  Fresh balances for the current year, ready for accrual
  2. year-end:  Last year's balances above the carry-over limits, ready
                for POST /api/carry-over/run with last year

SEE ALSO:
  - handlers.go: The endpoints the scenarios prepare data for
  - leavecredit/policy.go: DefaultPolicies
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/leave-credits/leavecredit"
	"github.com/warp/leave-credits/store/sqlite"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "new-year",
		Name:        "New Year",
		Description: "Four employees with opening vacation and sick balances for the current year. Run a monthly accrual next.",
	},
	{
		ID:          "year-end",
		Name:        "Year-End Carry-Over",
		Description: "Last year's balances exceed the carry-over limits. Run carry-over for last year to see them clamped.",
	},
}

var demoEmployees = []sqlite.Employee{
	{ID: "emp-001", Name: "Alice Reyes", Email: "alice@example.edu", PositionType: leavecredit.PositionAcademic},
	{ID: "emp-002", Name: "Ben Santos", Email: "ben@example.edu", PositionType: leavecredit.PositionAcademic},
	{ID: "emp-003", Name: "Carla Cruz", Email: "carla@example.edu", PositionType: leavecredit.PositionAdministration},
	{ID: "emp-004", Name: "Dan Lim", Email: "dan@example.edu", PositionType: leavecredit.PositionAdministration},
}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "new-year":
		err = h.loadNewYearScenario(ctx)
	case "year-end":
		err = h.loadYearEndScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": req.ScenarioID})
}

func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadRoster(ctx context.Context) error {
	if err := h.Runner.SavePolicies(ctx, leavecredit.DefaultPolicies()...); err != nil {
		return err
	}
	for _, emp := range demoEmployees {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadNewYearScenario(ctx context.Context) error {
	if err := h.loadRoster(ctx); err != nil {
		return err
	}
	year := h.Service.Ledger.Now().Year()
	for _, emp := range demoEmployees {
		for _, lt := range []leavecredit.LeaveType{leavecredit.LeaveVacation, leavecredit.LeaveSick} {
			if err := h.seed(ctx, emp.ID, lt, year, 5, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) loadYearEndScenario(ctx context.Context) error {
	if err := h.loadRoster(ctx); err != nil {
		return err
	}
	lastYear := h.Service.Ledger.Now().Year() - 1

	// total, used per employee; vacation carries at most 10, sick at most 15
	balances := map[string][2]float64{
		"emp-001": {18, 3},
		"emp-002": {8, 1},
		"emp-003": {30, 2},
		"emp-004": {12.5, 12.5},
	}
	for _, emp := range demoEmployees {
		b := balances[emp.ID]
		for _, lt := range []leavecredit.LeaveType{leavecredit.LeaveVacation, leavecredit.LeaveSick} {
			if err := h.seed(ctx, emp.ID, lt, lastYear, b[0], b[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) seed(ctx context.Context, employeeID string, lt leavecredit.LeaveType, year int, total, used float64) error {
	_, err := h.Service.SeedInitialBalance(ctx, leavecredit.SeedRequest{
		EmployeeID:   employeeID,
		LeaveType:    lt,
		Year:         year,
		TotalCredits: amount(total),
		UsedCredits:  amount(used),
		AddedBy:      "demo",
		Remarks:      "demo opening balance",
	})
	return err
}
