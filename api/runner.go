/*
runner.go - Bulk accrual and carry-over against the stored roster

PURPOSE:
  The ledger service takes policies and employees as arguments. Runner
  loads both from the SQLite store (policies via the JSON factory) and
  hands them to the service. Used by the run endpoints and the
  command-line one-shot flags; nothing runs on a timer.

ORDERING:
  Close a year before accruing into the next one. Carry-over opens the
  next year's buckets and conflicts with any bucket an accrual already
  created there.

SEE ALSO:
  - leavecredit/service.go: Claiming, computing and persisting a batch
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/leave-credits/factory"
	"github.com/warp/leave-credits/leavecredit"
	"github.com/warp/leave-credits/store/sqlite"
)

type Runner struct {
	Store   *sqlite.Store
	Service *leavecredit.Service
	Factory *factory.PolicyFactory
	Logger  *slog.Logger
}

func NewRunner(store *sqlite.Store, service *leavecredit.Service, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Store:   store,
		Service: service,
		Factory: factory.NewPolicyFactory(),
		Logger:  logger,
	}
}

// Policies parses every stored policy document. A document that no
// longer parses is logged and left out of the run.
func (r *Runner) Policies(ctx context.Context) ([]leavecredit.Policy, error) {
	records, err := r.Store.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	policies := make([]leavecredit.Policy, 0, len(records))
	for _, rec := range records {
		p, err := r.Factory.ParsePolicy(rec.ConfigJSON)
		if err != nil {
			r.Logger.Warn("skipping unparsable policy", "policy_id", rec.ID, "error", err)
			continue
		}
		policies = append(policies, *p)
	}
	return policies, nil
}

// SavePolicies stores each policy as its JSON document.
func (r *Runner) SavePolicies(ctx context.Context, policies ...leavecredit.Policy) error {
	for _, p := range policies {
		doc, err := r.Factory.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal policy %s: %w", p.ID, err)
		}
		err = r.Store.SavePolicy(ctx, sqlite.PolicyRecord{
			ID:         p.ID,
			Name:       p.Name,
			LeaveType:  string(p.LeaveType),
			ConfigJSON: doc,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) Employees(ctx context.Context) ([]leavecredit.EmployeePositionRef, error) {
	employees, err := r.Store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	refs := make([]leavecredit.EmployeePositionRef, 0, len(employees))
	for _, e := range employees {
		refs = append(refs, e.Ref())
	}
	return refs, nil
}

// Accrue runs accrual of the given frequency for every stored employee.
func (r *Runner) Accrue(ctx context.Context, freq leavecredit.AccrualFrequency, asOf time.Time) (leavecredit.BatchResult, error) {
	policies, employees, err := r.load(ctx)
	if err != nil {
		return leavecredit.BatchResult{}, err
	}
	return r.Service.RunAccrual(ctx, policies, employees, asOf, freq)
}

// CarryOver closes year for every stored employee.
func (r *Runner) CarryOver(ctx context.Context, year int) (leavecredit.BatchResult, error) {
	policies, employees, err := r.load(ctx)
	if err != nil {
		return leavecredit.BatchResult{}, err
	}
	return r.Service.ProcessYearEndCarryOver(ctx, policies, employees, year)
}

// Project previews an employee's bucket under the stored policy that
// governs the leave type for the employee's position.
func (r *Runner) Project(ctx context.Context, employeeID string, lt leavecredit.LeaveType, year int, asOf time.Time) (leavecredit.Projection, error) {
	emp, err := r.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return leavecredit.Projection{}, err
	}
	policies, err := r.Policies(ctx)
	if err != nil {
		return leavecredit.Projection{}, err
	}
	for _, p := range policies {
		if p.LeaveType == lt && p.AppliesTo(emp.PositionType) {
			return r.Service.ProjectYearEnd(ctx, p, employeeID, year, asOf)
		}
	}
	return leavecredit.Projection{}, &leavecredit.NotFoundError{
		Kind: "policy",
		Key:  fmt.Sprintf("%s for %s", lt, emp.PositionType),
	}
}

func (r *Runner) load(ctx context.Context) ([]leavecredit.Policy, []leavecredit.EmployeePositionRef, error) {
	policies, err := r.Policies(ctx)
	if err != nil {
		return nil, nil, err
	}
	employees, err := r.Employees(ctx)
	if err != nil {
		return nil, nil, err
	}
	return policies, employees, nil
}
