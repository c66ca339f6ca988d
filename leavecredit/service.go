/*
service.go - Snapshot -> Ledger -> Store orchestration

PURPOSE:
  The Ledger is pure; Service gives it a store. Every operation follows
  the same flow:
    1. Read the snapshot the operation needs
    2. Call the Ledger
    3. Persist the returned entries

BULK RUNS:
  Accrual and carry-over claim a (policy, period) token per policy
  BEFORE computing anything. A policy whose token is already held is
  reported as a skipped outcome, so re-triggering a run is harmless.
  Entries are persisted on a worker pool; a write failure marks only
  that pair as failed.

RETRIES:
  A run with any failed pair is finished as RunFailed, which frees its
  token. The next trigger recomputes every pair of that policy. Pairs
  that were written the first time are recognized by their idempotency
  key and reported as skipped, so only the failed ones are applied.

SEE ALSO:
  - ledger.go, accrual.go, carryover.go: The computations
  - store.go: Store contract
*/
package leavecredit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
)

type Service struct {
	Ledger *Ledger
	Store  Store
	Logger *slog.Logger

	pool *ants.Pool
}

// NewService creates a service whose bulk writes run on poolSize workers.
func NewService(store Store, logger *slog.Logger, poolSize int) (*Service, error) {
	if poolSize <= 0 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Ledger: NewLedger(),
		Store:  store,
		Logger: logger,
		pool:   pool,
	}, nil
}

// Close releases the worker pool.
func (s *Service) Close() {
	s.pool.Release()
}

// bucketSnapshot returns a snapshot holding at most the one bucket.
func (s *Service) bucketSnapshot(ctx context.Context, key BucketKey) (Snapshot, error) {
	current, err := s.Store.Current(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return Snapshot{}, nil
		}
		return nil, err
	}
	return Snapshot{key: *current}, nil
}

// =============================================================================
// SINGLE-BUCKET OPERATIONS
// =============================================================================

func (s *Service) SeedInitialBalance(ctx context.Context, req SeedRequest) (Entry, error) {
	key := BucketKey{EmployeeID: req.EmployeeID, LeaveType: req.LeaveType, Year: req.Year}
	snap, err := s.bucketSnapshot(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	entry, err := s.Ledger.SeedInitialBalance(snap, req)
	if err != nil {
		return Entry{}, err
	}
	if err := s.Store.Insert(ctx, entry); err != nil {
		return Entry{}, err
	}
	s.Logger.Info("leave credits seeded",
		"employee_id", entry.EmployeeID,
		"leave_type", entry.LeaveType,
		"year", entry.Year,
		"balance", entry.Balance.String(),
	)
	return entry, nil
}

func (s *Service) ApplyAdjustment(ctx context.Context, req AdjustmentRequest) (Entry, error) {
	key := BucketKey{EmployeeID: req.EmployeeID, LeaveType: req.LeaveType, Year: req.Year}
	snap, err := s.bucketSnapshot(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	entry, err := s.Ledger.ApplyAdjustment(snap, req)
	if err != nil {
		return Entry{}, err
	}

	if entry.TransactionType == TxInitial {
		err = s.Store.Insert(ctx, entry)
	} else {
		err = s.Store.Update(ctx, entry)
	}
	if err != nil {
		return Entry{}, err
	}

	s.Logger.Info("leave credits adjusted",
		"employee_id", entry.EmployeeID,
		"leave_type", entry.LeaveType,
		"year", entry.Year,
		"credits_delta", req.CreditsDelta.String(),
		"used_delta", req.UsedDelta.String(),
		"balance", entry.Balance.String(),
		"added_by", req.AddedBy,
	)
	return entry, nil
}

// SetTotals sets absolute totals on the bucket whose current row is entryID.
// The change is applied as an adjustment with the computed deltas.
func (s *Service) SetTotals(ctx context.Context, entryID string, total, used *decimal.Decimal, addedBy, remarks string) (Entry, error) {
	row, err := s.Store.Get(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	current, err := s.Store.Current(ctx, row.Key())
	if err != nil {
		return Entry{}, err
	}
	if current.ID != row.ID {
		return Entry{}, &ConflictError{Key: entryID, Message: "entry is not the current row of its bucket"}
	}

	req := AdjustmentRequest{
		EmployeeID:   current.EmployeeID,
		LeaveType:    current.LeaveType,
		Year:         current.Year,
		CreditsDelta: decimal.Zero,
		UsedDelta:    decimal.Zero,
		AddedBy:      addedBy,
		Remarks:      remarks,
	}
	if total != nil {
		req.CreditsDelta = total.Sub(current.TotalCredits)
	}
	if used != nil {
		req.UsedDelta = used.Sub(current.UsedCredits)
	}
	return s.ApplyAdjustment(ctx, req)
}

func (s *Service) RecordUsage(ctx context.Context, req UsageRequest) (Entry, error) {
	key := BucketKey{EmployeeID: req.EmployeeID, LeaveType: req.LeaveType, Year: req.Year}
	snap, err := s.bucketSnapshot(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	entry, err := s.Ledger.RecordUsage(snap, req)
	if err != nil {
		return Entry{}, err
	}
	if err := s.Store.Insert(ctx, entry); err != nil {
		return Entry{}, err
	}
	s.Logger.Info("leave credits used",
		"employee_id", entry.EmployeeID,
		"leave_type", entry.LeaveType,
		"year", entry.Year,
		"credits", req.Credits.String(),
		"balance", entry.Balance.String(),
	)
	return entry, nil
}

// ProjectYearEnd previews one bucket at year end under policy p.
func (s *Service) ProjectYearEnd(ctx context.Context, p Policy, employeeID string, year int, asOf time.Time) (Projection, error) {
	key := BucketKey{EmployeeID: employeeID, LeaveType: p.LeaveType, Year: year}
	snap, err := s.bucketSnapshot(ctx, key)
	if err != nil {
		return Projection{}, err
	}
	return s.Ledger.ProjectYearEnd(snap, p, employeeID, year, asOf)
}

// =============================================================================
// BULK OPERATIONS
// =============================================================================

// RunAccrual claims each matching policy's period, computes the batch and
// persists it. A frequency other than Monthly/Annual is a ValidationError.
func (s *Service) RunAccrual(ctx context.Context, policies []Policy, employees []EmployeePositionRef, asOf time.Time, freq AccrualFrequency) (BatchResult, error) {
	if freq != FreqMonthly && freq != FreqAnnual {
		return s.Ledger.RunAccrual(nil, nil, nil, asOf, freq)
	}
	period := PeriodLabel(freq, asOf)

	var matching []Policy
	for _, p := range policies {
		if p.AccrualFrequency == freq {
			matching = append(matching, p)
		}
	}

	claimed, runs, skipped, err := s.claim(ctx, RunAccrual, period, matching)
	if err != nil {
		return BatchResult{}, err
	}

	snap, err := s.Store.Snapshot(ctx, SnapshotFilter{
		EmployeeIDs: employeeIDs(employees),
		Years:       []int{asOf.Year()},
	})
	if err != nil {
		s.abandon(ctx, runs)
		return BatchResult{}, fmt.Errorf("load snapshot: %w", err)
	}

	result, err := s.Ledger.RunAccrual(snap, claimed, employees, asOf, freq)
	if err != nil {
		s.abandon(ctx, runs)
		return BatchResult{}, err
	}

	s.persist(ctx, &result)
	s.finish(ctx, runs, result)
	result.Outcomes = append(skipped, result.Outcomes...)
	s.report(result)
	return result, nil
}

// ProcessYearEndCarryOver claims each policy's year, opens year+1 buckets
// and persists them.
func (s *Service) ProcessYearEndCarryOver(ctx context.Context, policies []Policy, employees []EmployeePositionRef, year int) (BatchResult, error) {
	if year <= 0 {
		return BatchResult{}, &ValidationError{Field: "year", Message: fmt.Sprintf("must be a positive year, got %d", year)}
	}
	period := CarryOverLabel(year)

	claimed, runs, skipped, err := s.claim(ctx, RunCarryOver, period, policies)
	if err != nil {
		return BatchResult{}, err
	}

	snap, err := s.Store.Snapshot(ctx, SnapshotFilter{
		EmployeeIDs: employeeIDs(employees),
		Years:       []int{year, year + 1},
	})
	if err != nil {
		s.abandon(ctx, runs)
		return BatchResult{}, fmt.Errorf("load snapshot: %w", err)
	}

	result := s.Ledger.ProcessYearEndCarryOver(snap, claimed, employees, year)
	if err := s.settleCarriedOver(ctx, &result, year); err != nil {
		s.abandon(ctx, runs)
		return BatchResult{}, err
	}
	s.persist(ctx, &result)
	s.finish(ctx, runs, result)
	result.Outcomes = append(skipped, result.Outcomes...)
	s.report(result)
	return result, nil
}

func employeeIDs(employees []EmployeePositionRef) []string {
	ids := make([]string, 0, len(employees))
	for _, e := range employees {
		ids = append(ids, e.EmployeeID)
	}
	return ids
}

// claim takes the period token of every policy. Policies whose token is
// already held come back as skipped outcomes.
func (s *Service) claim(ctx context.Context, kind RunKind, period string, policies []Policy) ([]Policy, map[string]*Run, []Outcome, error) {
	var claimed []Policy
	var skipped []Outcome
	runs := make(map[string]*Run)

	for _, p := range policies {
		run := &Run{
			ID:        uuid.NewString(),
			Token:     PeriodToken{Kind: kind, PolicyID: p.ID, Period: period},
			Status:    RunRunning,
			StartedAt: s.Ledger.Now(),
		}
		ok, err := s.Store.ClaimPeriod(ctx, *run)
		if err != nil {
			s.abandon(ctx, runs)
			return nil, nil, nil, fmt.Errorf("claim %s: %w", run.Token, err)
		}
		if !ok {
			s.Logger.Info("period already processed, skipping policy",
				"kind", kind, "policy_id", p.ID, "period", period)
			skipped = append(skipped, Outcome{
				PolicyID:  p.ID,
				LeaveType: p.LeaveType,
				Skipped:   true,
				Reason:    fmt.Sprintf("%s already processed for %s", kind, period),
			})
			continue
		}
		runs[p.ID] = run
		claimed = append(claimed, p)
	}
	return claimed, runs, skipped, nil
}

// persist writes every computed entry on the worker pool. Each task owns
// exactly one outcome slot.
func (s *Service) persist(ctx context.Context, result *BatchResult) {
	var wg sync.WaitGroup
	for i := range result.Outcomes {
		o := &result.Outcomes[i]
		if !o.Applied() {
			continue
		}
		entry := *o.Entry
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			err := s.Store.Insert(ctx, entry)
			switch {
			case errors.Is(err, ErrDuplicateIdempotencyKey):
				o.Entry = nil
				o.Skipped = true
				o.Reason = "already applied by an earlier attempt"
			case err != nil:
				o.Err = err
				o.Entry = nil
			}
		})
		if err != nil {
			wg.Done()
			o.Err = fmt.Errorf("submit write: %w", err)
			o.Entry = nil
		}
	}
	wg.Wait()
}

func (s *Service) finish(ctx context.Context, runs map[string]*Run, result BatchResult) {
	for _, o := range result.Outcomes {
		run, ok := runs[o.PolicyID]
		if !ok {
			continue
		}
		switch {
		case o.Err != nil:
			run.Failed++
		case o.Skipped:
			run.Skipped++
		case o.Entry != nil:
			run.Applied++
		}
	}
	now := s.Ledger.Now()
	for _, run := range runs {
		run.Status = RunCompleted
		if run.Failed > 0 {
			run.Status = RunFailed
		}
		run.CompletedAt = &now
		if err := s.Store.FinishRun(ctx, *run); err != nil {
			s.Logger.Error("failed to record run completion", "run_id", run.ID, "token", run.Token.String(), "error", err)
		}
	}
}

// settleCarriedOver turns next-year conflicts back into skips when the
// existing bucket was opened by this very policy's carry-over, which is
// what a retried run finds for the pairs its first attempt wrote.
func (s *Service) settleCarriedOver(ctx context.Context, result *BatchResult, year int) error {
	for i := range result.Outcomes {
		o := &result.Outcomes[i]
		if !IsConflict(o.Err) {
			continue
		}
		next := BucketKey{EmployeeID: o.EmployeeID, LeaveType: o.LeaveType, Year: year + 1}
		rows, err := s.Store.History(ctx, next)
		if err != nil {
			return fmt.Errorf("load %s history: %w", next, err)
		}
		want := CarryOverKey(o.PolicyID, year, o.EmployeeID)
		for _, row := range rows {
			if row.IdempotencyKey == want {
				o.Err = nil
				o.Skipped = true
				o.Reason = "already applied by an earlier attempt"
				break
			}
		}
	}
	return nil
}

// abandon marks claimed runs failed so the period can be retried.
func (s *Service) abandon(ctx context.Context, runs map[string]*Run) {
	now := s.Ledger.Now()
	for _, run := range runs {
		run.Status = RunFailed
		run.CompletedAt = &now
		if err := s.Store.FinishRun(ctx, *run); err != nil {
			s.Logger.Error("failed to release run", "run_id", run.ID, "token", run.Token.String(), "error", err)
		}
	}
}

func (s *Service) report(result BatchResult) {
	applied, skipped, failed := result.Counts()
	for _, o := range result.Failures() {
		level := slog.LevelWarn
		if !IsClientError(o.Err) && !IsConflict(o.Err) {
			level = slog.LevelError
		}
		s.Logger.Log(context.Background(), level, "pair failed",
			"kind", result.Kind,
			"period", result.Period,
			"employee_id", o.EmployeeID,
			"policy_id", o.PolicyID,
			"error", o.Err,
		)
	}
	s.Logger.Info(result.Summary(),
		"kind", result.Kind,
		"period", result.Period,
		"applied", applied,
		"skipped", skipped,
		"failed", failed,
	)
}
