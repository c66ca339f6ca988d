/*
Package sqlite provides a SQLite-backed implementation of leavecredit.Store.

PURPOSE:
  Persists ledger rows, period-run tokens, policies and employees.
  The same patterns apply to PostgreSQL with minor dialect changes.

KEY TABLES:
  leave_credits:         Ledger rows; current row per bucket = highest seq
  period_runs:           (kind, policy, period) idempotency tokens
  leave_credit_policies: Policy documents (factory JSON)
  employees:             Roster with position type

WRITE RULES:
  - Insert appends. The UNIQUE idempotency_key rejects duplicate accruals.
  - An Initial row for a bucket that already has rows is a ConflictError.
  - Update patches the current row in place (adjustments only).

CONCURRENCY:
  A sync.RWMutex serializes writes, so two writers never race on the
  same bucket. The pool is limited to one connection.

MIGRATION:
  Versioned SQL files in migrations/ are embedded and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - leavecredit/store.go: Interface definitions
  - leavecredit/memstore: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-credits/leavecredit"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements leavecredit.Store plus policy and employee records.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: required for :memory: and keeps SQLite to a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// m.Close() would close db as well, so it is not called here.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// LEDGER ROWS (leavecredit.EntryStore)
// =============================================================================

const entryColumns = `id, employee_id, leave_type, year, policy_id,
	total_credits, used_credits, credits_added, credits_used, balance,
	transaction_type, date_added, added_by, remarks, idempotency_key`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) Current(ctx context.Context, key leavecredit.BucketKey) (*leavecredit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM leave_credits
		WHERE employee_id = ? AND leave_type = ? AND year = ?
		ORDER BY seq DESC LIMIT 1`,
		key.EmployeeID, key.LeaveType, key.Year,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leavecredit.NotFoundError{Kind: "bucket", Key: key.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("load bucket %s: %w", key, err)
	}
	return &e, nil
}

func (s *Store) Get(ctx context.Context, id string) (*leavecredit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM leave_credits WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leavecredit.NotFoundError{Kind: "entry", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load entry %s: %w", id, err)
	}
	return &e, nil
}

func (s *Store) Snapshot(ctx context.Context, filter leavecredit.SnapshotFilter) (leavecredit.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + entryColumns + ` FROM leave_credits lc
		WHERE lc.seq = (
			SELECT MAX(x.seq) FROM leave_credits x
			WHERE x.employee_id = lc.employee_id AND x.leave_type = lc.leave_type AND x.year = lc.year
		)`
	var args []any
	if len(filter.EmployeeIDs) > 0 {
		query += " AND lc.employee_id IN (" + placeholders(len(filter.EmployeeIDs)) + ")"
		for _, id := range filter.EmployeeIDs {
			args = append(args, id)
		}
	}
	if len(filter.Years) > 0 {
		query += " AND lc.year IN (" + placeholders(len(filter.Years)) + ")"
		for _, y := range filter.Years {
			args = append(args, y)
		}
	}

	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return leavecredit.SnapshotFrom(entries), nil
}

func (s *Store) History(ctx context.Context, key leavecredit.BucketKey) ([]leavecredit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM leave_credits
		WHERE employee_id = ? AND leave_type = ? AND year = ?
		ORDER BY seq`,
		key.EmployeeID, key.LeaveType, key.Year,
	)
}

// ListCurrent returns the current row of every bucket an employee holds
// for a year, ordered by leave type.
func (s *Store) ListCurrent(ctx context.Context, employeeID string, year int) ([]leavecredit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM leave_credits lc
		WHERE lc.employee_id = ? AND lc.year = ?
		AND lc.seq = (
			SELECT MAX(x.seq) FROM leave_credits x
			WHERE x.employee_id = lc.employee_id AND x.leave_type = lc.leave_type AND x.year = lc.year
		)
		ORDER BY lc.leave_type`,
		employeeID, year,
	)
}

func (s *Store) Insert(ctx context.Context, e leavecredit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if e.TransactionType == leavecredit.TxInitial {
		var count int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM leave_credits WHERE employee_id = ? AND leave_type = ? AND year = ?",
			e.EmployeeID, e.LeaveType, e.Year,
		).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			return &leavecredit.ConflictError{Key: e.Key().String(), Message: "bucket already exists"}
		}
	}

	if err := insertEntry(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEntry(ctx context.Context, db execer, e leavecredit.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO leave_credits (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EmployeeID, e.LeaveType, e.Year, nullString(e.PolicyID),
		e.TotalCredits.String(), e.UsedCredits.String(),
		e.CreditsAdded.String(), e.CreditsUsed.String(), e.Balance.String(),
		e.TransactionType, e.DateAdded.UTC().Format(time.RFC3339Nano),
		e.AddedBy, e.Remarks, nullString(e.IdempotencyKey),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return leavecredit.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert leave credit: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, e leavecredit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var currentID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM leave_credits
		WHERE employee_id = ? AND leave_type = ? AND year = ?
		ORDER BY seq DESC LIMIT 1`,
		e.EmployeeID, e.LeaveType, e.Year,
	).Scan(&currentID)
	if errors.Is(err, sql.ErrNoRows) {
		return &leavecredit.NotFoundError{Kind: "entry", Key: e.ID}
	}
	if err != nil {
		return err
	}
	if currentID != e.ID {
		return &leavecredit.ConflictError{Key: e.ID, Message: "entry is not the current row of its bucket"}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE leave_credits SET
			total_credits = ?, used_credits = ?, credits_added = ?, credits_used = ?,
			balance = ?, transaction_type = ?, date_added = ?, added_by = ?, remarks = ?
		WHERE id = ?`,
		e.TotalCredits.String(), e.UsedCredits.String(),
		e.CreditsAdded.String(), e.CreditsUsed.String(), e.Balance.String(),
		e.TransactionType, e.DateAdded.UTC().Format(time.RFC3339Nano),
		e.AddedBy, e.Remarks, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave credit: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ReferencesPolicy(ctx context.Context, policyID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referencesPolicy(ctx, s.db, policyID)
}

func (s *Store) referencesPolicy(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, policyID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM leave_credits WHERE policy_id = ?", policyID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (leavecredit.Entry, error) {
	var e leavecredit.Entry
	var leaveType, txType, dateAdded string
	var policyID, addedBy, remarks, idemKey sql.NullString
	var total, used, added, usedDelta, balance string

	if err := row.Scan(
		&e.ID, &e.EmployeeID, &leaveType, &e.Year, &policyID,
		&total, &used, &added, &usedDelta, &balance,
		&txType, &dateAdded, &addedBy, &remarks, &idemKey,
	); err != nil {
		return leavecredit.Entry{}, err
	}

	e.LeaveType = leavecredit.LeaveType(leaveType)
	e.TransactionType = leavecredit.TransactionType(txType)
	e.PolicyID = policyID.String
	e.AddedBy = addedBy.String
	e.Remarks = remarks.String
	e.IdempotencyKey = idemKey.String

	var c columnParser
	e.TotalCredits = c.amount("total_credits", total)
	e.UsedCredits = c.amount("used_credits", used)
	e.CreditsAdded = c.amount("credits_added", added)
	e.CreditsUsed = c.amount("credits_used", usedDelta)
	e.Balance = c.amount("balance", balance)
	e.DateAdded = c.timestamp("date_added", time.RFC3339Nano, dateAdded)
	if c.err != nil {
		return leavecredit.Entry{}, fmt.Errorf("leave credit %s: %w", e.ID, c.err)
	}
	return e, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]leavecredit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []leavecredit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// PERIOD RUNS (leavecredit.RunStore)
// =============================================================================

// ClaimPeriod inserts the run's token. A token held by a failed run is
// taken over; any other existing token leaves the row untouched.
func (s *Store) ClaimPeriod(ctx context.Context, run leavecredit.Run) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO period_runs (id, kind, policy_id, period, status, applied, skipped, failed, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, NULL)
		ON CONFLICT(kind, policy_id, period) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			applied = 0,
			skipped = 0,
			failed = 0,
			started_at = excluded.started_at,
			completed_at = NULL
		WHERE period_runs.status = 'failed'`,
		run.ID, run.Token.Kind, run.Token.PolicyID, run.Token.Period, run.Status,
		run.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim period: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) FinishRun(ctx context.Context, run leavecredit.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt *string
	if run.CompletedAt != nil {
		c := run.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &c
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE period_runs SET status = ?, applied = ?, skipped = ?, failed = ?, completed_at = ?
		WHERE id = ?`,
		run.Status, run.Applied, run.Skipped, run.Failed, completedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &leavecredit.NotFoundError{Kind: "run", Key: run.ID}
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context) ([]leavecredit.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, policy_id, period, status, applied, skipped, failed, started_at, completed_at
		FROM period_runs
		ORDER BY started_at, kind, policy_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []leavecredit.Run
	for rows.Next() {
		var r leavecredit.Run
		var kind, status, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(
			&r.ID, &kind, &r.Token.PolicyID, &r.Token.Period, &status,
			&r.Applied, &r.Skipped, &r.Failed, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		r.Token.Kind = leavecredit.RunKind(kind)
		r.Status = leavecredit.RunStatus(status)
		var c columnParser
		r.StartedAt = c.timestamp("started_at", time.RFC3339, startedAt)
		if completedAt.Valid {
			t := c.timestamp("completed_at", time.RFC3339, completedAt.String)
			r.CompletedAt = &t
		}
		if c.err != nil {
			return nil, fmt.Errorf("period run %s: %w", r.ID, c.err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset clears all data. Used by tests and the demo reset endpoint.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"leave_credits", "period_runs", "leave_credit_policies", "employees"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// columnParser converts stored text columns, keeping the first failure.
// A corrupt amount or timestamp is an error, never a zero value.
type columnParser struct {
	err error
}

func (c *columnParser) amount(column, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && c.err == nil {
		c.err = fmt.Errorf("invalid %s %q: %w", column, s, err)
	}
	return d
}

func (c *columnParser) timestamp(column, layout, s string) time.Time {
	t, err := time.Parse(layout, s)
	if err != nil && c.err == nil {
		c.err = fmt.Errorf("invalid %s %q: %w", column, s, err)
	}
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
