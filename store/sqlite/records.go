package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/leave-credits/leavecredit"
)

// =============================================================================
// POLICY STORE
// =============================================================================

// PolicyRecord is a stored policy with its JSON document (see factory).
type PolicyRecord struct {
	ID         string
	Name       string
	LeaveType  string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SavePolicy inserts a policy or replaces it, bumping its version.
func (s *Store) SavePolicy(ctx context.Context, policy PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO leave_credit_policies (id, name, leave_type, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			leave_type = excluded.leave_type,
			config_json = excluded.config_json,
			version = leave_credit_policies.version + 1,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		policy.ID, policy.Name, policy.LeaveType, policy.ConfigJSON, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// GetPolicy returns a policy, or a *NotFoundError.
func (s *Store) GetPolicy(ctx context.Context, id string) (*PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p PolicyRecord
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, leave_type, config_json, version, created_at, updated_at FROM leave_credit_policies WHERE id = ?",
		id,
	).Scan(&p.ID, &p.Name, &p.LeaveType, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leavecredit.NotFoundError{Kind: "policy", Key: id}
	}
	if err != nil {
		return nil, err
	}

	var c columnParser
	p.CreatedAt = c.timestamp("created_at", time.RFC3339, createdAt)
	p.UpdatedAt = c.timestamp("updated_at", time.RFC3339, updatedAt)
	if c.err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.ID, c.err)
	}
	return &p, nil
}

// ListPolicies returns all policies ordered by name.
func (s *Store) ListPolicies(ctx context.Context) ([]PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, leave_type, config_json, version, created_at, updated_at FROM leave_credit_policies ORDER BY name, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []PolicyRecord
	for rows.Next() {
		var p PolicyRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.LeaveType, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		var c columnParser
		p.CreatedAt = c.timestamp("created_at", time.RFC3339, createdAt)
		p.UpdatedAt = c.timestamp("updated_at", time.RFC3339, updatedAt)
		if c.err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, c.err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a policy. Policies referenced by ledger rows are
// never deleted: the call fails with a ConflictError instead.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	referenced, err := s.referencesPolicy(ctx, tx, id)
	if err != nil {
		return err
	}
	if referenced {
		return &leavecredit.ConflictError{Key: id, Message: "policy is referenced by leave credit entries"}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM leave_credit_policies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &leavecredit.NotFoundError{Kind: "policy", Key: id}
	}
	return tx.Commit()
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// Employee is a roster record.
type Employee struct {
	ID           string
	Name         string
	Email        string
	PositionType leavecredit.PositionType
	HireDate     *time.Time
	CreatedAt    time.Time
}

// Ref returns the position data accrual and carry-over runs need.
func (e Employee) Ref() leavecredit.EmployeePositionRef {
	return leavecredit.EmployeePositionRef{EmployeeID: e.ID, PositionType: e.PositionType}
}

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, position_type, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			position_type = excluded.position_type,
			hire_date = excluded.hire_date
	`

	var hireDate sql.NullString
	if emp.HireDate != nil {
		hireDate = nullString(emp.HireDate.Format("2006-01-02"))
	}
	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, nullString(emp.Email), emp.PositionType, hireDate,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee returns an employee, or a *NotFoundError.
func (s *Store) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, position_type, hire_date, created_at FROM employees WHERE id = ?", id)
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leavecredit.NotFoundError{Kind: "employee", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, position_type, hire_date, created_at FROM employees ORDER BY name, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func scanEmployee(row rowScanner) (Employee, error) {
	var emp Employee
	var email, hireDate sql.NullString
	var position, createdAt string
	if err := row.Scan(&emp.ID, &emp.Name, &email, &position, &hireDate, &createdAt); err != nil {
		return Employee{}, err
	}
	emp.Email = email.String
	emp.PositionType = leavecredit.PositionType(position)
	var c columnParser
	if hireDate.Valid {
		t := c.timestamp("hire_date", "2006-01-02", hireDate.String)
		emp.HireDate = &t
	}
	emp.CreatedAt = c.timestamp("created_at", time.RFC3339, createdAt)
	if c.err != nil {
		return Employee{}, fmt.Errorf("employee %s: %w", emp.ID, c.err)
	}
	return emp, nil
}
