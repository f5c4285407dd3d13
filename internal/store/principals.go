// ABOUTME: Principal persistence for gateway API identities
// ABOUTME: Principals are referenced by the "sub" claim of API tokens

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreatePrincipal inserts a new principal. A duplicate ID returns ErrDuplicate.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = PrincipalStatusApproved
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principals (principal_id, display_name, status, created_at)
		VALUES (?, ?, ?, ?)
	`, p.ID, p.DisplayName, string(p.Status), p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("creating principal %s: %w", p.ID, ErrDuplicate)
		}
		return fmt.Errorf("creating principal: %w", err)
	}
	return nil
}

// GetPrincipal retrieves a principal by ID
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	var (
		p         Principal
		status    string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, display_name, status, created_at
		FROM principals
		WHERE principal_id = ?
	`, id).Scan(&p.ID, &p.DisplayName, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}

	p.Status = PrincipalStatus(status)
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

// UpdatePrincipalStatus changes the status of a principal
func (s *SQLiteStore) UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE principals SET status = ? WHERE principal_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating principal status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPrincipals returns how many principals exist
func (s *SQLiteStore) CountPrincipals(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return n, nil
}
