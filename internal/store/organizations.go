package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const organizationColumns = `id, code, name, service_status, enable_sync, created_at, updated_at`

func scanOrganization(row pgx.Row) (*Organization, error) {
	var org Organization
	err := row.Scan(
		&org.ID,
		&org.Code,
		&org.Name,
		&org.ServiceStatus,
		&org.EnableSync,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GetOrganization fetches a single organization by ID.
func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organization WHERE id = $1`, id)
	org, err := scanOrganization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrgNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetOrganizationByCode fetches a single organization by its external code.
func (s *Store) GetOrganizationByCode(ctx context.Context, code string) (*Organization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organization WHERE code = $1`, code)
	org, err := scanOrganization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrgNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization by code: %w", err)
	}
	return org, nil
}

// ListOrganizations returns all organizations ordered by code. The sync
// fan-out iterates this list and reports ineligible organizations as skipped
// rather than filtering them out here.
func (s *Store) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+organizationColumns+` FROM organization ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizations: %w", err)
	}
	return orgs, nil
}
