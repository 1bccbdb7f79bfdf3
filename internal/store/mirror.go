package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const mirrorColumns = `id, org_id, external_id, description, category,
	plan_start, plan_end, forecast_start, forecast_end, actual_start, actual_end,
	plan_cost, forecast_cost, actual_cost, currency, owner_subject_id,
	last_synced_at, created_at, updated_at`

func scanMirrorRecord(row pgx.Row) (*MirrorRecord, error) {
	var rec MirrorRecord
	err := row.Scan(
		&rec.ID,
		&rec.OrgID,
		&rec.ExternalID,
		&rec.Description,
		&rec.Category,
		&rec.PlanStart,
		&rec.PlanEnd,
		&rec.ForecastStart,
		&rec.ForecastEnd,
		&rec.ActualStart,
		&rec.ActualEnd,
		&rec.PlanCost,
		&rec.ForecastCost,
		&rec.ActualCost,
		&rec.Currency,
		&rec.OwnerSubjectID,
		&rec.LastSyncedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetMirrorRecord fetches one mirror record by organization and external ID.
func (s *Store) GetMirrorRecord(ctx context.Context, orgID uuid.UUID, externalID string) (*MirrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mirrorColumns+` FROM mirror_record WHERE org_id = $1 AND external_id = $2`,
		orgID, externalID)
	rec, err := scanMirrorRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mirror record: %w", err)
	}
	return rec, nil
}

// GetMirrorRecordByID fetches one mirror record by its row ID.
func (s *Store) GetMirrorRecordByID(ctx context.Context, orgID, id uuid.UUID) (*MirrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mirrorColumns+` FROM mirror_record WHERE org_id = $1 AND id = $2`,
		orgID, id)
	rec, err := scanMirrorRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mirror record: %w", err)
	}
	return rec, nil
}

// ListMirrorRecords returns up to limit records for an organization ordered
// by external ID, starting strictly after afterExternalID. An empty
// afterExternalID starts from the beginning.
func (s *Store) ListMirrorRecords(ctx context.Context, orgID uuid.UUID, afterExternalID string, limit int32) ([]MirrorRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mirrorColumns+` FROM mirror_record
		 WHERE org_id = $1 AND external_id > $2
		 ORDER BY external_id
		 LIMIT $3`,
		orgID, afterExternalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror records: %w", err)
	}
	defer rows.Close()

	var records []MirrorRecord
	for rows.Next() {
		rec, err := scanMirrorRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mirror record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mirror records: %w", err)
	}
	return records, nil
}

// CountMirrorRecords returns the number of mirror records for an organization.
func (s *Store) CountMirrorRecords(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mirror_record WHERE org_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count mirror records: %w", err)
	}
	return count, nil
}
