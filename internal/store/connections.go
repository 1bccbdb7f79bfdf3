package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetSourceConnection fetches the sync statistics row for an organization.
func (s *Store) GetSourceConnection(ctx context.Context, orgID uuid.UUID) (*SourceConnection, error) {
	var conn SourceConnection
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, first_sync_at, last_sync_at,
		        last_sync_record_count, total_sync_record_count, updated_at
		 FROM source_connection WHERE org_id = $1`, orgID).Scan(
		&conn.ID,
		&conn.OrgID,
		&conn.FirstSyncAt,
		&conn.LastSyncAt,
		&conn.LastSyncRecordCount,
		&conn.TotalSyncRecordCount,
		&conn.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source connection: %w", err)
	}
	return &conn, nil
}

// RecordSyncSuccess upserts the statistics row after a successful run.
// first_sync_at is written only once; total_sync_record_count accumulates.
// Failed and cancelled runs must not call this.
func (s *Store) RecordSyncSuccess(ctx context.Context, orgID uuid.UUID, processed int64, completedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO source_connection
		   (id, org_id, first_sync_at, last_sync_at, last_sync_record_count, total_sync_record_count)
		 VALUES ($1, $2, $3, $3, $4, $4)
		 ON CONFLICT (org_id) DO UPDATE SET
		   first_sync_at           = COALESCE(source_connection.first_sync_at, EXCLUDED.first_sync_at),
		   last_sync_at            = EXCLUDED.last_sync_at,
		   last_sync_record_count  = EXCLUDED.last_sync_record_count,
		   total_sync_record_count = source_connection.total_sync_record_count + EXCLUDED.last_sync_record_count,
		   updated_at              = now()`,
		uuid.New(), orgID, completedAt, processed)
	if err != nil {
		return fmt.Errorf("failed to record sync success: %w", err)
	}
	return nil
}
