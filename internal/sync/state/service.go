// Package state persists sync run rows and their progress counters.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planvista/pfa-server/internal/status"
)

//go:generate mockgen -destination=../mocks/mock_state.go -package=mocks -source=service.go Service

// ErrRunConflict is returned when an organization already has a running sync.
var ErrRunConflict = errors.New("a sync run is already in progress for this organization")

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("sync run not found")

// uniqueViolation is the Postgres error code raised by the partial unique
// index on sync_run(org_id) WHERE status = 'RUNNING'.
const uniqueViolation = "23505"

// Service tracks sync runs. Progress writes are best-effort from the
// orchestrator's point of view; run creation and finalization are not.
type Service interface {
	// BeginRun inserts a RUNNING row. It fails with ErrRunConflict when the
	// organization already has a running sync.
	BeginRun(ctx context.Context, orgID uuid.UUID, mode status.SyncMode) (*status.RunSnapshot, error)

	// UpdateProgress overwrites the run's counters and batch position.
	UpdateProgress(ctx context.Context, runID uuid.UUID, counts status.RunCounts, currentBatch, totalBatches int, skipReasons map[string]int64) error

	// Finalize moves the run to a terminal phase with its final counters.
	// Finalizing an already terminal run is a no-op.
	Finalize(ctx context.Context, runID uuid.UUID, phase status.RunPhase, counts status.RunCounts, skipReasons map[string]int64, message string) error

	// GetRun returns the current snapshot of one run.
	GetRun(ctx context.Context, runID uuid.UUID) (*status.RunSnapshot, error)

	// GetRunningRun returns the in-flight run for an organization, or
	// ErrRunNotFound when there is none.
	GetRunningRun(ctx context.Context, orgID uuid.UUID) (*status.RunSnapshot, error)
}

type service struct {
	pool *pgxpool.Pool
}

// NewService creates a Service backed by the database.
func NewService(pool *pgxpool.Pool) Service {
	return &service{pool: pool}
}

func (s *service) BeginRun(ctx context.Context, orgID uuid.UUID, mode status.SyncMode) (*status.RunSnapshot, error) {
	runID := uuid.New()
	startedAt := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_run (id, org_id, mode, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		runID, orgID, string(mode), string(status.RunPhaseRunning), startedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrRunConflict
		}
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	return &status.RunSnapshot{
		ID:        runID,
		OrgID:     orgID,
		Mode:      mode,
		Phase:     status.RunPhaseRunning,
		StartedAt: startedAt,
	}, nil
}

func (s *service) UpdateProgress(ctx context.Context, runID uuid.UUID, counts status.RunCounts, currentBatch, totalBatches int, skipReasons map[string]int64) error {
	reasons, err := marshalSkipReasons(skipReasons)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_run SET
		   total_records     = $2,
		   processed_records = $3,
		   inserted_records  = $4,
		   updated_records   = $5,
		   skipped_records   = $6,
		   errored_records   = $7,
		   current_batch     = $8,
		   total_batches     = $9,
		   skip_reasons      = $10,
		   updated_at        = now()
		 WHERE id = $1 AND status = 'RUNNING'`,
		runID,
		counts.Total, counts.Processed, counts.Inserted, counts.Updated, counts.Skipped, counts.Errored,
		currentBatch, totalBatches, reasons)
	if err != nil {
		return fmt.Errorf("failed to update sync progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *service) Finalize(ctx context.Context, runID uuid.UUID, phase status.RunPhase, counts status.RunCounts, skipReasons map[string]int64, message string) error {
	if !phase.Terminal() {
		return fmt.Errorf("cannot finalize run to non-terminal phase %q", phase)
	}

	reasons, err := marshalSkipReasons(skipReasons)
	if err != nil {
		return err
	}

	// The status guard makes finalization idempotent; a second call finds
	// no RUNNING row and changes nothing.
	_, err = s.pool.Exec(ctx,
		`UPDATE sync_run SET
		   status            = $2,
		   total_records     = $3,
		   processed_records = $4,
		   inserted_records  = $5,
		   updated_records   = $6,
		   skipped_records   = $7,
		   errored_records   = $8,
		   skip_reasons      = $9,
		   message           = $10,
		   completed_at      = now(),
		   updated_at        = now()
		 WHERE id = $1 AND status = 'RUNNING'`,
		runID, string(phase),
		counts.Total, counts.Processed, counts.Inserted, counts.Updated, counts.Skipped, counts.Errored,
		reasons, message)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}
	return nil
}

func (s *service) GetRun(ctx context.Context, runID uuid.UUID) (*status.RunSnapshot, error) {
	return s.queryRun(ctx, `WHERE id = $1`, runID)
}

func (s *service) GetRunningRun(ctx context.Context, orgID uuid.UUID) (*status.RunSnapshot, error) {
	return s.queryRun(ctx, `WHERE org_id = $1 AND status = 'RUNNING'`, orgID)
}

func (s *service) queryRun(ctx context.Context, where string, arg any) (*status.RunSnapshot, error) {
	var (
		snapshot status.RunSnapshot
		mode     string
		phase    string
		reasons  []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, mode, status,
		        total_records, processed_records, inserted_records,
		        updated_records, skipped_records, errored_records,
		        current_batch, total_batches, skip_reasons, message,
		        started_at, completed_at
		 FROM sync_run `+where, arg).Scan(
		&snapshot.ID,
		&snapshot.OrgID,
		&mode,
		&phase,
		&snapshot.Counts.Total,
		&snapshot.Counts.Processed,
		&snapshot.Counts.Inserted,
		&snapshot.Counts.Updated,
		&snapshot.Counts.Skipped,
		&snapshot.Counts.Errored,
		&snapshot.CurrentBatch,
		&snapshot.TotalBatches,
		&reasons,
		&snapshot.Message,
		&snapshot.StartedAt,
		&snapshot.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}

	snapshot.Mode = status.SyncMode(mode)
	snapshot.Phase = status.RunPhase(phase)
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &snapshot.SkipReasons); err != nil {
			return nil, fmt.Errorf("failed to decode skip reasons: %w", err)
		}
	}
	return &snapshot, nil
}

func marshalSkipReasons(skipReasons map[string]int64) ([]byte, error) {
	if len(skipReasons) == 0 {
		return []byte("{}"), nil
	}
	reasons, err := json.Marshal(skipReasons)
	if err != nil {
		return nil, fmt.Errorf("failed to encode skip reasons: %w", err)
	}
	return reasons, nil
}
