// Package draft manages the delta lifecycle: edits saved as sparse patches
// over the mirror, later committed into it or discarded.
package draft

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

	"github.com/planvista/pfa-server/internal/audit"
	"github.com/planvista/pfa-server/internal/merge"
	"github.com/planvista/pfa-server/internal/store"
)

// lockNotAvailable is the Postgres error code for FOR UPDATE NOWAIT losing a
// race. Racing draft operations on the same record are rejected, not queued.
const lockNotAvailable = "55P03"

var (
	// ErrDraftConflict is returned when another request holds the record.
	ErrDraftConflict = errors.New("another draft operation is in progress for this record")

	// ErrEmptySelector is returned when neither record IDs nor a session ID
	// target the operation.
	ErrEmptySelector = errors.New("either record ids or a session id must be given")
)

// Status is the lifecycle state of a delta.
type Status string

const (
	// StatusDraft means the delta is pending and visible in merged reads.
	StatusDraft Status = "draft"
	// StatusCommitted means the delta has been applied to the mirror.
	StatusCommitted Status = "committed"
)

// Delta is one saved draft change set for a mirror record.
type Delta struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	RecordID    uuid.UUID
	SessionID   string
	Patch       merge.FieldPatch
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CommittedAt *time.Time
}

// Change is one record's draft edit.
type Change struct {
	RecordID uuid.UUID
	Patch    merge.FieldPatch
}

// Selector targets commit and discard operations by explicit record IDs, by
// editing session, or both.
type Selector struct {
	RecordIDs []uuid.UUID
	SessionID string
}

func (s Selector) empty() bool {
	return len(s.RecordIDs) == 0 && s.SessionID == ""
}

// Manager is the draft lifecycle service.
type Manager interface {
	// SaveDraft upserts one draft delta per record. A record can hold at
	// most one draft at a time; saving again replaces its patch.
	SaveDraft(ctx context.Context, orgID uuid.UUID, sessionID string, changes []Change) (int, error)

	// Commit applies the targeted draft deltas to the mirror and marks them
	// committed. Already committed deltas are skipped, so a retried request
	// reports zero without double-applying.
	Commit(ctx context.Context, orgID uuid.UUID, sel Selector) (int, error)

	// Discard deletes the targeted draft deltas. The mirror is untouched.
	// Committed deltas are never discarded.
	Discard(ctx context.Context, orgID uuid.UUID, sel Selector) (int, error)

	// ListDrafts returns the pending deltas for an organization, used by
	// the merged read path.
	ListDrafts(ctx context.Context, orgID uuid.UUID) ([]Delta, error)
}

type manager struct {
	pool *pgxpool.Pool
	sink audit.Sink
}

// NewManager creates a Manager backed by the database.
func NewManager(pool *pgxpool.Pool, sink audit.Sink) Manager {
	return &manager{pool: pool, sink: sink}
}

func (m *manager) SaveDraft(ctx context.Context, orgID uuid.UUID, sessionID string, changes []Change) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	saved := 0
	for _, change := range changes {
		if change.Patch.IsEmpty() {
			continue
		}
		if err := lockMirrorRecord(ctx, tx, orgID, change.RecordID); err != nil {
			return 0, err
		}

		patch, err := json.Marshal(change.Patch)
		if err != nil {
			return 0, fmt.Errorf("failed to encode patch: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO delta_record (id, org_id, record_id, session_id, patch, status)
			 VALUES ($1, $2, $3, $4, $5, 'draft')
			 ON CONFLICT (record_id) WHERE status = 'draft'
			 DO UPDATE SET
			   patch      = EXCLUDED.patch,
			   session_id = EXCLUDED.session_id,
			   updated_at = now()`,
			uuid.New(), orgID, change.RecordID, sessionID, patch)
		if err != nil {
			return 0, fmt.Errorf("failed to save draft: %w", err)
		}
		saved++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	audit.RecordBestEffort(ctx, m.sink, audit.Event{
		Type:  audit.EventDraftSaved,
		OrgID: orgID,
		Payload: map[string]any{
			"sessionId": sessionID,
			"records":   saved,
		},
	})
	return saved, nil
}

func (m *manager) Commit(ctx context.Context, orgID uuid.UUID, sel Selector) (int, error) {
	if sel.empty() {
		return 0, ErrEmptySelector
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	deltas, err := selectDraftsForUpdate(ctx, tx, orgID, sel)
	if err != nil {
		return 0, err
	}

	committed := 0
	for _, delta := range deltas {
		if err := applyDelta(ctx, tx, &delta); err != nil {
			return 0, err
		}
		committed++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	audit.RecordBestEffort(ctx, m.sink, audit.Event{
		Type:  audit.EventDraftCommitted,
		OrgID: orgID,
		Payload: map[string]any{
			"sessionId": sel.SessionID,
			"committed": committed,
		},
	})
	return committed, nil
}

func (m *manager) Discard(ctx context.Context, orgID uuid.UUID, sel Selector) (int, error) {
	if sel.empty() {
		return 0, ErrEmptySelector
	}

	tag, err := m.pool.Exec(ctx,
		`DELETE FROM delta_record
		 WHERE org_id = $1 AND status = 'draft'
		   AND (record_id = ANY($2) OR ($3 != '' AND session_id = $3))`,
		orgID, sel.RecordIDs, sel.SessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to discard drafts: %w", err)
	}

	discarded := int(tag.RowsAffected())
	audit.RecordBestEffort(ctx, m.sink, audit.Event{
		Type:  audit.EventDraftDiscarded,
		OrgID: orgID,
		Payload: map[string]any{
			"sessionId": sel.SessionID,
			"discarded": discarded,
		},
	})
	return discarded, nil
}

func (m *manager) ListDrafts(ctx context.Context, orgID uuid.UUID) ([]Delta, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT id, org_id, record_id, session_id, patch, status,
		        created_at, updated_at, committed_at
		 FROM delta_record
		 WHERE org_id = $1 AND status = 'draft'`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	var deltas []Delta
	for rows.Next() {
		delta, err := scanDelta(rows)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, *delta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate drafts: %w", err)
	}
	return deltas, nil
}

// lockMirrorRecord takes a row lock on the target mirror record so racing
// draft operations fail fast instead of queueing.
func lockMirrorRecord(ctx context.Context, tx pgx.Tx, orgID, recordID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT id FROM mirror_record WHERE org_id = $1 AND id = $2 FOR UPDATE NOWAIT`,
		orgID, recordID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrRecordNotFound
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return ErrDraftConflict
		}
		return fmt.Errorf("failed to lock mirror record: %w", err)
	}
	return nil
}

// selectDraftsForUpdate loads and locks the targeted draft deltas.
func selectDraftsForUpdate(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, sel Selector) ([]Delta, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, org_id, record_id, session_id, patch, status,
		        created_at, updated_at, committed_at
		 FROM delta_record
		 WHERE org_id = $1 AND status = 'draft'
		   AND (record_id = ANY($2) OR ($3 != '' AND session_id = $3))
		 FOR UPDATE NOWAIT`,
		orgID, sel.RecordIDs, sel.SessionID)
	if err != nil {
		return nil, draftLockError(err)
	}
	defer rows.Close()

	var deltas []Delta
	for rows.Next() {
		delta, err := scanDelta(rows)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, *delta)
	}
	if err := rows.Err(); err != nil {
		return nil, draftLockError(err)
	}
	return deltas, nil
}

// applyDelta merges the patch into the mirror row and marks the delta
// committed.
func applyDelta(ctx context.Context, tx pgx.Tx, delta *Delta) error {
	row := tx.QueryRow(ctx,
		`SELECT id, org_id, external_id, description, category,
		        plan_start, plan_end, forecast_start, forecast_end,
		        actual_start, actual_end, plan_cost, forecast_cost, actual_cost,
		        currency, owner_subject_id, last_synced_at, created_at, updated_at
		 FROM mirror_record WHERE id = $1 FOR UPDATE`, delta.RecordID)

	var mirror store.MirrorRecord
	err := row.Scan(
		&mirror.ID, &mirror.OrgID, &mirror.ExternalID, &mirror.Description, &mirror.Category,
		&mirror.PlanStart, &mirror.PlanEnd, &mirror.ForecastStart, &mirror.ForecastEnd,
		&mirror.ActualStart, &mirror.ActualEnd, &mirror.PlanCost, &mirror.ForecastCost, &mirror.ActualCost,
		&mirror.Currency, &mirror.OwnerSubjectID, &mirror.LastSyncedAt, &mirror.CreatedAt, &mirror.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load mirror record: %w", err)
	}

	merged := merge.Apply(&mirror, &delta.Patch)

	_, err = tx.Exec(ctx,
		`UPDATE mirror_record SET
		   description    = $2,
		   category       = $3,
		   plan_start     = $4,
		   plan_end       = $5,
		   forecast_start = $6,
		   forecast_end   = $7,
		   actual_start   = $8,
		   actual_end     = $9,
		   plan_cost      = $10,
		   forecast_cost  = $11,
		   actual_cost    = $12,
		   currency       = $13,
		   updated_at     = now()
		 WHERE id = $1`,
		merged.ID, merged.Description, merged.Category,
		merged.PlanStart, merged.PlanEnd, merged.ForecastStart, merged.ForecastEnd,
		merged.ActualStart, merged.ActualEnd, merged.PlanCost, merged.ForecastCost, merged.ActualCost,
		merged.Currency)
	if err != nil {
		return fmt.Errorf("failed to apply delta to mirror: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE delta_record SET
		   status       = 'committed',
		   committed_at = now(),
		   updated_at   = now()
		 WHERE id = $1`, delta.ID)
	if err != nil {
		return fmt.Errorf("failed to mark delta committed: %w", err)
	}
	return nil
}

func scanDelta(row pgx.Row) (*Delta, error) {
	var (
		delta  Delta
		patch  []byte
		status string
	)
	err := row.Scan(
		&delta.ID, &delta.OrgID, &delta.RecordID, &delta.SessionID,
		&patch, &status, &delta.CreatedAt, &delta.UpdatedAt, &delta.CommittedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan delta: %w", err)
	}
	delta.Status = Status(status)
	if len(patch) > 0 {
		if err := json.Unmarshal(patch, &delta.Patch); err != nil {
			return nil, fmt.Errorf("failed to decode patch: %w", err)
		}
	}
	return &delta, nil
}

func draftLockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
		return ErrDraftConflict
	}
	return fmt.Errorf("failed to select drafts: %w", err)
}
