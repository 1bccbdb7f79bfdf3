// Package writer persists fetched records into the mirror in fixed-size
// transactional chunks.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planvista/pfa-server/internal/source"
)

//go:generate mockgen -destination=../mocks/mock_writer.go -package=mocks -source=writer.go BatchWriter

// RecordError describes one record that could not be written.
type RecordError struct {
	ExternalID string `json:"externalId"`
	Reason     string `json:"reason"`
}

// Result summarizes one chunk write.
type Result struct {
	Inserted int64
	Updated  int64
	Errors   []RecordError
}

// BatchWriter writes chunks of records to the mirror.
type BatchWriter interface {
	// WriteChunk validates every record, then upserts the valid ones in a
	// single transaction. Invalid records land in Result.Errors without
	// aborting the chunk. A database failure rolls the chunk back and
	// reports every valid record as errored; the returned error is non-nil
	// only when the context was cancelled.
	WriteChunk(ctx context.Context, orgID uuid.UUID, records []source.Record) (*Result, error)
}

type batchWriter struct {
	pool *pgxpool.Pool
}

// New creates a BatchWriter backed by the database.
func New(pool *pgxpool.Pool) BatchWriter {
	return &batchWriter{pool: pool}
}

const upsertQuery = `
	INSERT INTO mirror_record (
		id, org_id, external_id, description, category,
		plan_start, plan_end, forecast_start, forecast_end,
		actual_start, actual_end, plan_cost, forecast_cost, actual_cost,
		currency, owner_subject_id, last_synced_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (org_id, external_id) DO UPDATE SET
		description      = EXCLUDED.description,
		category         = EXCLUDED.category,
		plan_start       = EXCLUDED.plan_start,
		plan_end         = EXCLUDED.plan_end,
		forecast_start   = EXCLUDED.forecast_start,
		forecast_end     = EXCLUDED.forecast_end,
		actual_start     = EXCLUDED.actual_start,
		actual_end       = EXCLUDED.actual_end,
		plan_cost        = EXCLUDED.plan_cost,
		forecast_cost    = EXCLUDED.forecast_cost,
		actual_cost      = EXCLUDED.actual_cost,
		currency         = EXCLUDED.currency,
		owner_subject_id = EXCLUDED.owner_subject_id,
		last_synced_at   = EXCLUDED.last_synced_at,
		updated_at       = now()
	RETURNING (xmax = 0) AS inserted`

func (w *batchWriter) WriteChunk(ctx context.Context, orgID uuid.UUID, records []source.Record) (*Result, error) {
	result := &Result{}

	valid := make([]source.Record, 0, len(records))
	// Repeated external IDs within one chunk would make the upsert touch the
	// same row twice in one statement batch, which Postgres rejects. The last
	// occurrence wins, matching the page-over-page behavior.
	seen := make(map[string]int, len(records))
	for _, rec := range records {
		if reason := validate(&rec); reason != "" {
			result.Errors = append(result.Errors, RecordError{ExternalID: rec.ExternalID, Reason: reason})
			continue
		}
		if at, dup := seen[rec.ExternalID]; dup {
			valid[at] = rec
			continue
		}
		seen[rec.ExternalID] = len(valid)
		valid = append(valid, rec)
	}
	if len(valid) == 0 {
		return result, nil
	}

	inserted, updated, err := w.writeBatch(ctx, orgID, valid)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Chunk write failed, marking chunk records as errored",
			"org_id", orgID,
			"records", len(valid),
			"error", err)
		for _, rec := range valid {
			result.Errors = append(result.Errors, RecordError{ExternalID: rec.ExternalID, Reason: err.Error()})
		}
		return result, nil
	}

	result.Inserted = inserted
	result.Updated = updated
	return result, nil
}

func (w *batchWriter) writeBatch(ctx context.Context, orgID uuid.UUID, records []source.Record) (inserted, updated int64, err error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	syncedAt := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(upsertQuery,
			uuid.New(), orgID, rec.ExternalID, rec.Description, rec.Category,
			rec.PlanStart, rec.PlanEnd, rec.ForecastStart, rec.ForecastEnd,
			rec.ActualStart, rec.ActualEnd, rec.PlanCost, rec.ForecastCost, rec.ActualCost,
			rec.Currency, rec.Owner.ID, syncedAt)
	}

	results := tx.SendBatch(ctx, batch)
	for range records {
		var wasInsert bool
		if scanErr := results.QueryRow().Scan(&wasInsert); scanErr != nil {
			_ = results.Close()
			return 0, 0, fmt.Errorf("failed to upsert record: %w", scanErr)
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	if err := results.Close(); err != nil {
		return 0, 0, fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit chunk: %w", err)
	}
	return inserted, updated, nil
}

// validate rejects records the database would either refuse or silently
// corrupt. The returned reason is empty for a valid record.
func validate(rec *source.Record) string {
	if rec.ExternalID == "" {
		return "missing external id"
	}
	if rec.Owner.ID == "" {
		return "missing owner subject"
	}
	for _, c := range []struct {
		name  string
		value *float64
	}{
		{"planCost", rec.PlanCost},
		{"forecastCost", rec.ForecastCost},
		{"actualCost", rec.ActualCost},
	} {
		if c.value != nil && *c.value < 0 {
			return fmt.Sprintf("negative %s", c.name)
		}
	}
	for _, r := range []struct {
		name       string
		start, end *time.Time
	}{
		{"plan", rec.PlanStart, rec.PlanEnd},
		{"forecast", rec.ForecastStart, rec.ForecastEnd},
		{"actual", rec.ActualStart, rec.ActualEnd},
	} {
		if r.start != nil && r.end != nil && r.end.Before(*r.start) {
			return fmt.Sprintf("%s period ends before it starts", r.name)
		}
	}
	return ""
}
