// Package audit appends immutable events describing sync and draft activity.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType classifies an audit event.
type EventType string

const (
	EventSyncStarted    EventType = "SYNC_STARTED"
	EventSyncCompleted  EventType = "SYNC_COMPLETED"
	EventSyncFailed     EventType = "SYNC_FAILED"
	EventSyncCancelled  EventType = "SYNC_CANCELLED"
	EventSyncSkipped    EventType = "SYNC_SKIPPED"
	EventDraftSaved     EventType = "DRAFT_SAVED"
	EventDraftCommitted EventType = "DRAFT_COMMITTED"
	EventDraftDiscarded EventType = "DRAFT_DISCARDED"
)

// Event is one audit record. Payload carries event-specific detail such as
// run counters or the skip-reason histogram.
type Event struct {
	Type    EventType
	OrgID   uuid.UUID
	RunID   *uuid.UUID
	Actor   string
	Payload map[string]any
}

// Sink records audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

type dbSink struct {
	pool *pgxpool.Pool
}

// NewSink creates a database-backed Sink. Rows are append-only; nothing in
// the application updates or deletes them.
func NewSink(pool *pgxpool.Pool) Sink {
	return &dbSink{pool: pool}
}

func (s *dbSink) Record(ctx context.Context, event Event) error {
	payload := []byte("{}")
	if len(event.Payload) > 0 {
		encoded, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
		payload = encoded
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_event (id, org_id, run_id, event_type, actor, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), event.OrgID, event.RunID, string(event.Type), event.Actor, payload)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// RecordBestEffort logs instead of failing when the sink write errors. Sync
// runs must not abort because auditing is unavailable.
func RecordBestEffort(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, event); err != nil {
		slog.Warn("Failed to record audit event",
			"event_type", event.Type,
			"org_id", event.OrgID,
			"error", err)
	}
}
