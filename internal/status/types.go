// Package status defines the shared sync run status types.
package status

import (
	"time"

	"github.com/google/uuid"
)

// RunPhase represents the current phase of a synchronization run
type RunPhase string

const (
	// RunPhaseRunning means the run is currently in progress
	RunPhaseRunning RunPhase = "RUNNING"

	// RunPhaseCompleted means the run finished successfully
	RunPhaseCompleted RunPhase = "COMPLETED"

	// RunPhaseFailed means the run failed
	RunPhaseFailed RunPhase = "FAILED"

	// RunPhaseCancelled means the run was cancelled cooperatively
	RunPhaseCancelled RunPhase = "CANCELLED"
)

// Terminal reports whether the phase is terminal. A terminal run is never
// transitioned again.
func (p RunPhase) Terminal() bool {
	return p == RunPhaseCompleted || p == RunPhaseFailed || p == RunPhaseCancelled
}

// SyncMode selects the sync strategy for a run
type SyncMode string

const (
	// SyncModeFull re-fetches every record from the source
	SyncModeFull SyncMode = "full"

	// SyncModeIncremental fetches records updated since the last successful sync
	SyncModeIncremental SyncMode = "incremental"
)

// RunCounts holds the record-level counters of a sync run
type RunCounts struct {
	Total     int64 `json:"totalRecords"`
	Processed int64 `json:"processedRecords"`
	Inserted  int64 `json:"insertedRecords"`
	Updated   int64 `json:"updatedRecords"`
	Skipped   int64 `json:"skippedRecords"`
	Errored   int64 `json:"errorRecords"`
}

// RunSnapshot is a read-only view of one sync run, safe to hand to pollers.
// Snapshots are copies; mutating one never affects the stored run.
type RunSnapshot struct {
	ID           uuid.UUID        `json:"syncId"`
	OrgID        uuid.UUID        `json:"orgId"`
	Mode         SyncMode         `json:"mode"`
	Phase        RunPhase         `json:"status"`
	Counts       RunCounts        `json:"counts"`
	CurrentBatch int              `json:"currentBatch"`
	TotalBatches int              `json:"totalBatches"`
	SkipReasons  map[string]int64 `json:"skipReasons,omitempty"`
	Message      string           `json:"message,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
}

// FanOutSummary aggregates the outcome of a sync across all eligible organizations
type FanOutSummary struct {
	Total   int            `json:"total"`
	Synced  int            `json:"synced"`
	Skipped int            `json:"skipped"`
	Failed  int            `json:"failed"`
	Details []FanOutDetail `json:"details"`
}

// Per-organization outcomes within a fan-out
const (
	FanOutSynced  = "synced"
	FanOutSkipped = "skipped"
	FanOutFailed  = "failed"
)

// FanOutDetail describes the outcome of one organization within a fan-out
type FanOutDetail struct {
	OrgID   uuid.UUID  `json:"orgId"`
	OrgCode string     `json:"orgCode"`
	RunID   *uuid.UUID `json:"syncId,omitempty"`
	Outcome string     `json:"outcome"`
	Reason  string     `json:"reason,omitempty"`
}
