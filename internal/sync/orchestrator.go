// Package sync executes synchronization runs against the external EAM system.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/planvista/pfa-server/internal/audit"
	"github.com/planvista/pfa-server/internal/config"
	"github.com/planvista/pfa-server/internal/eligibility"
	"github.com/planvista/pfa-server/internal/source"
	"github.com/planvista/pfa-server/internal/status"
	"github.com/planvista/pfa-server/internal/store"
	"github.com/planvista/pfa-server/internal/sync/state"
	"github.com/planvista/pfa-server/internal/sync/writer"
	"github.com/planvista/pfa-server/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_orgstore.go -package=mocks -source=orchestrator.go OrgStore

// OrgStore is the subset of the store the orchestrator needs.
type OrgStore interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*store.Organization, error)
	ListOrganizations(ctx context.Context) ([]store.Organization, error)
	GetSourceConnection(ctx context.Context, orgID uuid.UUID) (*store.SourceConnection, error)
	RecordSyncSuccess(ctx context.Context, orgID uuid.UUID, processed int64, completedAt time.Time) error
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Orgs     OrgStore
	Runs     state.Service
	Writer   writer.BatchWriter
	Filter   eligibility.Filter
	Client   source.Client
	Sink     audit.Sink
	Metrics  *telemetry.SyncMetrics
	Registry *CancelRegistry
}

// Orchestrator drives sync runs. Each run executes as one goroutine; at most
// one run per organization is admitted at a time, enforced by the run store.
type Orchestrator struct {
	deps          Deps
	chunkSize     int
	writeTimeout  time.Duration
	maxConcurrent int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		deps:          deps,
		chunkSize:     cfg.Source.GetChunkSize(),
		writeTimeout:  cfg.Source.GetWriteTimeout(),
		maxConcurrent: cfg.Sync.GetMaxConcurrentOrgs(),
	}
}

// StartSync admits a run for one organization and executes it asynchronously.
// The returned snapshot is terminal when the organization was ineligible and
// RUNNING otherwise.
func (o *Orchestrator) StartSync(ctx context.Context, orgID uuid.UUID, mode status.SyncMode) (*status.RunSnapshot, error) {
	org, err := o.deps.Orgs.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrOrgNotFound) {
			return nil, NewError(ErrCodeOrgNotFound, "organization does not exist", err)
		}
		return nil, NewError(ErrCodeInternal, "failed to load organization", err)
	}

	if reason := o.deps.Filter.CheckOrganization(org); reason != nil {
		return o.finishIneligible(ctx, org, mode, *reason)
	}

	run, err := o.deps.Runs.BeginRun(ctx, org.ID, mode)
	if err != nil {
		if errors.Is(err, state.ErrRunConflict) {
			return nil, o.conflictError(ctx, org.ID, err)
		}
		return nil, NewError(ErrCodeInternal, "failed to create sync run", err)
	}

	// The run outlives the request. Cancellation happens through the
	// registry, not through the caller's context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.deps.Registry.Register(run.ID, cancel)

	go func() {
		defer o.deps.Registry.Remove(run.ID)
		o.execute(runCtx, org, run, mode)
	}()

	return run, nil
}

// conflictError builds the 409 response for an admission conflict. The
// message names the in-flight run when it can still be looked up.
func (o *Orchestrator) conflictError(ctx context.Context, orgID uuid.UUID, err error) *Error {
	message := "a sync run is already in progress"
	if running, lookupErr := o.deps.Runs.GetRunningRun(ctx, orgID); lookupErr == nil {
		message = fmt.Sprintf("sync run %s is already in progress", running.ID)
	}
	return NewError(ErrCodeConflict, message, err)
}

// Cancel requests cooperative cancellation of a run on this instance.
func (o *Orchestrator) Cancel(runID uuid.UUID) bool {
	return o.deps.Registry.Cancel(runID)
}

// SyncAll runs the fan-out: every organization is attempted with bounded
// concurrency, and a failure in one never aborts the others.
func (o *Orchestrator) SyncAll(ctx context.Context, mode status.SyncMode) (*status.FanOutSummary, error) {
	orgs, err := o.deps.Orgs.ListOrganizations(ctx)
	if err != nil {
		return nil, NewError(ErrCodeInternal, "failed to list organizations", err)
	}

	details := make([]status.FanOutDetail, len(orgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrent)
	for i, org := range orgs {
		g.Go(func() error {
			details[i] = o.syncOne(gctx, &org, mode)
			return nil
		})
	}
	_ = g.Wait()

	summary := &status.FanOutSummary{Total: len(orgs), Details: details}
	for _, d := range details {
		switch d.Outcome {
		case status.FanOutSynced:
			summary.Synced++
		case status.FanOutSkipped:
			summary.Skipped++
		case status.FanOutFailed:
			summary.Failed++
		}
	}
	return summary, nil
}

// syncOne executes one organization's run synchronously for the fan-out.
func (o *Orchestrator) syncOne(ctx context.Context, org *store.Organization, mode status.SyncMode) status.FanOutDetail {
	detail := status.FanOutDetail{OrgID: org.ID, OrgCode: org.Code}

	if reason := o.deps.Filter.CheckOrganization(org); reason != nil {
		if _, err := o.finishIneligible(ctx, org, mode, *reason); err != nil {
			detail.Outcome = status.FanOutFailed
			detail.Reason = err.Error()
			return detail
		}
		detail.Outcome = status.FanOutSkipped
		detail.Reason = string(*reason)
		return detail
	}

	run, err := o.deps.Runs.BeginRun(ctx, org.ID, mode)
	if err != nil {
		if errors.Is(err, state.ErrRunConflict) {
			detail.Outcome = status.FanOutSkipped
			detail.Reason = "sync already running"
			return detail
		}
		detail.Outcome = status.FanOutFailed
		detail.Reason = err.Error()
		return detail
	}
	detail.RunID = &run.ID

	runCtx, cancel := context.WithCancel(ctx)
	o.deps.Registry.Register(run.ID, cancel)
	defer o.deps.Registry.Remove(run.ID)

	phase, message := o.execute(runCtx, org, run, mode)
	switch phase {
	case status.RunPhaseCompleted:
		detail.Outcome = status.FanOutSynced
	default:
		detail.Outcome = status.FanOutFailed
		detail.Reason = message
	}
	return detail
}

// finishIneligible records a terminal run for an organization that failed the
// gate. This is a normal outcome, not an error: the snapshot carries the skip
// reason and zero counts.
func (o *Orchestrator) finishIneligible(ctx context.Context, org *store.Organization, mode status.SyncMode, reason eligibility.SkipReason) (*status.RunSnapshot, error) {
	run, err := o.deps.Runs.BeginRun(ctx, org.ID, mode)
	if err != nil {
		if errors.Is(err, state.ErrRunConflict) {
			return nil, o.conflictError(ctx, org.ID, err)
		}
		return nil, NewError(ErrCodeInternal, "failed to create sync run", err)
	}

	histogram := map[string]int64{string(reason): 1}
	message := fmt.Sprintf("organization skipped: %s", reason)
	if err := o.deps.Runs.Finalize(ctx, run.ID, status.RunPhaseCompleted, status.RunCounts{}, histogram, message); err != nil {
		return nil, NewError(ErrCodeInternal, "failed to finalize skipped run", err)
	}

	audit.RecordBestEffort(ctx, o.deps.Sink, audit.Event{
		Type:  audit.EventSyncSkipped,
		OrgID: org.ID,
		RunID: &run.ID,
		Payload: map[string]any{
			"reason": string(reason),
			"mode":   string(mode),
		},
	})
	o.deps.Metrics.RecordRun(ctx, "skipped", 0)

	slog.Info("Sync skipped", "org_code", org.Code, "reason", reason)

	run.Phase = status.RunPhaseCompleted
	run.Message = message
	run.SkipReasons = histogram
	return run, nil
}

// execute walks the source feed page by page and writes eligible records in
// chunks. It always finalizes the run and returns the terminal phase with a
// human-readable message.
func (o *Orchestrator) execute(ctx context.Context, org *store.Organization, run *status.RunSnapshot, mode status.SyncMode) (status.RunPhase, string) {
	start := time.Now()
	logger := slog.With("org_code", org.Code, "sync_id", run.ID, "mode", mode)
	logger.Info("Sync run started")

	audit.RecordBestEffort(ctx, o.deps.Sink, audit.Event{
		Type:    audit.EventSyncStarted,
		OrgID:   org.ID,
		RunID:   &run.ID,
		Payload: map[string]any{"mode": string(mode)},
	})

	progress := &runProgress{}

	if err := o.deps.Client.Validate(ctx); err != nil {
		return o.finish(ctx, org, run, progress, start, status.RunPhaseFailed,
			fmt.Sprintf("source endpoint validation failed: %v", err))
	}

	var updatedSince *time.Time
	if mode == status.SyncModeIncremental {
		conn, err := o.deps.Orgs.GetSourceConnection(ctx, org.ID)
		switch {
		case err == nil:
			updatedSince = conn.LastSyncAt
		case errors.Is(err, store.ErrConnectionNotFound):
			// Never synced before. Incremental degrades to a full fetch.
		default:
			return o.finish(ctx, org, run, progress, start, status.RunPhaseFailed,
				fmt.Sprintf("failed to load sync statistics: %v", err))
		}
	}

	buffer := make([]source.Record, 0, o.chunkSize)
	offset := 0
	for {
		page, err := o.deps.Client.FetchPage(ctx, source.PageQuery{
			OrgCode:      org.Code,
			Offset:       offset,
			UpdatedSince: updatedSince,
		})
		if err != nil {
			if ctx.Err() != nil {
				return o.finish(ctx, org, run, progress, start, status.RunPhaseCancelled, "cancelled by request")
			}
			return o.finish(ctx, org, run, progress, start, status.RunPhaseFailed,
				fmt.Sprintf("page fetch failed at offset %d: %v", offset, err))
		}

		progress.counts.Total = page.Total
		progress.totalBatches = int((page.Total + int64(o.chunkSize) - 1) / int64(o.chunkSize))

		for _, rec := range page.Records {
			result := o.deps.Filter.EvaluateSubject(&rec.Owner)
			if !result.Eligible {
				progress.counts.Skipped++
				progress.tally(result.Failed)
				continue
			}
			buffer = append(buffer, rec)
			if len(buffer) >= o.chunkSize {
				if err := o.flushChunk(ctx, org, run, progress, buffer); err != nil {
					return o.finishFlushError(ctx, org, run, progress, start, err)
				}
				buffer = buffer[:0]
			}
		}

		if page.NextOffset == nil {
			break
		}
		offset = *page.NextOffset
	}

	if len(buffer) > 0 {
		if err := o.flushChunk(ctx, org, run, progress, buffer); err != nil {
			return o.finishFlushError(ctx, org, run, progress, start, err)
		}
	}

	return o.finish(ctx, org, run, progress, start, status.RunPhaseCompleted, "")
}

// finishFlushError decides the terminal phase after a chunk write failed.
// Only the run context's own cancellation counts as a cancel; a write timeout
// or database error is a failure and keeps its message.
func (o *Orchestrator) finishFlushError(ctx context.Context, org *store.Organization, run *status.RunSnapshot, progress *runProgress, start time.Time, err error) (status.RunPhase, string) {
	if ctx.Err() != nil {
		return o.finish(ctx, org, run, progress, start, status.RunPhaseCancelled, "cancelled by request")
	}
	return o.finish(ctx, org, run, progress, start, status.RunPhaseFailed,
		fmt.Sprintf("chunk write failed: %v", err))
}

// flushChunk writes one chunk. It returns an error when the run was cancelled
// or the chunk transaction itself failed; per-record validation failures are
// absorbed into the result by the writer.
func (o *Orchestrator) flushChunk(ctx context.Context, org *store.Organization, run *status.RunSnapshot, progress *runProgress, chunk []source.Record) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	writeCtx, cancel := context.WithTimeout(ctx, o.writeTimeout)
	defer cancel()

	result, err := o.deps.Writer.WriteChunk(writeCtx, org.ID, chunk)
	if err != nil {
		return err
	}

	progress.counts.Inserted += result.Inserted
	progress.counts.Updated += result.Updated
	progress.counts.Errored += int64(len(result.Errors))
	progress.counts.Processed = progress.counts.Inserted + progress.counts.Updated
	progress.currentBatch++
	progress.errorRecords = append(progress.errorRecords, result.Errors...)

	// Progress rows are advisory. A failed update must not fail the run.
	if err := o.deps.Runs.UpdateProgress(ctx, run.ID, progress.counts, progress.currentBatch, progress.totalBatches, progress.histogram); err != nil {
		slog.Warn("Failed to update sync progress", "sync_id", run.ID, "error", err)
	}
	return nil
}

// finish finalizes the run, updates statistics on success, and audits the
// outcome. It returns the phase and message for fan-out reporting.
func (o *Orchestrator) finish(ctx context.Context, org *store.Organization, run *status.RunSnapshot, progress *runProgress, start time.Time, phase status.RunPhase, message string) (status.RunPhase, string) {
	// Finalization must survive run-context cancellation.
	finalizeCtx := context.WithoutCancel(ctx)

	if err := o.deps.Runs.Finalize(finalizeCtx, run.ID, phase, progress.counts, progress.histogram, message); err != nil {
		slog.Error("Failed to finalize sync run", "sync_id", run.ID, "error", err)
	}

	outcome := "failed"
	eventType := audit.EventSyncFailed
	switch phase {
	case status.RunPhaseCompleted:
		outcome = "completed"
		eventType = audit.EventSyncCompleted
		if err := o.deps.Orgs.RecordSyncSuccess(finalizeCtx, org.ID, progress.counts.Processed, time.Now().UTC()); err != nil {
			slog.Error("Failed to update sync statistics", "sync_id", run.ID, "error", err)
		}
	case status.RunPhaseCancelled:
		outcome = "cancelled"
		eventType = audit.EventSyncCancelled
	}

	payload := map[string]any{
		"total":     progress.counts.Total,
		"processed": progress.counts.Processed,
		"inserted":  progress.counts.Inserted,
		"updated":   progress.counts.Updated,
		"skipped":   progress.counts.Skipped,
		"errored":   progress.counts.Errored,
	}
	if len(progress.histogram) > 0 {
		payload["skipReasons"] = progress.histogram
	}
	if message != "" {
		payload["message"] = message
	}
	if len(progress.errorRecords) > 0 {
		payload["errorRecords"] = progress.errorRecords
	}
	audit.RecordBestEffort(finalizeCtx, o.deps.Sink, audit.Event{
		Type:    eventType,
		OrgID:   org.ID,
		RunID:   &run.ID,
		Payload: payload,
	})

	elapsed := time.Since(start)
	o.deps.Metrics.RecordRun(finalizeCtx, outcome, elapsed)
	o.deps.Metrics.AddRecords(finalizeCtx, "inserted", progress.counts.Inserted)
	o.deps.Metrics.AddRecords(finalizeCtx, "updated", progress.counts.Updated)
	o.deps.Metrics.AddRecords(finalizeCtx, "skipped", progress.counts.Skipped)
	o.deps.Metrics.AddRecords(finalizeCtx, "errored", progress.counts.Errored)

	slog.Info("Sync run finished",
		"org_code", org.Code,
		"sync_id", run.ID,
		"phase", phase,
		"processed", progress.counts.Processed,
		"skipped", progress.counts.Skipped,
		"errored", progress.counts.Errored,
		"duration", elapsed)

	return phase, message
}

// runProgress accumulates counters for one run. It is owned by a single
// goroutine and needs no locking.
type runProgress struct {
	counts       status.RunCounts
	histogram    map[string]int64
	errorRecords []writer.RecordError
	currentBatch int
	totalBatches int
}

func (p *runProgress) tally(reasons []eligibility.SkipReason) {
	if p.histogram == nil {
		p.histogram = make(map[string]int64)
	}
	for _, reason := range reasons {
		p.histogram[string(reason)]++
	}
}
