package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/planvista/pfa-server/internal/audit"
	"github.com/planvista/pfa-server/internal/config"
	"github.com/planvista/pfa-server/internal/eligibility"
	"github.com/planvista/pfa-server/internal/source"
	sourcemocks "github.com/planvista/pfa-server/internal/source/mocks"
	"github.com/planvista/pfa-server/internal/status"
	"github.com/planvista/pfa-server/internal/store"
	"github.com/planvista/pfa-server/internal/sync/mocks"
	"github.com/planvista/pfa-server/internal/sync/state"
	"github.com/planvista/pfa-server/internal/sync/writer"
)

// stubSink records audit events and signals their arrival so tests can wait
// for asynchronous runs to finish.
type stubSink struct {
	mu     sync.Mutex
	events []audit.Event
	ch     chan audit.EventType
}

func newStubSink() *stubSink {
	return &stubSink{ch: make(chan audit.EventType, 16)}
}

func (s *stubSink) Record(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.ch <- event.Type
	return nil
}

// wait blocks until the terminal audit event arrives. Start events pass
// through since every executed run emits one before its outcome.
func (s *stubSink) wait(t *testing.T, want audit.EventType) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-s.ch:
			if got == audit.EventSyncStarted {
				continue
			}
			require.Equal(t, want, got)
			return
		case <-deadline:
			t.Fatalf("timed out waiting for audit event %s", want)
		}
	}
}

func (s *stubSink) recorded() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

type testHarness struct {
	orchestrator *Orchestrator
	orgs         *mocks.MockOrgStore
	runs         *mocks.MockService
	writer       *mocks.MockBatchWriter
	client       *sourcemocks.MockClient
	sink         *stubSink
}

func newTestHarness(t *testing.T, chunkSize int) *testHarness {
	t.Helper()
	ctrl := gomock.NewController(t)

	h := &testHarness{
		orgs:   mocks.NewMockOrgStore(ctrl),
		runs:   mocks.NewMockService(ctrl),
		writer: mocks.NewMockBatchWriter(ctrl),
		client: sourcemocks.NewMockClient(ctrl),
		sink:   newStubSink(),
	}

	cfg := &config.Config{
		Source: config.SourceConfig{ChunkSize: chunkSize},
		// Sequential fan-out keeps mock expectation order deterministic.
		Sync: config.SyncConfig{MaxConcurrentOrgs: 1},
	}
	h.orchestrator = NewOrchestrator(Deps{
		Orgs:     h.orgs,
		Runs:     h.runs,
		Writer:   h.writer,
		Filter:   eligibility.NewFilter(&config.EligibilityConfig{}),
		Client:   h.client,
		Sink:     h.sink,
		Registry: NewCancelRegistry(),
	}, cfg)
	return h
}

func activeOrg() *store.Organization {
	return &store.Organization{
		ID:            uuid.New(),
		Code:          "ORG1",
		Name:          "Org One",
		ServiceStatus: store.ServiceStatusActive,
		EnableSync:    true,
	}
}

func runningSnapshot(orgID uuid.UUID) *status.RunSnapshot {
	return &status.RunSnapshot{
		ID:        uuid.New(),
		OrgID:     orgID,
		Mode:      status.SyncModeFull,
		Phase:     status.RunPhaseRunning,
		StartedAt: time.Now().UTC(),
	}
}

func activeOwner() source.Subject {
	return source.Subject{ID: "u-1", Active: true}
}

func TestStartSync_OrgNotFound(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, 500)

	orgID := uuid.New()
	h.orgs.EXPECT().GetOrganization(gomock.Any(), orgID).Return(nil, store.ErrOrgNotFound)

	_, err := h.orchestrator.StartSync(context.Background(), orgID, status.SyncModeFull)

	var syncErr *Error
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, ErrCodeOrgNotFound, syncErr.Code)
}

func TestStartSync_Conflict(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, 500)

	org := activeOrg()
	running := runningSnapshot(org.ID)
	h.orgs.EXPECT().GetOrganization(gomock.Any(), org.ID).Return(org, nil)
	h.runs.EXPECT().BeginRun(gomock.Any(), org.ID, status.SyncModeFull).Return(nil, state.ErrRunConflict)
	h.runs.EXPECT().GetRunningRun(gomock.Any(), org.ID).Return(running, nil)

	_, err := h.orchestrator.StartSync(context.Background(), org.ID, status.SyncModeFull)

	var syncErr *Error
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, ErrCodeConflict, syncErr.Code)
	// The conflict response points at the run that holds the slot.
	assert.Contains(t, syncErr.Message, running.ID.String())
}

// An ineligible organization must terminate without a single source call.
func TestStartSync_IneligibleOrg(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, 500)

	org := activeOrg()
	org.ServiceStatus = store.ServiceStatusSuspended
	run := runningSnapshot(org.ID)

	h.orgs.EXPECT().GetOrganization(gomock.Any(), org.ID).Return(org, nil)
	h.runs.EXPECT().BeginRun(gomock.Any(), org.ID, status.SyncModeFull).Return(run, nil)
	h.runs.EXPECT().Finalize(gomock.Any(), run.ID, status.RunPhaseCompleted,
		status.RunCounts{}, map[string]int64{"ORG_INACTIVE": 1}, gomock.Any()).Return(nil)

	snapshot, err := h.orchestrator.StartSync(context.Background(), org.ID, status.SyncModeFull)

	require.NoError(t, err)
	assert.Equal(t, status.RunPhaseCompleted, snapshot.Phase)
	assert.Zero(t, snapshot.Counts.Processed)
	assert.Equal(t, int64(1), snapshot.SkipReasons["ORG_INACTIVE"])

	h.sink.wait(t, audit.EventSyncSkipped)
}

func TestStartSync_CompletesRun(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, 2)

	org := activeOrg()
	run := runningSnapshot(org.ID)

	records := []source.Record{
		{ExternalID: "A", Owner: activeOwner()},
		{ExternalID: "B", Owner: activeOwner()},
		{ExternalID: "C", Owner: activeOwner()},
	}

	h.orgs.EXPECT().GetOrganization(gomock.Any(), org.ID).Return(org, nil)
	h.runs.EXPECT().BeginRun(gomock.Any(), org.ID, status.SyncModeFull).Return(run, nil)
	h.client.EXPECT().Validate(gomock.Any()).Return(nil)
	h.client.EXPECT().FetchPage(gomock.Any(), source.PageQuery{OrgCode: "ORG1"}).
		Return(&source.Page{Records: records, Total: 3}, nil)
	h.writer.EXPECT().WriteChunk(gomock.Any(), org.ID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, chunk []source.Record) (*writer.Result, error) {
			return &writer.Result{Inserted: int64(len(chunk))}, nil
		}).Times(2)
	h.runs.EXPECT().UpdateProgress(gomock.Any(), run.ID, gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()

	var finalCounts status.RunCounts
	h.runs.EXPECT().Finalize(gomock.Any(), run.ID, status.RunPhaseCompleted,
		gomock.Any(), gomock.Any(), "").
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _ status.RunPhase, counts status.RunCounts, _ map[string]int64, _ string) error {
			finalCounts = counts
			return nil
		})
	h.orgs.EXPECT().RecordSyncSuccess(gomock.Any(), org.ID, int64(3), gomock.Any()).Return(nil)

	snapshot, err := h.orchestrator.StartSync(context.Background(), org.ID, status.SyncModeFull)

	require.NoError(t, err)
	assert.Equal(t, status.RunPhaseRunning, snapshot.Phase)

	h.sink.wait(t, audit.EventSyncCompleted)
	assert.Equal(t, int64(3), finalCounts.Processed)
	assert.Equal(t, int64(3), finalCounts.Inserted)
	assert.Equal(t, int64(3), finalCounts.Total)

	// The run is audited from both ends.
	events := h.sink.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventSyncStarted, events[0].Type)
	assert.Equal(t, &run.ID, events[0].RunID)
	assert.Equal(t, audit.EventSyncCompleted, events[1].Type)
}

func TestStartSync_SourceFailureFailsRun(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, 500)

	org := activeOrg()
	run := runningSnapshot(org.ID)

	h.orgs.EXPECT().GetOrganization(gomock.Any(), org.ID).Return(org, nil)
	h.runs.EXPECT().BeginRun(gomock.Any(), org.ID, status.SyncModeFull).Return(run, nil)
	h.client.EXPECT().Validate(gomock.Any()).Return(errors.New("connection refused"))
	h.runs.EXPECT().Finalize(gomock.Any(), run.ID, status.RunPhaseFailed,
		gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	_, err := h.orchestrator.StartSync(context.Background(), org.ID, status.SyncModeFull)

	require.NoError(t, err)
	h.sink.wait(t, audit.EventSyncFailed)

	events := h.sink.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventSyncStarted, events[0].Type)
	assert.Contains(t, events[1].Payload["message"], "connection refused")
}

// A write failure while the run context is alive is a failure, not a
// cancellation, and the finalized message keeps the underlying error.
func TestStartSync_WriteFailureFailsRun(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, 2)

	org := activeOrg()
	run := runningSnapshot(org.ID)

	records := []source.Record{
		{ExternalID: "A", Owner: activeOwner()},
		{ExternalID: "B", Owner: activeOwner()},
	}

	h.orgs.EXPECT().GetOrganization(gomock.Any(), org.ID).Return(org, nil)
	h.runs.EXPECT().BeginRun(gomock.Any(), org.ID, status.SyncModeFull).Return(run, nil)
	h.client.EXPECT().Validate(gomock.Any()).Return(nil)
	h.client.EXPECT().FetchPage(gomock.Any(), gomock.Any()).
		Return(&source.Page{Records: records, Total: 2}, nil)
	h.writer.EXPECT().WriteChunk(gomock.Any(), org.ID, gomock.Any()).
		Return(nil, fmt.Errorf("chunk transaction: %w", context.DeadlineExceeded))

	var phase status.RunPhase
	var message string
	h.runs.EXPECT().Finalize(gomock.Any(), run.ID, gomock.Any(),
		gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, p status.RunPhase, _ status.RunCounts, _ map[string]int64, msg string) error {
			phase = p
			message = msg
			return nil
		})

	_, err := h.orchestrator.StartSync(context.Background(), org.ID, status.SyncModeFull)
	require.NoError(t, err)

	h.sink.wait(t, audit.EventSyncFailed)
	assert.Equal(t, status.RunPhaseFailed, phase)
	assert.Contains(t, message, "chunk write failed")
	assert.Contains(t, message, "deadline exceeded")
}

func TestStartSync_SkipHistogramInRun(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, 500)

	// A restrictive group allow-list so inactive and wrong-group owners fail.
	h.orchestrator.deps.Filter = eligibility.NewFilter(&config.EligibilityConfig{
		AllowedGroups: []string{"maintenance"},
	})

	org := activeOrg()
	run := runningSnapshot(org.ID)

	records := []source.Record{
		{ExternalID: "A", Owner: source.Subject{ID: "u-1", Active: true, Group: "maintenance"}},
		{ExternalID: "B", Owner: source.Subject{ID: "u-2", Active: false, Group: "maintenance"}},
		{ExternalID: "C", Owner: source.Subject{ID: "u-3", Active: true, Group: "finance"}},
	}

	h.orgs.EXPECT().GetOrganization(gomock.Any(), org.ID).Return(org, nil)
	h.runs.EXPECT().BeginRun(gomock.Any(), org.ID, status.SyncModeFull).Return(run, nil)
	h.client.EXPECT().Validate(gomock.Any()).Return(nil)
	h.client.EXPECT().FetchPage(gomock.Any(), gomock.Any()).
		Return(&source.Page{Records: records, Total: 3}, nil)
	h.writer.EXPECT().WriteChunk(gomock.Any(), org.ID, gomock.Any()).
		Return(&writer.Result{Inserted: 1}, nil)
	h.runs.EXPECT().UpdateProgress(gomock.Any(), run.ID, gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()

	var histogram map[string]int64
	h.runs.EXPECT().Finalize(gomock.Any(), run.ID, status.RunPhaseCompleted,
		gomock.Any(), gomock.Any(), "").
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _ status.RunPhase, _ status.RunCounts, reasons map[string]int64, _ string) error {
			histogram = reasons
			return nil
		})
	h.orgs.EXPECT().RecordSyncSuccess(gomock.Any(), org.ID, int64(1), gomock.Any()).Return(nil)

	_, err := h.orchestrator.StartSync(context.Background(), org.ID, status.SyncModeFull)

	require.NoError(t, err)
	h.sink.wait(t, audit.EventSyncCompleted)
	assert.Equal(t, map[string]int64{
		"INACTIVE_SUBJECT":  1,
		"GROUP_NOT_ALLOWED": 1,
	}, histogram)
}

func TestCancelRun(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, 500)

	org := activeOrg()
	run := runningSnapshot(org.ID)
	started := make(chan struct{})

	h.orgs.EXPECT().GetOrganization(gomock.Any(), org.ID).Return(org, nil)
	h.runs.EXPECT().BeginRun(gomock.Any(), org.ID, status.SyncModeFull).Return(run, nil)
	h.client.EXPECT().Validate(gomock.Any()).Return(nil)
	h.client.EXPECT().FetchPage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ source.PageQuery) (*source.Page, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	h.runs.EXPECT().Finalize(gomock.Any(), run.ID, status.RunPhaseCancelled,
		gomock.Any(), gomock.Any(), "cancelled by request").Return(nil)

	_, err := h.orchestrator.StartSync(context.Background(), org.ID, status.SyncModeFull)
	require.NoError(t, err)

	<-started
	assert.True(t, h.orchestrator.Cancel(run.ID))

	h.sink.wait(t, audit.EventSyncCancelled)

	// The run is gone from the registry once it finishes.
	assert.False(t, h.orchestrator.Cancel(run.ID))
}

func TestSyncAll_IsolatesOutcomes(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, 500)

	healthy := activeOrg()
	disabled := &store.Organization{
		ID:            uuid.New(),
		Code:          "ORG2",
		ServiceStatus: store.ServiceStatusActive,
		EnableSync:    false,
	}
	broken := &store.Organization{
		ID:            uuid.New(),
		Code:          "ORG3",
		ServiceStatus: store.ServiceStatusActive,
		EnableSync:    true,
	}

	h.orgs.EXPECT().ListOrganizations(gomock.Any()).
		Return([]store.Organization{*healthy, *disabled, *broken}, nil)

	// Healthy org syncs one empty page.
	healthyRun := runningSnapshot(healthy.ID)
	h.runs.EXPECT().BeginRun(gomock.Any(), healthy.ID, status.SyncModeFull).Return(healthyRun, nil)
	// Disabled org gets a terminal skipped run.
	disabledRun := runningSnapshot(disabled.ID)
	h.runs.EXPECT().BeginRun(gomock.Any(), disabled.ID, status.SyncModeFull).Return(disabledRun, nil)
	// Broken org fails source validation.
	brokenRun := runningSnapshot(broken.ID)
	h.runs.EXPECT().BeginRun(gomock.Any(), broken.ID, status.SyncModeFull).Return(brokenRun, nil)

	h.client.EXPECT().Validate(gomock.Any()).Return(nil)
	h.client.EXPECT().Validate(gomock.Any()).Return(errors.New("boom"))
	h.client.EXPECT().FetchPage(gomock.Any(), source.PageQuery{OrgCode: "ORG1"}).
		Return(&source.Page{}, nil)

	h.runs.EXPECT().Finalize(gomock.Any(), gomock.Any(), gomock.Any(),
		gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)
	h.orgs.EXPECT().RecordSyncSuccess(gomock.Any(), healthy.ID, int64(0), gomock.Any()).Return(nil)

	summary, err := h.orchestrator.SyncAll(context.Background(), status.SyncModeFull)

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Details, 3)
	assert.Equal(t, "ORG1", summary.Details[0].OrgCode)
	assert.Equal(t, status.FanOutSynced, summary.Details[0].Outcome)
	assert.Equal(t, status.FanOutSkipped, summary.Details[1].Outcome)
	assert.Equal(t, "SYNC_DISABLED", summary.Details[1].Reason)
	assert.Equal(t, status.FanOutFailed, summary.Details[2].Outcome)
}
