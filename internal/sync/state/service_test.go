package state_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planvista/pfa-server/database"
	"github.com/planvista/pfa-server/internal/status"
	"github.com/planvista/pfa-server/internal/sync/state"
)

func seedOrg(t *testing.T, pool *pgxpool.Pool, code string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO organization (id, code, name, service_status, enable_sync)
		 VALUES ($1, $2, $3, 'ACTIVE', true)`,
		id, code, "Org "+code)
	require.NoError(t, err)
	return id
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := database.SetupTestDB(t)
	svc := state.NewService(pool)

	orgID := seedOrg(t, pool, "ALPHA")

	run, err := svc.BeginRun(ctx, orgID, status.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, status.RunPhaseRunning, run.Phase)
	assert.Equal(t, status.SyncModeFull, run.Mode)

	// The partial unique index admits one running sync per organization
	_, err = svc.BeginRun(ctx, orgID, status.SyncModeFull)
	assert.ErrorIs(t, err, state.ErrRunConflict)

	// A different organization is unaffected
	otherOrgID := seedOrg(t, pool, "BRAVO")
	otherRun, err := svc.BeginRun(ctx, otherOrgID, status.SyncModeIncremental)
	require.NoError(t, err)
	require.NoError(t, svc.Finalize(ctx, otherRun.ID, status.RunPhaseFailed, status.RunCounts{}, nil, "source unavailable"))

	counts := status.RunCounts{Total: 10, Processed: 4, Inserted: 3, Updated: 1}
	require.NoError(t, svc.UpdateProgress(ctx, run.ID, counts, 1, 2, map[string]int64{"INACTIVE_SUBJECT": 2}))

	snapshot, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, counts, snapshot.Counts)
	assert.Equal(t, 1, snapshot.CurrentBatch)
	assert.Equal(t, 2, snapshot.TotalBatches)
	assert.Equal(t, map[string]int64{"INACTIVE_SUBJECT": 2}, snapshot.SkipReasons)
	assert.Nil(t, snapshot.CompletedAt)

	running, err := svc.GetRunningRun(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, running.ID)

	final := status.RunCounts{Total: 10, Processed: 8, Inserted: 5, Updated: 3, Skipped: 2}
	require.NoError(t, svc.Finalize(ctx, run.ID, status.RunPhaseCompleted, final, nil, ""))

	snapshot, err = svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, status.RunPhaseCompleted, snapshot.Phase)
	assert.Equal(t, final, snapshot.Counts)
	assert.NotNil(t, snapshot.CompletedAt)

	// Finalization is idempotent; a second call cannot flip the phase
	require.NoError(t, svc.Finalize(ctx, run.ID, status.RunPhaseFailed, status.RunCounts{}, nil, "late failure"))
	snapshot, err = svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, status.RunPhaseCompleted, snapshot.Phase)
	assert.Empty(t, snapshot.Message)

	// The organization can start a new run once the previous one is terminal
	_, err = svc.GetRunningRun(ctx, orgID)
	assert.ErrorIs(t, err, state.ErrRunNotFound)

	_, err = svc.BeginRun(ctx, orgID, status.SyncModeIncremental)
	require.NoError(t, err)
}

func TestFinalizeRejectsNonTerminalPhase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := database.SetupTestDB(t)
	svc := state.NewService(pool)

	orgID := seedOrg(t, pool, "ALPHA")
	run, err := svc.BeginRun(ctx, orgID, status.SyncModeFull)
	require.NoError(t, err)

	err = svc.Finalize(ctx, run.ID, status.RunPhaseRunning, status.RunCounts{}, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-terminal")
}

func TestUpdateProgressUnknownRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := database.SetupTestDB(t)
	svc := state.NewService(pool)

	err := svc.UpdateProgress(ctx, uuid.New(), status.RunCounts{}, 0, 0, nil)
	assert.ErrorIs(t, err, state.ErrRunNotFound)
}
