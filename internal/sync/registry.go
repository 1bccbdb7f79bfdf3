package sync

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// CancelRegistry maps in-flight run IDs to their cancel functions. It is
// process-local: a run can only be cancelled on the instance executing it.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[uuid.UUID]context.CancelFunc)}
}

// Register stores the cancel function for a run.
func (r *CancelRegistry) Register(runID uuid.UUID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[runID] = cancel
}

// Remove drops a finished run. Safe to call for unknown IDs.
func (r *CancelRegistry) Remove(runID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, runID)
}

// Cancel fires the run's cancel function. It reports false when the run is
// unknown, already finished, or running on another instance.
func (r *CancelRegistry) Cancel(runID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	delete(r.cancels, runID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
