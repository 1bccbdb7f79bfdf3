// Package coordinator schedules periodic background sync fan-outs.
package coordinator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/planvista/pfa-server/internal/config"
	"github.com/planvista/pfa-server/internal/status"
)

// FanOutRunner is the orchestrator capability the coordinator needs.
type FanOutRunner interface {
	SyncAll(ctx context.Context, mode status.SyncMode) (*status.FanOutSummary, error)
}

const (
	// defaultInterval is the base interval between fan-outs when the
	// configuration does not set one
	defaultInterval = 30 * time.Minute
	// intervalJitter is the maximum random offset applied to the interval
	intervalJitter = 30 * time.Second
)

// Coordinator runs the sync fan-out on a jittered schedule.
type Coordinator interface {
	// Start blocks until the context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator and waits for the loop to exit.
	Stop() error
}

type defaultCoordinator struct {
	orchestrator FanOutRunner
	baseInterval time.Duration

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// New creates a coordinator around the orchestrator.
func New(orchestrator FanOutRunner, cfg *config.CoordinatorConfig) Coordinator {
	interval := defaultInterval
	if cfg != nil && cfg.Interval != "" {
		if parsed, err := time.ParseDuration(cfg.Interval); err == nil && parsed > 0 {
			interval = parsed
		}
	}
	return &defaultCoordinator{
		orchestrator: orchestrator,
		baseInterval: interval,
		done:         make(chan struct{}),
	}
}

// nextInterval applies a random jitter so multiple instances do not hit the
// source system simultaneously. The jitter is a tenth of the interval, capped
// at intervalJitter, which keeps the result positive for short intervals.
func (c *defaultCoordinator) nextInterval() time.Duration {
	jitter := c.baseInterval / 10
	if jitter > intervalJitter {
		jitter = intervalJitter
	}
	if jitter <= 0 {
		return c.baseInterval
	}
	//nolint:gosec // G404: non-cryptographic randomness is sufficient for jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return c.baseInterval + offset
}

func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting background sync coordinator", "base_interval", c.baseInterval)

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Background sync coordinator shutting down")
	}()

	ticker := time.NewTicker(c.nextInterval())
	defer ticker.Stop()

	c.runFanOut(coordCtx)

	for {
		select {
		case <-ticker.C:
			c.runFanOut(coordCtx)
			ticker.Reset(c.nextInterval())
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping")
			return nil
		}
	}
}

func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping sync coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

// runFanOut performs one incremental sync across all organizations. Errors
// are logged, never propagated; the next tick tries again.
func (c *defaultCoordinator) runFanOut(ctx context.Context) {
	summary, err := c.orchestrator.SyncAll(ctx, status.SyncModeIncremental)
	if err != nil {
		slog.Error("Background sync fan-out failed", "error", err)
		return
	}
	slog.Info("Background sync fan-out finished",
		"total", summary.Total,
		"synced", summary.Synced,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
}
