package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/torneo/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Sweep deletes or closes stale rows and reports how many it touched.
type Sweep struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// CleanupManager periodically runs retention sweeps. The sweeps of one pass
// run concurrently and a failing sweep does not stop the others.
type CleanupManager struct {
	sweeps   []Sweep
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sweeps []Sweep, logger *slog.Logger, interval time.Duration) *CleanupManager {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupManager{
		sweeps:   sweeps,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce runs every sweep once and returns the rows touched per sweep.
// The returned error joins the failures of individual sweeps.
func (cm *CleanupManager) RunOnce(ctx context.Context) (map[string]int64, error) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]int64, len(cm.sweeps))
		failed  []error
	)

	var g errgroup.Group
	for _, sweep := range cm.sweeps {
		g.Go(func() error {
			n, err := sweep.Run(cleanupCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				cm.logger.Error("cleanup sweep failed",
					slog.String("sweep", sweep.Name),
					slog.Any("error", err),
				)
				failed = append(failed, fmt.Errorf("%s: %w", sweep.Name, err))
				return nil
			}

			results[sweep.Name] = n
			if n > 0 {
				metrics.CleanupDeleted.WithLabelValues(sweep.Name).Add(float64(n))
				cm.logger.Info("cleanup sweep completed",
					slog.String("sweep", sweep.Name),
					slog.Int64("rows", n),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return results, errors.Join(failed...)
	}
	return results, nil
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
