// Package reaper hard-deletes secrets whose scheduled deletion instant
// has passed and prunes excess version history. It is opt-in: soft-deleted
// secrets are never removed unless the purger is enabled.
package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lokerhq/loker/internal/clock"
	"github.com/lokerhq/loker/internal/store"
)

const (
	// Versions beyond this count per secret become prune candidates.
	maxVersionsPerSecret = 100
	// Only versions older than this are pruned.
	pruneMinAge = 24 * time.Hour
)

// Worker runs the purge pass on a fixed interval.
type Worker struct {
	store    *store.Store
	clock    clock.Clock
	logger   *logrus.Logger
	ticker   *time.Ticker
	stopChan chan struct{}
}

func NewWorker(st *store.Store, clk clock.Clock, logger *logrus.Logger) *Worker {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		store:    st,
		clock:    clk,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the purge worker.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	w.ticker = time.NewTicker(interval)

	w.logger.WithField("interval", interval).Info("Purge worker started")

	// Run immediately on start
	go w.runOnce(ctx)

	go func() {
		for {
			select {
			case <-w.ticker.C:
				w.runOnce(ctx)
			case <-w.stopChan:
				w.ticker.Stop()
				w.logger.Info("Purge worker stopped")
				return
			case <-ctx.Done():
				w.ticker.Stop()
				w.logger.Info("Purge worker stopped due to context cancellation")
				return
			}
		}
	}()
}

// Stop stops the purge worker.
func (w *Worker) Stop() {
	close(w.stopChan)
}

func (w *Worker) runOnce(ctx context.Context) {
	now := w.clock.Now()

	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		purged, err := tx.PurgeExpired(ctx, now.Unix())
		if err != nil {
			return err
		}

		pruned, err := tx.PruneExcessVersions(ctx, now.Add(-pruneMinAge).Unix(), maxVersionsPerSecret)
		if err != nil {
			return err
		}

		if purged > 0 || pruned > 0 {
			w.logger.WithFields(logrus.Fields{
				"purged_secrets":  purged,
				"pruned_versions": pruned,
			}).Info("Purge pass completed")
		}
		return nil
	})
	if err != nil {
		w.logger.WithError(err).Error("Purge pass failed")
	}
}
