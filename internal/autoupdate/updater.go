// Package autoupdate sweeps the snapshot store in the background and
// refreshes missing or stale region-month entries in bounded batches.
package autoupdate

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/observability"
	"github.com/resmoray/nomad-weather-map/internal/resolver"
	"github.com/resmoray/nomad-weather-map/internal/snapshot"
)

// target is one region-month due for refresh.
type target struct {
	regionID string
	month    int
	reason   string
}

// Updater runs the periodic snapshot sweep.
type Updater struct {
	resolver  *resolver.Resolver
	snapshots *snapshot.Store
	interval  time.Duration
	batchSize int
	spacing   time.Duration
	logger    *zap.Logger

	running atomic.Bool
}

// New creates an Updater. spacing is the pause between refresh targets,
// matching the upstream request spacing.
func New(res *resolver.Resolver, snapshots *snapshot.Store, interval time.Duration, batchSize int, spacing time.Duration, logger *zap.Logger) *Updater {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Updater{
		resolver:  res,
		snapshots: snapshots,
		interval:  interval,
		batchSize: batchSize,
		spacing:   spacing,
		logger:    logger,
	}
}

// Start launches the sweep loop: one batch immediately, then one per
// interval, until ctx is canceled.
func (u *Updater) Start(ctx context.Context) {
	go func() {
		u.RunBatch(ctx)
		ticker := time.NewTicker(u.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				u.RunBatch(ctx)
			}
		}
	}()
}

// RunBatch executes one sweep. Overlapping batches are skipped; the previous
// one still owns the upstream budget.
func (u *Updater) RunBatch(ctx context.Context) {
	if !u.running.CompareAndSwap(false, true) {
		u.logger.Debug("auto-update batch skipped, previous batch still running")
		return
	}
	defer u.running.Store(false)

	observability.AutoUpdateSweepsTotal.Inc()
	targets := u.collectTargets()
	if len(targets) == 0 {
		u.logger.Info("auto-update sweep found nothing stale")
		return
	}

	refreshed, failed := 0, 0
	for i, tg := range targets {
		if ctx.Err() != nil {
			break
		}
		in := resolver.NewInput(tg.regionID, tg.month)
		if _, err := u.resolver.Resolve(ctx, in); err != nil {
			failed++
			observability.AutoUpdateErrorsTotal.Inc()
			u.logger.Warn("auto-update refresh failed",
				zap.String("region", tg.regionID),
				zap.Int("month", tg.month),
				zap.Error(err))
		} else {
			refreshed++
			observability.AutoUpdateRefreshedTotal.Inc()
		}

		if i < len(targets)-1 && u.spacing > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(u.spacing):
			}
		}
	}

	u.logger.Info("auto-update batch done",
		zap.Int("targets", len(targets)),
		zap.Int("refreshed", refreshed),
		zap.Int("failed", failed))
}

// collectTargets scans regions in sorted order and months 1..12, stopping at
// the batch cap.
func (u *Updater) collectTargets() []target {
	years := u.resolver.BaselineYears()
	now := time.Now()

	var out []target
	for _, regionID := range u.resolver.RegionIDs() {
		for month := 1; month <= 12; month++ {
			entry, ok := u.snapshots.Month(regionID, month)
			reason := "missing"
			if ok {
				reason = u.snapshots.StaleReason(entry, years, entry.IncludesMarine, now)
				if reason == "" {
					continue
				}
			}
			out = append(out, target{regionID: regionID, month: month, reason: reason})
			if len(out) >= u.batchSize {
				return out
			}
		}
	}
	return out
}
