package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"ig-autoreply/internal/core/ports"
)

// purgeBatch bounds each DELETE so the table is not locked for long
const purgeBatch = 1000

// Watchdog purges old webhook audit logs when the disk fills up.
// Send records are never purged.
type Watchdog struct {
	repo      ports.WebhookRepository
	interval  time.Duration
	threshold float64 // disk used percent that triggers a purge
	retention time.Duration
	path      string

	diskUsage func(ctx context.Context, path string) (float64, error)
	now       func() time.Time
}

// NewWatchdog creates a watchdog checking the filesystem holding path
func NewWatchdog(repo ports.WebhookRepository, interval time.Duration, threshold float64, retention time.Duration, path string) *Watchdog {
	return &Watchdog{
		repo:      repo,
		interval:  interval,
		threshold: threshold,
		retention: retention,
		path:      path,
		diskUsage: diskUsedPercent,
		now:       time.Now,
	}
}

func diskUsedPercent(ctx context.Context, path string) (float64, error) {
	stat, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return stat.UsedPercent, nil
}

// Run checks on every tick until ctx is done
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("[WATCHDOG] Service started", "interval", w.interval, "threshold", w.threshold)
	for {
		select {
		case <-ctx.Done():
			slog.Info("[WATCHDOG] Service stopped")
			return
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				slog.Error("[WATCHDOG] Check failed", "error", err)
			}
		}
	}
}

// Check purges logs older than the retention window if disk usage is at
// or above the threshold. Returns the number of rows deleted.
func (w *Watchdog) Check(ctx context.Context) (int64, error) {
	usage, err := w.diskUsage(ctx, w.path)
	if err != nil {
		return 0, fmt.Errorf("disk usage: %w", err)
	}
	if usage < w.threshold {
		slog.Debug("[WATCHDOG] Disk usage OK, no purge needed", "disk_percent", usage)
		return 0, nil
	}

	cutoff := w.now().Add(-w.retention)
	slog.Warn("[WATCHDOG] Disk usage above threshold, purging webhook logs",
		"disk_percent", usage,
		"threshold", w.threshold,
		"cutoff", cutoff,
	)

	var total int64
	for {
		n, err := w.repo.PurgeOlderThan(ctx, cutoff, purgeBatch)
		total += n
		if err != nil {
			return total, fmt.Errorf("purge webhook logs: %w", err)
		}
		if n < purgeBatch {
			break
		}
	}
	slog.Info("[WATCHDOG] Purged old webhook logs", "rows", total)
	return total, nil
}
