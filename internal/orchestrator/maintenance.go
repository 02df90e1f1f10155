package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/folder-mcp/daemon/internal/fmdm"
)

const (
	// DefaultMaintenanceInterval paces the background maintenance sweep.
	DefaultMaintenanceInterval = 10 * time.Minute

	// compactionOrphanRatio triggers an index compaction once this share
	// of graph nodes is lazily deleted.
	compactionOrphanRatio = 0.25
)

// StartMaintenance runs the background sweep until ctx is cancelled:
// compaction of orphaned vector index entries, and reconciliation between
// each index's entry set and its store's persisted hashes.
func (o *Orchestrator) StartMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.runMaintenance(ctx)
			}
		}
	}()
}

func (o *Orchestrator) runMaintenance(ctx context.Context) {
	o.mu.Lock()
	folders := make([]*managedFolder, 0, len(o.folders))
	for _, mf := range o.folders {
		folders = append(folders, mf)
	}
	o.mu.Unlock()

	for _, mf := range folders {
		if ctx.Err() != nil {
			return
		}
		// Maintenance only touches settled folders; an indexing pass will
		// change both sides of every comparison below.
		if mf.manager.Status() != fmdm.StatusActive {
			continue
		}
		o.compactIfNeeded(ctx, mf)
		o.checkConsistency(mf)
	}
}

// compactIfNeeded rebuilds the folder's graph without orphans once lazy
// deletions dominate. Search stays available throughout.
func (o *Orchestrator) compactIfNeeded(ctx context.Context, mf *managedFolder) {
	stats := mf.index.OrphanStats()
	total := stats.Live + stats.Orphans
	if total == 0 || float64(stats.Orphans)/float64(total) < compactionOrphanRatio {
		return
	}

	o.logger.Info("compacting vector index",
		slog.String("folder", mf.settings.Path),
		slog.Int("live", stats.Live), slog.Int("orphans", stats.Orphans))

	if err := mf.index.Compact(ctx); err != nil {
		o.logger.Warn("index compaction failed",
			slog.String("folder", mf.settings.Path), slog.String("error", err.Error()))
		return
	}
	if err := mf.index.Save(mf.store.VectorsDir()); err != nil {
		o.logger.Warn("post-compaction snapshot failed",
			slog.String("folder", mf.settings.Path), slog.String("error", err.Error()))
	}
}

// checkConsistency reconciles the index's entry count against the store's
// persisted chunk set and surfaces drift as a folder notification.
func (o *Orchestrator) checkConsistency(mf *managedFolder) {
	hashes, err := mf.store.ListHashes()
	if err != nil {
		return
	}

	expected := 0
	for _, hash := range hashes {
		meta, err := mf.store.LoadMetadata(hash)
		if err != nil {
			continue
		}
		expected += len(meta.Chunks)
	}

	got := mf.index.Len()
	if got == expected {
		return
	}

	o.logger.Warn("index/store drift detected",
		slog.String("folder", mf.settings.Path),
		slog.Int("indexed", got), slog.Int("stored", expected))
	o.notify(mf.settings.Path, fmdm.SeverityWarning,
		fmt.Sprintf("index drift: %d vectors indexed but %d chunks stored; run build-index to reconcile", got, expected))
}
