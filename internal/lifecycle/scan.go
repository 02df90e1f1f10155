package lifecycle

import (
	"context"
	"log/slog"
	"sort"

	"github.com/folder-mcp/daemon/internal/fingerprint"
	"github.com/folder-mcp/daemon/internal/fmdm"
	"github.com/folder-mcp/daemon/internal/store"
)

// scan runs the two comparison sweeps.
//
// Sweep 1 (folder->db) walks the folder, fingerprints each file and emits
// Create/Update tasks for content the store has not seen. Sweep 2
// (db->folder) walks the store's fingerprint set and emits Remove tasks
// for entries no longer on disk. Unreadable files are skipped with a
// warning; they never halt the scan.
func (m *Manager) scan(ctx context.Context) ([]*Task, error) {
	known, err := m.store.LoadFingerprints()
	if err != nil {
		return nil, err
	}

	paths, err := m.walk(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var tasks []*Task
	onDisk := make(map[string]bool, len(paths))

	for i, absPath := range paths {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		fp, err := fingerprint.Of(m.config.FolderPath, absPath)
		if err != nil {
			m.logger.Warn("skipping unreadable file during scan",
				slog.String("path", absPath), slog.String("error", err.Error()))
			m.reportScanProgress(fmdm.ScanPhaseFolderToDB, i+1, len(paths))
			continue
		}
		onDisk[fp.RelativePath] = true

		prev, seen := known[fp.RelativePath]
		switch {
		case !seen:
			tasks = append(tasks, taskFromFingerprint(TaskCreate, absPath, fp, m.config.MaxRetries))
		case prev.ContentHash != fp.ContentHash:
			tasks = append(tasks, taskFromFingerprint(TaskUpdate, absPath, fp, m.config.MaxRetries))
		}
		m.reportScanProgress(fmdm.ScanPhaseFolderToDB, i+1, len(paths))
	}

	// Sweep 2: store entries with no file behind them become Remove tasks.
	stored := make([]string, 0, len(known))
	for relPath := range known {
		stored = append(stored, relPath)
	}
	sort.Strings(stored)

	for i, relPath := range stored {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if !onDisk[relPath] {
			t := newTask(TaskRemove, relPath, "", known[relPath].ContentHash, m.config.MaxRetries)
			tasks = append(tasks, t)
		}
		m.reportScanProgress(fmdm.ScanPhaseDBToFolder, i+1, len(stored))
	}

	return tasks, nil
}

func taskFromFingerprint(kind TaskKind, absPath string, fp fingerprint.Fingerprint, maxRetries int) *Task {
	t := newTask(kind, fp.RelativePath, absPath, fp.ContentHash, maxRetries)
	t.Size = fp.Size
	t.ModTime = fp.ModTime
	return t
}

func (m *Manager) reportScanProgress(phase fmdm.ScanPhase, processed, total int) {
	if m.events.ScanProgress == nil {
		return
	}
	sp := fmdm.ScanningProgress{Phase: phase, Processed: processed, Total: total}
	if total > 0 {
		sp.Percentage = processed * 100 / total
	} else {
		sp.Percentage = 100
	}
	m.events.ScanProgress(sp)
}

// storedFingerprint converts a task's identity into the persisted form.
func storedFingerprint(t *Task) store.StoredFingerprint {
	return store.StoredFingerprint{
		RelativePath: t.Path,
		ContentHash:  t.Hash,
		Size:         t.Size,
		ModTime:      t.ModTime,
	}
}
