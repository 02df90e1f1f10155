package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by re-walking the folder on an interval
// and diffing size/mtime stamps against the previous sweep. It is the
// fallback when the platform's native notification API is unavailable
// (network mounts, exhausted inotify watches), trading latency for
// universality. The same size/mtime stamp pair also feeds the
// write-stability gate.
type PollingWatcher struct {
	interval time.Duration
	root     string

	mu      sync.RWMutex
	stamps  map[string]fileStamp
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	stopped bool
}

// fileStamp is one path's identity for diffing between sweeps. Content is
// never read here; the fingerprinter decides what actually changed.
type fileStamp struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a polling watcher sweeping at the given
// interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		stamps:   make(map[string]fileStamp),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}
}

// Start establishes the baseline sweep, then diffs on every tick until
// ctx is cancelled or Stop is called.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.root = root

	p.mu.Lock()
	p.stamps, err = p.snapshotTree()
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("perform baseline sweep: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.done:
			return nil
		case <-ticker.C:
			if err := p.sweep(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// snapshotTree stamps every entry under the root. Unreadable entries are
// skipped; the fingerprinter warns about them later if they matter. An
// unreadable or missing root is an error.
func (p *PollingWatcher) snapshotTree() (map[string]fileStamp, error) {
	stamps := make(map[string]fileStamp)

	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			return nil
		}
		relPath, err := filepath.Rel(p.root, path)
		if err != nil || relPath == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stamps[relPath] = fileStamp{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk folder: %w", err)
	}
	return stamps, nil
}

// sweep diffs the current tree against the previous sweep and emits
// create/modify/delete events.
func (p *PollingWatcher) sweep() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.snapshotTree()
	if err != nil {
		return err
	}

	for relPath, stamp := range current {
		prev, known := p.stamps[relPath]
		switch {
		case !known:
			p.emit(FileEvent{Path: relPath, Operation: OpCreate, IsDir: stamp.isDir, Timestamp: time.Now()})
		case prev.modTime != stamp.modTime || prev.size != stamp.size:
			p.emit(FileEvent{Path: relPath, Operation: OpModify, IsDir: stamp.isDir, Timestamp: time.Now()})
		}
	}

	for relPath, stamp := range p.stamps {
		if _, alive := current[relPath]; !alive {
			p.emit(FileEvent{Path: relPath, Operation: OpDelete, IsDir: stamp.isDir, Timestamp: time.Now()})
		}
	}

	p.stamps = current
	return nil
}

// emit sends one event without blocking the sweep. Caller holds the lock.
func (p *PollingWatcher) emit(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
	}
}

// Stop halts sweeping and closes the channels. Safe to call more than
// once.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.done)
	close(p.events)
	close(p.errors)
	return nil
}

// Events delivers detected file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors delivers non-fatal sweep errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}
