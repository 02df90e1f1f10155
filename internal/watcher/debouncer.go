package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer collapses rapid successive events per path so one document
// save (often a create + several writes + a rename) becomes one lifecycle
// task instead of re-indexing the file once per syscall.
//
// Coalescing rules, per path within the window:
//   - the last event wins,
//   - add then remove cancels outright (the file never really existed),
//   - change while an add is pending stays an add (the file is still new),
//   - remove then add becomes a change (the file was replaced in place).
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingChange
	flusher *time.Timer
	output  chan []FileEvent
	done    chan struct{}
	stopped bool
}

// pendingChange is one path's coalesced state while its window is open.
type pendingChange struct {
	event   FileEvent
	firstOp Operation // the operation that opened the window, drives coalescing
}

// NewDebouncer creates a debouncer emitting coalesced batches after each
// quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingChange),
		output:  make(chan []FileEvent, 10),
		done:    make(chan struct{}),
	}
}

// Add feeds one raw event into the window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if open, exists := d.pending[event.Path]; exists {
		merged := merge(open, event)
		if merged == nil {
			// add then remove within one window: nothing to report.
			delete(d.pending, event.Path)
		} else {
			open.event = *merged
		}
	} else {
		d.pending[event.Path] = &pendingChange{event: event, firstOp: event.Operation}
	}

	d.resetFlushTimer()
}

// merge applies the coalescing rules to a pending change and the next
// event on the same path. A nil result cancels the pending change.
func merge(open *pendingChange, next FileEvent) *FileEvent {
	switch {
	case open.firstOp == OpCreate && next.Operation == OpDelete:
		return nil

	case open.firstOp == OpCreate && next.Operation == OpModify:
		// Still a brand-new file as far as the index is concerned.
		return &open.event

	case open.firstOp == OpDelete && next.Operation == OpCreate:
		replaced := next
		replaced.Operation = OpModify
		return &replaced

	default:
		// Last event wins.
		return &next
	}
}

// resetFlushTimer restarts the quiet-window countdown. Caller holds the
// lock.
func (d *Debouncer) resetFlushTimer() {
	if d.flusher != nil {
		d.flusher.Stop()
	}
	d.flusher = time.AfterFunc(d.window, d.flush)
}

// flush hands everything pending to the output as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, open := range d.pending {
		batch = append(batch, open.event)
	}
	d.pending = make(map[string]*pendingChange)

	select {
	case d.output <- batch:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(batch)))
	}
}

// Output delivers coalesced batches, one per quiet window.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop discards pending state and closes the output. Safe to call more
// than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.flusher != nil {
		d.flusher.Stop()
	}
	close(d.done)
	close(d.output)
}
