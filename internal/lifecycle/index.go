package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	errsx "github.com/folder-mcp/daemon/internal/errors"
	"github.com/folder-mcp/daemon/internal/fingerprint"
	"github.com/folder-mcp/daemon/internal/fmdm"
)

// runIndexPhase consumes the task list with bounded concurrency. Per-task
// failures retry up to the task's budget, then the task is marked error
// and the phase continues; the folder stays in indexing until the queue
// drains. Mailbox goroutine only.
func (m *Manager) runIndexPhase() {
	m.transition(fmdm.StatusIndexing)

	m.mu.RLock()
	tasks := m.tasks
	m.mu.RUnlock()

	if len(tasks) == 0 {
		m.finishIndexPhase()
		return
	}

	g, ctx := errgroup.WithContext(m.runCtx)
	g.SetLimit(m.config.MaxConcurrency)

	var progressMu sync.Mutex
	emitProgress := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		if m.events.IndexProgress != nil {
			m.events.IndexProgress(m.Progress())
		}
	}

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			m.setTaskStatus(task, TaskInProgress)
			emitProgress()
			m.processWithRetry(ctx, task)
			emitProgress()
			return nil
		})
	}

	if err := g.Wait(); err != nil && m.runCtx.Err() != nil {
		// Cancellation (folder removal or daemon shutdown) is not a folder
		// error; leave the state as-is for teardown.
		return
	}

	if err := m.persistFingerprints(); err != nil {
		m.fail(fmt.Errorf("persist fingerprints: %w", err))
		return
	}

	if m.tooManyConsecutiveErrors() {
		m.fail(fmt.Errorf("%d consecutive task failures", m.config.ConsecutiveErrorLimit))
		return
	}

	m.finishIndexPhase()
}

func (m *Manager) finishIndexPhase() {
	p := m.Progress()
	if m.events.IndexComplete != nil {
		m.events.IndexComplete(p)
	}
	m.transition(fmdm.StatusActive)
}

// processWithRetry drives one task to success or exhausted retries.
func (m *Manager) processWithRetry(ctx context.Context, task *Task) {
	for {
		err := m.processTask(ctx, task)
		if err == nil {
			m.setTaskStatus(task, TaskSuccess)
			m.noteTaskOutcome(true)
			return
		}
		if ctx.Err() != nil {
			m.setTaskStatus(task, TaskError)
			return
		}

		// Validation-class failures (unsupported type, bad input) will not
		// improve on retry; burn no budget on them.
		if !errsx.Classify(err).Retryable() {
			m.logger.Warn("task failed with non-retryable error",
				slog.String("path", task.Path), slog.String("error", err.Error()))
			m.setTaskStatus(task, TaskError)
			m.noteTaskOutcome(false)
			return
		}

		m.mu.Lock()
		task.RetryCount++
		exhausted := task.RetryCount >= task.MaxRetries
		m.mu.Unlock()

		m.logger.Warn("task failed",
			slog.String("path", task.Path),
			slog.String("kind", string(task.Kind)),
			slog.Int("retry", task.RetryCount),
			slog.String("error", err.Error()))

		if exhausted {
			m.setTaskStatus(task, TaskError)
			m.noteTaskOutcome(false)
			return
		}
	}
}

// processTask executes one task through the pipeline. Hashes missing from
// watcher-originated tasks are resolved here.
func (m *Manager) processTask(ctx context.Context, task *Task) error {
	switch task.Kind {
	case TaskCreate, TaskUpdate:
		if task.Hash == "" {
			fp, err := fingerprint.Of(m.config.FolderPath, task.AbsPath)
			if err != nil {
				return err
			}
			m.mu.Lock()
			task.Hash = fp.ContentHash
			task.Size = fp.Size
			task.ModTime = fp.ModTime
			m.mu.Unlock()
		}
		return m.pipeline.ProcessFile(ctx, task.AbsPath, task.Path, task.Hash)

	case TaskRemove:
		if task.Hash == "" {
			known, err := m.store.LoadFingerprints()
			if err != nil {
				return err
			}
			if fp, ok := known[task.Path]; ok {
				m.mu.Lock()
				task.Hash = fp.ContentHash
				m.mu.Unlock()
			}
		}
		return m.pipeline.RemoveFile(ctx, task.Path, task.Hash)

	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (m *Manager) setTaskStatus(task *Task, status TaskStatus) {
	m.mu.Lock()
	task.Status = status
	m.mu.Unlock()
}

// noteTaskOutcome tracks the consecutive-error counter feeding the
// operational error threshold.
func (m *Manager) noteTaskOutcome(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.consecutiveErrors = 0
	} else {
		m.consecutiveErrors++
	}
}

func (m *Manager) tooManyConsecutiveErrors() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveErrors >= m.config.ConsecutiveErrorLimit
}

// persistFingerprints folds the finished task list into the stored
// fingerprint set: successful Create/Update tasks upsert their entry,
// successful Remove tasks delete theirs.
func (m *Manager) persistFingerprints() error {
	known, err := m.store.LoadFingerprints()
	if err != nil {
		return err
	}

	m.mu.RLock()
	tasks := m.tasks
	m.mu.RUnlock()

	for _, t := range tasks {
		if t.Status != TaskSuccess {
			continue
		}
		switch t.Kind {
		case TaskCreate, TaskUpdate:
			known[t.Path] = storedFingerprint(t)
		case TaskRemove:
			delete(known, t.Path)
		}
	}
	return m.store.SaveFingerprints(known)
}
