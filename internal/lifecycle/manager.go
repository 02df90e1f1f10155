package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/folder-mcp/daemon/internal/fmdm"
	"github.com/folder-mcp/daemon/internal/store"
)

// Pipeline processes one file embedding task end to end:
// parse -> chunk -> embed -> persist chunk + embedding -> add to vector
// index. The manager owns ordering, retries and progress; the pipeline
// owns the per-file work.
type Pipeline interface {
	// ProcessFile handles a Create or Update task.
	ProcessFile(ctx context.Context, absPath, relPath, hash string) error

	// RemoveFile handles a Remove task: evict derived artefacts for the
	// path/hash pair.
	RemoveFile(ctx context.Context, relPath, hash string) error
}

// WalkFunc enumerates the folder's candidate files (absolute paths),
// honouring ignore patterns. Injected so the manager needs no watcher or
// gitignore knowledge of its own.
type WalkFunc func(ctx context.Context) ([]string, error)

// Events are the manager's emitted callbacks. All are optional. All but
// IndexProgress are invoked from the manager's mailbox goroutine;
// IndexProgress is invoked from the index-phase task goroutines, one call
// at a time. Handlers must not call back into the manager synchronously.
type Events struct {
	StateChange     func(prev, next fmdm.FolderStatus)
	ScanProgress    func(sp fmdm.ScanningProgress)
	ScanComplete    func(taskCount int)
	IndexProgress   func(p fmdm.Progress)
	IndexComplete   func(p fmdm.Progress)
	ChangesDetected func(taskCount int)
	Error           func(err error)
}

// Config configures one folder's manager.
type Config struct {
	FolderPath string
	Name       string
	Model      string

	// MaxConcurrency bounds parallel task processing in the index phase.
	MaxConcurrency int

	// MaxRetries is the per-task retry budget.
	MaxRetries int

	// ConsecutiveErrorLimit trips the folder into the error state when
	// that many tasks fail back to back.
	ConsecutiveErrorLimit int

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.ConsecutiveErrorLimit <= 0 {
		c.ConsecutiveErrorLimit = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// FileChange is a debounced watcher event handed to the manager.
type FileChange struct {
	AbsPath string
	RelPath string
	Kind    TaskKind // Create, Update or Remove
}

// command is one mailbox message.
type command struct {
	kind    commandKind
	changes []FileChange
	done    chan struct{}
}

type commandKind int

const (
	cmdStartScanning commandKind = iota
	cmdStartIndexing
	cmdFileChanges
	cmdReset
	cmdStop
)

// Manager is one folder's lifecycle state machine. All state transitions
// are totally ordered: they happen only inside the mailbox goroutine.
type Manager struct {
	config   Config
	store    *store.FolderStore
	pipeline Pipeline
	walk     WalkFunc
	events   Events
	logger   *slog.Logger

	mailbox chan command
	stopped chan struct{}

	mu                sync.RWMutex
	status            fmdm.FolderStatus
	tasks             []*Task
	consecutiveErrors int
	lastErr           error

	runCtx    context.Context
	cancelRun context.CancelFunc
}

// NewManager creates a manager in the pending state. Call Start to run
// its mailbox.
func NewManager(cfg Config, st *store.FolderStore, pipeline Pipeline, walk WalkFunc, events Events) *Manager {
	cfg.applyDefaults()
	return &Manager{
		config:   cfg,
		store:    st,
		pipeline: pipeline,
		walk:     walk,
		events:   events,
		logger:   cfg.Logger.With(slog.String("folder", cfg.FolderPath)),
		mailbox:  make(chan command, 16),
		stopped:  make(chan struct{}),
		status:   fmdm.StatusPending,
	}
}

// Start launches the mailbox goroutine. ctx cancellation (folder removal
// or daemon shutdown) propagates into every long-running phase.
func (m *Manager) Start(ctx context.Context) {
	m.runCtx, m.cancelRun = context.WithCancel(ctx)
	go m.run()
}

// Status returns the current lifecycle status.
func (m *Manager) Status() fmdm.FolderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Tasks returns a copy of the current task list.
func (m *Manager) Tasks() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Task, len(m.tasks))
	for i, t := range m.tasks {
		out[i] = *t
	}
	return out
}

// Progress returns the current index-phase progress block.
func (m *Manager) Progress() fmdm.Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return progressSnapshot(m.tasks)
}

// LastError returns the error that moved the folder into the error state.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// StartScanning requests the pending -> scanning transition.
func (m *Manager) StartScanning() { m.post(command{kind: cmdStartScanning}) }

// StartIndexing requests the ready -> indexing transition.
func (m *Manager) StartIndexing() { m.post(command{kind: cmdStartIndexing}) }

// ApplyChanges hands debounced watcher events to the manager; an active
// folder re-enters indexing incrementally.
func (m *Manager) ApplyChanges(changes []FileChange) {
	m.post(command{kind: cmdFileChanges, changes: changes})
}

// Reset requests the error -> pending transition.
func (m *Manager) Reset() { m.post(command{kind: cmdReset}) }

// Stop terminates the manager. Blocks until the mailbox drains.
func (m *Manager) Stop() {
	done := make(chan struct{})
	m.post(command{kind: cmdStop, done: done})
	select {
	case <-done:
	case <-m.stopped:
	}
}

func (m *Manager) post(cmd command) {
	select {
	case m.mailbox <- cmd:
	case <-m.stopped:
	}
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.runCtx.Done():
			return
		case cmd := <-m.mailbox:
			switch cmd.kind {
			case cmdStartScanning:
				m.handleStartScanning()
			case cmdStartIndexing:
				m.handleStartIndexing()
			case cmdFileChanges:
				m.handleFileChanges(cmd.changes)
			case cmdReset:
				m.handleReset()
			case cmdStop:
				m.cancelRun()
				if cmd.done != nil {
					close(cmd.done)
				}
				return
			}
		}
	}
}

// transition updates the status and emits stateChange. Mailbox goroutine
// only.
func (m *Manager) transition(next fmdm.FolderStatus) {
	m.mu.Lock()
	prev := m.status
	m.status = next
	m.mu.Unlock()
	if prev == next {
		return
	}
	m.logger.Info("folder state change",
		slog.String("prev", string(prev)), slog.String("next", string(next)))
	if m.events.StateChange != nil {
		m.events.StateChange(prev, next)
	}
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Error("folder entered error state", slog.String("error", err.Error()))
	if m.events.Error != nil {
		m.events.Error(err)
	}
	m.transition(fmdm.StatusError)
}

func (m *Manager) handleStartScanning() {
	if m.Status() != fmdm.StatusPending {
		m.logger.Warn("startScanning ignored", slog.String("status", string(m.Status())))
		return
	}
	m.transition(fmdm.StatusScanning)

	tasks, err := m.scan(m.runCtx)
	if err != nil {
		m.fail(fmt.Errorf("scan: %w", err))
		return
	}

	m.mu.Lock()
	m.tasks = tasks
	m.mu.Unlock()

	m.transition(fmdm.StatusReady)
	if m.events.ScanComplete != nil {
		m.events.ScanComplete(len(tasks))
	}
}

func (m *Manager) handleStartIndexing() {
	if m.Status() != fmdm.StatusReady {
		m.logger.Warn("startIndexing ignored", slog.String("status", string(m.Status())))
		return
	}
	m.runIndexPhase()
}

func (m *Manager) handleFileChanges(changes []FileChange) {
	status := m.Status()
	if status != fmdm.StatusActive && status != fmdm.StatusReady {
		m.logger.Warn("file changes ignored", slog.String("status", string(status)))
		return
	}

	tasks := m.changesToTasks(changes)
	if len(tasks) == 0 {
		return
	}

	m.mu.Lock()
	m.tasks = tasks
	m.mu.Unlock()

	if m.events.ChangesDetected != nil {
		m.events.ChangesDetected(len(tasks))
	}
	m.runIndexPhase()
}

func (m *Manager) handleReset() {
	if m.Status() != fmdm.StatusError {
		return
	}
	m.mu.Lock()
	m.tasks = nil
	m.consecutiveErrors = 0
	m.lastErr = nil
	m.mu.Unlock()
	m.transition(fmdm.StatusPending)
}

// changesToTasks converts debounced watcher events into tasks, one per
// path (the task list invariant).
func (m *Manager) changesToTasks(changes []FileChange) []*Task {
	seen := make(map[string]bool)
	var tasks []*Task
	for _, ch := range changes {
		if seen[ch.RelPath] {
			continue
		}
		seen[ch.RelPath] = true
		tasks = append(tasks, newTask(ch.Kind, ch.RelPath, ch.AbsPath, "", m.config.MaxRetries))
	}
	return tasks
}
