// Package lifecycle drives one folder's state machine:
// pending -> scanning -> ready -> indexing -> active, with error as the
// failure state (left only through Reset, back to pending) and
// incremental re-entry into indexing on file changes. All transitions are serialised through the manager's mailbox.
package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/folder-mcp/daemon/internal/fmdm"
)

// TaskKind classifies a file embedding task.
type TaskKind string

const (
	TaskCreate TaskKind = "Create"
	TaskUpdate TaskKind = "Update"
	TaskRemove TaskKind = "Remove"
)

// TaskStatus tracks one task through the index phase.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskSuccess    TaskStatus = "success"
	TaskError      TaskStatus = "error"
)

// DefaultMaxRetries is the per-task retry budget.
const DefaultMaxRetries = 3

// Task is one file embedding task. The task list never contains two tasks
// for the same path.
type Task struct {
	ID         string
	Path       string // relative to the folder
	AbsPath    string
	Kind       TaskKind
	Status     TaskStatus
	Hash       string
	Size       int64
	ModTime    time.Time
	RetryCount int
	MaxRetries int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func newTask(kind TaskKind, relPath, absPath, hash string, maxRetries int) *Task {
	now := time.Now()
	return &Task{
		ID:         uuid.NewString(),
		Path:       relPath,
		AbsPath:    absPath,
		Kind:       kind,
		Status:     TaskPending,
		Hash:       hash,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// progressSnapshot computes the FMDM progress block for a task list.
// Percentage counts both completed and failed tasks, so a folder with
// failures still converges to 100%.
func progressSnapshot(tasks []*Task) fmdm.Progress {
	p := fmdm.Progress{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case TaskSuccess:
			p.Completed++
		case TaskError:
			p.Failed++
		case TaskInProgress:
			p.InProgress++
		}
	}
	if p.Total > 0 {
		p.Percentage = (p.Completed + p.Failed) * 100 / p.Total
	}
	return p
}
