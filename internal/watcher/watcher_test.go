package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{OpGitignoreChange, "GITIGNORE_CHANGE"},
		{OpConfigChange, "CONFIG_CHANGE"},
		{Operation(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

func TestFileEvent_CarriesCoordinates(t *testing.T) {
	now := time.Now()
	e := FileEvent{
		Path:      "reports/q1.md",
		OldPath:   "reports/draft.md",
		Operation: OpRename,
		IsDir:     false,
		Timestamp: now,
	}

	assert.Equal(t, "reports/q1.md", e.Path)
	assert.Equal(t, "reports/draft.md", e.OldPath)
	assert.Equal(t, OpRename, e.Operation)
	assert.Equal(t, now, e.Timestamp)
}

func TestDefaultOptions_MatchTheDocumentedKnobs(t *testing.T) {
	opts := DefaultOptions()

	// The spec's defaults: 1000ms debounce, 500ms write-stability quiet
	// period.
	assert.Equal(t, 1000*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, DefaultStabilityWindow, opts.StabilityWindow)
	assert.Equal(t, 5*time.Second, opts.PollInterval)
	assert.Positive(t, opts.EventBufferSize)
	assert.Empty(t, opts.IgnorePatterns)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	assert.NoError(t, Options{}.Validate(), "zero options are valid; defaults fill them")
}

func TestOptions_WithDefaults_FillsZeroValues(t *testing.T) {
	filled := Options{}.WithDefaults()
	assert.Equal(t, DefaultOptions().DebounceWindow, filled.DebounceWindow)
	assert.Equal(t, DefaultOptions().PollInterval, filled.PollInterval)
	assert.Equal(t, DefaultOptions().EventBufferSize, filled.EventBufferSize)

	// Explicit values survive.
	custom := Options{DebounceWindow: 42 * time.Millisecond}.WithDefaults()
	assert.Equal(t, 42*time.Millisecond, custom.DebounceWindow)
	assert.Equal(t, DefaultOptions().PollInterval, custom.PollInterval)
}
