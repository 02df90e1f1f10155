package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_PlainErrorIsTransient(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(fmt.Errorf("socket reset")))
}

func TestClassify_ValidationError(t *testing.T) {
	err := ValidationError("bad path", nil)
	assert.Equal(t, ClassValidation, Classify(err))
	assert.False(t, Classify(err).Retryable())
}

func TestClassify_RetryableStructuredErrorIsTransient(t *testing.T) {
	err := New(ErrCodeNetworkTimeout, "embed batch timed out", nil)
	assert.Equal(t, ClassTransient, Classify(err))
	assert.True(t, Classify(err).Retryable())
}

func TestClassify_WrappedErrorsUnwrap(t *testing.T) {
	inner := ValidationError("unsupported file type", nil)
	wrapped := fmt.Errorf("process a.bin: %w", inner)
	assert.Equal(t, ClassValidation, Classify(wrapped))
}

func TestClassify_FatalSeverity(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "config unparseable", nil)
	err.Severity = SeverityFatal
	assert.Equal(t, ClassFatal, Classify(err))
}
