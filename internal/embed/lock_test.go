package embed

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_LockAndUnlock(t *testing.T) {
	lock := NewFileLock(t.TempDir())

	require.NoError(t, lock.Lock())
	assert.True(t, lock.IsLocked())

	require.NoError(t, lock.Unlock())
	assert.False(t, lock.IsLocked())
}

func TestFileLock_PathUnderModelsDir(t *testing.T) {
	dir := t.TempDir()
	lock := NewFileLock(dir)
	assert.Equal(t, filepath.Join(dir, ".download.lock"), lock.Path())
}

func TestFileLock_UnlockWithoutLockIsNoop(t *testing.T) {
	lock := NewFileLock(t.TempDir())
	require.NoError(t, lock.Unlock())
	require.NoError(t, lock.Unlock())
	assert.False(t, lock.IsLocked())
}

func TestFileLock_TryLockAcquires(t *testing.T) {
	lock := NewFileLock(t.TempDir())

	acquired, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lock.IsLocked())

	require.NoError(t, lock.Unlock())
}

func TestFileLock_SecondHandleBlockedUntilRelease(t *testing.T) {
	// Two handles on the same models directory model two daemons racing
	// to download the same model file.
	dir := t.TempDir()
	first := NewFileLock(dir)
	second := NewFileLock(dir)

	require.NoError(t, first.Lock())

	acquired, err := second.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired, "the second daemon must wait its turn")
	assert.False(t, second.IsLocked())

	require.NoError(t, first.Unlock())

	acquired, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired, "the lock frees once the first download finishes")
	require.NoError(t, second.Unlock())
}

func TestFileLock_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models", "not-yet-created")
	lock := NewFileLock(dir)

	require.NoError(t, lock.Lock())
	assert.FileExists(t, lock.Path())
	require.NoError(t, lock.Unlock())
}

func TestFileLock_SerialisesConcurrentDownloads(t *testing.T) {
	// N goroutines contend for the lock; the critical section must never
	// overlap.
	dir := t.TempDir()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := NewFileLock(dir)
			require.NoError(t, lock.Lock())

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()

			require.NoError(t, lock.Unlock())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside, "lock holders must never overlap")
}
