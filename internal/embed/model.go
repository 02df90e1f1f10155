// Package embed provides the embedding runtimes, the worker pool and model
// management for the document-indexing daemon.
package embed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// ModelDownloadTimeout is the maximum time to wait for a model download.
	ModelDownloadTimeout = 30 * time.Minute
)

// DownloadProgress is the model-download progress event contract: Mirror
// consumers (the orchestrator, the duplex server's model_download_* events)
// receive every callback in order for a single download.
type DownloadProgress struct {
	ModelID    string
	Downloaded int64
	Total      int64
}

// ModelManager handles downloading and caching of embedding model files.
type ModelManager struct {
	modelsDir string
	lock      *FileLock
	mu        sync.Mutex
}

// NewModelManager creates a new model manager.
// modelsDir is typically ~/.folder-mcp/models/
func NewModelManager(modelsDir string) *ModelManager {
	return &ModelManager{
		modelsDir: modelsDir,
	}
}

// ModelPath returns the path the given model file is cached at.
func (m *ModelManager) ModelPath(spec ModelSpec) string {
	return filepath.Join(m.modelsDir, spec.File)
}

// EnsureModel ensures the model file is available, downloading if necessary.
// Returns the path to the model file. Safe across processes: a directory
// lock serialises concurrent downloads of the same model.
func (m *ModelManager) EnsureModel(ctx context.Context, spec ModelSpec, progressFn func(DownloadProgress)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if spec.URL == "" {
		// Ollama-served models are pulled by the Ollama daemon, not cached here.
		return "", fmt.Errorf("model %s has no download URL (backend %s)", spec.ID, spec.Backend)
	}

	modelPath := m.ModelPath(spec)

	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		return modelPath, nil
	}

	if err := os.MkdirAll(m.modelsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}

	m.lock = NewFileLock(m.modelsDir)
	if err := m.lock.Lock(); err != nil {
		return "", fmt.Errorf("failed to acquire download lock: %w", err)
	}
	defer func() {
		_ = m.lock.Unlock()
	}()

	// Check again after acquiring lock (another process may have downloaded)
	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		return modelPath, nil
	}

	if err := m.downloadModel(ctx, spec, modelPath, progressFn); err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", spec.ID, err)
	}

	return modelPath, nil
}

// downloadModel downloads the model file to destPath atomically.
func (m *ModelManager) downloadModel(ctx context.Context, spec ModelSpec, destPath string, progressFn func(DownloadProgress)) error {
	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath) // Clean up on failure

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "folder-mcp/1.0")

	client := &http.Client{
		Timeout: ModelDownloadTimeout,
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	totalSize := resp.ContentLength
	if totalSize <= 0 {
		totalSize = spec.SizeBytes
	}

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write: %w", writeErr)
			}
			downloaded += int64(n)
			if progressFn != nil {
				progressFn(DownloadProgress{ModelID: spec.ID, Downloaded: downloaded, Total: totalSize})
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}

	return nil
}

// ModelExists checks if the model file exists in the cache.
func (m *ModelManager) ModelExists(spec ModelSpec) bool {
	if spec.URL == "" {
		return false
	}
	info, err := os.Stat(m.ModelPath(spec))
	return err == nil && info.Size() > 0
}

// DeleteModel removes the cached model file.
func (m *ModelManager) DeleteModel(spec ModelSpec) error {
	return os.Remove(m.ModelPath(spec))
}

// DefaultModelsDir returns the default models directory path.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".folder-mcp", "models")
}
