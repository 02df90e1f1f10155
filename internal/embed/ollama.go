package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	errsx "github.com/folder-mcp/daemon/internal/errors"
)

// OllamaEmbedder generates embeddings via a local Ollama server. It is the
// production model runtime; the static embedder covers the no-server case.
type OllamaEmbedder struct {
	config OllamaConfig
	client *http.Client

	mu         sync.RWMutex
	model      string
	dimensions int
	lastCall   time.Time
	closed     bool
}

// NewOllamaEmbedder connects to the Ollama host, resolves the model
// (falling back through cfg.FallbackModels if the primary is missing) and
// auto-detects the embedding dimension unless cfg.Dimensions is set.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWarmTimeout
	}
	if cfg.ColdTimeout <= 0 {
		cfg.ColdTimeout = DefaultColdTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = OllamaConnectTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}

	e := &OllamaEmbedder{
		config: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        cfg.PoolSize,
				MaxIdleConnsPerHost: cfg.PoolSize,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}

	if cfg.SkipHealthCheck {
		return e, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	model, err := e.findAvailableModel(connectCtx)
	if err != nil {
		return nil, err
	}
	e.model = model

	if e.dimensions == 0 {
		dims, err := e.detectDimensions(ctx)
		if err != nil {
			return nil, fmt.Errorf("detect dimensions for %s: %w", model, err)
		}
		e.dimensions = dims
	}

	return e, nil
}

// listModels queries /api/tags for installed models.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama unreachable at %s: %w", e.config.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama /api/tags returned %s", resp.Status)
	}

	var list OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	return list.Models, nil
}

// findAvailableModel returns the configured model if installed, otherwise
// the first installed fallback.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	installed := make(map[string]bool, len(models))
	for _, m := range models {
		installed[m.Name] = true
		// Ollama lists models with an explicit tag; accept the bare name too.
		if base, _, found := strings.Cut(m.Name, ":"); found {
			installed[base] = true
		}
	}

	if installed[e.config.Model] {
		return e.config.Model, nil
	}
	for _, fallback := range e.config.FallbackModels {
		if installed[fallback] {
			return fallback, nil
		}
	}
	return "", fmt.Errorf("model %s not installed and no fallback available (run: ollama pull %s)",
		e.config.Model, e.config.Model)
}

// detectDimensions embeds a probe string and measures the vector length.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := e.doEmbed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("probe embedding returned no vector")
	}
	return len(vecs[0]), nil
}

// Embed generates embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, preserving input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds maximum %d", len(texts), MaxBatchSize)
	}

	var vecs [][]float32
	err := errsx.Retry(ctx, errsx.Backoff{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}, func() error {
		var embedErr error
		vecs, embedErr = e.doEmbed(ctx, texts)
		return embedErr
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// requestTimeout picks the cold timeout when the model has likely been
// unloaded, the warm timeout otherwise.
func (e *OllamaEmbedder) requestTimeout() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastCall.IsZero() || time.Since(e.lastCall) > ModelUnloadThreshold {
		return e.config.ColdTimeout
	}
	return e.config.Timeout
}

// doEmbed performs one /api/embed call.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.requestTimeout())
	defer cancel()

	body, err := json.Marshal(OllamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embed returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var embedResp OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()

	vecs := make([][]float32, len(embedResp.Embeddings))
	for i, emb := range embedResp.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimensions
}

// ModelName returns the resolved model identifier.
func (e *OllamaEmbedder) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

// Available checks whether the Ollama host answers within the connect
// timeout.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
