package vectorindex

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// engineConfig configures the underlying HNSW graph.
type engineConfig struct {
	// Dimensions is the vector dimension D declared by the embedding model.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine, default) or "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer.
	M int

	// EfConstruction is HNSW build-time search width.
	EfConstruction int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

func defaultEngineConfig(dimensions int) engineConfig {
	return engineConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// engineResult is a single nearest-neighbour hit from the graph engine.
type engineResult struct {
	InternalID uint64
	Distance   float32
	Score      float32 // normalised similarity, 0-1
}

// errDimensionMismatch indicates a vector whose length does not match the
// model's declared dimension D.
type errDimensionMismatch struct {
	Expected int
	Got      int
}

func (e errDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// graphEngine wraps github.com/coder/hnsw, the pure-Go HNSW implementation,
// behind an internalID (uint64) addressable API. It has no knowledge of
// chunk/folder/model metadata; Index (in index.go) owns that mapping.
type graphEngine struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config engineConfig

	nextID uint64
	live   map[uint64]bool // internalID -> still present (lazy-deletion marker)

	closed bool
}

type engineMetadata struct {
	NextID uint64
	Live   map[uint64]bool
	Config engineConfig
}

func newGraphEngine(cfg engineConfig) (*graphEngine, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "cos":
		graph.Distance = hnsw.CosineDistance
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &graphEngine{
		graph:  graph,
		config: cfg,
		live:   make(map[uint64]bool),
	}, nil
}

// Add inserts a vector and returns its newly allocated internal id.
func (e *graphEngine) Add(ctx context.Context, vector []float32) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, fmt.Errorf("vector index engine is closed")
	}
	if len(vector) != e.config.Dimensions {
		return 0, errDimensionMismatch{Expected: e.config.Dimensions, Got: len(vector)}
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if e.config.Metric == "cos" {
		normalizeVectorInPlace(vec)
	}

	id := e.nextID
	e.nextID++
	e.graph.Add(hnsw.MakeNode(id, vec))
	e.live[id] = true
	return id, nil
}

// Search returns up to k nearest neighbours of query among live entries.
// It over-fetches from the graph to compensate for lazily-deleted nodes
// that remain physically present.
func (e *graphEngine) Search(ctx context.Context, query []float32, k int) ([]engineResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, fmt.Errorf("vector index engine is closed")
	}
	if len(query) != e.config.Dimensions {
		return nil, errDimensionMismatch{Expected: e.config.Dimensions, Got: len(query)}
	}
	if e.graph.Len() == 0 {
		return nil, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if e.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	// Fetch more than k: some hits will be orphaned (lazily deleted) nodes.
	fetch := k
	if orphans := e.graph.Len() - len(e.live); orphans > 0 {
		fetch = k + orphans
	}
	if fetch > e.graph.Len() {
		fetch = e.graph.Len()
	}

	nodes := e.graph.Search(normalizedQuery, fetch)

	results := make([]engineResult, 0, k)
	for _, node := range nodes {
		if !e.live[node.Key] {
			continue
		}
		distance := e.graph.Distance(normalizedQuery, node.Value)
		score := distanceToScore(distance, e.config.Metric)
		results = append(results, engineResult{InternalID: node.Key, Distance: distance, Score: score})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// Delete marks internal ids as removed using lazy deletion: the coder/hnsw
// graph has a known issue deleting the last remaining node, so removed
// entries stay physically in the graph but are filtered out of Search.
func (e *graphEngine) Delete(ids []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		delete(e.live, id)
	}
}

// Stats reports live vs. orphaned (lazily-deleted) node counts, used by the
// background compactor to decide when a full rebuild is worthwhile.
type Stats struct {
	Live    int
	Orphans int
}

func (e *graphEngine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Live: len(e.live), Orphans: e.graph.Len() - len(e.live)}
}

// Save persists the graph to path using write-temp-then-rename.
func (e *graphEngine) Save(path string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return fmt.Errorf("vector index engine is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := e.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return e.saveMetadata(path + ".meta")
}

func (e *graphEngine) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := engineMetadata{NextID: e.nextID, Live: e.live, Config: e.config}
	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load loads the graph from path, restoring liveness bitmap from the
// sidecar metadata file.
func (e *graphEngine) Load(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("vector index engine is closed")
	}

	if err := e.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := e.graph.Import(reader); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (e *graphEngine) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close engine metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta engineMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode engine metadata: %w", err)
	}
	e.nextID = meta.NextID
	e.live = meta.Live
	e.config = meta.Config
	if e.live == nil {
		e.live = make(map[uint64]bool)
	}
	return nil
}

// Close releases engine resources. Idempotent.
func (e *graphEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.graph = nil
	return nil
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance to the Open Question's chosen
// deterministic, monotonic, [0,1]-clamped normalisation (see DESIGN.md):
// score = (1 + cosineSimilarity) / 2, equivalently 1 - cosineDistance/2.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "cos":
		score := 1.0 - distance/2.0
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		return score
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
