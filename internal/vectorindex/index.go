// Package vectorindex stores (vector, chunk-metadata) tuples and answers
// top-k cosine queries, optionally scoped by folder or model. The index is
// an in-memory HNSW graph with a JSON mapping table; persistence snapshots
// both with write-temp-then-rename so search traffic never blocks on disk.
package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	// BinaryFileName is the vector index binary snapshot under vectors/.
	BinaryFileName = "index.bin"

	// MappingsFileName is the internalId -> lookup tuple table under vectors/.
	MappingsFileName = "mappings.json"
)

// EntryMeta is the lookup tuple stored per indexed vector.
type EntryMeta struct {
	OwnerHash  string `json:"ownerHash"`
	ChunkIndex int    `json:"chunkIndex"`
	FolderPath string `json:"folderPath"`
	ModelID    string `json:"modelId"`
}

// Entry is one vector index entry: an internal id plus its lookup tuple.
type Entry struct {
	InternalID uint64 `json:"internalId"`
	EntryMeta
}

// SearchResult is one hit. Similarity is the raw cosine similarity used by
// ranking-only paths; Score is the client-facing normalisation, clamped to
// [0,1] via score = (1+cos)/2, which is deterministic and monotonic in the
// underlying similarity.
type SearchResult struct {
	Entry
	Score      float32
	Similarity float32
}

// Scope narrows a search to one folder and/or one model.
type Scope struct {
	FolderPath string
	ModelID    string
}

// VectorSource supplies persisted vectors during reconstruction, keyed by
// (ownerHash, chunkIndex). The embedding store implements this.
type VectorSource interface {
	Vector(ownerHash string, chunkIndex int) ([]float32, bool)
}

// Index owns the metadata mapping on top of the HNSW graph engine. Readers
// run concurrently; build/remove serialise through the write lock.
type Index struct {
	mu      sync.RWMutex
	engine  *graphEngine
	entries map[uint64]Entry
	byOwner map[string][]uint64
	dims    int
	logger  *slog.Logger
}

// New creates an empty index for vectors of the given dimension.
func New(dimensions int, logger *slog.Logger) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("vectorindex: dimensions must be positive, got %d", dimensions)
	}
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := newGraphEngine(defaultEngineConfig(dimensions))
	if err != nil {
		return nil, err
	}
	return &Index{
		engine:  engine,
		entries: make(map[uint64]Entry),
		byOwner: make(map[string][]uint64),
		dims:    dimensions,
		logger:  logger,
	}, nil
}

// Dimensions returns the vector dimension D the index was built for.
func (ix *Index) Dimensions() int { return ix.dims }

// Len reports the number of live entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Add inserts one vector with its lookup tuple.
func (ix *Index) Add(ctx context.Context, vector []float32, meta EntryMeta) (uint64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.addLocked(ctx, vector, meta)
}

func (ix *Index) addLocked(ctx context.Context, vector []float32, meta EntryMeta) (uint64, error) {
	id, err := ix.engine.Add(ctx, vector)
	if err != nil {
		return 0, err
	}
	entry := Entry{InternalID: id, EntryMeta: meta}
	ix.entries[id] = entry
	ix.byOwner[meta.OwnerHash] = append(ix.byOwner[meta.OwnerHash], id)
	return id, nil
}

// Build bulk-inserts embeddings with their metadata. Counts must match.
func (ix *Index) Build(ctx context.Context, embeddings [][]float32, metas []EntryMeta) error {
	if len(embeddings) != len(metas) {
		return fmt.Errorf("vectorindex: %d embeddings but %d metadata entries", len(embeddings), len(metas))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i, vec := range embeddings {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := ix.addLocked(ctx, vec, metas[i]); err != nil {
			return fmt.Errorf("vectorindex: add entry %d: %w", i, err)
		}
	}
	return nil
}

// Search returns up to topK hits with normalised score >= threshold.
func (ix *Index) Search(ctx context.Context, query []float32, topK int, threshold float32) ([]SearchResult, error) {
	return ix.SearchScoped(ctx, query, Scope{}, topK, threshold)
}

// SearchScoped restricts hits to the scope's folder and/or model. The
// engine is over-queried to compensate for scope filtering.
func (ix *Index) SearchScoped(ctx context.Context, query []float32, scope Scope, limit int, threshold float32) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	fetch := limit
	if scope.FolderPath != "" || scope.ModelID != "" {
		// Scoped searches discard out-of-scope hits, so fetch generously.
		fetch = limit * 4
		if total := len(ix.entries); fetch > total {
			fetch = total
		}
	}

	hits, err := ix.engine.Search(ctx, query, fetch)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, limit)
	for _, hit := range hits {
		entry, ok := ix.entries[hit.InternalID]
		if !ok {
			continue
		}
		if scope.FolderPath != "" && entry.FolderPath != scope.FolderPath {
			continue
		}
		if scope.ModelID != "" && entry.ModelID != scope.ModelID {
			continue
		}
		if hit.Score < threshold {
			continue
		}
		results = append(results, SearchResult{
			Entry:      entry,
			Score:      hit.Score,
			Similarity: 1 - hit.Distance,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// RemoveOwner evicts every entry for the given content hash. Returns the
// number of entries removed.
func (ix *Index) RemoveOwner(ownerHash string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ids := ix.byOwner[ownerHash]
	if len(ids) == 0 {
		return 0
	}
	ix.engine.Delete(ids)
	for _, id := range ids {
		delete(ix.entries, id)
	}
	delete(ix.byOwner, ownerHash)
	return len(ids)
}

// RemoveFolder evicts every entry whose FolderPath matches. Returns the
// number of entries removed.
func (ix *Index) RemoveFolder(folderPath string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var ids []uint64
	for id, entry := range ix.entries {
		if entry.FolderPath == folderPath {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0
	}
	ix.engine.Delete(ids)
	for _, id := range ids {
		entry := ix.entries[id]
		delete(ix.entries, id)
		ix.byOwner[entry.OwnerHash] = removeID(ix.byOwner[entry.OwnerHash], id)
		if len(ix.byOwner[entry.OwnerHash]) == 0 {
			delete(ix.byOwner, entry.OwnerHash)
		}
	}
	return len(ids)
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, cur := range ids {
		if cur == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// OrphanStats reports live vs. lazily-deleted node counts, used by the
// background compactor.
func (ix *Index) OrphanStats() Stats {
	return ix.engine.Stats()
}

// mappingsFile is the persisted JSON mapping table.
type mappingsFile struct {
	Dimensions int     `json:"dimensions"`
	Entries    []Entry `json:"entries"`
}

// Save snapshots the index under dir: dir/index.bin (binary graph) and
// dir/mappings.json (lookup table). Both writes are atomic; searches keep
// running against the in-memory structure while a snapshot is taken.
func (ix *Index) Save(dir string) error {
	ix.mu.RLock()
	entries := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		entries = append(entries, e)
	}
	ix.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].InternalID < entries[j].InternalID })

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create vectors directory: %w", err)
	}

	if err := ix.engine.Save(filepath.Join(dir, BinaryFileName)); err != nil {
		return fmt.Errorf("save index binary: %w", err)
	}

	return writeMappings(filepath.Join(dir, MappingsFileName), mappingsFile{
		Dimensions: ix.dims,
		Entries:    entries,
	})
}

func writeMappings(path string, m mappingsFile) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mappings: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write mappings temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename mappings file: %w", err)
	}
	return nil
}

// Load restores an index from dir. When the binary snapshot is missing but
// the mapping table exists and source can supply vectors, the index is
// reconstructed and the binary re-emitted atomically. The invariant that
// mapping length equals vector count is checked on every load.
func Load(dir string, source VectorSource, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mappingsPath := filepath.Join(dir, MappingsFileName)
	data, err := os.ReadFile(mappingsPath)
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}
	var m mappingsFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode mappings: %w", err)
	}

	binaryPath := filepath.Join(dir, BinaryFileName)
	if _, err := os.Stat(binaryPath); err == nil {
		return loadFromBinary(binaryPath, m, logger)
	}

	if source == nil {
		return nil, fmt.Errorf("index binary missing at %s and no vector source to rebuild from", binaryPath)
	}
	logger.Warn("index binary missing; reconstructing from mappings and vector snapshot",
		slog.String("dir", dir))
	return rebuildFromSource(dir, m, source, logger)
}

func loadFromBinary(binaryPath string, m mappingsFile, logger *slog.Logger) (*Index, error) {
	ix, err := New(m.Dimensions, logger)
	if err != nil {
		return nil, err
	}
	if err := ix.engine.Load(binaryPath); err != nil {
		return nil, fmt.Errorf("load index binary: %w", err)
	}

	stats := ix.engine.Stats()
	if stats.Live != len(m.Entries) {
		return nil, fmt.Errorf("index corrupt: mapping has %d entries but binary has %d live vectors",
			len(m.Entries), stats.Live)
	}

	for _, e := range m.Entries {
		ix.entries[e.InternalID] = e
		ix.byOwner[e.OwnerHash] = append(ix.byOwner[e.OwnerHash], e.InternalID)
	}
	return ix, nil
}

// rebuildFromSource re-adds every mapped vector into a fresh graph. The
// internal ids are reallocated, so the mapping table is rewritten together
// with the new binary.
func rebuildFromSource(dir string, m mappingsFile, source VectorSource, logger *slog.Logger) (*Index, error) {
	ix, err := New(m.Dimensions, logger)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	for _, e := range m.Entries {
		vec, ok := source.Vector(e.OwnerHash, e.ChunkIndex)
		if !ok {
			return nil, fmt.Errorf("rebuild: vector for %s chunk %d missing from snapshot", e.OwnerHash, e.ChunkIndex)
		}
		if _, err := ix.Add(ctx, vec, e.EntryMeta); err != nil {
			return nil, fmt.Errorf("rebuild: %w", err)
		}
	}

	if ix.Len() != len(m.Entries) {
		return nil, fmt.Errorf("rebuild: expected %d entries, got %d", len(m.Entries), ix.Len())
	}

	if err := ix.Save(dir); err != nil {
		return nil, fmt.Errorf("rebuild: re-emit snapshot: %w", err)
	}
	return ix, nil
}

// Compact rebuilds the graph without its lazily-deleted orphans. Search
// stays available against the old graph until the swap.
func (ix *Index) Compact(ctx context.Context) error {
	ix.mu.RLock()
	type pair struct {
		meta EntryMeta
		vec  []float32
	}
	// Orphans are already invisible to Search; the rebuild only carries
	// live entries, reclaiming graph memory.
	live := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		live = append(live, e)
	}
	dims := ix.dims
	oldEngine := ix.engine
	ix.mu.RUnlock()

	sort.Slice(live, func(i, j int) bool { return live[i].InternalID < live[j].InternalID })

	fresh, err := newGraphEngine(defaultEngineConfig(dims))
	if err != nil {
		return err
	}

	pairs := make([]pair, 0, len(live))
	oldEngine.mu.RLock()
	for _, e := range live {
		node, ok := oldEngine.graph.Lookup(e.InternalID)
		if !ok {
			oldEngine.mu.RUnlock()
			return fmt.Errorf("compact: live entry %d missing from graph", e.InternalID)
		}
		vec := make([]float32, len(node))
		copy(vec, node)
		pairs = append(pairs, pair{meta: e.EntryMeta, vec: vec})
	}
	oldEngine.mu.RUnlock()

	newEntries := make(map[uint64]Entry, len(pairs))
	newByOwner := make(map[string][]uint64)
	for _, p := range pairs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		id, err := fresh.Add(ctx, p.vec)
		if err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		entry := Entry{InternalID: id, EntryMeta: p.meta}
		newEntries[id] = entry
		newByOwner[p.meta.OwnerHash] = append(newByOwner[p.meta.OwnerHash], id)
	}

	ix.mu.Lock()
	old := ix.engine
	ix.engine = fresh
	ix.entries = newEntries
	ix.byOwner = newByOwner
	ix.mu.Unlock()

	return old.Close()
}

// Close releases the underlying graph.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.engine.Close()
}
