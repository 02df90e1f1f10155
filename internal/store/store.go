package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FolderStore is one folder's content-addressed cache. Methods are safe
// for concurrent use across distinct hashes; per-entry writes are atomic
// (temp file + rename).
type FolderStore struct {
	folderPath string
	root       string
}

// NewFolderStore opens (creating if needed) the cache under
// folderPath/.folder-mcp.
func NewFolderStore(folderPath string) (*FolderStore, error) {
	root := filepath.Join(folderPath, CacheDirName)
	for _, dir := range []string{root, filepath.Join(root, metadataDirName), filepath.Join(root, embeddingsDirName), filepath.Join(root, vectorsDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
		}
	}
	return &FolderStore{folderPath: folderPath, root: root}, nil
}

// FolderPath returns the folder this store caches.
func (s *FolderStore) FolderPath() string { return s.folderPath }

// Root returns the hidden cache directory.
func (s *FolderStore) Root() string { return s.root }

// VectorsDir returns the directory the vector index snapshots into.
func (s *FolderStore) VectorsDir() string { return filepath.Join(s.root, vectorsDirName) }

// SemanticDBPath returns the path of the structured semantic store.
func (s *FolderStore) SemanticDBPath() string { return filepath.Join(s.root, SemanticDBName) }

func (s *FolderStore) metadataPath(hash string) string {
	return filepath.Join(s.root, metadataDirName, hash+".json")
}

func (s *FolderStore) embeddingPath(hash string, chunkIndex int) string {
	return filepath.Join(s.root, embeddingsDirName, fmt.Sprintf("%s_chunk_%d.json", hash, chunkIndex))
}

// writeJSONAtomic marshals v and writes it with temp-file-then-rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SaveMetadata persists one file's chunk list and parsed content.
func (s *FolderStore) SaveMetadata(meta FileMetadata) error {
	if meta.Hash == "" {
		return fmt.Errorf("store: metadata with empty hash")
	}
	return writeJSONAtomic(s.metadataPath(meta.Hash), meta)
}

// LoadMetadata reads the metadata record for hash.
func (s *FolderStore) LoadMetadata(hash string) (FileMetadata, error) {
	var meta FileMetadata
	if err := readJSON(s.metadataPath(hash), &meta); err != nil {
		return FileMetadata{}, fmt.Errorf("store: load metadata %s: %w", hash, err)
	}
	return meta, nil
}

// HasMetadata reports whether a metadata record exists for hash.
func (s *FolderStore) HasMetadata(hash string) bool {
	_, err := os.Stat(s.metadataPath(hash))
	return err == nil
}

// SaveEmbedding persists one chunk's embedding record.
func (s *FolderStore) SaveEmbedding(rec EmbeddingRecord) error {
	if rec.Chunk.OwnerHash == "" {
		return fmt.Errorf("store: embedding with empty owner hash")
	}
	if rec.Embedding.Dimensions != len(rec.Embedding.Vector) {
		return fmt.Errorf("store: embedding for %s chunk %d declares %d dimensions but has %d",
			rec.Chunk.OwnerHash, rec.Chunk.ChunkIndex, rec.Embedding.Dimensions, len(rec.Embedding.Vector))
	}
	return writeJSONAtomic(s.embeddingPath(rec.Chunk.OwnerHash, rec.Chunk.ChunkIndex), rec)
}

// LoadEmbedding reads the embedding record for (hash, chunkIndex).
func (s *FolderStore) LoadEmbedding(hash string, chunkIndex int) (EmbeddingRecord, error) {
	var rec EmbeddingRecord
	if err := readJSON(s.embeddingPath(hash, chunkIndex), &rec); err != nil {
		return EmbeddingRecord{}, fmt.Errorf("store: load embedding %s chunk %d: %w", hash, chunkIndex, err)
	}
	return rec, nil
}

// HasEmbedding reports whether an embedding exists for (hash, chunkIndex).
func (s *FolderStore) HasEmbedding(hash string, chunkIndex int) bool {
	_, err := os.Stat(s.embeddingPath(hash, chunkIndex))
	return err == nil
}

// Vector returns the raw vector for (hash, chunkIndex). Implements the
// vector index's rebuild source.
func (s *FolderStore) Vector(ownerHash string, chunkIndex int) ([]float32, bool) {
	rec, err := s.LoadEmbedding(ownerHash, chunkIndex)
	if err != nil {
		return nil, false
	}
	return rec.Embedding.Vector, true
}

// IsIndexed reports whether hash has metadata and a complete embedding set
// (one embedding per chunk).
func (s *FolderStore) IsIndexed(hash string) bool {
	meta, err := s.LoadMetadata(hash)
	if err != nil {
		return false
	}
	for _, c := range meta.Chunks {
		if !s.HasEmbedding(hash, c.ChunkIndex) {
			return false
		}
	}
	return true
}

// RemoveFile deletes the metadata record and every embedding for hash.
// Missing entries are not an error; removal is idempotent.
func (s *FolderStore) RemoveFile(hash string) error {
	meta, err := s.LoadMetadata(hash)
	if err == nil {
		for _, c := range meta.Chunks {
			if rmErr := os.Remove(s.embeddingPath(hash, c.ChunkIndex)); rmErr != nil && !os.IsNotExist(rmErr) {
				return fmt.Errorf("store: remove embedding %s chunk %d: %w", hash, c.ChunkIndex, rmErr)
			}
		}
	} else {
		// No metadata: sweep the embeddings plane for stragglers.
		entries, globErr := filepath.Glob(filepath.Join(s.root, embeddingsDirName, hash+"_chunk_*.json"))
		if globErr == nil {
			for _, path := range entries {
				_ = os.Remove(path)
			}
		}
	}
	if rmErr := os.Remove(s.metadataPath(hash)); rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("store: remove metadata %s: %w", hash, rmErr)
	}
	return nil
}

// ListHashes returns every content hash with a metadata record, sorted.
func (s *FolderStore) ListHashes() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, metadataDirName))
	if err != nil {
		return nil, fmt.Errorf("store: list metadata: %w", err)
	}
	hashes := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		hashes = append(hashes, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(hashes)
	return hashes, nil
}

// SaveFingerprints persists the last-seen fingerprint set, keyed by
// relative path.
func (s *FolderStore) SaveFingerprints(fps map[string]StoredFingerprint) error {
	return writeJSONAtomic(filepath.Join(s.root, fingerprintsFileName), fps)
}

// LoadFingerprints reads the last-seen fingerprint set. A missing file
// yields an empty map (first scan).
func (s *FolderStore) LoadFingerprints() (map[string]StoredFingerprint, error) {
	fps := make(map[string]StoredFingerprint)
	err := readJSON(filepath.Join(s.root, fingerprintsFileName), &fps)
	if os.IsNotExist(err) {
		return fps, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load fingerprints: %w", err)
	}
	return fps, nil
}

// Purge removes the entire cache directory. Used on folder removal.
func (s *FolderStore) Purge() error {
	return os.RemoveAll(s.root)
}
