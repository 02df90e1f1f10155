// Package store is the durable, content-addressed cache for parsed
// documents: chunk metadata and embeddings keyed by content hash, plus the
// structured semantic database (embeddings.db). Everything lives under a
// hidden per-folder directory and is written atomically, so concurrent
// writes to distinct hashes never conflict.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/folder-mcp/daemon/internal/chunk"
)

// CacheDirName is the hidden per-folder cache directory.
const CacheDirName = ".folder-mcp"

// Plane subdirectories under the cache directory.
const (
	metadataDirName   = "metadata"
	embeddingsDirName = "embeddings"
	vectorsDirName    = "vectors"

	// SemanticDBName is the structured store for semantic-data queries.
	SemanticDBName = "embeddings.db"

	// fingerprintsFileName records the last-seen fingerprint per relative
	// path, used by the scan phase's folder<->store comparison sweeps.
	fingerprintsFileName = "fingerprints.json"
)

// ChunkingStats summarises one file's chunking outcome.
type ChunkingStats struct {
	TotalChunks int `json:"totalChunks"`
	TotalTokens int `json:"totalTokens"`
	MaxTokens   int `json:"maxTokens"`
	MinTokens   int `json:"minTokens"`
}

// FileMetadata is the metadata-plane record (metadata/{hash}.json): the
// chunk list, the original parsed content and chunking stats.
type FileMetadata struct {
	Hash          string            `json:"hash"`
	RelativePath  string            `json:"relativePath"`
	ContentType   chunk.ContentType `json:"contentType"`
	ParsedContent string            `json:"parsedContent"`
	Chunks        []chunk.DocChunk  `json:"chunks"`
	Stats         ChunkingStats     `json:"stats"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// EmbeddingPayload is the vector portion of an embedding-plane record.
type EmbeddingPayload struct {
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EmbeddingRecord is the embedding-plane record
// (embeddings/{hash}_chunk_{index}.json).
type EmbeddingRecord struct {
	Chunk        chunk.DocChunk   `json:"chunk"`
	Embedding    EmbeddingPayload `json:"embedding"`
	GeneratedAt  time.Time        `json:"generatedAt"`
	Model        string           `json:"model"`
	ModelBackend string           `json:"modelBackend"`
}

// StoredFingerprint is one entry of the fingerprints file.
type StoredFingerprint struct {
	RelativePath string    `json:"relativePath"`
	ContentHash  string    `json:"contentHash"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"modTime"`
}

// DocumentIDFromPath derives a document id from a relative path. The
// normalisation (forward slashes, then a truncated content hash of the
// normalised form) is stable across platforms.
func DocumentIDFromPath(relativePath string) string {
	normalised := filepath.ToSlash(relativePath)
	sum := sha256.Sum256([]byte(normalised))
	return hex.EncodeToString(sum[:])[:16]
}
