package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SemanticDB is the structured store (embeddings.db) serving document
// listings and semantic-data queries. It complements the JSON planes: the
// planes are the durable cache, this database is the queryable view.
type SemanticDB struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// DocumentRow is one row of the documents table.
type DocumentRow struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RelativePath string    `json:"relativePath"`
	Hash         string    `json:"hash"`
	Type         string    `json:"type"`
	Size         int64     `json:"size"`
	Modified     time.Time `json:"modified"`
	IndexedAt    time.Time `json:"indexedAt"`
}

// ChunkSemantics is the per-chunk semantic payload.
type ChunkSemantics struct {
	Hash              string   `json:"hash"`
	ChunkIndex        int      `json:"chunkIndex"`
	Content           string   `json:"content"`
	TokenCount        int      `json:"tokenCount"`
	Topics            []string `json:"topics"`
	KeyPhrases        []string `json:"keyPhrases"`
	ReadabilityScore  float64  `json:"readabilityScore"`
	SemanticProcessed bool     `json:"semanticProcessed"`
}

// DocumentQuery shapes a ListDocuments call.
type DocumentQuery struct {
	Limit  int
	Offset int
	Sort   string // name | modified | size | type
	Order  string // asc | desc
	Type   string // optional extension filter
}

// OpenSemanticDB opens (creating and migrating if needed) the database at
// path. An empty path opens an in-memory database for tests.
func OpenSemanticDB(path string) (*SemanticDB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode for concurrent access; busy timeout absorbs lock
		// contention between the daemon and one-shot CLI invocations.
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open semantic database: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SemanticDB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SemanticDB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    relative_path TEXT NOT NULL UNIQUE,
    hash          TEXT NOT NULL,
    type          TEXT NOT NULL,
    size          INTEGER NOT NULL,
    modified      TIMESTAMP NOT NULL,
    indexed_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(hash);

CREATE TABLE IF NOT EXISTS chunks (
    hash               TEXT NOT NULL,
    chunk_index        INTEGER NOT NULL,
    content            TEXT NOT NULL,
    token_count        INTEGER NOT NULL,
    topics             TEXT NOT NULL DEFAULT '[]',
    key_phrases        TEXT NOT NULL DEFAULT '[]',
    readability_score  REAL NOT NULL DEFAULT 0,
    semantic_processed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (hash, chunk_index)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate semantic database: %w", err)
	}
	return nil
}

// UpsertDocument inserts or replaces a document row.
func (s *SemanticDB) UpsertDocument(row DocumentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("semantic database is closed")
	}

	_, err := s.db.Exec(`
INSERT INTO documents (id, name, relative_path, hash, type, size, modified, indexed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(relative_path) DO UPDATE SET
    id = excluded.id,
    name = excluded.name,
    hash = excluded.hash,
    type = excluded.type,
    size = excluded.size,
    modified = excluded.modified,
    indexed_at = excluded.indexed_at`,
		row.ID, row.Name, row.RelativePath, row.Hash, row.Type, row.Size, row.Modified, row.IndexedAt)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", row.RelativePath, err)
	}
	return nil
}

// DeleteDocumentByPath removes a document row and, when no other document
// shares its hash, the chunk rows for that hash.
func (s *SemanticDB) DeleteDocumentByPath(relativePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("semantic database is closed")
	}

	var hash string
	err := s.db.QueryRow(`SELECT hash FROM documents WHERE relative_path = ?`, relativePath).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup document %s: %w", relativePath, err)
	}

	if _, err := s.db.Exec(`DELETE FROM documents WHERE relative_path = ?`, relativePath); err != nil {
		return fmt.Errorf("delete document %s: %w", relativePath, err)
	}

	var remaining int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE hash = ?`, hash).Scan(&remaining); err != nil {
		return fmt.Errorf("count documents for hash %s: %w", hash, err)
	}
	if remaining == 0 {
		if _, err := s.db.Exec(`DELETE FROM chunks WHERE hash = ?`, hash); err != nil {
			return fmt.Errorf("delete chunks for hash %s: %w", hash, err)
		}
	}
	return nil
}

// GetDocument fetches one document row by id.
func (s *SemanticDB) GetDocument(id string) (DocumentRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return DocumentRow{}, false, fmt.Errorf("semantic database is closed")
	}

	row := s.db.QueryRow(`
SELECT id, name, relative_path, hash, type, size, modified, indexed_at
FROM documents WHERE id = ?`, id)

	var d DocumentRow
	err := row.Scan(&d.ID, &d.Name, &d.RelativePath, &d.Hash, &d.Type, &d.Size, &d.Modified, &d.IndexedAt)
	if err == sql.ErrNoRows {
		return DocumentRow{}, false, nil
	}
	if err != nil {
		return DocumentRow{}, false, fmt.Errorf("get document %s: %w", id, err)
	}
	return d, true, nil
}

// GetDocumentByPath fetches one document row by relative path.
func (s *SemanticDB) GetDocumentByPath(relativePath string) (DocumentRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return DocumentRow{}, false, fmt.Errorf("semantic database is closed")
	}

	row := s.db.QueryRow(`
SELECT id, name, relative_path, hash, type, size, modified, indexed_at
FROM documents WHERE relative_path = ?`, relativePath)

	var d DocumentRow
	err := row.Scan(&d.ID, &d.Name, &d.RelativePath, &d.Hash, &d.Type, &d.Size, &d.Modified, &d.IndexedAt)
	if err == sql.ErrNoRows {
		return DocumentRow{}, false, nil
	}
	if err != nil {
		return DocumentRow{}, false, fmt.Errorf("get document by path %s: %w", relativePath, err)
	}
	return d, true, nil
}

// FirstDocumentByHash fetches one document row carrying the given content
// hash (any of them, deterministically by path). Search results resolve
// their owning document through this.
func (s *SemanticDB) FirstDocumentByHash(hash string) (DocumentRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return DocumentRow{}, false, fmt.Errorf("semantic database is closed")
	}

	row := s.db.QueryRow(`
SELECT id, name, relative_path, hash, type, size, modified, indexed_at
FROM documents WHERE hash = ? ORDER BY relative_path LIMIT 1`, hash)

	var d DocumentRow
	err := row.Scan(&d.ID, &d.Name, &d.RelativePath, &d.Hash, &d.Type, &d.Size, &d.Modified, &d.IndexedAt)
	if err == sql.ErrNoRows {
		return DocumentRow{}, false, nil
	}
	if err != nil {
		return DocumentRow{}, false, fmt.Errorf("get document by hash %s: %w", hash, err)
	}
	return d, true, nil
}

// CountDocuments returns the number of documents, optionally filtered by
// type.
func (s *SemanticDB) CountDocuments(typeFilter string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("semantic database is closed")
	}

	query := `SELECT COUNT(*) FROM documents`
	args := []any{}
	if typeFilter != "" {
		query += ` WHERE type = ?`
		args = append(args, typeFilter)
	}
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// CountDocumentsByHash reports how many documents share a content hash,
// used to decide whether removing a document orphans its derived
// artefacts.
func (s *SemanticDB) CountDocumentsByHash(hash string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("semantic database is closed")
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE hash = ?`, hash).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents by hash: %w", err)
	}
	return n, nil
}

// ListDocuments returns a page of documents per the query. Sort columns
// are whitelisted; anything else falls back to name ascending.
func (s *SemanticDB) ListDocuments(q DocumentQuery) ([]DocumentRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("semantic database is closed")
	}

	column := map[string]string{
		"name":     "name",
		"modified": "modified",
		"size":     "size",
		"type":     "type",
	}[q.Sort]
	if column == "" {
		column = "name"
	}
	order := "ASC"
	if strings.EqualFold(q.Order, "desc") {
		order = "DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT id, name, relative_path, hash, type, size, modified, indexed_at
FROM documents`
	args := []any{}
	if q.Type != "" {
		query += ` WHERE type = ?`
		args = append(args, q.Type)
	}
	query += fmt.Sprintf(` ORDER BY %s %s LIMIT ? OFFSET ?`, column, order)
	args = append(args, limit, q.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		var d DocumentRow
		if err := rows.Scan(&d.ID, &d.Name, &d.RelativePath, &d.Hash, &d.Type, &d.Size, &d.Modified, &d.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertChunkSemantics inserts or replaces one chunk's semantic row.
func (s *SemanticDB) UpsertChunkSemantics(c ChunkSemantics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("semantic database is closed")
	}

	topics, err := json.Marshal(emptyIfNil(c.Topics))
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	phrases, err := json.Marshal(emptyIfNil(c.KeyPhrases))
	if err != nil {
		return fmt.Errorf("marshal key phrases: %w", err)
	}

	processed := 0
	if c.SemanticProcessed {
		processed = 1
	}

	_, err = s.db.Exec(`
INSERT OR REPLACE INTO chunks
    (hash, chunk_index, content, token_count, topics, key_phrases, readability_score, semantic_processed)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Hash, c.ChunkIndex, c.Content, c.TokenCount, string(topics), string(phrases), c.ReadabilityScore, processed)
	if err != nil {
		return fmt.Errorf("upsert chunk %s/%d: %w", c.Hash, c.ChunkIndex, err)
	}
	return nil
}

// ChunksForHash returns every chunk row for a content hash, ordered by
// chunk index.
func (s *SemanticDB) ChunksForHash(hash string) ([]ChunkSemantics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("semantic database is closed")
	}

	rows, err := s.db.Query(`
SELECT hash, chunk_index, content, token_count, topics, key_phrases, readability_score, semantic_processed
FROM chunks WHERE hash = ? ORDER BY chunk_index`, hash)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", hash, err)
	}
	defer rows.Close()

	var out []ChunkSemantics
	for rows.Next() {
		var c ChunkSemantics
		var topics, phrases string
		var processed int
		if err := rows.Scan(&c.Hash, &c.ChunkIndex, &c.Content, &c.TokenCount, &topics, &phrases, &c.ReadabilityScore, &processed); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(topics), &c.Topics); err != nil {
			return nil, fmt.Errorf("decode topics: %w", err)
		}
		if err := json.Unmarshal([]byte(phrases), &c.KeyPhrases); err != nil {
			return nil, fmt.Errorf("decode key phrases: %w", err)
		}
		c.SemanticProcessed = processed != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Close closes the database. Idempotent.
func (s *SemanticDB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
