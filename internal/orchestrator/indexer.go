package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/folder-mcp/daemon/internal/chunk"
	"github.com/folder-mcp/daemon/internal/embed"
	"github.com/folder-mcp/daemon/internal/enrichment"
	"github.com/folder-mcp/daemon/internal/store"
	"github.com/folder-mcp/daemon/internal/vectorindex"
)

// ParserRegistry maps content types to parsers. Formats without a
// registered parser are skipped with a warning; the plain-text parser
// covers text and markdown out of the box.
type ParserRegistry map[chunk.ContentType]chunk.Parser

// DefaultParsers returns the built-in registry. PDF/DOCX/XLSX/PPTX
// parsers are external collaborators; plug them in here when available.
func DefaultParsers() ParserRegistry {
	plain := chunk.PlainTextParser{}
	return ParserRegistry{
		chunk.ContentTypeText:     plain,
		chunk.ContentTypeMarkdown: plain,
	}
}

// Indexer is one folder's task pipeline: parse -> chunk -> embed ->
// persist chunk + embedding -> add to vector index -> enrich. It
// implements the lifecycle manager's Pipeline contract.
type Indexer struct {
	folderPath string
	modelID    string
	backend    embed.ModelBackend

	store   *store.FolderStore
	db      *store.SemanticDB
	index   *vectorindex.Index
	pool    *embed.Pool
	chunker *chunk.FormatChunker
	parsers ParserRegistry
	enrich  enrichment.ExtractionConfig
	logger  *slog.Logger
}

// IndexerConfig wires one folder's indexer.
type IndexerConfig struct {
	FolderPath string
	ModelID    string
	Backend    embed.ModelBackend
	Store      *store.FolderStore
	DB         *store.SemanticDB
	Index      *vectorindex.Index
	Pool       *embed.Pool
	Parsers    ParserRegistry
	MaxTokens  int
	Enrich     enrichment.ExtractionConfig
	Logger     *slog.Logger
}

func NewIndexer(cfg IndexerConfig) *Indexer {
	if cfg.Parsers == nil {
		cfg.Parsers = DefaultParsers()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Indexer{
		folderPath: cfg.FolderPath,
		modelID:    cfg.ModelID,
		backend:    cfg.Backend,
		store:      cfg.Store,
		db:         cfg.DB,
		index:      cfg.Index,
		pool:       cfg.Pool,
		chunker:    chunk.NewFormatChunker(chunk.FormatChunkerOptions{MaxTokens: cfg.MaxTokens}),
		parsers:    cfg.Parsers,
		enrich:     cfg.Enrich,
		logger:     cfg.Logger.With(slog.String("folder", cfg.FolderPath)),
	}
}

// ProcessFile handles a Create or Update task end to end. Two files with
// identical content share a hash and therefore all derived artefacts; a
// content change garbage-collects the previous hash's artefacts once no
// other document references them.
func (ix *Indexer) ProcessFile(ctx context.Context, absPath, relPath, hash string) error {
	contentType := chunk.DetectContentType(filepath.Ext(relPath))
	parser, ok := ix.parsers[contentType]
	if !ok {
		ix.logger.Warn("no parser for content type; skipping file",
			slog.String("path", relPath), slog.String("type", string(contentType)))
		return nil
	}

	parsed, err := parser.Parse(ctx, absPath)
	if err != nil {
		return fmt.Errorf("parse %s: %w", relPath, err)
	}
	parsed.Type = contentType

	// Identify the previous content under this path for GC after reindex.
	prevRow, hadPrev, err := ix.db.GetDocumentByPath(relPath)
	if err != nil {
		return err
	}

	if err := ix.indexContent(ctx, absPath, relPath, hash, parsed); err != nil {
		return err
	}

	if hadPrev && prevRow.Hash != hash {
		ix.collectGarbage(prevRow.Hash)
	}
	return nil
}

func (ix *Indexer) indexContent(ctx context.Context, absPath, relPath, hash string, parsed *chunk.ParsedContent) error {
	// Reuse the cache when this exact content is already fully indexed
	// (a duplicate file, or a resumed run).
	if ix.store.IsIndexed(hash) {
		return ix.registerDocument(absPath, relPath, hash, parsed)
	}

	chunks, err := ix.chunker.ChunkDocument(hash, parsed)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", relPath, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = ix.embedAll(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %s: %w", relPath, err)
		}
	}

	stats := chunkingStats(chunks)
	meta := store.FileMetadata{
		Hash:          hash,
		RelativePath:  relPath,
		ContentType:   parsed.Type,
		ParsedContent: parsed.Text,
		Chunks:        chunks,
		Stats:         stats,
		CreatedAt:     time.Now().UTC(),
	}
	if err := ix.store.SaveMetadata(meta); err != nil {
		return err
	}

	now := time.Now().UTC()
	for i, c := range chunks {
		rec := store.EmbeddingRecord{
			Chunk: c,
			Embedding: store.EmbeddingPayload{
				Vector:     vectors[i],
				Dimensions: len(vectors[i]),
				Model:      ix.modelID,
				CreatedAt:  now,
			},
			GeneratedAt:  now,
			Model:        ix.modelID,
			ModelBackend: string(ix.backend),
		}
		if err := ix.store.SaveEmbedding(rec); err != nil {
			return err
		}
		if _, err := ix.index.Add(ctx, vectors[i], vectorindex.EntryMeta{
			OwnerHash:  hash,
			ChunkIndex: c.ChunkIndex,
			FolderPath: ix.folderPath,
			ModelID:    ix.modelID,
		}); err != nil {
			return err
		}
	}

	if err := ix.enrichChunks(ctx, hash, chunks, vectors); err != nil {
		// Enrichment is best-effort: log, keep the index consistent.
		ix.logger.Warn("semantic enrichment failed",
			slog.String("path", relPath), slog.String("error", err.Error()))
	}

	return ix.registerDocument(absPath, relPath, hash, parsed)
}

// embedAll batches texts through the pool respecting its batch cap.
func (ix *Indexer) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := embed.DefaultBatchSize
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := ix.pool.EmbedBatch(ctx, texts[start:end], embed.EmbedOptions{Kind: embed.TextKindPassage})
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// enrichChunks computes key phrases and readability per chunk and writes
// the semantic rows. The candidate-scoring cache is cleared per document.
func (ix *Indexer) enrichChunks(ctx context.Context, hash string, chunks []chunk.DocChunk, vectors [][]float32) error {
	defer ix.pool.ClearScoringCache()

	for i := range chunks {
		var docVector []float32
		if i < len(vectors) {
			docVector = vectors[i]
		}
		phrases, err := enrichment.Extract(ctx, chunks[i].Content, docVector, ix.pool, ix.enrich)
		if err != nil {
			return err
		}
		sem := store.ChunkSemantics{
			Hash:              hash,
			ChunkIndex:        chunks[i].ChunkIndex,
			Content:           chunks[i].Content,
			TokenCount:        chunks[i].TokenCount,
			KeyPhrases:        phrases.Phrases,
			Topics:            []string{},
			ReadabilityScore:  float64(enrichment.Readability(chunks[i].Content)),
			SemanticProcessed: true,
		}
		if err := ix.db.UpsertChunkSemantics(sem); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) registerDocument(absPath, relPath, hash string, parsed *chunk.ParsedContent) error {
	size := int64(len(parsed.Text))
	modified := time.Now().UTC()
	if info, err := statFile(absPath); err == nil {
		size = info.Size
		modified = info.ModTime
	}

	return ix.db.UpsertDocument(store.DocumentRow{
		ID:           store.DocumentIDFromPath(relPath),
		Name:         filepath.Base(relPath),
		RelativePath: relPath,
		Hash:         hash,
		Type:         documentType(relPath),
		Size:         size,
		Modified:     modified,
		IndexedAt:    time.Now().UTC(),
	})
}

// RemoveFile evicts a removed document: its row, and - once no other
// document shares the hash - its store entries and vector index entries.
func (ix *Indexer) RemoveFile(ctx context.Context, relPath, hash string) error {
	if hash == "" {
		if row, ok, err := ix.db.GetDocumentByPath(relPath); err != nil {
			return err
		} else if ok {
			hash = row.Hash
		}
	}

	if err := ix.db.DeleteDocumentByPath(relPath); err != nil {
		return err
	}
	if hash != "" {
		ix.collectGarbage(hash)
	}
	return nil
}

// collectGarbage drops a hash's derived artefacts when no remaining
// document references it.
func (ix *Indexer) collectGarbage(hash string) {
	remaining, err := ix.db.CountDocumentsByHash(hash)
	if err != nil {
		ix.logger.Warn("garbage collection skipped",
			slog.String("hash", hash), slog.String("error", err.Error()))
		return
	}
	if remaining > 0 {
		return
	}
	ix.index.RemoveOwner(hash)
	if err := ix.store.RemoveFile(hash); err != nil {
		ix.logger.Warn("failed to remove cached artefacts",
			slog.String("hash", hash), slog.String("error", err.Error()))
	}
}

func chunkingStats(chunks []chunk.DocChunk) store.ChunkingStats {
	stats := store.ChunkingStats{TotalChunks: len(chunks)}
	for i, c := range chunks {
		stats.TotalTokens += c.TokenCount
		if i == 0 || c.TokenCount > stats.MaxTokens {
			stats.MaxTokens = c.TokenCount
		}
		if i == 0 || c.TokenCount < stats.MinTokens {
			stats.MinTokens = c.TokenCount
		}
	}
	return stats
}

func documentType(relPath string) string {
	ext := filepath.Ext(relPath)
	if ext == "" {
		return "txt"
	}
	return ext[1:]
}
