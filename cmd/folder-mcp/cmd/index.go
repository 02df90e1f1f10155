package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/daemon/internal/chunk"
	"github.com/folder-mcp/daemon/internal/config"
	"github.com/folder-mcp/daemon/internal/fingerprint"
	"github.com/folder-mcp/daemon/internal/orchestrator"
	"github.com/folder-mcp/daemon/internal/output"
	"github.com/folder-mcp/daemon/internal/store"
	"github.com/folder-mcp/daemon/internal/vectorindex"
)

// newIndexCmd creates the one-shot index command: scan, chunk and embed a
// folder without a running daemon.
func newIndexCmd() *cobra.Command {
	var skipEmbeddings bool
	var model string

	cmd := &cobra.Command{
		Use:   "index <folder>",
		Short: "Index a folder's documents into the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := resolveFolderArg(args[0])
			if err != nil {
				return err
			}
			return runIndex(cmd.Context(), folder, model, skipEmbeddings)
		},
	}

	cmd.Flags().BoolVar(&skipEmbeddings, "skip-embeddings", false, "Parse and chunk only; skip embedding generation")
	cmd.Flags().StringVar(&model, "model", "", "Embedding model id (default from config)")
	return cmd
}

func runIndex(ctx context.Context, folder, model string, skipEmbeddings bool) error {
	out := output.New(os.Stdout)
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ws, err := openWorkspace(folder)
	if err != nil {
		return err
	}
	defer ws.close()

	paths, err := walkFolderFiles(ctx, folder)
	if err != nil {
		return errf("scan folder: %w", err)
	}
	out.Statusf("📁", "indexing %d file(s) in %s", len(paths), folder)

	if skipEmbeddings {
		return runChunkOnly(ctx, ws, paths, out)
	}

	pool, spec, err := buildPool(ctx, cfg, model, out)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Shutdown(context.Background()) }()

	index, err := vectorindex.New(pool.Dimensions(), slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	indexer := orchestrator.NewIndexer(orchestrator.IndexerConfig{
		FolderPath: folder,
		ModelID:    spec.ID,
		Backend:    spec.Backend,
		Store:      ws.store,
		DB:         ws.db,
		Index:      index,
		Pool:       pool,
	})

	fingerprints := make(map[string]store.StoredFingerprint, len(paths))
	processed, failed := 0, 0
	start := time.Now()

	for _, absPath := range paths {
		fp, err := fingerprint.Of(folder, absPath)
		if err != nil {
			failed++
			continue
		}
		if err := indexer.ProcessFile(ctx, absPath, fp.RelativePath, fp.ContentHash); err != nil {
			out.Warningf("failed to index %s: %v", fp.RelativePath, err)
			failed++
			continue
		}
		fingerprints[fp.RelativePath] = store.StoredFingerprint{
			RelativePath: fp.RelativePath,
			ContentHash:  fp.ContentHash,
			Size:         fp.Size,
			ModTime:      fp.ModTime,
		}
		processed++
	}

	if err := ws.store.SaveFingerprints(fingerprints); err != nil {
		return err
	}
	if err := index.Save(ws.store.VectorsDir()); err != nil {
		return err
	}

	out.Successf("indexed %d file(s), %d failed, %d vector(s) in %s",
		processed, failed, index.Len(), time.Since(start).Round(time.Millisecond))
	if failed > 0 && processed == 0 {
		return errf("indexing failed for all %d file(s)", failed)
	}
	return nil
}

// runChunkOnly persists parsed content and chunk metadata without
// embeddings; `folder-mcp embeddings` completes the job later.
func runChunkOnly(ctx context.Context, ws *folderWorkspace, paths []string, out *output.Writer) error {
	chunker := chunk.NewFormatChunker(chunk.FormatChunkerOptions{})
	parser := chunk.PlainTextParser{}
	processed := 0

	for _, absPath := range paths {
		fp, err := fingerprint.Of(ws.folder, absPath)
		if err != nil {
			continue
		}
		contentType := chunk.DetectContentType(filepath.Ext(absPath))
		if contentType != chunk.ContentTypeText && contentType != chunk.ContentTypeMarkdown {
			continue
		}
		parsed, err := parser.Parse(ctx, absPath)
		if err != nil {
			out.Warningf("failed to parse %s: %v", fp.RelativePath, err)
			continue
		}
		parsed.Type = contentType

		chunks, err := chunker.ChunkDocument(fp.ContentHash, parsed)
		if err != nil {
			out.Warningf("failed to chunk %s: %v", fp.RelativePath, err)
			continue
		}

		meta := store.FileMetadata{
			Hash:          fp.ContentHash,
			RelativePath:  fp.RelativePath,
			ContentType:   contentType,
			ParsedContent: parsed.Text,
			Chunks:        chunks,
			CreatedAt:     time.Now().UTC(),
		}
		meta.Stats.TotalChunks = len(chunks)
		for _, c := range chunks {
			meta.Stats.TotalTokens += c.TokenCount
		}
		if err := ws.store.SaveMetadata(meta); err != nil {
			return err
		}
		processed++
	}

	out.Successf("chunked %d file(s); run 'folder-mcp embeddings %s' to embed them", processed, ws.folder)
	return nil
}
