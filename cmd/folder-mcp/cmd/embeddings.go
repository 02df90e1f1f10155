package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/daemon/internal/config"
	"github.com/folder-mcp/daemon/internal/embed"
	"github.com/folder-mcp/daemon/internal/output"
	"github.com/folder-mcp/daemon/internal/store"
	"github.com/folder-mcp/daemon/internal/vectorindex"
)

// newEmbeddingsCmd creates the embeddings command: generate embeddings
// for chunks already cached in the folder's store.
func newEmbeddingsCmd() *cobra.Command {
	var batchSize int
	var force bool
	var model string

	cmd := &cobra.Command{
		Use:   "embeddings <folder>",
		Short: "Generate embeddings for a folder's cached chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := resolveFolderArg(args[0])
			if err != nil {
				return err
			}
			if batchSize != 0 && (batchSize < embed.MinBatchSize || batchSize > embed.MaxBatchSize) {
				return usageErrorf("batch size %d outside [%d, %d]", batchSize, embed.MinBatchSize, embed.MaxBatchSize)
			}
			return runEmbeddings(cmd.Context(), folder, model, batchSize, force)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Texts per embedding request (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-embed chunks that already have embeddings")
	cmd.Flags().StringVar(&model, "model", "", "Embedding model id (default from config)")
	return cmd
}

func runEmbeddings(ctx context.Context, folder, model string, batchSize int, force bool) error {
	out := output.New(os.Stdout)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if batchSize > 0 {
		cfg.Performance.BatchSize = batchSize
	}

	ws, err := openWorkspace(folder)
	if err != nil {
		return err
	}
	defer ws.close()

	hashes, err := ws.store.ListHashes()
	if err != nil {
		return err
	}
	if len(hashes) == 0 {
		out.Warning("no cached chunks; run 'folder-mcp index' first")
		return nil
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

	embedded, skipped := 0, 0
	start := time.Now()

	for _, hash := range hashes {
		meta, err := ws.store.LoadMetadata(hash)
		if err != nil {
			out.Warningf("skipping %s: %v", hash, err)
			continue
		}

		var pending []int
		for _, c := range meta.Chunks {
			if force || !ws.store.HasEmbedding(hash, c.ChunkIndex) {
				pending = append(pending, c.ChunkIndex)
			} else {
				skipped++
			}
		}

		for startIdx := 0; startIdx < len(pending); startIdx += cfg.Performance.BatchSize {
			end := startIdx + cfg.Performance.BatchSize
			if end > len(pending) {
				end = len(pending)
			}
			batch := pending[startIdx:end]

			texts := make([]string, len(batch))
			for i, chunkIdx := range batch {
				texts[i] = meta.Chunks[chunkIdx].Content
			}
			vectors, err := pool.EmbedBatch(ctx, texts, embed.EmbedOptions{Kind: embed.TextKindPassage})
			if err != nil {
				return errf("embed %s: %w", meta.RelativePath, err)
			}

			now := time.Now().UTC()
			for i, chunkIdx := range batch {
				rec := store.EmbeddingRecord{
					Chunk: meta.Chunks[chunkIdx],
					Embedding: store.EmbeddingPayload{
						Vector:     vectors[i],
						Dimensions: len(vectors[i]),
						Model:      spec.ID,
						CreatedAt:  now,
					},
					GeneratedAt:  now,
					Model:        spec.ID,
					ModelBackend: string(spec.Backend),
				}
				if err := ws.store.SaveEmbedding(rec); err != nil {
					return err
				}
				if _, err := index.Add(ctx, vectors[i], vectorindex.EntryMeta{
					OwnerHash:  hash,
					ChunkIndex: chunkIdx,
					FolderPath: folder,
					ModelID:    spec.ID,
				}); err != nil {
					return err
				}
				embedded++
			}
		}
	}

	if embedded > 0 {
		if err := index.Save(ws.store.VectorsDir()); err != nil {
			return err
		}
	}

	out.Successf("embedded %d chunk(s) (%d already cached) in %s",
		embedded, skipped, time.Since(start).Round(time.Millisecond))
	return nil
}
