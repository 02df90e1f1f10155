package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/daemon/internal/config"
	"github.com/folder-mcp/daemon/internal/embed"
	"github.com/folder-mcp/daemon/internal/output"
	"github.com/folder-mcp/daemon/internal/vectorindex"
)

// newSearchCmd creates the one-shot search command over a folder's
// persisted index.
func newSearchCmd() *cobra.Command {
	var topK int
	var rebuild bool
	var threshold float32
	var model string

	cmd := &cobra.Command{
		Use:   "search <folder> <query>",
		Short: "Semantic search over a folder's index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := resolveFolderArg(args[0])
			if err != nil {
				return err
			}
			if args[1] == "" {
				return usageErrorf("query must not be empty")
			}
			if topK <= 0 {
				return usageErrorf("-k must be positive, got %d", topK)
			}
			return runSearch(cmd.Context(), folder, args[1], model, topK, threshold, rebuild)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 10, "Number of results to return")
	cmd.Flags().BoolVar(&rebuild, "rebuild-index", false, "Rebuild the index from cached embeddings before searching")
	cmd.Flags().Float32Var(&threshold, "threshold", 0, "Minimum relevance score (0-1)")
	cmd.Flags().StringVar(&model, "model", "", "Embedding model id (default from config)")
	return cmd
}

func runSearch(ctx context.Context, folder, query, model string, topK int, threshold float32, rebuild bool) error {
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

	if rebuild {
		if err := runBuildIndex(ctx, folder); err != nil {
			return err
		}
	}

	index, err := vectorindex.Load(ws.store.VectorsDir(), ws.store, slog.Default())
	if err != nil {
		return errf("load index (try --rebuild-index): %w", err)
	}
	defer func() { _ = index.Close() }()

	pool, _, err := buildPool(ctx, cfg, model, out)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Shutdown(context.Background()) }()

	start := time.Now()
	queryVec, err := pool.Embed(ctx, query, embed.EmbedOptions{Kind: embed.TextKindQuery})
	if err != nil {
		return errf("embed query: %w", err)
	}

	results, err := index.SearchScoped(ctx, queryVec, vectorindex.Scope{FolderPath: folder}, topK, threshold)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		out.Status("🔍", "no results")
		return nil
	}

	for i, r := range results {
		meta, err := ws.store.LoadMetadata(r.OwnerHash)
		path := r.OwnerHash
		snippet := ""
		if err == nil {
			path = meta.RelativePath
			if r.ChunkIndex < len(meta.Chunks) {
				snippet = firstLine(meta.Chunks[r.ChunkIndex].Content)
			}
		}
		fmt.Fprintf(os.Stdout, "%2d. %-40s chunk %-3d score %.3f\n", i+1, path, r.ChunkIndex, r.Score)
		if snippet != "" {
			fmt.Fprintf(os.Stdout, "    %s\n", snippet)
		}
	}
	out.Statusf("⏱", "%d result(s) in %s", len(results), time.Since(start).Round(time.Millisecond))
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
		if i > 120 {
			return s[:i] + "…"
		}
	}
	return s
}
