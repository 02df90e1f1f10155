package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/daemon/internal/output"
	"github.com/folder-mcp/daemon/internal/vectorindex"
)

// newBuildIndexCmd creates the build-index command: rebuild the vector
// index snapshot from the embedding store.
func newBuildIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-index <folder>",
		Short: "Rebuild a folder's vector index from cached embeddings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := resolveFolderArg(args[0])
			if err != nil {
				return err
			}
			return runBuildIndex(cmd.Context(), folder)
		},
	}
	return cmd
}

func runBuildIndex(ctx context.Context, folder string) error {
	out := output.New(os.Stdout)

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
		return errf("no cached content; run 'folder-mcp index %s' first", folder)
	}

	start := time.Now()
	var index *vectorindex.Index
	added, missing := 0, 0

	for _, hash := range hashes {
		meta, err := ws.store.LoadMetadata(hash)
		if err != nil {
			out.Warningf("skipping %s: %v", hash, err)
			continue
		}
		for _, c := range meta.Chunks {
			rec, err := ws.store.LoadEmbedding(hash, c.ChunkIndex)
			if err != nil {
				missing++
				continue
			}
			if index == nil {
				index, err = vectorindex.New(len(rec.Embedding.Vector), slog.Default())
				if err != nil {
					return err
				}
				defer func() { _ = index.Close() }()
			}
			if _, err := index.Add(ctx, rec.Embedding.Vector, vectorindex.EntryMeta{
				OwnerHash:  hash,
				ChunkIndex: c.ChunkIndex,
				FolderPath: folder,
				ModelID:    rec.Model,
			}); err != nil {
				return err
			}
			added++
		}
	}

	if index == nil {
		return errf("no embeddings found; run 'folder-mcp embeddings %s' first", folder)
	}
	if err := index.Save(ws.store.VectorsDir()); err != nil {
		return err
	}

	out.Successf("rebuilt index with %d vector(s) (%d chunk(s) without embeddings) in %s",
		added, missing, time.Since(start).Round(time.Millisecond))
	return nil
}
