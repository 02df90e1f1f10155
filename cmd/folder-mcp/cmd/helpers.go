package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/folder-mcp/daemon/internal/config"
	"github.com/folder-mcp/daemon/internal/embed"
	"github.com/folder-mcp/daemon/internal/orchestrator"
	"github.com/folder-mcp/daemon/internal/output"
	"github.com/folder-mcp/daemon/internal/store"
)

// resolveFolderArg validates and resolves a folder path argument.
func resolveFolderArg(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", usageErrorf("invalid folder path %q: %v", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", usageErrorf("folder does not exist: %s", abs)
	}
	if !info.IsDir() {
		return "", usageErrorf("not a directory: %s", abs)
	}
	return abs, nil
}

// buildPool constructs an embedding pool for one-shot commands. The
// configured model is tried first; when its runtime is unreachable the
// static embedder steps in so offline usage still works.
func buildPool(ctx context.Context, cfg *config.Config, modelID string, out *output.Writer) (*embed.Pool, embed.ModelSpec, error) {
	if modelID == "" {
		modelID = cfg.Embeddings.DefaultModel
	}
	spec, ok := embed.LookupModel(modelID)
	if !ok {
		return nil, embed.ModelSpec{}, usageErrorf("unknown model id: %s", modelID)
	}

	factory := func(ctx context.Context, threads int) (embed.Embedder, error) {
		if spec.Backend == embed.BackendOllama {
			ollamaCfg := embed.DefaultOllamaConfig()
			ollamaCfg.Host = cfg.Embeddings.OllamaHost
			ollamaCfg.Model = spec.ID
			ollamaCfg.Dimensions = spec.Dimensions
			embedder, err := embed.NewOllamaEmbedder(ctx, ollamaCfg)
			if err == nil {
				return embedder, nil
			}
			out.Warningf("model runtime unavailable (%v); using static embeddings", err)
		}
		return embed.NewStaticEmbedder(), nil
	}

	pool, err := embed.NewPool(ctx, embed.PoolConfig{
		Workers:       cfg.Performance.PoolWorkers,
		MaxBatchSize:  cfg.Performance.BatchSize,
		QueryPrefix:   spec.QueryPrefix,
		PassagePrefix: spec.PassagePrefix,
		Logger:        slog.Default(),
	}, factory)
	if err != nil {
		return nil, embed.ModelSpec{}, err
	}
	return pool, spec, nil
}

// folderWorkspace bundles the per-folder handles one-shot commands need.
type folderWorkspace struct {
	folder string
	store  *store.FolderStore
	db     *store.SemanticDB
}

func openWorkspace(folder string) (*folderWorkspace, error) {
	st, err := store.NewFolderStore(folder)
	if err != nil {
		return nil, err
	}
	db, err := store.OpenSemanticDB(st.SemanticDBPath())
	if err != nil {
		return nil, err
	}
	return &folderWorkspace{folder: folder, store: st, db: db}, nil
}

func (w *folderWorkspace) close() {
	_ = w.db.Close()
}

// walkFolderFiles enumerates candidate files the same way the daemon's
// orchestrator does: cache dir, dot-files and VCS internals skipped.
func walkFolderFiles(ctx context.Context, folder string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if path == folder {
				return nil
			}
			if name == store.CacheDirName || name == ".git" || name == "node_modules" || name[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if name[0] == '.' {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// settingsFromConfig converts a persisted folder entry into the
// orchestrator's working settings.
func settingsFromConfig(cfg *config.Config, f config.FolderConfig) orchestrator.FolderSettings {
	resolved := cfg.Resolve(f)
	return orchestrator.FolderSettings{
		Path:           resolved.Path,
		Name:           resolved.Name,
		Model:          resolved.Model,
		BatchSize:      resolved.BatchSize,
		MaxConcurrency: resolved.MaxConcurrency,
		Exclude:        resolved.Exclude,
		Enabled:        resolved.Enabled,
	}
}

// configPersister adapts the YAML configuration document to the
// orchestrator's persistence contract.
type configPersister struct {
	cfg *config.Config
}

func (p *configPersister) UpsertFolder(s orchestrator.FolderSettings) error {
	p.cfg.UpsertFolder(config.FolderConfig{
		Path:    s.Path,
		Name:    s.Name,
		Model:   s.Model,
		Enabled: s.Enabled,
	})
	return p.cfg.Save()
}

func (p *configPersister) DeleteFolder(path string) error {
	if p.cfg.RemoveFolder(path) {
		return p.cfg.Save()
	}
	return nil
}

var _ orchestrator.ConfigPersister = (*configPersister)(nil)

func errf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
