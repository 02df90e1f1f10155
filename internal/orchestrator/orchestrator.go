// Package orchestrator owns the fleet of folder lifecycle managers: it
// validates and adds folders, schedules scans, reacts to file-watcher
// events, coordinates model downloads and mirrors every state change onto
// the FMDM broadcaster.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/folder-mcp/daemon/internal/embed"
	"github.com/folder-mcp/daemon/internal/enrichment"
	"github.com/folder-mcp/daemon/internal/fmdm"
	"github.com/folder-mcp/daemon/internal/lifecycle"
	"github.com/folder-mcp/daemon/internal/store"
	"github.com/folder-mcp/daemon/internal/vectorindex"
	"github.com/folder-mcp/daemon/internal/watcher"
)

// FolderSettings is one folder's configuration as the orchestrator needs
// it. The configuration layer persists a superset; this is the working
// subset.
type FolderSettings struct {
	Path           string
	Name           string
	Model          string
	BatchSize      int
	MaxConcurrency int
	Exclude        []string
	Enabled        bool
}

// ConfigPersister persists folder configuration changes. The YAML config
// layer implements this; tests use an in-memory fake.
type ConfigPersister interface {
	UpsertFolder(settings FolderSettings) error
	DeleteFolder(path string) error
}

// DownloadEventType tags a model-download progress event.
type DownloadEventType string

const (
	DownloadStart    DownloadEventType = "model_download_start"
	DownloadProgress DownloadEventType = "model_download_progress"
	DownloadComplete DownloadEventType = "model_download_complete"
	DownloadError    DownloadEventType = "model_download_error"
)

// DownloadEvent is pushed to duplex clients while a model downloads.
type DownloadEvent struct {
	Type       DownloadEventType `json:"type"`
	ModelID    string            `json:"modelId"`
	Downloaded int64             `json:"downloaded,omitempty"`
	Total      int64             `json:"total,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// EmbedderFactory builds one embedder instance for a model spec. The
// default factory speaks to Ollama for ollama-backed models and falls
// back to the static embedder; tests inject deterministic runtimes.
type EmbedderFactory func(ctx context.Context, spec embed.ModelSpec, threads int) (embed.Embedder, error)

// DefaultEmbedderFactory returns the production factory.
func DefaultEmbedderFactory(ollamaHost string) EmbedderFactory {
	return func(ctx context.Context, spec embed.ModelSpec, threads int) (embed.Embedder, error) {
		switch spec.Backend {
		case embed.BackendOllama:
			cfg := embed.DefaultOllamaConfig()
			cfg.Host = ollamaHost
			cfg.Model = spec.ID
			cfg.Dimensions = spec.Dimensions
			return embed.NewOllamaEmbedder(ctx, cfg)
		default:
			return embed.NewStaticEmbedder(), nil
		}
	}
}

// Config wires the orchestrator.
type Config struct {
	Broadcaster     *fmdm.Broadcaster
	Models          *embed.ModelManager
	EmbedderFactory EmbedderFactory
	Persister       ConfigPersister

	// OnDownloadEvent receives model-download progress events for the
	// duplex server to push. Optional.
	OnDownloadEvent func(DownloadEvent)

	// PoolWorkers overrides the per-model worker count (default 2).
	PoolWorkers int

	// WatchFolders enables file watching on added folders.
	WatchFolders bool

	Logger *slog.Logger
}

type managedFolder struct {
	settings FolderSettings
	store    *store.FolderStore
	db       *store.SemanticDB
	index    *vectorindex.Index
	pool     *embed.Pool
	indexer  *Indexer
	manager  *lifecycle.Manager
	watch    *watcher.HybridWatcher
	lock     *flock.Flock
	cancel   context.CancelFunc
}

// Orchestrator owns {folderPath -> lifecycle manager} plus the shared
// per-model embedding pools.
type Orchestrator struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	folders map[string]*managedFolder
	pools   map[string]*embed.Pool

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates an orchestrator. Call Shutdown to tear it down.
func New(ctx context.Context, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EmbedderFactory == nil {
		cfg.EmbedderFactory = DefaultEmbedderFactory(embed.DefaultOllamaHost)
	}
	baseCtx, cancel := context.WithCancel(ctx)

	o := &Orchestrator{
		config:  cfg,
		logger:  cfg.Logger,
		folders: make(map[string]*managedFolder),
		pools:   make(map[string]*embed.Pool),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	o.publishModels()
	return o
}

func (o *Orchestrator) publishModels() {
	if o.config.Broadcaster == nil {
		return
	}
	installed := make([]string, 0, len(o.pools))
	o.mu.Lock()
	for id := range o.pools {
		installed = append(installed, id)
	}
	o.mu.Unlock()
	sort.Strings(installed)
	o.config.Broadcaster.SetModels(installed, embed.CuratedModels)
}

// Validate checks a candidate folder against the current fleet without
// mutating anything.
func (o *Orchestrator) Validate(path, name string) ValidationResult {
	o.mu.Lock()
	existing := make(map[string]string, len(o.folders))
	for p, f := range o.folders {
		existing[p] = f.settings.Name
	}
	o.mu.Unlock()
	return validateFolderPath(path, name, existing)
}

// AddFolder validates, ensures the model, creates the lifecycle manager
// and advances it from pending. Returns the validation result when the
// candidate is rejected; error is reserved for internal failures.
func (o *Orchestrator) AddFolder(ctx context.Context, settings FolderSettings) (ValidationResult, error) {
	if settings.Name == "" {
		settings.Name = filepath.Base(settings.Path)
	}
	if settings.Model == "" {
		settings.Model = embed.DefaultOllamaModel
	}

	result := o.Validate(settings.Path, settings.Name)
	if !result.Valid {
		return result, nil
	}

	abs, err := filepath.Abs(settings.Path)
	if err != nil {
		return result, err
	}
	settings.Path = abs

	spec, ok := embed.LookupModel(settings.Model)
	if !ok {
		result.addError("invalid_model", "unknown model id: "+settings.Model)
		return result, nil
	}

	if o.config.Broadcaster != nil {
		o.config.Broadcaster.UpsertFolder(fmdm.Folder{
			Path:   settings.Path,
			Name:   settings.Name,
			Model:  settings.Model,
			Status: fmdm.StatusPending,
		}, false)
	}

	if err := o.ensureModel(ctx, spec, settings.Path); err != nil {
		o.notify(settings.Path, fmdm.SeverityError, "model download failed: "+err.Error())
		if o.config.Broadcaster != nil {
			o.config.Broadcaster.SetFolderStatus(settings.Path, fmdm.StatusError)
		}
		return result, err
	}

	mf, err := o.buildManagedFolder(settings, spec)
	if err != nil {
		if o.config.Broadcaster != nil {
			o.config.Broadcaster.SetFolderStatus(settings.Path, fmdm.StatusError)
		}
		return result, err
	}

	o.mu.Lock()
	o.folders[settings.Path] = mf
	o.mu.Unlock()

	if o.config.Persister != nil {
		if err := o.config.Persister.UpsertFolder(settings); err != nil {
			o.logger.Warn("failed to persist folder configuration",
				slog.String("path", settings.Path), slog.String("error", err.Error()))
		}
	}

	o.publishModels()

	// Advance from pending: scan, then (on scanComplete) index.
	mf.manager.StartScanning()
	return result, nil
}

// ensureModel makes sure spec's artefact is present, mirroring download
// progress onto every folder configured with that model.
func (o *Orchestrator) ensureModel(ctx context.Context, spec embed.ModelSpec, folderPath string) error {
	if spec.Backend != embed.BackendGGUF || o.config.Models == nil || o.config.Models.ModelExists(spec) {
		return nil
	}

	o.setModelFolderStatus(spec.ID, folderPath, fmdm.StatusDownloadingModel)
	o.notifyModelFolders(spec.ID, folderPath, fmdm.SeverityInfo, "downloading model "+spec.ID)
	o.emitDownload(DownloadEvent{Type: DownloadStart, ModelID: spec.ID})

	var lastEmit time.Time
	_, err := o.config.Models.EnsureModel(ctx, spec, func(p embed.DownloadProgress) {
		// Throttle progress fan-out; completion is signalled separately.
		if time.Since(lastEmit) < 200*time.Millisecond {
			return
		}
		lastEmit = time.Now()
		o.emitDownload(DownloadEvent{Type: DownloadProgress, ModelID: spec.ID, Downloaded: p.Downloaded, Total: p.Total})
	})
	if err != nil {
		o.emitDownload(DownloadEvent{Type: DownloadError, ModelID: spec.ID, Error: err.Error()})
		o.notifyModelFolders(spec.ID, folderPath, fmdm.SeverityError, "model download failed: "+err.Error())
		o.setModelFolderStatus(spec.ID, folderPath, fmdm.StatusError)
		return err
	}

	o.emitDownload(DownloadEvent{Type: DownloadComplete, ModelID: spec.ID})
	o.notifyModelFolders(spec.ID, folderPath, fmdm.SeverityInfo, "model "+spec.ID+" ready")
	o.setModelFolderStatus(spec.ID, folderPath, fmdm.StatusPending)
	return nil
}

// setModelFolderStatus mirrors a download status onto every folder using
// the model, plus the folder currently being added.
func (o *Orchestrator) setModelFolderStatus(modelID, extraPath string, status fmdm.FolderStatus) {
	if o.config.Broadcaster == nil {
		return
	}
	for _, path := range o.folderPathsForModel(modelID, extraPath) {
		o.config.Broadcaster.SetFolderStatus(path, status)
	}
}

func (o *Orchestrator) notifyModelFolders(modelID, extraPath string, severity fmdm.Severity, message string) {
	if o.config.Broadcaster == nil {
		return
	}
	for _, path := range o.folderPathsForModel(modelID, extraPath) {
		o.config.Broadcaster.SetNotification(path, &fmdm.Notification{Message: message, Severity: severity})
	}
}

func (o *Orchestrator) folderPathsForModel(modelID, extraPath string) []string {
	seen := map[string]bool{}
	var paths []string
	o.mu.Lock()
	for path, f := range o.folders {
		if f.settings.Model == modelID {
			paths = append(paths, path)
			seen[path] = true
		}
	}
	o.mu.Unlock()
	if extraPath != "" && !seen[extraPath] {
		paths = append(paths, extraPath)
	}
	sort.Strings(paths)
	return paths
}

func (o *Orchestrator) notify(path string, severity fmdm.Severity, message string) {
	if o.config.Broadcaster != nil {
		o.config.Broadcaster.SetNotification(path, &fmdm.Notification{Message: message, Severity: severity})
	}
}

func (o *Orchestrator) emitDownload(ev DownloadEvent) {
	if o.config.OnDownloadEvent != nil {
		o.config.OnDownloadEvent(ev)
	}
}

// poolFor returns (creating if needed) the shared pool for a model.
func (o *Orchestrator) poolFor(spec embed.ModelSpec) (*embed.Pool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if pool, ok := o.pools[spec.ID]; ok {
		return pool, nil
	}
	pool, err := embed.NewPool(o.baseCtx, embed.PoolConfig{
		Workers:       o.config.PoolWorkers,
		QueryPrefix:   spec.QueryPrefix,
		PassagePrefix: spec.PassagePrefix,
		Logger:        o.logger,
	}, func(ctx context.Context, threads int) (embed.Embedder, error) {
		return o.config.EmbedderFactory(ctx, spec, threads)
	})
	if err != nil {
		return nil, fmt.Errorf("start embedding pool for %s: %w", spec.ID, err)
	}
	o.pools[spec.ID] = pool
	return pool, nil
}

func (o *Orchestrator) buildManagedFolder(settings FolderSettings, spec embed.ModelSpec) (*managedFolder, error) {
	st, err := store.NewFolderStore(settings.Path)
	if err != nil {
		return nil, err
	}

	// One daemon per cache: the advisory lock rejects a second daemon
	// indexing the same folder concurrently.
	lock := flock.New(filepath.Join(st.Root(), "daemon.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire folder lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("folder %s is locked by another process", settings.Path)
	}

	db, err := store.OpenSemanticDB(st.SemanticDBPath())
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	pool, err := o.poolFor(spec)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	index, err := o.loadOrCreateIndex(st, pool.Dimensions())
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	indexer := NewIndexer(IndexerConfig{
		FolderPath: settings.Path,
		ModelID:    spec.ID,
		Backend:    spec.Backend,
		Store:      st,
		DB:         db,
		Index:      index,
		Pool:       pool,
		Enrich:     enrichConfigFor(spec),
		Logger:     o.logger,
	})

	mf := &managedFolder{
		settings: settings,
		store:    st,
		db:       db,
		index:    index,
		pool:     pool,
		indexer:  indexer,
		lock:     lock,
	}

	manager := lifecycle.NewManager(
		lifecycle.Config{
			FolderPath:     settings.Path,
			Name:           settings.Name,
			Model:          spec.ID,
			MaxConcurrency: settings.MaxConcurrency,
			Logger:         o.logger,
		},
		st, indexer, o.walkFunc(settings),
		o.managerEvents(settings.Path, mf),
	)
	mf.manager = manager

	folderCtx, cancelFolder := context.WithCancel(o.baseCtx)
	mf.cancel = cancelFolder
	manager.Start(folderCtx)

	if o.config.WatchFolders {
		if err := o.startWatcher(folderCtx, mf); err != nil {
			o.logger.Warn("file watcher unavailable; changes require manual rescan",
				slog.String("folder", settings.Path), slog.String("error", err.Error()))
		}
	}

	return mf, nil
}

func (o *Orchestrator) loadOrCreateIndex(st *store.FolderStore, dimensions int) (*vectorindex.Index, error) {
	mappings := filepath.Join(st.VectorsDir(), vectorindex.MappingsFileName)
	if _, err := os.Stat(mappings); err == nil {
		index, err := vectorindex.Load(st.VectorsDir(), st, o.logger)
		if err == nil {
			return index, nil
		}
		o.logger.Warn("vector index snapshot unusable; rebuilding empty",
			slog.String("dir", st.VectorsDir()), slog.String("error", err.Error()))
	}
	return vectorindex.New(dimensions, o.logger)
}

// managerEvents mirrors lifecycle events onto the broadcaster and keeps
// the snapshot on disk fresh.
func (o *Orchestrator) managerEvents(path string, mf *managedFolder) lifecycle.Events {
	b := o.config.Broadcaster
	return lifecycle.Events{
		StateChange: func(prev, next fmdm.FolderStatus) {
			if b != nil {
				b.SetFolderStatus(path, next)
			}
			if next == fmdm.StatusReady {
				mf.manager.StartIndexing()
			}
		},
		ScanProgress: func(sp fmdm.ScanningProgress) {
			if b != nil {
				b.SetScanningProgress(path, sp)
			}
		},
		IndexProgress: func(p fmdm.Progress) {
			if b != nil {
				b.SetFolderProgress(path, p)
			}
		},
		IndexComplete: func(p fmdm.Progress) {
			if b != nil {
				b.SetFolderProgress(path, p)
			}
			if err := mf.index.Save(mf.store.VectorsDir()); err != nil {
				o.logger.Warn("failed to snapshot vector index",
					slog.String("folder", path), slog.String("error", err.Error()))
			}
		},
		Error: func(err error) {
			o.notify(path, fmdm.SeverityError, err.Error())
		},
	}
}

// walkFunc enumerates a folder's files, skipping the cache directory,
// dot-files and configured excludes.
func (o *Orchestrator) walkFunc(settings FolderSettings) lifecycle.WalkFunc {
	return func(ctx context.Context) ([]string, error) {
		var paths []string
		err := filepath.WalkDir(settings.Path, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			name := d.Name()
			if d.IsDir() {
				if path == settings.Path {
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
			rel, relErr := filepath.Rel(settings.Path, path)
			if relErr == nil && excluded(rel, settings.Exclude) {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		return paths, err
	}
}

func excluded(relPath string, patterns []string) bool {
	rel := filepath.ToSlash(relPath)
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// startWatcher runs the folder's recursive watcher and feeds debounced
// events into the lifecycle manager.
func (o *Orchestrator) startWatcher(ctx context.Context, mf *managedFolder) error {
	w, err := watcher.NewHybridWatcher(watcher.Options{IgnorePatterns: mf.settings.Exclude})
	if err != nil {
		return err
	}
	if err := w.Start(ctx, mf.settings.Path); err != nil {
		return err
	}
	mf.watch = w

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-w.Events():
				if !ok {
					return
				}
				changes := toFileChanges(mf.settings.Path, batch)
				if len(changes) > 0 {
					mf.manager.ApplyChanges(changes)
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				o.logger.Warn("watcher error",
					slog.String("folder", mf.settings.Path), slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}

func toFileChanges(folderPath string, events []watcher.FileEvent) []lifecycle.FileChange {
	var changes []lifecycle.FileChange
	for _, ev := range events {
		if ev.IsDir {
			continue
		}
		var kind lifecycle.TaskKind
		switch ev.Operation {
		case watcher.OpCreate:
			kind = lifecycle.TaskCreate
		case watcher.OpModify:
			kind = lifecycle.TaskUpdate
		case watcher.OpDelete, watcher.OpRename:
			kind = lifecycle.TaskRemove
		default:
			continue
		}
		changes = append(changes, lifecycle.FileChange{
			AbsPath: filepath.Join(folderPath, ev.Path),
			RelPath: filepath.ToSlash(ev.Path),
			Kind:    kind,
		})
	}
	return changes
}

// RemoveFolder stops the manager, evicts the folder's vector index and
// store entries, and drops it from configuration. Folder add then remove
// returns the stores to their prior cardinalities.
func (o *Orchestrator) RemoveFolder(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	o.mu.Lock()
	mf, ok := o.folders[abs]
	if ok {
		delete(o.folders, abs)
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("folder not found: %s", abs)
	}

	if mf.watch != nil {
		_ = mf.watch.Stop()
	}
	mf.manager.Stop()
	mf.cancel()

	mf.index.RemoveFolder(abs)
	_ = mf.index.Close()
	_ = mf.db.Close()
	if err := mf.store.Purge(); err != nil {
		o.logger.Warn("failed to purge folder cache",
			slog.String("folder", abs), slog.String("error", err.Error()))
	}
	_ = mf.lock.Unlock()

	if o.config.Broadcaster != nil {
		o.config.Broadcaster.RemoveFolder(abs)
	}
	if o.config.Persister != nil {
		if err := o.config.Persister.DeleteFolder(abs); err != nil {
			o.logger.Warn("failed to remove folder from configuration",
				slog.String("path", abs), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Folder returns the managed folder for path, if any.
func (o *Orchestrator) folder(path string) (*managedFolder, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	mf, ok := o.folders[abs]
	return mf, ok
}

// FolderPaths lists the managed folder paths, sorted.
func (o *Orchestrator) FolderPaths() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	paths := make([]string, 0, len(o.folders))
	for p := range o.folders {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// enrichConfigFor scales key-phrase candidate caps by model capability.
func enrichConfigFor(spec embed.ModelSpec) enrichment.ExtractionConfig {
	return enrichment.ExtractionConfig{BatchCapable: spec.BatchCapable}
}

// Shutdown tears everything down: watchers, managers, index snapshots,
// pools, locks.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	folders := make([]*managedFolder, 0, len(o.folders))
	for _, mf := range o.folders {
		folders = append(folders, mf)
	}
	o.folders = make(map[string]*managedFolder)
	pools := o.pools
	o.pools = make(map[string]*embed.Pool)
	o.mu.Unlock()

	for _, mf := range folders {
		if mf.watch != nil {
			_ = mf.watch.Stop()
		}
		mf.manager.Stop()
		mf.cancel()
		if err := mf.index.Save(mf.store.VectorsDir()); err != nil {
			o.logger.Warn("failed to snapshot vector index during shutdown",
				slog.String("folder", mf.settings.Path), slog.String("error", err.Error()))
		}
		_ = mf.index.Close()
		_ = mf.db.Close()
		_ = mf.lock.Unlock()
	}

	for _, pool := range pools {
		_ = pool.Shutdown(ctx)
	}
	o.cancel()
}
