package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	errsx "github.com/folder-mcp/daemon/internal/errors"
)

// Pool configuration constants.
const (
	// DefaultPoolWorkers is the default number of model workers.
	DefaultPoolWorkers = 2

	// DefaultPoolThreads is the default number of intra-op threads per worker.
	DefaultPoolThreads = 2

	// DefaultShutdownTimeout bounds how long Shutdown waits for in-flight
	// tasks to drain before terminating workers.
	DefaultShutdownTimeout = 5 * time.Second

	// ScoringCacheSize caps the text->vector LRU used by candidate-scoring
	// workloads (key-phrase ranking). Scoped per document; cleared between
	// documents to prevent cross-document pollution.
	ScoringCacheSize = 500

	// routingQueueThreshold is the queue length above which round-robin
	// skips to the shortest queue instead.
	routingQueueThreshold = 5

	// workerQueueCapacity bounds each worker's FIFO queue.
	workerQueueCapacity = 64
)

// TextKind selects the instruction prefix prepended before dispatch for
// models that distinguish queries from passages.
type TextKind string

const (
	TextKindQuery   TextKind = "query"
	TextKindPassage TextKind = "passage"
)

// PoolConfig configures the embedding worker pool.
type PoolConfig struct {
	// Workers is the number of isolated model workers (default 2).
	Workers int

	// Threads is the intra-op thread count handed to each worker's model
	// runtime (default 2).
	Threads int

	// MaxBatchSize caps the number of texts per submitted batch.
	MaxBatchSize int

	// QueryPrefix / PassagePrefix are prepended per TextKind before
	// dispatch, for prefix-sensitive models. Empty means no prefix.
	QueryPrefix   string
	PassagePrefix string

	// ShutdownTimeout bounds the drain phase of Shutdown.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

func (c *PoolConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultPoolWorkers
	}
	if c.Threads <= 0 {
		c.Threads = DefaultPoolThreads
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultBatchSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WorkerFactory constructs one isolated embedder instance. Each worker
// calls it once at start (and again on respawn after a crash) so model
// state is never shared between workers. threads is the intra-op thread
// budget for the instance.
type WorkerFactory func(ctx context.Context, threads int) (Embedder, error)

// EmbedOptions modify a single pool submission.
type EmbedOptions struct {
	// Kind selects the query/passage prefix. Empty means no prefix.
	Kind TextKind

	// Deadline, when non-zero, bounds this call independent of ctx.
	Deadline time.Duration
}

// poolTask is one queued batch. Resolved when the chosen worker replies,
// rejected on worker exit or pool shutdown.
type poolTask struct {
	id    uint64
	texts []string
	done  chan poolResult
}

type poolResult struct {
	vectors [][]float32
	err     error
}

type poolWorker struct {
	id    int
	tasks chan *poolTask
	// queued counts tasks submitted but not yet completed; routing reads it.
	queued atomic.Int64
}

// Pool runs N model workers in isolated execution contexts and routes
// batched embed requests round-robin with a shortest-queue fallback.
// Each worker services its queue strictly FIFO. A worker error rejects
// only that worker's queued tasks; the pool spawns a replacement.
type Pool struct {
	config  PoolConfig
	factory WorkerFactory
	logger  *slog.Logger

	mu      sync.Mutex
	workers []*poolWorker
	rotor   int
	closed  bool

	nextTaskID atomic.Uint64
	wg         sync.WaitGroup

	// baseCtx parents all worker loops; cancelled on Shutdown after drain.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	dimensions atomic.Int64
	modelName  string

	scoringCache *lru.Cache[string, []float32]

	// breaker sheds load when the model runtime keeps failing, so a dead
	// backend fails fast instead of queueing doomed batches.
	breaker *errsx.CircuitBreaker
}

// NewPool starts cfg.Workers workers, each loading its model once via
// factory and servicing batches until shutdown.
func NewPool(ctx context.Context, cfg PoolConfig, factory WorkerFactory) (*Pool, error) {
	cfg.applyDefaults()
	if factory == nil {
		return nil, fmt.Errorf("embed pool: nil worker factory")
	}

	cache, _ := lru.New[string, []float32](ScoringCacheSize)

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &Pool{
		config:       cfg,
		factory:      factory,
		logger:       cfg.Logger,
		baseCtx:      baseCtx,
		cancelBase:   cancel,
		scoringCache: cache,
		breaker:      errsx.NewCircuitBreaker("embed-pool"),
	}

	for i := 0; i < cfg.Workers; i++ {
		w := &poolWorker{id: i, tasks: make(chan *poolTask, workerQueueCapacity)}
		embedder, err := factory(ctx, cfg.Threads)
		if err != nil {
			cancel()
			p.terminateWorkers()
			return nil, fmt.Errorf("embed pool: start worker %d: %w", i, err)
		}
		if p.modelName == "" {
			p.modelName = embedder.ModelName()
			p.dimensions.Store(int64(embedder.Dimensions()))
		}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go p.runWorker(w, embedder)
	}

	return p, nil
}

// Dimensions returns the embedding dimension D declared by the model.
func (p *Pool) Dimensions() int { return int(p.dimensions.Load()) }

// ModelName returns the model identifier loaded by the workers.
func (p *Pool) ModelName() string { return p.modelName }

// EmbedBatch submits texts as one batch, preserving input order. The
// returned slice always has len(texts) entries on success.
func (p *Pool) EmbedBatch(ctx context.Context, texts []string, opts EmbedOptions) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > p.config.MaxBatchSize {
		return nil, fmt.Errorf("embed pool: batch of %d exceeds maximum %d", len(texts), p.config.MaxBatchSize)
	}
	if !p.breaker.Allow() {
		return nil, fmt.Errorf("embed pool: circuit open, model runtime failing")
	}

	prefixed := p.applyPrefix(texts, opts.Kind)

	task := &poolTask{
		id:    p.nextTaskID.Add(1),
		texts: prefixed,
		done:  make(chan poolResult, 1),
	}

	worker, err := p.route()
	if err != nil {
		return nil, err
	}

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	worker.queued.Add(1)
	select {
	case worker.tasks <- task:
	case <-ctx.Done():
		worker.queued.Add(-1)
		return nil, ctx.Err()
	}

	select {
	case res := <-task.done:
		if res.err != nil {
			p.breaker.RecordFailure()
			return nil, res.err
		}
		if len(res.vectors) != len(texts) {
			return nil, fmt.Errorf("embed pool: count mismatch: sent %d texts, got %d vectors", len(texts), len(res.vectors))
		}
		p.breaker.RecordSuccess()
		return res.vectors, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Embed is a single-text convenience over EmbedBatch.
func (p *Pool) Embed(ctx context.Context, text string, opts EmbedOptions) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text}, opts)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedCandidate embeds a candidate-scoring text through the scoped LRU
// cache. Meant for key-phrase ranking where the same n-grams recur within
// a document; call ClearScoringCache between documents.
func (p *Pool) EmbedCandidate(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := p.scoringCache.Get(text); ok {
		return vec, nil
	}
	vec, err := p.Embed(ctx, text, EmbedOptions{Kind: TextKindPassage})
	if err != nil {
		return nil, err
	}
	p.scoringCache.Add(text, vec)
	return vec, nil
}

// ClearScoringCache empties the candidate-scoring cache. Called between
// documents so one document's candidates never score against another's.
func (p *Pool) ClearScoringCache() {
	p.scoringCache.Purge()
}

func (p *Pool) applyPrefix(texts []string, kind TextKind) []string {
	var prefix string
	switch kind {
	case TextKindQuery:
		prefix = p.config.QueryPrefix
	case TextKindPassage:
		prefix = p.config.PassagePrefix
	}
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

// route picks the next worker in rotation whose queue is empty or shorter
// than the threshold; if all exceed it, the shortest queue wins.
func (p *Pool) route() (*poolWorker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("embed pool: shut down")
	}
	if len(p.workers) == 0 {
		return nil, fmt.Errorf("embed pool: no workers")
	}

	n := len(p.workers)
	for i := 0; i < n; i++ {
		w := p.workers[(p.rotor+i)%n]
		if w.queued.Load() < routingQueueThreshold {
			p.rotor = (p.rotor + i + 1) % n
			return w, nil
		}
	}

	// All queues are above threshold: pick the shortest.
	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if w.queued.Load() < best.queued.Load() {
			best = w
		}
	}
	return best, nil
}

// runWorker services one worker's FIFO queue until the pool shuts down.
// A failed batch is rejected on its own while the embedder still reports
// itself available; once it does not, the current task plus everything
// queued behind it are rejected and the pool spawns a replacement worker.
func (p *Pool) runWorker(w *poolWorker, embedder Embedder) {
	defer p.wg.Done()

	for {
		select {
		case <-p.baseCtx.Done():
			p.flushQueue(w, fmt.Errorf("embed pool: shut down"))
			_ = embedder.Close()
			return
		case task, ok := <-w.tasks:
			if !ok {
				_ = embedder.Close()
				return
			}
			vectors, err := p.safeEmbed(p.baseCtx, embedder, task.texts)
			w.queued.Add(-1)
			if err != nil && !embedder.Available(p.baseCtx) {
				// Worker is dead, not just this batch: reject its queue
				// and hand the slot to a replacement.
				task.done <- poolResult{err: fmt.Errorf("embed worker %d failed: %w", w.id, err)}
				p.flushQueue(w, fmt.Errorf("embed worker %d exited: %w", w.id, err))
				_ = embedder.Close()
				p.respawn(w)
				return
			}
			task.done <- poolResult{vectors: vectors, err: err}
		}
	}
}

// safeEmbed contains panics from the model runtime to the failing batch.
func (p *Pool) safeEmbed(ctx context.Context, embedder Embedder, texts []string) (vectors [][]float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("embed worker panic: %v", r)
		}
	}()
	return embedder.EmbedBatch(ctx, texts)
}

// flushQueue rejects every task still queued on w with err.
func (p *Pool) flushQueue(w *poolWorker, err error) {
	for {
		select {
		case task, ok := <-w.tasks:
			if !ok {
				return
			}
			w.queued.Add(-1)
			task.done <- poolResult{err: err}
		default:
			return
		}
	}
}

// respawn replaces a crashed worker in the same slot so routing keeps
// its rotation shape.
func (p *Pool) respawn(w *poolWorker) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.logger.Warn("respawning embed worker", slog.Int("worker", w.id))

	embedder, err := p.factory(p.baseCtx, p.config.Threads)
	if err != nil {
		p.logger.Error("embed worker respawn failed",
			slog.Int("worker", w.id), slog.String("error", err.Error()))
		p.mu.Lock()
		for i, cur := range p.workers {
			if cur == w {
				p.workers = append(p.workers[:i], p.workers[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		return
	}

	p.wg.Add(1)
	go p.runWorker(w, embedder)
}

func (p *Pool) terminateWorkers() {
	for _, w := range p.workers {
		p.flushQueue(w, fmt.Errorf("embed pool: shut down"))
	}
}

// Shutdown drains in-flight tasks for at most the configured timeout,
// then terminates workers. Tasks still queued after the drain window are
// rejected.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		for {
			total := int64(0)
			p.mu.Lock()
			workers := p.workers
			p.mu.Unlock()
			for _, w := range workers {
				total += w.queued.Load()
			}
			if total == 0 {
				close(drained)
				return
			}
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				close(drained)
				return
			}
		}
	}()

	select {
	case <-drained:
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("embed pool shutdown timeout; terminating with queued tasks",
			slog.Duration("timeout", p.config.ShutdownTimeout))
	case <-ctx.Done():
	}

	p.cancelBase()
	p.wg.Wait()
	return nil
}
