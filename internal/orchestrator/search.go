package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/folder-mcp/daemon/internal/embed"
	"github.com/folder-mcp/daemon/internal/store"
	"github.com/folder-mcp/daemon/internal/vectorindex"
)

// SearchRequest shapes one semantic search.
type SearchRequest struct {
	Query string

	// FolderPath scopes the search to one folder; empty searches all.
	FolderPath string

	Limit     int
	Threshold float32

	// IncludeContent expands each hit with neighbouring paragraphs.
	IncludeContent bool
}

// SearchHit is one search result enriched with document identity.
type SearchHit struct {
	FolderPath   string  `json:"folderPath"`
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	DocumentPath string  `json:"documentPath"`
	DocumentType string  `json:"documentType"`
	PageNumber   int     `json:"pageNumber,omitempty"`
	ChunkIndex   int     `json:"chunkIndex"`
	Snippet      string  `json:"snippet"`
	Relevance    float32 `json:"relevance"`
}

// SearchPerformance is the timing block returned with search responses.
type SearchPerformance struct {
	SearchTime        int64  `json:"searchTime"` // milliseconds
	ModelLoadTime     int64  `json:"modelLoadTime"`
	DocumentsSearched int    `json:"documentsSearched"`
	TotalResults      int    `json:"totalResults"`
	ModelUsed         string `json:"modelUsed"`
}

// SearchResponse is the full search result set.
type SearchResponse struct {
	Hits        []SearchHit       `json:"results"`
	Performance SearchPerformance `json:"performance"`
}

// Search answers a semantic query against one folder or the whole fleet.
func (o *Orchestrator) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if req.Query == "" {
		return SearchResponse{}, fmt.Errorf("search: empty query")
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	start := time.Now()

	var targets []*managedFolder
	if req.FolderPath != "" {
		mf, ok := o.folder(req.FolderPath)
		if !ok {
			return SearchResponse{}, fmt.Errorf("search: folder not found: %s", req.FolderPath)
		}
		targets = []*managedFolder{mf}
	} else {
		o.mu.Lock()
		for _, mf := range o.folders {
			targets = append(targets, mf)
		}
		o.mu.Unlock()
	}
	if len(targets) == 0 {
		return SearchResponse{Hits: []SearchHit{}}, nil
	}

	// Group targets by pool so each model embeds the query once.
	queryVectors := make(map[*embed.Pool][]float32)
	var modelUsed string
	var hits []SearchHit
	documentsSearched := 0

	for _, mf := range targets {
		vec, ok := queryVectors[mf.pool]
		if !ok {
			var err error
			vec, err = mf.pool.Embed(ctx, req.Query, embed.EmbedOptions{Kind: embed.TextKindQuery})
			if err != nil {
				return SearchResponse{}, fmt.Errorf("embed query: %w", err)
			}
			queryVectors[mf.pool] = vec
		}
		modelUsed = mf.pool.ModelName()

		results, err := mf.index.SearchScoped(ctx, vec,
			vectorindex.Scope{FolderPath: mf.settings.Path}, req.Limit, req.Threshold)
		if err != nil {
			return SearchResponse{}, err
		}
		if n, err := mf.db.CountDocuments(""); err == nil {
			documentsSearched += n
		}

		for _, r := range results {
			hit, err := o.resolveHit(mf, r, req.IncludeContent)
			if err != nil {
				o.logger.Warn("search hit could not be resolved; dropping")
				continue
			}
			hits = append(hits, hit)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Relevance > hits[j].Relevance })
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	if hits == nil {
		hits = []SearchHit{}
	}

	return SearchResponse{
		Hits: hits,
		Performance: SearchPerformance{
			SearchTime:        time.Since(start).Milliseconds(),
			DocumentsSearched: documentsSearched,
			TotalResults:      len(hits),
			ModelUsed:         modelUsed,
		},
	}, nil
}

// resolveHit joins a raw index result with its document row and snippet.
func (o *Orchestrator) resolveHit(mf *managedFolder, r vectorindex.SearchResult, includeContent bool) (SearchHit, error) {
	row, ok, err := mf.db.FirstDocumentByHash(r.OwnerHash)
	if err != nil {
		return SearchHit{}, err
	}
	if !ok {
		return SearchHit{}, fmt.Errorf("no document for hash %s", r.OwnerHash)
	}

	meta, err := mf.store.LoadMetadata(r.OwnerHash)
	if err != nil {
		return SearchHit{}, err
	}
	if r.ChunkIndex >= len(meta.Chunks) {
		return SearchHit{}, fmt.Errorf("chunk %d out of range for %s", r.ChunkIndex, r.OwnerHash)
	}
	c := meta.Chunks[r.ChunkIndex]

	snippet := c.Content
	if includeContent {
		var prev, next string
		if r.ChunkIndex > 0 {
			prev = meta.Chunks[r.ChunkIndex-1].Content
		}
		if r.ChunkIndex+1 < len(meta.Chunks) {
			next = meta.Chunks[r.ChunkIndex+1].Content
		}
		snippet = vectorindex.ExpandSnippet(c.Content, prev, next)
	}

	return SearchHit{
		FolderPath:   mf.settings.Path,
		DocumentID:   row.ID,
		DocumentName: row.Name,
		DocumentPath: row.RelativePath,
		DocumentType: row.Type,
		PageNumber:   c.Extraction.PageNumber,
		ChunkIndex:   r.ChunkIndex,
		Snippet:      snippet,
		Relevance:    r.Score,
	}, nil
}

// FolderInfo is the get_folder_info payload.
type FolderInfo struct {
	Path          string `json:"path"`
	Name          string `json:"name"`
	Model         string `json:"model"`
	Status        string `json:"status"`
	DocumentCount int    `json:"documentCount"`
	IndexedChunks int    `json:"indexedChunks"`
}

// Info reports one folder's summary.
func (o *Orchestrator) Info(path string) (FolderInfo, error) {
	mf, ok := o.folder(path)
	if !ok {
		return FolderInfo{}, fmt.Errorf("folder not found: %s", path)
	}
	docs, err := mf.db.CountDocuments("")
	if err != nil {
		return FolderInfo{}, err
	}
	return FolderInfo{
		Path:          mf.settings.Path,
		Name:          mf.settings.Name,
		Model:         mf.settings.Model,
		Status:        string(mf.manager.Status()),
		DocumentCount: docs,
		IndexedChunks: mf.index.Len(),
	}, nil
}

// FolderSummary is one folder's identity for listing surfaces.
type FolderSummary struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Model  string `json:"model"`
	Status string `json:"status"`
}

// Folders lists the managed folders, sorted by path. The ID is the same
// platform-stable derivation documents use.
func (o *Orchestrator) Folders() []FolderSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]FolderSummary, 0, len(o.folders))
	for _, mf := range o.folders {
		out = append(out, FolderSummary{
			ID:     store.DocumentIDFromPath(mf.settings.Path),
			Path:   mf.settings.Path,
			Name:   mf.settings.Name,
			Model:  mf.settings.Model,
			Status: string(mf.manager.Status()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ResolveFolderID maps a folder identifier (the derived id, the unique
// name, or the absolute path) to its path.
func (o *Orchestrator) ResolveFolderID(id string) (string, bool) {
	for _, f := range o.Folders() {
		if f.ID == id || f.Name == id || f.Path == id {
			return f.Path, true
		}
	}
	return "", false
}

// FolderDB exposes a folder's semantic database and store to the REST
// surface. Returns false when the folder is not managed.
func (o *Orchestrator) FolderDB(path string) (*store.SemanticDB, *store.FolderStore, bool) {
	mf, found := o.folder(path)
	if !found {
		return nil, nil, false
	}
	return mf.db, mf.store, true
}
