// Package rest is the request-scoped HTTP surface over the same state and
// index the duplex server reads: folder list, document list/data/outline
// and scoped search.
package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/folder-mcp/daemon/internal/orchestrator"
	"github.com/folder-mcp/daemon/internal/store"
)

// Server serves the REST endpoints. It reads through the orchestrator;
// it never mutates fleet state.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	router chi.Router
}

// New builds the REST server and its routes.
func New(orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{orch: orch, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Route("/folders", func(r chi.Router) {
		r.Get("/", s.listFolders)
		r.Route("/{folderId}", func(r chi.Router) {
			r.Get("/documents", s.listDocuments)
			r.Get("/documents/{docId}", s.getDocument)
			r.Get("/documents/{docId}/outline", s.getOutline)
			r.Post("/search", s.search)
		})
	})

	s.router = r
	return s
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler { return s.router }

// errorPayload is the uniform REST error body.
type errorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, details string) {
	s.writeJSON(w, status, errorPayload{Error: message, Details: details})
}

// resolveFolder turns the {folderId} path parameter into the folder's
// database and store, or writes a 404.
func (s *Server) resolveFolder(w http.ResponseWriter, r *http.Request) (string, *store.SemanticDB, *store.FolderStore, bool) {
	folderID := chi.URLParam(r, "folderId")
	path, ok := s.orch.ResolveFolderID(folderID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "folder not found", folderID)
		return "", nil, nil, false
	}
	db, st, ok := s.orch.FolderDB(path)
	if !ok {
		s.writeError(w, http.StatusNotFound, "folder not found", folderID)
		return "", nil, nil, false
	}
	return path, db, st, true
}

func (s *Server) listFolders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"folders": s.orch.Folders()})
}

// listDocuments is GET /folders/{folderId}/documents with paging, sorting
// and type filtering. `indexed` reflects presence in the embedding store,
// not merely on disk.
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	_, db, st, ok := s.resolveFolder(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit", q.Get("limit"))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid offset", q.Get("offset"))
		return
	}
	sortKey := q.Get("sort")
	if sortKey != "" && sortKey != "name" && sortKey != "modified" && sortKey != "size" && sortKey != "type" {
		s.writeError(w, http.StatusBadRequest, "invalid sort", sortKey)
		return
	}
	order := q.Get("order")
	if order != "" && !strings.EqualFold(order, "asc") && !strings.EqualFold(order, "desc") {
		s.writeError(w, http.StatusBadRequest, "invalid order", order)
		return
	}

	rows, err := db.ListDocuments(store.DocumentQuery{
		Limit:  limit,
		Offset: offset,
		Sort:   sortKey,
		Order:  order,
		Type:   q.Get("type"),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list documents", err.Error())
		return
	}
	total, err := db.CountDocuments(q.Get("type"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count documents", err.Error())
		return
	}

	docs := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, map[string]any{
			"id":           row.ID,
			"name":         row.Name,
			"relativePath": row.RelativePath,
			"type":         row.Type,
			"size":         row.Size,
			"modified":     row.Modified,
			"indexed":      st.IsIndexed(row.Hash),
			"metadata":     documentMetadata(st, row),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// getDocument is GET /folders/{folderId}/documents/{docId}: full extracted
// content plus type-specific metadata.
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	_, db, st, ok := s.resolveFolder(w, r)
	if !ok {
		return
	}

	docID := chi.URLParam(r, "docId")
	row, found, err := db.GetDocument(docID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load document", err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "document not found", docID)
		return
	}

	meta, err := st.LoadMetadata(row.Hash)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "document content not cached", docID)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":           row.ID,
		"name":         row.Name,
		"relativePath": row.RelativePath,
		"type":         row.Type,
		"content":      meta.ParsedContent,
		"metadata":     typeMetadata(meta),
	})
}

// getOutline is GET /folders/{folderId}/documents/{docId}/outline: a
// structural outline discriminated by document type.
func (s *Server) getOutline(w http.ResponseWriter, r *http.Request) {
	_, db, st, ok := s.resolveFolder(w, r)
	if !ok {
		return
	}

	docID := chi.URLParam(r, "docId")
	row, found, err := db.GetDocument(docID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load document", err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "document not found", docID)
		return
	}

	meta, err := st.LoadMetadata(row.Hash)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "document content not cached", docID)
		return
	}

	s.writeJSON(w, http.StatusOK, buildOutline(meta))
}

// searchPayload is the POST /folders/{folderId}/search body.
type searchPayload struct {
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	Threshold      float32 `json:"threshold"`
	IncludeContent bool    `json:"includeContent"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	path, _, _, ok := s.resolveFolder(w, r)
	if !ok {
		return
	}

	var p searchPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid search body", err.Error())
		return
	}
	if strings.TrimSpace(p.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "query is required", "")
		return
	}

	resp, err := s.orch.Search(r.Context(), orchestrator.SearchRequest{
		Query:          p.Query,
		FolderPath:     path,
		Limit:          p.Limit,
		Threshold:      p.Threshold,
		IncludeContent: p.IncludeContent,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "search failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"folder":      path,
		"results":     resp.Hits,
		"performance": resp.Performance,
	})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
