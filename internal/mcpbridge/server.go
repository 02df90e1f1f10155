// Package mcpbridge is the stdio tool-protocol bridge: an MCP server
// exposing document search, folder listing and document retrieval over
// the same vector index and fleet state the duplex and REST surfaces
// read.
package mcpbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/folder-mcp/daemon/internal/orchestrator"
	"github.com/folder-mcp/daemon/pkg/version"
)

// Server bridges MCP clients (Claude Code, Cursor) to the document index.
type Server struct {
	mcp    *mcp.Server
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// SearchDocumentsInput defines the input schema for the search_documents tool.
type SearchDocumentsInput struct {
	Query      string  `json:"query" jsonschema:"the semantic search query to execute"`
	FolderPath string  `json:"folder_path,omitempty" jsonschema:"restrict the search to one watched folder"`
	Limit      int     `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Threshold  float64 `json:"threshold,omitempty" jsonschema:"minimum relevance between 0 and 1"`
}

// SearchDocumentsOutput defines the output schema for the search_documents tool.
type SearchDocumentsOutput struct {
	Results []DocumentHit `json:"results" jsonschema:"list of matching document chunks"`
}

// DocumentHit is one search result.
type DocumentHit struct {
	FolderPath   string  `json:"folder_path" jsonschema:"the watched folder containing the document"`
	DocumentPath string  `json:"document_path" jsonschema:"document path relative to its folder"`
	DocumentType string  `json:"document_type" jsonschema:"file type, e.g. md, pdf, xlsx"`
	PageNumber   int     `json:"page_number,omitempty" jsonschema:"page number for PDF hits"`
	Snippet      string  `json:"snippet" jsonschema:"matched content"`
	Relevance    float64 `json:"relevance" jsonschema:"relevance score between 0 and 1"`
}

// ListFoldersInput has no parameters.
type ListFoldersInput struct{}

// ListFoldersOutput defines the output schema for the list_folders tool.
type ListFoldersOutput struct {
	Folders []FolderEntry `json:"folders" jsonschema:"the watched folders and their indexing status"`
}

// FolderEntry is one watched folder.
type FolderEntry struct {
	Path   string `json:"path" jsonschema:"absolute folder path"`
	Name   string `json:"name" jsonschema:"folder display name"`
	Model  string `json:"model" jsonschema:"embedding model id"`
	Status string `json:"status" jsonschema:"lifecycle status: pending, scanning, ready, indexing, active, error"`
}

// GetDocumentInput defines the input schema for the get_document tool.
type GetDocumentInput struct {
	FolderPath   string `json:"folder_path" jsonschema:"the watched folder containing the document"`
	DocumentPath string `json:"document_path" jsonschema:"document path relative to the folder"`
}

// GetDocumentOutput defines the output schema for the get_document tool.
type GetDocumentOutput struct {
	DocumentPath string `json:"document_path"`
	Type         string `json:"type"`
	Content      string `json:"content" jsonschema:"full extracted text content"`
}

// NewServer creates the MCP bridge over an orchestrator.
func NewServer(orch *orchestrator.Orchestrator, logger *slog.Logger) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{orch: orch, logger: logger}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "folder-mcp",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search across the indexed document folders. Finds passages by meaning, not just keywords; results carry the owning document and a relevance score.",
	}, s.handleSearchDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_folders",
		Description: "List the watched folders with their embedding model and indexing status. Use to discover valid folder_path values before searching.",
	}, s.handleListFolders)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_document",
		Description: "Fetch one document's full extracted text by its folder and relative path.",
	}, s.handleGetDocument)

	s.logger.Info("MCP tools registered", slog.Int("count", 3))
}

func (s *Server) handleSearchDocuments(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocumentsInput) (
	*mcp.CallToolResult, SearchDocumentsOutput, error,
) {
	if input.Query == "" {
		return nil, SearchDocumentsOutput{}, errors.New("query parameter is required")
	}

	resp, err := s.orch.Search(ctx, orchestrator.SearchRequest{
		Query:      input.Query,
		FolderPath: input.FolderPath,
		Limit:      input.Limit,
		Threshold:  float32(input.Threshold),
	})
	if err != nil {
		return nil, SearchDocumentsOutput{}, err
	}

	out := SearchDocumentsOutput{Results: make([]DocumentHit, 0, len(resp.Hits))}
	for _, h := range resp.Hits {
		out.Results = append(out.Results, DocumentHit{
			FolderPath:   h.FolderPath,
			DocumentPath: h.DocumentPath,
			DocumentType: h.DocumentType,
			PageNumber:   h.PageNumber,
			Snippet:      h.Snippet,
			Relevance:    float64(h.Relevance),
		})
	}
	return nil, out, nil
}

func (s *Server) handleListFolders(ctx context.Context, _ *mcp.CallToolRequest, _ ListFoldersInput) (
	*mcp.CallToolResult, ListFoldersOutput, error,
) {
	summaries := s.orch.Folders()
	out := ListFoldersOutput{Folders: make([]FolderEntry, 0, len(summaries))}
	for _, f := range summaries {
		out.Folders = append(out.Folders, FolderEntry{
			Path:   f.Path,
			Name:   f.Name,
			Model:  f.Model,
			Status: f.Status,
		})
	}
	return nil, out, nil
}

func (s *Server) handleGetDocument(ctx context.Context, _ *mcp.CallToolRequest, input GetDocumentInput) (
	*mcp.CallToolResult, GetDocumentOutput, error,
) {
	if input.FolderPath == "" || input.DocumentPath == "" {
		return nil, GetDocumentOutput{}, errors.New("folder_path and document_path are required")
	}

	db, st, ok := s.orch.FolderDB(input.FolderPath)
	if !ok {
		return nil, GetDocumentOutput{}, fmt.Errorf("folder not watched: %s", input.FolderPath)
	}

	row, found, err := db.GetDocumentByPath(input.DocumentPath)
	if err != nil {
		return nil, GetDocumentOutput{}, err
	}
	if !found {
		return nil, GetDocumentOutput{}, fmt.Errorf("document not found: %s", input.DocumentPath)
	}

	meta, err := st.LoadMetadata(row.Hash)
	if err != nil {
		return nil, GetDocumentOutput{}, fmt.Errorf("document content not cached: %s", input.DocumentPath)
	}

	return nil, GetDocumentOutput{
		DocumentPath: row.RelativePath,
		Type:         row.Type,
		Content:      meta.ParsedContent,
	}, nil
}

// Serve runs the bridge over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP stdio bridge")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP bridge stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP bridge stopped")
	return nil
}
