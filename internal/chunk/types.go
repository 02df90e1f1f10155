package chunk

// Chunk size defaults (based on 2025 RAG research)
const (
	DefaultMaxChunkTokens = 512 // Optimal for 85-90% recall
	MinChunkTokens        = 100 // Minimum viable chunk
	TokensPerChar         = 4   // Rough approximation: 4 chars = 1 token
)

// ContentType represents the type of content in a document
type ContentType string

const (
	ContentTypeMarkdown     ContentType = "markdown"
	ContentTypeText         ContentType = "text"
	ContentTypePDF          ContentType = "pdf"
	ContentTypeSpreadsheet  ContentType = "spreadsheet"
	ContentTypePresentation ContentType = "presentation"
)

// ExtractionParams are the format-specific coordinates that let a chunk be
// independently re-read from its source file without re-parsing siblings.
// Exactly one group of fields is populated, depending on ContentType.
type ExtractionParams struct {
	// Prose (markdown/text/pdf pages with headings).
	HeadingPath string `json:"headingPath,omitempty"`

	// PDF.
	PageNumber int `json:"pageNumber,omitempty"`

	// Spreadsheet.
	SheetName string `json:"sheetName,omitempty"`
	CellRange string `json:"cellRange,omitempty"`

	// Presentation.
	SlideNumber  int  `json:"slideNumber,omitempty"`
	IncludeNotes bool `json:"includeNotes,omitempty"`
}

// SemanticMetadata holds the enrichment derived for a chunk (see the
// enrichment package): key phrases and a readability score.
type SemanticMetadata struct {
	KeyPhrases       []string `json:"keyPhrases,omitempty"`
	ReadabilityScore int      `json:"readabilityScore,omitempty"`
	MultiwordRatio   float64  `json:"multiwordRatio,omitempty"`
}

// DocChunk is a bounded-token span of a parsed document plus the
// coordinates needed to re-extract it and, once computed, its semantic
// enrichment. For a given OwnerHash the ChunkIndex set is {0..N-1},
// contiguous (see the Folder Lifecycle Manager's per-task invariants).
type DocChunk struct {
	OwnerHash   string
	ChunkIndex  int
	Content     string
	StartOffset int
	EndOffset   int
	TokenCount  int

	ContentType ContentType
	Extraction  ExtractionParams
	Semantic    *SemanticMetadata
}

// TotalChunks reports len(chunks) for readability at call sites that assert
// the contiguous chunkIndex invariant.
func TotalChunks(chunks []DocChunk) int {
	return len(chunks)
}
