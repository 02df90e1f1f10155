package rest

import (
	"sort"
	"strings"

	"github.com/folder-mcp/daemon/internal/chunk"
	"github.com/folder-mcp/daemon/internal/store"
)

// documentMetadata builds the per-document metadata block for listings.
func documentMetadata(st *store.FolderStore, row store.DocumentRow) map[string]any {
	meta, err := st.LoadMetadata(row.Hash)
	if err != nil {
		return map[string]any{}
	}
	return typeMetadata(meta)
}

// typeMetadata derives type-specific counts from the chunk coordinates:
// page count for PDFs, sheet count for spreadsheets, slide count for
// presentations, word count for everything.
func typeMetadata(meta store.FileMetadata) map[string]any {
	out := map[string]any{
		"chunkCount": len(meta.Chunks),
		"wordCount":  len(strings.Fields(meta.ParsedContent)),
	}

	switch meta.ContentType {
	case chunk.ContentTypePDF:
		pages := map[int]bool{}
		for _, c := range meta.Chunks {
			if c.Extraction.PageNumber > 0 {
				pages[c.Extraction.PageNumber] = true
			}
		}
		out["pageCount"] = len(pages)
	case chunk.ContentTypeSpreadsheet:
		sheets := map[string]bool{}
		for _, c := range meta.Chunks {
			if c.Extraction.SheetName != "" {
				sheets[c.Extraction.SheetName] = true
			}
		}
		out["sheetCount"] = len(sheets)
	case chunk.ContentTypePresentation:
		slides := map[int]bool{}
		for _, c := range meta.Chunks {
			if c.Extraction.SlideNumber > 0 {
				slides[c.Extraction.SlideNumber] = true
			}
		}
		out["slideCount"] = len(slides)
	}
	return out
}

// buildOutline produces the structural outline, discriminated by type.
func buildOutline(meta store.FileMetadata) map[string]any {
	switch meta.ContentType {
	case chunk.ContentTypePDF:
		type page struct {
			Number int `json:"number"`
			Chunks int `json:"chunks"`
		}
		counts := map[int]int{}
		for _, c := range meta.Chunks {
			counts[c.Extraction.PageNumber]++
		}
		pages := make([]page, 0, len(counts))
		for n, chunks := range counts {
			pages = append(pages, page{Number: n, Chunks: chunks})
		}
		sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
		return map[string]any{"type": "pdf", "pages": pages}

	case chunk.ContentTypeSpreadsheet:
		type sheet struct {
			Name   string `json:"name"`
			Ranges []string `json:"ranges"`
		}
		order := []string{}
		ranges := map[string][]string{}
		for _, c := range meta.Chunks {
			name := c.Extraction.SheetName
			if _, seen := ranges[name]; !seen {
				order = append(order, name)
			}
			ranges[name] = append(ranges[name], c.Extraction.CellRange)
		}
		sheets := make([]sheet, 0, len(order))
		for _, name := range order {
			sheets = append(sheets, sheet{Name: name, Ranges: ranges[name]})
		}
		return map[string]any{"type": "spreadsheet", "sheets": sheets}

	case chunk.ContentTypePresentation:
		type slide struct {
			Number int `json:"number"`
			Chunks int `json:"chunks"`
		}
		counts := map[int]int{}
		for _, c := range meta.Chunks {
			counts[c.Extraction.SlideNumber]++
		}
		slides := make([]slide, 0, len(counts))
		for n, chunks := range counts {
			slides = append(slides, slide{Number: n, Chunks: chunks})
		}
		sort.Slice(slides, func(i, j int) bool { return slides[i].Number < slides[j].Number })
		return map[string]any{"type": "presentation", "slides": slides}

	default:
		// Prose: the heading hierarchy, in document order, deduplicated.
		type heading struct {
			Path string `json:"path"`
		}
		seen := map[string]bool{}
		headings := []heading{}
		for _, c := range meta.Chunks {
			p := c.Extraction.HeadingPath
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			headings = append(headings, heading{Path: p})
		}
		if len(headings) > 0 {
			return map[string]any{"type": "headings", "headings": headings}
		}
		// No headings: fall back to flat sections, one per chunk.
		type section struct {
			Index int `json:"index"`
			Tokens int `json:"tokens"`
		}
		sections := make([]section, 0, len(meta.Chunks))
		for _, c := range meta.Chunks {
			sections = append(sections, section{Index: c.ChunkIndex, Tokens: c.TokenCount})
		}
		return map[string]any{"type": "sections", "sections": sections}
	}
}
