package chunk

import (
	"context"
	"os"
)

// ParsedContent is the output of the (out-of-scope) file-format parser: raw
// extracted text plus the format markers the parser is expected to emit so
// the Chunker can recover format-aware boundaries without re-opening the
// source file. Markers are plain-text conventions, not a binary structure,
// so a parser for any format can be swapped in without the Chunker caring
// how the bytes were produced.
//
// Presentation parsers emit slide boundaries as either "Slide N" or
// "## Slide N" lines (both forms are recognised; slides are sorted
// numerically by N regardless of the order they appear in the text).
// Spreadsheet parsers emit "Sheet: <name>" lines. PDF parsers emit
// "[Page N]" lines or form-feed (\f) bytes.
type ParsedContent struct {
	Type ContentType
	Text string
}

// Parser converts a source file into text plus structure markers. Real
// format parsers (PDF/DOCX/XLSX/PPTX) are external collaborators described
// by this contract; PlainTextParser is the one concrete implementation this
// package owns, for content that needs no extraction step.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParsedContent, error)
}

// PlainTextParser reads a file verbatim as text. It is the only Parser
// implementation that lives in this package — everything else (PDF, DOCX,
// XLSX, PPTX) is produced upstream and handed to the Chunker already parsed.
type PlainTextParser struct{}

func (PlainTextParser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &ParsedContent{Type: ContentTypeText, Text: string(data)}, nil
}
