package store

import (
	"fmt"
	"strings"

	"github.com/folder-mcp/daemon/internal/chunk"
)

// ParseFunc re-parses a source file into its text form. The chunk
// coordinates address offsets within this parsed text, so any parser
// satisfying the parse contract reproduces the same spans.
type ParseFunc func(path string) (*chunk.ParsedContent, error)

// ReExtract re-reads one chunk's text from its source file by replaying
// the chunk's extraction coordinates, independent of the chunker's current
// output. This is the bidirectional re-extraction contract: a chunk stays
// re-readable even after the chunker evolves.
func ReExtract(sourcePath string, c chunk.DocChunk, parse ParseFunc) (string, error) {
	parsed, err := parse(sourcePath)
	if err != nil {
		return "", fmt.Errorf("reextract: parse %s: %w", sourcePath, err)
	}

	text := parsed.Text
	start, end := c.StartOffset, c.EndOffset
	if start < 0 || end < start || end > len(text) {
		return "", fmt.Errorf("reextract: chunk %d of %s has offsets [%d,%d) outside parsed text of length %d",
			c.ChunkIndex, sourcePath, start, end, len(text))
	}
	return text[start:end], nil
}

// NormalizeForComparison collapses whitespace runs so re-extracted text
// can be compared structurally against the stored chunk content.
func NormalizeForComparison(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
