package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatChunker_ChunkDocument_ContiguousIndices(t *testing.T) {
	fc := NewFormatChunker(FormatChunkerOptions{})

	parsed := &ParsedContent{
		Type: ContentTypeText,
		Text: "# Title\n\nIntro paragraph.\n\n## Section 1\n\nBody one.\n\n## Section 2\n\nBody two.\n",
	}

	chunks, err := fc.ChunkDocument("owner-a", parsed)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, c := range chunks {
		assert.Equal(t, "owner-a", c.OwnerHash)
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestFormatChunker_Slides_SortedNumericallyAcrossBothMarkerForms(t *testing.T) {
	fc := NewFormatChunker(FormatChunkerOptions{})

	// Slide 2 appears before slide 1 in the text, and the two marker forms
	// are mixed; the output must still be ordered 1, 2.
	text := "## Slide 2\nSecond slide body.\n\nSlide 1\nFirst slide body.\n"

	chunks, err := fc.ChunkDocument("deck", &ParsedContent{Type: ContentTypePresentation, Text: text})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, 1, chunks[0].Extraction.SlideNumber)
	assert.Contains(t, chunks[0].Content, "First slide body")
	assert.Equal(t, 2, chunks[1].Extraction.SlideNumber)
	assert.Contains(t, chunks[1].Content, "Second slide body")
}

func TestFormatChunker_Sheets_SplitByMarkerWithCellRange(t *testing.T) {
	fc := NewFormatChunker(FormatChunkerOptions{})

	text := "Sheet: Revenue\nrow one\nrow two\n\nSheet: Costs\nrow a\nrow b\n"

	chunks, err := fc.ChunkDocument("book", &ParsedContent{Type: ContentTypeSpreadsheet, Text: text})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Revenue", chunks[0].Extraction.SheetName)
	assert.NotEmpty(t, chunks[0].Extraction.CellRange)
	assert.Equal(t, "Costs", chunks[1].Extraction.SheetName)
}

func TestFormatChunker_Pages_SplitByMarker(t *testing.T) {
	fc := NewFormatChunker(FormatChunkerOptions{})

	text := "[Page 1]\nfirst page text\n\n[Page 2]\nsecond page text\n"

	chunks, err := fc.ChunkDocument("report", &ParsedContent{Type: ContentTypePDF, Text: text})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, 1, chunks[0].Extraction.PageNumber)
	assert.Equal(t, 2, chunks[1].Extraction.PageNumber)
}

func TestFormatChunker_Headings_CarriesHeadingPath(t *testing.T) {
	fc := NewFormatChunker(FormatChunkerOptions{})

	text := "# Doc\n\nIntro.\n\n## Details\n\nMore text here.\n"

	chunks, err := fc.ChunkDocument("prose", &ParsedContent{Type: ContentTypeText, Text: text})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	found := false
	for _, c := range chunks {
		if c.Extraction.HeadingPath != "" {
			found = true
		}
	}
	assert.True(t, found, "expected at least one chunk to carry a heading path")
}

func TestFormatChunker_LargeBody_BoundedByMaxTokens(t *testing.T) {
	fc := NewFormatChunker(FormatChunkerOptions{MaxTokens: 20, MinTokens: 5})

	para := "word word word word word word word word word word\n\n"
	var big string
	for i := 0; i < 10; i++ {
		big += para
	}

	chunks, err := fc.ChunkDocument("long", &ParsedContent{Type: ContentTypeText, Text: big})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "a body far exceeding MaxTokens must split into multiple chunks")
}
