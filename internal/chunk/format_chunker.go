package chunk

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FormatChunkerOptions configures bounded-token splitting, shared across all
// format boundaries (slides, sheets, pages, headings).
type FormatChunkerOptions struct {
	MaxTokens int
	MinTokens int
}

// FormatChunker splits already-parsed content into DocChunks with
// format-aware boundaries: slides for presentations, sheets for
// spreadsheets, pages for PDFs, headings for everything else. Every chunk
// carries the extraction coordinates needed to re-read that exact span from
// the source file without re-parsing its siblings.
type FormatChunker struct {
	opts FormatChunkerOptions
}

func NewFormatChunker(opts FormatChunkerOptions) *FormatChunker {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxChunkTokens
	}
	if opts.MinTokens == 0 {
		opts.MinTokens = MinChunkTokens
	}
	return &FormatChunker{opts: opts}
}

var (
	slideMarkerA = regexp.MustCompile(`(?m)^Slide\s+(\d+)\s*:?\s*$`)
	slideMarkerB = regexp.MustCompile(`(?m)^#{1,6}[ \t]*Slide[ \t]+(\d+)[ \t]*:?[ \t]*(.*)$`)
	sheetMarker  = regexp.MustCompile(`(?m)^Sheet:\s*(.+)$`)
	pageMarker   = regexp.MustCompile(`(?m)^\[Page\s+(\d+)\]\s*$`)
)

// ChunkDocument splits parsed content for ownerHash into a contiguous,
// zero-indexed chunk sequence.
func (f *FormatChunker) ChunkDocument(ownerHash string, parsed *ParsedContent) ([]DocChunk, error) {
	var spans []docSpan
	switch parsed.Type {
	case ContentTypePresentation:
		spans = f.splitSlides(parsed.Text)
	case ContentTypeSpreadsheet:
		spans = f.splitSheets(parsed.Text)
	case ContentTypePDF:
		spans = f.splitPages(parsed.Text)
	default:
		spans = f.splitHeadings(parsed.Text)
	}

	chunks := make([]DocChunk, 0, len(spans))
	for i, sp := range spans {
		chunks = append(chunks, DocChunk{
			OwnerHash:   ownerHash,
			ChunkIndex:  i,
			Content:     sp.content,
			StartOffset: sp.start,
			EndOffset:   sp.end,
			TokenCount:  estimateTokens(sp.content),
			ContentType: parsed.Type,
			Extraction:  sp.extraction,
		})
	}
	return chunks, nil
}

type docSpan struct {
	content    string
	start, end int
	extraction ExtractionParams
}

// splitSlides groups text by slide marker (either form), sorts slides
// numerically by their declared number, and bounds each slide's own content
// to MaxTokens by falling back to paragraph splitting.
func (f *FormatChunker) splitSlides(text string) []docSpan {
	type slide struct {
		number  int
		content string
		start   int
	}
	var slides []slide

	type marker struct {
		pos    int
		end    int
		number int
	}
	var markers []marker
	for _, m := range slideMarkerA.FindAllStringSubmatchIndex(text, -1) {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		markers = append(markers, marker{pos: m[0], end: m[1], number: n})
	}
	for _, m := range slideMarkerB.FindAllStringSubmatchIndex(text, -1) {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		markers = append(markers, marker{pos: m[0], end: m[1], number: n})
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].pos < markers[j].pos })

	if len(markers) == 0 {
		return f.boundedSpans(text, 0, ExtractionParams{SlideNumber: 1})
	}

	for i, m := range markers {
		contentStart := m.end
		contentEnd := len(text)
		if i+1 < len(markers) {
			contentEnd = markers[i+1].pos
		}
		slides = append(slides, slide{
			number:  m.number,
			content: strings.TrimSpace(text[contentStart:contentEnd]),
			start:   contentStart,
		})
	}
	sort.SliceStable(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	var spans []docSpan
	for _, s := range slides {
		if s.content == "" {
			continue
		}
		spans = append(spans, f.boundedSpans(s.content, s.start, ExtractionParams{SlideNumber: s.number})...)
	}
	return spans
}

// splitSheets groups text by "Sheet: <name>" markers; within a sheet, rows
// are bounded to MaxTokens and the covered rows recorded as a cell range.
func (f *FormatChunker) splitSheets(text string) []docSpan {
	locs := sheetMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return f.boundedSheetRows(text, 0, "Sheet1")
	}

	var spans []docSpan
	for i, loc := range locs {
		name := text[loc[2]:loc[3]]
		bodyStart := loc[1]
		bodyEnd := len(text)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		spans = append(spans, f.boundedSheetRows(text[bodyStart:bodyEnd], bodyStart, name)...)
	}
	return spans
}

func (f *FormatChunker) boundedSheetRows(body string, baseOffset int, sheetName string) []docSpan {
	rows := strings.Split(strings.Trim(body, "\n"), "\n")
	var spans []docSpan
	var cur []string
	firstRow := 1
	row := 1
	tokens := 0
	chunkStartOffset := baseOffset
	pos := baseOffset

	flush := func(lastRow int) {
		if len(cur) == 0 {
			return
		}
		content := strings.Join(cur, "\n")
		spans = append(spans, docSpan{
			content: content,
			start:   chunkStartOffset,
			end:     chunkStartOffset + len(content),
			extraction: ExtractionParams{
				SheetName: sheetName,
				CellRange: "R" + strconv.Itoa(firstRow) + ":R" + strconv.Itoa(lastRow),
			},
		})
	}

	for _, r := range rows {
		if strings.TrimSpace(r) == "" {
			row++
			pos++
			continue
		}
		t := estimateTokens(r)
		if len(cur) > 0 && tokens+t > f.opts.MaxTokens {
			flush(row - 1)
			cur = nil
			tokens = 0
			firstRow = row
			chunkStartOffset = pos
		}
		cur = append(cur, r)
		tokens += t
		pos += len(r) + 1
		row++
	}
	flush(row - 1)
	return spans
}

// splitPages groups text by "[Page N]" markers or form-feed bytes.
func (f *FormatChunker) splitPages(text string) []docSpan {
	var pages []struct {
		number  int
		content string
		start   int
	}

	if locs := pageMarker.FindAllStringSubmatchIndex(text, -1); len(locs) > 0 {
		for i, loc := range locs {
			n, _ := strconv.Atoi(text[loc[2]:loc[3]])
			start := loc[1]
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			pages = append(pages, struct {
				number  int
				content string
				start   int
			}{n, strings.TrimSpace(text[start:end]), start})
		}
	} else {
		parts := strings.Split(text, "\f")
		offset := 0
		for i, p := range parts {
			pages = append(pages, struct {
				number  int
				content string
				start   int
			}{i + 1, strings.TrimSpace(p), offset})
			offset += len(p) + 1
		}
	}

	var spans []docSpan
	for _, p := range pages {
		if p.content == "" {
			continue
		}
		spans = append(spans, f.boundedSpans(p.content, p.start, ExtractionParams{PageNumber: p.number})...)
	}
	return spans
}

// splitHeadings delegates to the prose chunker, whose spans already carry
// exact byte offsets and heading-path coordinates.
func (f *FormatChunker) splitHeadings(text string) []docSpan {
	prose := NewProseChunker(ProseChunkerOptions{MaxTokens: f.opts.MaxTokens})

	var spans []docSpan
	for _, span := range prose.Split(text) {
		spans = append(spans, docSpan{
			content:    span.Content,
			start:      span.Start,
			end:        span.End,
			extraction: ExtractionParams{HeadingPath: span.HeadingPath},
		})
	}
	return spans
}

// boundedSpans splits body into MaxTokens-bounded paragraph groups, each
// tagged with extraction (slide/page number, etc.) shared by the whole body.
func (f *FormatChunker) boundedSpans(body string, baseOffset int, extraction ExtractionParams) []docSpan {
	if estimateTokens(body) <= f.opts.MaxTokens {
		return []docSpan{{content: body, start: baseOffset, end: baseOffset + len(body), extraction: extraction}}
	}

	paragraphs := strings.Split(body, "\n\n")
	var spans []docSpan
	var cur strings.Builder
	start := baseOffset
	pos := baseOffset

	flush := func(end int) {
		if cur.Len() == 0 {
			return
		}
		spans = append(spans, docSpan{content: cur.String(), start: start, end: end, extraction: extraction})
	}

	for _, p := range paragraphs {
		t := estimateTokens(p)
		if cur.Len() > 0 && estimateTokens(cur.String())+t > f.opts.MaxTokens {
			flush(pos)
			cur.Reset()
			start = pos
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
		pos += len(p) + 2
	}
	flush(pos)
	return spans
}
