package chunk

import (
	"regexp"
	"strings"
)

// ProseChunkerOptions bounds heading-based prose splitting.
type ProseChunkerOptions struct {
	MaxTokens int // per-span token ceiling (default DefaultMaxChunkTokens)
}

// ProseChunker splits markdown/plain prose along its heading hierarchy.
// Every span carries exact byte offsets into the parsed text, because the
// store's re-extraction contract replays those offsets later; nothing is
// ever injected into span content that is not present in the source.
type ProseChunker struct {
	opts ProseChunkerOptions
}

// ProseSpan is one heading-scoped, token-bounded slice of the text.
type ProseSpan struct {
	Content string

	// Start/End are byte offsets into the parsed text; text[Start:End]
	// reproduces Content exactly.
	Start, End int

	// HeadingPath is the breadcrumb down the heading hierarchy
	// ("Report > Findings"); empty for frontmatter and preamble text.
	HeadingPath string

	// HeadingLevel is the owning heading's depth (1-6), 0 when none.
	HeadingLevel int
}

var (
	// headingLine matches "# Title" through "###### Title".
	headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	// frontmatterBlock matches a YAML frontmatter fence at the top of the
	// document.
	frontmatterBlock = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// NewProseChunker creates a prose chunker.
func NewProseChunker(opts ProseChunkerOptions) *ProseChunker {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxChunkTokens
	}
	return &ProseChunker{opts: opts}
}

// Split divides text into heading-scoped spans, each bounded to
// MaxTokens by paragraph grouping. Whitespace-only text yields nothing.
func (p *ProseChunker) Split(text string) []ProseSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var spans []ProseSpan
	bodyStart := 0

	// Frontmatter becomes its own span so document metadata stays
	// searchable without polluting the first section.
	if fm := frontmatterBlock.FindString(text); fm != "" {
		content := strings.TrimRight(fm, "\n")
		if content != "" {
			spans = append(spans, ProseSpan{Content: content, Start: 0, End: len(content)})
		}
		bodyStart = len(fm)
	}

	for _, sec := range splitSections(text, bodyStart) {
		spans = append(spans, p.boundSection(text, sec)...)
	}
	return spans
}

// rawSection is one heading's slice of the text before token bounding.
type rawSection struct {
	start, end int // byte offsets into the full text
	path       string
	level      int
}

// splitSections walks the text line by line, maintaining the heading
// stack. Text before the first heading becomes a path-less preamble
// section; a heading's section runs until the next heading at any level.
func splitSections(text string, from int) []rawSection {
	var sections []rawSection
	stack := make([]string, 6)

	current := rawSection{start: from}
	flush := func(end int) {
		if end > current.start {
			sections = append(sections, rawSection{
				start: current.start,
				end:   end,
				path:  current.path,
				level: current.level,
			})
		}
	}

	offset := from
	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		var line string
		next := len(text) + 1
		if lineEnd >= 0 {
			line = text[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		} else {
			line = text[offset:]
		}

		if m := headingLine.FindStringSubmatch(line); m != nil {
			flush(offset)

			level := len(m[1])
			stack[level-1] = strings.TrimSpace(m[2])
			for i := level; i < len(stack); i++ {
				stack[i] = ""
			}
			current = rawSection{
				start: offset,
				path:  strings.Join(compactStack(stack[:level]), " > "),
				level: level,
			}
		}

		if lineEnd < 0 {
			break
		}
		offset = next
	}

	flush(len(text))
	return sections
}

func compactStack(stack []string) []string {
	out := make([]string, 0, len(stack))
	for _, title := range stack {
		if title != "" {
			out = append(out, title)
		}
	}
	return out
}

// boundSection turns one section into spans of at most MaxTokens,
// grouping whole paragraphs and never splitting a fenced block.
func (p *ProseChunker) boundSection(text string, sec rawSection) []ProseSpan {
	body := strings.TrimRight(text[sec.start:sec.end], "\n")
	if body == "" {
		return nil
	}

	// A section that is nothing but its heading line carries no content
	// worth an embedding of its own.
	if sec.level > 0 && !strings.ContainsRune(strings.TrimSpace(body), '\n') && headingLine.MatchString(strings.TrimSpace(body)) {
		return nil
	}

	if estimateTokens(body) <= p.opts.MaxTokens {
		return []ProseSpan{{
			Content:      body,
			Start:        sec.start,
			End:          sec.start + len(body),
			HeadingPath:  sec.path,
			HeadingLevel: sec.level,
		}}
	}

	return p.groupParagraphs(body, sec)
}

// paragraphSpan is one blank-line-delimited block with its offsets
// relative to the section body.
type paragraphSpan struct {
	start, end int
}

// groupParagraphs packs paragraphs into token-bounded spans. Offsets stay
// anchored to the source text throughout; an over-budget single paragraph
// (a long table, a fenced block) becomes its own oversized span rather
// than being cut mid-block.
func (p *ProseChunker) groupParagraphs(body string, sec rawSection) []ProseSpan {
	paragraphs := paragraphSpans(body)
	if len(paragraphs) == 0 {
		return nil
	}

	var spans []ProseSpan
	groupStart := paragraphs[0].start
	groupEnd := paragraphs[0].end

	emit := func() {
		content := body[groupStart:groupEnd]
		spans = append(spans, ProseSpan{
			Content:      content,
			Start:        sec.start + groupStart,
			End:          sec.start + groupEnd,
			HeadingPath:  sec.path,
			HeadingLevel: sec.level,
		})
	}

	for _, para := range paragraphs[1:] {
		grown := body[groupStart:para.end]
		if estimateTokens(grown) > p.opts.MaxTokens {
			emit()
			groupStart = para.start
		}
		groupEnd = para.end
	}
	emit()

	return spans
}

// paragraphSpans locates blank-line-delimited blocks, treating an open
// fenced code block as un-splittable: a "\n\n" inside a fence does not
// end the paragraph.
func paragraphSpans(body string) []paragraphSpan {
	var out []paragraphSpan

	start := -1 // -1: between paragraphs
	fenceOpen := false
	offset := 0

	for offset <= len(body) {
		lineEnd := strings.IndexByte(body[offset:], '\n')
		var line string
		next := len(body) + 1
		if lineEnd >= 0 {
			line = body[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		} else {
			line = body[offset:]
		}

		blank := strings.TrimSpace(line) == ""
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenceOpen = !fenceOpen
		}

		switch {
		case blank && start >= 0 && !fenceOpen:
			out = append(out, paragraphSpan{start: start, end: offset - 1})
			start = -1
		case !blank && start < 0:
			start = offset
		}

		if lineEnd < 0 {
			break
		}
		offset = next
	}

	if start >= 0 {
		out = append(out, paragraphSpan{start: start, end: len(body)})
	}
	return out
}
