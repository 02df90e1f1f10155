package vectorindex

import (
	"sort"
	"strings"
)

// MaxHitsPerDocument caps how many hits a single document contributes to a
// grouped result set.
const MaxHitsPerDocument = 3

// DocumentGroup is one source document's contribution to a grouped result
// set, sorted by descending score; the groups themselves are sorted by
// each group's best hit.
type DocumentGroup struct {
	OwnerHash  string
	FolderPath string
	MaxScore   float32
	Hits       []SearchResult
}

// GroupByDocument groups hits by source document, deduplicating hits that
// lie within +-1 chunkIndex of each other in the same file (the higher
// score wins). Each document contributes at most MaxHitsPerDocument hits.
func GroupByDocument(results []SearchResult) []DocumentGroup {
	if len(results) == 0 {
		return nil
	}

	byDoc := make(map[string][]SearchResult)
	order := make([]string, 0)
	for _, r := range results {
		key := r.FolderPath + "\x00" + r.OwnerHash
		if _, seen := byDoc[key]; !seen {
			order = append(order, key)
		}
		byDoc[key] = append(byDoc[key], r)
	}

	groups := make([]DocumentGroup, 0, len(order))
	for _, key := range order {
		hits := byDoc[key]
		sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

		// Adjacent-chunk dedup: a hit is dropped if a higher-scoring hit
		// within one chunk of it was already kept.
		kept := make([]SearchResult, 0, len(hits))
		for _, h := range hits {
			adjacent := false
			for _, k := range kept {
				delta := h.ChunkIndex - k.ChunkIndex
				if delta >= -1 && delta <= 1 {
					adjacent = true
					break
				}
			}
			if adjacent {
				continue
			}
			kept = append(kept, h)
			if len(kept) >= MaxHitsPerDocument {
				break
			}
		}

		groups = append(groups, DocumentGroup{
			OwnerHash:  kept[0].OwnerHash,
			FolderPath: kept[0].FolderPath,
			MaxScore:   kept[0].Score,
			Hits:       kept,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].MaxScore > groups[j].MaxScore })
	return groups
}

// ExpandSnippet widens a hit's content with the last paragraph of the
// previous chunk and the first paragraph of the next chunk. Paragraphs are
// "\n\n"-delimited blocks; boundaries are preserved. Empty neighbours are
// skipped.
func ExpandSnippet(content, prevChunk, nextChunk string) string {
	var parts []string
	if p := lastParagraph(prevChunk); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, content)
	if p := firstParagraph(nextChunk); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, "\n\n")
}

func firstParagraph(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

func lastParagraph(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if idx := strings.LastIndex(text, "\n\n"); idx >= 0 {
		return strings.TrimSpace(text[idx+2:])
	}
	return text
}
