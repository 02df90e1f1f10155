// Package enrichment derives semantic metadata for chunks: key phrases via
// n-gram extraction with embedding-guided MMR re-ranking, and a readability
// score per chunk.
package enrichment

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Extraction defaults.
const (
	DefaultMinNgram = 2
	DefaultMaxNgram = 4
	DefaultTopK     = 10

	// DefaultLambda is the MMR diversity factor: 1.0 is pure relevance,
	// 0.0 is pure diversity.
	DefaultLambda = 0.5

	// DefaultSimilarityThreshold drops candidates whose cosine to the
	// document vector falls below it.
	DefaultSimilarityThreshold = 0.3

	// Candidate caps before embedding: CPU-only models embed one text at a
	// time, batch-capable models amortise larger candidate sets.
	MaxCandidatesCPU   = 15
	MaxCandidatesBatch = 50

	// maxStopwordRatio rejects n-grams that are mostly glue words.
	maxStopwordRatio = 0.5

	// Candidate length bounds in characters.
	minCandidateLen = 4
	maxCandidateLen = 80
)

// ExtractionConfig tunes key-phrase extraction. Zero values take the
// documented defaults.
type ExtractionConfig struct {
	MinNgram            int
	MaxNgram            int
	TopK                int
	Lambda              float64
	SimilarityThreshold float64

	// BatchCapable widens the candidate cap from MaxCandidatesCPU to
	// MaxCandidatesBatch.
	BatchCapable bool
}

func (c *ExtractionConfig) applyDefaults() {
	if c.MinNgram <= 0 {
		c.MinNgram = DefaultMinNgram
	}
	if c.MaxNgram < c.MinNgram {
		c.MaxNgram = DefaultMaxNgram
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.Lambda == 0 {
		c.Lambda = DefaultLambda
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
}

func (c *ExtractionConfig) candidateCap() int {
	if c.BatchCapable {
		return MaxCandidatesBatch
	}
	return MaxCandidatesCPU
}

// CandidateEmbedder embeds short candidate phrases for relevance scoring.
// The embed pool's scoped candidate cache satisfies this.
type CandidateEmbedder interface {
	EmbedCandidate(ctx context.Context, text string) ([]float32, error)
}

// KeyPhrases is the extraction result plus observability counters.
type KeyPhrases struct {
	Phrases []string

	// MultiwordRatio is the share of returned phrases with more than one
	// word; reported for observability.
	MultiwordRatio float64
}

// bleve's analysis chain: unicode segmentation, lowercasing, and the
// English stop-word table.
var (
	phraseTokenizer = bleveunicode.NewUnicodeTokenizer()
	lowercaseFilter = lowercase.NewLowerCaseFilter()
	stopWords       = mustStopWords()
)

func mustStopWords() analysis.TokenMap {
	tm := analysis.NewTokenMap()
	if err := tm.LoadBytes(en.EnglishStopWords); err != nil {
		panic("enrichment: load english stop words: " + err.Error())
	}
	return tm
}

// Extract derives key phrases from text. When embedder is non-nil and a
// document vector is supplied, candidates are ranked by cosine to the
// document embedding with MMR diversity; otherwise frequency ranking is
// the fallback. A corpus of pure stop words yields an empty result.
func Extract(ctx context.Context, text string, docVector []float32, embedder CandidateEmbedder, cfg ExtractionConfig) (KeyPhrases, error) {
	cfg.applyDefaults()

	candidates := collectCandidates(text, cfg)
	if len(candidates) == 0 {
		return KeyPhrases{Phrases: []string{}}, nil
	}

	var phrases []string
	if embedder != nil && len(docVector) > 0 {
		ranked, err := rankByEmbedding(ctx, candidates, docVector, embedder, cfg)
		if err != nil {
			return KeyPhrases{}, err
		}
		phrases = ranked
	} else {
		phrases = rankByFrequency(candidates, cfg.TopK)
	}

	return KeyPhrases{
		Phrases:        phrases,
		MultiwordRatio: multiwordRatio(phrases),
	}, nil
}

// candidate is an n-gram with its occurrence count.
type candidate struct {
	phrase string
	count  int
}

// collectCandidates tokenizes text and gathers quality-filtered n-grams,
// most frequent first.
func collectCandidates(text string, cfg ExtractionConfig) []candidate {
	tokens := tokenizeLower(text)
	if len(tokens) < cfg.MinNgram {
		return nil
	}

	counts := make(map[string]int)
	order := make([]string, 0)
	for n := cfg.MinNgram; n <= cfg.MaxNgram; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			gram := tokens[i : i+n]
			if !passesQuality(gram) {
				continue
			}
			phrase := strings.Join(gram, " ")
			if counts[phrase] == 0 {
				order = append(order, phrase)
			}
			counts[phrase]++
		}
	}

	candidates := make([]candidate, 0, len(order))
	for _, phrase := range order {
		candidates = append(candidates, candidate{phrase: phrase, count: counts[phrase]})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].count > candidates[j].count })
	return candidates
}

func tokenizeLower(text string) []string {
	stream := lowercaseFilter.Filter(phraseTokenizer.Tokenize([]byte(text)))
	tokens := make([]string, 0, len(stream))
	for _, tok := range stream {
		tokens = append(tokens, string(tok.Term))
	}
	return tokens
}

// passesQuality applies the candidate heuristics: bounded length, limited
// stop-word ratio, edges not stop words, not purely numeric.
func passesQuality(gram []string) bool {
	stop := 0
	numeric := 0
	length := len(gram) - 1 // separators
	for _, w := range gram {
		length += len(w)
		if stopWords[w] {
			stop++
		}
		if isNumeric(w) {
			numeric++
		}
	}
	if length < minCandidateLen || length > maxCandidateLen {
		return false
	}
	if numeric == len(gram) {
		return false
	}
	if float64(stop)/float64(len(gram)) > maxStopwordRatio {
		return false
	}
	// A phrase starting or ending on a stop word reads as a fragment.
	if stopWords[gram[0]] || stopWords[gram[len(gram)-1]] {
		return false
	}
	return true
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return true
}

// rankByEmbedding embeds each candidate, scores cosine relevance to the
// document vector, then applies Maximal Marginal Relevance.
func rankByEmbedding(ctx context.Context, candidates []candidate, docVector []float32, embedder CandidateEmbedder, cfg ExtractionConfig) ([]string, error) {
	if limit := cfg.candidateCap(); len(candidates) > limit {
		candidates = candidates[:limit]
	}

	type scored struct {
		phrase    string
		vector    []float32
		relevance float64
	}

	pool := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vec, err := embedder.EmbedCandidate(ctx, c.phrase)
		if err != nil {
			return nil, err
		}
		rel := cosine(vec, docVector)
		if rel < cfg.SimilarityThreshold {
			continue
		}
		pool = append(pool, scored{phrase: c.phrase, vector: vec, relevance: rel})
	}
	if len(pool) == 0 {
		return []string{}, nil
	}

	// MMR: greedily pick the candidate maximising
	// lambda*relevance - (1-lambda)*max-similarity-to-selected.
	selected := make([]scored, 0, cfg.TopK)
	remaining := pool
	for len(selected) < cfg.TopK && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			redundancy := 0.0
			for _, s := range selected {
				if sim := cosine(cand.vector, s.vector); sim > redundancy {
					redundancy = sim
				}
			}
			score := cfg.Lambda*cand.relevance - (1-cfg.Lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	phrases := make([]string, len(selected))
	for i, s := range selected {
		phrases[i] = s.phrase
	}
	return phrases, nil
}

// rankByFrequency is the no-model fallback: candidates are already sorted
// by count; longer phrases win ties.
func rankByFrequency(candidates []candidate, topK int) []string {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return len(candidates[i].phrase) > len(candidates[j].phrase)
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	phrases := make([]string, len(candidates))
	for i, c := range candidates {
		phrases[i] = c.phrase
	}
	return phrases
}

func multiwordRatio(phrases []string) float64 {
	if len(phrases) == 0 {
		return 0
	}
	multi := 0
	for _, p := range phrases {
		if strings.ContainsRune(p, ' ') {
			multi++
		}
	}
	return float64(multi) / float64(len(phrases))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
