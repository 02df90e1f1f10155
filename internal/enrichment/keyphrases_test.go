package enrichment

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = `Vector databases store embeddings for similarity search.
Similarity search over vector databases scales with index structure.
The index structure determines recall and latency for similarity search.`

func TestExtract_FrequencyFallback_ReturnsPhrases(t *testing.T) {
	got, err := Extract(context.Background(), sampleText, nil, nil, ExtractionConfig{})
	require.NoError(t, err)
	require.NotEmpty(t, got.Phrases)
	assert.LessOrEqual(t, len(got.Phrases), DefaultTopK)

	// "similarity search" appears three times and should rank near the top.
	assert.Contains(t, got.Phrases[0], "similarity search")
}

func TestExtract_StopwordCorpus_ReturnsEmptyNotCrash(t *testing.T) {
	got, err := Extract(context.Background(), "the of and to in on for is are was", nil, nil, ExtractionConfig{})
	require.NoError(t, err)
	assert.Empty(t, got.Phrases)
	assert.Zero(t, got.MultiwordRatio)
}

func TestExtract_EmptyText(t *testing.T) {
	got, err := Extract(context.Background(), "", nil, nil, ExtractionConfig{})
	require.NoError(t, err)
	assert.Empty(t, got.Phrases)
}

func TestExtract_PureNumericNgramsRejected(t *testing.T) {
	got, err := Extract(context.Background(), "2023 2024 2025 2026 2027 2028", nil, nil, ExtractionConfig{})
	require.NoError(t, err)
	assert.Empty(t, got.Phrases)
}

func TestExtract_NoEdgeStopwords(t *testing.T) {
	got, err := Extract(context.Background(), sampleText, nil, nil, ExtractionConfig{})
	require.NoError(t, err)
	for _, phrase := range got.Phrases {
		words := strings.Fields(phrase)
		assert.False(t, stopWords[words[0]], "phrase %q starts with a stop word", phrase)
		assert.False(t, stopWords[words[len(words)-1]], "phrase %q ends with a stop word", phrase)
	}
}

func TestExtract_MultiwordRatioReported(t *testing.T) {
	got, err := Extract(context.Background(), sampleText, nil, nil, ExtractionConfig{})
	require.NoError(t, err)
	require.NotEmpty(t, got.Phrases)
	// n-grams with n >= 2 are all multiword.
	assert.InDelta(t, 1.0, got.MultiwordRatio, 1e-9)
}

// fixedEmbedder returns canned vectors per phrase; unknown phrases embed
// orthogonally to the document vector.
type fixedEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (f *fixedEmbedder) EmbedCandidate(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestExtract_EmbeddingPath_RanksByRelevanceWithMMR(t *testing.T) {
	doc := []float32{1, 0, 0}
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"vector databases":  {1, 0, 0},       // identical to doc
		"similarity search": {0.99, 0.1, 0},  // near-duplicate of the above
		"index structure":   {0.6, 0.8, 0},   // relevant but diverse
	}}

	got, err := Extract(context.Background(), sampleText, doc, embedder, ExtractionConfig{TopK: 2, Lambda: 0.3})
	require.NoError(t, err)
	require.Len(t, got.Phrases, 2)

	// Highest relevance first; a diversity-heavy lambda then prefers the
	// diverse candidate over the near-duplicate.
	assert.Equal(t, "vector databases", got.Phrases[0])
	assert.Equal(t, "index structure", got.Phrases[1])
}

func TestExtract_EmbeddingPath_ThresholdDropsIrrelevant(t *testing.T) {
	doc := []float32{1, 0, 0}
	// Everything embeds orthogonal to doc: cosine 0 < threshold 0.3.
	embedder := &fixedEmbedder{vectors: map[string][]float32{}}

	got, err := Extract(context.Background(), sampleText, doc, embedder, ExtractionConfig{})
	require.NoError(t, err)
	assert.Empty(t, got.Phrases)
}

func TestExtract_CandidateCapRespected(t *testing.T) {
	// Long varied text yields many candidates; the CPU cap bounds embed calls.
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("unique")
		b.WriteByte(byte('a' + i%26))
		b.WriteString(" phrase")
		b.WriteByte(byte('a' + i%26))
		b.WriteString(" marker. ")
	}

	doc := []float32{1, 0, 0}
	embedder := &fixedEmbedder{vectors: map[string][]float32{}}
	_, err := Extract(context.Background(), b.String(), doc, embedder, ExtractionConfig{BatchCapable: false})
	require.NoError(t, err)
	assert.LessOrEqual(t, embedder.calls, MaxCandidatesCPU)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 0}), "dimension mismatch scores zero")
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 0}), "zero vector scores zero")
}
