package embed

// ModelBackend identifies which runtime serves a curated model.
type ModelBackend string

const (
	// BackendOllama models are pulled and served by a local Ollama daemon.
	BackendOllama ModelBackend = "ollama"

	// BackendGGUF models are downloaded as GGUF files into the models dir.
	BackendGGUF ModelBackend = "gguf"

	// BackendStatic is the built-in hash embedder; always present.
	BackendStatic ModelBackend = "static"
)

// ModelSpec describes one curated embedding model.
type ModelSpec struct {
	// ID is the model identifier folder configuration refers to.
	ID string `json:"id"`

	// DisplayName is the human-readable name shown by clients.
	DisplayName string `json:"displayName"`

	// Backend selects the runtime.
	Backend ModelBackend `json:"backend"`

	// File and URL describe the downloadable artefact for GGUF models.
	File      string `json:"file,omitempty"`
	URL       string `json:"url,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`

	// Dimensions is the vector dimension D the model produces.
	Dimensions int `json:"dimensions"`

	// Languages the model handles well; used by model recommendation.
	Languages []string `json:"languages,omitempty"`

	// BatchCapable marks models that embed many texts per call efficiently.
	// CPU-only models get smaller candidate caps during key-phrase scoring.
	BatchCapable bool `json:"batchCapable"`

	// QueryPrefix / PassagePrefix are instruction prefixes for asymmetric
	// retrieval models. Empty for symmetric models.
	QueryPrefix   string `json:"queryPrefix,omitempty"`
	PassagePrefix string `json:"passagePrefix,omitempty"`
}

// CuratedModels is the built-in catalog surfaced to clients via
// models.list and the FMDM curatedModels field.
var CuratedModels = []ModelSpec{
	{
		ID:            "nomic-embed-text",
		DisplayName:   "Nomic Embed Text v1.5",
		Backend:       BackendOllama,
		Dimensions:    768,
		Languages:     []string{"en"},
		BatchCapable:  true,
		QueryPrefix:   "search_query: ",
		PassagePrefix: "search_document: ",
	},
	{
		ID:           "embeddinggemma",
		DisplayName:  "EmbeddingGemma 308M",
		Backend:      BackendOllama,
		Dimensions:   768,
		Languages:    []string{"en", "de", "fr", "es", "it", "pt", "ja", "ko", "zh"},
		BatchCapable: true,
	},
	{
		ID:           "mxbai-embed-large",
		DisplayName:  "MixedBread Embed Large v1",
		Backend:      BackendOllama,
		Dimensions:   1024,
		Languages:    []string{"en"},
		BatchCapable: true,
		QueryPrefix:  "Represent this sentence for searching relevant passages: ",
	},
	{
		ID:          "nomic-embed-text-gguf",
		DisplayName: "Nomic Embed Text v1.5 (GGUF, offline)",
		Backend:     BackendGGUF,
		File:        "nomic-embed-text-v1.5.Q8_0.gguf",
		URL:         "https://huggingface.co/nomic-ai/nomic-embed-text-v1.5-GGUF/resolve/main/nomic-embed-text-v1.5.Q8_0.gguf",
		SizeBytes:   146 * 1024 * 1024,
		Dimensions:  768,
		Languages:   []string{"en"},
	},
	{
		ID:           "static",
		DisplayName:  "Static hash embedder (no model)",
		Backend:      BackendStatic,
		Dimensions:   StaticDimensions,
		Languages:    []string{"en"},
		BatchCapable: true,
	},
}

// LookupModel finds a curated model by id.
func LookupModel(id string) (ModelSpec, bool) {
	for _, spec := range CuratedModels {
		if spec.ID == id {
			return spec, true
		}
	}
	return ModelSpec{}, false
}

// RecommendMode selects how model recommendation weighs its inputs.
type RecommendMode string

const (
	RecommendAssisted RecommendMode = "assisted"
	RecommendManual   RecommendMode = "manual"
)

// RecommendModels ranks curated models for the given content languages.
// Assisted mode prefers broad language coverage and batch capability;
// manual mode returns the full catalog so the user decides.
func RecommendModels(languages []string, mode RecommendMode) []ModelSpec {
	if mode == RecommendManual {
		out := make([]ModelSpec, len(CuratedModels))
		copy(out, CuratedModels)
		return out
	}

	want := make(map[string]bool, len(languages))
	for _, l := range languages {
		want[l] = true
	}

	type scored struct {
		spec  ModelSpec
		score int
	}
	ranked := make([]scored, 0, len(CuratedModels))
	for _, spec := range CuratedModels {
		s := 0
		for _, l := range spec.Languages {
			if want[l] {
				s += 2
			}
		}
		if spec.BatchCapable {
			s++
		}
		if spec.Backend == BackendStatic {
			s -= 3 // last resort
		}
		ranked = append(ranked, scored{spec: spec, score: s})
	}

	// Insertion sort: the catalog is tiny and order must be stable.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	out := make([]ModelSpec, len(ranked))
	for i, r := range ranked {
		out[i] = r.spec
	}
	return out
}
