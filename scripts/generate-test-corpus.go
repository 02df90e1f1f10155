//go:build ignore

// Package main generates a synthetic document corpus for benchmarking the
// indexing pipeline.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var topics = []string{
	"quarterly revenue", "staffing plan", "migration roadmap", "incident review",
	"customer onboarding", "budget forecast", "vendor evaluation", "release checklist",
	"compliance audit", "capacity planning", "support escalation", "product discovery",
}

var sentences = []string{
	"The committee reviewed the proposal and approved the next phase.",
	"Metrics from the previous quarter indicate steady improvement.",
	"Several open questions remain about the rollout timeline.",
	"Stakeholders raised concerns about resourcing and scope.",
	"The team agreed to revisit the decision at the next checkpoint.",
	"Risks were catalogued along with their mitigation owners.",
	"Follow-up actions were assigned with explicit due dates.",
	"The document summarises findings from the latest interviews.",
}

func paragraph(r *rand.Rand) string {
	n := 3 + r.Intn(4)
	parts := make([]string, n)
	for i := range parts {
		parts[i] = sentences[r.Intn(len(sentences))]
	}
	return strings.Join(parts, " ")
}

func markdownDoc(r *rand.Rand, topic string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", strings.Title(topic), paragraph(r))
	for _, section := range []string{"Background", "Findings", "Next Steps"} {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", section, paragraph(r))
	}
	return b.String()
}

func sheetDoc(r *rand.Rand, topic string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sheet: %s\n", strings.Title(topic))
	for row := 1; row <= 20+r.Intn(30); row++ {
		fmt.Fprintf(&b, "item-%d\t%d\t%s\n", row, r.Intn(10000), topics[r.Intn(len(topics))])
	}
	return b.String()
}

func slideDoc(r *rand.Rand, topic string) string {
	var b strings.Builder
	for slide := 1; slide <= 4+r.Intn(6); slide++ {
		fmt.Fprintf(&b, "Slide %d\n%s: %s\n\n", slide, strings.Title(topic), paragraph(r))
	}
	return b.String()
}

func main() {
	flag.Parse()
	r := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *numFiles; i++ {
		topic := topics[r.Intn(len(topics))]
		var name, content string
		switch i % 3 {
		case 0:
			name = fmt.Sprintf("doc-%04d.md", i)
			content = markdownDoc(r, topic)
		case 1:
			name = fmt.Sprintf("sheet-%04d.txt", i)
			content = sheetDoc(r, topic)
		default:
			name = fmt.Sprintf("deck-%04d.txt", i)
			content = slideDoc(r, topic)
		}
		if err := os.WriteFile(filepath.Join(*outputDir, name), []byte(content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Printf("generated %d documents in %s\n", *numFiles, *outputDir)
}
