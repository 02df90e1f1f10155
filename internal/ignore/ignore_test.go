package ignore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bare returns a Set without the built-in defaults, so pattern-syntax
// tests see exactly the rules they add.
func bare(patterns ...string) *Set {
	s := &Set{}
	for _, p := range patterns {
		s.Add(p)
	}
	return s
}

func TestSet_DefaultsAlwaysApply(t *testing.T) {
	s := NewSet()

	assert.True(t, s.Ignored(".folder-mcp", true))
	assert.True(t, s.Ignored(".folder-mcp/metadata/abc.json", false))
	assert.True(t, s.Ignored(".git", true))
	assert.True(t, s.Ignored(".git/objects/ab/cdef", false))
	assert.True(t, s.Ignored("node_modules/react/index.js", false))

	assert.False(t, s.Ignored("report.md", false))
	assert.False(t, s.Ignored("docs", true))
}

func TestSet_ConfiguredExcludesLayerOnDefaults(t *testing.T) {
	s := NewSet("*.tmp", "drafts/")

	assert.True(t, s.Ignored("notes.tmp", false))
	assert.True(t, s.Ignored("drafts", true))
	assert.True(t, s.Ignored("drafts/plan.md", false))
	assert.True(t, s.Ignored(".folder-mcp/vectors/index.bin", false), "defaults survive excludes")

	assert.False(t, s.Ignored("notes.md", false))
}

func TestSet_SimplePatterns(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		isDir   bool
		want    bool
	}{
		{"*.log", "daemon.log", false, true},
		{"*.log", "logs/daemon.log", false, true},
		{"*.log", "daemon.txt", false, false},
		{"report.md", "report.md", false, true},
		{"report.md", "docs/report.md", false, true},
		{"report.md", "summary.md", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.path, func(t *testing.T) {
			s := bare(tt.pattern)
			assert.Equal(t, tt.want, s.Ignored(tt.path, tt.isDir))
		})
	}
}

func TestSet_WildcardPatterns(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.xls?", "budget.xlsx", true},
		{"*.xls?", "budget.xls", false}, // ? requires exactly one char
		{"q?.md", "q1.md", true},
		{"q?.md", "q10.md", false},
		{"draft-*", "draft-2026.md", true},
		{"draft-*", "final-2026.md", false},
		{"*", "anything.pdf", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.path, func(t *testing.T) {
			s := bare(tt.pattern)
			assert.Equal(t, tt.want, s.Ignored(tt.path, false))
		})
	}
}

func TestSet_DoubleStarPatterns(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/archive", "archive", true},
		{"**/archive", "docs/archive", true},
		{"**/archive", "docs/old/archive", true},
		{"**/archive/*.md", "docs/archive/old.md", true},
		{"archive/**", "archive/2025/q1.md", true},
		{"archive/**", "docs/archive/q1.md", false}, // rooted by interior slash
		{"docs/**/drafts", "docs/drafts", true},
		{"docs/**/drafts", "docs/2026/drafts", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.path, func(t *testing.T) {
			s := bare(tt.pattern)
			assert.Equal(t, tt.want, s.Ignored(tt.path, false))
		})
	}
}

func TestSet_RootedPatterns(t *testing.T) {
	s := bare("/build")
	assert.True(t, s.Ignored("build", false))
	assert.False(t, s.Ignored("docs/build", false), "rooted pattern must not match nested path")

	s = bare("docs/drafts")
	assert.True(t, s.Ignored("docs/drafts", false))
	assert.False(t, s.Ignored("old/docs/drafts", false), "interior slash anchors to the root")
}

func TestSet_Negation(t *testing.T) {
	s := bare("*.log", "!keep.log")

	assert.True(t, s.Ignored("daemon.log", false))
	assert.False(t, s.Ignored("keep.log", false), "negation re-includes")

	// Order matters: a later ignore wins over an earlier negation.
	s = bare("!keep.log", "*.log")
	assert.True(t, s.Ignored("keep.log", false))
}

func TestSet_DirectoryOnlyPatterns(t *testing.T) {
	s := bare("temp/")

	assert.True(t, s.Ignored("temp", true))
	assert.False(t, s.Ignored("temp", false), "dir-only pattern must not match a plain file")
	assert.True(t, s.Ignored("temp/scratch.md", false), "contents of an ignored directory are ignored")
	assert.True(t, s.Ignored("docs/temp", true), "unanchored dir pattern matches at depth")
	assert.True(t, s.Ignored("docs/temp/scratch.md", false))
}

func TestSet_RootedDirectoryPattern(t *testing.T) {
	s := bare("/cache/")

	assert.True(t, s.Ignored("cache", true))
	assert.True(t, s.Ignored("cache/page.html", false))
	assert.False(t, s.Ignored("docs/cache", true))
}

func TestSet_ScopedPatternsOnlyApplyInSubtree(t *testing.T) {
	s := &Set{}
	s.AddScoped("*.csv", "finance")

	assert.True(t, s.Ignored("finance/q1.csv", false))
	assert.True(t, s.Ignored("finance/2026/q1.csv", false))
	assert.False(t, s.Ignored("q1.csv", false), "scope must not leak to the root")
	assert.False(t, s.Ignored("hr/q1.csv", false))
}

func TestSet_EscapedHash(t *testing.T) {
	s := bare(`\#important.md`)
	assert.True(t, s.Ignored("#important.md", false))
}

func TestSet_EscapedExclamation(t *testing.T) {
	s := bare(`\!readme.md`)
	assert.True(t, s.Ignored("!readme.md", false))
}

func TestSet_TrailingEscapedSpace(t *testing.T) {
	s := bare(`report\ `)
	assert.True(t, s.Ignored("report ", false))
	assert.False(t, s.Ignored("report", false))
}

func TestSet_CommentsAndBlanksSkipped(t *testing.T) {
	s := bare("", "   ", "# a comment", "*.bak")

	assert.True(t, s.Ignored("old.bak", false))
	assert.False(t, s.Ignored("# a comment", false))
}

func TestSet_CharacterClass(t *testing.T) {
	s := bare("q[12].md")
	assert.True(t, s.Ignored("q1.md", false))
	assert.True(t, s.Ignored("q2.md", false))
	assert.False(t, s.Ignored("q3.md", false))
}

func TestSet_AddGitignoreFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	content := "# generated artefacts\n*.pdf.tmp\nexports/\n!exports/final.pdf\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := &Set{}
	require.NoError(t, s.AddGitignoreFile(path, ""))

	assert.True(t, s.Ignored("report.pdf.tmp", false))
	assert.True(t, s.Ignored("exports/report.pdf", false))
	assert.False(t, s.Ignored("exports/final.pdf", false))
	assert.False(t, s.Ignored("report.pdf", false))
}

func TestSet_AddGitignoreFile_Missing(t *testing.T) {
	s := &Set{}
	err := s.AddGitignoreFile(filepath.Join(t.TempDir(), "nope"), "")
	assert.Error(t, err)
}

func TestSet_NestedGitignoreScopedToSubtree(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "projects")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	path := filepath.Join(nested, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("*.draft\n"), 0o644))

	s := &Set{}
	require.NoError(t, s.AddGitignoreFile(path, "projects"))

	assert.True(t, s.Ignored("projects/plan.draft", false))
	assert.False(t, s.Ignored("plan.draft", false), "nested file must not govern the root")
}

func TestSet_ConcurrentAddAndMatch(t *testing.T) {
	s := NewSet()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i%2 == 0 {
					s.Add("*.tmp")
				} else {
					_ = s.Ignored("docs/report.md", false)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, s.Ignored("x.tmp", false))
}

func TestSet_WatchedFolderScenario(t *testing.T) {
	// A realistic document folder: config excludes plus a .gitignore.
	s := NewSet("*.partial", "incoming/")
	dir := t.TempDir()
	gi := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(gi, []byte("*.lock\nbackups/\n"), 0o644))
	require.NoError(t, s.AddGitignoreFile(gi, ""))

	ignored := []struct {
		path  string
		isDir bool
	}{
		{".folder-mcp/embeddings/h_chunk_0.json", false},
		{"report.docx.partial", false},
		{"incoming", true},
		{"incoming/scan-001.pdf", false},
		{"~$budget.xlsx.lock", false},
		{"backups/2025/ledger.xlsx", false},
	}
	for _, c := range ignored {
		assert.True(t, s.Ignored(c.path, c.isDir), "expected %s to be ignored", c.path)
	}

	kept := []string{
		"report.docx",
		"minutes/2026-01.md",
		"budget.xlsx",
	}
	for _, path := range kept {
		assert.False(t, s.Ignored(path, false), "expected %s to be kept", path)
	}
}

func TestCompileGlob(t *testing.T) {
	tests := []struct {
		glob string
		want string
	}{
		{"*.md", `[^/]*\.md`},
		{"a?c", `a[^/]c`},
		{"**/x", `(?:.*/)?x`},
		{"a/**", `a/.*`},
		{"a.b", `a\.b`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compileGlob(tt.glob), "glob %s", tt.glob)
	}
}
