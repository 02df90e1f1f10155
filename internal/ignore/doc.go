// Package ignore decides which paths the file watcher and folder scanner
// skip. Three layers feed one Set per watched folder, all in gitignore
// pattern syntax (https://git-scm.com/docs/gitignore):
//
//  1. Built-in defaults: the .folder-mcp cache directory, .git and
//     node_modules are never indexed.
//  2. The folder's configured exclude patterns (after merge-policy
//     resolution in the config layer).
//  3. .gitignore files found in the folder, including nested ones whose
//     patterns are scoped to their own subtree.
//
// Supported syntax: basic globs (*.log, drafts/), single-segment
// wildcards (*, ?), directory spanning (**), rooted patterns (/build),
// negation (!keep.md) and directory-only patterns (build/). Matching is
// safe for concurrent use.
//
// Usage:
//
//	s := ignore.NewSet("*.tmp", "drafts/")
//	_ = s.AddGitignoreFile("/watched/folder/.gitignore", "")
//
//	if s.Ignored("drafts/plan.md", false) {
//	    // path is skipped
//	}
package ignore
