// Package configs provides the embedded configuration template for
// folder-mcp.
//
// The template is embedded at build time using Go's //go:embed directive,
// so it is available in every distribution (source builds, binary
// releases, package managers). It is an annotated example of the user
// configuration at ~/.config/folder-mcp/config.yaml; nothing in this
// module writes it to disk.
//
// Configuration hierarchy (see internal/config Load()):
//  1. Hardcoded defaults (internal/config NewConfig())
//  2. User config (~/.config/folder-mcp/config.yaml)
//  3. Per-folder overrides (folders[] entries)
//  4. Environment variables (FOLDER_MCP_*)
package configs

import _ "embed"

// UserConfigTemplate is the annotated example user configuration.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
