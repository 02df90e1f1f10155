// Package config is the daemon's layered YAML configuration: built-in
// defaults, then the user file, then per-folder overrides, then
// FOLDER_MCP_* environment variables, highest priority last. Writes are
// atomic and backed up first.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the configuration schema version.
const CurrentVersion = 1

// Performance knob bounds (see the folder configuration data model).
const (
	MinBatchSize      = 1
	MaxBatchSize      = 128
	MinMaxConcurrency = 1
	MaxMaxConcurrency = 16
)

// PatternMergePolicy selects how per-folder include/exclude patterns
// combine with the defaults.
type PatternMergePolicy string

const (
	// MergeReplace discards the defaults and uses only the folder's own
	// patterns.
	MergeReplace PatternMergePolicy = "replace"

	// MergeAppend keeps the defaults and appends the folder's patterns.
	MergeAppend PatternMergePolicy = "append"

	// MergeUnion combines both sets, deduplicated.
	MergeUnion PatternMergePolicy = "union"
)

// DefaultExcludePatterns are merged into every folder per its policy.
var DefaultExcludePatterns = []string{
	"node_modules/**",
	".git/**",
	".folder-mcp/**",
	"*.tmp",
	"*.log",
}

// FolderConfig is one folder's persisted configuration. The resolved
// absolute path is the canonical key; Name must be unique within the
// fleet.
type FolderConfig struct {
	Path string `yaml:"path" json:"path"`
	Name string `yaml:"name" json:"name"`

	// Model is the embedding model id.
	Model string `yaml:"model" json:"model"`

	// Include/Exclude are glob patterns combined with the defaults per
	// MergePolicy.
	Include     []string           `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude     []string           `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	MergePolicy PatternMergePolicy `yaml:"merge_policy,omitempty" json:"mergePolicy,omitempty"`

	// Performance knobs; zero means "inherit the global default".
	BatchSize      int `yaml:"batch_size,omitempty" json:"batchSize,omitempty"`
	MaxConcurrency int `yaml:"max_concurrency,omitempty" json:"maxConcurrency,omitempty"`

	Enabled bool `yaml:"enabled" json:"enabled"`

	// Provenance records where each resolved setting came from
	// ("default", "user", "folder", "env"). Populated by Resolve, never
	// persisted.
	Provenance map[string]string `yaml:"-" json:"provenance,omitempty"`
}

// EmbeddingsConfig holds the model-runtime defaults.
type EmbeddingsConfig struct {
	DefaultModel string `yaml:"default_model" json:"defaultModel"`
	OllamaHost   string `yaml:"ollama_host" json:"ollamaHost"`
}

// PerformanceConfig holds the global performance defaults folders
// inherit.
type PerformanceConfig struct {
	BatchSize      int `yaml:"batch_size" json:"batchSize"`
	MaxConcurrency int `yaml:"max_concurrency" json:"maxConcurrency"`
	PoolWorkers    int `yaml:"pool_workers" json:"poolWorkers"`
	CacheSize      int `yaml:"cache_size" json:"cacheSize"`
}

// ServerConfig holds the daemon's surfaces.
type ServerConfig struct {
	SocketPath string `yaml:"socket_path" json:"socketPath"`
	RESTPort   int    `yaml:"rest_port" json:"restPort"`
	LogLevel   string `yaml:"log_level" json:"logLevel"`
}

// WatcherConfig holds file-watching knobs.
type WatcherConfig struct {
	DebounceMs     int      `yaml:"debounce_ms" json:"debounceMs"`
	PollIntervalMs int      `yaml:"poll_interval_ms" json:"pollIntervalMs"`
	IgnorePatterns []string `yaml:"ignore_patterns,omitempty" json:"ignorePatterns,omitempty"`
}

// Config is the complete daemon configuration document.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Folders     []FolderConfig    `yaml:"folders" json:"folders"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Watcher     WatcherConfig     `yaml:"watcher" json:"watcher"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return &Config{
		Version: CurrentVersion,
		Folders: []FolderConfig{},
		Embeddings: EmbeddingsConfig{
			DefaultModel: "nomic-embed-text",
			OllamaHost:   "http://localhost:11434",
		},
		Performance: PerformanceConfig{
			BatchSize:      32,
			MaxConcurrency: 4,
			PoolWorkers:    2,
			CacheSize:      500,
		},
		Server: ServerConfig{
			SocketPath: filepath.Join(home, ".folder-mcp", "daemon.sock"),
			RESTPort:   9876,
			LogLevel:   "info",
		},
		Watcher: WatcherConfig{
			DebounceMs:     1000,
			PollIntervalMs: 5000,
		},
	}
}

// GetUserConfigDir returns the user configuration directory, honouring
// XDG_CONFIG_HOME.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "folder-mcp")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "folder-mcp")
	}
	return filepath.Join(home, ".config", "folder-mcp")
}

// GetUserConfigPath returns the user configuration file path.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), "config.yaml")
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

// Load builds the layered configuration: defaults, then the user file,
// then environment variables.
func Load() (*Config, error) {
	return LoadFrom(GetUserConfigPath())
}

// LoadFrom is Load with an explicit user-file path (tests).
func LoadFrom(path string) (*Config, error) {
	cfg := NewConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays FOLDER_MCP_* environment variables, highest priority.
func (c *Config) applyEnv() {
	if v := os.Getenv("FOLDER_MCP_SOCKET_PATH"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("FOLDER_MCP_REST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.RESTPort = port
		}
	}
	if v := os.Getenv("FOLDER_MCP_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("FOLDER_MCP_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("FOLDER_MCP_DEFAULT_MODEL"); v != "" {
		c.Embeddings.DefaultModel = v
	}
	if v := os.Getenv("FOLDER_MCP_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Performance.BatchSize = n
		}
	}
	if v := os.Getenv("FOLDER_MCP_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Performance.MaxConcurrency = n
		}
	}
}

// Validate checks the document's invariants: version, knob bounds and
// unique folder names/paths.
func (c *Config) Validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("config: version must be positive")
	}
	if c.Performance.BatchSize < MinBatchSize || c.Performance.BatchSize > MaxBatchSize {
		return fmt.Errorf("config: batch_size %d outside [%d, %d]", c.Performance.BatchSize, MinBatchSize, MaxBatchSize)
	}
	if c.Performance.MaxConcurrency < MinMaxConcurrency || c.Performance.MaxConcurrency > MaxMaxConcurrency {
		return fmt.Errorf("config: max_concurrency %d outside [%d, %d]", c.Performance.MaxConcurrency, MinMaxConcurrency, MaxMaxConcurrency)
	}

	names := make(map[string]bool, len(c.Folders))
	paths := make(map[string]bool, len(c.Folders))
	for _, f := range c.Folders {
		if f.Path == "" {
			return fmt.Errorf("config: folder with empty path")
		}
		if names[f.Name] {
			return fmt.Errorf("config: duplicate folder name %q", f.Name)
		}
		if paths[f.Path] {
			return fmt.Errorf("config: duplicate folder path %q", f.Path)
		}
		names[f.Name] = true
		paths[f.Path] = true

		if f.BatchSize != 0 && (f.BatchSize < MinBatchSize || f.BatchSize > MaxBatchSize) {
			return fmt.Errorf("config: folder %q batch_size %d outside [%d, %d]", f.Name, f.BatchSize, MinBatchSize, MaxBatchSize)
		}
		if f.MaxConcurrency != 0 && (f.MaxConcurrency < MinMaxConcurrency || f.MaxConcurrency > MaxMaxConcurrency) {
			return fmt.Errorf("config: folder %q max_concurrency %d outside [%d, %d]", f.Name, f.MaxConcurrency, MinMaxConcurrency, MaxMaxConcurrency)
		}
		switch f.MergePolicy {
		case "", MergeReplace, MergeAppend, MergeUnion:
		default:
			return fmt.Errorf("config: folder %q has unknown merge policy %q", f.Name, f.MergePolicy)
		}
	}
	return nil
}

// Resolve fills a folder's unset knobs from the global defaults and
// merges its exclude patterns per policy, recording provenance for each
// resolved value.
func (c *Config) Resolve(f FolderConfig) FolderConfig {
	out := f
	out.Provenance = map[string]string{}

	if out.Model == "" {
		out.Model = c.Embeddings.DefaultModel
		out.Provenance["model"] = "default"
	} else {
		out.Provenance["model"] = "folder"
	}
	if out.BatchSize == 0 {
		out.BatchSize = c.Performance.BatchSize
		out.Provenance["batchSize"] = "user"
	} else {
		out.Provenance["batchSize"] = "folder"
	}
	if out.MaxConcurrency == 0 {
		out.MaxConcurrency = c.Performance.MaxConcurrency
		out.Provenance["maxConcurrency"] = "user"
	} else {
		out.Provenance["maxConcurrency"] = "folder"
	}

	policy := out.MergePolicy
	if policy == "" {
		policy = MergeUnion
	}
	out.Exclude = mergePatterns(DefaultExcludePatterns, f.Exclude, policy)
	out.Provenance["exclude"] = string(policy)

	return out
}

func mergePatterns(defaults, own []string, policy PatternMergePolicy) []string {
	switch policy {
	case MergeReplace:
		if len(own) == 0 {
			return append([]string(nil), defaults...)
		}
		return append([]string(nil), own...)
	case MergeAppend:
		return append(append([]string(nil), defaults...), own...)
	default: // union
		seen := make(map[string]bool, len(defaults)+len(own))
		var out []string
		for _, p := range append(append([]string(nil), defaults...), own...) {
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
		sort.Strings(out)
		return out
	}
}

// saveMu serialises writers: the configuration document is accessed only
// through transactional updates.
var saveMu sync.Mutex

// Save writes the configuration atomically (backup, temp file, rename).
func (c *Config) Save() error {
	return c.SaveTo(GetUserConfigPath())
}

// SaveTo is Save with an explicit path (tests).
func (c *Config) SaveTo(path string) error {
	saveMu.Lock()
	defer saveMu.Unlock()

	if err := c.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if path == GetUserConfigPath() {
		if _, err := BackupUserConfig(); err != nil {
			return fmt.Errorf("backup before write: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := fmt.Sprintf("# folder-mcp configuration\n# written %s\n", time.Now().UTC().Format(time.RFC3339))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("write config temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename config file: %w", err)
	}
	return nil
}

// FindFolder returns the folder configured at path.
func (c *Config) FindFolder(path string) (FolderConfig, bool) {
	for _, f := range c.Folders {
		if f.Path == path {
			return f, true
		}
	}
	return FolderConfig{}, false
}

// UpsertFolder inserts or replaces the folder keyed by path.
func (c *Config) UpsertFolder(f FolderConfig) {
	for i, cur := range c.Folders {
		if cur.Path == f.Path {
			c.Folders[i] = f
			return
		}
	}
	c.Folders = append(c.Folders, f)
}

// RemoveFolder drops the folder keyed by path. Reports whether a folder
// was removed.
func (c *Config) RemoveFolder(path string) bool {
	for i, cur := range c.Folders {
		if cur.Path == path {
			c.Folders = append(c.Folders[:i], c.Folders[i+1:]...)
			return true
		}
	}
	return false
}

// normalizeLogLevel maps arbitrary case to the supported levels.
func normalizeLogLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(level)
	default:
		return "info"
	}
}

// LogLevel returns the normalised log level.
func (c *Config) LogLevel() string {
	return normalizeLogLevel(c.Server.LogLevel)
}
