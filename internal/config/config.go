// Package config loads and persists CodeAtlas configuration: global
// search and indexing settings plus the repository registry, stored as a
// single YAML file under the data directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete CodeAtlas configuration.
type Config struct {
	Version      int                `yaml:"version"`
	DataDir      string             `yaml:"data_dir"`
	Paths        PathsConfig        `yaml:"paths"`
	Search       SearchConfig       `yaml:"search"`
	Embeddings   EmbeddingsConfig   `yaml:"embeddings"`
	Watcher      WatcherConfig      `yaml:"watcher"`
	Logging      LoggingConfig      `yaml:"logging"`
	Repositories []Repository       `yaml:"repositories"`
}

// PathsConfig configures global include and exclude glob patterns.
// Per-repository patterns are merged with these.
type PathsConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// SearchConfig configures hybrid search parameters.
type SearchConfig struct {
	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60.
	RRFConstant int `yaml:"rrf_constant"`

	// ChunkSize is the sliding-window chunk size in characters.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the character overlap between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// MaxResults caps the per-request result limit.
	MaxResults int `yaml:"max_results"`

	// MaxFileBytes truncates files larger than this before chunking.
	MaxFileBytes int `yaml:"max_file_bytes"`

	// TimeoutSeconds is the soft search deadline.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Dimensions int `yaml:"dimensions"`
	BatchSize  int `yaml:"batch_size"`
}

// WatcherConfig configures filesystem watching.
type WatcherConfig struct {
	// DebounceSeconds is the quiet period before a flush.
	DebounceSeconds int `yaml:"debounce_seconds"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// defaultExcludePatterns are always excluded from scanning.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Search: SearchConfig{
			RRFConstant:    60,
			ChunkSize:      500,
			ChunkOverlap:   50,
			MaxResults:     100,
			MaxFileBytes:   1 << 20,
			TimeoutSeconds: 10,
		},
		Embeddings: EmbeddingsConfig{
			Dimensions: 384,
			BatchSize:  32,
		},
		Watcher: WatcherConfig{
			DebounceSeconds: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultDataDir returns the default data directory (~/.codeatlas).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".codeatlas")
	}
	return filepath.Join(home, ".codeatlas")
}

// ConfigPath returns the configuration file path under dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// Load loads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. YAML file at ConfigPath(dataDir)
//  3. Environment variables (CODEATLAS_*)
func Load(dataDir string) (*Config, error) {
	cfg := NewConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	path := ConfigPath(cfg.DataDir)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// Merge with defaults rather than replace.
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.MaxFileBytes != 0 {
		c.Search.MaxFileBytes = other.Search.MaxFileBytes
	}
	if other.Search.TimeoutSeconds != 0 {
		c.Search.TimeoutSeconds = other.Search.TimeoutSeconds
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Watcher.DebounceSeconds != 0 {
		c.Watcher.DebounceSeconds = other.Watcher.DebounceSeconds
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if len(other.Repositories) > 0 {
		c.Repositories = other.Repositories
	}
}

// applyEnvOverrides applies CODEATLAS_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODEATLAS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CODEATLAS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CODEATLAS_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.RRFConstant = n
		}
	}
	if v := os.Getenv("CODEATLAS_DEBOUNCE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Watcher.DebounceSeconds = n
		}
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var problems []string

	if c.Search.RRFConstant <= 0 {
		problems = append(problems, "search.rrf_constant must be positive")
	}
	if c.Search.ChunkSize <= 0 {
		problems = append(problems, "search.chunk_size must be positive")
	}
	if c.Search.ChunkOverlap < 0 {
		problems = append(problems, "search.chunk_overlap must not be negative")
	}
	if c.Search.ChunkOverlap >= c.Search.ChunkSize {
		problems = append(problems, "search.chunk_overlap must be smaller than chunk_size")
	}
	if c.Search.MaxResults <= 0 {
		problems = append(problems, "search.max_results must be positive")
	}
	if c.Embeddings.Dimensions <= 0 {
		problems = append(problems, "embeddings.dimensions must be positive")
	}
	if c.Embeddings.BatchSize <= 0 {
		problems = append(problems, "embeddings.batch_size must be positive")
	}
	if c.Watcher.DebounceSeconds <= 0 {
		problems = append(problems, "watcher.debounce_seconds must be positive")
	}
	seen := make(map[string]bool, len(c.Repositories))
	for _, r := range c.Repositories {
		if err := r.Validate(); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if seen[r.Name] {
			problems = append(problems, fmt.Sprintf("duplicate repository name %q", r.Name))
		}
		seen[r.Name] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
