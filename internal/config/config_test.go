package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 500, cfg.Search.ChunkSize)
	assert.Equal(t, 50, cfg.Search.ChunkOverlap)
	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
	assert.Equal(t, 5, cfg.Watcher.DebounceSeconds)
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
}

func TestLoadMergesYAML(t *testing.T) {
	dir := t.TempDir()
	content := `
search:
  rrf_constant: 30
  chunk_size: 1000
watcher:
  debounce_seconds: 2
`
	require.NoError(t, os.WriteFile(ConfigPath(dir), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Search.RRFConstant)
	assert.Equal(t, 1000, cfg.Search.ChunkSize)
	assert.Equal(t, 2, cfg.Watcher.DebounceSeconds)
	// Untouched values keep defaults.
	assert.Equal(t, 50, cfg.Search.ChunkOverlap)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CODEATLAS_RRF_CONSTANT", "15")
	t.Setenv("CODEATLAS_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Search.RRFConstant)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ConfigPath(dir), []byte("search: [not a map"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.ChunkOverlap = cfg.Search.ChunkSize

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestValidateDuplicateRepositoryNames(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Repositories = []Repository{
		{Name: "core", Path: dir, Priority: PriorityMedium},
		{Name: "core", Path: dir, Priority: PriorityLow},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate repository name")
}

func TestRepositoryValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"core", true},
		{"my-repo_1.2", true},
		{"has space", false},
		{"", false},
		{"slash/bad", false},
	}

	for _, tt := range tests {
		r := Repository{Name: tt.name, Path: "/tmp", Priority: PriorityMedium}
		err := r.Validate()
		if tt.valid {
			assert.NoError(t, err, tt.name)
		} else {
			assert.Error(t, err, tt.name)
		}
	}
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityMedium, ParsePriority("bogus"))
	assert.Equal(t, PriorityMedium, ParsePriority(""))
}

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repoDir := filepath.Join(dir, "repo")
	require.NoError(t, os.MkdirAll(repoDir, 0o755))

	cfg := NewConfig()
	cfg.DataDir = dir
	reg := NewRepoRegistry(cfg)
	require.NoError(t, reg.Add(Repository{
		Name: "core", Path: repoDir, Enabled: true, Priority: PriorityHigh,
	}))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Repositories, 1)
	assert.Equal(t, "core", loaded.Repositories[0].Name)
	assert.Equal(t, PriorityHigh, loaded.Repositories[0].Priority)
}
