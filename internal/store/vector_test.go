package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 4

func newTestVectorIndex(t *testing.T) *HNSWVectorIndex {
	t.Helper()
	idx, err := NewHNSWVectorIndex(VectorConfig{Dimensions: testDims})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func chunkMeta(path, repo, fileType string, i int) ChunkMeta {
	return ChunkMeta{
		FilePath:   path,
		RelPath:    strings.TrimPrefix(path, "/"+repo+"/"),
		Repository: repo,
		FileType:   fileType,
		ChunkIndex: i,
	}
}

func TestVectorAddAndSearch(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{ChunkID("/r/a.go", 0), ChunkID("/r/b.go", 0)},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		[]ChunkMeta{chunkMeta("/r/a.go", "r", "go", 0), chunkMeta("/r/b.go", "r", "go", 0)},
	))

	hits, err := idx.Search(ctx, []float32{1, 0.1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "/r/a.go:0", hits[0].ChunkID)
	assert.Equal(t, "/r/a.go", hits[0].Meta.FilePath)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestVectorScoreRange(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{ChunkID("/r/a.go", 0)},
		[][]float32{{1, 0, 0, 0}},
		[]ChunkMeta{chunkMeta("/r/a.go", "r", "go", 0)},
	))

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5, "identical vector scores 1")
}

func TestVectorDimensionMismatch(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	err := idx.Add(ctx,
		[]string{ChunkID("/r/a.go", 0)},
		[][]float32{{1, 0}},
		[]ChunkMeta{chunkMeta("/r/a.go", "r", "go", 0)},
	)
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, testDims, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = idx.Search(ctx, []float32{1, 0}, 1, nil)
	assert.ErrorAs(t, err, &dimErr)
}

func TestVectorAddReplacesExisting(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	id := ChunkID("/r/a.go", 0)
	require.NoError(t, idx.Add(ctx, []string{id},
		[][]float32{{1, 0, 0, 0}},
		[]ChunkMeta{chunkMeta("/r/a.go", "r", "go", 0)}))
	require.NoError(t, idx.Add(ctx, []string{id},
		[][]float32{{0, 1, 0, 0}},
		[]ChunkMeta{chunkMeta("/r/a.go", "r", "go", 0)}))

	assert.Equal(t, 1, idx.Count())
	assert.Equal(t, 1, idx.Orphans(), "old node lazily deleted")

	hits, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestVectorDeleteByFile(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{ChunkID("/r/a.go", 0), ChunkID("/r/a.go", 1), ChunkID("/r/b.go", 0)},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}},
		[]ChunkMeta{
			chunkMeta("/r/a.go", "r", "go", 0),
			chunkMeta("/r/a.go", "r", "go", 1),
			chunkMeta("/r/b.go", "r", "go", 0),
		}))

	require.NoError(t, idx.DeleteByFile(ctx, "/r/a.go"))
	assert.Equal(t, 1, idx.Count())

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/r/b.go:0", hits[0].ChunkID)
}

func TestVectorClearRepository(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{ChunkID("/r1/a.go", 0), ChunkID("/r2/b.go", 0)},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		[]ChunkMeta{chunkMeta("/r1/a.go", "r1", "go", 0), chunkMeta("/r2/b.go", "r2", "go", 0)}))

	require.NoError(t, idx.Clear(ctx, "r1"))
	assert.Equal(t, 1, idx.Count())

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "r2", hits[0].Meta.Repository)
}

func TestVectorSearchFiltered(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{ChunkID("/r1/a.go", 0), ChunkID("/r2/b.md", 0)},
		[][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}},
		[]ChunkMeta{
			chunkMeta("/r1/a.go", "r1", "go", 0),
			chunkMeta("/r2/b.md", "r2", "markdown", 0),
		}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, &Filter{Repositories: []string{"r2"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "r2", hits[0].Meta.Repository)

	hits, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 2, &Filter{FileTypes: []string{"go"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "go", hits[0].Meta.FileType)

	// PathPrefix is repository-relative; absolute prefixes match nothing.
	hits, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 2, &Filter{PathPrefix: "a."})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/r1/a.go", hits[0].Meta.FilePath)

	hits, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 2, &Filter{PathPrefix: "/r1/"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorSearchEmptyIndex(t *testing.T) {
	idx := newTestVectorIndex(t)

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	idx, err := NewHNSWVectorIndex(VectorConfig{Dimensions: testDims})
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx,
		[]string{ChunkID("/r/a.go", 0), ChunkID("/r/a.go", 1)},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		[]ChunkMeta{chunkMeta("/r/a.go", "r", "go", 0), chunkMeta("/r/a.go", "r", "go", 1)}))
	require.NoError(t, idx.Save(path))
	require.NoError(t, idx.Close())

	loaded, err := NewHNSWVectorIndex(VectorConfig{Dimensions: testDims})
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())

	hits, err := loaded.Search(ctx, []float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/r/a.go:0", hits[0].ChunkID)
	assert.Equal(t, "r", hits[0].Meta.Repository)

	// byFile index is rebuilt on load.
	require.NoError(t, loaded.DeleteByFile(ctx, "/r/a.go"))
	assert.Zero(t, loaded.Count())
}

func TestVectorLoadDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	idx, err := NewHNSWVectorIndex(VectorConfig{Dimensions: testDims})
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx,
		[]string{ChunkID("/r/a.go", 0)},
		[][]float32{{1, 0, 0, 0}},
		[]ChunkMeta{chunkMeta("/r/a.go", "r", "go", 0)}))
	require.NoError(t, idx.Save(path))
	require.NoError(t, idx.Close())

	dims, err := ReadVectorIndexDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, testDims, dims)

	other, err := NewHNSWVectorIndex(VectorConfig{Dimensions: 8})
	require.NoError(t, err)
	defer func() { _ = other.Close() }()

	var dimErr ErrDimensionMismatch
	assert.ErrorAs(t, other.Load(path), &dimErr)
}

func TestReadVectorIndexDimensionsMissing(t *testing.T) {
	dims, err := ReadVectorIndexDimensions(filepath.Join(t.TempDir(), "missing.hnsw"))
	require.NoError(t, err)
	assert.Zero(t, dims)
}

func TestVectorClosedIndex(t *testing.T) {
	idx, err := NewHNSWVectorIndex(VectorConfig{Dimensions: testDims})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	ctx := context.Background()
	assert.Error(t, idx.Add(ctx, []string{"x:0"}, [][]float32{{1, 0, 0, 0}},
		[]ChunkMeta{chunkMeta("x", "r", "go", 0)}))
	_, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 1, nil)
	assert.Error(t, err)
	assert.Zero(t, idx.Count())
	assert.NoError(t, idx.Close())
}

func TestVectorConfigValidation(t *testing.T) {
	_, err := NewHNSWVectorIndex(VectorConfig{Dimensions: 0})
	assert.Error(t, err)
}
