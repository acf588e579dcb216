package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetadataStore(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	s, err := NewSQLiteMetadataStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIsStaleNoRecord(t *testing.T) {
	s := newTestMetadataStore(t)

	stale, err := s.IsStale(context.Background(), "/repo/a.go", time.Now(), KindLexical)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestIsStaleAfterUpsert(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	mtime := time.Now().Add(-time.Hour)
	now := time.Now()
	require.NoError(t, s.Upsert(ctx, "/repo/a.go", "repo", mtime, 100, KindLexical, now))

	stale, err := s.IsStale(ctx, "/repo/a.go", mtime, KindLexical)
	require.NoError(t, err)
	assert.False(t, stale)

	// A newer mtime makes it stale again.
	stale, err = s.IsStale(ctx, "/repo/a.go", now.Add(time.Hour), KindLexical)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestIsStaleKindNotCovered(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	mtime := time.Now().Add(-time.Hour)
	require.NoError(t, s.Upsert(ctx, "/repo/a.go", "repo", mtime, 100, KindLexical, time.Now()))

	stale, err := s.IsStale(ctx, "/repo/a.go", mtime, KindVector)
	require.NoError(t, err)
	assert.True(t, stale, "lexical record does not cover vector")

	require.NoError(t, s.Upsert(ctx, "/repo/a.go", "repo", mtime, 100, KindVector, time.Now()))

	stale, err = s.IsStale(ctx, "/repo/a.go", mtime, KindVector)
	require.NoError(t, err)
	assert.False(t, stale)
	stale, err = s.IsStale(ctx, "/repo/a.go", mtime, KindLexical)
	require.NoError(t, err)
	assert.False(t, stale, "merged kind covers both")
}

func TestUpsertMergesKinds(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	mtime := time.Now()

	require.NoError(t, s.Upsert(ctx, "/repo/a.go", "repo", mtime, 100, KindLexical, time.Now()))
	require.NoError(t, s.Upsert(ctx, "/repo/a.go", "repo", mtime, 100, KindVector, time.Now()))

	it, err := s.ListIndexed(ctx, "repo", KindLexical)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	require.True(t, it.Next())
	assert.Equal(t, KindBoth, it.Record().IndexKind)
	assert.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestMergeKinds(t *testing.T) {
	assert.Equal(t, KindLexical, MergeKinds(KindLexical, KindLexical))
	assert.Equal(t, KindBoth, MergeKinds(KindLexical, KindVector))
	assert.Equal(t, KindBoth, MergeKinds(KindVector, KindLexical))
	assert.Equal(t, KindBoth, MergeKinds(KindBoth, KindLexical))
	assert.Equal(t, KindBoth, MergeKinds(KindVector, KindBoth))
}

func TestDelete(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "/repo/a.go", "repo", time.Now(), 100, KindLexical, time.Now()))
	require.NoError(t, s.Delete(ctx, "/repo/a.go"))

	stale, err := s.IsStale(ctx, "/repo/a.go", time.Now(), KindLexical)
	require.NoError(t, err)
	assert.True(t, stale)

	// Deleting a missing record is not an error.
	assert.NoError(t, s.Delete(ctx, "/repo/missing.go"))
}

func TestDeleteAll(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "/r1/a.go", "r1", time.Now(), 10, KindLexical, time.Now()))
	require.NoError(t, s.Upsert(ctx, "/r1/b.go", "r1", time.Now(), 10, KindLexical, time.Now()))
	require.NoError(t, s.Upsert(ctx, "/r2/c.go", "r2", time.Now(), 10, KindLexical, time.Now()))

	require.NoError(t, s.DeleteAll(ctx, "r1"))

	n, err := s.CountFiles(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.CountFiles(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClearKindDowngradesBoth(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	mtime := time.Now()

	require.NoError(t, s.Upsert(ctx, "/r/both.go", "r", mtime, 10, KindLexical, time.Now()))
	require.NoError(t, s.Upsert(ctx, "/r/both.go", "r", mtime, 10, KindVector, time.Now()))
	require.NoError(t, s.Upsert(ctx, "/r/lex.go", "r", mtime, 10, KindLexical, time.Now()))
	require.NoError(t, s.Upsert(ctx, "/r/vec.go", "r", mtime, 10, KindVector, time.Now()))

	require.NoError(t, s.ClearKind(ctx, "r", KindLexical))

	// lexical-only row is gone, both row is downgraded to vector.
	it, err := s.ListIndexed(ctx, "r", KindVector)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	var got []FileRecord
	for it.Next() {
		got = append(got, it.Record())
	}
	require.NoError(t, it.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "/r/both.go", got[0].FilePath)
	assert.Equal(t, KindVector, got[0].IndexKind)
	assert.Equal(t, "/r/vec.go", got[1].FilePath)

	n, err := s.CountFiles(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClearKindRejectsBoth(t *testing.T) {
	s := newTestMetadataStore(t)
	assert.Error(t, s.ClearKind(context.Background(), "r", KindBoth))
}

func TestListIndexedFiltersByKind(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "/r/lex.go", "r", time.Now(), 10, KindLexical, time.Now()))
	require.NoError(t, s.Upsert(ctx, "/r/vec.go", "r", time.Now(), 10, KindVector, time.Now()))

	it, err := s.ListIndexed(ctx, "r", KindLexical)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	require.True(t, it.Next())
	assert.Equal(t, "/r/lex.go", it.Record().FilePath)
	assert.False(t, it.Next())
}

func TestRecordRunPreservesInitial(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	first := time.Now().Add(-time.Hour)
	require.NoError(t, s.RecordRun(ctx, "r", KindLexical, 100, 12.5, 4096, first))
	require.NoError(t, s.RecordRun(ctx, "r", KindLexical, 105, 1.5, 5000, time.Now()))

	stats, err := s.Stats(ctx, "r")
	require.NoError(t, err)
	require.Len(t, stats, 1)

	st := stats[0]
	assert.Equal(t, 105, st.TotalFilesIndexed)
	assert.Equal(t, 12.5, st.InitialRunSeconds)
	assert.Equal(t, first.Unix(), st.InitialRunTS)
	assert.Equal(t, 1.5, st.LastRunSeconds)
	assert.Equal(t, int64(5000), st.TotalSizeBytes)
}

func TestStatsAllRepositories(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRun(ctx, "a", KindLexical, 1, 1, 1, time.Now()))
	require.NoError(t, s.RecordRun(ctx, "b", KindVector, 2, 2, 2, time.Now()))

	stats, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Len(t, stats, 2)
}

func TestSystemState(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, "last_index_time")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.PutState(ctx, "last_index_time", "2026-08-26T10:00:00Z"))
	require.NoError(t, s.PutState(ctx, "last_index_time", "2026-08-26T11:00:00Z"))

	v, err = s.GetState(ctx, "last_index_time")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-26T11:00:00Z", v)
}

func TestMetadataPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta", "atlas.db")
	ctx := context.Background()

	s, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "/r/a.go", "r", time.Now(), 10, KindLexical, time.Now()))
	require.NoError(t, s.Close())

	s, err = NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	n, err := s.CountFiles(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDocumentID(t *testing.T) {
	a := DocumentID("/repo/a.go")
	b := DocumentID("/repo/a.go")
	c := DocumentID("/repo/b.go")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "/repo/a.go:0", ChunkID("/repo/a.go", 0))
	assert.Equal(t, "/repo/a.go:12", ChunkID("/repo/a.go", 12))
}
