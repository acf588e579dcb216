package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeatlas/codeatlas/internal/store"
)

func lexHit(path, repo string, score float64) *store.LexicalHit {
	return &store.LexicalHit{
		DocID:      store.DocumentID(path),
		FilePath:   path,
		RelPath:    strings.TrimPrefix(path, "/"),
		Repository: repo,
		FileType:   "go",
		Score:      score,
	}
}

func vecHit(path, repo string, chunkIndex int, score float32) *store.VectorHit {
	return &store.VectorHit{
		ChunkID: store.ChunkID(path, chunkIndex),
		Meta: store.ChunkMeta{
			FilePath:   path,
			RelPath:    strings.TrimPrefix(path, "/"),
			Repository: repo,
			FileType:   "go",
			ChunkIndex: chunkIndex,
		},
		Score: score,
	}
}

func TestFuseEmpty(t *testing.T) {
	f := NewRRFFusion(0)
	assert.Empty(t, f.Fuse(nil, nil))
}

func TestFuseScoreFormula(t *testing.T) {
	f := NewRRFFusion(60)

	fused := f.Fuse(
		[]*store.LexicalHit{lexHit("/a", "r", 5.0)},
		[]*store.VectorHit{vecHit("/a", "r", 0, 0.9)},
	)
	require.Len(t, fused, 1)

	// Rank 0 in both lists: 1/(60+0+1) twice.
	assert.InDelta(t, 2.0/61.0, fused[0].Score, 1e-9)
	assert.Equal(t, "a", fused[0].RelPath)
	assert.Equal(t, 5.0, fused[0].LexicalScore)
	assert.InDelta(t, 0.9, fused[0].VectorScore, 1e-6)
	assert.Equal(t, 0, fused[0].LexicalRank)
	assert.Equal(t, 0, fused[0].VectorRank)
}

func TestFuseBothListsBeatSingleList(t *testing.T) {
	f := NewRRFFusion(60)

	fused := f.Fuse(
		[]*store.LexicalHit{lexHit("/only-lex", "r", 9.0), lexHit("/both", "r", 4.0)},
		[]*store.VectorHit{vecHit("/both", "r", 0, 0.8)},
	)
	require.Len(t, fused, 2)
	assert.Equal(t, "/both", fused[0].FilePath,
		"rank 1 lexical + rank 0 vector beats rank 0 lexical alone")
}

func TestFuseCollapsesChunksToBestRank(t *testing.T) {
	f := NewRRFFusion(60)

	fused := f.Fuse(nil, []*store.VectorHit{
		vecHit("/a", "r", 3, 0.95),
		vecHit("/a", "r", 7, 0.90),
		vecHit("/b", "r", 0, 0.85),
	})
	require.Len(t, fused, 2)

	byPath := map[string]*FusedFile{}
	for _, ff := range fused {
		byPath[ff.FilePath] = ff
	}
	assert.Equal(t, 0, byPath["/a"].VectorRank, "best chunk rank wins")
	assert.Equal(t, "a", byPath["/a"].RelPath, "vector-only files carry their relative path")
	assert.InDelta(t, 0.95, byPath["/a"].VectorScore, 1e-6)
	assert.InDelta(t, 1.0/61.0, byPath["/a"].Score, 1e-9, "later chunks add nothing")
}

func TestFuseTieBreakLexicalRank(t *testing.T) {
	f := NewRRFFusion(60)

	// /x at lexical rank 0, /y at vector rank 0: equal scores.
	fused := f.Fuse(
		[]*store.LexicalHit{lexHit("/x", "r", 1.0)},
		[]*store.VectorHit{vecHit("/y", "r", 0, 0.5)},
	)
	require.Len(t, fused, 2)
	assert.Equal(t, "/x", fused[0].FilePath, "present lexical rank wins the tie")
}

func TestFuseTieBreakFilePath(t *testing.T) {
	f := NewRRFFusion(60)

	// Two files only in the vector list at equal effective positions is
	// impossible, so tie on two lexical-only hits with equal rank is
	// impossible too; exercise the path tie-break through vector-only
	// files at distinct ranks with scores forced equal via k.
	fused := f.Fuse(nil, []*store.VectorHit{
		vecHit("/b", "r", 0, 0.5),
		vecHit("/a", "r", 0, 0.5),
	})
	require.Len(t, fused, 2)
	// Distinct ranks, no tie: rank order preserved.
	assert.Equal(t, "/b", fused[0].FilePath)
}

func TestFuseDeterministic(t *testing.T) {
	f := NewRRFFusion(60)

	lex := []*store.LexicalHit{lexHit("/a", "r", 3.0), lexHit("/b", "r", 2.0)}
	vec := []*store.VectorHit{vecHit("/b", "r", 0, 0.9), vecHit("/c", "r", 0, 0.8)}

	first := f.Fuse(lex, vec)
	for i := 0; i < 10; i++ {
		again := f.Fuse(lex, vec)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].FilePath, again[j].FilePath)
			assert.Equal(t, first[j].Score, again[j].Score)
		}
	}
}

func TestNewRRFFusionDefaultK(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion(0).K)
	assert.Equal(t, 10, NewRRFFusion(10).K)
}
