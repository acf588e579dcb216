package search

import (
	"sort"

	"github.com/codeatlas/codeatlas/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains.
const DefaultRRFConstant = 60

// absentRank marks a file missing from one backend's list.
const absentRank = -1

// FusedFile is a single file after RRF fusion.
type FusedFile struct {
	FilePath     string
	RelPath      string
	Repository   string
	FileType     string
	Score        float64
	LexicalScore float64
	LexicalRank  int // 0-based rank in the lexical list, absentRank if missing
	VectorScore  float64
	VectorRank   int // best 0-based chunk rank in the vector list, absentRank if missing
	MatchedTerms []string
}

// RRFFusion combines lexical and vector results with Reciprocal Rank
// Fusion: score(f) = Σ 1/(k + rank_i + 1) over the lists the file
// appears in, with 0-based ranks.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion instance; k <= 0 uses the default.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the two ranked lists at file granularity. Vector hits are
// chunks; each file takes the best (lowest) rank of any of its chunks.
// Output is sorted by score descending, ties broken by smaller lexical
// rank, then by file path ascending.
func (f *RRFFusion) Fuse(lexical []*store.LexicalHit, vector []*store.VectorHit) []*FusedFile {
	if len(lexical) == 0 && len(vector) == 0 {
		return []*FusedFile{}
	}

	files := make(map[string]*FusedFile, len(lexical)+len(vector))

	for rank, hit := range lexical {
		ff := f.getOrCreate(files, hit.FilePath)
		ff.RelPath = hit.RelPath
		ff.Repository = hit.Repository
		ff.FileType = hit.FileType
		ff.LexicalScore = hit.Score
		ff.LexicalRank = rank
		ff.MatchedTerms = hit.MatchedTerms
		ff.Score += f.contribution(rank)
	}

	for rank, hit := range vector {
		ff := f.getOrCreate(files, hit.Meta.FilePath)
		if ff.Repository == "" {
			ff.RelPath = hit.Meta.RelPath
			ff.Repository = hit.Meta.Repository
			ff.FileType = hit.Meta.FileType
		}
		// Only the file's best chunk contributes.
		if ff.VectorRank != absentRank {
			continue
		}
		ff.VectorScore = float64(hit.Score)
		ff.VectorRank = rank
		ff.Score += f.contribution(rank)
	}

	results := make([]*FusedFile, 0, len(files))
	for _, ff := range files {
		results = append(results, ff)
	}

	sort.Slice(results, func(i, j int) bool {
		return f.less(results[i], results[j])
	})

	return results
}

func (f *RRFFusion) contribution(rank int) float64 {
	return 1.0 / float64(f.K+rank+1)
}

func (f *RRFFusion) getOrCreate(m map[string]*FusedFile, filePath string) *FusedFile {
	if ff, ok := m[filePath]; ok {
		return ff
	}
	ff := &FusedFile{
		FilePath:    filePath,
		LexicalRank: absentRank,
		VectorRank:  absentRank,
	}
	m[filePath] = ff
	return ff
}

// less orders a before b: higher score, then smaller lexical rank
// (absent ranks last), then file path ascending.
func (f *RRFFusion) less(a, b *FusedFile) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	ar, br := normalizeRank(a.LexicalRank), normalizeRank(b.LexicalRank)
	if ar != br {
		return ar < br
	}
	return a.FilePath < b.FilePath
}

func normalizeRank(rank int) int {
	if rank == absentRank {
		return int(^uint(0) >> 1)
	}
	return rank
}
