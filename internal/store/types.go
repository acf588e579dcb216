// Package store contains the persistence layer: the SQLite metadata
// store driving incremental indexing, the bleve lexical index, and the
// HNSW vector index.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// IndexKind identifies which index a file participates in.
type IndexKind string

const (
	// KindLexical is the BM25 full-text index.
	KindLexical IndexKind = "lexical"
	// KindVector is the dense-vector semantic index.
	KindVector IndexKind = "vector"
	// KindBoth marks a file present in both indexes.
	KindBoth IndexKind = "both"
)

// Valid reports whether k is a persistable kind.
func (k IndexKind) Valid() bool {
	return k == KindLexical || k == KindVector || k == KindBoth
}

// Covers reports whether a stored kind includes the requested kind.
func (k IndexKind) Covers(want IndexKind) bool {
	return k == want || k == KindBoth
}

// MergeKinds merges a stored kind with a newly indexed kind.
// The merge is monotonic: lexical + vector = both, and both never shrinks.
func MergeKinds(existing, added IndexKind) IndexKind {
	if existing == added || existing == KindBoth || added == KindBoth {
		if existing == KindBoth || added == KindBoth {
			return KindBoth
		}
		return existing
	}
	return KindBoth
}

// FileRecord is the per-file index state row.
type FileRecord struct {
	FilePath       string
	Repository     string
	LastIndexedTS  int64
	LastModifiedTS int64
	ContentHash    string
	FileSize       int64
	IndexKind      IndexKind
	CreatedTS      int64
	UpdatedTS      int64
}

// RepositoryStat is the per-(repository, kind) aggregate row.
type RepositoryStat struct {
	Repository        string
	IndexKind         IndexKind
	TotalFilesIndexed int
	InitialRunSeconds float64
	InitialRunTS      int64
	LastRunSeconds    float64
	LastRunTS         int64
	TotalSizeBytes    int64
}

// FileRecordIterator streams FileRecords without materializing them.
type FileRecordIterator interface {
	// Next advances to the next record, returning false at the end.
	Next() bool
	// Record returns the current record. Valid only after Next
	// returned true.
	Record() FileRecord
	// Err returns the first error encountered during iteration.
	Err() error
	// Close releases the underlying cursor.
	Close() error
}

// MetadataStore persists per-file index state, per-repository run stats,
// and process-wide key/value state.
type MetadataStore interface {
	// IsStale reports whether the file needs (re)indexing for the kind.
	IsStale(ctx context.Context, filePath string, fileMtime time.Time, kind IndexKind) (bool, error)

	// Upsert inserts or updates the FileRecord, merging kinds
	// monotonically.
	Upsert(ctx context.Context, filePath, repository string, fileMtime time.Time, fileSize int64, kind IndexKind, now time.Time) error

	// Delete removes a file's record.
	Delete(ctx context.Context, filePath string) error

	// DeleteAll removes every record for a repository.
	DeleteAll(ctx context.Context, repository string) error

	// ClearKind removes the kind from a repository's records:
	// rows indexed only for the kind are deleted, rows indexed for
	// both are downgraded to the other kind.
	ClearKind(ctx context.Context, repository string, kind IndexKind) error

	// ListIndexed streams records for (repository, kind) lazily.
	ListIndexed(ctx context.Context, repository string, kind IndexKind) (FileRecordIterator, error)

	// CountFiles returns the number of records for a repository.
	CountFiles(ctx context.Context, repository string) (int, error)

	// RecordRun stores aggregate stats at end-of-run; initial_run_*
	// fields are written only when no previous run exists.
	RecordRun(ctx context.Context, repository string, kind IndexKind, filesIndexed int, durationSeconds float64, totalSizeBytes int64, now time.Time) error

	// Stats returns all repository stats, optionally for one repository
	// (empty string = all).
	Stats(ctx context.Context, repository string) ([]RepositoryStat, error)

	// GetState reads a SystemState value; missing keys return "" and
	// no error.
	GetState(ctx context.Context, key string) (string, error)

	// PutState writes a SystemState value atomically.
	PutState(ctx context.Context, key, value string) error

	// Close releases the store.
	Close() error
}

// Document is the lexical backend's unit of storage, one per file.
// FilePath is the absolute path on disk; RelPath is the same file
// relative to its repository root.
type Document struct {
	ID         string
	FilePath   string
	RelPath    string
	Repository string
	Content    string
	FileType   string
}

// DocumentID returns the stable lexical document id for a file path:
// hex-encoded SHA-256 of the path.
func DocumentID(filePath string) string {
	sum := sha256.Sum256([]byte(filePath))
	return hex.EncodeToString(sum[:])
}

// Filter restricts search results. Zero-valued fields apply no filter.
// PathPrefix matches against the repository-relative path.
type Filter struct {
	Repositories []string
	FileTypes    []string
	PathPrefix   string
}

// LexicalHit is one lexical search result.
type LexicalHit struct {
	DocID        string
	FilePath     string
	RelPath      string
	Repository   string
	FileType     string
	Score        float64
	MatchedTerms []string
}

// LexicalIndex is the BM25 full-text backend.
type LexicalIndex interface {
	// Upsert writes documents; existing ids are replaced.
	Upsert(ctx context.Context, docs []*Document) error

	// Delete removes documents by id.
	Delete(ctx context.Context, docIDs []string) error

	// Clear removes every document for a repository.
	Clear(ctx context.Context, repository string) error

	// Search returns up to limit hits for the query, best first.
	Search(ctx context.Context, query string, limit int, filter *Filter) ([]*LexicalHit, error)

	// DocCount returns the number of indexed documents.
	DocCount() (uint64, error)

	// Close releases the index.
	Close() error
}

// ChunkID returns the wire-format chunk id for a file chunk.
func ChunkID(filePath string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", filePath, chunkIndex)
}

// ChunkMeta is stored alongside each vector. RelPath is the chunk's
// file relative to its repository root.
type ChunkMeta struct {
	FilePath   string
	RelPath    string
	Repository string
	FileType   string
	ChunkIndex int
}

// VectorHit is one vector search result.
type VectorHit struct {
	ChunkID  string
	Meta     ChunkMeta
	Distance float32
	Score    float32
}

// VectorIndex is the dense-vector semantic backend.
type VectorIndex interface {
	// Add inserts vectors with their chunk ids and metadata; existing
	// ids are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32, metas []ChunkMeta) error

	// Search returns up to k nearest chunks to the query vector.
	Search(ctx context.Context, query []float32, k int, filter *Filter) ([]*VectorHit, error)

	// DeleteByFile removes every chunk belonging to a file.
	DeleteByFile(ctx context.Context, filePath string) error

	// Clear removes every chunk for a repository.
	Clear(ctx context.Context, repository string) error

	// Count returns the number of live chunks.
	Count() int

	// Save persists the index to the given path.
	Save(path string) error

	// Load restores the index from the given path.
	Load(path string) error

	// Close releases the index.
	Close() error
}

// ErrDimensionMismatch is returned when a vector's dimensionality does
// not match the index configuration.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
