package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	// Dimensions is the vector dimension.
	Dimensions int

	// Metric is "cos" or "l2" (default: "cos").
	Metric string

	// M is the HNSW graph connectivity (default: 16).
	M int

	// EfSearch is the HNSW search expansion factor (default: 20).
	EfSearch int
}

// HNSWVectorIndex implements VectorIndex on the coder/hnsw pure Go
// graph. String chunk ids are mapped to internal uint64 keys; deletions
// are lazy (mappings dropped, graph nodes orphaned) because removing
// graph nodes directly is unreliable.
type HNSWVectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	idMap   map[string]uint64    // chunk id -> internal key
	keyMap  map[uint64]string    // internal key -> chunk id
	metas   map[string]ChunkMeta // chunk id -> metadata
	byFile  map[string][]string  // file path -> chunk ids
	nextKey uint64

	closed bool
}

// hnswSidecar stores id mappings and chunk metadata for persistence.
type hnswSidecar struct {
	IDMap   map[string]uint64
	Metas   map[string]ChunkMeta
	NextKey uint64
	Config  VectorConfig
}

// NewHNSWVectorIndex creates an empty vector index.
func NewHNSWVectorIndex(cfg VectorConfig) (*HNSWVectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWVectorIndex{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		metas:  make(map[string]ChunkMeta),
		byFile: make(map[string][]string),
	}, nil
}

// Add inserts vectors with their chunk ids and metadata. Existing ids
// are replaced via lazy deletion.
func (s *HNSWVectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32, metas []ChunkMeta) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) || len(ids) != len(metas) {
		return fmt.Errorf("ids, vectors, and metas length mismatch: %d vs %d vs %d", len(ids), len(vectors), len(metas))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(v),
			}
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			// Lazy deletion: orphan the old key instead of removing
			// the node from the graph.
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
			s.dropChunkLocked(id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		node := hnsw.MakeNode(key, vec)
		s.graph.Add(node)

		s.idMap[id] = key
		s.keyMap[key] = id
		s.metas[id] = metas[i]
		s.byFile[metas[i].FilePath] = append(s.byFile[metas[i].FilePath], id)
	}

	return nil
}

// Search finds up to k nearest chunks to the query vector. When a filter
// is set the graph is over-fetched so filtered-out neighbors do not
// starve the result set.
func (s *HNSWVectorIndex) Search(ctx context.Context, query []float32, k int, filter *Filter) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(query),
		}
	}

	if s.graph.Len() == 0 {
		return []*VectorHit{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	fetch := k
	if filterActive(filter) {
		fetch = k * 4
	}
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	nodes := s.graph.Search(normalizedQuery, fetch)

	results := make([]*VectorHit, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Lazily deleted node still in the graph.
			continue
		}

		meta := s.metas[id]
		if !matchesFilter(meta, filter) {
			continue
		}

		distance := s.graph.Distance(normalizedQuery, node.Value)
		results = append(results, &VectorHit{
			ChunkID:  id,
			Meta:     meta,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
		if len(results) >= k {
			break
		}
	}

	return results, nil
}

// DeleteByFile removes every chunk belonging to a file. Graph nodes are
// lazily deleted.
func (s *HNSWVectorIndex) DeleteByFile(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range s.byFile[filePath] {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
		delete(s.metas, id)
	}
	delete(s.byFile, filePath)

	return nil
}

// Clear removes every chunk for a repository.
func (s *HNSWVectorIndex) Clear(ctx context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	var files []string
	for file, ids := range s.byFile {
		if len(ids) == 0 {
			continue
		}
		if s.metas[ids[0]].Repository == repository {
			files = append(files, file)
		}
	}

	for _, file := range files {
		for _, id := range s.byFile[file] {
			if key, exists := s.idMap[id]; exists {
				delete(s.keyMap, key)
				delete(s.idMap, id)
			}
			delete(s.metas, id)
		}
		delete(s.byFile, file)
	}

	return nil
}

// Count returns the number of live chunks.
func (s *HNSWVectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return len(s.idMap)
}

// Orphans returns the number of lazily deleted graph nodes. Used to
// decide when a rebuild-on-save is worthwhile.
func (s *HNSWVectorIndex) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return s.graph.Len() - len(s.idMap)
}

// Save persists the graph and its sidecar to disk using temp file +
// rename so a crash mid-save never corrupts the previous state.
func (s *HNSWVectorIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveSidecar(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

// saveSidecar writes id mappings and chunk metadata to a gob file.
func (s *HNSWVectorIndex) saveSidecar(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswSidecar{
		IDMap:   s.idMap,
		Metas:   s.metas,
		NextKey: s.nextKey,
		Config:  s.config,
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load restores the graph and its sidecar from disk.
func (s *HNSWVectorIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	if err := s.loadSidecar(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	return nil
}

// loadSidecar reads id mappings and chunk metadata from a gob file and
// rebuilds the derived indexes.
func (s *HNSWVectorIndex) loadSidecar(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswSidecar

	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	if meta.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      meta.Config.Dimensions,
		}
	}

	s.idMap = meta.IDMap
	s.metas = meta.Metas
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(s.idMap))
	s.byFile = make(map[string][]string)
	if s.metas == nil {
		s.metas = make(map[string]ChunkMeta)
	}

	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	for id, m := range s.metas {
		s.byFile[m.FilePath] = append(s.byFile[m.FilePath], id)
	}

	return nil
}

// Close releases the index.
func (s *HNSWVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.graph = nil

	return nil
}

// dropChunkLocked removes a chunk id from metas and its byFile list.
// Caller holds the write lock.
func (s *HNSWVectorIndex) dropChunkLocked(id string) {
	meta, ok := s.metas[id]
	if !ok {
		return
	}
	delete(s.metas, id)

	ids := s.byFile[meta.FilePath]
	for i, existing := range ids {
		if existing == id {
			s.byFile[meta.FilePath] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byFile[meta.FilePath]) == 0 {
		delete(s.byFile, meta.FilePath)
	}
}

// ReadVectorIndexDimensions reads the dimensions from an existing index
// sidecar. Returns 0 if the sidecar does not exist.
func ReadVectorIndexDimensions(vectorPath string) (int, error) {
	metaPath := vectorPath + ".meta"

	file, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open hnsw metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswSidecar
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode hnsw metadata: %w", err)
	}

	return meta.Config.Dimensions, nil
}

var _ VectorIndex = (*HNSWVectorIndex)(nil)

// filterActive reports whether the filter restricts anything.
func filterActive(filter *Filter) bool {
	return filter != nil &&
		(len(filter.Repositories) > 0 || len(filter.FileTypes) > 0 || filter.PathPrefix != "")
}

// matchesFilter checks chunk metadata against the filter.
func matchesFilter(meta ChunkMeta, filter *Filter) bool {
	if filter == nil {
		return true
	}

	if len(filter.Repositories) > 0 {
		found := false
		for _, repo := range filter.Repositories {
			if meta.Repository == repo {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.FileTypes) > 0 {
		found := false
		for _, ft := range filter.FileTypes {
			if meta.FileType == ft {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.PathPrefix != "" && !hasPathPrefix(meta.RelPath, filter.PathPrefix) {
		return false
	}

	return true
}

// hasPathPrefix reports whether path starts with prefix.
func hasPathPrefix(path, prefix string) bool {
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance to a similarity score in [0, 1].
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		// Cosine distance ranges from 0 (identical) to 2 (opposite).
		return 1.0 - distance/2.0
	}
}
