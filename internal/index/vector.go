package index

import (
	"context"
	"fmt"

	"github.com/codeatlas/codeatlas/internal/chunk"
	"github.com/codeatlas/codeatlas/internal/embed"
	"github.com/codeatlas/codeatlas/internal/store"
)

// DefaultEmbedBatchSize is the number of chunks embedded per model call.
const DefaultEmbedBatchSize = 32

// VectorWriter maintains the semantic backend: it chunks file content,
// embeds the chunks, and replaces a file's chunk set as a unit.
type VectorWriter struct {
	index     store.VectorIndex
	embedder  embed.Embedder
	chunker   *chunk.Chunker
	locks     *KeyedMutex
	batchSize int
}

// NewVectorWriter creates a writer over the given vector index. A
// batchSize of 0 uses the default.
func NewVectorWriter(idx store.VectorIndex, embedder embed.Embedder, chunker *chunk.Chunker, batchSize int) *VectorWriter {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	return &VectorWriter{
		index:     idx,
		embedder:  embedder,
		chunker:   chunker,
		locks:     NewKeyedMutex(),
		batchSize: batchSize,
	}
}

// Upsert chunks and embeds the file content, then swaps the file's chunk
// set under a per-file lock so concurrent readers never see a mixture of
// old and new chunks.
func (w *VectorWriter) Upsert(ctx context.Context, filePath, relPath, repository, content, fileType string) error {
	chunks := w.chunker.Split(content)

	ids := make([]string, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	metas := make([]store.ChunkMeta, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, store.ChunkID(filePath, c.Index))
		texts = append(texts, c.Text)
		metas = append(metas, store.ChunkMeta{
			FilePath:   filePath,
			RelPath:    relPath,
			Repository: repository,
			FileType:   fileType,
			ChunkIndex: c.Index,
		})
	}

	// Embedding happens outside the critical section; only the
	// delete-then-insert swap is serialized per file.
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += w.batchSize {
		end := start + w.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := w.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("embed %s: %w", filePath, err)
		}
		vectors = append(vectors, batch...)
	}

	unlock := w.locks.Lock(filePath)
	defer unlock()

	if err := w.index.DeleteByFile(ctx, filePath); err != nil {
		return fmt.Errorf("vector delete %s: %w", filePath, err)
	}
	if err := w.index.Add(ctx, ids, vectors, metas); err != nil {
		return fmt.Errorf("vector add %s: %w", filePath, err)
	}
	return nil
}

// Delete removes every chunk belonging to a file.
func (w *VectorWriter) Delete(ctx context.Context, filePath string) error {
	unlock := w.locks.Lock(filePath)
	defer unlock()

	if err := w.index.DeleteByFile(ctx, filePath); err != nil {
		return fmt.Errorf("vector delete %s: %w", filePath, err)
	}
	return nil
}

// Clear removes every chunk belonging to a repository.
func (w *VectorWriter) Clear(ctx context.Context, repository string) error {
	if err := w.index.Clear(ctx, repository); err != nil {
		return fmt.Errorf("vector clear %s: %w", repository, err)
	}
	return nil
}

// Save persists the vector index to disk.
func (w *VectorWriter) Save(path string) error {
	return w.index.Save(path)
}
