// Package index contains the writers that feed the search backends and
// the orchestrator that drives indexing runs over registered
// repositories.
package index

import (
	"context"
	"fmt"

	"github.com/codeatlas/codeatlas/internal/store"
)

// LexicalWriter maintains the BM25 backend, one document per file.
type LexicalWriter struct {
	index store.LexicalIndex
}

// NewLexicalWriter creates a writer over the given lexical index.
func NewLexicalWriter(idx store.LexicalIndex) *LexicalWriter {
	return &LexicalWriter{index: idx}
}

// Upsert writes one file document. The document id is the stable hash of
// the absolute file path, so re-indexing replaces the previous version.
func (w *LexicalWriter) Upsert(ctx context.Context, filePath, relPath, repository, content, fileType string) error {
	doc := &store.Document{
		ID:         store.DocumentID(filePath),
		FilePath:   filePath,
		RelPath:    relPath,
		Repository: repository,
		Content:    content,
		FileType:   fileType,
	}
	if err := w.index.Upsert(ctx, []*store.Document{doc}); err != nil {
		return fmt.Errorf("lexical upsert %s: %w", filePath, err)
	}
	return nil
}

// Delete removes the document for a file.
func (w *LexicalWriter) Delete(ctx context.Context, filePath string) error {
	if err := w.index.Delete(ctx, []string{store.DocumentID(filePath)}); err != nil {
		return fmt.Errorf("lexical delete %s: %w", filePath, err)
	}
	return nil
}

// Clear removes every document belonging to a repository.
func (w *LexicalWriter) Clear(ctx context.Context, repository string) error {
	if err := w.index.Clear(ctx, repository); err != nil {
		return fmt.Errorf("lexical clear %s: %w", repository, err)
	}
	return nil
}
