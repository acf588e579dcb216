package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// CodeTokenizerName is the name of the custom code tokenizer.
	CodeTokenizerName = "code_tokenizer"

	// CodeStopFilterName is the name of the custom stop word filter.
	CodeStopFilterName = "code_stop"

	// CodeAnalyzerName is the name of the custom code analyzer.
	CodeAnalyzerName = "code_analyzer"

	// contentBoost weights content matches above file path matches.
	contentBoost = 2.0

	// clearBatchSize is the page size used when deleting a repository's
	// documents.
	clearBatchSize = 500
)

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(CodeStopFilterName, codeStopFilterConstructor)
}

// BleveLexicalIndex wraps bleve v2 for BM25 keyword search over file
// documents.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDocument is the document shape handed to bleve.
type bleveDocument struct {
	Content    string `json:"content"`
	FilePath   string `json:"file_path"`
	Path       string `json:"path"`
	RelPath    string `json:"relative_path"`
	Repository string `json:"repository"`
	FileType   string `json:"file_type"`
}

// validateIndexIntegrity checks a bleve index directory before opening.
// Returns nil if the index is valid or absent.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError checks if an error indicates bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveLexicalIndex creates or opens a lexical index at path.
// An empty path creates an in-memory index. Corrupted on-disk indexes
// are cleared and recreated; a reindex is then required.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("lexical_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "open failed with corruption, please reindex"))

			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveLexicalIndex{
		index: idx,
		path:  path,
	}, nil
}

// createIndexMapping builds the bleve mapping: content and file_path use
// the code analyzer, the remaining fields are exact keywords used for
// filtering and display.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	codeField := bleve.NewTextFieldMapping()
	codeField.Analyzer = CodeAnalyzerName
	codeField.Store = false

	pathTokensField := bleve.NewTextFieldMapping()
	pathTokensField.Analyzer = CodeAnalyzerName
	pathTokensField.Store = false

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	keywordField.Store = true

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", codeField)
	docMapping.AddFieldMappingsAt("file_path", pathTokensField)
	docMapping.AddFieldMappingsAt("path", keywordField)
	docMapping.AddFieldMappingsAt("relative_path", keywordField)
	docMapping.AddFieldMappingsAt("repository", keywordField)
	docMapping.AddFieldMappingsAt("file_type", keywordField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = CodeAnalyzerName

	return indexMapping, nil
}

// Upsert writes documents to the index. Existing ids are replaced.
func (b *BleveLexicalIndex) Upsert(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		bdoc := bleveDocument{
			Content:    doc.Content,
			FilePath:   doc.FilePath,
			Path:       doc.FilePath,
			RelPath:    doc.RelPath,
			Repository: doc.Repository,
			FileType:   doc.FileType,
		}
		if err := batch.Index(doc.ID, bdoc); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	return nil
}

// Delete removes documents from the index.
func (b *BleveLexicalIndex) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	return nil
}

// Clear removes every document belonging to a repository, paging through
// the matches so large repositories do not load all ids at once.
func (b *BleveLexicalIndex) Clear(ctx context.Context, repository string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	for {
		tq := bleve.NewTermQuery(repository)
		tq.SetField("repository")

		req := bleve.NewSearchRequest(tq)
		req.Size = clearBatchSize
		req.Fields = []string{}

		result, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to list repository documents: %w", err)
		}
		if len(result.Hits) == 0 {
			return nil
		}

		batch := b.index.NewBatch()
		for _, hit := range result.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete repository documents: %w", err)
		}
	}
}

// Search returns up to limit hits for the query, best first. Content
// matches are weighted above file path matches; the optional filter
// narrows by repository, file type, and path prefix.
func (b *BleveLexicalIndex) Search(ctx context.Context, queryStr string, limit int, filter *Filter) ([]*LexicalHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*LexicalHit{}, nil
	}

	contentQuery := bleve.NewMatchQuery(queryStr)
	contentQuery.SetField("content")
	contentQuery.SetBoost(contentBoost)

	pathQuery := bleve.NewMatchQuery(queryStr)
	pathQuery.SetField("file_path")

	matched := bleve.NewDisjunctionQuery(contentQuery, pathQuery)

	finalQuery := buildFilteredQuery(matched, filter)

	searchRequest := bleve.NewSearchRequest(finalQuery)
	searchRequest.Size = limit
	searchRequest.IncludeLocations = true
	searchRequest.Fields = []string{"path", "relative_path", "repository", "file_type"}

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalHit{
			DocID:        hit.ID,
			FilePath:     fieldString(hit, "path"),
			RelPath:      fieldString(hit, "relative_path"),
			Repository:   fieldString(hit, "repository"),
			FileType:     fieldString(hit, "file_type"),
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}

	return results, nil
}

// buildFilteredQuery wraps the base query in a conjunction with the
// filter terms. A nil or empty filter returns the base query unchanged.
func buildFilteredQuery(base query.Query, filter *Filter) query.Query {
	if filter == nil {
		return base
	}

	parts := []query.Query{base}

	if len(filter.Repositories) > 0 {
		repoQueries := make([]query.Query, 0, len(filter.Repositories))
		for _, repo := range filter.Repositories {
			tq := bleve.NewTermQuery(repo)
			tq.SetField("repository")
			repoQueries = append(repoQueries, tq)
		}
		parts = append(parts, bleve.NewDisjunctionQuery(repoQueries...))
	}

	if len(filter.FileTypes) > 0 {
		typeQueries := make([]query.Query, 0, len(filter.FileTypes))
		for _, ft := range filter.FileTypes {
			tq := bleve.NewTermQuery(ft)
			tq.SetField("file_type")
			typeQueries = append(typeQueries, tq)
		}
		parts = append(parts, bleve.NewDisjunctionQuery(typeQueries...))
	}

	if filter.PathPrefix != "" {
		pq := bleve.NewPrefixQuery(filter.PathPrefix)
		pq.SetField("relative_path")
		parts = append(parts, pq)
	}

	if len(parts) == 1 {
		return base
	}
	return bleve.NewConjunctionQuery(parts...)
}

// DocCount returns the number of indexed documents.
func (b *BleveLexicalIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("index is closed")
	}

	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// fieldString reads a stored string field from a hit.
func fieldString(hit *search.DocumentMatch, field string) string {
	if v, ok := hit.Fields[field].(string); ok {
		return v
	}
	return ""
}

// extractMatchedTerms extracts matched content terms from a search hit.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "content" || field == "file_path" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// codeTokenizerConstructor creates the code tokenizer for bleve.
func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

// bleveCodeTokenizer implements analysis.Tokenizer with code-aware
// tokenization.
type bleveCodeTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}

// codeStopFilterConstructor creates the code stop word filter for bleve.
func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{
		stopWords: BuildStopWordMap(defaultCodeStopWords),
	}, nil
}

// bleveCodeStopFilter implements analysis.TokenFilter for code stop words.
type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
