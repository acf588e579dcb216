package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codeatlas/codeatlas/internal/gitignore"
)

// gitignoreCacheSize caps the number of cached gitignore matchers so a
// long-running process does not grow without bound.
const gitignoreCacheSize = 1000

// Scanner discovers indexable files under repository roots.
type Scanner struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

// New creates a new Scanner instance.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Scanner{gitignoreCache: cache}, nil
}

// compiledPatterns holds glob matchers compiled from ScanOptions.
type compiledPatterns struct {
	include []glob.Glob
	exclude []glob.Glob
	// rawExclude keeps the original strings for directory pruning.
	rawExclude []string
}

// compilePatterns compiles the include and exclude glob lists.
func compilePatterns(opts *ScanOptions) (*compiledPatterns, error) {
	cp := &compiledPatterns{rawExclude: opts.ExcludePatterns}

	for _, p := range opts.IncludePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		cp.include = append(cp.include, g)
	}
	for _, p := range opts.ExcludePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		cp.exclude = append(cp.exclude, g)
	}
	return cp, nil
}

// Scan discovers all indexable files under opts.RootDir and streams them
// on the returned channel. The channel is closed when scanning completes.
// The file list is never materialized in memory.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	patterns, err := compilePatterns(opts)
	if err != nil {
		return nil, err
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	results := make(chan ScanResult, 64)

	go func() {
		defer close(results)
		s.walk(ctx, absRoot, opts, patterns, maxFileSize, results)
	}()

	return results, nil
}

// walk performs the directory traversal.
func (s *Scanner) walk(ctx context.Context, absRoot string, opts *ScanOptions, patterns *compiledPatterns, maxFileSize int64, results chan<- ScanResult) {
	// Permission failures are reported once per subtree.
	reported := make(map[string]bool)

	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			subtree := filepath.Dir(path)
			if !reported[subtree] {
				reported[subtree] = true
				slog.Warn("skipping unreadable subtree",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if s.shouldExcludeDir(relPath, patterns) {
				return filepath.SkipDir
			}
			return nil
		}

		// Symbolic links are never followed unless asked.
		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}

		if s.shouldExcludeFile(relPath, absRoot, opts, patterns) {
			return nil
		}

		if len(patterns.include) > 0 && !matchesInclude(relPath, patterns.include) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxFileSize {
			return nil
		}
		if s.isBinaryFile(path) {
			return nil
		}

		fileInfo := &FileInfo{
			Path:        relPath,
			AbsPath:     path,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Language:    DetectLanguage(relPath),
			IsGenerated: s.isGeneratedFile(path),
		}

		select {
		case results <- ScanResult{File: fileInfo}:
		case <-ctx.Done():
			return ctx.Err()
		}

		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// shouldExcludeDir checks if a directory subtree can be pruned.
func (s *Scanner) shouldExcludeDir(relPath string, patterns *compiledPatterns) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range patterns.rawExclude {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

// shouldExcludeFile checks if a file should be excluded.
func (s *Scanner) shouldExcludeFile(relPath, absRoot string, opts *ScanOptions, patterns *compiledPatterns) bool {
	base := filepath.Base(relPath)

	for _, g := range sensitiveFileGlobs {
		if g.Match(base) {
			return true
		}
	}
	for _, g := range defaultExcludeFileGlobs {
		if g.Match(relPath) {
			return true
		}
	}
	for _, g := range patterns.exclude {
		if g.Match(relPath) || g.Match(base) {
			return true
		}
	}

	if opts.RespectGitignore && s.isGitignored(relPath, absRoot) {
		return true
	}

	return false
}

// matchesInclude checks the relative path and its basename against the
// include globs.
func matchesInclude(relPath string, include []glob.Glob) bool {
	base := filepath.Base(relPath)
	for _, g := range include {
		if g.Match(relPath) || g.Match(base) {
			return true
		}
	}
	return false
}

// matchDirPattern checks if a directory path matches an exclude pattern.
func matchDirPattern(relPath, pattern string) bool {
	// **/name/** patterns match the named segment anywhere.
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		suffix = strings.TrimSuffix(suffix, "/**")
		for _, part := range strings.Split(relPath, "/") {
			if part == suffix {
				return true
			}
		}
		return false
	}

	// name/** patterns match the directory itself and everything under it.
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	}

	return relPath == pattern || strings.HasPrefix(relPath, pattern+"/")
}

// isBinaryFile sniffs for NUL bytes in the first 512 bytes.
func (s *Scanner) isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}

	return bytes.Contains(buf[:n], []byte{0})
}

// generatedMarkers appear near the top of auto-generated files.
var generatedMarkers = []string{
	"// Code generated",
	"// DO NOT EDIT",
	"/* DO NOT EDIT",
	"# Generated by",
	"<!-- AUTO-GENERATED -->",
	"// Generated by",
	"/* Generated by",
}

// isGeneratedFile checks the first 1KB for generated-file markers.
func (s *Scanner) isGeneratedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}

	content := string(buf[:n])
	for _, marker := range generatedMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// isGitignored checks the root .gitignore and every nested .gitignore on
// the path to the file.
func (s *Scanner) isGitignored(relPath, absRoot string) bool {
	rootMatcher := s.getGitignoreMatcher(absRoot, "")
	if rootMatcher != nil && rootMatcher.Match(relPath, false) {
		return true
	}

	parts := strings.Split(filepath.Dir(relPath), "/")
	currentDir := absRoot
	currentBase := ""

	for _, part := range parts {
		if part == "." {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = currentBase + "/" + part
		}

		matcher := s.getGitignoreMatcher(currentDir, currentBase)
		if matcher != nil && matcher.Match(relPath, false) {
			return true
		}
	}

	return false
}

// getGitignoreMatcher gets or creates a gitignore matcher for a directory.
func (s *Scanner) getGitignoreMatcher(dir, base string) *gitignore.Matcher {
	s.cacheMu.RLock()
	matcher, ok := s.gitignoreCache.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil
	}

	matcher = gitignore.New()
	if err := matcher.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.gitignoreCache.Add(dir, matcher)
	s.cacheMu.Unlock()

	return matcher
}

// InvalidateGitignoreCache clears the gitignore matcher cache. Call when
// .gitignore files change so fresh patterns are used.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}

// Default directories to exclude.
var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/.ssh/**",
	"**/.aws/**",
}

// Default files to exclude, compiled once.
var defaultExcludeFileGlobs = compileGlobs([]string{
	"**/*.min.js",
	"**/*.min.css",
	"*.min.js",
	"*.min.css",
	"**/package-lock.json",
	"package-lock.json",
	"**/yarn.lock",
	"yarn.lock",
	"**/pnpm-lock.yaml",
	"pnpm-lock.yaml",
	"**/go.sum",
	"go.sum",
})

// Sensitive file patterns that are never indexed, matched on basenames.
var sensitiveFileGlobs = compileGlobs([]string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
})

func compileGlobs(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, glob.MustCompile(p, '/'))
	}
	return out
}
