package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan ScanResult) []*FileInfo {
	t.Helper()
	var files []*FileInfo
	for res := range ch {
		require.NoError(t, res.Error)
		files = append(files, res.File)
	}
	return files
}

func paths(files []*FileInfo) []string {
	var out []string
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newScanner(t *testing.T) *Scanner {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	return s
}

func TestScanStreamsFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "docs/readme.md", "# readme")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)

	files := collect(t, ch)
	assert.ElementsMatch(t, []string{"main.go", "docs/readme.md"}, paths(files))
}

func TestScanFileMetadata(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/util.go", "package pkg\nfunc Util() {}\n")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)

	files := collect(t, ch)
	require.Len(t, files, 1)
	f := files[0]
	assert.Equal(t, "pkg/util.go", f.Path)
	assert.Equal(t, filepath.Join(root, "pkg", "util.go"), f.AbsPath)
	assert.Equal(t, "go", f.Language)
	assert.False(t, f.ModTime.IsZero())
	assert.Positive(t, f.Size)
}

func TestScanSkipsDefaultExcludedDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.js", "let x = 1")
	writeFile(t, root, "node_modules/lib/index.js", "let y = 2")
	writeFile(t, root, ".git/config", "[core]")
	writeFile(t, root, "vendor/dep/dep.go", "package dep")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, []string{"src/app.js"}, paths(collect(t, ch)))
}

func TestScanExcludePatternsWin(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", "package a")
	writeFile(t, root, "skip_test.go", "package a")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{
		RootDir:         root,
		IncludePatterns: []string{"*.go"},
		ExcludePatterns: []string{"*_test.go"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"keep.go"}, paths(collect(t, ch)))
}

func TestScanIncludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.md", "# b")
	writeFile(t, root, "c.bin.txt", "text")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{
		RootDir:         root,
		IncludePatterns: []string{"*.go", "*.md"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a.go", "b.md"}, paths(collect(t, ch)))
}

func TestScanInvalidPatternRejected(t *testing.T) {
	root := t.TempDir()
	s := newScanner(t)

	_, err := s.Scan(context.Background(), &ScanOptions{
		RootDir:         root,
		IncludePatterns: []string{"[unclosed"},
	})
	assert.Error(t, err)
}

func TestScanSkipsBinaryFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "text.go", "package a")
	writeFile(t, root, "blob.dat", "head\x00binary")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, []string{"text.go"}, paths(collect(t, ch)))
}

func TestScanSkipsSensitiveFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.go", "package a")
	writeFile(t, root, ".env", "SECRET=1")
	writeFile(t, root, ".env.local", "SECRET=2")
	writeFile(t, root, "server.pem", "not really a cert")
	writeFile(t, root, "aws_credentials.txt", "key")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, []string{"app.go"}, paths(collect(t, ch)))
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "ok")
	writeFile(t, root, "big.txt", strings.Repeat("x", 2048))

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{
		RootDir:     root,
		MaxFileSize: 1024,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"small.txt"}, paths(collect(t, ch)))
}

func TestScanRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\ntmp/\n")
	writeFile(t, root, "app.go", "package a")
	writeFile(t, root, "debug.log", "noise")
	writeFile(t, root, "tmp/cache.txt", "cached")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{
		RootDir:          root,
		RespectGitignore: true,
	})
	require.NoError(t, err)

	got := paths(collect(t, ch))
	assert.Contains(t, got, "app.go")
	assert.NotContains(t, got, "debug.log")
	assert.NotContains(t, got, "tmp/cache.txt")
}

func TestScanNestedGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sub/.gitignore", "*.gen.go\n")
	writeFile(t, root, "sub/types.gen.go", "package sub")
	writeFile(t, root, "sub/real.go", "package sub")
	writeFile(t, root, "types.gen.go", "package a")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{
		RootDir:          root,
		RespectGitignore: true,
	})
	require.NoError(t, err)

	got := paths(collect(t, ch))
	assert.NotContains(t, got, "sub/types.gen.go")
	assert.Contains(t, got, "sub/real.go")
	assert.Contains(t, got, "types.gen.go", "nested rules do not apply outside their subtree")
}

func TestScanDoesNotFollowSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, outside, "secret.go", "package secret")
	writeFile(t, root, "app.go", "package a")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linked")))

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, []string{"app.go"}, paths(collect(t, ch)))
}

func TestScanDetectsGeneratedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "gen.go", "// Code generated by protoc. DO NOT EDIT.\npackage a")
	writeFile(t, root, "real.go", "package a")

	s := newScanner(t)
	ch, err := s.Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)

	byPath := map[string]*FileInfo{}
	for _, f := range collect(t, ch) {
		byPath[f.Path] = f
	}
	assert.True(t, byPath["gen.go"].IsGenerated)
	assert.False(t, byPath["real.go"].IsGenerated)
}

func TestScanCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, root, filepath.Join("d", "f"+string(rune('a'+i%26))+".txt"), "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newScanner(t)
	ch, err := s.Scan(ctx, &ScanOptions{RootDir: root})
	require.NoError(t, err)

	var n int
	for range ch {
		n++
	}
	assert.Less(t, n, 50)
}

func TestScanMissingRoot(t *testing.T) {
	s := newScanner(t)
	_, err := s.Scan(context.Background(), &ScanOptions{
		RootDir: filepath.Join(t.TempDir(), "missing"),
	})
	assert.Error(t, err)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"src/app.tsx", "typescript"},
		{"README.md", "markdown"},
		{"Dockerfile", "dockerfile"},
		{"Makefile", "makefile"},
		{"unknown.xyz", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.path), tt.path)
	}
}

func TestInvalidateGitignoreCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\n")
	writeFile(t, root, "a.log", "x")
	writeFile(t, root, "a.go", "package a")

	s := newScanner(t)
	opts := &ScanOptions{RootDir: root, RespectGitignore: true}

	ch, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, paths(collect(t, ch)))

	// Drop the rule and invalidate; the log file should now be scanned.
	writeFile(t, root, ".gitignore", "\n")
	s.InvalidateGitignoreCache()

	ch, err = s.Scan(context.Background(), opts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "a.log"}, paths(collect(t, ch)))
}
