package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	return root.Execute()
}

func TestRootHasSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"index", "search", "repos", "status", "watch", "version"}
	got := make(map[string]bool)
	for _, c := range root.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, got[name], "missing subcommand %s", name)
	}
}

func TestVersionCommand(t *testing.T) {
	require.NoError(t, execute(t, "version"))
	require.NoError(t, execute(t, "version", "--json"))
}

func TestSearchRequiresQuery(t *testing.T) {
	assert.Error(t, execute(t, "search"))
}

func TestSearchRejectsUnknownMode(t *testing.T) {
	err := execute(t, "--data-dir", t.TempDir(), "search", "query", "--mode", "psychic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestIndexRejectsConflictingKindFlags(t *testing.T) {
	err := execute(t, "--data-dir", t.TempDir(), "index", "--lexical-only", "--vector-only")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestReposAddListRemove(t *testing.T) {
	data := t.TempDir()
	repo := t.TempDir()

	require.NoError(t, execute(t, "--data-dir", data, "repos", "add", "demo", repo))
	require.NoError(t, execute(t, "--data-dir", data, "repos", "list"))
	require.NoError(t, execute(t, "--data-dir", data, "repos", "update", "demo", "--lock"))
	require.NoError(t, execute(t, "--data-dir", data, "repos", "remove", "demo"))

	// Removing twice fails: the repository is gone.
	assert.Error(t, execute(t, "--data-dir", data, "repos", "remove", "demo"))
}

func TestIndexAndStatusEndToEnd(t *testing.T) {
	data := t.TempDir()
	repo := t.TempDir()
	writeFile(t, repo+"/main.go", "package main\n\nfunc main() {}\n")

	require.NoError(t, execute(t, "--data-dir", data, "repos", "add", "demo", repo))
	require.NoError(t, execute(t, "--data-dir", data, "index", "--quiet", "--full"))
	require.NoError(t, execute(t, "--data-dir", data, "status"))
	require.NoError(t, execute(t, "--data-dir", data, "search", "main", "--mode", "lexical"))
}
