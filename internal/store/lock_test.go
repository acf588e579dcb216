package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataDirLockExclusive(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireDataDirLock(dir)
	require.NoError(t, err)

	_, err = AcquireDataDirLock(dir)
	assert.Error(t, err, "second acquisition must fail while held")

	require.NoError(t, lock.Release())

	lock, err = AcquireDataDirLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestDataDirLockCreatesDir(t *testing.T) {
	dir := t.TempDir() + "/nested/data"

	lock, err := AcquireDataDirLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}
