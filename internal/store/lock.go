package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DataDirLock guards a data directory against concurrent writer
// processes. Two engines sharing a data directory would corrupt the
// bleve and HNSW files.
type DataDirLock struct {
	fl *flock.Flock
}

// AcquireDataDirLock takes an exclusive non-blocking lock on the data
// directory. It fails immediately if another process holds the lock.
func AcquireDataDirLock(dataDir string) (*DataDirLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fl := flock.New(filepath.Join(dataDir, ".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire data dir lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data directory %s is locked by another process", dataDir)
	}

	return &DataDirLock{fl: fl}, nil
}

// Release drops the lock.
func (l *DataDirLock) Release() error {
	return l.fl.Unlock()
}
