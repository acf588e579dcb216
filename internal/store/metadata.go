package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteMetadataStore persists file records, run stats, and system state
// in a single SQLite database. It is the source of truth for incremental
// indexing decisions.
type SQLiteMetadataStore struct {
	db   *sql.DB
	path string
}

// schema is applied on every open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS file_records (
	file_path        TEXT PRIMARY KEY,
	repository       TEXT NOT NULL,
	last_indexed_ts  INTEGER NOT NULL,
	last_modified_ts INTEGER NOT NULL,
	content_hash     TEXT NOT NULL DEFAULT '',
	file_size        INTEGER NOT NULL DEFAULT 0,
	index_kind       TEXT NOT NULL CHECK (index_kind IN ('lexical', 'vector', 'both')),
	created_ts       INTEGER NOT NULL,
	updated_ts       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_records_repository ON file_records(repository);
CREATE INDEX IF NOT EXISTS idx_file_records_repo_kind ON file_records(repository, index_kind);
CREATE INDEX IF NOT EXISTS idx_file_records_last_indexed ON file_records(last_indexed_ts);

CREATE TABLE IF NOT EXISTS repository_stats (
	repository          TEXT NOT NULL,
	index_kind          TEXT NOT NULL,
	total_files_indexed INTEGER NOT NULL DEFAULT 0,
	initial_run_seconds REAL,
	initial_run_ts      INTEGER,
	last_run_seconds    REAL,
	last_run_ts         INTEGER,
	total_size_bytes    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (repository, index_kind)
);

CREATE TABLE IF NOT EXISTS system_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// NewSQLiteMetadataStore opens (or creates) the metadata database at
// path. Use ":memory:" for tests. A database that fails the integrity
// check is cleared and recreated; a full reindex is then required.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	db, err := openMetadataDB(path)
	if err != nil {
		if path == ":memory:" {
			return nil, err
		}
		// Corrupt database file: clear and start fresh.
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, fmt.Errorf("metadata db unusable at %s and cannot remove: %w (original error: %v)", path, removeErr, err)
		}
		db, err = openMetadataDB(path)
		if err != nil {
			return nil, err
		}
	}

	return &SQLiteMetadataStore{db: db, path: path}, nil
}

func openMetadataDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-65536)" +
		"&_pragma=temp_store(MEMORY)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata db: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if err := validateDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}

// validateDB runs a quick integrity check so corruption is detected at
// open time rather than mid-run.
func validateDB(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check(1)").Scan(&result); err != nil {
		return fmt.Errorf("metadata db integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("metadata db integrity check failed: %s", result)
	}
	return nil
}

// IsStale reports whether a file needs (re)indexing for the kind: no
// record exists, the stored kind does not cover the requested kind, or
// the file changed after it was last indexed.
func (s *SQLiteMetadataStore) IsStale(ctx context.Context, filePath string, fileMtime time.Time, kind IndexKind) (bool, error) {
	var lastIndexed int64
	var storedKind string

	err := s.db.QueryRowContext(ctx,
		`SELECT last_indexed_ts, index_kind FROM file_records WHERE file_path = ?`,
		filePath).Scan(&lastIndexed, &storedKind)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query file record: %w", err)
	}

	if !IndexKind(storedKind).Covers(kind) {
		return true, nil
	}
	return fileMtime.Unix() > lastIndexed, nil
}

// Upsert inserts or updates a file record. The stored kind is merged
// monotonically with the new kind and created_ts is preserved.
func (s *SQLiteMetadataStore) Upsert(ctx context.Context, filePath, repository string, fileMtime time.Time, fileSize int64, kind IndexKind, now time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid index kind: %q", kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var storedKind string
	err = tx.QueryRowContext(ctx,
		`SELECT index_kind FROM file_records WHERE file_path = ?`,
		filePath).Scan(&storedKind)

	nowTS := now.Unix()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO file_records
				(file_path, repository, last_indexed_ts, last_modified_ts, file_size, index_kind, created_ts, updated_ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			filePath, repository, nowTS, fileMtime.Unix(), fileSize, string(kind), nowTS, nowTS)
		if err != nil {
			return fmt.Errorf("failed to insert file record: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to query file record: %w", err)
	default:
		merged := MergeKinds(IndexKind(storedKind), kind)
		_, err = tx.ExecContext(ctx,
			`UPDATE file_records
			 SET repository = ?, last_indexed_ts = ?, last_modified_ts = ?, file_size = ?, index_kind = ?, updated_ts = ?
			 WHERE file_path = ?`,
			repository, nowTS, fileMtime.Unix(), fileSize, string(merged), nowTS, filePath)
		if err != nil {
			return fmt.Errorf("failed to update file record: %w", err)
		}
	}

	return tx.Commit()
}

// Delete removes a file's record. Deleting a missing record is not an
// error.
func (s *SQLiteMetadataStore) Delete(ctx context.Context, filePath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_records WHERE file_path = ?`, filePath)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return nil
}

// DeleteAll removes every record for a repository.
func (s *SQLiteMetadataStore) DeleteAll(ctx context.Context, repository string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM file_records WHERE repository = ?`, repository); err != nil {
		return fmt.Errorf("failed to delete file records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM repository_stats WHERE repository = ?`, repository); err != nil {
		return fmt.Errorf("failed to delete repository stats: %w", err)
	}

	return tx.Commit()
}

// ClearKind removes the kind from a repository's records: rows indexed
// only for the kind are deleted, rows indexed for both are downgraded to
// the other kind.
func (s *SQLiteMetadataStore) ClearKind(ctx context.Context, repository string, kind IndexKind) error {
	if kind != KindLexical && kind != KindVector {
		return fmt.Errorf("clear kind must be lexical or vector, got %q", kind)
	}

	other := KindVector
	if kind == KindVector {
		other = KindLexical
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE file_records SET index_kind = ? WHERE repository = ? AND index_kind = 'both'`,
		string(other), repository); err != nil {
		return fmt.Errorf("failed to downgrade file records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM file_records WHERE repository = ? AND index_kind = ?`,
		repository, string(kind)); err != nil {
		return fmt.Errorf("failed to delete file records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM repository_stats WHERE repository = ? AND index_kind = ?`,
		repository, string(kind)); err != nil {
		return fmt.Errorf("failed to delete repository stats: %w", err)
	}

	return tx.Commit()
}

// sqliteRecordIterator streams file records from an open cursor.
type sqliteRecordIterator struct {
	rows    *sql.Rows
	current FileRecord
	err     error
}

func (it *sqliteRecordIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		if it.err == nil {
			it.err = it.rows.Err()
		}
		return false
	}

	var r FileRecord
	var kind string
	it.err = it.rows.Scan(&r.FilePath, &r.Repository, &r.LastIndexedTS, &r.LastModifiedTS,
		&r.ContentHash, &r.FileSize, &kind, &r.CreatedTS, &r.UpdatedTS)
	if it.err != nil {
		return false
	}
	r.IndexKind = IndexKind(kind)
	it.current = r
	return true
}

func (it *sqliteRecordIterator) Record() FileRecord { return it.current }
func (it *sqliteRecordIterator) Err() error         { return it.err }
func (it *sqliteRecordIterator) Close() error       { return it.rows.Close() }

// ListIndexed streams records for (repository, kind) without loading
// them all into memory. The caller must Close the iterator.
func (s *SQLiteMetadataStore) ListIndexed(ctx context.Context, repository string, kind IndexKind) (FileRecordIterator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path, repository, last_indexed_ts, last_modified_ts, content_hash, file_size, index_kind, created_ts, updated_ts
		 FROM file_records
		 WHERE repository = ? AND (index_kind = ? OR index_kind = 'both')
		 ORDER BY file_path`,
		repository, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}

	return &sqliteRecordIterator{rows: rows}, nil
}

// CountFiles returns the number of records for a repository.
func (s *SQLiteMetadataStore) CountFiles(ctx context.Context, repository string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_records WHERE repository = ?`, repository).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count file records: %w", err)
	}
	return n, nil
}

// RecordRun stores aggregate stats after an indexing run completes. The
// initial_run_* fields are written only when no previous run exists for
// the (repository, kind) pair.
func (s *SQLiteMetadataStore) RecordRun(ctx context.Context, repository string, kind IndexKind, filesIndexed int, durationSeconds float64, totalSizeBytes int64, now time.Time) error {
	nowTS := now.Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repository_stats
			(repository, index_kind, total_files_indexed, initial_run_seconds, initial_run_ts, last_run_seconds, last_run_ts, total_size_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(repository, index_kind) DO UPDATE SET
			total_files_indexed = excluded.total_files_indexed,
			initial_run_seconds = COALESCE(repository_stats.initial_run_seconds, excluded.initial_run_seconds),
			initial_run_ts      = COALESCE(repository_stats.initial_run_ts, excluded.initial_run_ts),
			last_run_seconds    = excluded.last_run_seconds,
			last_run_ts         = excluded.last_run_ts,
			total_size_bytes    = excluded.total_size_bytes`,
		repository, string(kind), filesIndexed, durationSeconds, nowTS, durationSeconds, nowTS, totalSizeBytes)
	if err != nil {
		return fmt.Errorf("failed to record run stats: %w", err)
	}
	return nil
}

// Stats returns repository stats, all of them when repository is empty.
func (s *SQLiteMetadataStore) Stats(ctx context.Context, repository string) ([]RepositoryStat, error) {
	query := `SELECT repository, index_kind, total_files_indexed,
			COALESCE(initial_run_seconds, 0), COALESCE(initial_run_ts, 0),
			COALESCE(last_run_seconds, 0), COALESCE(last_run_ts, 0),
			total_size_bytes
		 FROM repository_stats`
	args := []any{}
	if repository != "" {
		query += ` WHERE repository = ?`
		args = append(args, repository)
	}
	query += ` ORDER BY repository, index_kind`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query repository stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []RepositoryStat
	for rows.Next() {
		var st RepositoryStat
		var kind string
		if err := rows.Scan(&st.Repository, &kind, &st.TotalFilesIndexed,
			&st.InitialRunSeconds, &st.InitialRunTS,
			&st.LastRunSeconds, &st.LastRunTS, &st.TotalSizeBytes); err != nil {
			return nil, fmt.Errorf("failed to scan repository stat: %w", err)
		}
		st.IndexKind = IndexKind(kind)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// GetState reads a system state value. Missing keys return "" with no
// error.
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read system state: %w", err)
	}
	return value, nil
}

// PutState writes a system state value.
func (s *SQLiteMetadataStore) PutState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write system state: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)
