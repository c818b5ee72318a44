package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	namespace  TEXT PRIMARY KEY,
	blob       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite stores blobs in a single kv table.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens (or creates) the database at dsn and ensures the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string, logger zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	// an in-memory database exists per connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	logger.Info().Str("dsn", dsn).Msg("SQLite storage opened")
	return &SQLite{db: db, logger: logger}, nil
}

// Load implements Storage.
func (s *SQLite) Load(ctx context.Context, namespace string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM kv WHERE namespace = ?`, namespace).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		observe("sqlite", "load", ErrNotFound)
		return nil, ErrNotFound
	}
	observe("sqlite", "load", err)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", namespace, err)
	}
	return blob, nil
}

// Save implements Storage.
func (s *SQLite) Save(ctx context.Context, namespace string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (namespace, blob, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(namespace) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		namespace, blob, time.Now().UnixMilli())
	observe("sqlite", "save", err)
	if err != nil {
		s.logger.Error().Err(err).Str("namespace", namespace).Msg("SQLite save failed")
		return fmt.Errorf("save %q: %w", namespace, err)
	}
	storageBytes.WithLabelValues("sqlite", namespace).Set(float64(len(blob)))
	s.logger.Debug().Str("namespace", namespace).Int("bytes", len(blob)).Msg("Blob saved")
	return nil
}

// Remove implements Storage.
func (s *SQLite) Remove(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?`, namespace)
	observe("sqlite", "remove", err)
	if err != nil {
		return fmt.Errorf("remove %q: %w", namespace, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
