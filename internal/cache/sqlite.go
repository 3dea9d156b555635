package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore persists cache entries in the shared database so restarts can
// still serve warm lookups.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(fingerprint string) ([]byte, time.Time, error) {
	var payload []byte
	var createdAt string
	err := s.db.QueryRow(
		"SELECT payload, created_at FROM cache_entries WHERE fingerprint = ?",
		fingerprint,
	).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query cache entry: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse cache timestamp: %w", err)
	}
	return payload, parsed, nil
}

func (s *SQLStore) Set(fingerprint string, payload []byte, createdAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO cache_entries (fingerprint, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		fingerprint, payload, createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteExpired(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(
		"DELETE FROM cache_entries WHERE created_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count removed cache entries: %w", err)
	}
	return int(removed), nil
}
