package quota

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps quota records in process. Used in tests and as a default
// when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(providerID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[providerID]
	if !ok {
		return Record{}, false, nil
	}
	copied := record
	copied.Usefulness = append([]float64(nil), record.Usefulness...)
	return copied, true, nil
}

func (s *MemoryStore) Put(record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := record
	copied.Usefulness = append([]float64(nil), record.Usefulness...)
	s.records[record.ProviderID] = copied
	return nil
}

func (s *MemoryStore) All() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		copied := record
		copied.Usefulness = append([]float64(nil), record.Usefulness...)
		out = append(out, copied)
	}
	return out, nil
}

// SQLStore persists quota records one row per provider with the usefulness
// history encoded as JSON. Upserts keep each write atomic per record.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(providerID string) (Record, bool, error) {
	var record Record
	var resetAt sql.NullString
	var usefulness string
	err := s.db.QueryRow(
		`SELECT provider_id, quota_limit, used, reset_at, usefulness, registered_at
		 FROM provider_quotas WHERE provider_id = ?`,
		providerID,
	).Scan(&record.ProviderID, &record.Limit, &record.Used, &resetAt, &usefulness, &record.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("query quota record: %w", err)
	}

	if resetAt.Valid && resetAt.String != "" {
		parsed, parseErr := time.Parse(time.RFC3339Nano, resetAt.String)
		if parseErr != nil {
			return Record{}, false, fmt.Errorf("parse quota reset time: %w", parseErr)
		}
		record.ResetAt = parsed
	}
	if err := json.Unmarshal([]byte(usefulness), &record.Usefulness); err != nil {
		return Record{}, false, fmt.Errorf("decode usefulness history: %w", err)
	}
	return record, true, nil
}

func (s *SQLStore) Put(record Record) error {
	history, err := json.Marshal(record.Usefulness)
	if err != nil {
		return fmt.Errorf("encode usefulness history: %w", err)
	}
	var resetAt any
	if !record.ResetAt.IsZero() {
		resetAt = record.ResetAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = s.db.Exec(
		`INSERT INTO provider_quotas (provider_id, quota_limit, used, reset_at, usefulness, registered_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider_id) DO UPDATE SET
			quota_limit = excluded.quota_limit,
			used = excluded.used,
			reset_at = excluded.reset_at,
			usefulness = excluded.usefulness,
			updated_at = excluded.updated_at`,
		record.ProviderID, record.Limit, record.Used, resetAt, string(history),
		record.RegisteredAt, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert quota record: %w", err)
	}
	return nil
}

func (s *SQLStore) All() ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT provider_id, quota_limit, used, reset_at, usefulness, registered_at FROM provider_quotas`,
	)
	if err != nil {
		return nil, fmt.Errorf("query quota records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var record Record
		var resetAt sql.NullString
		var usefulness string
		if err := rows.Scan(&record.ProviderID, &record.Limit, &record.Used, &resetAt, &usefulness, &record.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan quota record: %w", err)
		}
		if resetAt.Valid && resetAt.String != "" {
			parsed, parseErr := time.Parse(time.RFC3339Nano, resetAt.String)
			if parseErr == nil {
				record.ResetAt = parsed
			}
		}
		if err := json.Unmarshal([]byte(usefulness), &record.Usefulness); err != nil {
			return nil, fmt.Errorf("decode usefulness history: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
