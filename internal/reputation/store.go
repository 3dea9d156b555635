package reputation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps site profiles in process. Used in tests and as a default
// when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (s *MemoryStore) Get(domain string) (Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[domain]
	if !ok {
		return Profile{}, false, nil
	}
	copied := profile
	copied.ValuablePaths = append([]string(nil), profile.ValuablePaths...)
	return copied, true, nil
}

func (s *MemoryStore) Put(profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := profile
	copied.ValuablePaths = append([]string(nil), profile.ValuablePaths...)
	s.profiles[profile.Domain] = copied
	return nil
}

func (s *MemoryStore) All() ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		copied := profile
		copied.ValuablePaths = append([]string(nil), profile.ValuablePaths...)
		out = append(out, copied)
	}
	return out, nil
}

func (s *MemoryStore) Delete(domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, domain)
	return nil
}

// SQLStore persists site profiles one row per domain, valuable paths encoded
// as JSON.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(domain string) (Profile, bool, error) {
	var profile Profile
	var requiresLogin, requiresJS int
	var paths string
	err := s.db.QueryRow(
		`SELECT domain, success_rate, avg_relevance, total_visits, requires_login, requires_javascript, valuable_paths
		 FROM site_profiles WHERE domain = ?`,
		domain,
	).Scan(&profile.Domain, &profile.SuccessRate, &profile.AvgRelevance, &profile.TotalVisits,
		&requiresLogin, &requiresJS, &paths)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("query site profile: %w", err)
	}

	profile.RequiresLogin = requiresLogin != 0
	profile.RequiresJavaScript = requiresJS != 0
	if err := json.Unmarshal([]byte(paths), &profile.ValuablePaths); err != nil {
		return Profile{}, false, fmt.Errorf("decode valuable paths: %w", err)
	}
	return profile, true, nil
}

func (s *SQLStore) Put(profile Profile) error {
	paths, err := json.Marshal(profile.ValuablePaths)
	if err != nil {
		return fmt.Errorf("encode valuable paths: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO site_profiles (domain, success_rate, avg_relevance, total_visits, requires_login, requires_javascript, valuable_paths, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET
			success_rate = excluded.success_rate,
			avg_relevance = excluded.avg_relevance,
			total_visits = excluded.total_visits,
			requires_login = excluded.requires_login,
			requires_javascript = excluded.requires_javascript,
			valuable_paths = excluded.valuable_paths,
			updated_at = excluded.updated_at`,
		profile.Domain, profile.SuccessRate, profile.AvgRelevance, profile.TotalVisits,
		boolToInt(profile.RequiresLogin), boolToInt(profile.RequiresJavaScript), string(paths),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert site profile: %w", err)
	}
	return nil
}

func (s *SQLStore) All() ([]Profile, error) {
	rows, err := s.db.Query(
		`SELECT domain, success_rate, avg_relevance, total_visits, requires_login, requires_javascript, valuable_paths
		 FROM site_profiles`,
	)
	if err != nil {
		return nil, fmt.Errorf("query site profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var profile Profile
		var requiresLogin, requiresJS int
		var paths string
		if err := rows.Scan(&profile.Domain, &profile.SuccessRate, &profile.AvgRelevance, &profile.TotalVisits,
			&requiresLogin, &requiresJS, &paths); err != nil {
			return nil, fmt.Errorf("scan site profile: %w", err)
		}
		profile.RequiresLogin = requiresLogin != 0
		profile.RequiresJavaScript = requiresJS != 0
		if err := json.Unmarshal([]byte(paths), &profile.ValuablePaths); err != nil {
			return nil, fmt.Errorf("decode valuable paths: %w", err)
		}
		out = append(out, profile)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(domain string) error {
	if _, err := s.db.Exec("DELETE FROM site_profiles WHERE domain = ?", domain); err != nil {
		return fmt.Errorf("delete site profile: %w", err)
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
