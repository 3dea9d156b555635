package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"webresearch/backend/internal/config"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS provider_quotas (
	provider_id TEXT PRIMARY KEY,
	quota_limit INTEGER NOT NULL,
	used INTEGER NOT NULL DEFAULT 0,
	reset_at TEXT,
	usefulness TEXT NOT NULL DEFAULT '[]',
	registered_at INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS site_profiles (
	domain TEXT PRIMARY KEY,
	success_rate REAL NOT NULL DEFAULT 0,
	avg_relevance REAL NOT NULL DEFAULT 0,
	total_visits INTEGER NOT NULL DEFAULT 0,
	requires_login INTEGER NOT NULL DEFAULT 0,
	requires_javascript INTEGER NOT NULL DEFAULT 0,
	valuable_paths TEXT NOT NULL DEFAULT '[]',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	created_at TEXT NOT NULL
);
`

func Open(cfg config.Config) (*sql.DB, error) {
	dsn, driver, err := buildDSN(cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		return nil, err
	}

	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := database.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return database, nil
}

func buildDSN(rawURL, authToken string) (dsn, driver string, err error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", "", fmt.Errorf("empty database url")
	}

	if strings.HasPrefix(rawURL, "file:") {
		return rawURL, "sqlite", nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse database url: %w", err)
	}

	if strings.HasPrefix(rawURL, "libsql://") {
		query := parsed.Query()
		if query.Get("authToken") == "" && strings.TrimSpace(authToken) != "" {
			query.Set("authToken", strings.TrimSpace(authToken))
			parsed.RawQuery = query.Encode()
		}
		return parsed.String(), "libsql", nil
	}

	return parsed.String(), "sqlite", nil
}
