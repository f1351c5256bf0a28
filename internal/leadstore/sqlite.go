package leadstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS leads (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL UNIQUE,
	final_url     TEXT NOT NULL,
	domain        TEXT NOT NULL,
	company       TEXT NOT NULL DEFAULT '',
	emails        TEXT NOT NULL DEFAULT '[]',
	phones        TEXT NOT NULL DEFAULT '[]',
	social        TEXT NOT NULL DEFAULT '[]',
	status_code   INTEGER NOT NULL,
	captcha_flag  INTEGER NOT NULL DEFAULT 0,
	content_hash  TEXT NOT NULL DEFAULT '',
	snapshot_uri  TEXT NOT NULL DEFAULT '',
	fetched_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leads_domain ON leads(domain);
`

// SQLiteConfig controls the SQLite-backed store.
type SQLiteConfig struct {
	// Path is the database file; parent directories are created.
	Path string
	// BusyTimeout bounds lock waits; defaults to 5s.
	BusyTimeout time.Duration
}

// SQLite is the file-backed Store. modernc.org/sqlite is pure Go, so the
// default build needs no cgo toolchain.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at cfg.Path, switches it to WAL
// and ensures the schema exists.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("leadstore.sqlite.path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite supports one writer; a single pooled connection avoids
	// SQLITE_BUSY churn entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create leads schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Save upserts the lead by URL; the row keeps its originally assigned ID.
func (s *SQLite) Save(ctx context.Context, lead Lead) error {
	if err := validateLead(lead); err != nil {
		return err
	}
	emails, err := marshalList(lead.Emails)
	if err != nil {
		return err
	}
	phones, err := marshalList(lead.Phones)
	if err != nil {
		return err
	}
	social, err := marshalList(lead.Social)
	if err != nil {
		return err
	}

	const query = `
INSERT INTO leads (
	id, url, final_url, domain, company, emails, phones, social,
	status_code, captcha_flag, content_hash, snapshot_uri, fetched_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
	final_url    = excluded.final_url,
	domain       = excluded.domain,
	company      = excluded.company,
	emails       = excluded.emails,
	phones       = excluded.phones,
	social       = excluded.social,
	status_code  = excluded.status_code,
	captcha_flag = excluded.captcha_flag,
	content_hash = excluded.content_hash,
	snapshot_uri = excluded.snapshot_uri,
	fetched_at   = excluded.fetched_at`

	_, err = s.db.ExecContext(ctx, query,
		lead.ID,
		lead.URL,
		lead.FinalURL,
		lead.Domain,
		lead.Company,
		emails,
		phones,
		social,
		lead.StatusCode,
		boolToInt(lead.CaptchaFlag),
		lead.ContentHash,
		lead.SnapshotURI,
		lead.FetchedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

// GetByURL returns the lead stored for url, or ErrNotFound.
func (s *SQLite) GetByURL(ctx context.Context, url string) (Lead, error) {
	const query = `
SELECT id, url, final_url, domain, company, emails, phones, social,
       status_code, captcha_flag, content_hash, snapshot_uri, fetched_at
FROM leads WHERE url = ?`

	var (
		lead      Lead
		emails    []byte
		phones    []byte
		social    []byte
		fetchedAt string
	)
	err := s.db.QueryRowContext(ctx, query, url).Scan(
		&lead.ID,
		&lead.URL,
		&lead.FinalURL,
		&lead.Domain,
		&lead.Company,
		&emails,
		&phones,
		&social,
		&lead.StatusCode,
		&lead.CaptchaFlag,
		&lead.ContentHash,
		&lead.SnapshotURI,
		&fetchedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("select lead: %w", err)
	}
	if lead.Emails, err = unmarshalList(emails); err != nil {
		return Lead{}, err
	}
	if lead.Phones, err = unmarshalList(phones); err != nil {
		return Lead{}, err
	}
	if lead.Social, err = unmarshalList(social); err != nil {
		return Lead{}, err
	}
	if lead.FetchedAt, err = time.Parse(time.RFC3339Nano, fetchedAt); err != nil {
		return Lead{}, fmt.Errorf("parse fetched_at: %w", err)
	}
	return lead, nil
}

// Count returns the number of stored leads.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM leads").Scan(&count); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return count, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
