package leadstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool for the shared lead store.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxQuerier is the slice of pgxpool.Pool the store needs; pgxmock implements
// it, which keeps the provider testable without a server.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool  pgxQuerier
	table string
}

// NewPostgres connects a pool from cfg and ensures the leads table exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("leadstore.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewPostgresWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily for
// testing). No schema management happens on this path.
func NewPostgresWithPool(pool pgxQuerier, table string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "leads"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table}, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL UNIQUE,
	final_url     TEXT NOT NULL,
	domain        TEXT NOT NULL,
	company       TEXT NOT NULL DEFAULT '',
	emails        JSONB NOT NULL DEFAULT '[]'::jsonb,
	phones        JSONB NOT NULL DEFAULT '[]'::jsonb,
	social        JSONB NOT NULL DEFAULT '[]'::jsonb,
	status_code   INTEGER NOT NULL,
	captcha_flag  BOOLEAN NOT NULL DEFAULT FALSE,
	content_hash  TEXT NOT NULL DEFAULT '',
	snapshot_uri  TEXT NOT NULL DEFAULT '',
	fetched_at    TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure leads schema: %w", err)
	}
	return nil
}

// Save upserts the lead by URL; the row keeps its originally assigned ID.
func (s *Postgres) Save(ctx context.Context, lead Lead) error {
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

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, url, final_url, domain, company, emails, phones, social,
	status_code, captcha_flag, content_hash, snapshot_uri, fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (url) DO UPDATE SET
	final_url    = EXCLUDED.final_url,
	domain       = EXCLUDED.domain,
	company      = EXCLUDED.company,
	emails       = EXCLUDED.emails,
	phones       = EXCLUDED.phones,
	social       = EXCLUDED.social,
	status_code  = EXCLUDED.status_code,
	captcha_flag = EXCLUDED.captcha_flag,
	content_hash = EXCLUDED.content_hash,
	snapshot_uri = EXCLUDED.snapshot_uri,
	fetched_at   = EXCLUDED.fetched_at`, s.table)

	args := []any{
		lead.ID,
		lead.URL,
		lead.FinalURL,
		lead.Domain,
		lead.Company,
		emails,
		phones,
		social,
		lead.StatusCode,
		lead.CaptchaFlag,
		lead.ContentHash,
		lead.SnapshotURI,
		lead.FetchedAt.UTC(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

// GetByURL returns the lead stored for url, or ErrNotFound.
func (s *Postgres) GetByURL(ctx context.Context, url string) (Lead, error) {
	query := fmt.Sprintf(`
SELECT id, url, final_url, domain, company, emails, phones, social,
       status_code, captcha_flag, content_hash, snapshot_uri, fetched_at
FROM %s WHERE url = $1`, s.table)

	var (
		lead   Lead
		emails []byte
		phones []byte
		social []byte
	)
	err := s.pool.QueryRow(ctx, query, url).Scan(
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
		&lead.FetchedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
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
	return lead, nil
}

// Count returns the number of stored leads.
func (s *Postgres) Count(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return count, nil
}

// Close releases the underlying pool.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
