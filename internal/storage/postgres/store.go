// Package postgres provides a Postgres-backed item and proxy store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/proxy"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table naming.
type Config struct {
	DSN string
	// TablePrefix is prepended to the items, bodies and proxies tables.
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

var itemColumns = []string{
	"seq", "item_uri", "allow", "status_code", "reason_phrase", "download_status",
	"process_status", "write_status", "content_type", "new_item_uri", "expires",
}

// Store implements crawler.ItemStore and proxy.Store.
type Store struct {
	pool    Pool
	items   string
	bodies  string
	proxies string
}

// New connects to Postgres and makes sure the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.postgres.dsn is required")
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
	s, err := NewWithPool(pool, cfg.TablePrefix)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(pool Pool, prefix string) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if prefix == "" {
		prefix = "sitemirror_"
	}
	if !validTableName.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &Store{
		pool:    pool,
		items:   prefix + "items",
		bodies:  prefix + "bodies",
		proxies: prefix + "proxies",
	}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	seq BIGINT PRIMARY KEY,
	item_uri TEXT NOT NULL UNIQUE,
	allow BOOLEAN NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	reason_phrase TEXT NOT NULL DEFAULT '',
	download_status BOOLEAN,
	process_status BOOLEAN,
	write_status BOOLEAN,
	content_type TEXT NOT NULL DEFAULT '',
	new_item_uri TEXT,
	expires TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS %[2]s (
	item_uri TEXT PRIMARY KEY,
	body BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS %[3]s (
	proxy_key TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	password TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	last_use TIMESTAMPTZ
);`, s.items, s.bodies, s.proxies)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load returns the items in checkpoint order.
func (s *Store) Load(ctx context.Context) ([]crawler.Record, error) {
	query := fmt.Sprintf(`
SELECT item_uri, allow, status_code, reason_phrase, download_status, process_status,
	write_status, content_type, new_item_uri, expires
FROM %s ORDER BY seq`, s.items)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var records []crawler.Record
	for rows.Next() {
		var (
			rec                        crawler.Record
			download, process, written *bool
			newURI                     *string
			expires                    *time.Time
		)
		if err := rows.Scan(&rec.ItemURI, &rec.Allow, &rec.StatusCode, &rec.ReasonPhrase,
			&download, &process, &written, &rec.ContentType, &newURI, &expires); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		rec.DownloadStatus = crawler.StatusFromBool(download)
		rec.ProcessStatus = crawler.StatusFromBool(process)
		rec.WriteStatus = crawler.StatusFromBool(written)
		if newURI != nil {
			rec.NewItemURI = *newURI
		}
		rec.Expires = expires
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return records, nil
}

// Save replaces the stored items with records in one transaction using COPY.
func (s *Store) Save(ctx context.Context, records []crawler.Record) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.items)); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		var newURI *string
		if rec.NewItemURI != "" {
			v := rec.NewItemURI
			newURI = &v
		}
		rows = append(rows, []any{
			int64(i), rec.ItemURI, rec.Allow, rec.StatusCode, rec.ReasonPhrase,
			rec.DownloadStatus.Bool(), rec.ProcessStatus.Bool(), rec.WriteStatus.Bool(),
			rec.ContentType, newURI, rec.Expires,
		})
	}
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{s.items}, itemColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy items: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit items: %w", err)
	}
	return nil
}

// SaveBody upserts the body for itemURI.
func (s *Store) SaveBody(ctx context.Context, itemURI string, body []byte) error {
	if body == nil {
		body = []byte{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (item_uri, body) VALUES ($1, $2)
ON CONFLICT (item_uri) DO UPDATE SET body = EXCLUDED.body`, s.bodies)
	if _, err := s.pool.Exec(ctx, query, itemURI, body); err != nil {
		return fmt.Errorf("save body for %s: %w", itemURI, err)
	}
	return nil
}

// Body returns the body saved for itemURI.
func (s *Store) Body(ctx context.Context, itemURI string) ([]byte, bool, error) {
	var body []byte
	query := fmt.Sprintf("SELECT body FROM %s WHERE item_uri = $1", s.bodies)
	err := s.pool.QueryRow(ctx, query, itemURI).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read body for %s: %w", itemURI, err)
	}
	return body, true, nil
}

// Clear removes every item and body. Proxies are kept.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s, %s", s.items, s.bodies)); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	return nil
}

// LoadProxies returns the stored proxies ordered by key.
func (s *Store) LoadProxies(ctx context.Context) ([]proxy.Proxy, error) {
	query := fmt.Sprintf(`
SELECT type, host, port, user_name, password, attempts, active, last_use
FROM %s ORDER BY proxy_key`, s.proxies)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query proxies: %w", err)
	}
	defer rows.Close()

	var proxies []proxy.Proxy
	for rows.Next() {
		var (
			p    proxy.Proxy
			kind string
		)
		if err := rows.Scan(&kind, &p.Host, &p.Port, &p.UserName, &p.Password,
			&p.Attempts, &p.Active, &p.LastUse); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		p.Type = proxy.Type(kind)
		proxies = append(proxies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxies: %w", err)
	}
	return proxies, nil
}

// SaveProxy upserts p by key.
func (s *Store) SaveProxy(ctx context.Context, p proxy.Proxy) error {
	query := fmt.Sprintf(`
INSERT INTO %s (proxy_key, type, host, port, user_name, password, attempts, active, last_use)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (proxy_key) DO UPDATE SET
	type = EXCLUDED.type,
	host = EXCLUDED.host,
	port = EXCLUDED.port,
	user_name = EXCLUDED.user_name,
	password = EXCLUDED.password,
	attempts = EXCLUDED.attempts,
	active = EXCLUDED.active,
	last_use = EXCLUDED.last_use`, s.proxies)
	if _, err := s.pool.Exec(ctx, query,
		p.Key(), string(p.Type), p.Host, p.Port, p.UserName, p.Password,
		p.Attempts, p.Active, p.LastUse); err != nil {
		return fmt.Errorf("save proxy %s: %w", p.Key(), err)
	}
	return nil
}
