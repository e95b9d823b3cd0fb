// Package sqlite persists items, bodies and proxies in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/proxy"
)

// FileName is the database file created inside the configured directory.
const FileName = "sitemirror.db"

// Store implements crawler.ItemStore and proxy.Store.
//
// Save replaces the whole item table inside one transaction so a checkpoint
// is never observed half written.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database in dir. An empty dir opens a private
// in-memory database, which is what tests use.
func Open(ctx context.Context, dir string) (*Store, error) {
	dsn := "file::memory:"
	if dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = filepath.Join(dir, FileName) + "?mode=rwc"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer; an in-memory database also lives on a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if dir != "" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		item_uri TEXT NOT NULL UNIQUE,
		allow INTEGER NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		reason_phrase TEXT NOT NULL DEFAULT '',
		download_status INTEGER,
		process_status INTEGER,
		write_status INTEGER,
		content_type TEXT NOT NULL DEFAULT '',
		new_item_uri TEXT,
		expires TEXT
	);

	CREATE TABLE IF NOT EXISTS bodies (
		item_uri TEXT PRIMARY KEY,
		body BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS proxies (
		proxy_key TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		last_use TEXT
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Load returns the items in their original insertion order.
func (s *Store) Load(ctx context.Context) ([]crawler.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT item_uri, allow, status_code, reason_phrase, download_status, process_status,
		write_status, content_type, new_item_uri, expires
	FROM items ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []crawler.Record
	for rows.Next() {
		var (
			rec                        crawler.Record
			download, process, written *bool
			newURI, expires            *string
		)
		if err := rows.Scan(&rec.ItemURI, &rec.Allow, &rec.StatusCode, &rec.ReasonPhrase,
			&download, &process, &written, &rec.ContentType, &newURI, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		rec.DownloadStatus = crawler.StatusFromBool(download)
		rec.ProcessStatus = crawler.StatusFromBool(process)
		rec.WriteStatus = crawler.StatusFromBool(written)
		if newURI != nil {
			rec.NewItemURI = *newURI
		}
		if rec.Expires, err = parseTime(expires); err != nil {
			return nil, fmt.Errorf("item %s: %w", rec.ItemURI, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return records, nil
}

// Save replaces the stored items with records.
func (s *Store) Save(ctx context.Context, records []crawler.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO items (item_uri, allow, status_code, reason_phrase, download_status,
		process_status, write_status, content_type, new_item_uri, expires)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		if _, err = stmt.ExecContext(ctx, rec.ItemURI, rec.Allow, rec.StatusCode, rec.ReasonPhrase,
			rec.DownloadStatus.Bool(), rec.ProcessStatus.Bool(), rec.WriteStatus.Bool(),
			rec.ContentType, nullString(rec.NewItemURI), formatTime(rec.Expires)); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", rec.ItemURI, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit items: %w", err)
	}
	return nil
}

// SaveBody upserts the body for itemURI.
func (s *Store) SaveBody(ctx context.Context, itemURI string, body []byte) error {
	if body == nil {
		body = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO bodies (item_uri, body) VALUES (?, ?)
	ON CONFLICT(item_uri) DO UPDATE SET body = excluded.body`, itemURI, body)
	if err != nil {
		return fmt.Errorf("failed to save body for %s: %w", itemURI, err)
	}
	return nil
}

// Body returns the body saved for itemURI.
func (s *Store) Body(ctx context.Context, itemURI string) ([]byte, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, "SELECT body FROM bodies WHERE item_uri = ?", itemURI).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read body for %s: %w", itemURI, err)
	}
	return body, true, nil
}

// Clear removes every item and body. Proxies are kept.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM items; DELETE FROM bodies;"); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

// LoadProxies returns the stored proxies ordered by key.
func (s *Store) LoadProxies(ctx context.Context) ([]proxy.Proxy, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT type, host, port, user_name, password, attempts, active, last_use
	FROM proxies ORDER BY proxy_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var proxies []proxy.Proxy
	for rows.Next() {
		var (
			p       proxy.Proxy
			kind    string
			lastUse *string
		)
		if err := rows.Scan(&kind, &p.Host, &p.Port, &p.UserName, &p.Password,
			&p.Attempts, &p.Active, &lastUse); err != nil {
			return nil, fmt.Errorf("failed to scan proxy: %w", err)
		}
		p.Type = proxy.Type(kind)
		if p.LastUse, err = parseTime(lastUse); err != nil {
			return nil, fmt.Errorf("proxy %s: %w", p.Key(), err)
		}
		proxies = append(proxies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate proxies: %w", err)
	}
	return proxies, nil
}

// SaveProxy upserts p by key.
func (s *Store) SaveProxy(ctx context.Context, p proxy.Proxy) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO proxies (proxy_key, type, host, port, user_name, password, attempts, active, last_use)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(proxy_key) DO UPDATE SET
		type = excluded.type,
		host = excluded.host,
		port = excluded.port,
		user_name = excluded.user_name,
		password = excluded.password,
		attempts = excluded.attempts,
		active = excluded.active,
		last_use = excluded.last_use`,
		p.Key(), string(p.Type), p.Host, p.Port, p.UserName, p.Password, p.Attempts, p.Active,
		formatTime(p.LastUse))
	if err != nil {
		return fmt.Errorf("failed to save proxy %s: %w", p.Key(), err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func parseTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", *s, err)
	}
	return &t, nil
}
