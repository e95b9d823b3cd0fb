// Package fs persists items, bodies and proxies as files on an afero
// filesystem.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/proxy"
)

const (
	itemsFile   = "items.json"
	proxiesFile = "proxies.json"
	bodiesDir   = "bodies"
)

// Config captures the parameters for the filesystem store.
type Config struct {
	// BaseDir is the root directory holding the store files.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store implements crawler.ItemStore and proxy.Store on top of afero.
type Store struct {
	fs      afero.Fs
	baseDir string
	mu      sync.Mutex
}

// New creates the store, making sure the base directory exists and is
// writable.
func New(fsys afero.Fs, cfg Config) (*Store, error) {
	if fsys == nil {
		return nil, errors.New("filesystem is required")
	}
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	info, err := fsys.Stat(cfg.BaseDir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("base directory %q is not a directory", cfg.BaseDir)
	case err != nil && !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	if err := fsys.MkdirAll(path.Join(cfg.BaseDir, bodiesDir), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	testFile := path.Join(cfg.BaseDir, ".writable_test")
	if err := afero.WriteFile(fsys, testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := fsys.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}
	return &Store{fs: fsys, baseDir: cfg.BaseDir}, nil
}

// Load reads items.json. A missing file is an empty registry.
func (s *Store) Load(_ context.Context) ([]crawler.Record, error) {
	var records []crawler.Record
	if err := s.readJSON(itemsFile, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Save rewrites items.json.
func (s *Store) Save(_ context.Context, records []crawler.Record) error {
	if records == nil {
		records = []crawler.Record{}
	}
	return s.writeJSON(itemsFile, records)
}

// SaveBody writes body to a file named by the hash of itemURI.
func (s *Store) SaveBody(_ context.Context, itemURI string, body []byte) error {
	if err := s.writeFile(bodyPath(itemURI), body); err != nil {
		return fmt.Errorf("save body for %s: %w", itemURI, err)
	}
	return nil
}

// Body reads the body saved for itemURI.
func (s *Store) Body(_ context.Context, itemURI string) ([]byte, bool, error) {
	data, err := afero.ReadFile(s.fs, path.Join(s.baseDir, bodyPath(itemURI)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read body for %s: %w", itemURI, err)
	}
	return data, true, nil
}

// Clear removes the registry and every body. Proxies are kept.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.RemoveAll(path.Join(s.baseDir, bodiesDir)); err != nil {
		return fmt.Errorf("remove bodies: %w", err)
	}
	if err := s.fs.Remove(path.Join(s.baseDir, itemsFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove items: %w", err)
	}
	if err := s.fs.MkdirAll(path.Join(s.baseDir, bodiesDir), 0o750); err != nil {
		return fmt.Errorf("recreate bodies directory: %w", err)
	}
	return nil
}

// LoadProxies reads proxies.json ordered by key.
func (s *Store) LoadProxies(_ context.Context) ([]proxy.Proxy, error) {
	var proxies []proxy.Proxy
	if err := s.readJSON(proxiesFile, &proxies); err != nil {
		return nil, err
	}
	return proxies, nil
}

// SaveProxy upserts p by key.
func (s *Store) SaveProxy(_ context.Context, p proxy.Proxy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var proxies []proxy.Proxy
	if err := s.readJSONLocked(proxiesFile, &proxies); err != nil {
		return err
	}
	replaced := false
	for i := range proxies {
		if proxies[i].Key() == p.Key() {
			proxies[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		proxies = append(proxies, p)
	}
	sort.Slice(proxies, func(i, j int) bool { return proxies[i].Key() < proxies[j].Key() })
	return s.writeJSONLocked(proxiesFile, proxies)
}

func bodyPath(itemURI string) string {
	return path.Join(bodiesDir, strconv.FormatUint(xxh3.HashString(itemURI), 16)+".bin")
}

func (s *Store) readJSON(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readJSONLocked(name, v)
}

func (s *Store) readJSONLocked(name string, v any) error {
	data, err := afero.ReadFile(s.fs, path.Join(s.baseDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSONLocked(name, v)
}

func (s *Store) writeJSONLocked(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.writeFile(name, data)
}

// writeFile replaces name atomically via a temporary file and rename.
func (s *Store) writeFile(name string, data []byte) error {
	full := path.Join(s.baseDir, name)
	tmp := full + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, full); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
