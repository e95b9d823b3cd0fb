// Package fs writes the mirror to an afero filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/writer"
)

// Config captures the parameters for the filesystem writer.
type Config struct {
	// BaseDir is the root directory of the mirror.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Writer writes prepared bodies under BaseDir at the item's target path.
type Writer struct {
	fs      afero.Fs
	baseDir string
}

// New creates the writer and the base directory.
func New(fsys afero.Fs, cfg Config) (*Writer, error) {
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
	case err != nil:
		if mkErr := fsys.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	}
	return &Writer{fs: fsys, baseDir: path.Clean(cfg.BaseDir)}, nil
}

// Write implements handler.Writer.
func (w *Writer) Write(_ context.Context, it *crawler.Item, body []byte) error {
	rel := writer.TargetPath(it)
	fullPath := path.Join(w.baseDir, rel)
	if !strings.HasPrefix(fullPath, w.baseDir+"/") && w.baseDir != "/" {
		return fmt.Errorf("path traversal detected for %s", it)
	}
	if err := w.fs.MkdirAll(path.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := afero.WriteFile(w.fs, fullPath, body, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
