// Package gcs writes the mirror to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/writer"
)

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Writer uploads prepared bodies to the configured bucket.
type Writer struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed writer.
func New(client *storage.Client, cfg Config) (*Writer, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &Writer{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object the item is written to.
func (w *Writer) ObjectName(it *crawler.Item) string {
	rel := writer.TargetPath(it)
	if w.prefix == "" {
		return rel
	}
	return path.Join(w.prefix, rel)
}

// Write implements handler.Writer.
func (w *Writer) Write(ctx context.Context, it *crawler.Item, body []byte) error {
	name := w.ObjectName(it)
	wc := w.client.Bucket(w.bucket).Object(name).NewWriter(ctx)
	if it.ContentType != "" {
		wc.ContentType = it.ContentType
	}
	if _, err := wc.Write(body); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", name, err)
	}
	return nil
}
