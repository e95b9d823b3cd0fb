package handler

import (
	"context"

	"github.com/JakeFAU/sitemirror/internal/crawler"
)

// Parser extracts raw link references from a downloaded body. References are
// returned as found; the pipeline resolves them against the item.
type Parser interface {
	ExtractLinks(body []byte, contentType string) ([]string, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(body []byte, contentType string) ([]string, error)

// ExtractLinks implements Parser.
func (f ParserFunc) ExtractLinks(body []byte, contentType string) ([]string, error) {
	return f(body, contentType)
}

// ResolveFunc maps a link reference found in an item's body to the reference
// that should replace it. ok is false when the link must be left as is.
type ResolveFunc func(ref string) (replacement string, ok bool)

// Preparer rewrites cross-links in a body before it is written.
type Preparer interface {
	Prepare(body []byte, contentType string, resolve ResolveFunc) ([]byte, error)
}

// PreparerFunc adapts a function to Preparer.
type PreparerFunc func(body []byte, contentType string, resolve ResolveFunc) ([]byte, error)

// Prepare implements Preparer.
func (f PreparerFunc) Prepare(body []byte, contentType string, resolve ResolveFunc) ([]byte, error) {
	return f(body, contentType, resolve)
}

// Passthrough leaves bodies unchanged.
var Passthrough = PreparerFunc(func(body []byte, _ string, _ ResolveFunc) ([]byte, error) {
	return body, nil
})

// Writer emits a prepared item to its destination.
type Writer interface {
	Write(ctx context.Context, it *crawler.Item, body []byte) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, it *crawler.Item, body []byte) error

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, it *crawler.Item, body []byte) error {
	return f(ctx, it, body)
}

// Tables bundles every strategy table the pipeline consults.
type Tables struct {
	Parsers    *Table[Parser]
	Preparers  *Table[Preparer]
	Writers    *Table[Writer]
	SizeLimits *Table[int64]
}

// NewTables returns empty tables.
func NewTables() Tables {
	return Tables{
		Parsers:    NewTable[Parser](),
		Preparers:  NewTable[Preparer](),
		Writers:    NewTable[Writer](),
		SizeLimits: NewTable[int64](),
	}
}
