// Package fetcher defines the transport contract used by the Download phase
// and the retry decorator applied around a single send.
package fetcher

import (
	"context"
	"net/http"
	"net/url"

	"github.com/JakeFAU/sitemirror/internal/proxy"
)

// Request describes one send.
type Request struct {
	Method string
	URI    *url.URL
	// Proxy routes the request through an egress proxy when non-nil.
	Proxy *proxy.Proxy
}

// Response is what a send produced. StatusCode is zero when no response was
// obtained. Size is the payload length as far as it is known, which may exceed
// len(Body) when the transport capped the read.
type Response struct {
	StatusCode   int
	ReasonPhrase string
	ContentType  string
	Header       http.Header
	Body         []byte
	Size         int64
	// Truncated reports that Body holds only a prefix of the payload.
	Truncated bool
}

// Success reports whether the status is in the 2xx class.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher sends requests. Transport failures are returned as errors; callers
// record them as zero-status responses.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, req Request) (Response, error)

// Fetch implements Fetcher.
func (f Func) Fetch(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Failed builds the zero-status response recorded when nothing came back.
func Failed(reason string) Response {
	return Response{ReasonPhrase: reason}
}
