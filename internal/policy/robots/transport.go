package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/metrics"
)

// allowAllBody is served when every probe attempt timed out.
const allowAllBody = "User-agent: *\nAllow: /"

var defaultProbeBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// probeTransport retries robots.txt requests that fail on a timeout. When the
// last attempt also times out it answers with an allow-all file so a slow TLS
// handshake does not block the whole origin.
type probeTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
	logger  *zap.Logger
}

func newProbeTransport(base http.RoundTripper, backoff []time.Duration, logger *zap.Logger) *probeTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &probeTransport{base: base, backoff: backoff, logger: logger}
}

func (t *probeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	attempts := len(t.backoff) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("robots probe: %w", err)
		}
		if attempt == attempts-1 {
			t.logger.Warn("robots probe timed out; treating origin as unrestricted",
				zap.String("host", req.URL.Host), zap.Int("attempts", attempts))
			metrics.ObserveRobotsFallback(req.URL.String())
			return allowAllResponse(req), nil
		}
		if err := sleepContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots probe backoff: %w", err)
		}
	}
	return nil, errors.New("robots probe exhausted retries")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllBody)),
		ContentLength: int64(len(allowAllBody)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
