package progress_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemirror/internal/pipeline"
	"github.com/JakeFAU/sitemirror/internal/progress"
)

// lockedBuffer guards a buffer shared between the redraw loop and the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsole(t *testing.T) {
	out := &lockedBuffer{}
	c := progress.NewConsole(progress.Config{Out: out, RefreshInterval: time.Millisecond, RunID: "run-1"})

	c.Progress(pipeline.PhaseDownload, 1, 4)
	c.Progress(pipeline.PhaseDownload, 1234, 0)
	c.Done(pipeline.Summary{Phase: pipeline.PhaseDownload, Total: 1234, Succeeded: 1234})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx), "close is idempotent")

	got := out.String()
	assert.Contains(t, got, "download: 1,234 items")
	assert.Contains(t, got, "run-1")
	assert.Contains(t, got, "1,234")
}

func TestConsole_NothingRenderedBeforeProgress(t *testing.T) {
	out := &lockedBuffer{}
	c := progress.NewConsole(progress.Config{Out: out, RefreshInterval: time.Millisecond})
	require.NoError(t, c.Close(context.Background()))
	assert.Empty(t, out.String())
}
