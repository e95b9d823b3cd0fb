// Package progress renders a live console view of a running pipeline phase.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uilive"
	"github.com/gosuri/uitable"
	"github.com/paulbellamy/ratecounter"

	"github.com/JakeFAU/sitemirror/internal/pipeline"
)

// Config controls the console view.
//   - Out: destination of the live view (default os.Stderr).
//   - RefreshInterval: redraw period (default 250ms).
//   - RunID: identifier shown in the header.
type Config struct {
	Out             io.Writer
	RefreshInterval time.Duration
	RunID           string
}

const defaultRefreshInterval = 250 * time.Millisecond

// Console implements pipeline.Reporter by redrawing a small stats table in
// place. It is safe for concurrent use.
type Console struct {
	cfg    Config
	writer *uilive.Writer
	rate   *ratecounter.RateCounter

	mu      sync.Mutex
	phase   pipeline.Phase
	done    int64
	pending int
	started time.Time

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

var _ pipeline.Reporter = (*Console)(nil)

// NewConsole starts the redraw loop. Call Close to stop it.
func NewConsole(cfg Config) *Console {
	if cfg.Out == nil {
		cfg.Out = os.Stderr
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	w := uilive.New()
	w.Out = cfg.Out
	c := &Console{
		cfg:     cfg,
		writer:  w,
		rate:    ratecounter.NewRateCounter(time.Second),
		started: time.Now(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Progress records that done items of phase are finished with pending queued.
func (c *Console) Progress(phase pipeline.Phase, done int64, pending int) {
	c.rate.Incr(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if phase != c.phase {
		c.phase = phase
		c.started = time.Now()
	}
	c.done = done
	c.pending = pending
}

// Done prints the phase summary above the live view.
func (c *Console) Done(s pipeline.Summary) {
	fmt.Fprintln(c.writer.Bypass(), s.String())
}

// Close stops the redraw loop after a last redraw.
func (c *Console) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.stopCh) })
	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress console close wait: %w", ctx.Err())
	}
}

func (c *Console) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.render()
		case <-c.stopCh:
			c.render()
			return
		}
	}
}

func (c *Console) render() {
	c.mu.Lock()
	phase, done, pending, started := c.phase, c.done, c.pending, c.started
	c.mu.Unlock()
	if phase == "" {
		return
	}

	table := uitable.New()
	table.MaxColWidth = 80
	if c.cfg.RunID != "" {
		table.AddRow("  - Run:", c.cfg.RunID)
	}
	table.AddRow("  - Phase:", string(phase))
	table.AddRow("  - Done:", humanize.Comma(done))
	table.AddRow("  - Queued:", humanize.Comma(int64(pending)))
	table.AddRow("  - Items/s:", c.rate.Rate())
	table.AddRow("  - Elapsed:", time.Since(started).Truncate(time.Second).String())

	fmt.Fprintln(c.writer, table.String())
	_ = c.writer.Flush()
}
