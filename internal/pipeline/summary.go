package pipeline

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Phase names one pipeline pass.
type Phase string

// The pipeline phases in execution order.
const (
	PhaseDownload Phase = "download"
	PhaseProcess  Phase = "process"
	PhaseWrite    Phase = "write"
)

// Summary counts the outcomes of one phase run.
type Summary struct {
	Phase     Phase
	Total     int64
	Succeeded int64
	Failed    int64
	Skipped   int64
	Bytes     int64
}

// HumanBytes formats Bytes for display.
func (s Summary) HumanBytes() string {
	if s.Bytes < 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(s.Bytes))
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: %s items, %s ok, %s failed, %s skipped, %s",
		s.Phase,
		humanize.Comma(s.Total),
		humanize.Comma(s.Succeeded),
		humanize.Comma(s.Failed),
		humanize.Comma(s.Skipped),
		s.HumanBytes(),
	)
}

// counter accumulates a Summary from concurrent workers.
type counter struct {
	total, ok, failed, skipped, bytes atomic.Int64
}

type outcome string

const (
	outcomeSuccess outcome = "success"
	outcomeFailure outcome = "failure"
	outcomeSkipped outcome = "skipped"
)

func (c *counter) record(o outcome) {
	c.total.Add(1)
	switch o {
	case outcomeSuccess:
		c.ok.Add(1)
	case outcomeFailure:
		c.failed.Add(1)
	default:
		c.skipped.Add(1)
	}
}

func (c *counter) summary(phase Phase) Summary {
	return Summary{
		Phase:     phase,
		Total:     c.total.Load(),
		Succeeded: c.ok.Load(),
		Failed:    c.failed.Load(),
		Skipped:   c.skipped.Load(),
		Bytes:     c.bytes.Load(),
	}
}

func defaultJitter(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return rand.Int64N(n + 1) //nolint:gosec // delay jitter, not security sensitive
}
