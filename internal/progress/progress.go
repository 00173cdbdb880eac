// Package progress renders transfer progress on a single terminal line.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultInterval is the minimum time between two redraws.
const DefaultInterval = 200 * time.Millisecond

// Bar prints "\r[label] pct (sent/total) rate" lines for one transfer at a time.
type Bar struct {
	out      io.Writer
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	label       string
	sent        int64
	total       int64
	started     time.Time
	lastPrinted time.Time
	width       int
}

// New creates a Bar writing to out.
func New(out io.Writer) *Bar {
	return &Bar{out: out, interval: DefaultInterval, now: time.Now}
}

// Start begins a new transfer.
func (b *Bar) Start(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.label = label
	b.sent, b.total = 0, 0
	b.started = b.now()
	b.lastPrinted = time.Time{}
}

// Update records progress and redraws when the interval has elapsed.
func (b *Bar) Update(sent, total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sent, b.total = sent, total
	now := b.now()
	if !b.lastPrinted.IsZero() && now.Sub(b.lastPrinted) < b.interval {
		return
	}
	b.print(now)
	b.lastPrinted = now
}

// Done draws the final state and ends the line.
func (b *Bar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.print(b.now())
	if b.out != nil {
		fmt.Fprint(b.out, "\n")
	}
	b.width = 0
}

func (b *Bar) print(now time.Time) {
	if b.out == nil {
		return
	}

	var line string
	if b.total > 0 {
		pct := float64(b.sent) / float64(b.total) * 100
		line = fmt.Sprintf("[%s] %.1f%% (%s/%s)", b.label, pct,
			humanize.Bytes(uint64(b.sent)), humanize.Bytes(uint64(b.total)))
	} else {
		line = fmt.Sprintf("[%s] %s", b.label, humanize.Bytes(uint64(b.sent)))
	}
	if elapsed := now.Sub(b.started).Seconds(); elapsed > 0 && b.sent > 0 {
		line += fmt.Sprintf(" %s/s", humanize.Bytes(uint64(float64(b.sent)/elapsed)))
	}

	// Pad over the remains of a longer previous line.
	pad := ""
	if len(line) < b.width {
		pad = strings.Repeat(" ", b.width-len(line))
	}
	b.width = len(line) + len(pad)
	fmt.Fprint(b.out, "\r"+line+pad)
}
