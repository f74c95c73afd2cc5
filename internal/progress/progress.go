package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const barWidth = 40

// Bar renders elapsed run time against a fixed duration, followed by a
// caller-supplied status line.
type Bar struct {
	mu          sync.Mutex
	total       time.Duration
	elapsed     time.Duration
	status      string
	output      io.Writer
	enabled     bool
	description string
	lastRender  time.Time
	throttle    time.Duration
}

// NewBar creates a bar for a run of length total. Output goes to stderr so
// it does not interleave with the summary on stdout.
func NewBar(total time.Duration, description string) *Bar {
	return &Bar{
		total:       total,
		output:      os.Stderr,
		enabled:     true,
		description: description,
		throttle:    100 * time.Millisecond,
	}
}

// SetOutput redirects rendering.
func (b *Bar) SetOutput(w io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = w
}

// Disable suppresses all output.
func (b *Bar) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = false
}

// Set records the elapsed time and status and re-renders, at most once per
// throttle interval unless the run is complete.
func (b *Bar) Set(elapsed time.Duration, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elapsed = elapsed
	b.status = status
	b.render(false)
}

// Finish renders the final state and ends the line.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return
	}
	if b.elapsed < b.total {
		b.elapsed = b.total
	}
	b.render(true)
	fmt.Fprint(b.output, "\n")
}

func (b *Bar) render(force bool) {
	if !b.enabled {
		return
	}
	now := time.Now()
	if !force && now.Sub(b.lastRender) < b.throttle && b.elapsed < b.total {
		return
	}
	b.lastRender = now

	percent := 0.0
	if b.total > 0 {
		percent = float64(b.elapsed) / float64(b.total) * 100
		if percent > 100 {
			percent = 100
		}
	}
	fmt.Fprintf(b.output, "\r%s", b.line(percent))
}

func (b *Bar) line(percent float64) string {
	filled := int(float64(barWidth) * percent / 100)
	if filled > barWidth {
		filled = barWidth
	}
	bar := make([]byte, barWidth)
	for i := range bar {
		switch {
		case i < filled:
			bar[i] = '='
		case i == filled:
			bar[i] = '>'
		default:
			bar[i] = '-'
		}
	}

	out := fmt.Sprintf("[%s] %s/%s (%.0f%%)", bar, formatDuration(b.elapsed), formatDuration(b.total), percent)
	if b.description != "" {
		out = b.description + " " + out
	}
	if b.status != "" {
		out += " | " + b.status
	}
	return out
}

// Counter reports an open-ended run: a running count plus a status line.
type Counter struct {
	mu          sync.Mutex
	output      io.Writer
	enabled     bool
	description string
	lastUpdate  time.Time
	interval    time.Duration
}

// NewCounter creates a counter that renders at most once per interval.
func NewCounter(description string, interval time.Duration) *Counter {
	return &Counter{
		output:      os.Stderr,
		enabled:     true,
		description: description,
		interval:    interval,
	}
}

// SetOutput redirects rendering.
func (c *Counter) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = w
}

// Update renders count and status.
func (c *Counter) Update(count uint64, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	now := time.Now()
	if now.Sub(c.lastUpdate) < c.interval {
		return
	}
	c.lastUpdate = now

	out := fmt.Sprintf("\r%d packets", count)
	if c.description != "" {
		out = fmt.Sprintf("\r%s: %d packets", c.description, count)
	}
	if status != "" {
		out += " | " + status
	}
	fmt.Fprint(c.output, out)
}

// Finish ends the line.
func (c *Counter) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		fmt.Fprint(c.output, "\n")
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}
