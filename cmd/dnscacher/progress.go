package main

import (
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// progress prints a single status line for a batch of lookups, at most once
// per interval. The final count is always printed.
type progress struct {
	mu      sync.Mutex
	w       io.Writer
	every   time.Duration
	now     func() time.Time
	lastAt  time.Time
	printed int64
	c       *color.Color
}

func newProgress(w io.Writer, every time.Duration) *progress {
	return &progress{
		w:     w,
		every: every,
		now:   time.Now,
		c:     color.New(color.FgCyan),
	}
}

func (p *progress) update(done, total int64) {
	if total <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if done <= p.printed {
		return
	}
	now := p.now()
	if done < total && now.Sub(p.lastAt) < p.every {
		return
	}
	p.printed, p.lastAt = done, now

	p.c.Fprintf(p.w, "\rresolving %d/%d (%d%%)", done, total, done*100/total)
	if done == total {
		p.c.Fprintln(p.w)
	}
}
