// Package profiling times nested phases of a command and writes pprof
// profiles on request.
package profiling

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Stopper ends a timed span.
type Stopper interface {
	Stop()
}

type span struct {
	name     string
	start    time.Time
	duration time.Duration
	children []*span
	profiler *Profiler
}

func (s *span) Stop() {
	s.profiler.end(s)
}

// Profiler records a tree of timed spans. Spans started while another is
// open become its children. The zero value is disabled.
type Profiler struct {
	mu      sync.Mutex
	enabled bool
	root    *span
	stack   []*span
}

// Enable starts recording. Calling it again has no effect.
func (p *Profiler) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return
	}
	p.enabled = true
	p.root = &span{name: "total", start: time.Now(), profiler: p}
	p.stack = []*span{p.root}
}

// Enabled reports whether spans are being recorded.
func (p *Profiler) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Start opens a span. Stop it with the returned Stopper, usually via defer.
func (p *Profiler) Start(name string) Stopper {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return noopStopper{}
	}
	parent := p.stack[len(p.stack)-1]
	s := &span{name: name, start: time.Now(), profiler: p}
	parent.children = append(parent.children, s)
	p.stack = append(p.stack, s)
	return s
}

func (p *Profiler) end(s *span) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.duration = time.Since(s.start)
	for i := len(p.stack) - 1; i > 0; i-- {
		if p.stack[i] == s {
			p.stack = p.stack[:i]
			return
		}
	}
}

// Summarize writes the span tree with each span's share of the total.
func (p *Profiler) Summarize(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	total := time.Since(p.root.start)
	fmt.Fprintf(w, "\n--- Timing (%v) ---\n", total.Round(100*time.Microsecond))
	for _, child := range p.root.children {
		writeSpan(w, child, 0, total)
	}
}

func writeSpan(w io.Writer, s *span, depth int, total time.Duration) {
	pct := 0.0
	if total > 0 {
		pct = float64(s.duration) / float64(total) * 100
	}
	fmt.Fprintf(w, "%s- %s (%v, %.1f%%)\n", strings.Repeat("  ", depth), s.name,
		s.duration.Round(100*time.Microsecond), pct)
	for _, child := range s.children {
		writeSpan(w, child, depth+1, total)
	}
}

type noopStopper struct{}

func (noopStopper) Stop() {}

var defaultProfiler = &Profiler{}

// Enable turns on the process-wide profiler.
func Enable() { defaultProfiler.Enable() }

// Start opens a span on the process-wide profiler.
func Start(name string) Stopper { return defaultProfiler.Start(name) }

// Summarize writes the process-wide profiler's spans to w.
func Summarize(w io.Writer) { defaultProfiler.Summarize(w) }
