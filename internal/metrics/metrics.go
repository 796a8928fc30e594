// Package metrics accumulates per-target latency and error-rate statistics
// over fixed time windows.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kindredcircl/healthd/internal/probe"
)

// Window is one closed (or currently open) aggregation window for a target.
type Window struct {
	TargetID     string                     `json:"target_id"`
	Start        time.Time                  `json:"window_start"`
	End          time.Time                  `json:"window_end"`
	Count        uint64                     `json:"count"`
	SuccessCount uint64                     `json:"success_count"`
	TotalLatency time.Duration              `json:"total_latency"`
	Errors       map[probe.ErrorKind]uint64 `json:"error_histogram"`
}

// AvgLatency returns the mean latency across the window, or 0 if empty.
func (w Window) AvgLatency() time.Duration {
	if w.Count == 0 {
		return 0
	}
	return w.TotalLatency / time.Duration(w.Count)
}

// ErrorRate returns the fraction of failed probes in the window.
func (w Window) ErrorRate() float64 {
	if w.Count == 0 {
		return 0
	}
	return float64(w.Count-w.SuccessCount) / float64(w.Count)
}

// Aggregator maintains one open window per target plus a ring of the last
// `retain` closed windows. Rotation is time-driven and independent of probe
// arrival: a window with zero probes still rotates, so gaps stay visible.
type Aggregator struct {
	mu       sync.Mutex
	interval time.Duration
	retain   int
	open     map[string]*Window
	closed   map[string][]Window
	onRotate func(Window)
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator rotating windows every interval and
// retaining the last retain closed windows per target. Pass nil logger to
// use the default logger.
func NewAggregator(interval time.Duration, retain int, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		interval: interval,
		retain:   retain,
		open:     make(map[string]*Window),
		closed:   make(map[string][]Window),
		logger:   logger,
	}
}

// SetOnRotate installs a callback invoked with every closed window, used to
// flush windows to persistent storage.
func (a *Aggregator) SetOnRotate(fn func(Window)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onRotate = fn
}

// Run rotates windows on a fixed cadence until ctx is canceled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Rotate(now)
		}
	}
}

// Track opens an empty window for a target so that rotation produces
// windows even before (or without) any probe outcome.
func (a *Aggregator) Track(targetID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.open[targetID]; !ok {
		a.open[targetID] = a.newWindow(targetID, time.Now().UTC())
	}
}

// Record folds one probe outcome into the target's open window.
func (a *Aggregator) Record(out probe.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.open[out.TargetID]
	if !ok {
		w = a.newWindow(out.TargetID, out.ProbedAt.UTC())
		a.open[out.TargetID] = w
	}
	w.Count++
	w.TotalLatency += out.Latency
	if out.Success {
		w.SuccessCount++
	} else {
		w.Errors[out.ErrorKind]++
	}
}

// Rotate closes every open window at the given instant and opens fresh
// ones. Closed windows enter the per-target ring and are handed to the
// rotation callback.
func (a *Aggregator) Rotate(now time.Time) {
	now = now.UTC()

	a.mu.Lock()
	var flushed []Window
	for id, w := range a.open {
		w.End = now
		ring := append(a.closed[id], *w)
		if len(ring) > a.retain {
			ring = ring[len(ring)-a.retain:]
		}
		a.closed[id] = ring
		flushed = append(flushed, *w)
		a.open[id] = a.newWindow(id, now)
	}
	onRotate := a.onRotate
	a.mu.Unlock()

	if onRotate != nil {
		for _, w := range flushed {
			onRotate(w)
		}
	}
}

// Windows returns the closed windows for a target overlapping [from, to],
// oldest first. Zero from/to mean unbounded.
func (a *Aggregator) Windows(targetID string, from, to time.Time) []Window {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Window
	for _, w := range a.closed[targetID] {
		if !from.IsZero() && w.End.Before(from) {
			continue
		}
		if !to.IsZero() && w.Start.After(to) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Retire drops all windows for a deregistered target.
func (a *Aggregator) Retire(targetID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.open, targetID)
	delete(a.closed, targetID)
}

func (a *Aggregator) newWindow(targetID string, start time.Time) *Window {
	return &Window{
		TargetID: targetID,
		Start:    start,
		Errors:   make(map[probe.ErrorKind]uint64),
	}
}
