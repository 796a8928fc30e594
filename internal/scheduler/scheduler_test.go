package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kindredcircl/healthd/internal/probe"
	"github.com/kindredcircl/healthd/internal/registry"
	"github.com/kindredcircl/healthd/internal/scheduler"
)

// mockProber returns scripted outcomes in order, repeating the last one.
type mockProber struct {
	mu       sync.Mutex
	script   []bool
	pos      int
	delay    time.Duration
	inFlight int32
	maxSeen  int32
	calls    int32
}

func (m *mockProber) Probe(ctx context.Context) probe.Outcome {
	n := atomic.AddInt32(&m.inFlight, 1)
	for {
		max := atomic.LoadInt32(&m.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&m.maxSeen, max, n) {
			break
		}
	}
	defer atomic.AddInt32(&m.inFlight, -1)
	atomic.AddInt32(&m.calls, 1)

	if m.delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(m.delay):
		}
	}

	m.mu.Lock()
	success := true
	if len(m.script) > 0 {
		if m.pos < len(m.script) {
			success = m.script[m.pos]
			m.pos++
		} else {
			success = m.script[len(m.script)-1]
		}
	}
	m.mu.Unlock()

	out := probe.Outcome{
		TargetID: "api",
		Success:  success,
		Latency:  time.Millisecond,
		ProbedAt: time.Now().UTC(),
	}
	if !success {
		out.ErrorKind = probe.ErrorTimeout
	}
	return out
}

type sinkRecorder struct {
	mu       sync.Mutex
	outcomes []probe.Outcome
}

func (r *sinkRecorder) record(_ registry.Target, out probe.Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
}

func (r *sinkRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

func makeTarget(interval time.Duration, retries uint) registry.Target {
	return registry.Target{
		ID:               "api",
		Protocol:         registry.ProtocolHTTP,
		Address:          "http://example.com",
		Interval:         interval,
		Timeout:          time.Second,
		RetryCount:       retries,
		FailureThreshold: 3,
	}
}

func makeFactory(p probe.Prober) scheduler.ProberFactory {
	return func(registry.Target) (probe.Prober, error) {
		return p, nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduler_RunsCheckImmediately(t *testing.T) {
	p := &mockProber{}
	rec := &sinkRecorder{}
	sched := scheduler.New(makeFactory(p), time.Millisecond, nil)
	sched.SetOnOutcome(rec.record)

	if err := sched.Add(makeTarget(time.Hour, 0)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return rec.len() >= 1 })
}

func TestScheduler_RunsPeriodicChecks(t *testing.T) {
	p := &mockProber{}
	rec := &sinkRecorder{}
	sched := scheduler.New(makeFactory(p), time.Millisecond, nil)
	sched.SetOnOutcome(rec.record)
	sched.Add(makeTarget(50*time.Millisecond, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()

	if n := rec.len(); n < 3 {
		t.Errorf("expected at least 3 checks in 300ms, got %d", n)
	}
}

// TestScheduler_OnlyFinalOutcomeForwarded covers a tick whose retry
// sequence goes fail, fail, success: the sink must see a single successful
// outcome, never the intermediate failures.
func TestScheduler_OnlyFinalOutcomeForwarded(t *testing.T) {
	p := &mockProber{script: []bool{false, false, true}}
	rec := &sinkRecorder{}
	sched := scheduler.New(makeFactory(p), time.Millisecond, nil)
	sched.SetOnOutcome(rec.record)
	sched.Add(makeTarget(time.Hour, 2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return rec.len() >= 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.outcomes) != 1 {
		t.Fatalf("expected exactly 1 forwarded outcome, got %d", len(rec.outcomes))
	}
	if !rec.outcomes[0].Success {
		t.Error("expected the final (successful) outcome to be forwarded")
	}
	if got := atomic.LoadInt32(&p.calls); got != 3 {
		t.Errorf("expected 3 probe attempts, got %d", got)
	}
}

func TestScheduler_RetriesExhaustedForwardsFailure(t *testing.T) {
	p := &mockProber{script: []bool{false}}
	rec := &sinkRecorder{}
	sched := scheduler.New(makeFactory(p), time.Millisecond, nil)
	sched.SetOnOutcome(rec.record)
	sched.Add(makeTarget(time.Hour, 2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return rec.len() >= 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.outcomes[0].Success {
		t.Error("expected the forwarded outcome to be a failure")
	}
	if got := atomic.LoadInt32(&p.calls); got != 3 {
		t.Errorf("expected 1 attempt + 2 retries = 3 probes, got %d", got)
	}
}

// TestScheduler_NoOverlappingProbes verifies that ticks never run two
// probes for the same target concurrently, even when a probe takes longer
// than the interval.
func TestScheduler_NoOverlappingProbes(t *testing.T) {
	p := &mockProber{delay: 30 * time.Millisecond}
	sched := scheduler.New(makeFactory(p), time.Millisecond, nil)
	sched.Add(makeTarget(10*time.Millisecond, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()

	if max := atomic.LoadInt32(&p.maxSeen); max > 1 {
		t.Errorf("observed %d concurrent probes for one target, want at most 1", max)
	}
	if calls := atomic.LoadInt32(&p.calls); calls < 2 {
		t.Errorf("expected multiple sequential probes, got %d", calls)
	}
}

func TestScheduler_RemoveDiscardsInFlightResult(t *testing.T) {
	p := &mockProber{delay: 50 * time.Millisecond}
	rec := &sinkRecorder{}
	sched := scheduler.New(makeFactory(p), time.Millisecond, nil)
	sched.SetOnOutcome(rec.record)
	sched.Add(makeTarget(time.Hour, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	// Remove while the first probe is still in flight.
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&p.calls) >= 1 })
	sched.Remove("api")
	sched.Wait()

	if n := rec.len(); n != 0 {
		t.Errorf("expected in-flight result to be discarded, got %d outcomes", n)
	}
}

func TestScheduler_AddAfterStart(t *testing.T) {
	p := &mockProber{}
	rec := &sinkRecorder{}
	sched := scheduler.New(makeFactory(p), time.Millisecond, nil)
	sched.SetOnOutcome(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	if err := sched.Add(makeTarget(time.Hour, 0)); err != nil {
		t.Fatalf("Add after Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return rec.len() >= 1 })
}

func TestScheduler_DuplicateAddRejected(t *testing.T) {
	p := &mockProber{}
	sched := scheduler.New(makeFactory(p), time.Millisecond, nil)

	if err := sched.Add(makeTarget(time.Hour, 0)); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := sched.Add(makeTarget(time.Hour, 0)); err == nil {
		t.Error("expected duplicate Add to be rejected")
	}
}

func TestScheduler_ContextCancellation(t *testing.T) {
	p := &mockProber{}
	sched := scheduler.New(makeFactory(p), time.Millisecond, nil)
	sched.Add(makeTarget(time.Hour, 0))

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Wait() did not return within 2s after context cancel")
	}
}

func TestScheduler_MultipleTargetsRunConcurrently(t *testing.T) {
	rec := &sinkRecorder{}
	factory := func(t registry.Target) (probe.Prober, error) {
		return &mockProber{}, nil
	}
	sched := scheduler.New(factory, time.Millisecond, nil)
	sched.SetOnOutcome(rec.record)

	a := makeTarget(time.Hour, 0)
	b := makeTarget(time.Hour, 0)
	b.ID = "db"
	sched.Add(a)
	sched.Add(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return rec.len() >= 2 })
}
