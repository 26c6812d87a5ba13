package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedPinger struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedPinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

type countingDrainer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *countingDrainer) Drain(ctx context.Context) (DrainResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return DrainResult{Processed: 2, Failed: 1}, d.err
}

var errUnreachable = errors.New("dial tcp: i/o timeout")

func TestMonitor_OutageAndRecovery(t *testing.T) {
	pinger := &scriptedPinger{results: []error{errUnreachable, errUnreachable, nil}}
	drainer := &countingDrainer{}
	var recovered []DrainResult
	m := NewMonitor(pinger, drainer, WithCheckInterval(0), WithOnRecovered(func(ctx context.Context, res DrainResult, err error) {
		recovered = append(recovered, res)
	}))
	ctx := context.Background()

	if m.Check(ctx) {
		t.Error("first failed check should report unhealthy")
	}
	if m.State() != StateRecovering {
		t.Errorf("state = %v, want recovering", m.State())
	}
	if m.Check(ctx) {
		t.Error("second failed check should report unhealthy")
	}
	if drainer.calls != 0 {
		t.Errorf("no drain expected while unreachable, got %d", drainer.calls)
	}
	if !m.Check(ctx) {
		t.Error("successful check should report healthy")
	}
	if drainer.calls != 1 {
		t.Errorf("expected exactly one drain, got %d", drainer.calls)
	}
	if m.State() != StateHealthy {
		t.Errorf("state = %v, want healthy", m.State())
	}
	if len(recovered) != 1 || recovered[0].Processed != 2 {
		t.Errorf("recovery hook not called once with the drain result: %+v", recovered)
	}

	// Staying healthy never drains again.
	m.Check(ctx)
	m.Check(ctx)
	if drainer.calls != 1 {
		t.Errorf("healthy checks must not drain, got %d drains", drainer.calls)
	}
}

func TestMonitor_DrainErrorStillRecovers(t *testing.T) {
	pinger := &scriptedPinger{results: []error{errUnreachable, nil}}
	drainer := &countingDrainer{err: context.DeadlineExceeded}
	var hookErr error
	m := NewMonitor(pinger, drainer, WithCheckInterval(0), WithOnRecovered(func(ctx context.Context, res DrainResult, err error) {
		hookErr = err
	}))

	m.Check(context.Background())
	if !m.Check(context.Background()) {
		t.Error("expected healthy after upstream answered")
	}
	if m.State() != StateHealthy {
		t.Errorf("drain error must not block the transition, state = %v", m.State())
	}
	if !errors.Is(hookErr, context.DeadlineExceeded) {
		t.Errorf("hook should see the drain error, got %v", hookErr)
	}
}

func TestMonitor_CheckConnectionHonorsInterval(t *testing.T) {
	pinger := &scriptedPinger{}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMonitor(pinger, &countingDrainer{}, WithCheckInterval(5*time.Minute))
	m.now = func() time.Time { return clock }
	m.lastCheck = clock

	if !m.CheckConnection(context.Background()) {
		t.Error("CheckConnection should report healthy when not due")
	}
	if pinger.calls != 0 {
		t.Errorf("check should be skipped before the interval elapses, got %d calls", pinger.calls)
	}

	clock = clock.Add(5 * time.Minute)
	m.CheckConnection(context.Background())
	if pinger.calls != 1 {
		t.Errorf("check expected once the interval elapsed, got %d calls", pinger.calls)
	}
	if !m.LastCheck().Equal(clock) {
		t.Errorf("LastCheck = %v, want %v", m.LastCheck(), clock)
	}
}

func TestMonitor_ZeroIntervalForcesCheck(t *testing.T) {
	pinger := &scriptedPinger{}
	m := NewMonitor(pinger, &countingDrainer{}, WithCheckInterval(0))
	m.CheckConnection(context.Background())
	m.CheckConnection(context.Background())
	if pinger.calls != 2 {
		t.Errorf("expected every call to ping, got %d", pinger.calls)
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	pinger := &scriptedPinger{}
	m := NewMonitor(pinger, &countingDrainer{}, WithCheckInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	pinger.mu.Lock()
	defer pinger.mu.Unlock()
	if pinger.calls == 0 {
		t.Error("expected at least one ping from the ticker")
	}
}

func TestStateString(t *testing.T) {
	if StateHealthy.String() != "healthy" || StateRecovering.String() != "recovering" {
		t.Error("unexpected state names")
	}
}
