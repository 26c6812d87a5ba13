package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCheckInterval is how often the monitor checks upstream.
const DefaultCheckInterval = 300 * time.Second

// State is the connectivity state of the monitor.
type State int

const (
	// StateHealthy means the last check succeeded and no drain is owed.
	StateHealthy State = iota
	// StateRecovering means a check failed and a drain is due once upstream answers.
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// Pinger checks upstream liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Drainer drains the backlog.
type Drainer interface {
	Drain(ctx context.Context) (DrainResult, error)
}

// RecoveredFunc is called after the drain that follows an outage.
type RecoveredFunc func(ctx context.Context, res DrainResult, err error)

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithCheckInterval sets the check interval. Zero disables the gate in
// CheckConnection so every call pings.
func WithCheckInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d >= 0 {
			m.interval = d
		}
	}
}

// WithOnRecovered registers a hook run after each recovery drain.
func WithOnRecovered(fn RecoveredFunc) MonitorOption {
	return func(m *Monitor) { m.onRecovered = fn }
}

// Monitor pings upstream and drains the backlog exactly once per outage,
// on the first successful check after a failed one.
type Monitor struct {
	pinger      Pinger
	drainer     Drainer
	interval    time.Duration
	onRecovered RecoveredFunc
	now         func() time.Time

	checkMu   sync.Mutex
	mu        sync.Mutex
	state     State
	lastCheck time.Time
}

// NewMonitor creates a Monitor in the Healthy state.
func NewMonitor(pinger Pinger, drainer Drainer, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		pinger:   pinger,
		drainer:  drainer,
		interval: DefaultCheckInterval,
		now:      time.Now,
		state:    StateHealthy,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastCheck = m.now()
	return m
}

// State returns the current connectivity state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastCheck returns when upstream was last checked.
func (m *Monitor) LastCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck
}

// CheckConnection pings upstream unless the last check happened less than
// the check interval ago, in which case it reports healthy without probing.
// An interval of 0 always pings.
func (m *Monitor) CheckConnection(ctx context.Context) bool {
	m.mu.Lock()
	due := m.interval <= 0 || m.now().Sub(m.lastCheck) >= m.interval
	m.mu.Unlock()
	if !due {
		return true
	}
	return m.Check(ctx)
}

// Check pings upstream now and applies the state transition:
//
//	Healthy    --fail--> Recovering
//	Recovering --fail--> Recovering
//	Recovering --ok-->   drain, then Healthy
//	Healthy    --ok-->   Healthy
//
// It returns whether upstream answered.
func (m *Monitor) Check(ctx context.Context) bool {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.mu.Lock()
	m.lastCheck = m.now()
	m.mu.Unlock()

	if err := m.pinger.Ping(ctx); err != nil {
		m.mu.Lock()
		prev := m.state
		m.state = StateRecovering
		m.mu.Unlock()
		if prev == StateHealthy {
			slog.Warn("Monitor.Check: upstream unreachable, entering recovery", "error", err)
		} else {
			slog.Debug("Monitor.Check: upstream still unreachable", "error", err)
		}
		return false
	}

	m.mu.Lock()
	recovering := m.state == StateRecovering
	m.mu.Unlock()
	if !recovering {
		slog.Debug("Monitor.Check: upstream healthy")
		return true
	}

	slog.Info("Monitor.Check: upstream reachable again, draining backlog")
	res, err := m.drainer.Drain(ctx)
	if err != nil {
		slog.Error("Monitor.Check: recovery drain failed", "error", err, "processed", res.Processed, "failed", res.Failed)
	} else {
		slog.Info("Monitor.Check: recovery drain finished", "processed", res.Processed, "failed", res.Failed)
	}
	m.mu.Lock()
	m.state = StateHealthy
	m.mu.Unlock()

	if m.onRecovered != nil {
		m.onRecovered(ctx, res, err)
	}
	return true
}

// Run checks upstream on every interval tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.interval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	slog.Info("Monitor.Run: starting connection monitor", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Monitor.Run: stopping")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
