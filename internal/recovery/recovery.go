// Package recovery provides startup recovery for RelayNote so that a
// restart picks up exactly where the previous process stopped.
//
// Components register in the order they must run; a failing component is
// logged and counted and the rest still run.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// Name identifies the component in logs and results.
	Name() string
	// Recover is called once during application startup.
	Recover(ctx context.Context) error
}

// ComponentResult records the outcome of one component's recovery.
type ComponentResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// RecoveryManager orchestrates recovery of all registered components
type RecoveryManager struct {
	recoverables []Recoverable
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{recoverables: make([]Recoverable, 0)}
}

// RegisterRecoverable adds a component that can be recovered. Components run
// in registration order.
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RecoverAll performs recovery of all registered components
func (rm *RecoveryManager) RecoverAll(ctx context.Context) ([]ComponentResult, error) {
	slog.Info("Starting application recovery", "components", len(rm.recoverables))

	results := make([]ComponentResult, 0, len(rm.recoverables))
	errorCount := 0

	for _, recoverable := range rm.recoverables {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		err := recoverable.Recover(ctx)
		res := ComponentResult{Name: recoverable.Name(), Duration: time.Since(start), Err: err}
		results = append(results, res)
		if err != nil {
			slog.Error("Component recovery failed", "error", err, "component", res.Name)
			errorCount++
			continue
		}
		slog.Debug("Component recovered", "component", res.Name, "duration", res.Duration)
	}

	slog.Info("Application recovery completed", "recovered", len(results)-errorCount, "errors", errorCount)

	if errorCount > 0 {
		return results, fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}

	return results, nil
}
