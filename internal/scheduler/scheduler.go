// Package scheduler provides scheduling logic for RelayNote.
//
// It runs periodic maintenance (retention cleanup, the weekly report) using
// cron expressions.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single run of a named job.
const DefaultJobTimeout = 10 * time.Minute

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// NewScheduler creates and starts a cron scheduler. Jobs added with AddNamedJob
// run under ctx.
func NewScheduler(ctx context.Context) *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, ctx: ctx}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddNamedJob schedules a context-aware task and logs each run's outcome.
func (s *Scheduler) AddNamedJob(name, expr string, task func(ctx context.Context) error) error {
	id, err := s.cron.AddFunc(expr, func() {
		if s.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, DefaultJobTimeout)
		defer cancel()

		start := time.Now()
		if err := task(ctx); err != nil {
			slog.Error("Scheduler job failed", "job", name, "duration", time.Since(start), "error", err)
			return
		}
		slog.Info("Scheduler job completed", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return err
	}
	slog.Debug("Scheduler job added", "job", name, "expr", expr, "next", s.cron.Entry(id).Next)
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
