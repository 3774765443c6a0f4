// Package scheduler runs periodic maintenance jobs for BookPipe.
//
// Jobs are registered with standard five-field cron expressions. The main job
// prunes sessions abandoned mid-dialogue and old de-duplication records.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance defaults.
const (
	DefaultPruneSchedule = "17 * * * *"
	DefaultRetention     = 24 * time.Hour
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules task using expr. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	if err != nil {
		slog.Error("Scheduler rejected cron expression", "expr", expr, "error", err)
		return err
	}
	slog.Debug("Scheduler job added", "expr", expr)
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Pruner removes records older than a cutoff.
type Pruner interface {
	PruneBefore(cutoff time.Time) (contexts int, dedup int, err error)
}

// PruneJob returns a task that removes records untouched for longer than retention.
func PruneJob(p Pruner, retention time.Duration, now func() time.Time) func() {
	if now == nil {
		now = time.Now
	}
	return func() {
		cutoff := now().Add(-retention)
		contexts, dedup, err := p.PruneBefore(cutoff)
		if err != nil {
			slog.Error("Prune job failed", "error", err, "cutoff", cutoff)
			return
		}
		slog.Info("Prune job completed", "cutoff", cutoff, "contexts", contexts, "dedup", dedup)
	}
}
