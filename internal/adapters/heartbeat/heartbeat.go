// Package heartbeat runs the orchestrator's periodic background jobs —
// stale session-file GC and a consolidation safety-net — on a standard
// 5-field cron schedule (spec.md §4.D, §4.G).
package heartbeat

import (
	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler wraps a robfig/cron runner with the logging the rest of the
// orchestrator uses.
type Scheduler struct {
	cron   *cronlib.Cron
	logger *zap.Logger
}

// New creates a Scheduler. Jobs only start running once Start is called.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{cron: cronlib.New(), logger: logger}
}

// AddFunc schedules fn on a standard 5-field cron expression.
func (s *Scheduler) AddFunc(spec string, fn func()) error {
	_, err := s.cron.AddFunc(spec, fn)
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
