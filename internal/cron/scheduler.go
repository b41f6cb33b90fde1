// Package cron runs periodic maintenance jobs on robfig/cron schedules.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
)

// Standard 5-field expressions plus descriptors such as "@every 10m".
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Next returns the first activation of spec after now.
func Next(spec string, now time.Time) (time.Time, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule.Next(now), nil
}

// Scheduler runs named jobs. A job still running when its next activation
// comes up is skipped for that activation.
type Scheduler struct {
	c *cronlib.Cron

	mu      sync.Mutex
	jobs    map[string]cronlib.EntryID
	started bool
}

// New creates a stopped scheduler.
func New() *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		c: cronlib.New(
			cronlib.WithParser(parser),
			cronlib.WithLogger(logger),
			cronlib.WithChain(cronlib.Recover(logger), cronlib.SkipIfStillRunning(logger)),
		),
		jobs: make(map[string]cronlib.EntryID),
	}
}

// Add registers fn under name. Adding a name twice replaces the old job.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("job %s: invalid cron expression %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[name]; ok {
		s.c.Remove(old)
	}
	s.jobs[name] = s.c.Schedule(schedule, cronlib.FuncJob(func() {
		start := time.Now()
		fn()
		MetricSince("cron/"+name, "run", start)
		L_trace("cron: job finished", "job", name, "elapsed", time.Since(start))
	}))
	L_debug("cron: job scheduled", "job", name, "spec", spec)
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
	L_info("cron: scheduler started", "jobs", len(s.jobs))
}

// Stop halts scheduling and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.c.Stop()
	select {
	case <-done.Done():
		L_debug("cron: scheduler stopped")
		return nil
	case <-ctx.Done():
		L_warn("cron: jobs still running at shutdown")
		return ctx.Err()
	}
}

// cronLogger routes robfig/cron's own logging into ours.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	L_trace("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	L_error("cron: "+msg, append(keysAndValues, "error", err)...)
}
