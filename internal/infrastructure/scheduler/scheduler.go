// Package scheduler runs the periodic background jobs: solve
// synchronization, goal rollover sweeps, contest expiry, reminders and
// ranking rebuilds. Jobs are paced by interval or cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is a unit of background work.
type Job interface {
	// Name identifies the job; registration rejects duplicates.
	Name() string

	// Run does the work. The context is cancelled when the scheduler
	// stops.
	Run(ctx context.Context) error

	// Description is shown in logs and status output.
	Description() string
}

// Schedule decides when a job runs next.
type Schedule interface {
	// Next returns the first execution time strictly after t.
	Next(t time.Time) time.Time

	// String renders the schedule for logs.
	String() string
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler owns a set of jobs and runs each when its schedule says so.
// Due jobs run concurrently with each other; one job never overlaps
// itself because its next run is computed only after the previous one
// is picked up.
type Scheduler struct {
	mu sync.RWMutex

	logger   *slog.Logger
	timezone *time.Location

	entries   map[string]*jobEntry
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	metrics *SchedulerMetrics

	onJobError func(jobName string, err error)
}

// jobEntry pairs a job with its schedule and run bookkeeping.
type jobEntry struct {
	job       Job
	schedule  Schedule
	lastRun   time.Time
	nextRun   time.Time
	runCount  int64
	failCount int64
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone anchors schedule calculations; cron expressions like
	// "0 4 * * *" fire at 04:00 in this zone.
	Timezone *time.Location
}

// DefaultSchedulerConfig uses the default logger and UTC.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:   slog.Default(),
		Timezone: time.UTC,
	}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	return &Scheduler{
		logger:   config.Logger,
		timezone: config.Timezone,
		entries:  make(map[string]*jobEntry),
		metrics:  NewSchedulerMetrics(),
	}
}

// Register adds a job under the given schedule. The first run is the
// schedule's next slot from now.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	entry := &jobEntry{
		job:      job,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now().In(s.timezone)),
	}
	s.entries[name] = entry

	s.logger.Info("job registered",
		"job", name,
		"description", job.Description(),
		"next_run", entry.nextRun.Format(time.RFC3339),
	)
	return nil
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs_count", len(s.entries))

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop halts scheduling and waits for jobs already running.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped", "uptime", time.Since(s.startedAt).String())
	return nil
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick launches every job whose next run has passed.
func (s *Scheduler) tick() {
	now := time.Now().In(s.timezone)

	s.mu.RLock()
	var due []*jobEntry
	for _, entry := range s.entries {
		if !entry.nextRun.IsZero() && now.After(entry.nextRun) {
			due = append(due, entry)
		}
	}
	s.mu.RUnlock()

	for _, entry := range due {
		s.wg.Add(1)
		go s.execute(entry)
	}
}

func (s *Scheduler) execute(entry *jobEntry) {
	defer s.wg.Done()

	name := entry.job.Name()
	startedAt := time.Now()
	s.logger.Info("job started", "job", name)

	// Advance the schedule before executing so a slow run does not
	// pile up extra executions behind it.
	s.mu.Lock()
	entry.lastRun = startedAt
	entry.nextRun = entry.schedule.Next(startedAt.In(s.timezone))
	entry.runCount++
	s.mu.Unlock()

	err := entry.job.Run(s.ctx)
	duration := time.Since(startedAt)
	s.metrics.RecordExecution(name, duration, err == nil)

	if err != nil {
		s.mu.Lock()
		entry.failCount++
		s.mu.Unlock()

		s.logger.Error("job failed",
			"job", name,
			"duration", duration.String(),
			"error", err,
		)
		if s.onJobError != nil {
			s.onJobError(name, err)
		}
		return
	}

	s.logger.Info("job completed", "job", name, "duration", duration.String())
}

// OnJobError installs a callback invoked after every failed run.
func (s *Scheduler) OnJobError(fn func(jobName string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJobError = fn
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo describes one registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
}

// ListJobs reports every registered job.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.entries))
	for name, entry := range s.entries {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: entry.job.Description(),
			Schedule:    entry.schedule.String(),
			LastRun:     entry.lastRun,
			NextRun:     entry.nextRun,
			RunCount:    entry.runCount,
			FailCount:   entry.failCount,
		})
	}
	return infos
}

// GetMetrics returns the execution counters.
func (s *Scheduler) GetMetrics() *SchedulerMetrics {
	return s.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerMetrics counts job executions across all jobs.
type SchedulerMetrics struct {
	mu            sync.Mutex
	executions    int64
	successes     int64
	failures      int64
	totalDuration time.Duration
}

func NewSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{}
}

// RecordExecution accounts for one finished run.
func (m *SchedulerMetrics) RecordExecution(jobName string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions++
	m.totalDuration += duration
	if success {
		m.successes++
	} else {
		m.failures++
	}
}

// Snapshot returns a point-in-time copy of the counters.
func (m *SchedulerMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalExecutions: m.executions,
		TotalSuccesses:  m.successes,
		TotalFailures:   m.failures,
	}
	if m.executions > 0 {
		snap.SuccessRate = float64(m.successes) / float64(m.executions)
		snap.AverageDuration = m.totalDuration / time.Duration(m.executions)
	}
	return snap
}

// MetricsSnapshot is what Snapshot hands back.
type MetricsSnapshot struct {
	TotalExecutions int64
	TotalSuccesses  int64
	TotalFailures   int64
	SuccessRate     float64
	AverageDuration time.Duration
}
