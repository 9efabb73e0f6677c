// Package jobs contains implementations of scheduled jobs for CF Goal Hub.
// Each job keeps local goal and contest state in step with what actually
// happened on Codeforces.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/keymutex"
	"github.com/cf-hub/cf-goal-hub/pkg/timeutil"
)

// userLockKey returns the per-user lock key shared by the jobs that write
// goal state.
func userLockKey(userID shared.UserID) string {
	return fmt.Sprintf("user:%d", userID.Int64())
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC SOLVES JOB
// ══════════════════════════════════════════════════════════════════════════════

// SyncSolvesJob polls Codeforces for new accepted submissions of every
// registered user and feeds them into the goal counters, category goals and
// active contests. This is the core job that keeps local data in sync with
// the source of truth.
type SyncSolvesJob struct {
	// Dependencies
	stateRepo      SyncStateStore
	categoryRepo   goal.CategoryRepository
	contestRepo    contest.Repository
	cfClient       SolveSource
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	locks          *keymutex.KeyMutex

	// Configuration
	config SyncSolvesConfig

	// State (for metrics)
	lastSyncStats atomic.Value // *SyncStats
}

// SolveSource defines the interface for fetching accepted submissions.
type SolveSource interface {
	// FetchSolvedEvents returns accepted submissions of the handle newer
	// than since, oldest first.
	FetchSolvedEvents(ctx context.Context, handle shared.Handle, since time.Time) ([]shared.SolveEvent, error)
}

// SyncStateStore defines the goal-state persistence the sync job needs.
type SyncStateStore interface {
	// GetAll returns all states with pagination.
	GetAll(ctx context.Context, opts goal.ListOptions) ([]*goal.UserGoalState, error)

	// GetByUserID returns one state. Called again under the user's lock
	// so the job records solves against the freshest copy.
	GetByUserID(ctx context.Context, userID shared.UserID) (*goal.UserGoalState, error)

	// Update persists the mutated state.
	Update(ctx context.Context, state *goal.UserGoalState) error

	// ApplyRollover atomically persists a rollover outcome: state,
	// history records and any minted reward.
	ApplyRollover(ctx context.Context, state *goal.UserGoalState, result *goal.RolloverResult) error
}

// SyncSolvesConfig contains configuration for the sync job.
type SyncSolvesConfig struct {
	// Concurrency is the number of users to sync in parallel.
	// The Codeforces client rate-limits globally, so this mostly bounds
	// memory, not request rate.
	Concurrency int

	// Timeout is the maximum duration for the entire sync operation.
	Timeout time.Duration

	// MaxFailureRate aborts with an error when more than this share of
	// users failed to sync.
	MaxFailureRate float64

	// DayStart is the offset of the local day boundary from midnight.
	// Used to close ended periods before any solve is counted.
	DayStart time.Duration
}

// DefaultSyncSolvesConfig returns sensible defaults.
func DefaultSyncSolvesConfig() SyncSolvesConfig {
	return SyncSolvesConfig{
		Concurrency:    4,
		Timeout:        10 * time.Minute,
		MaxFailureRate: 0.5,
		DayStart:       timeutil.DefaultDayStart,
	}
}

// SyncStats contains statistics from a sync run.
type SyncStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	TotalUsers  int
	PolledCount int
	EventsFound int
	FailedCount int
	Errors      []SyncError
}

// SyncError represents an error during sync.
type SyncError struct {
	UserID     shared.UserID
	Handle     shared.Handle
	Error      error
	OccurredAt time.Time
}

// NewSyncSolvesJob creates a new sync job.
func NewSyncSolvesJob(
	stateRepo SyncStateStore,
	categoryRepo goal.CategoryRepository,
	contestRepo contest.Repository,
	cfClient SolveSource,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	config SyncSolvesConfig,
) *SyncSolvesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.MaxFailureRate <= 0 {
		config.MaxFailureRate = 0.5
	}
	if config.DayStart <= 0 {
		config.DayStart = timeutil.DefaultDayStart
	}

	return &SyncSolvesJob{
		stateRepo:      stateRepo,
		categoryRepo:   categoryRepo,
		contestRepo:    contestRepo,
		cfClient:       cfClient,
		eventPublisher: eventPublisher,
		logger:         logger,
		config:         config,
		locks:          keymutex.New(),
	}
}

// WithLocks replaces the per-user lock set. Jobs that write the same
// goal states must share one set, otherwise locking is per job only.
func (j *SyncSolvesJob) WithLocks(locks *keymutex.KeyMutex) *SyncSolvesJob {
	if locks != nil {
		j.locks = locks
	}
	return j
}

// Name returns the job name.
func (j *SyncSolvesJob) Name() string {
	return "sync_solves"
}

// Description returns a human-readable description.
func (j *SyncSolvesJob) Description() string {
	return "Polls Codeforces for new accepted submissions of all registered users"
}

// Run executes the sync job.
func (j *SyncSolvesJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &SyncStats{
		StartedAt: startedAt,
		Errors:    make([]SyncError, 0),
	}

	j.logger.Info("starting sync_solves job")

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	states, err := j.stateRepo.GetAll(ctx, goal.ListOptions{Limit: 0})
	if err != nil {
		return fmt.Errorf("failed to list goal states: %w", err)
	}

	stats.TotalUsers = len(states)
	if stats.TotalUsers == 0 {
		j.finish(stats)
		return nil
	}

	j.syncConcurrently(ctx, states, stats)
	j.finish(stats)

	j.logger.Info("sync_solves job completed",
		"duration", stats.Duration.String(),
		"users", stats.TotalUsers,
		"polled", stats.PolledCount,
		"events", stats.EventsFound,
		"failed", stats.FailedCount,
	)

	failureRate := float64(stats.FailedCount) / float64(stats.TotalUsers)
	if failureRate > j.config.MaxFailureRate {
		return fmt.Errorf("sync failed for %d of %d users", stats.FailedCount, stats.TotalUsers)
	}

	return nil
}

// finish finalizes stats and emits the sync completed event.
func (j *SyncSolvesJob) finish(stats *SyncStats) {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastSyncStats.Store(stats)

	event := shared.NewSyncCompletedEvent(stats.PolledCount, stats.EventsFound, stats.FailedCount, stats.Duration)
	if err := j.eventPublisher.Publish(event); err != nil {
		j.logger.Warn("failed to publish sync completed event", "error", err)
	}
}

// syncConcurrently syncs users through a bounded worker pool.
func (j *SyncSolvesJob) syncConcurrently(ctx context.Context, states []*goal.UserGoalState, stats *SyncStats) {
	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, j.config.Concurrency)
		mu        sync.Mutex
	)

	for _, s := range states {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(state *goal.UserGoalState) {
			defer wg.Done()
			defer func() { <-semaphore }()

			found, err := j.SyncUser(ctx, state)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				stats.FailedCount++
				stats.Errors = append(stats.Errors, SyncError{
					UserID:     state.UserID,
					Handle:     state.Handle,
					Error:      err,
					OccurredAt: time.Now(),
				})
				j.logger.Error("failed to sync user",
					"user_id", state.UserID,
					"handle", state.Handle,
					"error", err,
				)
				return
			}

			stats.PolledCount++
			stats.EventsFound += found
		}(s)
	}

	wg.Wait()
}

// SyncUser polls Codeforces for one user and applies every new solve.
// It can also be called on demand, for example right after registration.
//
// Ended periods are closed before any solve is counted. Otherwise a
// submission that arrives after the day boundary would be credited to
// the already-finished day and then wiped by the next rollover.
func (j *SyncSolvesJob) SyncUser(ctx context.Context, state *goal.UserGoalState) (int, error) {
	events, err := j.cfClient.FetchSolvedEvents(ctx, state.Handle, state.LastSubmission)
	if err != nil {
		return 0, fmt.Errorf("fetch submissions: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	unlock := j.locks.Lock(userLockKey(state.UserID))
	defer unlock()

	// The list snapshot may be stale by now, the rollover sweep runs
	// over the same states. Reload under the lock.
	state, err = j.stateRepo.GetByUserID(ctx, state.UserID)
	if err != nil {
		return 0, fmt.Errorf("reload goal state: %w", err)
	}

	now := time.Now()
	credited := 0

	rollover, err := state.EvaluateRollover(now, j.config.DayStart)
	if err != nil {
		return 0, fmt.Errorf("evaluate rollover: %w", err)
	}
	if rollover.Crossed {
		for i := range rollover.Records {
			rollover.Records[i].ID = uuid.NewString()
		}
		if err := j.stateRepo.ApplyRollover(ctx, state, rollover); err != nil {
			return 0, fmt.Errorf("apply rollover: %w", err)
		}
		for _, event := range rollover.Events {
			if err := j.eventPublisher.Publish(event); err != nil {
				j.logger.Warn("failed to publish rollover event",
					"user_id", state.UserID,
					"event_type", event.EventType(),
					"error", err,
				)
			}
		}
	}

	categories, err := j.categoryRepo.GetByUser(ctx, state.UserID)
	if err != nil {
		return 0, fmt.Errorf("load category goals: %w", err)
	}

	contests, err := j.contestRepo.FindActiveByParticipant(ctx, state.UserID)
	if err != nil {
		return 0, fmt.Errorf("load active contests: %w", err)
	}

	touchedCategories := make(map[string]*goal.CategoryGoal)
	touchedContests := make(map[string]*contest.Contest)

	for _, e := range events {
		if !state.RecordSolve(e, now) {
			continue
		}
		credited++

		for _, cg := range categories {
			if cg.Record(e, now) {
				touchedCategories[cg.Key.String()] = cg
			}
		}

		for _, c := range contests {
			if c.RecordSolve(state.UserID, e, now) {
				touchedContests[c.ID] = c
			}
		}

		event := shared.NewSolveRecordedEvent(state.UserID, string(e.ProblemID), e.Rating, state.SolvedToday)
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish solve event",
				"user_id", state.UserID,
				"problem", e.ProblemID,
				"error", err,
			)
		}
	}

	if credited == 0 {
		return 0, nil
	}

	if err := j.stateRepo.Update(ctx, state); err != nil {
		return 0, fmt.Errorf("save goal state: %w", err)
	}

	for _, cg := range touchedCategories {
		if err := j.categoryRepo.UpdateProgress(ctx, cg); err != nil {
			j.logger.Warn("failed to save category progress",
				"user_id", state.UserID,
				"category", cg.Key,
				"error", err,
			)
		}
	}

	for _, c := range touchedContests {
		// Guarded write: a contest the creator ended while this sync
		// was running must not be resurrected, and its score stays.
		if err := j.contestRepo.UpdateIfActive(ctx, c); err != nil {
			if errors.Is(err, contest.ErrNotActive) {
				j.logger.Info("contest credit skipped, contest no longer active",
					"user_id", state.UserID,
					"contest_id", c.ID,
				)
				continue
			}
			j.logger.Warn("failed to save contest score",
				"user_id", state.UserID,
				"contest_id", c.ID,
				"error", err,
			)
		}
	}

	return credited, nil
}

// LastSyncStats returns statistics from the last sync run.
func (j *SyncSolvesJob) LastSyncStats() *SyncStats {
	stats := j.lastSyncStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*SyncStats)
}
