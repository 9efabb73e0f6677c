package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/keymutex"
	"github.com/cf-hub/cf-goal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROLLOVER SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// RolloverSweepJob periodically closes out goal periods for users whose
// local day, week or month has ended since the last check. Closing a day
// extends or breaks the streak, records history and mints milestone rewards.
//
// The sweep complements on-demand rollover (evaluated lazily when a user's
// state is read): it guarantees boundaries are processed even for users who
// never touch the system again.
type RolloverSweepJob struct {
	// Dependencies
	store          RolloverStore
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	locks          *keymutex.KeyMutex

	// Configuration
	config RolloverSweepConfig
}

// RolloverStore defines the persistence operations the sweep needs.
type RolloverStore interface {
	// FindStale returns states whose LastCheck is older than the threshold.
	FindStale(ctx context.Context, olderThan time.Time) ([]*goal.UserGoalState, error)

	// GetByUserID returns one state. Called again under the user's lock
	// so the sweep rolls over the freshest copy.
	GetByUserID(ctx context.Context, userID shared.UserID) (*goal.UserGoalState, error)

	// ApplyRollover atomically persists the mutated state together with
	// its history records and any minted reward.
	ApplyRollover(ctx context.Context, state *goal.UserGoalState, result *goal.RolloverResult) error
}

// RolloverSweepConfig contains configuration for the sweep.
type RolloverSweepConfig struct {
	// Staleness is how old LastCheck must be before a state is swept.
	// Keeping it short makes streak breaks visible promptly.
	Staleness time.Duration

	// DayStart is the offset of the local day boundary from midnight.
	DayStart time.Duration

	// Timeout bounds one sweep run.
	Timeout time.Duration
}

// DefaultRolloverSweepConfig returns sensible defaults.
func DefaultRolloverSweepConfig() RolloverSweepConfig {
	return RolloverSweepConfig{
		Staleness: time.Hour,
		DayStart:  timeutil.DefaultDayStart,
		Timeout:   5 * time.Minute,
	}
}

// NewRolloverSweepJob creates a new rollover sweep job.
func NewRolloverSweepJob(
	store RolloverStore,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	config RolloverSweepConfig,
) *RolloverSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Staleness <= 0 {
		config.Staleness = time.Hour
	}
	if config.DayStart == 0 {
		config.DayStart = timeutil.DefaultDayStart
	}

	return &RolloverSweepJob{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         logger,
		config:         config,
		locks:          keymutex.New(),
	}
}

// WithLocks replaces the per-user lock set. Jobs that write the same
// goal states must share one set, otherwise locking is per job only.
func (j *RolloverSweepJob) WithLocks(locks *keymutex.KeyMutex) *RolloverSweepJob {
	if locks != nil {
		j.locks = locks
	}
	return j
}

// Name returns the job name.
func (j *RolloverSweepJob) Name() string {
	return "rollover_sweep"
}

// Description returns a human-readable description.
func (j *RolloverSweepJob) Description() string {
	return "Closes out ended goal periods: streaks, penalties, history, rewards"
}

// Run executes the sweep.
func (j *RolloverSweepJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	now := time.Now()
	states, err := j.store.FindStale(ctx, now.Add(-j.config.Staleness))
	if err != nil {
		return fmt.Errorf("failed to find stale states: %w", err)
	}

	if len(states) == 0 {
		return nil
	}

	j.logger.Info("rollover sweep started", "candidates", len(states))

	var crossed, failed int
	for _, state := range states {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := j.rolloverOne(ctx, state, now, &crossed); err != nil {
			failed++
			j.logger.Error("rollover failed",
				"user_id", state.UserID,
				"handle", state.Handle,
				"error", err,
			)
		}
	}

	j.logger.Info("rollover sweep completed",
		"candidates", len(states),
		"crossed", crossed,
		"failed", failed,
	)

	if failed > 0 {
		return fmt.Errorf("rollover failed for %d of %d users", failed, len(states))
	}
	return nil
}

// rolloverOne evaluates and persists the rollover of a single user.
func (j *RolloverSweepJob) rolloverOne(ctx context.Context, state *goal.UserGoalState, now time.Time, crossed *int) error {
	unlock := j.locks.Lock(userLockKey(state.UserID))
	defer unlock()

	// The FindStale snapshot may already have been rolled over by the
	// solve sync. Reload under the lock, rollover is idempotent then.
	state, err := j.store.GetByUserID(ctx, state.UserID)
	if err != nil {
		return err
	}

	result, err := state.EvaluateRollover(now, j.config.DayStart)
	if err != nil {
		return err
	}

	for i := range result.Records {
		result.Records[i].ID = uuid.NewString()
	}

	if err := j.store.ApplyRollover(ctx, state, result); err != nil {
		return err
	}

	if result.Crossed {
		*crossed++
	}

	// Events go out only after the state is durably saved.
	for _, event := range result.Events {
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish rollover event",
				"user_id", state.UserID,
				"event_type", event.EventType(),
				"error", err,
			)
		}
	}

	return nil
}
