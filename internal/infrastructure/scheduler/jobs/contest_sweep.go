package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEST SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// ContestSweepJob ends active contests whose window has elapsed. Expiry is
// also applied lazily on read, so the sweep is a safety net that makes final
// standings visible even when nobody asks for them.
type ContestSweepJob struct {
	// Dependencies
	contestRepo    contest.Repository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	config ContestSweepConfig
}

// ContestSweepConfig contains configuration for the sweep.
type ContestSweepConfig struct {
	// Timeout bounds one sweep run.
	Timeout time.Duration
}

// DefaultContestSweepConfig returns sensible defaults.
func DefaultContestSweepConfig() ContestSweepConfig {
	return ContestSweepConfig{
		Timeout: time.Minute,
	}
}

// NewContestSweepJob creates a new contest sweep job.
func NewContestSweepJob(
	contestRepo contest.Repository,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	config ContestSweepConfig,
) *ContestSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContestSweepJob{
		contestRepo:    contestRepo,
		eventPublisher: eventPublisher,
		logger:         logger,
		config:         config,
	}
}

// Name returns the job name.
func (j *ContestSweepJob) Name() string {
	return "contest_sweep"
}

// Description returns a human-readable description.
func (j *ContestSweepJob) Description() string {
	return "Ends active contests whose scoring window has elapsed"
}

// Run executes the sweep.
func (j *ContestSweepJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	expired, err := j.contestRepo.FindExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to find expired contests: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	now := time.Now()
	var ended, failed int

	for _, c := range expired {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !c.ExpireIfDue(now) {
			continue
		}

		if err := j.contestRepo.Update(ctx, c); err != nil {
			failed++
			j.logger.Error("failed to end contest",
				"contest_id", c.ID,
				"name", c.Name,
				"error", err,
			)
			continue
		}
		ended++

		event := shared.NewContestLifecycleEvent(shared.EventContestEnded, c.ID, c.Name, string(c.Status))
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish contest ended event",
				"contest_id", c.ID,
				"error", err,
			)
		}
	}

	j.logger.Info("contest sweep completed", "ended", ended, "failed", failed)

	if failed > 0 {
		return fmt.Errorf("failed to end %d contests", failed)
	}
	return nil
}
