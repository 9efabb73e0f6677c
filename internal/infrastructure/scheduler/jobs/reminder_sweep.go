package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REMINDER SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// reminderDedupTTL covers a full local day plus timezone skew.
const reminderDedupTTL = 48 * time.Hour

// ReminderDedup marks reminders as sent so that restarts and concurrent
// workers do not fire duplicates. Returns false when the marker already exists.
type ReminderDedup interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// ReminderSweepJob publishes reminder events for users whose configured
// reminder time has arrived in their local timezone and whose daily goal is
// still unmet. Delivery (chat message, mail, anything) is a subscriber concern.
type ReminderSweepJob struct {
	// Dependencies
	stateRepo      goal.StateRepository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Optional Redis-backed dedup shared across workers.
	dedup ReminderDedup

	// State: reminders already fired today, keyed by user and local date.
	// Cleared lazily as dates go stale.
	fired map[shared.UserID]string
}

// NewReminderSweepJob creates a new reminder sweep job.
func NewReminderSweepJob(
	stateRepo goal.StateRepository,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *ReminderSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderSweepJob{
		stateRepo:      stateRepo,
		eventPublisher: eventPublisher,
		logger:         logger,
		fired:          make(map[shared.UserID]string),
	}
}

// WithDedup installs a shared dedup store. Without one the job falls back to
// its in-process map, which is enough for a single worker.
func (j *ReminderSweepJob) WithDedup(dedup ReminderDedup) *ReminderSweepJob {
	j.dedup = dedup
	return j
}

// Name returns the job name.
func (j *ReminderSweepJob) Name() string {
	return "reminder_sweep"
}

// Description returns a human-readable description.
func (j *ReminderSweepJob) Description() string {
	return "Publishes reminder events for users behind on their daily goal"
}

// Run executes the sweep.
func (j *ReminderSweepJob) Run(ctx context.Context) error {
	states, err := j.stateRepo.FindWithReminder(ctx)
	if err != nil {
		return fmt.Errorf("failed to find states with reminders: %w", err)
	}

	now := time.Now()
	var sent int

	for _, state := range states {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		remaining, due := state.ReminderDue(now)
		if !due {
			continue
		}

		loc, err := state.Location()
		if err != nil {
			j.logger.Warn("skipping reminder for invalid timezone",
				"user_id", state.UserID,
				"timezone", state.Timezone,
			)
			continue
		}

		// At most one reminder per user per local date.
		localDate := now.In(loc).Format("2006-01-02")
		if j.fired[state.UserID] == localDate {
			continue
		}
		if j.dedup != nil {
			key := fmt.Sprintf("reminder:sent:%d:%s", state.UserID, localDate)
			acquired, dedupErr := j.dedup.SetNX(ctx, key, 1, reminderDedupTTL)
			if dedupErr != nil {
				j.logger.Warn("reminder dedup check failed, relying on local state",
					"user_id", state.UserID,
					"error", dedupErr,
				)
			} else if !acquired {
				j.fired[state.UserID] = localDate
				continue
			}
		}
		j.fired[state.UserID] = localDate

		event := shared.NewReminderDueEvent(state.UserID, remaining, state.DailyGoal)
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish reminder event",
				"user_id", state.UserID,
				"error", err,
			)
			continue
		}
		sent++
	}

	if sent > 0 {
		j.logger.Info("reminder sweep completed", "sent", sent)
	}
	return nil
}
