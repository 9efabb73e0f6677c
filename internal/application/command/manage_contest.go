package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/keymutex"
)

// ══════════════════════════════════════════════════════════════════════════════
// START / END CONTEST COMMANDS
// Creator-only lifecycle transitions. Starting fixes the scoring window
// (StartTime..StartTime+Duration); ending before the window closes freezes
// scores at the actual end moment.
// ══════════════════════════════════════════════════════════════════════════════

// StartContestCommand contains the data to start a contest.
type StartContestCommand struct {
	// ContestID identifies the contest.
	ContestID string

	// UserID must be the creator.
	UserID int64
}

// Validate validates the command.
func (c StartContestCommand) Validate() error {
	if c.ContestID == "" {
		return errors.New("start_contest: contest_id is required")
	}
	if c.UserID <= 0 {
		return errors.New("start_contest: user_id is required")
	}
	return nil
}

// StartContestResult contains the contest after the start.
type StartContestResult struct {
	Contest *contest.Contest
}

// StartContestHandler handles the StartContestCommand.
type StartContestHandler struct {
	contestRepo    contest.Repository
	eventPublisher shared.EventPublisher
	locks          *keymutex.KeyMutex
}

// NewStartContestHandler creates a new StartContestHandler.
func NewStartContestHandler(
	contestRepo contest.Repository,
	eventPublisher shared.EventPublisher,
	locks *keymutex.KeyMutex,
) *StartContestHandler {
	return &StartContestHandler{
		contestRepo:    contestRepo,
		eventPublisher: eventPublisher,
		locks:          locks,
	}
}

// Handle executes the start.
func (h *StartContestHandler) Handle(ctx context.Context, cmd StartContestCommand) (*StartContestResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("start_contest: validation failed: %w", err)
	}

	unlock := h.locks.Lock(contestLockKey(cmd.ContestID))
	defer unlock()

	now := time.Now().UTC()

	c, err := h.contestRepo.GetByID(ctx, cmd.ContestID)
	if err != nil {
		return nil, fmt.Errorf("start_contest: %w", err)
	}

	if err := c.Start(shared.UserID(cmd.UserID), now); err != nil {
		return nil, fmt.Errorf("start_contest: %w", err)
	}

	if err := h.contestRepo.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("start_contest: failed to save: %w", err)
	}

	if h.eventPublisher != nil {
		event := shared.NewContestLifecycleEvent(shared.EventContestStarted, c.ID, c.Name, string(c.Status)).
			WithUser(c.CreatedBy)
		_ = h.eventPublisher.Publish(event)
	}

	return &StartContestResult{Contest: c}, nil
}

// ──────────────────────────────────────────────────────────────────────────────

// EndContestCommand contains the data to end a contest early.
type EndContestCommand struct {
	// ContestID identifies the contest.
	ContestID string

	// UserID must be the creator.
	UserID int64
}

// Validate validates the command.
func (c EndContestCommand) Validate() error {
	if c.ContestID == "" {
		return errors.New("end_contest: contest_id is required")
	}
	if c.UserID <= 0 {
		return errors.New("end_contest: user_id is required")
	}
	return nil
}

// EndContestResult contains the contest and the final standings.
type EndContestResult struct {
	Contest   *contest.Contest
	Standings []contest.Standing
}

// EndContestHandler handles the EndContestCommand.
type EndContestHandler struct {
	contestRepo    contest.Repository
	eventPublisher shared.EventPublisher
	locks          *keymutex.KeyMutex
}

// NewEndContestHandler creates a new EndContestHandler.
func NewEndContestHandler(
	contestRepo contest.Repository,
	eventPublisher shared.EventPublisher,
	locks *keymutex.KeyMutex,
) *EndContestHandler {
	return &EndContestHandler{
		contestRepo:    contestRepo,
		eventPublisher: eventPublisher,
		locks:          locks,
	}
}

// Handle executes the end.
func (h *EndContestHandler) Handle(ctx context.Context, cmd EndContestCommand) (*EndContestResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("end_contest: validation failed: %w", err)
	}

	unlock := h.locks.Lock(contestLockKey(cmd.ContestID))
	defer unlock()

	now := time.Now().UTC()

	c, err := h.contestRepo.GetByID(ctx, cmd.ContestID)
	if err != nil {
		return nil, fmt.Errorf("end_contest: %w", err)
	}

	expiredNow := c.ExpireIfDue(now)
	if expiredNow {
		if err := h.contestRepo.Update(ctx, c); err != nil {
			return nil, fmt.Errorf("end_contest: failed to save: %w", err)
		}
	}

	if c.Status == contest.StatusEnded {
		// Only the creator who races lazy expiry in this very call gets a
		// benign no-op with the final standings. Anyone else asking to end
		// a finished contest made a mistake and hears about it.
		if c.CreatedBy != shared.UserID(cmd.UserID) {
			return nil, fmt.Errorf("end_contest: %w", contest.ErrNotCreator)
		}
		if !expiredNow {
			return nil, fmt.Errorf("end_contest: %w", contest.ErrNotActive)
		}
		return &EndContestResult{
			Contest:   c,
			Standings: c.Ranking(contest.ByScoreThenJoin),
		}, nil
	}

	if err := c.End(shared.UserID(cmd.UserID), now); err != nil {
		return nil, fmt.Errorf("end_contest: %w", err)
	}

	if err := h.contestRepo.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("end_contest: failed to save: %w", err)
	}

	if h.eventPublisher != nil {
		event := shared.NewContestLifecycleEvent(shared.EventContestEnded, c.ID, c.Name, string(c.Status)).
			WithUser(c.CreatedBy)
		_ = h.eventPublisher.Publish(event)
	}

	return &EndContestResult{
		Contest:   c,
		Standings: c.Ranking(contest.ByScoreThenJoin),
	}, nil
}
