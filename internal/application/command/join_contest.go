package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/keymutex"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOIN / LEAVE CONTEST COMMANDS
// Membership operations. Both run under the contest lock and apply lazy
// expiry first: an Active contest whose window passed flips to Ended before
// the mutation is attempted, so a stale contest never accepts changes.
// ══════════════════════════════════════════════════════════════════════════════

// JoinContestCommand contains the data to join a contest.
type JoinContestCommand struct {
	// ContestID identifies the contest.
	ContestID string

	// UserID is the joining user. Must be registered.
	UserID int64
}

// Validate validates the command.
func (c JoinContestCommand) Validate() error {
	if c.ContestID == "" {
		return errors.New("join_contest: contest_id is required")
	}
	if c.UserID <= 0 {
		return errors.New("join_contest: user_id is required")
	}
	return nil
}

// JoinContestResult contains the contest after the join.
type JoinContestResult struct {
	Contest *contest.Contest
}

// JoinContestHandler handles the JoinContestCommand.
type JoinContestHandler struct {
	contestRepo    contest.Repository
	stateRepo      goal.StateRepository
	eventPublisher shared.EventPublisher
	locks          *keymutex.KeyMutex
}

// NewJoinContestHandler creates a new JoinContestHandler.
func NewJoinContestHandler(
	contestRepo contest.Repository,
	stateRepo goal.StateRepository,
	eventPublisher shared.EventPublisher,
	locks *keymutex.KeyMutex,
) *JoinContestHandler {
	return &JoinContestHandler{
		contestRepo:    contestRepo,
		stateRepo:      stateRepo,
		eventPublisher: eventPublisher,
		locks:          locks,
	}
}

// Handle executes the join.
func (h *JoinContestHandler) Handle(ctx context.Context, cmd JoinContestCommand) (*JoinContestResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("join_contest: validation failed: %w", err)
	}

	userID := shared.UserID(cmd.UserID)

	// Only registered users join: the handle recorded at join time comes
	// from the goal state.
	state, err := h.stateRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("join_contest: user lookup failed: %w", err)
	}

	unlock := h.locks.Lock(contestLockKey(cmd.ContestID))
	defer unlock()

	now := time.Now().UTC()

	c, err := loadContestFresh(ctx, h.contestRepo, cmd.ContestID, now)
	if err != nil {
		return nil, fmt.Errorf("join_contest: %w", err)
	}

	if err := c.Join(userID, state.Handle, now); err != nil {
		return nil, fmt.Errorf("join_contest: %w", err)
	}

	if err := h.contestRepo.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("join_contest: failed to save: %w", err)
	}

	if h.eventPublisher != nil {
		event := shared.NewContestLifecycleEvent(shared.EventContestJoined, c.ID, c.Name, string(c.Status)).
			WithUser(userID)
		_ = h.eventPublisher.Publish(event)
	}

	return &JoinContestResult{Contest: c}, nil
}

// ──────────────────────────────────────────────────────────────────────────────

// LeaveContestCommand contains the data to leave a contest.
type LeaveContestCommand struct {
	// ContestID identifies the contest.
	ContestID string

	// UserID is the leaving user.
	UserID int64
}

// Validate validates the command.
func (c LeaveContestCommand) Validate() error {
	if c.ContestID == "" {
		return errors.New("leave_contest: contest_id is required")
	}
	if c.UserID <= 0 {
		return errors.New("leave_contest: user_id is required")
	}
	return nil
}

// LeaveContestResult contains the contest after the leave.
type LeaveContestResult struct {
	Contest *contest.Contest
}

// LeaveContestHandler handles the LeaveContestCommand.
type LeaveContestHandler struct {
	contestRepo    contest.Repository
	eventPublisher shared.EventPublisher
	locks          *keymutex.KeyMutex
}

// NewLeaveContestHandler creates a new LeaveContestHandler.
func NewLeaveContestHandler(
	contestRepo contest.Repository,
	eventPublisher shared.EventPublisher,
	locks *keymutex.KeyMutex,
) *LeaveContestHandler {
	return &LeaveContestHandler{
		contestRepo:    contestRepo,
		eventPublisher: eventPublisher,
		locks:          locks,
	}
}

// Handle executes the leave.
func (h *LeaveContestHandler) Handle(ctx context.Context, cmd LeaveContestCommand) (*LeaveContestResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("leave_contest: validation failed: %w", err)
	}

	unlock := h.locks.Lock(contestLockKey(cmd.ContestID))
	defer unlock()

	now := time.Now().UTC()

	c, err := loadContestFresh(ctx, h.contestRepo, cmd.ContestID, now)
	if err != nil {
		return nil, fmt.Errorf("leave_contest: %w", err)
	}

	userID := shared.UserID(cmd.UserID)
	if err := c.Leave(userID, now); err != nil {
		return nil, fmt.Errorf("leave_contest: %w", err)
	}

	if err := h.contestRepo.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("leave_contest: failed to save: %w", err)
	}

	if h.eventPublisher != nil {
		event := shared.NewContestLifecycleEvent(shared.EventContestLeft, c.ID, c.Name, string(c.Status)).
			WithUser(userID)
		_ = h.eventPublisher.Publish(event)
	}

	return &LeaveContestResult{Contest: c}, nil
}

// ──────────────────────────────────────────────────────────────────────────────

// loadContestFresh loads a contest and applies lazy expiry. If the window
// already passed the transition to Ended is persisted before the contest is
// handed to the caller. Callers must hold the contest lock.
func loadContestFresh(ctx context.Context, repo contest.Repository, id string, now time.Time) (*contest.Contest, error) {
	c, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.ExpireIfDue(now) {
		if err := repo.Update(ctx, c); err != nil {
			return nil, fmt.Errorf("expiry save failed: %w", err)
		}
	}

	return c, nil
}
