package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/keymutex"
	"github.com/cf-hub/cf-goal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET GOALS COMMAND
// Configures the per-period solve targets and the optional daily reminder.
// Changing goals never rewrites history: past periods stay judged against
// the targets that were in force at the time.
// ══════════════════════════════════════════════════════════════════════════════

// SetGoalsCommand contains the goal configuration.
type SetGoalsCommand struct {
	// UserID is the chat-side identifier of the user.
	UserID int64

	// Daily/Weekly/Monthly are solve targets per period (0 = unset).
	Daily   int
	Weekly  int
	Monthly int

	// Reminder is an optional "HH:MM" local-time reminder (empty = none).
	Reminder string
}

// Validate validates the command.
func (c SetGoalsCommand) Validate() error {
	if c.UserID <= 0 {
		return errors.New("set_goals: user_id is required")
	}
	return nil
}

// SetGoalsResult contains the result of configuring goals.
type SetGoalsResult struct {
	State *goal.UserGoalState
}

// SetGoalsHandler handles the SetGoalsCommand.
type SetGoalsHandler struct {
	stateRepo      goal.StateRepository
	eventPublisher shared.EventPublisher
	locks          *keymutex.KeyMutex
}

// NewSetGoalsHandler creates a new SetGoalsHandler.
func NewSetGoalsHandler(
	stateRepo goal.StateRepository,
	eventPublisher shared.EventPublisher,
	locks *keymutex.KeyMutex,
) *SetGoalsHandler {
	return &SetGoalsHandler{
		stateRepo:      stateRepo,
		eventPublisher: eventPublisher,
		locks:          locks,
	}
}

// Handle executes the command.
func (h *SetGoalsHandler) Handle(ctx context.Context, cmd SetGoalsCommand) (*SetGoalsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("set_goals: validation failed: %w", err)
	}

	var reminder *timeutil.Clock
	if cmd.Reminder != "" {
		clock, err := timeutil.ParseClock(cmd.Reminder)
		if err != nil {
			return nil, fmt.Errorf("set_goals: %w", err)
		}
		reminder = &clock
	}

	userID := shared.UserID(cmd.UserID)
	unlock := h.locks.Lock(userLockKey(userID))
	defer unlock()

	state, err := h.stateRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("set_goals: failed to get state: %w", err)
	}

	if err := state.SetGoals(cmd.Daily, cmd.Weekly, cmd.Monthly, reminder, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("set_goals: %w", err)
	}

	if err := h.stateRepo.Update(ctx, state); err != nil {
		return nil, fmt.Errorf("set_goals: failed to save state: %w", err)
	}

	event := shared.NewGoalConfiguredEvent(userID, cmd.Daily, cmd.Weekly, cmd.Monthly)
	if err := h.eventPublisher.Publish(event); err != nil {
		// Configuration is already saved; a lost event is not worth failing over.
		_ = err
	}

	return &SetGoalsResult{State: state}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SET CATEGORY GOAL COMMAND
// Targets within a problem category: a rating bucket ("900") or a tag ("dp").
// Re-setting a category replaces the target and resets accumulated progress.
// ══════════════════════════════════════════════════════════════════════════════

// SetCategoryGoalCommand contains the category goal configuration.
type SetCategoryGoalCommand struct {
	// UserID is the chat-side identifier of the user.
	UserID int64

	// Category is the raw category key: a rating like "900" or a tag like "dp".
	Category string

	// Target is the number of solves to reach in this category.
	Target int
}

// Validate validates the command.
func (c SetCategoryGoalCommand) Validate() error {
	if c.UserID <= 0 {
		return errors.New("set_category_goal: user_id is required")
	}
	if c.Category == "" {
		return errors.New("set_category_goal: category is required")
	}
	return nil
}

// SetCategoryGoalHandler handles the SetCategoryGoalCommand.
type SetCategoryGoalHandler struct {
	stateRepo    goal.StateRepository
	categoryRepo goal.CategoryRepository
	locks        *keymutex.KeyMutex
}

// NewSetCategoryGoalHandler creates a new SetCategoryGoalHandler.
func NewSetCategoryGoalHandler(
	stateRepo goal.StateRepository,
	categoryRepo goal.CategoryRepository,
	locks *keymutex.KeyMutex,
) *SetCategoryGoalHandler {
	return &SetCategoryGoalHandler{
		stateRepo:    stateRepo,
		categoryRepo: categoryRepo,
		locks:        locks,
	}
}

// Handle executes the command.
func (h *SetCategoryGoalHandler) Handle(ctx context.Context, cmd SetCategoryGoalCommand) (*goal.CategoryGoal, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("set_category_goal: validation failed: %w", err)
	}

	userID := shared.UserID(cmd.UserID)
	unlock := h.locks.Lock(userLockKey(userID))
	defer unlock()

	// The user must be registered before category goals make sense.
	if _, err := h.stateRepo.GetByUserID(ctx, userID); err != nil {
		return nil, fmt.Errorf("set_category_goal: failed to get state: %w", err)
	}

	key, err := goal.ParseRawCategory(cmd.Category)
	if err != nil {
		return nil, fmt.Errorf("set_category_goal: %w", err)
	}

	categoryGoal, err := goal.NewCategoryGoal(userID, key, cmd.Target, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("set_category_goal: %w", err)
	}

	if err := h.categoryRepo.Upsert(ctx, categoryGoal); err != nil {
		return nil, fmt.Errorf("set_category_goal: failed to save: %w", err)
	}

	return categoryGoal, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOVE CATEGORY GOAL COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RemoveCategoryGoalCommand removes a category goal.
type RemoveCategoryGoalCommand struct {
	UserID   int64
	Category string
}

// RemoveCategoryGoalHandler handles the RemoveCategoryGoalCommand.
type RemoveCategoryGoalHandler struct {
	categoryRepo goal.CategoryRepository
	locks        *keymutex.KeyMutex
}

// NewRemoveCategoryGoalHandler creates a new RemoveCategoryGoalHandler.
func NewRemoveCategoryGoalHandler(categoryRepo goal.CategoryRepository, locks *keymutex.KeyMutex) *RemoveCategoryGoalHandler {
	return &RemoveCategoryGoalHandler{categoryRepo: categoryRepo, locks: locks}
}

// Handle executes the command.
func (h *RemoveCategoryGoalHandler) Handle(ctx context.Context, cmd RemoveCategoryGoalCommand) error {
	if cmd.UserID <= 0 {
		return errors.New("remove_category_goal: user_id is required")
	}

	key, err := goal.ParseRawCategory(cmd.Category)
	if err != nil {
		return fmt.Errorf("remove_category_goal: %w", err)
	}

	userID := shared.UserID(cmd.UserID)
	unlock := h.locks.Lock(userLockKey(userID))
	defer unlock()

	if err := h.categoryRepo.Delete(ctx, userID, key); err != nil {
		return fmt.Errorf("remove_category_goal: failed to delete: %w", err)
	}
	return nil
}
