// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER USER COMMAND
// Links a chat user to a Codeforces handle and creates the empty goal state.
// Everything else (goals, reminders, contests) builds on this record.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterUserCommand contains the data to register a user.
type RegisterUserCommand struct {
	// UserID is the chat-side identifier of the user.
	UserID int64

	// Handle is the Codeforces handle to track.
	Handle string

	// Timezone is an IANA zone name (empty = UTC).
	Timezone string
}

// Validate validates the command.
func (c RegisterUserCommand) Validate() error {
	if c.UserID <= 0 {
		return errors.New("register_user: user_id is required")
	}
	if c.Handle == "" {
		return errors.New("register_user: handle is required")
	}
	return nil
}

// RegisterUserResult contains the result of a registration.
type RegisterUserResult struct {
	// State is the freshly created goal state.
	State *goal.UserGoalState

	// RegisteredAt is when the registration happened.
	RegisteredAt time.Time
}

// HandleVerifier checks that a handle exists on Codeforces.
type HandleVerifier interface {
	VerifyHandle(ctx context.Context, handle shared.Handle) error
}

// RegisterUserHandler handles the RegisterUserCommand.
type RegisterUserHandler struct {
	stateRepo goal.StateRepository
	verifier  HandleVerifier
}

// NewRegisterUserHandler creates a new RegisterUserHandler.
func NewRegisterUserHandler(stateRepo goal.StateRepository, verifier HandleVerifier) *RegisterUserHandler {
	return &RegisterUserHandler{
		stateRepo: stateRepo,
		verifier:  verifier,
	}
}

// Handle executes the registration.
func (h *RegisterUserHandler) Handle(ctx context.Context, cmd RegisterUserCommand) (*RegisterUserResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("register_user: validation failed: %w", err)
	}

	handle := shared.Handle(cmd.Handle).Normalize()

	// Reject handles Codeforces does not know before persisting anything.
	if h.verifier != nil {
		if err := h.verifier.VerifyHandle(ctx, handle); err != nil {
			return nil, fmt.Errorf("register_user: handle check failed: %w", err)
		}
	}

	now := time.Now().UTC()
	state, err := goal.NewUserGoalState(goal.NewUserGoalStateParams{
		UserID:   shared.UserID(cmd.UserID),
		Handle:   handle,
		Timezone: cmd.Timezone,
		Now:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("register_user: %w", err)
	}

	if err := h.stateRepo.Create(ctx, state); err != nil {
		return nil, fmt.Errorf("register_user: failed to save state: %w", err)
	}

	return &RegisterUserResult{
		State:        state,
		RegisteredAt: now,
	}, nil
}
