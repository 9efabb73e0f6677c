package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE CONTEST COMMAND
// Creates a contest in the Created status. Joining is open until the creator
// starts it; scoring begins at the start and stops at the end of the window.
// ══════════════════════════════════════════════════════════════════════════════

// CreateContestCommand contains the data to create a contest.
type CreateContestCommand struct {
	// Name is the display name of the contest.
	Name string

	// Duration is a human duration like "90m", "2h" or "1d".
	Duration string

	// CreatedBy is the user creating the contest. Only they may start
	// and end it.
	CreatedBy int64
}

// Validate validates the command.
func (c CreateContestCommand) Validate() error {
	if c.Name == "" {
		return errors.New("create_contest: name is required")
	}
	if c.Duration == "" {
		return errors.New("create_contest: duration is required")
	}
	if c.CreatedBy <= 0 {
		return errors.New("create_contest: created_by is required")
	}
	return nil
}

// CreateContestResult contains the created contest.
type CreateContestResult struct {
	// Contest is the freshly created aggregate.
	Contest *contest.Contest
}

// CreateContestHandler handles the CreateContestCommand.
type CreateContestHandler struct {
	contestRepo    contest.Repository
	eventPublisher shared.EventPublisher
}

// NewCreateContestHandler creates a new CreateContestHandler.
func NewCreateContestHandler(contestRepo contest.Repository, eventPublisher shared.EventPublisher) *CreateContestHandler {
	return &CreateContestHandler{
		contestRepo:    contestRepo,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the creation.
func (h *CreateContestHandler) Handle(ctx context.Context, cmd CreateContestCommand) (*CreateContestResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("create_contest: validation failed: %w", err)
	}

	c, err := contest.NewContest(contest.NewContestParams{
		ID:        uuid.NewString(),
		Name:      cmd.Name,
		Duration:  cmd.Duration,
		CreatedBy: shared.UserID(cmd.CreatedBy),
		Now:       time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create_contest: %w", err)
	}

	if err := h.contestRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create_contest: failed to save: %w", err)
	}

	if h.eventPublisher != nil {
		event := shared.NewContestLifecycleEvent(shared.EventContestCreated, c.ID, c.Name, string(c.Status)).
			WithUser(c.CreatedBy)
		_ = h.eventPublisher.Publish(event)
	}

	return &CreateContestResult{Contest: c}, nil
}
