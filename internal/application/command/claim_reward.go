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
// CLAIM REWARD COMMAND
// Marks a streak reward as claimed. The claim is exactly-once: the repository
// performs a conditional update, so concurrent claims of the same reward
// resolve to one winner and ErrAlreadyClaimed for the rest.
// ══════════════════════════════════════════════════════════════════════════════

// ClaimRewardCommand contains the data to claim a streak reward.
type ClaimRewardCommand struct {
	// UserID is the owner of the reward.
	UserID int64

	// StreakLength identifies the reward together with UserID.
	StreakLength int
}

// Validate validates the command.
func (c ClaimRewardCommand) Validate() error {
	if c.UserID <= 0 {
		return errors.New("claim_reward: user_id is required")
	}
	if c.StreakLength <= 0 {
		return errors.New("claim_reward: streak_length must be positive")
	}
	return nil
}

// ClaimRewardResult contains the claimed reward.
type ClaimRewardResult struct {
	// Reward is the reward after the claim.
	Reward *goal.StreakReward

	// ClaimedAt is when the claim happened.
	ClaimedAt time.Time
}

// ClaimRewardHandler handles the ClaimRewardCommand.
type ClaimRewardHandler struct {
	rewardRepo     goal.RewardRepository
	eventPublisher shared.EventPublisher
}

// NewClaimRewardHandler creates a new ClaimRewardHandler.
func NewClaimRewardHandler(rewardRepo goal.RewardRepository, eventPublisher shared.EventPublisher) *ClaimRewardHandler {
	return &ClaimRewardHandler{
		rewardRepo:     rewardRepo,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the claim.
func (h *ClaimRewardHandler) Handle(ctx context.Context, cmd ClaimRewardCommand) (*ClaimRewardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("claim_reward: validation failed: %w", err)
	}

	now := time.Now().UTC()

	reward, err := h.rewardRepo.MarkClaimed(ctx, shared.UserID(cmd.UserID), cmd.StreakLength, now)
	if err != nil {
		return nil, fmt.Errorf("claim_reward: %w", err)
	}

	if h.eventPublisher != nil {
		// The claim is durable; a lost event only delays downstream views.
		event := shared.NewRewardClaimedEvent(reward.UserID, reward.StreakLength, string(reward.RewardType), reward.RewardValue)
		_ = h.eventPublisher.Publish(event)
	}

	return &ClaimRewardResult{
		Reward:    reward,
		ClaimedAt: now,
	}, nil
}
