package query

import (
	"context"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET REWARDS QUERY
// Награды пользователя за рубежи серии. По умолчанию возвращаются все,
// UnclaimedOnly ограничивает выдачу ещё не полученными.
// ══════════════════════════════════════════════════════════════════════════════

// GetRewardsQuery содержит параметры запроса наград.
type GetRewardsQuery struct {
	// UserID - идентификатор пользователя.
	UserID int64

	// UnclaimedOnly - только ещё не полученные награды.
	UnclaimedOnly bool
}

// Validate проверяет корректность параметров.
func (q *GetRewardsQuery) Validate() error {
	if q.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	return nil
}

// RewardDTO - одна награда.
type RewardDTO struct {
	// StreakLength - длина серии, за которую выдана награда.
	StreakLength int `json:"streak_length"`

	// RewardType - вид награды: "weekly" или "monthly".
	RewardType string `json:"reward_type"`

	// RewardValue - величина награды.
	RewardValue int `json:"reward_value"`

	// Claimed - получена ли награда.
	Claimed bool `json:"claimed"`

	// ClaimedAt - момент получения (nil = не получена).
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// CreatedAt - момент создания.
	CreatedAt time.Time `json:"created_at"`
}

// GetRewardsResult содержит результат запроса.
type GetRewardsResult struct {
	// UserID - идентификатор пользователя.
	UserID int64 `json:"user_id"`

	// Rewards - награды, новые первыми.
	Rewards []RewardDTO `json:"rewards"`

	// UnclaimedCount - сколько из них ещё не получено.
	UnclaimedCount int `json:"unclaimed_count"`

	// GeneratedAt - время генерации.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetRewardsHandler обрабатывает запросы наград.
type GetRewardsHandler struct {
	rewardRepo goal.RewardRepository
}

// NewGetRewardsHandler создаёт новый обработчик.
func NewGetRewardsHandler(rewardRepo goal.RewardRepository) *GetRewardsHandler {
	return &GetRewardsHandler{rewardRepo: rewardRepo}
}

// Handle выполняет запрос.
func (h *GetRewardsHandler) Handle(ctx context.Context, query GetRewardsQuery) (*GetRewardsResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetRewards", shared.ErrValidation, err.Error(), err)
	}

	rewards, err := h.rewardRepo.GetByUser(ctx, shared.UserID(query.UserID), query.UnclaimedOnly)
	if err != nil {
		return nil, shared.WrapError("query", "GetRewards", shared.ErrStorage, "failed to load rewards", err)
	}

	result := &GetRewardsResult{
		UserID:      query.UserID,
		Rewards:     make([]RewardDTO, 0, len(rewards)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, r := range rewards {
		dto := RewardDTO{
			StreakLength: r.StreakLength,
			RewardType:   string(r.RewardType),
			RewardValue:  r.RewardValue,
			Claimed:      r.Claimed,
			CreatedAt:    r.CreatedAt,
		}
		if r.Claimed {
			claimedAt := r.ClaimedAt
			dto.ClaimedAt = &claimedAt
		}
		result.Rewards = append(result.Rewards, dto)
		if !r.Claimed {
			result.UnclaimedCount++
		}
	}

	return result, nil
}
