package goal

import (
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REWARDS
// ══════════════════════════════════════════════════════════════════════════════

// RewardType определяет вид награды за серию.
type RewardType string

const (
	// RewardWeekly - награда за кратную 7 серию.
	RewardWeekly RewardType = "weekly"
	// RewardMonthly - награда за кратную 30 серию.
	RewardMonthly RewardType = "monthly"
)

// StreakReward - награда за достижение рубежа серии. Создаётся один раз
// на (user, streakLength); claimed переходит false -> true ровно один раз.
type StreakReward struct {
	// UserID - владелец награды.
	UserID shared.UserID

	// StreakLength - длина серии, за которую выдана награда.
	StreakLength int

	// RewardType - вид награды.
	RewardType RewardType

	// RewardValue - величина награды.
	RewardValue int

	// Claimed - получена ли награда.
	Claimed bool

	// ClaimedAt - момент получения (zero = не получена).
	ClaimedAt time.Time

	// CreatedAt - момент создания.
	CreatedAt time.Time
}

// Claim отмечает награду полученной. Возвращает ErrAlreadyClaimed при
// повторной попытке. Гарантия exactly-once при конкурентных вызовах
// обеспечивается условной записью в хранилище.
func (r *StreakReward) Claim(now time.Time) error {
	if r.Claimed {
		return ErrAlreadyClaimed
	}

	r.Claimed = true
	r.ClaimedAt = now
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MILESTONE POLICY
// ══════════════════════════════════════════════════════════════════════════════

// MilestoneReward возвращает награду для данной длины серии, если серия
// попала на рубеж. Каждая кратная 7 серия даёт weekly-награду, каждая
// кратная 30 (но не 7) - monthly. Порядок проверки соответствует
// историческому поведению: 210 дней считается weekly-рубежом.
func MilestoneReward(userID shared.UserID, streakLength int, now time.Time) (*StreakReward, bool) {
	if streakLength <= 0 {
		return nil, false
	}

	switch {
	case streakLength%7 == 0:
		return &StreakReward{
			UserID:       userID,
			StreakLength: streakLength,
			RewardType:   RewardWeekly,
			RewardValue:  streakLength / 7,
			CreatedAt:    now,
		}, true
	case streakLength%30 == 0:
		return &StreakReward{
			UserID:       userID,
			StreakLength: streakLength,
			RewardType:   RewardMonthly,
			RewardValue:  streakLength / 30,
			CreatedAt:    now,
		}, true
	default:
		return nil, false
	}
}
