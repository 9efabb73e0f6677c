// Package ranking содержит глобальный рейтинг пользователей.
// Рейтинг - чисто производная величина: он всегда пересчитывается из
// состояния целей и итогов соревнований и никогда не хранится как
// источник истины.
package ranking

import (
	"errors"
	"fmt"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank представляет позицию пользователя в глобальном рейтинге.
// Rank начинается с 1 (первое место).
type Rank int

// IsValid проверяет, что ранг положительный.
func (r Rank) IsValid() bool {
	return r > 0
}

// IsTop10 возвращает true, если пользователь в топ-10.
func (r Rank) IsTop10() bool {
	return r >= 1 && r <= 10
}

// String возвращает строковое представление ранга.
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// Entry - одна строка глобального рейтинга.
type Entry struct {
	Rank   Rank
	UserID shared.UserID
	Handle shared.Handle
	Score  int
}

// Snapshot - входные данные для расчёта: срез состояния целей и итогов
// соревнований одного пользователя.
type Snapshot struct {
	UserID       shared.UserID
	Handle       shared.Handle
	SolvedTotal  int
	Streak       int
	Penalties    int
	ContestScore int // сумма очков в завершённых соревнованиях
}

// ══════════════════════════════════════════════════════════════════════════════
// WEIGHTS
// ══════════════════════════════════════════════════════════════════════════════

// ErrNonMonotonicWeights - таблица бонусов должна быть монотонной.
var ErrNonMonotonicWeights = errors.New("ranking: streak bonus table must be monotonic")

// StreakTier - ступень бонуса за серию: начиная с Threshold дней серии
// начисляется Bonus очков.
type StreakTier struct {
	Threshold int
	Bonus     int
}

// Weights - настраиваемые веса рейтинга. Все составляющие монотонны:
// больше решено - выше счёт, длиннее серия - выше, больше штрафов - ниже.
type Weights struct {
	// SolvedWeight - очки за каждую решённую задачу.
	SolvedWeight int

	// StreakTiers - ступени бонуса за текущую серию, по возрастанию
	// Threshold и Bonus.
	StreakTiers []StreakTier

	// PenaltyWeight - очки, снимаемые за каждый штраф.
	PenaltyWeight int

	// ContestWeight - очки за каждое очко в завершённых соревнованиях.
	ContestWeight int
}

// DefaultWeights возвращает веса по умолчанию.
func DefaultWeights() Weights {
	return Weights{
		SolvedWeight: 10,
		StreakTiers: []StreakTier{
			{Threshold: 3, Bonus: 10},
			{Threshold: 7, Bonus: 30},
			{Threshold: 14, Bonus: 70},
			{Threshold: 30, Bonus: 150},
			{Threshold: 100, Bonus: 500},
		},
		PenaltyWeight: 5,
		ContestWeight: 20,
	}
}

// Validate проверяет монотонность таблицы бонусов.
func (w Weights) Validate() error {
	prev := StreakTier{}
	for _, tier := range w.StreakTiers {
		if tier.Threshold <= prev.Threshold || tier.Bonus < prev.Bonus {
			return fmt.Errorf("%w: tier %+v after %+v", ErrNonMonotonicWeights, tier, prev)
		}
		prev = tier
	}
	return nil
}

// StreakBonus возвращает бонус для данной длины серии: берётся самая
// высокая достигнутая ступень.
func (w Weights) StreakBonus(streak int) int {
	bonus := 0
	for _, tier := range w.StreakTiers {
		if streak < tier.Threshold {
			break
		}
		bonus = tier.Bonus
	}
	return bonus
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE
// ══════════════════════════════════════════════════════════════════════════════

// ComputeGlobalScore считает глобальный счёт пользователя. Счёт не
// опускается ниже нуля: штрафы не могут увести пользователя в минус.
func ComputeGlobalScore(s Snapshot, w Weights) int {
	score := s.SolvedTotal*w.SolvedWeight +
		w.StreakBonus(s.Streak) -
		s.Penalties*w.PenaltyWeight +
		s.ContestScore*w.ContestWeight

	if score < 0 {
		return 0
	}
	return score
}
