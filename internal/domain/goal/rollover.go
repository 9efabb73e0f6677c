package goal

import (
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROLLOVER
// Переход через границу периода: итог дня фиксируется в истории, счётчики
// сбрасываются, серия/штрафы обновляются. Недельные и месячные границы
// сбрасывают только свои счётчики и пишут историю - серия и штрафы строго
// дневное понятие.
// ══════════════════════════════════════════════════════════════════════════════

// RolloverResult содержит всё, что должно быть атомарно применено
// хранилищем после rollover: изменённое состояние, записи истории,
// новая награда и доменные события.
type RolloverResult struct {
	// Crossed - пересечена ли хоть одна граница периода.
	Crossed bool

	// Records - записи истории по одной на пересечённый период.
	// ID присваивает application-слой перед записью.
	Records []HistoryRecord

	// NewReward - награда за рубеж серии, если он достигнут этим rollover.
	NewReward *StreakReward

	// Events - доменные события для шины.
	Events []shared.Event
}

// EvaluateRollover оценивает границы периодов между LastCheck и now и
// применяет итоги к состоянию. Идемпотентность: повторный вызов до
// следующей границы ничего не меняет (LastCheck уже сдвинут на now).
// Вызывается перед обработкой любого события и периодическим sweep'ом.
func (s *UserGoalState) EvaluateRollover(now time.Time, dayStart time.Duration) (*RolloverResult, error) {
	loc, err := s.Location()
	if err != nil {
		return nil, err
	}

	result := &RolloverResult{}

	dayCrossed, err := timeutil.PeriodBoundaryCrossed(s.LastCheck, now, loc, dayStart, timeutil.PeriodDay)
	if err != nil {
		return nil, err
	}
	weekCrossed, err := timeutil.PeriodBoundaryCrossed(s.LastCheck, now, loc, dayStart, timeutil.PeriodWeek)
	if err != nil {
		return nil, err
	}
	monthCrossed, err := timeutil.PeriodBoundaryCrossed(s.LastCheck, now, loc, dayStart, timeutil.PeriodMonth)
	if err != nil {
		return nil, err
	}

	if !dayCrossed && !weekCrossed && !monthCrossed {
		return result, nil
	}

	result.Crossed = true

	// Дата завершившегося периода - локальная дата последней проверки.
	closedDate := timeutil.LocalDate(s.LastCheck, loc, dayStart)

	if dayCrossed {
		s.applyDailyOutcome(closedDate, now, result)
	}

	if weekCrossed {
		result.Records = append(result.Records, HistoryRecord{
			UserID:       s.UserID,
			Date:         closedDate,
			GoalType:     GoalWeekly,
			Target:       s.WeeklyGoal,
			Achieved:     s.SolvedThisWeek,
			StreakAtTime: s.Streak,
			CreatedAt:    now,
		})
		s.SolvedThisWeek = 0
	}

	if monthCrossed {
		result.Records = append(result.Records, HistoryRecord{
			UserID:       s.UserID,
			Date:         closedDate,
			GoalType:     GoalMonthly,
			Target:       s.MonthlyGoal,
			Achieved:     s.SolvedThisMonth,
			StreakAtTime: s.Streak,
			CreatedAt:    now,
		})
		s.SolvedThisMonth = 0
	}

	s.LastCheck = now
	s.UpdatedAt = now

	return result, nil
}

// applyDailyOutcome применяет итог дневной цели: серия, штрафы, история,
// рубежи наград. Без заданной цели день нейтрален для серии - счётчик
// всё равно сбрасывается, запись истории пишется с target = 0.
func (s *UserGoalState) applyDailyOutcome(closedDate, now time.Time, result *RolloverResult) {
	met := s.DailyGoalMet()

	if s.DailyGoal > 0 {
		if met {
			s.Streak++
			if s.Streak > s.BestStreak {
				s.BestStreak = s.Streak
			}
			result.Events = append(result.Events,
				shared.NewStreakExtendedEvent(s.UserID, s.Streak, s.BestStreak))

			if reward, ok := MilestoneReward(s.UserID, s.Streak, now); ok {
				result.NewReward = reward
				result.Events = append(result.Events, shared.NewStreakMilestoneEvent(
					s.UserID, reward.StreakLength, string(reward.RewardType), reward.RewardValue))
			}
		} else {
			previous := s.Streak
			s.Streak = 0
			s.Penalties++
			s.LastPenalty = now
			result.Events = append(result.Events,
				shared.NewStreakBrokenEvent(s.UserID, previous, s.BestStreak, s.Penalties))
		}

		result.Events = append(result.Events, shared.NewGoalOutcomeEvent(
			s.UserID, met, closedDate, s.DailyGoal, s.SolvedToday, s.Streak))
	}

	result.Records = append(result.Records, HistoryRecord{
		UserID:       s.UserID,
		Date:         closedDate,
		GoalType:     GoalDaily,
		Target:       s.DailyGoal,
		Achieved:     s.SolvedToday,
		StreakAtTime: s.Streak,
		CreatedAt:    now,
	})

	s.SolvedToday = 0
}
