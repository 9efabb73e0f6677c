// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET GOAL PROGRESS QUERY
// Снимок прогресса пользователя: счётчики периодов против целей, серия,
// штрафы, цели по категориям. Перед чтением применяется ленивый rollover:
// если с последней проверки прошла граница дня/недели/месяца, итог
// фиксируется прямо здесь, чтобы снимок никогда не показывал счётчики
// уже закрытого периода.
// ══════════════════════════════════════════════════════════════════════════════

// GetGoalProgressQuery содержит параметры запроса прогресса.
type GetGoalProgressQuery struct {
	// UserID - идентификатор пользователя.
	UserID int64

	// IncludeCategories - включить прогресс по категориям.
	IncludeCategories bool

	// DayStart - смещение границы локального дня от полуночи
	// (0 = значение по умолчанию).
	DayStart time.Duration
}

// Validate проверяет корректность параметров.
func (q *GetGoalProgressQuery) Validate() error {
	if q.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	if q.DayStart == 0 {
		q.DayStart = timeutil.DefaultDayStart
	}
	return nil
}

// PeriodProgressDTO - прогресс одного периода против цели.
type PeriodProgressDTO struct {
	// Solved - решено за период.
	Solved int `json:"solved"`

	// Target - цель периода (0 = не задана).
	Target int `json:"target"`

	// Met - достигнута ли цель.
	Met bool `json:"met"`
}

// CategoryProgressDTO - прогресс по одной категории.
type CategoryProgressDTO struct {
	// Category - ключ категории в виде "type:value".
	Category string `json:"category"`

	// Solved - решено по категории.
	Solved int `json:"solved"`

	// Target - цель по категории.
	Target int `json:"target"`

	// Met - достигнута ли цель.
	Met bool `json:"met"`
}

// GetGoalProgressResult содержит результат запроса.
type GetGoalProgressResult struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Пользователь
	// ─────────────────────────────────────────────────────────────────────────

	// UserID - идентификатор пользователя.
	UserID int64 `json:"user_id"`

	// Handle - хендл Codeforces.
	Handle string `json:"handle"`

	// Timezone - часовой пояс пользователя.
	Timezone string `json:"timezone"`

	// ─────────────────────────────────────────────────────────────────────────
	// Периоды
	// ─────────────────────────────────────────────────────────────────────────

	// Daily - прогресс текущего дня.
	Daily PeriodProgressDTO `json:"daily"`

	// Weekly - прогресс текущей недели.
	Weekly PeriodProgressDTO `json:"weekly"`

	// Monthly - прогресс текущего месяца.
	Monthly PeriodProgressDTO `json:"monthly"`

	// SolvedTotal - всего решено за всё время.
	SolvedTotal int `json:"solved_total"`

	// ─────────────────────────────────────────────────────────────────────────
	// Серия и штрафы
	// ─────────────────────────────────────────────────────────────────────────

	// Streak - текущая серия дней.
	Streak int `json:"streak"`

	// BestStreak - лучшая серия за всё время.
	BestStreak int `json:"best_streak"`

	// Penalties - накопленные штрафы.
	Penalties int `json:"penalties"`

	// ─────────────────────────────────────────────────────────────────────────
	// Категории
	// ─────────────────────────────────────────────────────────────────────────

	// Categories - прогресс по категориям (если запрошен).
	Categories []CategoryProgressDTO `json:"categories,omitempty"`

	// ─────────────────────────────────────────────────────────────────────────
	// Метаданные
	// ─────────────────────────────────────────────────────────────────────────

	// RolledOver - применился ли rollover при этом чтении.
	RolledOver bool `json:"rolled_over"`

	// GeneratedAt - время генерации снимка.
	GeneratedAt time.Time `json:"generated_at"`
}

// RolloverStore - StateRepository плюс атомарное применение rollover.
// Реализуется postgres-репозиторием состояний.
type RolloverStore interface {
	goal.StateRepository

	// ApplyRollover атомарно сохраняет состояние вместе с историей
	// и наградой.
	ApplyRollover(ctx context.Context, state *goal.UserGoalState, result *goal.RolloverResult) error
}

// GetGoalProgressHandler обрабатывает запросы прогресса.
type GetGoalProgressHandler struct {
	store          RolloverStore
	categoryRepo   goal.CategoryRepository
	eventPublisher shared.EventPublisher
}

// NewGetGoalProgressHandler создаёт новый обработчик.
func NewGetGoalProgressHandler(
	store RolloverStore,
	categoryRepo goal.CategoryRepository,
	eventPublisher shared.EventPublisher,
) *GetGoalProgressHandler {
	return &GetGoalProgressHandler{
		store:          store,
		categoryRepo:   categoryRepo,
		eventPublisher: eventPublisher,
	}
}

// Handle выполняет запрос.
func (h *GetGoalProgressHandler) Handle(ctx context.Context, query GetGoalProgressQuery) (*GetGoalProgressResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetGoalProgress", shared.ErrValidation, err.Error(), err)
	}

	state, err := h.store.GetByUserID(ctx, shared.UserID(query.UserID))
	if err != nil {
		return nil, shared.WrapError("query", "GetGoalProgress", shared.ErrNotFound, "user goal state not found", err)
	}

	now := time.Now()

	rolled, err := freshenState(ctx, h.store, h.eventPublisher, state, now, query.DayStart)
	if err != nil {
		return nil, shared.WrapError("query", "GetGoalProgress", shared.ErrStorage, "rollover failed", err)
	}

	result := &GetGoalProgressResult{
		UserID:      state.UserID.Int64(),
		Handle:      state.Handle.String(),
		Timezone:    state.Timezone,
		Daily:       periodProgress(state.SolvedToday, state.DailyGoal),
		Weekly:      periodProgress(state.SolvedThisWeek, state.WeeklyGoal),
		Monthly:     periodProgress(state.SolvedThisMonth, state.MonthlyGoal),
		SolvedTotal: state.SolvedTotal,
		Streak:      state.Streak,
		BestStreak:  state.BestStreak,
		Penalties:   state.Penalties,
		RolledOver:  rolled,
		GeneratedAt: now.UTC(),
	}

	if query.IncludeCategories {
		categories, err := h.categoryRepo.GetByUser(ctx, state.UserID)
		if err != nil {
			return nil, shared.WrapError("query", "GetGoalProgress", shared.ErrStorage, "failed to load categories", err)
		}
		for _, cg := range categories {
			result.Categories = append(result.Categories, CategoryProgressDTO{
				Category: cg.Key.String(),
				Solved:   cg.CurrentCount,
				Target:   cg.GoalCount,
				Met:      cg.Met(),
			})
		}
	}

	return result, nil
}

func periodProgress(solved, target int) PeriodProgressDTO {
	return PeriodProgressDTO{
		Solved: solved,
		Target: target,
		Met:    target > 0 && solved >= target,
	}
}

// freshenState применяет ленивый rollover к состоянию. Возвращает true,
// если была пересечена граница периода. События публикуются только после
// фиксации в хранилище.
func freshenState(
	ctx context.Context,
	store RolloverStore,
	publisher shared.EventPublisher,
	state *goal.UserGoalState,
	now time.Time,
	dayStart time.Duration,
) (bool, error) {
	result, err := state.EvaluateRollover(now, dayStart)
	if err != nil {
		return false, err
	}

	if !result.Crossed {
		return false, nil
	}

	for i := range result.Records {
		result.Records[i].ID = uuid.NewString()
	}

	if err := store.ApplyRollover(ctx, state, result); err != nil {
		return false, err
	}

	if publisher != nil {
		for _, event := range result.Events {
			_ = publisher.Publish(event)
		}
	}

	return true, nil
}
