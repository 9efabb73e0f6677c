package goal

import (
	"context"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// StateRepository определяет операции над состоянием целей пользователя.
type StateRepository interface {
	// Create создаёт новое состояние.
	// Возвращает ErrStateAlreadyExists, если состояние уже существует.
	Create(ctx context.Context, state *UserGoalState) error

	// GetByUserID возвращает состояние по ID пользователя.
	// Возвращает ErrStateNotFound, если состояние не найдено.
	GetByUserID(ctx context.Context, userID shared.UserID) (*UserGoalState, error)

	// GetByHandle возвращает состояние по хендлу Codeforces.
	// Возвращает ErrStateNotFound, если состояние не найдено.
	GetByHandle(ctx context.Context, handle shared.Handle) (*UserGoalState, error)

	// Update обновляет состояние.
	// Возвращает ErrStateNotFound, если состояние не найдено.
	Update(ctx context.Context, state *UserGoalState) error

	// Delete удаляет состояние вместе с целями по категориям.
	Delete(ctx context.Context, userID shared.UserID) error

	// GetAll возвращает все состояния с пагинацией.
	GetAll(ctx context.Context, opts ListOptions) ([]*UserGoalState, error)

	// FindStale находит состояния, у которых LastCheck старше порога.
	// Используется периодическим rollover-sweep'ом.
	FindStale(ctx context.Context, olderThan time.Time) ([]*UserGoalState, error)

	// FindWithReminder находит состояния с настроенным временем напоминания.
	FindWithReminder(ctx context.Context) ([]*UserGoalState, error)

	// Count возвращает количество зарегистрированных пользователей.
	Count(ctx context.Context) (int, error)
}

// CategoryRepository определяет операции над целями по категориям.
type CategoryRepository interface {
	// Upsert создаёт цель по категории или заменяет её целевое значение.
	// Замена сбрасывает накопленный прогресс.
	Upsert(ctx context.Context, goal *CategoryGoal) error

	// GetByUser возвращает все цели по категориям пользователя.
	GetByUser(ctx context.Context, userID shared.UserID) ([]*CategoryGoal, error)

	// UpdateProgress сохраняет накопленный прогресс.
	UpdateProgress(ctx context.Context, goal *CategoryGoal) error

	// Delete удаляет цель по категории.
	Delete(ctx context.Context, userID shared.UserID, key CategoryKey) error
}

// HistoryRepository определяет операции над историей целей.
// История append-only: записи никогда не изменяются и не удаляются.
type HistoryRepository interface {
	// Append добавляет записи истории.
	Append(ctx context.Context, records []HistoryRecord) error

	// GetByUser возвращает историю пользователя, новые записи первыми.
	GetByUser(ctx context.Context, userID shared.UserID, opts ListOptions) ([]HistoryRecord, error)

	// GetByUserAndType возвращает историю пользователя по типу цели.
	GetByUserAndType(ctx context.Context, userID shared.UserID, goalType GoalType, opts ListOptions) ([]HistoryRecord, error)
}

// RewardRepository определяет операции над наградами за серии.
type RewardRepository interface {
	// Create создаёт награду. Повторная вставка награды за тот же рубеж
	// для того же пользователя игнорируется.
	Create(ctx context.Context, reward *StreakReward) error

	// GetByUser возвращает награды пользователя.
	GetByUser(ctx context.Context, userID shared.UserID, unclaimedOnly bool) ([]*StreakReward, error)

	// MarkClaimed помечает награду полученной. Обновление условное:
	// возвращает ErrAlreadyClaimed, если награда уже была получена.
	MarkClaimed(ctx context.Context, userID shared.UserID, streakLength int, claimedAt time.Time) (*StreakReward, error)
}

// ListOptions содержит параметры для пагинации и сортировки.
type ListOptions struct {
	// Offset - смещение (для пагинации).
	Offset int

	// Limit - максимальное количество записей.
	Limit int

	// SortBy - поле для сортировки.
	SortBy string

	// SortDesc - сортировка по убыванию.
	SortDesc bool
}

// DefaultListOptions возвращает параметры по умолчанию.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Offset:   0,
		Limit:    50,
		SortBy:   "streak",
		SortDesc: true,
	}
}

// WithOffset устанавливает смещение.
func (o ListOptions) WithOffset(offset int) ListOptions {
	o.Offset = offset
	return o
}

// WithLimit устанавливает лимит.
func (o ListOptions) WithLimit(limit int) ListOptions {
	o.Limit = limit
	return o
}
