package query

import (
	"context"
	"errors"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET HISTORY QUERY
// История закрытых периодов пользователя: что было целью, что достигнуто,
// какая была серия. Записи append-only, новые первыми.
// ══════════════════════════════════════════════════════════════════════════════

// GetHistoryQuery содержит параметры запроса истории.
type GetHistoryQuery struct {
	// UserID - идентификатор пользователя.
	UserID int64

	// GoalType - фильтр по типу цели (пустой = все типы).
	GoalType string

	// Limit - максимум записей (по умолчанию 30, максимум 100).
	Limit int

	// Offset - смещение для пагинации.
	Offset int
}

// Validate проверяет корректность параметров.
func (q *GetHistoryQuery) Validate() error {
	if q.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	if q.GoalType != "" && !goal.GoalType(q.GoalType).IsValid() {
		return errors.New("unknown goal type")
	}
	if q.Limit <= 0 {
		q.Limit = 30
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return nil
}

// HistoryRecordDTO - одна запись истории.
type HistoryRecordDTO struct {
	// Date - дата закрытого периода (день начала периода).
	Date time.Time `json:"date"`

	// GoalType - тип цели.
	GoalType string `json:"goal_type"`

	// Target - цель периода.
	Target int `json:"target"`

	// Achieved - достигнуто за период.
	Achieved int `json:"achieved"`

	// Met - достигнута ли цель.
	Met bool `json:"met"`

	// StreakAtTime - серия на момент закрытия.
	StreakAtTime int `json:"streak_at_time"`
}

// GetHistoryResult содержит результат запроса.
type GetHistoryResult struct {
	// UserID - идентификатор пользователя.
	UserID int64 `json:"user_id"`

	// Records - записи истории, новые первыми.
	Records []HistoryRecordDTO `json:"records"`

	// GeneratedAt - время генерации.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetHistoryHandler обрабатывает запросы истории.
type GetHistoryHandler struct {
	historyRepo goal.HistoryRepository
}

// NewGetHistoryHandler создаёт новый обработчик.
func NewGetHistoryHandler(historyRepo goal.HistoryRepository) *GetHistoryHandler {
	return &GetHistoryHandler{historyRepo: historyRepo}
}

// Handle выполняет запрос.
func (h *GetHistoryHandler) Handle(ctx context.Context, query GetHistoryQuery) (*GetHistoryResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetHistory", shared.ErrValidation, err.Error(), err)
	}

	userID := shared.UserID(query.UserID)
	opts := goal.ListOptions{Limit: query.Limit, Offset: query.Offset}

	var (
		records []goal.HistoryRecord
		err     error
	)
	if query.GoalType != "" {
		records, err = h.historyRepo.GetByUserAndType(ctx, userID, goal.GoalType(query.GoalType), opts)
	} else {
		records, err = h.historyRepo.GetByUser(ctx, userID, opts)
	}
	if err != nil {
		return nil, shared.WrapError("query", "GetHistory", shared.ErrStorage, "failed to load history", err)
	}

	result := &GetHistoryResult{
		UserID:      query.UserID,
		Records:     make([]HistoryRecordDTO, 0, len(records)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, rec := range records {
		result.Records = append(result.Records, HistoryRecordDTO{
			Date:         rec.Date,
			GoalType:     string(rec.GoalType),
			Target:       rec.Target,
			Achieved:     rec.Achieved,
			Met:          rec.Target > 0 && rec.Achieved >= rec.Target,
			StreakAtTime: rec.StreakAtTime,
		})
	}

	return result, nil
}
