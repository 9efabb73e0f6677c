package query

import (
	"context"
	"errors"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CONTEST STATUS QUERY
// Состояние одного соревнования вместе с таблицей результатов. Перед чтением
// применяется ленивое истечение: активное соревнование с прошедшим окном
// фиксируется как завершённое, поэтому снимок никогда не показывает "идёт"
// для уже закрытого окна.
// ══════════════════════════════════════════════════════════════════════════════

// GetContestStatusQuery содержит параметры запроса.
type GetContestStatusQuery struct {
	// ContestID - идентификатор соревнования.
	ContestID string
}

// Validate проверяет корректность параметров.
func (q *GetContestStatusQuery) Validate() error {
	if q.ContestID == "" {
		return errors.New("contest_id is required")
	}
	return nil
}

// StandingDTO - строка таблицы результатов.
type StandingDTO struct {
	// Rank - место, начиная с 1. При равенстве очков выше тот,
	// кто присоединился раньше.
	Rank int `json:"rank"`

	// UserID - участник.
	UserID int64 `json:"user_id"`

	// Handle - хендл Codeforces.
	Handle string `json:"handle"`

	// Score - набранные очки.
	Score int `json:"score"`
}

// ContestDTO - снимок соревнования.
type ContestDTO struct {
	// ID - идентификатор.
	ID string `json:"id"`

	// Name - имя.
	Name string `json:"name"`

	// Status - статус: "created", "active", "ended".
	Status string `json:"status"`

	// CreatedBy - создатель.
	CreatedBy int64 `json:"created_by"`

	// Duration - длительность.
	Duration time.Duration `json:"duration"`

	// StartTime - момент запуска (zero = не запущено).
	StartTime time.Time `json:"start_time,omitempty"`

	// EndTime - момент окончания окна.
	EndTime time.Time `json:"end_time,omitempty"`

	// Remaining - сколько осталось до конца окна (0 = не идёт).
	Remaining time.Duration `json:"remaining,omitempty"`

	// ParticipantCount - количество участников.
	ParticipantCount int `json:"participant_count"`
}

// GetContestStatusResult содержит результат запроса.
type GetContestStatusResult struct {
	// Contest - снимок соревнования.
	Contest ContestDTO `json:"contest"`

	// Standings - таблица результатов.
	Standings []StandingDTO `json:"standings"`

	// GeneratedAt - время генерации.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetContestStatusHandler обрабатывает запросы состояния соревнования.
type GetContestStatusHandler struct {
	contestRepo    contest.Repository
	eventPublisher shared.EventPublisher
}

// NewGetContestStatusHandler создаёт новый обработчик.
func NewGetContestStatusHandler(contestRepo contest.Repository, eventPublisher shared.EventPublisher) *GetContestStatusHandler {
	return &GetContestStatusHandler{
		contestRepo:    contestRepo,
		eventPublisher: eventPublisher,
	}
}

// Handle выполняет запрос.
func (h *GetContestStatusHandler) Handle(ctx context.Context, query GetContestStatusQuery) (*GetContestStatusResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetContestStatus", shared.ErrValidation, err.Error(), err)
	}

	c, err := h.contestRepo.GetByID(ctx, query.ContestID)
	if err != nil {
		return nil, shared.WrapError("query", "GetContestStatus", shared.ErrNotFound, "contest not found", err)
	}

	now := time.Now().UTC()

	if c.ExpireIfDue(now) {
		if err := h.contestRepo.Update(ctx, c); err != nil {
			return nil, shared.WrapError("query", "GetContestStatus", shared.ErrStorage, "expiry save failed", err)
		}
		if h.eventPublisher != nil {
			event := shared.NewContestLifecycleEvent(shared.EventContestEnded, c.ID, c.Name, string(c.Status))
			_ = h.eventPublisher.Publish(event)
		}
	}

	standings := c.Ranking(contest.ByScoreThenJoin)
	dtos := make([]StandingDTO, 0, len(standings))
	for _, s := range standings {
		dtos = append(dtos, StandingDTO{
			Rank:   s.Rank,
			UserID: s.UserID.Int64(),
			Handle: s.Handle.String(),
			Score:  s.Score,
		})
	}

	return &GetContestStatusResult{
		Contest:     contestDTO(c, now),
		Standings:   dtos,
		GeneratedAt: now,
	}, nil
}

func contestDTO(c *contest.Contest, now time.Time) ContestDTO {
	dto := ContestDTO{
		ID:               c.ID,
		Name:             c.Name,
		Status:           string(c.Status),
		CreatedBy:        c.CreatedBy.Int64(),
		Duration:         c.Duration,
		StartTime:        c.StartTime,
		EndTime:          c.EndTime,
		ParticipantCount: len(c.Participants),
	}
	if c.Status == contest.StatusActive && now.Before(c.EndTime) {
		dto.Remaining = c.EndTime.Sub(now)
	}
	return dto
}
