package query

import (
	"context"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST CONTESTS QUERY
// Незавершённые соревнования, новые первыми. Ленивое истечение применяется
// к каждому элементу: просроченные активные соревнования фиксируются как
// завершённые и выпадают из списка.
// ══════════════════════════════════════════════════════════════════════════════

// ListContestsQuery содержит параметры запроса.
type ListContestsQuery struct {
	// UserID - если задан, для каждого соревнования помечается,
	// участвует ли в нём пользователь.
	UserID int64
}

// OpenContestDTO - элемент списка.
type OpenContestDTO struct {
	// Contest - снимок соревнования.
	Contest ContestDTO `json:"contest"`

	// Joined - участвует ли запрашивающий пользователь.
	Joined bool `json:"joined,omitempty"`
}

// ListContestsResult содержит результат запроса.
type ListContestsResult struct {
	// Contests - незавершённые соревнования, новые первыми.
	Contests []OpenContestDTO `json:"contests"`

	// GeneratedAt - время генерации.
	GeneratedAt time.Time `json:"generated_at"`
}

// ListContestsHandler обрабатывает запросы списка соревнований.
type ListContestsHandler struct {
	contestRepo    contest.Repository
	eventPublisher shared.EventPublisher
}

// NewListContestsHandler создаёт новый обработчик.
func NewListContestsHandler(contestRepo contest.Repository, eventPublisher shared.EventPublisher) *ListContestsHandler {
	return &ListContestsHandler{
		contestRepo:    contestRepo,
		eventPublisher: eventPublisher,
	}
}

// Handle выполняет запрос.
func (h *ListContestsHandler) Handle(ctx context.Context, query ListContestsQuery) (*ListContestsResult, error) {
	contests, err := h.contestRepo.ListOpen(ctx)
	if err != nil {
		return nil, shared.WrapError("query", "ListContests", shared.ErrStorage, "failed to list contests", err)
	}

	now := time.Now().UTC()
	result := &ListContestsResult{
		Contests:    make([]OpenContestDTO, 0, len(contests)),
		GeneratedAt: now,
	}

	for _, c := range contests {
		if c.ExpireIfDue(now) {
			if err := h.contestRepo.Update(ctx, c); err != nil {
				return nil, shared.WrapError("query", "ListContests", shared.ErrStorage, "expiry save failed", err)
			}
			if h.eventPublisher != nil {
				event := shared.NewContestLifecycleEvent(shared.EventContestEnded, c.ID, c.Name, string(c.Status))
				_ = h.eventPublisher.Publish(event)
			}
			continue
		}

		dto := OpenContestDTO{Contest: contestDTO(c, now)}
		if query.UserID > 0 {
			_, dto.Joined = c.Participant(shared.UserID(query.UserID))
		}
		result.Contests = append(result.Contests, dto)
	}

	return result, nil
}
