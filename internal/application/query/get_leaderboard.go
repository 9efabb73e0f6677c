package query

import (
	"context"
	"errors"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/ranking"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Глобальный рейтинг: топ-N по сводному счёту плюс позиция запрашивающего.
// Читается из Redis-кеша; отсутствующий кеш перестраивается на месте из
// основного хранилища, так что запрос всегда отвечает.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса рейтинга.
type GetLeaderboardQuery struct {
	// Limit - размер топа (по умолчанию 10, максимум 100).
	Limit int

	// UserID - если задан, в результат включается позиция пользователя,
	// даже если он не попал в топ.
	UserID int64
}

// Validate проверяет корректность параметров.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}

// LeaderboardEntryDTO - строка рейтинга.
type LeaderboardEntryDTO struct {
	// Rank - место, начиная с 1.
	Rank int `json:"rank"`

	// UserID - пользователь.
	UserID int64 `json:"user_id"`

	// Handle - хендл Codeforces.
	Handle string `json:"handle"`

	// Score - сводный счёт.
	Score int `json:"score"`
}

// GetLeaderboardResult содержит результат запроса.
type GetLeaderboardResult struct {
	// Top - топ-N рейтинга.
	Top []LeaderboardEntryDTO `json:"top"`

	// Me - позиция запрашивающего (nil = не запрошена или не в рейтинге).
	Me *LeaderboardEntryDTO `json:"me,omitempty"`

	// Rebuilt - был ли кеш перестроен этим запросом.
	Rebuilt bool `json:"rebuilt"`

	// GeneratedAt - время генерации.
	GeneratedAt time.Time `json:"generated_at"`
}

// RankingCache - операции чтения и перестройки кеша рейтинга.
// Реализуется redis.ScoreCache.
type RankingCache interface {
	// GetTop возвращает топ-N записей, лучший счёт первым.
	GetTop(ctx context.Context, limit int) ([]ranking.Entry, error)

	// GetEntry возвращает запись пользователя вместе с его местом.
	// Ошибка сопоставима с shared.ErrNotFound, если пользователь
	// не в рейтинге.
	GetEntry(ctx context.Context, userID shared.UserID) (*ranking.Entry, error)

	// Exists сообщает, есть ли кеш.
	Exists(ctx context.Context) (bool, error)

	// Rebuild атомарно заменяет кеш новыми записями.
	Rebuild(ctx context.Context, entries []ranking.Entry) error
}

// RankingComputer строит полный рейтинг из основного хранилища.
// Реализуется джобой перестройки рейтинга.
type RankingComputer interface {
	Compute(ctx context.Context) ([]ranking.Entry, error)
}

// GetLeaderboardHandler обрабатывает запросы рейтинга.
type GetLeaderboardHandler struct {
	cache    RankingCache
	computer RankingComputer
}

// NewGetLeaderboardHandler создаёт новый обработчик.
func NewGetLeaderboardHandler(cache RankingCache, computer RankingComputer) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{
		cache:    cache,
		computer: computer,
	}
}

// Handle выполняет запрос.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}

	result := &GetLeaderboardResult{GeneratedAt: time.Now().UTC()}

	exists, err := h.cache.Exists(ctx)
	if err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrStorage, "cache check failed", err)
	}
	if !exists {
		if err := h.rebuild(ctx); err != nil {
			return nil, err
		}
		result.Rebuilt = true
	}

	top, err := h.cache.GetTop(ctx, query.Limit)
	if err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrStorage, "failed to read top", err)
	}

	result.Top = make([]LeaderboardEntryDTO, 0, len(top))
	for _, e := range top {
		result.Top = append(result.Top, leaderboardEntryDTO(e))
	}

	if query.UserID > 0 {
		entry, err := h.cache.GetEntry(ctx, shared.UserID(query.UserID))
		switch {
		case err == nil:
			dto := leaderboardEntryDTO(*entry)
			result.Me = &dto
		case errors.Is(err, shared.ErrNotFound):
			// Пользователь без сводного счёта в рейтинг не попадает.
		default:
			return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrStorage, "failed to read rank", err)
		}
	}

	return result, nil
}

// rebuild перестраивает кеш из основного хранилища.
func (h *GetLeaderboardHandler) rebuild(ctx context.Context) error {
	entries, err := h.computer.Compute(ctx)
	if err != nil {
		return shared.WrapError("query", "GetLeaderboard", shared.ErrStorage, "ranking compute failed", err)
	}
	if err := h.cache.Rebuild(ctx, entries); err != nil {
		return shared.WrapError("query", "GetLeaderboard", shared.ErrStorage, "cache rebuild failed", err)
	}
	return nil
}

func leaderboardEntryDTO(e ranking.Entry) LeaderboardEntryDTO {
	return LeaderboardEntryDTO{
		Rank:   int(e.Rank),
		UserID: e.UserID.Int64(),
		Handle: e.Handle.String(),
		Score:  e.Score,
	}
}
