// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/ranking"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SCORE CHANGED HANDLER
// Держит кеш глобального рейтинга свежим между полными перестройками.
//
// Сводный счёт пользователя зависит от решённых задач, серии, штрафов и
// очков завершённых соревнований. Каждое событие, меняющее любую из этих
// составляющих, приводит к пересчёту счёта одного пользователя и
// точечному обновлению кеша. Полная перестройка остаётся фоновой джобе.
// ═══════════════════════════════════════════════════════════════════════════

// ScoreWriter - точечная запись в кеш рейтинга. Реализуется redis.ScoreCache.
type ScoreWriter interface {
	// UpdateScore обновляет счёт одного пользователя.
	UpdateScore(ctx context.Context, userID shared.UserID, handle shared.Handle, score int) error
}

// OnScoreChangedHandler пересчитывает сводный счёт пользователя по событиям.
type OnScoreChangedHandler struct {
	stateRepo   goal.StateRepository
	contestRepo contest.Repository
	cache       ScoreWriter
	weights     ranking.Weights
	logger      *slog.Logger

	// Timeout ограничивает один пересчёт.
	timeout time.Duration
}

// NewOnScoreChangedHandler создаёт новый обработчик.
func NewOnScoreChangedHandler(
	stateRepo goal.StateRepository,
	contestRepo contest.Repository,
	cache ScoreWriter,
	weights ranking.Weights,
	logger *slog.Logger,
) (*OnScoreChangedHandler, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OnScoreChangedHandler{
		stateRepo:   stateRepo,
		contestRepo: contestRepo,
		cache:       cache,
		weights:     weights,
		logger:      logger.With("handler", "on_score_changed"),
		timeout:     10 * time.Second,
	}, nil
}

// EventTypes возвращает типы событий, на которые подписывается обработчик.
func (h *OnScoreChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventSolveRecorded,
		shared.EventGoalAchieved,
		shared.EventGoalMissed,
		shared.EventStreakExtended,
		shared.EventStreakBroken,
		shared.EventContestEnded,
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnScoreChangedHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	switch e := event.(type) {
	case shared.SolveRecordedEvent:
		return h.refreshUser(ctx, shared.UserID(e.UserID))
	case shared.GoalOutcomeEvent:
		return h.refreshUser(ctx, shared.UserID(e.UserID))
	case shared.StreakChangedEvent:
		return h.refreshUser(ctx, shared.UserID(e.UserID))
	case shared.ContestLifecycleEvent:
		if event.EventType() != shared.EventContestEnded {
			return nil
		}
		return h.refreshContestParticipants(ctx, e.ContestID)
	default:
		h.logger.Warn("received unexpected event",
			"event_type", event.EventType(),
		)
		return nil
	}
}

// refreshUser пересчитывает и записывает сводный счёт одного пользователя.
func (h *OnScoreChangedHandler) refreshUser(ctx context.Context, userID shared.UserID) error {
	state, err := h.stateRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, goal.ErrStateNotFound) {
			// Пользователь удалился между событием и обработкой.
			return nil
		}
		return err
	}

	contestScore, err := h.contestRepo.SumEndedScoresByUser(ctx, userID)
	if err != nil {
		return err
	}

	score := ranking.ComputeGlobalScore(ranking.Snapshot{
		UserID:       state.UserID,
		Handle:       state.Handle,
		SolvedTotal:  state.SolvedTotal,
		Streak:       state.Streak,
		Penalties:    state.Penalties,
		ContestScore: contestScore,
	}, h.weights)

	if err := h.cache.UpdateScore(ctx, state.UserID, state.Handle, score); err != nil {
		return err
	}

	h.logger.Debug("score refreshed",
		"user_id", userID,
		"score", score,
	)
	return nil
}

// refreshContestParticipants пересчитывает счёт каждого участника
// завершённого соревнования: их контестная составляющая только что
// изменилась.
func (h *OnScoreChangedHandler) refreshContestParticipants(ctx context.Context, contestID string) error {
	c, err := h.contestRepo.GetByID(ctx, contestID)
	if err != nil {
		if errors.Is(err, contest.ErrContestNotFound) {
			return nil
		}
		return err
	}

	var failed int
	for _, p := range c.Participants {
		if err := h.refreshUser(ctx, p.UserID); err != nil {
			failed++
			h.logger.Warn("failed to refresh participant score",
				"contest_id", contestID,
				"user_id", p.UserID,
				"error", err,
			)
		}
	}

	if failed > 0 {
		h.logger.Warn("contest score refresh incomplete",
			"contest_id", contestID,
			"failed", failed,
			"participants", len(c.Participants),
		)
	}
	return nil
}
