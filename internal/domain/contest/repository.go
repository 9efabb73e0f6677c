package contest

import (
	"context"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции над соревнованиями. Агрегат сохраняется
// целиком: соревнование, участники и зачтённые задачи.
type Repository interface {
	// Create создаёт соревнование.
	Create(ctx context.Context, contest *Contest) error

	// GetByID возвращает соревнование с участниками.
	// Возвращает ErrContestNotFound, если соревнование не найдено.
	GetByID(ctx context.Context, id string) (*Contest, error)

	// Update сохраняет агрегат целиком.
	// Возвращает ErrContestNotFound, если соревнование не найдено.
	Update(ctx context.Context, contest *Contest) error

	// UpdateIfActive сохраняет агрегат, только если соревнование в
	// хранилище всё ещё активно. Возвращает ErrNotActive, если оно уже
	// завершено или ещё не запущено: так фоновый зачёт решений не
	// откатит завершение, выполненное параллельно.
	UpdateIfActive(ctx context.Context, contest *Contest) error

	// ListOpen возвращает незавершённые соревнования, новые первыми.
	ListOpen(ctx context.Context) ([]*Contest, error)

	// FindActiveByParticipant возвращает активные соревнования, в которых
	// участвует пользователь. Используется при зачёте решений.
	FindActiveByParticipant(ctx context.Context, userID shared.UserID) ([]*Contest, error)

	// SumEndedScores возвращает суммарные очки каждого пользователя по
	// всем завершённым соревнованиям. Используется глобальным рейтингом.
	SumEndedScores(ctx context.Context) (map[shared.UserID]int, error)

	// SumEndedScoresByUser возвращает суммарные очки одного пользователя
	// по завершённым соревнованиям. Используется инкрементальным
	// пересчётом рейтинга.
	SumEndedScoresByUser(ctx context.Context, userID shared.UserID) (int, error)

	// FindExpired возвращает активные соревнования с истёкшим EndTime.
	// Используется фоновым sweep'ом ленивого истечения.
	FindExpired(ctx context.Context) ([]*Contest, error)
}
