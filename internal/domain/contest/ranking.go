package contest

import (
	"sort"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Standing - одна строка итоговой таблицы.
type Standing struct {
	// Rank - место, начиная с 1.
	Rank int

	// UserID - участник.
	UserID shared.UserID

	// Handle - логин Codeforces.
	Handle shared.Handle

	// Score - набранные очки.
	Score int
}

// Comparator определяет порядок участников в таблице: возвращает true,
// если a должен стоять выше b. Политика разрешения ничьих вынесена в
// компаратор, чтобы её можно было заменить, не трогая агрегат.
type Comparator func(a, b *Participant) bool

// ByScoreThenJoin - порядок по умолчанию: очки по убыванию, при
// равенстве выше тот, кто присоединился раньше.
func ByScoreThenJoin(a, b *Participant) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.JoinedAt.Before(b.JoinedAt)
}

// Ranking строит итоговую таблицу по текущим очкам. Для Ended-соревнования
// очки заморожены, так что таблица воспроизводима в любой момент после
// завершения.
func (c *Contest) Ranking(cmp Comparator) []Standing {
	if cmp == nil {
		cmp = ByScoreThenJoin
	}

	participants := make([]*Participant, len(c.Participants))
	copy(participants, c.Participants)
	sort.SliceStable(participants, func(i, j int) bool {
		return cmp(participants[i], participants[j])
	})

	standings := make([]Standing, len(participants))
	for i, p := range participants {
		standings[i] = Standing{
			Rank:   i + 1,
			UserID: p.UserID,
			Handle: p.Handle,
			Score:  p.Score,
		}
	}
	return standings
}
