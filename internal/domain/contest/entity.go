// Package contest содержит доменную модель групповых соревнований.
// Соревнование - конечный автомат Created -> Active -> Ended без
// обратных переходов.
package contest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrContestNotFound - соревнование не найдено.
	ErrContestNotFound = errors.New("contest: contest not found")

	// ErrInvalidName - пустое имя соревнования.
	ErrInvalidName = errors.New("contest: name must not be empty")

	// ErrInvalidDuration - некорректная строка длительности.
	ErrInvalidDuration = errors.New("contest: invalid duration, want e.g. 90m, 2h, 1d")

	// ErrContestEnded - соревнование уже завершено.
	ErrContestEnded = errors.New("contest: contest already ended")

	// ErrAlreadyJoined - пользователь уже участвует.
	ErrAlreadyJoined = errors.New("contest: user already joined")

	// ErrNotParticipant - пользователь не участвует в соревновании.
	ErrNotParticipant = errors.New("contest: user is not a participant")

	// ErrNotCreator - операция доступна только создателю.
	ErrNotCreator = errors.New("contest: operation allowed only for creator")

	// ErrAlreadyStarted - соревнование уже запущено или завершено.
	ErrAlreadyStarted = errors.New("contest: contest already started")

	// ErrNotActive - соревнование не запущено.
	ErrNotActive = errors.New("contest: contest is not active")
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status - статус соревнования. Переходы строго вперёд:
// Created -> Active -> Ended.
type Status string

const (
	// StatusCreated - создано, регистрация открыта, таймер не запущен.
	StatusCreated Status = "created"
	// StatusActive - идёт, решения в окне засчитываются.
	StatusActive Status = "active"
	// StatusEnded - завершено, очки заморожены.
	StatusEnded Status = "ended"
)

// IsValid проверяет корректность статуса.
func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusActive, StatusEnded:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DURATION
// ══════════════════════════════════════════════════════════════════════════════

// ParseDuration разбирает строку длительности вида "90m", "2h", "1d".
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if len(raw) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}

	value, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}

	switch raw[len(raw)-1] {
	case 'm':
		return time.Duration(value) * time.Minute, nil
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN AGGREGATE: CONTEST
// ══════════════════════════════════════════════════════════════════════════════

// Contest - агрегат соревнования вместе с участниками. Все мутации идут
// через методы агрегата под сериализованной точкой входа application-слоя.
type Contest struct {
	// ID - уникальный идентификатор (UUID), неизменен после создания.
	ID string

	// Name - имя соревнования.
	Name string

	// Duration - длительность, назначенная при создании.
	Duration time.Duration

	// CreatedBy - создатель; только он может запускать и завершать.
	CreatedBy shared.UserID

	// Status - текущий статус.
	Status Status

	// StartTime - момент запуска (zero = не запущено).
	StartTime time.Time

	// EndTime - момент окончания. После запуска - планируемый конец,
	// при ручном завершении перезаписывается фактическим.
	EndTime time.Time

	// Participants - участники в порядке присоединения.
	Participants []*Participant

	// CreatedAt - время создания.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// Participant - участие одного пользователя в соревновании.
// Пара (ContestID, UserID) уникальна. Очки мутируются только пока
// соревнование Active, после Ended заморожены.
type Participant struct {
	// ContestID - соревнование.
	ContestID string

	// UserID - участник.
	UserID shared.UserID

	// Handle - логин Codeforces на момент присоединения.
	Handle shared.Handle

	// Score - набранные очки.
	Score int

	// Solved - задачи, уже принёсшие очки. Повторное решение той же
	// задачи в рамках одного соревнования очков не даёт.
	Solved map[shared.ProblemID]struct{}

	// JoinedAt - время присоединения (используется при равенстве очков).
	JoinedAt time.Time
}

// NewContestParams содержит параметры для создания соревнования.
type NewContestParams struct {
	ID        string
	Name      string
	Duration  string
	CreatedBy shared.UserID
	Now       time.Time
}

// NewContest создаёт соревнование в статусе Created с валидацией.
func NewContest(params NewContestParams) (*Contest, error) {
	if strings.TrimSpace(params.Name) == "" {
		return nil, ErrInvalidName
	}
	if !params.CreatedBy.IsValid() {
		return nil, shared.ErrInvalidUserID
	}

	duration, err := ParseDuration(params.Duration)
	if err != nil {
		return nil, err
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return &Contest{
		ID:        params.ID,
		Name:      strings.TrimSpace(params.Name),
		Duration:  duration,
		CreatedBy: params.CreatedBy,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Participant возвращает участника по ID пользователя.
func (c *Contest) Participant(userID shared.UserID) (*Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return nil, false
}

// Join добавляет участника. Разрешено в Created и Active.
func (c *Contest) Join(userID shared.UserID, handle shared.Handle, now time.Time) error {
	if c.Status == StatusEnded {
		return ErrContestEnded
	}
	if _, ok := c.Participant(userID); ok {
		return ErrAlreadyJoined
	}

	c.Participants = append(c.Participants, &Participant{
		ContestID: c.ID,
		UserID:    userID,
		Handle:    handle,
		Solved:    make(map[shared.ProblemID]struct{}),
		JoinedAt:  now,
	})
	c.UpdatedAt = now
	return nil
}

// Leave убирает участника. Набранные очки теряются: повторное
// присоединение начинается с нуля.
func (c *Contest) Leave(userID shared.UserID, now time.Time) error {
	if c.Status == StatusEnded {
		return ErrContestEnded
	}

	for i, p := range c.Participants {
		if p.UserID == userID {
			c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
			c.UpdatedAt = now
			return nil
		}
	}
	return ErrNotParticipant
}

// Start запускает соревнование. Доступно только создателю и только
// из статуса Created.
func (c *Contest) Start(by shared.UserID, now time.Time) error {
	if by != c.CreatedBy {
		return ErrNotCreator
	}
	if c.Status != StatusCreated {
		return ErrAlreadyStarted
	}

	c.Status = StatusActive
	c.StartTime = now
	c.EndTime = now.Add(c.Duration)
	c.UpdatedAt = now
	return nil
}

// End завершает соревнование досрочно. Доступно только создателю и
// только из статуса Active. EndTime перезаписывается фактическим
// моментом завершения.
func (c *Contest) End(by shared.UserID, now time.Time) error {
	if by != c.CreatedBy {
		return ErrNotCreator
	}
	if c.Status != StatusActive {
		return ErrNotActive
	}

	c.Status = StatusEnded
	c.EndTime = now
	c.UpdatedAt = now
	return nil
}

// ExpireIfDue переводит Active-соревнование в Ended, если назначенный
// конец наступил. Идемпотентно; вызывается и фоновым sweep'ом, и
// запросом статуса (ленивое истечение). Возвращает true, если переход
// произошёл.
func (c *Contest) ExpireIfDue(now time.Time) bool {
	if c.Status != StatusActive || now.Before(c.EndTime) {
		return false
	}

	c.Status = StatusEnded
	c.UpdatedAt = now
	return true
}

// InWindow проверяет, попадает ли момент в окно соревнования.
func (c *Contest) InWindow(ts time.Time) bool {
	return c.Status == StatusActive && !ts.Before(c.StartTime) && ts.Before(c.EndTime)
}

// RecordSolve зачитывает решение участнику: одно очко за каждую
// уникальную задачу внутри окна. Возвращает true, если очко начислено.
func (c *Contest) RecordSolve(userID shared.UserID, e shared.SolveEvent, now time.Time) bool {
	if !c.InWindow(e.SubmittedAt) {
		return false
	}

	p, ok := c.Participant(userID)
	if !ok {
		return false
	}
	if _, dup := p.Solved[e.ProblemID]; dup {
		return false
	}

	p.Solved[e.ProblemID] = struct{}{}
	p.Score++
	c.UpdatedAt = now
	return true
}

// Clone создаёт глубокую копию агрегата.
func (c *Contest) Clone() *Contest {
	if c == nil {
		return nil
	}

	clone := *c
	clone.Participants = make([]*Participant, len(c.Participants))
	for i, p := range c.Participants {
		cp := *p
		cp.Solved = make(map[shared.ProblemID]struct{}, len(p.Solved))
		for id := range p.Solved {
			cp.Solved[id] = struct{}{}
		}
		clone.Participants[i] = &cp
	}
	return &clone
}

// String возвращает строковое представление для логирования.
func (c *Contest) String() string {
	return fmt.Sprintf(
		"Contest{ID: %s, Name: %s, Status: %s, Participants: %d}",
		c.ID, c.Name, c.Status, len(c.Participants),
	)
}
