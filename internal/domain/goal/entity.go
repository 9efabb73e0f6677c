// Package goal содержит доменную модель целей и серий CF Goal Hub.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package goal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNegativeGoal - цель не может быть отрицательной.
	ErrNegativeGoal = errors.New("goal: target must be non-negative")

	// ErrInvalidCategoryCount - цель категории должна быть положительной.
	ErrInvalidCategoryCount = errors.New("goal: category target must be positive")

	// ErrInvalidCategoryKey - некорректный ключ категории.
	ErrInvalidCategoryKey = errors.New("goal: invalid category key")

	// ErrStateNotFound - состояние целей пользователя не найдено.
	ErrStateNotFound = errors.New("goal: user goal state not found")

	// ErrStateAlreadyExists - состояние целей уже существует.
	ErrStateAlreadyExists = errors.New("goal: user goal state already exists")

	// ErrRewardNotFound - награда не найдена.
	ErrRewardNotFound = errors.New("goal: reward not found")

	// ErrAlreadyClaimed - награда уже получена.
	ErrAlreadyClaimed = errors.New("goal: reward already claimed")
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: USER GOAL STATE
// ══════════════════════════════════════════════════════════════════════════════

// UserGoalState - состояние целей одного пользователя. Каждый пользователь
// владеет своим состоянием эксклюзивно; все мутации идут через
// сериализованные точки входа application-слоя.
type UserGoalState struct {
	// UserID - идентификатор пользователя в чат-слое.
	UserID shared.UserID

	// Handle - логин на Codeforces, по которому опрашивается внешний клиент.
	Handle shared.Handle

	// DailyGoal/WeeklyGoal/MonthlyGoal - цели по периодам (0 = не задана).
	DailyGoal   int
	WeeklyGoal  int
	MonthlyGoal int

	// SolvedToday/SolvedThisWeek/SolvedThisMonth - счётчики текущих периодов.
	// Каждый счётчик сбрасывается на своей границе периода независимо.
	SolvedToday     int
	SolvedThisWeek  int
	SolvedThisMonth int

	// SolvedTotal - всего решено за всё время (для глобального рейтинга).
	SolvedTotal int

	// Streak - текущая серия дней с выполненной дневной целью.
	Streak int

	// BestStreak - лучшая серия (high-water mark, только растёт).
	BestStreak int

	// Penalties - количество пропущенных дневных целей.
	Penalties int

	// LastCheck - момент последней оценки границы периода.
	LastCheck time.Time

	// LastPenalty - момент последнего штрафа (zero = не было).
	LastPenalty time.Time

	// LastSubmission - high-water mark времени зачтённых submission'ов.
	// События с меткой не позже этой игнорируются (дедупликация).
	LastSubmission time.Time

	// ReminderTime - локальное время напоминания (nil = отключено).
	ReminderTime *timeutil.Clock

	// Timezone - IANA-зона пользователя, по умолчанию UTC.
	Timezone string

	// CreatedAt - время создания записи.
	CreatedAt time.Time

	// UpdatedAt - время последнего обновления.
	UpdatedAt time.Time
}

// NewUserGoalStateParams содержит параметры для создания состояния целей.
type NewUserGoalStateParams struct {
	UserID   shared.UserID
	Handle   shared.Handle
	Timezone string
	Now      time.Time
}

// NewUserGoalState создаёт новое состояние целей с валидацией.
// LastCheck = now: первый rollover оценивает только остаток текущего
// периода, без backfill.
func NewUserGoalState(params NewUserGoalStateParams) (*UserGoalState, error) {
	if !params.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if !params.Handle.IsValid() {
		return nil, shared.ErrInvalidHandle
	}

	tz := params.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := timeutil.LoadZone(tz); err != nil {
		return nil, err
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return &UserGoalState{
		UserID:    params.UserID,
		Handle:    params.Handle.Normalize(),
		Timezone:  tz,
		LastCheck: now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Location возвращает таймзону пользователя.
func (s *UserGoalState) Location() (*time.Location, error) {
	return timeutil.LoadZone(s.Timezone)
}

// SetGoals перезаписывает конфигурацию целей. Не влияет на уже
// записанную историю.
func (s *UserGoalState) SetGoals(daily, weekly, monthly int, reminder *timeutil.Clock, now time.Time) error {
	if daily < 0 || weekly < 0 || monthly < 0 {
		return ErrNegativeGoal
	}

	s.DailyGoal = daily
	s.WeeklyGoal = weekly
	s.MonthlyGoal = monthly
	s.ReminderTime = reminder
	if s.LastCheck.IsZero() {
		s.LastCheck = now
	}
	s.UpdatedAt = now

	return nil
}

// RecordSolve зачитывает одно событие. Возвращает false, если событие
// уже было зачтено ранее (дедупликация по high-water mark).
// Вызывающий обязан подавать события в неубывающем порядке SubmittedAt.
func (s *UserGoalState) RecordSolve(e shared.SolveEvent, now time.Time) bool {
	if !e.IsValid() {
		return false
	}
	if !e.SubmittedAt.After(s.LastSubmission) {
		return false
	}

	s.LastSubmission = e.SubmittedAt
	s.SolvedToday++
	s.SolvedThisWeek++
	s.SolvedThisMonth++
	s.SolvedTotal++
	s.UpdatedAt = now

	return true
}

// DailyGoalMet возвращает true, если дневная цель задана и выполнена.
func (s *UserGoalState) DailyGoalMet() bool {
	return s.DailyGoal > 0 && s.SolvedToday >= s.DailyGoal
}

// ReminderDue проверяет, пора ли напомнить пользователю о невыполненной
// дневной цели. Возвращает количество оставшихся задач.
func (s *UserGoalState) ReminderDue(now time.Time) (remaining int, due bool) {
	if s.ReminderTime == nil || s.DailyGoal == 0 {
		return 0, false
	}
	if s.SolvedToday >= s.DailyGoal {
		return 0, false
	}

	loc, err := s.Location()
	if err != nil {
		return 0, false
	}
	if !s.ReminderTime.Matches(now, loc) {
		return 0, false
	}

	return s.DailyGoal - s.SolvedToday, true
}

// Clone создаёт копию состояния.
func (s *UserGoalState) Clone() *UserGoalState {
	if s == nil {
		return nil
	}

	clone := *s
	if s.ReminderTime != nil {
		r := *s.ReminderTime
		clone.ReminderTime = &r
	}
	return &clone
}

// String возвращает строковое представление для логирования.
func (s *UserGoalState) String() string {
	return fmt.Sprintf(
		"UserGoalState{User: %s, Handle: %s, Daily: %d/%d, Streak: %d, Penalties: %d}",
		s.UserID, s.Handle, s.SolvedToday, s.DailyGoal, s.Streak, s.Penalties,
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY GOALS
// ══════════════════════════════════════════════════════════════════════════════

// CategoryType определяет вид ключа категории.
type CategoryType string

const (
	// CategoryRating - категория по рейтингу задачи.
	CategoryRating CategoryType = "rating"
	// CategoryTag - категория по тегу задачи.
	CategoryTag CategoryType = "tag"
)

// CategoryKey - типизированный ключ категории: либо рейтинг, либо тег.
type CategoryKey struct {
	Type   CategoryType
	Rating int    // заполнен для CategoryRating
	Tag    string // заполнен для CategoryTag
}

// RatingCategory создаёт ключ по рейтингу.
func RatingCategory(rating int) CategoryKey {
	return CategoryKey{Type: CategoryRating, Rating: rating}
}

// TagCategory создаёт ключ по тегу.
func TagCategory(tag string) CategoryKey {
	return CategoryKey{Type: CategoryTag, Tag: tag}
}

// ParseCategoryKey восстанавливает ключ из пары (type, value), как она
// хранится в базе и приходит из команд.
func ParseCategoryKey(catType, value string) (CategoryKey, error) {
	switch CategoryType(catType) {
	case CategoryRating:
		rating, err := strconv.Atoi(value)
		if err != nil || rating <= 0 {
			return CategoryKey{}, fmt.Errorf("%w: rating %q", ErrInvalidCategoryKey, value)
		}
		return RatingCategory(rating), nil
	case CategoryTag:
		if value == "" {
			return CategoryKey{}, fmt.Errorf("%w: empty tag", ErrInvalidCategoryKey)
		}
		return TagCategory(value), nil
	default:
		return CategoryKey{}, fmt.Errorf("%w: type %q", ErrInvalidCategoryKey, catType)
	}
}

// ParseRawCategory разбирает пользовательский ввод категории: число
// трактуется как рейтинг ("900"), всё остальное - как тег ("dp").
func ParseRawCategory(raw string) (CategoryKey, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return CategoryKey{}, fmt.Errorf("%w: empty category", ErrInvalidCategoryKey)
	}
	if rating, err := strconv.Atoi(raw); err == nil {
		if rating <= 0 {
			return CategoryKey{}, fmt.Errorf("%w: rating %q", ErrInvalidCategoryKey, raw)
		}
		return RatingCategory(rating), nil
	}
	return TagCategory(raw), nil
}

// IsValid проверяет корректность ключа.
func (k CategoryKey) IsValid() bool {
	switch k.Type {
	case CategoryRating:
		return k.Rating > 0
	case CategoryTag:
		return k.Tag != ""
	default:
		return false
	}
}

// Value возвращает строковое значение ключа для хранения.
func (k CategoryKey) Value() string {
	switch k.Type {
	case CategoryRating:
		return strconv.Itoa(k.Rating)
	case CategoryTag:
		return k.Tag
	default:
		return ""
	}
}

// Matches проверяет, попадает ли событие в категорию.
func (k CategoryKey) Matches(e shared.SolveEvent) bool {
	switch k.Type {
	case CategoryRating:
		return e.Rating == k.Rating
	case CategoryTag:
		return e.HasTag(k.Tag)
	default:
		return false
	}
}

// String возвращает строковое представление ключа.
func (k CategoryKey) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.Value())
}

// CategoryGoal - цель по категории задач. Уникальна по (user, type, value).
type CategoryGoal struct {
	// UserID - владелец цели.
	UserID shared.UserID

	// Key - ключ категории.
	Key CategoryKey

	// GoalCount - целевое количество задач.
	GoalCount int

	// CurrentCount - текущий счётчик.
	CurrentCount int

	// LastUpdated - время последнего изменения.
	LastUpdated time.Time
}

// NewCategoryGoal создаёт цель категории с валидацией.
func NewCategoryGoal(userID shared.UserID, key CategoryKey, count int, now time.Time) (*CategoryGoal, error) {
	if !userID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if !key.IsValid() {
		return nil, ErrInvalidCategoryKey
	}
	if count <= 0 {
		return nil, ErrInvalidCategoryCount
	}

	return &CategoryGoal{
		UserID:      userID,
		Key:         key,
		GoalCount:   count,
		LastUpdated: now,
	}, nil
}

// Record зачитывает событие, если оно попадает в категорию.
func (g *CategoryGoal) Record(e shared.SolveEvent, now time.Time) bool {
	if !g.Key.Matches(e) {
		return false
	}

	g.CurrentCount++
	g.LastUpdated = now
	return true
}

// Met возвращает true, если цель категории достигнута.
func (g *CategoryGoal) Met() bool {
	return g.CurrentCount >= g.GoalCount
}

// ══════════════════════════════════════════════════════════════════════════════
// GOAL HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// GoalType определяет вид цели в записи истории.
type GoalType string

const (
	// GoalDaily - дневная цель.
	GoalDaily GoalType = "daily"
	// GoalWeekly - недельная цель.
	GoalWeekly GoalType = "weekly"
	// GoalMonthly - месячная цель.
	GoalMonthly GoalType = "monthly"
	// GoalCategory - цель по категории.
	GoalCategory GoalType = "category"
)

// IsValid проверяет корректность вида цели.
func (t GoalType) IsValid() bool {
	switch t {
	case GoalDaily, GoalWeekly, GoalMonthly, GoalCategory:
		return true
	default:
		return false
	}
}

// HistoryRecord - запись итога периода. Append-only: создаётся ровно один
// раз на (user, period, rollover) и никогда не изменяется.
type HistoryRecord struct {
	// ID - уникальный идентификатор записи (UUID).
	ID string

	// UserID - владелец записи.
	UserID shared.UserID

	// Date - локальная дата завершившегося периода.
	Date time.Time

	// GoalType - вид цели.
	GoalType GoalType

	// Target - целевое значение на момент записи.
	Target int

	// Achieved - фактически решено.
	Achieved int

	// StreakAtTime - серия после применения итога.
	StreakAtTime int

	// CreatedAt - время записи.
	CreatedAt time.Time
}
