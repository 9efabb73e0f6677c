package goal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/timeutil"
)

func newTestState(t *testing.T, now time.Time) *UserGoalState {
	t.Helper()

	state, err := NewUserGoalState(NewUserGoalStateParams{
		UserID:   shared.UserID(42),
		Handle:   shared.Handle("tourist"),
		Timezone: "UTC",
		Now:      now,
	})
	require.NoError(t, err)
	return state
}

func solveAt(at time.Time, rating int, tags ...string) shared.SolveEvent {
	return shared.SolveEvent{
		SubmissionID: at.Unix(),
		ProblemID:    shared.ProblemID("1700A"),
		Rating:       rating,
		Tags:         tags,
		SubmittedAt:  at,
	}
}

func TestNewUserGoalState_Validation(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	_, err := NewUserGoalState(NewUserGoalStateParams{UserID: 0, Handle: "tourist", Now: now})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewUserGoalState(NewUserGoalStateParams{UserID: 1, Handle: "x", Now: now})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewUserGoalState(NewUserGoalStateParams{UserID: 1, Handle: "tourist", Timezone: "Mars/Olympus", Now: now})
	assert.ErrorIs(t, err, timeutil.ErrInvalidZone)

	state, err := NewUserGoalState(NewUserGoalStateParams{UserID: 1, Handle: "Tourist", Now: now})
	require.NoError(t, err)
	assert.Equal(t, "UTC", state.Timezone)
	assert.Equal(t, shared.Handle("tourist"), state.Handle)
	assert.Equal(t, now, state.LastCheck)
}

func TestSetGoals(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	state := newTestState(t, now)

	assert.ErrorIs(t, state.SetGoals(-1, 0, 0, nil, now), ErrNegativeGoal)

	reminder := &timeutil.Clock{Hour: 20}
	require.NoError(t, state.SetGoals(3, 15, 60, reminder, now))
	assert.Equal(t, 3, state.DailyGoal)
	assert.Equal(t, 15, state.WeeklyGoal)
	assert.Equal(t, 60, state.MonthlyGoal)
	assert.Equal(t, reminder, state.ReminderTime)
}

func TestRecordSolve_CountersAndDedup(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	state := newTestState(t, now)

	first := solveAt(now.Add(10*time.Minute), 1500)
	assert.True(t, state.RecordSolve(first, now))
	assert.Equal(t, 1, state.SolvedToday)
	assert.Equal(t, 1, state.SolvedThisWeek)
	assert.Equal(t, 1, state.SolvedThisMonth)
	assert.Equal(t, 1, state.SolvedTotal)
	assert.Equal(t, first.SubmittedAt, state.LastSubmission)

	// Replay of the same event and anything at or before the watermark is dropped.
	assert.False(t, state.RecordSolve(first, now))
	assert.False(t, state.RecordSolve(solveAt(now.Add(5*time.Minute), 1500), now))
	assert.Equal(t, 1, state.SolvedTotal)

	assert.True(t, state.RecordSolve(solveAt(now.Add(20*time.Minute), 1800), now))
	assert.Equal(t, 2, state.SolvedTotal)
}

func TestRecordSolve_InvalidEvent(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	state := newTestState(t, now)

	assert.False(t, state.RecordSolve(shared.SolveEvent{}, now))
	assert.Equal(t, 0, state.SolvedTotal)
}

func TestDailyGoalMet(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	state := newTestState(t, now)

	// No goal configured means never "met".
	state.SolvedToday = 10
	assert.False(t, state.DailyGoalMet())

	state.DailyGoal = 3
	assert.True(t, state.DailyGoalMet())

	state.SolvedToday = 2
	assert.False(t, state.DailyGoalMet())
}

func TestReminderDue(t *testing.T) {
	state := newTestState(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	state.DailyGoal = 3
	state.SolvedToday = 1
	state.ReminderTime = &timeutil.Clock{Hour: 20}

	remaining, due := state.ReminderDue(time.Date(2026, 3, 2, 20, 15, 0, 0, time.UTC))
	assert.True(t, due)
	assert.Equal(t, 2, remaining)

	_, due = state.ReminderDue(time.Date(2026, 3, 2, 19, 15, 0, 0, time.UTC))
	assert.False(t, due)

	// Goal already met suppresses the reminder.
	state.SolvedToday = 3
	_, due = state.ReminderDue(time.Date(2026, 3, 2, 20, 15, 0, 0, time.UTC))
	assert.False(t, due)
}

func TestClone(t *testing.T) {
	state := newTestState(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	state.ReminderTime = &timeutil.Clock{Hour: 20}

	clone := state.Clone()
	clone.Streak = 99
	clone.ReminderTime.Hour = 8

	assert.Equal(t, 0, state.Streak)
	assert.Equal(t, 20, state.ReminderTime.Hour)
}

func TestParseCategoryKey(t *testing.T) {
	key, err := ParseCategoryKey("rating", "1500")
	require.NoError(t, err)
	assert.Equal(t, RatingCategory(1500), key)
	assert.Equal(t, "rating:1500", key.String())

	key, err = ParseCategoryKey("tag", "dp")
	require.NoError(t, err)
	assert.Equal(t, TagCategory("dp"), key)

	_, err = ParseCategoryKey("rating", "abc")
	assert.ErrorIs(t, err, ErrInvalidCategoryKey)

	_, err = ParseCategoryKey("tag", "")
	assert.ErrorIs(t, err, ErrInvalidCategoryKey)

	_, err = ParseCategoryKey("difficulty", "1500")
	assert.ErrorIs(t, err, ErrInvalidCategoryKey)
}

func TestCategoryGoal_Record(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	byRating, err := NewCategoryGoal(shared.UserID(42), RatingCategory(1500), 2, now)
	require.NoError(t, err)
	byTag, err := NewCategoryGoal(shared.UserID(42), TagCategory("dp"), 1, now)
	require.NoError(t, err)

	event := solveAt(now, 1500, "dp", "math")
	assert.True(t, byRating.Record(event, now))
	assert.True(t, byTag.Record(event, now))
	assert.True(t, byTag.Met())
	assert.False(t, byRating.Met())

	// A 1600-rated problem counts for neither goal.
	other := solveAt(now.Add(time.Minute), 1600, "greedy")
	assert.False(t, byRating.Record(other, now))
	assert.False(t, byTag.Record(other, now))
}

func TestNewCategoryGoal_Validation(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	_, err := NewCategoryGoal(shared.UserID(42), RatingCategory(1500), 0, now)
	assert.ErrorIs(t, err, ErrInvalidCategoryCount)

	_, err = NewCategoryGoal(shared.UserID(42), CategoryKey{}, 1, now)
	assert.ErrorIs(t, err, ErrInvalidCategoryKey)
}
