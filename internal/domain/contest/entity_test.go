package contest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

const (
	creatorID = shared.UserID(1)
	aliceID   = shared.UserID(2)
	bobID     = shared.UserID(3)
)

func newTestContest(t *testing.T, now time.Time) *Contest {
	t.Helper()

	c, err := NewContest(NewContestParams{
		ID:        "c-1",
		Name:      "Weekend Sprint",
		Duration:  "2h",
		CreatedBy: creatorID,
		Now:       now,
	})
	require.NoError(t, err)
	return c
}

func contestSolve(problem string, at time.Time) shared.SolveEvent {
	return shared.SolveEvent{
		SubmissionID: at.UnixNano(),
		ProblemID:    shared.ProblemID(problem),
		Rating:       1500,
		SubmittedAt:  at,
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"90m", 90 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{" 45M ", 45 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	for _, raw := range []string{"", "h", "2w", "-1h", "0m", "abc"} {
		_, err := ParseDuration(raw)
		assert.ErrorIs(t, err, ErrInvalidDuration, raw)
	}
}

func TestNewContest_Validation(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	_, err := NewContest(NewContestParams{ID: "c-1", Name: "  ", Duration: "2h", CreatedBy: creatorID, Now: now})
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = NewContest(NewContestParams{ID: "c-1", Name: "x", Duration: "nope", CreatedBy: creatorID, Now: now})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = NewContest(NewContestParams{ID: "c-1", Name: "x", Duration: "2h", CreatedBy: 0, Now: now})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	c := newTestContest(t, now)
	assert.Equal(t, StatusCreated, c.Status)
	assert.True(t, c.StartTime.IsZero())
	assert.True(t, c.EndTime.IsZero())
}

func TestContest_ForwardOnlyTransitions(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c := newTestContest(t, now)

	// End before start is rejected.
	assert.ErrorIs(t, c.End(creatorID, now), ErrNotActive)

	assert.ErrorIs(t, c.Start(aliceID, now), ErrNotCreator)
	require.NoError(t, c.Start(creatorID, now))
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, now, c.StartTime)
	assert.Equal(t, now.Add(2*time.Hour), c.EndTime)

	// Start on an active contest always fails.
	assert.ErrorIs(t, c.Start(creatorID, now), ErrAlreadyStarted)

	manualEnd := now.Add(time.Hour)
	require.NoError(t, c.End(creatorID, manualEnd))
	assert.Equal(t, StatusEnded, c.Status)
	assert.Equal(t, manualEnd, c.EndTime, "manual end overwrites the scheduled end")

	// No transition leaves Ended.
	assert.ErrorIs(t, c.Start(creatorID, manualEnd), ErrAlreadyStarted)
	assert.ErrorIs(t, c.End(creatorID, manualEnd), ErrNotActive)
}

func TestContest_JoinLeave(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c := newTestContest(t, now)

	require.NoError(t, c.Join(aliceID, "alice", now))
	assert.ErrorIs(t, c.Join(aliceID, "alice", now), ErrAlreadyJoined)

	// Joining while active is allowed.
	require.NoError(t, c.Start(creatorID, now))
	require.NoError(t, c.Join(bobID, "bob", now.Add(time.Minute)))
	assert.Len(t, c.Participants, 2)

	assert.ErrorIs(t, c.Leave(creatorID, now), ErrNotParticipant)
	require.NoError(t, c.Leave(bobID, now))
	assert.Len(t, c.Participants, 1)

	require.NoError(t, c.End(creatorID, now.Add(time.Hour)))
	assert.ErrorIs(t, c.Join(bobID, "bob", now.Add(time.Hour)), ErrContestEnded)
	assert.ErrorIs(t, c.Leave(aliceID, now.Add(time.Hour)), ErrContestEnded)
}

func TestContest_RecordSolve_WindowAndDedup(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c := newTestContest(t, now)
	require.NoError(t, c.Join(aliceID, "alice", now))

	// Before start nothing counts.
	assert.False(t, c.RecordSolve(aliceID, contestSolve("100A", now), now))

	require.NoError(t, c.Start(creatorID, now))

	inWindow := now.Add(30 * time.Minute)
	assert.True(t, c.RecordSolve(aliceID, contestSolve("100A", inWindow), inWindow))
	assert.True(t, c.RecordSolve(aliceID, contestSolve("200B", inWindow), inWindow))

	// Same problem never scores twice within one contest.
	assert.False(t, c.RecordSolve(aliceID, contestSolve("100A", inWindow.Add(time.Minute)), inWindow))

	// Outside the window or not a participant: no credit.
	assert.False(t, c.RecordSolve(aliceID, contestSolve("300C", now.Add(3*time.Hour)), now))
	assert.False(t, c.RecordSolve(bobID, contestSolve("400D", inWindow), inWindow))

	p, ok := c.Participant(aliceID)
	require.True(t, ok)
	assert.Equal(t, 2, p.Score)
}

func TestContest_LazyExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c := newTestContest(t, now)
	require.NoError(t, c.Start(creatorID, now))

	assert.False(t, c.ExpireIfDue(now.Add(time.Hour)))
	assert.Equal(t, StatusActive, c.Status)

	assert.True(t, c.ExpireIfDue(now.Add(2*time.Hour)))
	assert.Equal(t, StatusEnded, c.Status)
	assert.Equal(t, now.Add(2*time.Hour), c.EndTime, "scheduled end is kept on expiry")

	assert.False(t, c.ExpireIfDue(now.Add(3*time.Hour)), "expiry is idempotent")
}

func TestContest_Ranking(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c := newTestContest(t, now)
	require.NoError(t, c.Join(aliceID, "alice", now))
	require.NoError(t, c.Join(bobID, "bob", now.Add(time.Second)))
	require.NoError(t, c.Start(creatorID, now.Add(time.Minute)))

	inWindow := now.Add(30 * time.Minute)
	require.True(t, c.RecordSolve(aliceID, contestSolve("100A", inWindow), inWindow))
	require.True(t, c.RecordSolve(aliceID, contestSolve("200B", inWindow), inWindow))
	require.True(t, c.RecordSolve(bobID, contestSolve("100A", inWindow), inWindow))

	standings := c.Ranking(nil)
	require.Len(t, standings, 2)
	assert.Equal(t, Standing{Rank: 1, UserID: aliceID, Handle: "alice", Score: 2}, standings[0])
	assert.Equal(t, Standing{Rank: 2, UserID: bobID, Handle: "bob", Score: 1}, standings[1])
}

func TestContest_RankingTieBreak(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c := newTestContest(t, now)
	require.NoError(t, c.Join(bobID, "bob", now))
	require.NoError(t, c.Join(aliceID, "alice", now.Add(time.Second)))
	require.NoError(t, c.Start(creatorID, now.Add(time.Minute)))

	inWindow := now.Add(30 * time.Minute)
	require.True(t, c.RecordSolve(aliceID, contestSolve("100A", inWindow), inWindow))
	require.True(t, c.RecordSolve(bobID, contestSolve("100A", inWindow), inWindow))

	// Equal scores: the earlier join ranks higher.
	standings := c.Ranking(ByScoreThenJoin)
	assert.Equal(t, bobID, standings[0].UserID)
	assert.Equal(t, aliceID, standings[1].UserID)
}

func TestContest_Clone(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c := newTestContest(t, now)
	require.NoError(t, c.Join(aliceID, "alice", now))
	require.NoError(t, c.Start(creatorID, now))
	inWindow := now.Add(time.Minute)
	require.True(t, c.RecordSolve(aliceID, contestSolve("100A", inWindow), inWindow))

	clone := c.Clone()
	require.True(t, clone.RecordSolve(aliceID, contestSolve("200B", inWindow), inWindow))

	original, _ := c.Participant(aliceID)
	copied, _ := clone.Participant(aliceID)
	assert.Equal(t, 1, original.Score)
	assert.Equal(t, 2, copied.Score)
}
