package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/keymutex"
)

// ──────────────────────────────────────────────────────────────────────────────
// FAKES
// ──────────────────────────────────────────────────────────────────────────────

type fakeContestRepo struct {
	mu       sync.Mutex
	contests map[string]*contest.Contest
	updates  int
}

func newFakeContestRepo() *fakeContestRepo {
	return &fakeContestRepo{contests: make(map[string]*contest.Contest)}
}

func (r *fakeContestRepo) Create(_ context.Context, c *contest.Contest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contests[c.ID] = c.Clone()
	return nil
}

func (r *fakeContestRepo) GetByID(_ context.Context, id string) (*contest.Contest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contests[id]
	if !ok {
		return nil, contest.ErrContestNotFound
	}
	return c.Clone(), nil
}

func (r *fakeContestRepo) Update(_ context.Context, c *contest.Contest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contests[c.ID]; !ok {
		return contest.ErrContestNotFound
	}
	r.contests[c.ID] = c.Clone()
	r.updates++
	return nil
}

func (r *fakeContestRepo) UpdateIfActive(_ context.Context, c *contest.Contest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.contests[c.ID]
	if !ok {
		return contest.ErrContestNotFound
	}
	if cur.Status != contest.StatusActive {
		return contest.ErrNotActive
	}
	r.contests[c.ID] = c.Clone()
	r.updates++
	return nil
}

func (r *fakeContestRepo) ListOpen(_ context.Context) ([]*contest.Contest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*contest.Contest
	for _, c := range r.contests {
		if c.Status != contest.StatusEnded {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (r *fakeContestRepo) FindActiveByParticipant(context.Context, shared.UserID) ([]*contest.Contest, error) {
	return nil, nil
}

func (r *fakeContestRepo) SumEndedScores(context.Context) (map[shared.UserID]int, error) {
	return nil, nil
}

func (r *fakeContestRepo) SumEndedScoresByUser(context.Context, shared.UserID) (int, error) {
	return 0, nil
}

func (r *fakeContestRepo) FindExpired(context.Context) ([]*contest.Contest, error) {
	return nil, nil
}

// stored returns the persisted aggregate, bypassing Clone, for assertions.
func (r *fakeContestRepo) stored(id string) *contest.Contest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contests[id]
}

type fakeStateRepo struct {
	mu     sync.Mutex
	states map[shared.UserID]*goal.UserGoalState
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{states: make(map[shared.UserID]*goal.UserGoalState)}
}

func (r *fakeStateRepo) Create(_ context.Context, s *goal.UserGoalState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[s.UserID]; ok {
		return goal.ErrStateAlreadyExists
	}
	r.states[s.UserID] = s
	return nil
}

func (r *fakeStateRepo) GetByUserID(_ context.Context, userID shared.UserID) (*goal.UserGoalState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[userID]
	if !ok {
		return nil, goal.ErrStateNotFound
	}
	return s, nil
}

func (r *fakeStateRepo) GetByHandle(context.Context, shared.Handle) (*goal.UserGoalState, error) {
	return nil, goal.ErrStateNotFound
}

func (r *fakeStateRepo) Update(_ context.Context, s *goal.UserGoalState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[s.UserID]; !ok {
		return goal.ErrStateNotFound
	}
	r.states[s.UserID] = s
	return nil
}

func (r *fakeStateRepo) Delete(_ context.Context, userID shared.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, userID)
	return nil
}

func (r *fakeStateRepo) GetAll(context.Context, goal.ListOptions) ([]*goal.UserGoalState, error) {
	return nil, nil
}

func (r *fakeStateRepo) FindStale(context.Context, time.Time) ([]*goal.UserGoalState, error) {
	return nil, nil
}

func (r *fakeStateRepo) FindWithReminder(context.Context) ([]*goal.UserGoalState, error) {
	return nil, nil
}

func (r *fakeStateRepo) Count(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states), nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturePublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(et shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == et {
			out = append(out, e)
		}
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// FIXTURES
// ──────────────────────────────────────────────────────────────────────────────

const testCreator = int64(1)

func seedContest(t *testing.T, repo *fakeContestRepo, id string) *contest.Contest {
	t.Helper()

	c, err := contest.NewContest(contest.NewContestParams{
		ID:        id,
		Name:      "Weekend Sprint",
		Duration:  "2h",
		CreatedBy: shared.UserID(testCreator),
		Now:       time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func seedUser(t *testing.T, repo *fakeStateRepo, userID int64, handle string) {
	t.Helper()

	s, err := goal.NewUserGoalState(goal.NewUserGoalStateParams{
		UserID: shared.UserID(userID),
		Handle: shared.Handle(handle),
		Now:    time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), s))
}

// expireContest flips the stored contest to Active with a window that
// already closed, so the next load triggers lazy expiry.
func expireContest(t *testing.T, repo *fakeContestRepo, id string) {
	t.Helper()

	c := repo.stored(id)
	require.NotNil(t, c)
	c.Status = contest.StatusActive
	c.StartTime = time.Now().UTC().Add(-3 * time.Hour)
	c.EndTime = time.Now().UTC().Add(-time.Hour)
}

// ──────────────────────────────────────────────────────────────────────────────
// JOIN / LEAVE
// ──────────────────────────────────────────────────────────────────────────────

func TestJoinContestRecordsHandle(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	states := newFakeStateRepo()
	pub := &capturePublisher{}

	seedContest(t, contests, "c-1")
	seedUser(t, states, 2, "tourist")

	h := NewJoinContestHandler(contests, states, pub, keymutex.New())
	res, err := h.Handle(ctx, JoinContestCommand{ContestID: "c-1", UserID: 2})
	require.NoError(t, err)

	p, ok := res.Contest.Participant(shared.UserID(2))
	require.True(t, ok)
	assert.Equal(t, shared.Handle("tourist"), p.Handle)
	assert.Zero(t, p.Score)

	require.Len(t, pub.byType(shared.EventContestJoined), 1)

	// Join is persisted, not just applied to the in-memory copy.
	p, ok = contests.stored("c-1").Participant(shared.UserID(2))
	require.True(t, ok)
	assert.Equal(t, shared.Handle("tourist"), p.Handle)
}

func TestJoinContestRequiresRegistration(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	seedContest(t, contests, "c-1")

	h := NewJoinContestHandler(contests, newFakeStateRepo(), &capturePublisher{}, keymutex.New())
	_, err := h.Handle(ctx, JoinContestCommand{ContestID: "c-1", UserID: 5})
	assert.ErrorIs(t, err, goal.ErrStateNotFound)
}

func TestJoinContestDuplicate(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	states := newFakeStateRepo()

	seedContest(t, contests, "c-1")
	seedUser(t, states, 2, "tourist")

	h := NewJoinContestHandler(contests, states, &capturePublisher{}, keymutex.New())
	_, err := h.Handle(ctx, JoinContestCommand{ContestID: "c-1", UserID: 2})
	require.NoError(t, err)

	_, err = h.Handle(ctx, JoinContestCommand{ContestID: "c-1", UserID: 2})
	assert.ErrorIs(t, err, contest.ErrAlreadyJoined)
}

func TestJoinContestExpiredWindow(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	states := newFakeStateRepo()

	seedContest(t, contests, "c-1")
	seedUser(t, states, 2, "tourist")
	expireContest(t, contests, "c-1")

	h := NewJoinContestHandler(contests, states, &capturePublisher{}, keymutex.New())
	_, err := h.Handle(ctx, JoinContestCommand{ContestID: "c-1", UserID: 2})
	assert.ErrorIs(t, err, contest.ErrContestEnded)

	// Lazy expiry persists the transition even though the join failed.
	assert.Equal(t, contest.StatusEnded, contests.stored("c-1").Status)
}

func TestLeaveContestDropsScore(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	states := newFakeStateRepo()
	pub := &capturePublisher{}
	locks := keymutex.New()

	seedContest(t, contests, "c-1")
	seedUser(t, states, 2, "tourist")

	join := NewJoinContestHandler(contests, states, pub, locks)
	_, err := join.Handle(ctx, JoinContestCommand{ContestID: "c-1", UserID: 2})
	require.NoError(t, err)

	leave := NewLeaveContestHandler(contests, pub, locks)
	res, err := leave.Handle(ctx, LeaveContestCommand{ContestID: "c-1", UserID: 2})
	require.NoError(t, err)

	_, ok := res.Contest.Participant(shared.UserID(2))
	assert.False(t, ok)
	require.Len(t, pub.byType(shared.EventContestLeft), 1)
}

// ──────────────────────────────────────────────────────────────────────────────
// START / END
// ──────────────────────────────────────────────────────────────────────────────

func TestStartContestOnlyCreator(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	seedContest(t, contests, "c-1")

	h := NewStartContestHandler(contests, &capturePublisher{}, keymutex.New())
	_, err := h.Handle(ctx, StartContestCommand{ContestID: "c-1", UserID: 99})
	assert.ErrorIs(t, err, contest.ErrNotCreator)
}

func TestStartContestFixesWindow(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	pub := &capturePublisher{}

	seedContest(t, contests, "c-1")

	h := NewStartContestHandler(contests, pub, keymutex.New())
	res, err := h.Handle(ctx, StartContestCommand{ContestID: "c-1", UserID: testCreator})
	require.NoError(t, err)

	assert.Equal(t, contest.StatusActive, res.Contest.Status)
	assert.Equal(t, res.Contest.StartTime.Add(res.Contest.Duration), res.Contest.EndTime)
	require.Len(t, pub.byType(shared.EventContestStarted), 1)
}

func TestEndContestEarly(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	states := newFakeStateRepo()
	pub := &capturePublisher{}
	locks := keymutex.New()

	seedContest(t, contests, "c-1")
	seedUser(t, states, 2, "tourist")

	start := NewStartContestHandler(contests, pub, locks)
	_, err := start.Handle(ctx, StartContestCommand{ContestID: "c-1", UserID: testCreator})
	require.NoError(t, err)

	join := NewJoinContestHandler(contests, states, pub, locks)
	_, err = join.Handle(ctx, JoinContestCommand{ContestID: "c-1", UserID: 2})
	require.NoError(t, err)

	end := NewEndContestHandler(contests, pub, locks)
	res, err := end.Handle(ctx, EndContestCommand{ContestID: "c-1", UserID: testCreator})
	require.NoError(t, err)

	assert.Equal(t, contest.StatusEnded, res.Contest.Status)
	require.Len(t, res.Standings, 1)
	require.Len(t, pub.byType(shared.EventContestEnded), 1)
}

func TestEndContestAfterExpiryIsNoOp(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	pub := &capturePublisher{}

	seedContest(t, contests, "c-1")
	expireContest(t, contests, "c-1")

	h := NewEndContestHandler(contests, pub, keymutex.New())
	res, err := h.Handle(ctx, EndContestCommand{ContestID: "c-1", UserID: testCreator})
	require.NoError(t, err)

	assert.Equal(t, contest.StatusEnded, res.Contest.Status)
	// The window closed on its own; the manual end publishes nothing.
	assert.Empty(t, pub.byType(shared.EventContestEnded))
}

func TestEndContestAlreadyEnded(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	pub := &capturePublisher{}

	seedContest(t, contests, "c-1")
	c := contests.stored("c-1")
	c.Status = contest.StatusEnded
	c.StartTime = time.Now().UTC().Add(-3 * time.Hour)
	c.EndTime = time.Now().UTC().Add(-time.Hour)

	h := NewEndContestHandler(contests, pub, keymutex.New())

	// The creator asking again is not the same as the creator observing
	// lazy expiry mid-call: the contest was already closed before.
	_, err := h.Handle(ctx, EndContestCommand{ContestID: "c-1", UserID: testCreator})
	assert.ErrorIs(t, err, contest.ErrNotActive)
	assert.Empty(t, pub.byType(shared.EventContestEnded))
}

func TestEndContestEndedByNonCreator(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	pub := &capturePublisher{}

	seedContest(t, contests, "c-1")
	expireContest(t, contests, "c-1")

	h := NewEndContestHandler(contests, pub, keymutex.New())
	_, err := h.Handle(ctx, EndContestCommand{ContestID: "c-1", UserID: 99})
	assert.ErrorIs(t, err, contest.ErrNotCreator)
	assert.Empty(t, pub.byType(shared.EventContestEnded))
}

// ──────────────────────────────────────────────────────────────────────────────
// CREATE
// ──────────────────────────────────────────────────────────────────────────────

func TestCreateContest(t *testing.T) {
	ctx := context.Background()
	contests := newFakeContestRepo()
	pub := &capturePublisher{}

	h := NewCreateContestHandler(contests, pub)
	res, err := h.Handle(ctx, CreateContestCommand{
		Name:      "Weekend Sprint",
		Duration:  "90m",
		CreatedBy: testCreator,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.Contest.ID)
	assert.Equal(t, contest.StatusCreated, res.Contest.Status)
	assert.Equal(t, 90*time.Minute, res.Contest.Duration)
	require.Len(t, pub.byType(shared.EventContestCreated), 1)
}

func TestCreateContestInvalidDuration(t *testing.T) {
	h := NewCreateContestHandler(newFakeContestRepo(), &capturePublisher{})
	_, err := h.Handle(context.Background(), CreateContestCommand{
		Name:      "Weekend Sprint",
		Duration:  "2w",
		CreatedBy: testCreator,
	})
	assert.ErrorIs(t, err, contest.ErrInvalidDuration)
}
