package jobs

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

// fakeGoalStore backs both the solve sync and the rollover sweep. Every
// mutating call checks that no other writer holds the same user, so tests
// catch the jobs stepping on each other.
type fakeGoalStore struct {
	mu      sync.Mutex
	states  map[shared.UserID]*goal.UserGoalState
	history []goal.HistoryRecord
	rewards []*goal.StreakReward

	writers map[shared.UserID]bool
	overlap bool
}

func newFakeGoalStore() *fakeGoalStore {
	return &fakeGoalStore{
		states:  make(map[shared.UserID]*goal.UserGoalState),
		writers: make(map[shared.UserID]bool),
	}
}

func (s *fakeGoalStore) put(state *goal.UserGoalState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = state.Clone()
}

func (s *fakeGoalStore) stored(userID shared.UserID) *goal.UserGoalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[userID]
}

// enterWrite marks the user as being written and reports whether another
// writer was already inside. The pause widens the race window so a missing
// lock shows up reliably.
func (s *fakeGoalStore) enterWrite(userID shared.UserID) {
	s.mu.Lock()
	if s.writers[userID] {
		s.overlap = true
	}
	s.writers[userID] = true
	s.mu.Unlock()

	time.Sleep(time.Millisecond)

	s.mu.Lock()
	s.writers[userID] = false
	s.mu.Unlock()
}

func (s *fakeGoalStore) GetAll(_ context.Context, _ goal.ListOptions) ([]*goal.UserGoalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*goal.UserGoalState
	for _, state := range s.states {
		out = append(out, state.Clone())
	}
	return out, nil
}

func (s *fakeGoalStore) GetByUserID(_ context.Context, userID shared.UserID) (*goal.UserGoalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID]
	if !ok {
		return nil, goal.ErrStateNotFound
	}
	return state.Clone(), nil
}

func (s *fakeGoalStore) Update(_ context.Context, state *goal.UserGoalState) error {
	s.enterWrite(state.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = state.Clone()
	return nil
}

func (s *fakeGoalStore) ApplyRollover(_ context.Context, state *goal.UserGoalState, result *goal.RolloverResult) error {
	s.enterWrite(state.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = state.Clone()
	s.history = append(s.history, result.Records...)
	if result.NewReward != nil {
		s.rewards = append(s.rewards, result.NewReward)
	}
	return nil
}

func (s *fakeGoalStore) FindStale(_ context.Context, _ time.Time) ([]*goal.UserGoalState, error) {
	return s.GetAll(context.Background(), goal.ListOptions{})
}

func (s *fakeGoalStore) dailyHistory() []goal.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []goal.HistoryRecord
	for _, r := range s.history {
		if r.GoalType == goal.GoalDaily {
			out = append(out, r)
		}
	}
	return out
}

func (s *fakeGoalStore) sawOverlap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlap
}

type fakeCategoryRepo struct{}

func (fakeCategoryRepo) Upsert(context.Context, *goal.CategoryGoal) error { return nil }

func (fakeCategoryRepo) GetByUser(context.Context, shared.UserID) ([]*goal.CategoryGoal, error) {
	return nil, nil
}

func (fakeCategoryRepo) UpdateProgress(context.Context, *goal.CategoryGoal) error { return nil }

func (fakeCategoryRepo) Delete(context.Context, shared.UserID, goal.CategoryKey) error {
	return nil
}

// fakeContestStore separates what FindActiveByParticipant hands out from
// what is actually stored, so a test can stage the stored row changing
// underneath a running sync.
type fakeContestStore struct {
	mu       sync.Mutex
	contests map[string]*contest.Contest
	active   []*contest.Contest
}

func newFakeContestStore() *fakeContestStore {
	return &fakeContestStore{contests: make(map[string]*contest.Contest)}
}

func (r *fakeContestStore) Create(_ context.Context, c *contest.Contest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contests[c.ID] = c.Clone()
	return nil
}

func (r *fakeContestStore) GetByID(_ context.Context, id string) (*contest.Contest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contests[id]
	if !ok {
		return nil, contest.ErrContestNotFound
	}
	return c.Clone(), nil
}

func (r *fakeContestStore) Update(_ context.Context, c *contest.Contest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contests[c.ID]; !ok {
		return contest.ErrContestNotFound
	}
	r.contests[c.ID] = c.Clone()
	return nil
}

func (r *fakeContestStore) UpdateIfActive(_ context.Context, c *contest.Contest) error {
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
	return nil
}

func (r *fakeContestStore) ListOpen(context.Context) ([]*contest.Contest, error) { return nil, nil }

func (r *fakeContestStore) FindActiveByParticipant(context.Context, shared.UserID) ([]*contest.Contest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*contest.Contest
	for _, c := range r.active {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (r *fakeContestStore) SumEndedScores(context.Context) (map[shared.UserID]int, error) {
	return nil, nil
}

func (r *fakeContestStore) SumEndedScoresByUser(context.Context, shared.UserID) (int, error) {
	return 0, nil
}

func (r *fakeContestStore) FindExpired(context.Context) ([]*contest.Contest, error) {
	return nil, nil
}

func (r *fakeContestStore) stored(id string) *contest.Contest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contests[id]
}

type fakeSolveSource struct {
	mu     sync.Mutex
	events []shared.SolveEvent
}

func (f *fakeSolveSource) FetchSolvedEvents(context.Context, shared.Handle, time.Time) ([]shared.SolveEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shared.SolveEvent(nil), f.events...), nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

// ──────────────────────────────────────────────────────────────────────────────
// FIXTURES
// ──────────────────────────────────────────────────────────────────────────────

func seedState(t *testing.T, store *fakeGoalStore, userID int64, handle string) *goal.UserGoalState {
	t.Helper()

	s, err := goal.NewUserGoalState(goal.NewUserGoalStateParams{
		UserID: shared.UserID(userID),
		Handle: shared.Handle(handle),
		Now:    time.Now().UTC(),
	})
	require.NoError(t, err)
	store.put(s)
	return s
}

func solveAt(id int64, at time.Time) shared.SolveEvent {
	return shared.SolveEvent{
		SubmissionID: id,
		ProblemID:    shared.ProblemID("1883B"),
		Rating:       1200,
		SubmittedAt:  at,
	}
}

func newSyncJob(store *fakeGoalStore, contests *fakeContestStore, src *fakeSolveSource) *SyncSolvesJob {
	return NewSyncSolvesJob(store, fakeCategoryRepo{}, contests, src, nopPublisher{}, nil, DefaultSyncSolvesConfig())
}

// ──────────────────────────────────────────────────────────────────────────────
// TESTS
// ──────────────────────────────────────────────────────────────────────────────

// A solve that arrives after the day boundary must not leak into the
// already-finished day: the sync closes the old period first, so yesterday's
// history keeps yesterday's count and the solve lands on the new day.
func TestSyncUserClosesPeriodBeforeCrediting(t *testing.T) {
	store := newFakeGoalStore()
	state := seedState(t, store, 1, "tourist")

	now := time.Now().UTC()

	stored := store.stored(state.UserID)
	stored.DailyGoal = 2
	stored.SolvedToday = 2
	stored.SolvedThisWeek = 2
	stored.SolvedThisMonth = 2
	stored.LastCheck = now.Add(-24 * time.Hour)

	src := &fakeSolveSource{events: []shared.SolveEvent{solveAt(100, now.Add(-time.Minute))}}
	job := newSyncJob(store, newFakeContestStore(), src)

	credited, err := job.SyncUser(context.Background(), store.stored(state.UserID).Clone())
	require.NoError(t, err)
	assert.Equal(t, 1, credited)

	daily := store.dailyHistory()
	require.Len(t, daily, 1)
	assert.Equal(t, 2, daily[0].Achieved, "closed day keeps its own count")
	assert.Equal(t, 2, daily[0].Target)
	assert.Equal(t, 1, daily[0].StreakAtTime)
	assert.NotEmpty(t, daily[0].ID)

	after := store.stored(state.UserID)
	assert.Equal(t, 1, after.SolvedToday, "new solve lands on the new day")
	assert.Equal(t, 1, after.Streak)
}

// Without new submissions the sync leaves the state alone; period closing
// stays with the rollover sweep.
func TestSyncUserNoEventsNoRollover(t *testing.T) {
	store := newFakeGoalStore()
	state := seedState(t, store, 1, "tourist")

	stored := store.stored(state.UserID)
	stored.SolvedToday = 1
	stored.LastCheck = time.Now().UTC().Add(-24 * time.Hour)

	job := newSyncJob(store, newFakeContestStore(), &fakeSolveSource{})

	credited, err := job.SyncUser(context.Background(), store.stored(state.UserID).Clone())
	require.NoError(t, err)
	assert.Equal(t, 0, credited)
	assert.Empty(t, store.dailyHistory())
}

// A contest the creator ended while the sync was in flight must stay ended:
// the guarded write refuses, the late solve is not credited, and the sync
// itself does not fail.
func TestSyncUserDoesNotResurrectEndedContest(t *testing.T) {
	store := newFakeGoalStore()
	state := seedState(t, store, 1, "tourist")

	now := time.Now().UTC()

	c, err := contest.NewContest(contest.NewContestParams{
		ID:        "c-1",
		Name:      "Weekend Sprint",
		Duration:  "2h",
		CreatedBy: shared.UserID(9),
		Now:       now.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(shared.UserID(9), now.Add(-time.Hour)))
	require.NoError(t, c.Join(state.UserID, state.Handle, now.Add(-time.Hour)))

	contests := newFakeContestStore()
	require.NoError(t, contests.Create(context.Background(), c))

	// The sync will be handed an Active copy, but the stored row has
	// already been ended by the creator.
	contests.active = []*contest.Contest{c.Clone()}
	ended := contests.stored("c-1")
	ended.Status = contest.StatusEnded
	ended.EndTime = now.Add(-time.Minute)

	src := &fakeSolveSource{events: []shared.SolveEvent{solveAt(100, now.Add(-30*time.Minute))}}
	job := newSyncJob(store, contests, src)

	credited, err := job.SyncUser(context.Background(), store.stored(state.UserID).Clone())
	require.NoError(t, err)
	assert.Equal(t, 1, credited, "the personal goal still counts the solve")

	after := contests.stored("c-1")
	assert.Equal(t, contest.StatusEnded, after.Status)
	p, ok := after.Participant(state.UserID)
	require.True(t, ok)
	assert.Equal(t, 0, p.Score, "no score after the contest ended")
}

// The solve sync and the rollover sweep write the same goal states. With a
// shared lock set their writes for one user never interleave.
func TestSyncAndSweepShareUserLocks(t *testing.T) {
	store := newFakeGoalStore()
	state := seedState(t, store, 1, "tourist")

	stored := store.stored(state.UserID)
	stored.DailyGoal = 1
	stored.LastCheck = time.Now().UTC().Add(-24 * time.Hour)

	locks := keymutex.New()
	src := &fakeSolveSource{events: []shared.SolveEvent{solveAt(100, time.Now().UTC().Add(-time.Minute))}}

	syncJob := newSyncJob(store, newFakeContestStore(), src).WithLocks(locks)
	sweepJob := NewRolloverSweepJob(store, nopPublisher{}, nil, DefaultRolloverSweepConfig()).WithLocks(locks)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = syncJob.SyncUser(context.Background(), store.stored(state.UserID).Clone())
		}()
		go func() {
			defer wg.Done()
			_ = sweepJob.Run(context.Background())
		}()
	}
	wg.Wait()

	assert.False(t, store.sawOverlap(), "two jobs wrote the same user at once")
}
