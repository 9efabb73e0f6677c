package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ──────────────────────────────────────────────────────────────────────────────
// FAKES
// ──────────────────────────────────────────────────────────────────────────────

// fakeRewardRepo honours the MarkClaimed contract: the update is
// conditional, so of any number of concurrent claims exactly one wins.
type fakeRewardRepo struct {
	mu      sync.Mutex
	rewards map[shared.UserID]map[int]*goal.StreakReward
}

func newFakeRewardRepo() *fakeRewardRepo {
	return &fakeRewardRepo{rewards: make(map[shared.UserID]map[int]*goal.StreakReward)}
}

func (r *fakeRewardRepo) Create(_ context.Context, reward *goal.StreakReward) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byLen, ok := r.rewards[reward.UserID]
	if !ok {
		byLen = make(map[int]*goal.StreakReward)
		r.rewards[reward.UserID] = byLen
	}
	if _, ok := byLen[reward.StreakLength]; ok {
		return nil
	}
	cp := *reward
	byLen[reward.StreakLength] = &cp
	return nil
}

func (r *fakeRewardRepo) GetByUser(_ context.Context, userID shared.UserID, unclaimedOnly bool) ([]*goal.StreakReward, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*goal.StreakReward
	for _, reward := range r.rewards[userID] {
		if unclaimedOnly && reward.Claimed {
			continue
		}
		cp := *reward
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRewardRepo) MarkClaimed(_ context.Context, userID shared.UserID, streakLength int, claimedAt time.Time) (*goal.StreakReward, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reward, ok := r.rewards[userID][streakLength]
	if !ok {
		return nil, goal.ErrRewardNotFound
	}
	if reward.Claimed {
		return nil, goal.ErrAlreadyClaimed
	}
	reward.Claimed = true
	reward.ClaimedAt = claimedAt
	cp := *reward
	return &cp, nil
}

func seedReward(t *testing.T, repo *fakeRewardRepo, userID int64, streakLength int) {
	t.Helper()

	reward, ok := goal.MilestoneReward(shared.UserID(userID), streakLength, time.Now().UTC())
	require.True(t, ok)
	require.NoError(t, repo.Create(context.Background(), reward))
}

// ──────────────────────────────────────────────────────────────────────────────
// CLAIM
// ──────────────────────────────────────────────────────────────────────────────

func TestClaimReward(t *testing.T) {
	ctx := context.Background()
	rewards := newFakeRewardRepo()
	pub := &capturePublisher{}
	seedReward(t, rewards, 1, 7)

	h := NewClaimRewardHandler(rewards, pub)
	res, err := h.Handle(ctx, ClaimRewardCommand{UserID: 1, StreakLength: 7})
	require.NoError(t, err)

	assert.True(t, res.Reward.Claimed)
	assert.Equal(t, goal.RewardWeekly, res.Reward.RewardType)
	require.Len(t, pub.byType(shared.EventRewardClaimed), 1)
}

func TestClaimRewardTwice(t *testing.T) {
	ctx := context.Background()
	rewards := newFakeRewardRepo()
	seedReward(t, rewards, 1, 7)

	h := NewClaimRewardHandler(rewards, &capturePublisher{})
	_, err := h.Handle(ctx, ClaimRewardCommand{UserID: 1, StreakLength: 7})
	require.NoError(t, err)

	_, err = h.Handle(ctx, ClaimRewardCommand{UserID: 1, StreakLength: 7})
	assert.ErrorIs(t, err, goal.ErrAlreadyClaimed)
}

func TestClaimRewardUnknown(t *testing.T) {
	h := NewClaimRewardHandler(newFakeRewardRepo(), &capturePublisher{})
	_, err := h.Handle(context.Background(), ClaimRewardCommand{UserID: 1, StreakLength: 7})
	assert.ErrorIs(t, err, goal.ErrRewardNotFound)
}

func TestClaimRewardConcurrent(t *testing.T) {
	ctx := context.Background()
	rewards := newFakeRewardRepo()
	pub := &capturePublisher{}
	seedReward(t, rewards, 1, 7)

	h := NewClaimRewardHandler(rewards, pub)

	const claimers = 8
	errs := make([]error, claimers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(claimers)
	for i := 0; i < claimers; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			_, errs[i] = h.Handle(ctx, ClaimRewardCommand{UserID: 1, StreakLength: 7})
		}(i)
	}
	start.Done()
	done.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		default:
			require.ErrorIs(t, err, goal.ErrAlreadyClaimed)
			lost++
		}
	}

	assert.Equal(t, 1, won, "exactly one claim must win")
	assert.Equal(t, claimers-1, lost)
	require.Len(t, pub.byType(shared.EventRewardClaimed), 1)
}
