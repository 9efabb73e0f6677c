package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFeatureFlagsDefaults(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureGoalsCategoryGoals, nil))
	assert.True(t, ff.ContestsEnabled(nil))
	assert.True(t, ff.RewardsEnabled(nil))

	// Experimental flags ship off.
	assert.False(t, ff.IsEnabled(FeatureExperimentalWeeklyRecap, nil))

	// Unknown flags are off, not an error.
	assert.False(t, ff.IsEnabled("no.such.flag", nil))
}

func TestLoadFeatureFlagsEnvOverrides(t *testing.T) {
	t.Setenv("FEATURE_CONTESTS_ENABLED", "false")
	t.Setenv("FEATURE_EXPERIMENTAL_WEEKLY_RECAP", "100")

	ff := LoadFeatureFlags()

	assert.False(t, ff.ContestsEnabled(nil))
	assert.True(t, ff.IsEnabled(FeatureExperimentalWeeklyRecap, nil))
}

func TestFeatureFlagsPartialRollout(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureExperimentalWeeklyRecap, 50))

	// Without a user there is no bucket to check, so a partial rollout
	// still counts as enabled.
	assert.True(t, ff.IsEnabled(FeatureExperimentalWeeklyRecap, nil))

	inside := 0
	for userID := int64(1); userID <= 200; userID++ {
		ctx := &FeatureContext{UserID: userID}
		first := ff.IsEnabled(FeatureExperimentalWeeklyRecap, ctx)
		// Bucketing is stable: the same user always gets the same answer.
		assert.Equal(t, first, ff.IsEnabled(FeatureExperimentalWeeklyRecap, ctx))
		if first {
			inside++
		}
	}

	// The hash spreads 200 users roughly in half at 50%.
	assert.Greater(t, inside, 50)
	assert.Less(t, inside, 150)
}

func TestFeatureFlagsRolloutValidation(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.ErrorIs(t, ff.SetRolloutPercent("no.such.flag", 50), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureGoalsRewards, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureGoalsRewards, -1), ErrInvalidRolloutPercent)
}

func TestFeatureFlagsEnableDisable(t *testing.T) {
	ff := LoadFeatureFlags()

	require.NoError(t, ff.DisableFeature(FeatureGoalsPenalties))
	assert.False(t, ff.IsEnabled(FeatureGoalsPenalties, nil))

	require.NoError(t, ff.EnableFeature(FeatureGoalsPenalties))
	assert.True(t, ff.IsEnabled(FeatureGoalsPenalties, nil))
}

func TestFeatureFlagsUserOverrides(t *testing.T) {
	ff := LoadFeatureFlags()
	ctx := &FeatureContext{UserID: 42}

	ff.SetUserOverride(42, FeatureContestsEnabled, false)
	assert.False(t, ff.IsEnabled(FeatureContestsEnabled, ctx))
	// Other users keep the default.
	assert.True(t, ff.IsEnabled(FeatureContestsEnabled, &FeatureContext{UserID: 7}))

	// An override can also force a disabled flag on.
	ff.SetUserOverride(42, FeatureExperimentalWeeklyRecap, true)
	assert.True(t, ff.IsEnabled(FeatureExperimentalWeeklyRecap, ctx))

	ff.ClearUserOverrides(42)
	assert.True(t, ff.IsEnabled(FeatureContestsEnabled, ctx))
	assert.False(t, ff.IsEnabled(FeatureExperimentalWeeklyRecap, ctx))
}

func TestFeatureFlagsAdminBypass(t *testing.T) {
	ff := LoadFeatureFlags()
	admin := &FeatureContext{UserID: 1, IsAdmin: true}

	assert.True(t, ff.IsEnabled(FeatureExperimentalWeeklyRecap, admin))

	// An explicit override still wins over admin status.
	ff.SetUserOverride(1, FeatureContestsEnabled, false)
	assert.False(t, ff.IsEnabled(FeatureContestsEnabled, admin))
}

func TestFeatureFlagsTimeWindow(t *testing.T) {
	ff := LoadFeatureFlags()

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	all := ff.GetAllFeatures()
	require.Contains(t, all, FeatureGoalsRewards)

	// GetAllFeatures returns copies, so reach into the registry directly.
	ff.mu.Lock()
	ff.features[FeatureGoalsRewards].EnabledFrom = &future
	ff.mu.Unlock()
	assert.False(t, ff.IsEnabled(FeatureGoalsRewards, nil))

	ff.mu.Lock()
	ff.features[FeatureGoalsRewards].EnabledFrom = nil
	ff.features[FeatureGoalsRewards].EnabledUntil = &past
	ff.mu.Unlock()
	assert.False(t, ff.IsEnabled(FeatureGoalsRewards, nil))
}

func TestFeatureFlagsVariants(t *testing.T) {
	ff := LoadFeatureFlags()

	ff.mu.Lock()
	ff.features[FeatureGoalsReminders].Variants = []string{"morning", "evening"}
	ff.mu.Unlock()

	ctx := &FeatureContext{UserID: 42}
	variant := ff.GetVariant(FeatureGoalsReminders, ctx)
	assert.Contains(t, []string{"morning", "evening"}, variant)
	// Assignment is stable per user.
	assert.Equal(t, variant, ff.GetVariant(FeatureGoalsReminders, ctx))

	// No variants configured means no assignment.
	assert.Empty(t, ff.GetVariant(FeatureContestsEnabled, ctx))
	// A disabled flag assigns nothing even with variants.
	require.NoError(t, ff.DisableFeature(FeatureGoalsReminders))
	assert.Empty(t, ff.GetVariant(FeatureGoalsReminders, ctx))
}

func TestGetAllFeaturesReturnsCopies(t *testing.T) {
	ff := LoadFeatureFlags()

	all := ff.GetAllFeatures()
	all[FeatureContestsEnabled].Enabled = false

	assert.True(t, ff.ContestsEnabled(nil))
}
