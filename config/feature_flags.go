package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags is the runtime feature toggle registry: boolean switches,
// percentage rollouts with stable user bucketing, per-user overrides and
// time-windowed activation.
type FeatureFlags struct {
	mu            sync.RWMutex
	features      map[string]*Feature
	userOverrides map[int64]map[string]bool // userID -> feature -> enabled
}

// Feature is one toggle.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent (0-100) gates users by a stable hash of their ID,
	// so a user never flips in and out of a partial rollout.
	RolloutPercent int

	// Optional activation window.
	EnabledFrom  *time.Time
	EnabledUntil *time.Time

	// Variants, when set, split enabled users into experiment arms.
	Variants []string
}

// FeatureContext identifies who is asking.
type FeatureContext struct {
	UserID  int64 // chat-side user ID
	IsAdmin bool  // admins see every feature
}

// Predefined feature flag names.
const (
	// === Goal Features ===
	FeatureGoalsCategoryGoals = "goals.category_goals" // per-rating/per-tag targets
	FeatureGoalsReminders     = "goals.reminders"      // reminder-time evaluation
	FeatureGoalsRewards       = "goals.rewards"        // streak milestone rewards
	FeatureGoalsPenalties     = "goals.penalties"      // penalty accrual on misses

	// === Contest Features ===
	FeatureContestsEnabled  = "contests.enabled"  // group contests
	FeatureContestsCreation = "contests.creation" // contest creation by users

	// === Ranking Features ===
	FeatureRankingLeaderboard  = "ranking.leaderboard"   // global leaderboard reads
	FeatureRankingContestBonus = "ranking.contest_bonus" // contest scores in global score

	// === Experimental Features ===
	FeatureExperimentalWeeklyRecap = "experimental.weekly_recap" // weekly summary events
)

// defaultFeatures is the shipped state of every flag. Env vars adjust it
// at load time, SetRolloutPercent at runtime.
var defaultFeatures = []Feature{
	// Goal features are the core of the product and ship fully on.
	{Name: FeatureGoalsCategoryGoals, Description: "Per-rating and per-tag goal targets", Enabled: true, RolloutPercent: 100},
	{Name: FeatureGoalsReminders, Description: "Reminder events for unmet daily goals", Enabled: true, RolloutPercent: 100},
	{Name: FeatureGoalsRewards, Description: "Streak milestone rewards", Enabled: true, RolloutPercent: 100},
	{Name: FeatureGoalsPenalties, Description: "Penalty accrual on missed daily goals", Enabled: true, RolloutPercent: 100},

	{Name: FeatureContestsEnabled, Description: "Group contests", Enabled: true, RolloutPercent: 100},
	{Name: FeatureContestsCreation, Description: "Contest creation by regular users", Enabled: true, RolloutPercent: 100},

	{Name: FeatureRankingLeaderboard, Description: "Global score leaderboard", Enabled: true, RolloutPercent: 100},
	{Name: FeatureRankingContestBonus, Description: "Contest scores contribute to the global score", Enabled: true, RolloutPercent: 100},

	// Experimental features stay off until explicitly rolled out.
	{Name: FeatureExperimentalWeeklyRecap, Description: "Weekly recap summary events", Enabled: false, RolloutPercent: 0},
}

// LoadFeatureFlags builds the registry from the shipped defaults and then
// applies FEATURE_* env overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature, len(defaultFeatures)),
		userOverrides: make(map[int64]map[string]bool),
	}

	for i := range defaultFeatures {
		f := defaultFeatures[i]
		ff.features[f.Name] = &f
	}

	ff.applyEnvOverrides()
	return ff
}

// applyEnvOverrides reads FEATURE_<NAME>=true|false|<percent> for every
// known flag. FEATURE_CONTESTS_ENABLED=false turns contests off,
// FEATURE_EXPERIMENTAL_WEEKLY_RECAP=25 rolls the recap out to a quarter
// of users.
func (ff *FeatureFlags) applyEnvOverrides() {
	for name, feature := range ff.features {
		val := os.Getenv(featureEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureEnvKey maps "goals.category_goals" to "FEATURE_GOALS_CATEGORY_GOALS".
func featureEnvKey(name string) string {
	return "FEATURE_" + strings.ReplaceAll(strings.ToUpper(name), ".", "_")
}

// IsEnabled evaluates a flag for the given context. A nil context is the
// anonymous case: only fully-rolled-out flags apply.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.isEnabledLocked(featureName, ctx)
}

// isEnabledLocked is the evaluation core. Callers hold at least a read
// lock.
func (ff *FeatureFlags) isEnabledLocked(featureName string, ctx *FeatureContext) bool {
	// Per-user overrides win over everything, including IsAdmin.
	if ctx != nil && ctx.UserID != 0 {
		if overrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != 0 {
		return userBucket(ctx.UserID, featureName) < feature.RolloutPercent
	}
	return feature.RolloutPercent > 0
}

// userBucket places a user in 0-99 for one feature. The hash keys on both
// user and feature so partial rollouts of different flags select
// different user sets.
func userBucket(userID int64, featureName string) int {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32() % 100)
}

// GetVariant assigns an experiment arm to the user, or "" when the flag
// is off for them or defines no variants.
func (ff *FeatureFlags) GetVariant(featureName string, ctx *FeatureContext) string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || len(feature.Variants) == 0 || !ff.isEnabledLocked(featureName, ctx) {
		return ""
	}

	h := fnv.New32a()
	h.Write([]byte(featureName + "_variant"))
	h.Write([]byte(strconv.FormatInt(ctx.UserID, 10)))
	return feature.Variants[int(h.Sum32()%uint32(len(feature.Variants)))]
}

// SetUserOverride pins a flag on or off for one user. Meant for support
// and debugging sessions.
func (ff *FeatureFlags) SetUserOverride(userID int64, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides drops every override for the user.
func (ff *FeatureFlags) ClearUserOverrides(userID int64) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent changes a flag's rollout at runtime. Zero disables
// the flag, anything above zero enables it at that percentage.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature rolls a flag out to everyone.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature turns a flag fully off.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures snapshots the registry. The returned features are
// copies; mutating them does not affect evaluation.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for name, feature := range ff.features {
		c := *feature
		result[name] = &c
	}
	return result
}

// ContestsEnabled reports whether group contests are available.
func (ff *FeatureFlags) ContestsEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureContestsEnabled, ctx)
}

// RewardsEnabled reports whether streak milestone rewards are available.
func (ff *FeatureFlags) RewardsEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureGoalsRewards, ctx)
}

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError is a flag registry error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
