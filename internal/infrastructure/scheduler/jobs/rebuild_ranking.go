package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/ranking"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD RANKING JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildRankingJob recomputes the global ranking from goal states and ended
// contest results and publishes it to the hot cache. The ranking is a pure
// projection, so a full rebuild is always safe.
type RebuildRankingJob struct {
	// Dependencies
	stateRepo   goal.StateRepository
	contestRepo contest.Repository
	cache       RankingCache
	logger      *slog.Logger

	// Configuration
	weights ranking.Weights

	// State (for metrics)
	lastStats atomic.Value // *RebuildStats
}

// RankingCache defines the cache operations the rebuild needs.
type RankingCache interface {
	// Rebuild atomically replaces the cached ranking.
	Rebuild(ctx context.Context, entries []ranking.Entry) error
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Entries     int
	TopScore    int
}

// NewRebuildRankingJob creates a new rebuild job.
func NewRebuildRankingJob(
	stateRepo goal.StateRepository,
	contestRepo contest.Repository,
	cache RankingCache,
	logger *slog.Logger,
	weights ranking.Weights,
) (*RebuildRankingJob, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	return &RebuildRankingJob{
		stateRepo:   stateRepo,
		contestRepo: contestRepo,
		cache:       cache,
		logger:      logger,
		weights:     weights,
	}, nil
}

// Name returns the job name.
func (j *RebuildRankingJob) Name() string {
	return "rebuild_ranking"
}

// Description returns a human-readable description.
func (j *RebuildRankingJob) Description() string {
	return "Recomputes the global ranking and refreshes the hot cache"
}

// Run executes the rebuild.
func (j *RebuildRankingJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	entries, err := j.Compute(ctx)
	if err != nil {
		return err
	}

	if err := j.cache.Rebuild(ctx, entries); err != nil {
		return fmt.Errorf("failed to refresh ranking cache: %w", err)
	}

	stats := &RebuildStats{
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Entries:     len(entries),
	}
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	if len(entries) > 0 {
		stats.TopScore = entries[0].Score
	}
	j.lastStats.Store(stats)

	j.logger.Info("ranking rebuilt",
		"entries", stats.Entries,
		"duration", stats.Duration.String(),
	)
	return nil
}

// Compute builds the ranked entry list without touching the cache.
// Ties are broken by handle so the order is deterministic.
func (j *RebuildRankingJob) Compute(ctx context.Context) ([]ranking.Entry, error) {
	states, err := j.stateRepo.GetAll(ctx, goal.ListOptions{Limit: 0})
	if err != nil {
		return nil, fmt.Errorf("failed to list goal states: %w", err)
	}

	contestScores, err := j.contestRepo.SumEndedScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum contest scores: %w", err)
	}

	entries := make([]ranking.Entry, 0, len(states))
	for _, s := range states {
		snapshot := ranking.Snapshot{
			UserID:       s.UserID,
			Handle:       s.Handle,
			SolvedTotal:  s.SolvedTotal,
			Streak:       s.Streak,
			Penalties:    s.Penalties,
			ContestScore: contestScores[s.UserID],
		}
		entries = append(entries, ranking.Entry{
			UserID: s.UserID,
			Handle: s.Handle,
			Score:  ranking.ComputeGlobalScore(snapshot, j.weights),
		})
	}

	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].Score != entries[b].Score {
			return entries[a].Score > entries[b].Score
		}
		return entries[a].Handle < entries[b].Handle
	})
	for i := range entries {
		entries[i].Rank = ranking.Rank(i + 1)
	}

	return entries, nil
}

// LastStats returns statistics from the last rebuild.
func (j *RebuildRankingJob) LastStats() *RebuildStats {
	stats := j.lastStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*RebuildStats)
}
