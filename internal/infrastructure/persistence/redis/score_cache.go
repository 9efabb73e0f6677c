package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cf-hub/cf-goal-hub/internal/domain/ranking"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE CACHE ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrRankingEmpty is returned when the cached ranking has no entries.
	ErrRankingEmpty = errors.New("score_cache: ranking is empty")

	// ErrUserNotRanked is returned when a user is not present in the ranking.
	// Wraps shared.ErrNotFound so callers can match without importing this
	// package.
	ErrUserNotRanked = fmt.Errorf("score_cache: user not in ranking: %w", shared.ErrNotFound)

	// ErrInvalidLimit is returned when a non-positive limit is requested.
	ErrInvalidLimit = errors.New("score_cache: invalid limit")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ScoreCache provides high-performance global-ranking reads using Redis
// Sorted Sets.
//
// Architecture:
//   - Sorted Set "ranking:score" stores userID -> global score
//   - Hash "ranking:info" stores userID -> cached entry JSON (handle etc.)
//   - String "ranking:meta" stores metadata (last rebuild, entry count)
//
// This design allows O(log N) rank lookups and O(log N + M) top-N queries.
// The cache is a pure projection: it is rebuilt from goal states and contest
// results and is never the source of truth.
type ScoreCache struct {
	cache *Cache
}

// Key patterns for the score cache.
const (
	keyRankingScore = "ranking:score"
	keyRankingInfo  = "ranking:info"
	keyRankingMeta  = "ranking:meta"
)

// rankingMeta contains metadata about the cached ranking.
type rankingMeta struct {
	RebuiltAt  time.Time `json:"rebuilt_at"`
	TotalUsers int64     `json:"total_users"`
}

// cachedEntry is the hash representation of one ranking row.
type cachedEntry struct {
	UserID int64  `json:"user_id"`
	Handle string `json:"handle"`
	Score  int    `json:"score"`
}

// NewScoreCache creates a new ScoreCache instance.
func NewScoreCache(cache *Cache) *ScoreCache {
	return &ScoreCache{cache: cache}
}

func rankingMember(userID shared.UserID) string {
	return strconv.FormatInt(int64(userID), 10)
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Rebuild replaces the cached ranking with a freshly computed one.
// Existing data is cleared atomically via a transactional pipeline.
func (s *ScoreCache) Rebuild(ctx context.Context, entries []ranking.Entry) error {
	pipe := s.cache.Client().TxPipeline()

	pipe.Del(ctx, keyRankingScore, keyRankingInfo)

	if len(entries) > 0 {
		zMembers := make([]redis.Z, 0, len(entries))
		hashData := make(map[string]interface{}, len(entries))

		for _, e := range entries {
			member := rankingMember(e.UserID)
			zMembers = append(zMembers, redis.Z{
				Score:  float64(e.Score),
				Member: member,
			})

			data, err := json.Marshal(cachedEntry{
				UserID: int64(e.UserID),
				Handle: string(e.Handle),
				Score:  e.Score,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal ranking entry: %w", err)
			}
			hashData[member] = data
		}

		pipe.ZAdd(ctx, keyRankingScore, zMembers...)
		pipe.HSet(ctx, keyRankingInfo, hashData)
	}

	meta := rankingMeta{
		RebuiltAt:  time.Now().UTC(),
		TotalUsers: int64(len(entries)),
	}
	metaData, _ := json.Marshal(meta)
	pipe.Set(ctx, keyRankingMeta, metaData, TTLLeaderboardCache)

	pipe.Expire(ctx, keyRankingScore, TTLLeaderboardCache)
	pipe.Expire(ctx, keyRankingInfo, TTLLeaderboardCache)

	_, err := pipe.Exec(ctx)
	return err
}

// UpdateScore updates a single user's score in place.
// This is the fast path used by event handlers between full rebuilds.
func (s *ScoreCache) UpdateScore(ctx context.Context, userID shared.UserID, handle shared.Handle, score int) error {
	member := rankingMember(userID)

	data, err := json.Marshal(cachedEntry{
		UserID: int64(userID),
		Handle: string(handle),
		Score:  score,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ranking entry: %w", err)
	}

	pipe := s.cache.Client().Pipeline()
	pipe.ZAdd(ctx, keyRankingScore, redis.Z{
		Score:  float64(score),
		Member: member,
	})
	pipe.HSet(ctx, keyRankingInfo, member, data)
	pipe.Expire(ctx, keyRankingScore, TTLLeaderboardCache)
	pipe.Expire(ctx, keyRankingInfo, TTLLeaderboardCache)

	_, err = pipe.Exec(ctx)
	return err
}

// Remove drops a user from the cached ranking.
func (s *ScoreCache) Remove(ctx context.Context, userID shared.UserID) error {
	member := rankingMember(userID)

	pipe := s.cache.Client().Pipeline()
	pipe.ZRem(ctx, keyRankingScore, member)
	pipe.HDel(ctx, keyRankingInfo, member)

	_, err := pipe.Exec(ctx)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// READ OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetTop returns the top N ranking entries, best score first.
// This is an O(log N + M) operation where M is the limit.
func (s *ScoreCache) GetTop(ctx context.Context, limit int) ([]ranking.Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	members, err := s.cache.Client().ZRevRange(ctx, keyRankingScore, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []ranking.Entry{}, nil
	}

	return s.entriesWithRanks(ctx, members)
}

// GetRank returns the 1-based rank of a user.
// Returns ErrUserNotRanked if the user is not in the cache.
func (s *ScoreCache) GetRank(ctx context.Context, userID shared.UserID) (ranking.Rank, error) {
	// ZRevRank is 0-based, 0 = highest score
	rank, err := s.cache.Client().ZRevRank(ctx, keyRankingScore, rankingMember(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrUserNotRanked
		}
		return 0, err
	}

	return ranking.Rank(rank + 1), nil
}

// GetEntry returns the full cached entry for a user, rank included.
func (s *ScoreCache) GetEntry(ctx context.Context, userID shared.UserID) (*ranking.Entry, error) {
	member := rankingMember(userID)

	data, err := s.cache.Client().HGet(ctx, keyRankingInfo, member).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotRanked
		}
		return nil, err
	}

	var cached cachedEntry
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	rank, err := s.GetRank(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &ranking.Entry{
		Rank:   rank,
		UserID: shared.UserID(cached.UserID),
		Handle: shared.Handle(cached.Handle),
		Score:  cached.Score,
	}, nil
}

// Count returns the number of users in the cached ranking.
func (s *ScoreCache) Count(ctx context.Context) (int64, error) {
	return s.cache.Client().ZCard(ctx, keyRankingScore).Result()
}

// Exists reports whether the ranking cache is populated.
func (s *ScoreCache) Exists(ctx context.Context) (bool, error) {
	return s.cache.Exists(ctx, keyRankingScore)
}

// RebuiltAt returns when the cache was last fully rebuilt.
func (s *ScoreCache) RebuiltAt(ctx context.Context) (time.Time, error) {
	data, err := s.cache.Client().Get(ctx, keyRankingMeta).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, ErrCacheMiss
		}
		return time.Time{}, err
	}

	var meta rankingMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return time.Time{}, err
	}
	return meta.RebuiltAt, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Invalidate removes all cached ranking data.
func (s *ScoreCache) Invalidate(ctx context.Context) error {
	return s.cache.Client().Del(ctx, keyRankingScore, keyRankingInfo, keyRankingMeta).Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// entriesWithRanks resolves hash entries for the given members and assigns
// 1-based ranks following the order of members (already rank-sorted).
func (s *ScoreCache) entriesWithRanks(ctx context.Context, members []string) ([]ranking.Entry, error) {
	data, err := s.cache.Client().HMGet(ctx, keyRankingInfo, members...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]ranking.Entry, 0, len(members))
	for i, v := range data {
		str, ok := v.(string)
		if !ok {
			// ZSET member without a hash row: fall back to the score alone.
			score, zerr := s.cache.Client().ZScore(ctx, keyRankingScore, members[i]).Result()
			if zerr != nil {
				continue
			}
			id, _ := strconv.ParseInt(members[i], 10, 64)
			entries = append(entries, ranking.Entry{
				Rank:   ranking.Rank(i + 1),
				UserID: shared.UserID(id),
				Score:  int(score),
			})
			continue
		}

		var cached cachedEntry
		if err := json.Unmarshal([]byte(str), &cached); err != nil {
			continue
		}
		entries = append(entries, ranking.Entry{
			Rank:   ranking.Rank(i + 1),
			UserID: shared.UserID(cached.UserID),
			Handle: shared.Handle(cached.Handle),
			Score:  cached.Score,
		})
	}

	return entries, nil
}
