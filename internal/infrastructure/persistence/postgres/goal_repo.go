// Package postgres implements the PostgreSQL persistence layer for CF Goal Hub.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cf-hub/cf-goal-hub/internal/domain/goal"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GOAL STATE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const goalStateColumns = `
	user_id, handle, daily_goal, weekly_goal, monthly_goal,
	solved_today, solved_this_week, solved_this_month, solved_total,
	streak, best_streak, penalties,
	last_check, last_penalty, last_submission,
	reminder_time, timezone, created_at, updated_at`

// GoalStateRepository implements goal.StateRepository for PostgreSQL.
type GoalStateRepository struct {
	conn *Connection
}

// NewGoalStateRepository creates a new GoalStateRepository.
func NewGoalStateRepository(conn *Connection) *GoalStateRepository {
	return &GoalStateRepository{conn: conn}
}

// Create creates a new user goal state.
func (r *GoalStateRepository) Create(ctx context.Context, s *goal.UserGoalState) error {
	query := `
		INSERT INTO user_goal_states (` + goalStateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.conn.Exec(ctx, query, goalStateArgs(s)...)
	if err != nil {
		if IsUniqueViolation(err) {
			return goal.ErrStateAlreadyExists
		}
		return fmt.Errorf("failed to create goal state: %w", err)
	}
	return nil
}

// GetByUserID returns the state by user ID.
func (r *GoalStateRepository) GetByUserID(ctx context.Context, userID shared.UserID) (*goal.UserGoalState, error) {
	query := `SELECT ` + goalStateColumns + ` FROM user_goal_states WHERE user_id = $1`
	return scanGoalState(r.conn.QueryRow(ctx, query, userID.Int64()))
}

// GetByHandle returns the state by Codeforces handle.
func (r *GoalStateRepository) GetByHandle(ctx context.Context, handle shared.Handle) (*goal.UserGoalState, error) {
	query := `SELECT ` + goalStateColumns + ` FROM user_goal_states WHERE handle = $1`
	return scanGoalState(r.conn.QueryRow(ctx, query, handle.Normalize().String()))
}

// Update updates the state.
func (r *GoalStateRepository) Update(ctx context.Context, s *goal.UserGoalState) error {
	return updateGoalState(ctx, r.conn, s)
}

// Delete deletes the state; category goals, history and rewards go with it.
func (r *GoalStateRepository) Delete(ctx context.Context, userID shared.UserID) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM user_goal_states WHERE user_id = $1`, userID.Int64())
	if err != nil {
		return fmt.Errorf("failed to delete goal state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goal.ErrStateNotFound
	}
	return nil
}

// GetAll returns all states with pagination.
func (r *GoalStateRepository) GetAll(ctx context.Context, opts goal.ListOptions) ([]*goal.UserGoalState, error) {
	order := "ASC"
	if opts.SortDesc {
		order = "DESC"
	}
	sortBy := opts.SortBy
	switch sortBy {
	case "streak", "best_streak", "solved_total", "penalties", "created_at":
	default:
		sortBy = "streak"
	}

	// LIMIT NULL means no limit; callers pass Limit <= 0 for "all".
	var limit interface{}
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	query := fmt.Sprintf(
		`SELECT `+goalStateColumns+` FROM user_goal_states ORDER BY %s %s OFFSET $1 LIMIT $2`,
		sortBy, order,
	)

	rows, err := r.conn.Query(ctx, query, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query goal states: %w", err)
	}
	defer rows.Close()

	return scanGoalStates(rows)
}

// FindStale returns states with last_check older than the threshold.
func (r *GoalStateRepository) FindStale(ctx context.Context, olderThan time.Time) ([]*goal.UserGoalState, error) {
	query := `SELECT ` + goalStateColumns + ` FROM user_goal_states WHERE last_check < $1`

	rows, err := r.conn.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale goal states: %w", err)
	}
	defer rows.Close()

	return scanGoalStates(rows)
}

// FindWithReminder returns states that have a reminder time configured.
func (r *GoalStateRepository) FindWithReminder(ctx context.Context) ([]*goal.UserGoalState, error) {
	query := `SELECT ` + goalStateColumns + ` FROM user_goal_states WHERE reminder_time IS NOT NULL`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminder goal states: %w", err)
	}
	defer rows.Close()

	return scanGoalStates(rows)
}

// Count returns the number of registered users.
func (r *GoalStateRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM user_goal_states`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count goal states: %w", err)
	}
	return count, nil
}

// ApplyRollover persists a rollover outcome atomically: state update,
// history append and milestone reward in one transaction. A conflicting
// reward insert (retry after a crash) is a no-op.
func (r *GoalStateRepository) ApplyRollover(ctx context.Context, s *goal.UserGoalState, result *goal.RolloverResult) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if err := updateGoalState(ctx, tx, s); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, result.Records); err != nil {
			return err
		}
		if result.NewReward != nil {
			if err := insertReward(ctx, tx, result.NewReward); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

func goalStateArgs(s *goal.UserGoalState) []interface{} {
	var reminder *string
	if s.ReminderTime != nil {
		v := s.ReminderTime.String()
		reminder = &v
	}
	return []interface{}{
		s.UserID.Int64(),
		s.Handle.String(),
		s.DailyGoal,
		s.WeeklyGoal,
		s.MonthlyGoal,
		s.SolvedToday,
		s.SolvedThisWeek,
		s.SolvedThisMonth,
		s.SolvedTotal,
		s.Streak,
		s.BestStreak,
		s.Penalties,
		s.LastCheck,
		nullableTime(s.LastPenalty),
		nullableTime(s.LastSubmission),
		reminder,
		s.Timezone,
		s.CreatedAt,
		s.UpdatedAt,
	}
}

func updateGoalState(ctx context.Context, q Querier, s *goal.UserGoalState) error {
	query := `
		UPDATE user_goal_states SET
			handle = $2,
			daily_goal = $3,
			weekly_goal = $4,
			monthly_goal = $5,
			solved_today = $6,
			solved_this_week = $7,
			solved_this_month = $8,
			solved_total = $9,
			streak = $10,
			best_streak = $11,
			penalties = $12,
			last_check = $13,
			last_penalty = $14,
			last_submission = $15,
			reminder_time = $16,
			timezone = $17,
			created_at = $18,
			updated_at = $19
		WHERE user_id = $1
	`

	tag, err := q.Exec(ctx, query, goalStateArgs(s)...)
	if err != nil {
		return fmt.Errorf("failed to update goal state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return goal.ErrStateNotFound
	}
	return nil
}

func scanGoalState(row pgx.Row) (*goal.UserGoalState, error) {
	s, err := scanGoalStateFrom(row.Scan)
	if IsNoRows(err) {
		return nil, goal.ErrStateNotFound
	}
	return s, err
}

func scanGoalStateFrom(scan func(dest ...interface{}) error) (*goal.UserGoalState, error) {
	var s goal.UserGoalState
	var userID int64
	var handle string
	var lastPenalty, lastSubmission *time.Time
	var reminder *string

	err := scan(
		&userID,
		&handle,
		&s.DailyGoal,
		&s.WeeklyGoal,
		&s.MonthlyGoal,
		&s.SolvedToday,
		&s.SolvedThisWeek,
		&s.SolvedThisMonth,
		&s.SolvedTotal,
		&s.Streak,
		&s.BestStreak,
		&s.Penalties,
		&s.LastCheck,
		&lastPenalty,
		&lastSubmission,
		&reminder,
		&s.Timezone,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.UserID = shared.UserID(userID)
	s.Handle = shared.Handle(handle)
	if lastPenalty != nil {
		s.LastPenalty = *lastPenalty
	}
	if lastSubmission != nil {
		s.LastSubmission = *lastSubmission
	}
	if reminder != nil {
		clock, err := timeutil.ParseClock(*reminder)
		if err != nil {
			return nil, fmt.Errorf("stored reminder time is corrupt: %w", err)
		}
		s.ReminderTime = &clock
	}

	return &s, nil
}

func scanGoalStates(rows pgx.Rows) ([]*goal.UserGoalState, error) {
	var states []*goal.UserGoalState
	for rows.Next() {
		s, err := scanGoalStateFrom(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal state: %w", err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return states, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY GOAL REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CategoryGoalRepository implements goal.CategoryRepository for PostgreSQL.
type CategoryGoalRepository struct {
	conn *Connection
}

// NewCategoryGoalRepository creates a new CategoryGoalRepository.
func NewCategoryGoalRepository(conn *Connection) *CategoryGoalRepository {
	return &CategoryGoalRepository{conn: conn}
}

// Upsert creates a category goal or replaces its target, resetting progress.
func (r *CategoryGoalRepository) Upsert(ctx context.Context, g *goal.CategoryGoal) error {
	query := `
		INSERT INTO category_goals (user_id, category_type, category_value, goal_count, current_count, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, category_type, category_value)
		DO UPDATE SET goal_count = $4, current_count = $5, last_updated = $6
	`

	_, err := r.conn.Exec(ctx, query,
		g.UserID.Int64(),
		string(g.Key.Type),
		g.Key.Value(),
		g.GoalCount,
		g.CurrentCount,
		g.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert category goal: %w", err)
	}
	return nil
}

// GetByUser returns all category goals of the user.
func (r *CategoryGoalRepository) GetByUser(ctx context.Context, userID shared.UserID) ([]*goal.CategoryGoal, error) {
	query := `
		SELECT user_id, category_type, category_value, goal_count, current_count, last_updated
		FROM category_goals
		WHERE user_id = $1
		ORDER BY category_type, category_value
	`

	rows, err := r.conn.Query(ctx, query, userID.Int64())
	if err != nil {
		return nil, fmt.Errorf("failed to query category goals: %w", err)
	}
	defer rows.Close()

	var goals []*goal.CategoryGoal
	for rows.Next() {
		var g goal.CategoryGoal
		var userID int64
		var catType, catValue string

		if err := rows.Scan(&userID, &catType, &catValue, &g.GoalCount, &g.CurrentCount, &g.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan category goal: %w", err)
		}

		key, err := goal.ParseCategoryKey(catType, catValue)
		if err != nil {
			return nil, fmt.Errorf("stored category key is corrupt: %w", err)
		}
		g.UserID = shared.UserID(userID)
		g.Key = key
		goals = append(goals, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return goals, nil
}

// UpdateProgress persists the accumulated progress.
func (r *CategoryGoalRepository) UpdateProgress(ctx context.Context, g *goal.CategoryGoal) error {
	query := `
		UPDATE category_goals SET current_count = $4, last_updated = $5
		WHERE user_id = $1 AND category_type = $2 AND category_value = $3
	`

	_, err := r.conn.Exec(ctx, query,
		g.UserID.Int64(), string(g.Key.Type), g.Key.Value(), g.CurrentCount, g.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to update category goal progress: %w", err)
	}
	return nil
}

// Delete removes a category goal.
func (r *CategoryGoalRepository) Delete(ctx context.Context, userID shared.UserID, key goal.CategoryKey) error {
	query := `DELETE FROM category_goals WHERE user_id = $1 AND category_type = $2 AND category_value = $3`

	_, err := r.conn.Exec(ctx, query, userID.Int64(), string(key.Type), key.Value())
	if err != nil {
		return fmt.Errorf("failed to delete category goal: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GOAL HISTORY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// GoalHistoryRepository implements goal.HistoryRepository for PostgreSQL.
type GoalHistoryRepository struct {
	conn *Connection
}

// NewGoalHistoryRepository creates a new GoalHistoryRepository.
func NewGoalHistoryRepository(conn *Connection) *GoalHistoryRepository {
	return &GoalHistoryRepository{conn: conn}
}

// Append appends history records.
func (r *GoalHistoryRepository) Append(ctx context.Context, records []goal.HistoryRecord) error {
	return appendHistory(ctx, r.conn, records)
}

func appendHistory(ctx context.Context, q Querier, records []goal.HistoryRecord) error {
	query := `
		INSERT INTO goal_history (id, user_id, date, goal_type, target, achieved, streak_at_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, date, goal_type) DO NOTHING
	`

	for _, rec := range records {
		_, err := q.Exec(ctx, query,
			rec.ID,
			rec.UserID.Int64(),
			rec.Date,
			string(rec.GoalType),
			rec.Target,
			rec.Achieved,
			rec.StreakAtTime,
			rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append history record: %w", err)
		}
	}
	return nil
}

// GetByUser returns the user's history, newest first.
func (r *GoalHistoryRepository) GetByUser(ctx context.Context, userID shared.UserID, opts goal.ListOptions) ([]goal.HistoryRecord, error) {
	query := `
		SELECT id, user_id, date, goal_type, target, achieved, streak_at_time, created_at
		FROM goal_history
		WHERE user_id = $1
		ORDER BY date DESC, goal_type
		OFFSET $2 LIMIT $3
	`

	rows, err := r.conn.Query(ctx, query, userID.Int64(), opts.Offset, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanHistoryRecords(rows)
}

// GetByUserAndType returns the user's history for one goal type.
func (r *GoalHistoryRepository) GetByUserAndType(ctx context.Context, userID shared.UserID, goalType goal.GoalType, opts goal.ListOptions) ([]goal.HistoryRecord, error) {
	query := `
		SELECT id, user_id, date, goal_type, target, achieved, streak_at_time, created_at
		FROM goal_history
		WHERE user_id = $1 AND goal_type = $2
		ORDER BY date DESC
		OFFSET $3 LIMIT $4
	`

	rows, err := r.conn.Query(ctx, query, userID.Int64(), string(goalType), opts.Offset, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanHistoryRecords(rows)
}

func scanHistoryRecords(rows pgx.Rows) ([]goal.HistoryRecord, error) {
	var records []goal.HistoryRecord
	for rows.Next() {
		var rec goal.HistoryRecord
		var userID int64
		var goalType string

		err := rows.Scan(&rec.ID, &userID, &rec.Date, &goalType, &rec.Target, &rec.Achieved, &rec.StreakAtTime, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}

		rec.UserID = shared.UserID(userID)
		rec.GoalType = goal.GoalType(goalType)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REWARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StreakRewardRepository implements goal.RewardRepository for PostgreSQL.
type StreakRewardRepository struct {
	conn *Connection
}

// NewStreakRewardRepository creates a new StreakRewardRepository.
func NewStreakRewardRepository(conn *Connection) *StreakRewardRepository {
	return &StreakRewardRepository{conn: conn}
}

// Create creates a reward; a duplicate insert for the same milestone is
// ignored.
func (r *StreakRewardRepository) Create(ctx context.Context, reward *goal.StreakReward) error {
	return insertReward(ctx, r.conn, reward)
}

func insertReward(ctx context.Context, q Querier, reward *goal.StreakReward) error {
	query := `
		INSERT INTO streak_rewards (user_id, streak_length, reward_type, reward_value, claimed, claimed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, streak_length) DO NOTHING
	`

	_, err := q.Exec(ctx, query,
		reward.UserID.Int64(),
		reward.StreakLength,
		string(reward.RewardType),
		reward.RewardValue,
		reward.Claimed,
		nullableTime(reward.ClaimedAt),
		reward.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create streak reward: %w", err)
	}
	return nil
}

// GetByUser returns the user's rewards, newest milestone first.
func (r *StreakRewardRepository) GetByUser(ctx context.Context, userID shared.UserID, unclaimedOnly bool) ([]*goal.StreakReward, error) {
	query := `
		SELECT user_id, streak_length, reward_type, reward_value, claimed, claimed_at, created_at
		FROM streak_rewards
		WHERE user_id = $1
	`
	if unclaimedOnly {
		query += ` AND claimed = FALSE`
	}
	query += ` ORDER BY streak_length DESC`

	rows, err := r.conn.Query(ctx, query, userID.Int64())
	if err != nil {
		return nil, fmt.Errorf("failed to query streak rewards: %w", err)
	}
	defer rows.Close()

	var rewards []*goal.StreakReward
	for rows.Next() {
		var reward goal.StreakReward
		var userID int64
		var rewardType string
		var claimedAt *time.Time

		err := rows.Scan(&userID, &reward.StreakLength, &rewardType, &reward.RewardValue, &reward.Claimed, &claimedAt, &reward.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan streak reward: %w", err)
		}

		reward.UserID = shared.UserID(userID)
		reward.RewardType = goal.RewardType(rewardType)
		if claimedAt != nil {
			reward.ClaimedAt = *claimedAt
		}
		rewards = append(rewards, &reward)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rewards, nil
}

// MarkClaimed flips claimed to true with a conditional update, so exactly
// one of several concurrent claims succeeds.
func (r *StreakRewardRepository) MarkClaimed(ctx context.Context, userID shared.UserID, streakLength int, claimedAt time.Time) (*goal.StreakReward, error) {
	query := `
		UPDATE streak_rewards
		SET claimed = TRUE, claimed_at = $3
		WHERE user_id = $1 AND streak_length = $2 AND claimed = FALSE
		RETURNING user_id, streak_length, reward_type, reward_value, claimed, claimed_at, created_at
	`

	var reward goal.StreakReward
	var uid int64
	var rewardType string
	var claimed *time.Time

	err := r.conn.QueryRow(ctx, query, userID.Int64(), streakLength, claimedAt).
		Scan(&uid, &reward.StreakLength, &rewardType, &reward.RewardValue, &reward.Claimed, &claimed, &reward.CreatedAt)
	if IsNoRows(err) {
		// Either the reward does not exist, or it was already claimed.
		var exists bool
		checkErr := r.conn.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM streak_rewards WHERE user_id = $1 AND streak_length = $2)`,
			userID.Int64(), streakLength,
		).Scan(&exists)
		if checkErr != nil {
			return nil, fmt.Errorf("failed to check streak reward: %w", checkErr)
		}
		if exists {
			return nil, goal.ErrAlreadyClaimed
		}
		return nil, goal.ErrRewardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim streak reward: %w", err)
	}

	reward.UserID = shared.UserID(uid)
	reward.RewardType = goal.RewardType(rewardType)
	if claimed != nil {
		reward.ClaimedAt = *claimed
	}
	return &reward, nil
}
