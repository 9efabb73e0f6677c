// Package postgres implements the PostgreSQL persistence layer for CF Goal Hub.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cf-hub/cf-goal-hub/internal/domain/contest"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEST REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ContestRepository implements contest.Repository for PostgreSQL.
// Агрегат сохраняется целиком: соревнование, участники и зачтённые
// задачи записываются в одной транзакции.
type ContestRepository struct {
	conn *Connection
}

// NewContestRepository creates a new ContestRepository.
func NewContestRepository(conn *Connection) *ContestRepository {
	return &ContestRepository{conn: conn}
}

// Create creates a contest.
func (r *ContestRepository) Create(ctx context.Context, c *contest.Contest) error {
	query := `
		INSERT INTO contests (id, name, duration_seconds, created_by, status, start_time, end_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.conn.Exec(ctx, query,
		c.ID,
		c.Name,
		int64(c.Duration.Seconds()),
		c.CreatedBy.Int64(),
		string(c.Status),
		nullableTime(c.StartTime),
		nullableTime(c.EndTime),
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contest: %w", err)
	}
	return nil
}

// GetByID returns the full aggregate: contest, participants and their
// credited problems.
func (r *ContestRepository) GetByID(ctx context.Context, id string) (*contest.Contest, error) {
	query := `
		SELECT id, name, duration_seconds, created_by, status, start_time, end_time, created_at, updated_at
		FROM contests
		WHERE id = $1
	`

	c, err := scanContest(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := r.loadParticipants(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update persists the whole aggregate in one transaction. Participant rows
// are replaced; the credited-problem set only grows, so rewriting it is
// safe.
func (r *ContestRepository) Update(ctx context.Context, c *contest.Contest) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE contests SET
				name = $2, duration_seconds = $3, status = $4,
				start_time = $5, end_time = $6, updated_at = $7
			WHERE id = $1
		`,
			c.ID,
			c.Name,
			int64(c.Duration.Seconds()),
			string(c.Status),
			nullableTime(c.StartTime),
			nullableTime(c.EndTime),
			c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update contest: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return contest.ErrContestNotFound
		}

		return r.replaceParticipants(ctx, tx, c)
	})
}

// UpdateIfActive persists the aggregate only when the stored row is still
// active. Returns contest.ErrNotActive otherwise, so background solve
// crediting cannot resurrect a contest that was ended concurrently.
func (r *ContestRepository) UpdateIfActive(ctx context.Context, c *contest.Contest) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE contests SET
				name = $2, duration_seconds = $3, status = $4,
				start_time = $5, end_time = $6, updated_at = $7
			WHERE id = $1 AND status = 'active'
		`,
			c.ID,
			c.Name,
			int64(c.Duration.Seconds()),
			string(c.Status),
			nullableTime(c.StartTime),
			nullableTime(c.EndTime),
			c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update contest: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var status string
			err := tx.QueryRow(ctx, `SELECT status FROM contests WHERE id = $1`, c.ID).Scan(&status)
			if IsNoRows(err) {
				return contest.ErrContestNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to check contest status: %w", err)
			}
			return contest.ErrNotActive
		}

		return r.replaceParticipants(ctx, tx, c)
	})
}

// replaceParticipants rewrites the participant rows of the aggregate.
// The credited-problem set only grows, so rewriting it is safe.
func (r *ContestRepository) replaceParticipants(ctx context.Context, tx pgx.Tx, c *contest.Contest) error {
	if _, err := tx.Exec(ctx, `DELETE FROM contest_participants WHERE contest_id = $1`, c.ID); err != nil {
		return fmt.Errorf("failed to clear participants: %w", err)
	}

	for _, p := range c.Participants {
		_, err := tx.Exec(ctx, `
			INSERT INTO contest_participants (contest_id, user_id, handle, score, joined_at)
			VALUES ($1, $2, $3, $4, $5)
		`, c.ID, p.UserID.Int64(), p.Handle.String(), p.Score, p.JoinedAt)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}

		for problemID := range p.Solved {
			_, err := tx.Exec(ctx, `
				INSERT INTO contest_solved_problems (contest_id, user_id, problem_id)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, c.ID, p.UserID.Int64(), string(problemID))
			if err != nil {
				return fmt.Errorf("failed to insert solved problem: %w", err)
			}
		}
	}
	return nil
}

// ListOpen returns non-ended contests, newest first.
func (r *ContestRepository) ListOpen(ctx context.Context) ([]*contest.Contest, error) {
	query := `
		SELECT id, name, duration_seconds, created_by, status, start_time, end_time, created_at, updated_at
		FROM contests
		WHERE status != 'ended'
		ORDER BY created_at DESC
	`
	return r.queryContests(ctx, query)
}

// FindActiveByParticipant returns active contests the user participates in.
func (r *ContestRepository) FindActiveByParticipant(ctx context.Context, userID shared.UserID) ([]*contest.Contest, error) {
	query := `
		SELECT c.id, c.name, c.duration_seconds, c.created_by, c.status, c.start_time, c.end_time, c.created_at, c.updated_at
		FROM contests c
		JOIN contest_participants cp ON cp.contest_id = c.id
		WHERE c.status = 'active' AND cp.user_id = $1
	`
	return r.queryContests(ctx, query, userID.Int64())
}

// FindExpired returns active contests whose scheduled end has passed.
func (r *ContestRepository) FindExpired(ctx context.Context) ([]*contest.Contest, error) {
	query := `
		SELECT id, name, duration_seconds, created_by, status, start_time, end_time, created_at, updated_at
		FROM contests
		WHERE status = 'active' AND end_time <= NOW()
	`
	return r.queryContests(ctx, query)
}

// SumEndedScores returns each user's total score across ended contests.
func (r *ContestRepository) SumEndedScores(ctx context.Context) (map[shared.UserID]int, error) {
	query := `
		SELECT p.user_id, COALESCE(SUM(p.score), 0)
		FROM contest_participants p
		JOIN contests c ON c.id = p.contest_id
		WHERE c.status = 'ended'
		GROUP BY p.user_id
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to sum contest scores: %w", err)
	}
	defer rows.Close()

	totals := make(map[shared.UserID]int)
	for rows.Next() {
		var userID int64
		var score int
		if err := rows.Scan(&userID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan contest score: %w", err)
		}
		totals[shared.UserID(userID)] = score
	}
	return totals, rows.Err()
}

// SumEndedScoresByUser returns one user's total score across ended contests.
func (r *ContestRepository) SumEndedScoresByUser(ctx context.Context, userID shared.UserID) (int, error) {
	query := `
		SELECT COALESCE(SUM(p.score), 0)
		FROM contest_participants p
		JOIN contests c ON c.id = p.contest_id
		WHERE c.status = 'ended' AND p.user_id = $1
	`

	var total int
	if err := r.conn.QueryRow(ctx, query, userID.Int64()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum contest scores for user: %w", err)
	}
	return total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *ContestRepository) queryContests(ctx context.Context, query string, args ...interface{}) ([]*contest.Contest, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contests: %w", err)
	}
	defer rows.Close()

	var contests []*contest.Contest
	for rows.Next() {
		c, err := scanContestFrom(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contest: %w", err)
		}
		contests = append(contests, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	for _, c := range contests {
		if err := r.loadParticipants(ctx, c); err != nil {
			return nil, err
		}
	}
	return contests, nil
}

func (r *ContestRepository) loadParticipants(ctx context.Context, c *contest.Contest) error {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, handle, score, joined_at
		FROM contest_participants
		WHERE contest_id = $1
		ORDER BY joined_at
	`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	c.Participants = nil
	for rows.Next() {
		var p contest.Participant
		var userID int64
		var handle string

		if err := rows.Scan(&userID, &handle, &p.Score, &p.JoinedAt); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		p.ContestID = c.ID
		p.UserID = shared.UserID(userID)
		p.Handle = shared.Handle(handle)
		p.Solved = make(map[shared.ProblemID]struct{})
		c.Participants = append(c.Participants, &p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}

	solvedRows, err := r.conn.Query(ctx, `
		SELECT user_id, problem_id
		FROM contest_solved_problems
		WHERE contest_id = $1
	`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to query solved problems: %w", err)
	}
	defer solvedRows.Close()

	for solvedRows.Next() {
		var userID int64
		var problemID string
		if err := solvedRows.Scan(&userID, &problemID); err != nil {
			return fmt.Errorf("failed to scan solved problem: %w", err)
		}
		if p, ok := c.Participant(shared.UserID(userID)); ok {
			p.Solved[shared.ProblemID(problemID)] = struct{}{}
		}
	}
	return solvedRows.Err()
}

func scanContest(row pgx.Row) (*contest.Contest, error) {
	c, err := scanContestFrom(row.Scan)
	if IsNoRows(err) {
		return nil, contest.ErrContestNotFound
	}
	return c, err
}

func scanContestFrom(scan func(dest ...interface{}) error) (*contest.Contest, error) {
	var c contest.Contest
	var durationSeconds, createdBy int64
	var status string
	var startTime, endTime *time.Time

	err := scan(
		&c.ID,
		&c.Name,
		&durationSeconds,
		&createdBy,
		&status,
		&startTime,
		&endTime,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Duration = time.Duration(durationSeconds) * time.Second
	c.CreatedBy = shared.UserID(createdBy)
	c.Status = contest.Status(status)
	if startTime != nil {
		c.StartTime = *startTime
	}
	if endTime != nil {
		c.EndTime = *endTime
	}
	return &c, nil
}
