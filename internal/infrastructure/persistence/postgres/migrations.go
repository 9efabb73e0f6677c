// Package postgres implements the PostgreSQL persistence layer for CF Goal Hub.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE USER GOAL STATES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create user goal state tables
-- Version: 001

-- Main per-user goal/streak state
CREATE TABLE IF NOT EXISTS user_goal_states (
    user_id BIGINT PRIMARY KEY,
    handle VARCHAR(24) NOT NULL UNIQUE,
    daily_goal INTEGER NOT NULL DEFAULT 0,
    weekly_goal INTEGER NOT NULL DEFAULT 0,
    monthly_goal INTEGER NOT NULL DEFAULT 0,
    solved_today INTEGER NOT NULL DEFAULT 0,
    solved_this_week INTEGER NOT NULL DEFAULT 0,
    solved_this_month INTEGER NOT NULL DEFAULT 0,
    solved_total INTEGER NOT NULL DEFAULT 0,
    streak INTEGER NOT NULL DEFAULT 0,
    best_streak INTEGER NOT NULL DEFAULT 0,
    penalties INTEGER NOT NULL DEFAULT 0,
    last_check TIMESTAMP WITH TIME ZONE NOT NULL,
    last_penalty TIMESTAMP WITH TIME ZONE,
    last_submission TIMESTAMP WITH TIME ZONE,
    reminder_time VARCHAR(5),
    timezone VARCHAR(50) NOT NULL DEFAULT 'UTC',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- Constraints for data integrity
    CONSTRAINT valid_goals CHECK (daily_goal >= 0 AND weekly_goal >= 0 AND monthly_goal >= 0),
    CONSTRAINT valid_counters CHECK (
        solved_today >= 0 AND solved_this_week >= 0 AND
        solved_this_month >= 0 AND solved_total >= 0
    ),
    CONSTRAINT valid_streaks CHECK (streak >= 0 AND best_streak >= 0 AND penalties >= 0)
);

CREATE INDEX IF NOT EXISTS idx_goal_states_handle ON user_goal_states(handle);
CREATE INDEX IF NOT EXISTS idx_goal_states_last_check ON user_goal_states(last_check);
CREATE INDEX IF NOT EXISTS idx_goal_states_streak ON user_goal_states(streak DESC);
CREATE INDEX IF NOT EXISTS idx_goal_states_reminder ON user_goal_states(reminder_time)
    WHERE reminder_time IS NOT NULL;

-- Per-category goals, unique by (user, type, value)
CREATE TABLE IF NOT EXISTS category_goals (
    user_id BIGINT NOT NULL REFERENCES user_goal_states(user_id) ON DELETE CASCADE,
    category_type VARCHAR(10) NOT NULL,
    category_value VARCHAR(50) NOT NULL,
    goal_count INTEGER NOT NULL,
    current_count INTEGER NOT NULL DEFAULT 0,
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, category_type, category_value),
    CONSTRAINT valid_category_type CHECK (category_type IN ('rating', 'tag')),
    CONSTRAINT valid_category_counts CHECK (goal_count > 0 AND current_count >= 0)
);
`

const migration001Down = `
DROP TABLE IF EXISTS category_goals;
DROP TABLE IF EXISTS user_goal_states;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE GOAL HISTORY AND REWARDS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create goal history and streak reward tables
-- Version: 002

-- Append-only period outcomes; rows are never updated or deleted
CREATE TABLE IF NOT EXISTS goal_history (
    id UUID PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES user_goal_states(user_id) ON DELETE CASCADE,
    date DATE NOT NULL,
    goal_type VARCHAR(10) NOT NULL,
    target INTEGER NOT NULL,
    achieved INTEGER NOT NULL,
    streak_at_time INTEGER NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_goal_type CHECK (goal_type IN ('daily', 'weekly', 'monthly', 'category')),
    -- One record per user per period per rollover
    CONSTRAINT uniq_history_period UNIQUE (user_id, date, goal_type)
);

CREATE INDEX IF NOT EXISTS idx_goal_history_user ON goal_history(user_id, date DESC);

-- Streak milestone rewards; claimed flips false -> true exactly once
CREATE TABLE IF NOT EXISTS streak_rewards (
    user_id BIGINT NOT NULL REFERENCES user_goal_states(user_id) ON DELETE CASCADE,
    streak_length INTEGER NOT NULL,
    reward_type VARCHAR(10) NOT NULL,
    reward_value INTEGER NOT NULL,
    claimed BOOLEAN NOT NULL DEFAULT FALSE,
    claimed_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, streak_length),
    CONSTRAINT valid_reward_type CHECK (reward_type IN ('weekly', 'monthly')),
    CONSTRAINT valid_reward CHECK (streak_length > 0 AND reward_value > 0)
);

CREATE INDEX IF NOT EXISTS idx_streak_rewards_unclaimed ON streak_rewards(user_id)
    WHERE claimed = FALSE;
`

const migration002Down = `
DROP TABLE IF EXISTS streak_rewards;
DROP TABLE IF EXISTS goal_history;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE CONTESTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create contest tables
-- Version: 003

CREATE TABLE IF NOT EXISTS contests (
    id UUID PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    duration_seconds BIGINT NOT NULL,
    created_by BIGINT NOT NULL,
    status VARCHAR(10) NOT NULL DEFAULT 'created',
    start_time TIMESTAMP WITH TIME ZONE,
    end_time TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_status CHECK (status IN ('created', 'active', 'ended')),
    CONSTRAINT valid_duration CHECK (duration_seconds > 0)
);

CREATE INDEX IF NOT EXISTS idx_contests_status ON contests(status) WHERE status != 'ended';
CREATE INDEX IF NOT EXISTS idx_contests_created_at ON contests(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_contests_expiry ON contests(end_time)
    WHERE status = 'active';

CREATE TABLE IF NOT EXISTS contest_participants (
    contest_id UUID NOT NULL REFERENCES contests(id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL,
    handle VARCHAR(24) NOT NULL,
    score INTEGER NOT NULL DEFAULT 0,
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (contest_id, user_id),
    CONSTRAINT valid_score CHECK (score >= 0)
);

CREATE INDEX IF NOT EXISTS idx_participants_user ON contest_participants(user_id);

-- Problems already credited per participant; survives restarts so a
-- problem never scores twice within one contest
CREATE TABLE IF NOT EXISTS contest_solved_problems (
    contest_id UUID NOT NULL,
    user_id BIGINT NOT NULL,
    problem_id VARCHAR(20) NOT NULL,
    solved_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (contest_id, user_id, problem_id),
    FOREIGN KEY (contest_id, user_id)
        REFERENCES contest_participants(contest_id, user_id) ON DELETE CASCADE
);
`

const migration003Down = `
DROP TABLE IF EXISTS contest_solved_problems;
DROP TABLE IF EXISTS contest_participants;
DROP TABLE IF EXISTS contests;
`
