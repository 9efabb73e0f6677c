package command

import (
	"fmt"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOCK KEYS
// Handlers load an aggregate, mutate it and save it back; the per-key mutex
// (pkg/keymutex) keeps those cycles from interleaving. One key per user's
// goal state, one per contest.
// ══════════════════════════════════════════════════════════════════════════════

// userLockKey returns the lock key for a user's goal state.
func userLockKey(userID shared.UserID) string {
	return fmt.Sprintf("user:%d", userID.Int64())
}

// contestLockKey returns the lock key for a contest aggregate.
func contestLockKey(contestID string) string {
	return "contest:" + contestID
}
