// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID represents the chat-layer identity of a user. The command layer
// (out of scope here) guarantees it is stable and positive.
type UserID int64

// IsValid checks if the user ID is valid (positive number).
func (u UserID) IsValid() bool {
	return u > 0
}

// Int64 returns the underlying int64 value.
func (u UserID) Int64() int64 {
	return int64(u)
}

// String returns the string representation.
func (u UserID) String() string {
	return fmt.Sprintf("%d", u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id int64) (UserID, error) {
	if id <= 0 {
		return 0, ErrInvalidUserID
	}
	return UserID(id), nil
}

// Handle represents a Codeforces handle.
type Handle string

// Codeforces handles: letters, digits, underscore, hyphen and dot, 3-24 chars.
var handleRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{3,24}$`)

// IsValid checks if the handle is well-formed.
func (h Handle) IsValid() bool {
	return handleRegex.MatchString(string(h))
}

// String returns the string representation.
func (h Handle) String() string {
	return string(h)
}

// Normalize returns a lowercase version of the handle. Codeforces treats
// handles case-insensitively, so all storage keys use the normalized form.
func (h Handle) Normalize() Handle {
	return Handle(strings.ToLower(string(h)))
}

// NewHandle creates a new Handle with validation.
func NewHandle(s string) (Handle, error) {
	h := Handle(strings.TrimSpace(s))
	if !h.IsValid() {
		return "", ErrInvalidHandle
	}
	return h.Normalize(), nil
}

// ProblemID identifies a Codeforces problem, e.g. "1883B" (contest id + index).
type ProblemID string

// IsValid checks the problem ID is non-empty.
func (p ProblemID) IsValid() bool {
	return len(p) > 0
}

// String returns the string representation.
func (p ProblemID) String() string {
	return string(p)
}

// Value object errors.
var (
	ErrInvalidUserID = NewDomainError("shared", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidHandle = NewDomainError("shared", "Validate", ErrInvalidID, "invalid Codeforces handle")
)
