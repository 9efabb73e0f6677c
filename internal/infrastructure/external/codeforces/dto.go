package codeforces

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// API RESPONSE WRAPPER
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse is the standard Codeforces API envelope. Status is "OK" on
// success and "FAILED" with a human-readable Comment otherwise.
type APIResponse[T any] struct {
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
	Result  T      `json:"result"`
}

// IsOK reports whether the API call succeeded.
func (r APIResponse[T]) IsOK() bool {
	return r.Status == "OK"
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ProblemDTO describes a problem attached to a submission.
type ProblemDTO struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int      `json:"rating,omitempty"`
	Tags      []string `json:"tags"`
}

// SubmissionDTO is one entry of the user.status result.
type SubmissionDTO struct {
	ID                  int64      `json:"id"`
	ContestID           int        `json:"contestId"`
	CreationTimeSeconds int64      `json:"creationTimeSeconds"`
	Problem             ProblemDTO `json:"problem"`
	Verdict             string     `json:"verdict"`
	ProgrammingLanguage string     `json:"programmingLanguage"`
}

// CreationTime returns the submission time as UTC.
func (s SubmissionDTO) CreationTime() time.Time {
	return time.Unix(s.CreationTimeSeconds, 0).UTC()
}

// IsAccepted reports whether the submission passed all tests.
func (s SubmissionDTO) IsAccepted() bool {
	return s.Verdict == "OK"
}

// ══════════════════════════════════════════════════════════════════════════════
// USER DTOs
// ══════════════════════════════════════════════════════════════════════════════

// UserDTO is one entry of the user.info result.
type UserDTO struct {
	Handle    string `json:"handle"`
	Rating    int    `json:"rating,omitempty"`
	MaxRating int    `json:"maxRating,omitempty"`
	Rank      string `json:"rank,omitempty"`
	MaxRank   string `json:"maxRank,omitempty"`
}
