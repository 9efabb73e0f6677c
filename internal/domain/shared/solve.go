package shared

import "time"

// SolveEvent represents one accepted Codeforces submission, as reported by
// the external data client. It is trusted verbatim: the core does not
// re-judge submissions.
type SolveEvent struct {
	// SubmissionID is the Codeforces submission identifier.
	SubmissionID int64

	// ProblemID identifies the solved problem, e.g. "1883B".
	ProblemID ProblemID

	// Rating is the problem difficulty rating (0 when unrated).
	Rating int

	// Tags are the problem tags, e.g. "dp", "graphs".
	Tags []string

	// SubmittedAt is the submission creation time.
	SubmittedAt time.Time
}

// IsValid checks the event carries the minimum required identity.
func (e SolveEvent) IsValid() bool {
	return e.SubmissionID > 0 && e.ProblemID.IsValid() && !e.SubmittedAt.IsZero()
}

// HasTag reports whether the problem carries the given tag.
func (e SolveEvent) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
