// Package codeforces implements the Codeforces API client.
package codeforces

import (
	"fmt"
	"sort"
	"time"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to Domain Entity transformations
// ══════════════════════════════════════════════════════════════════════════════

// Mapper handles transformation between Codeforces API DTOs and domain types.
// This is the anti-corruption layer: the rest of the system never sees raw
// API shapes.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// ProblemID builds the canonical problem identifier, e.g. "1700A".
func (m *Mapper) ProblemID(p ProblemDTO) shared.ProblemID {
	return shared.ProblemID(fmt.Sprintf("%d%s", p.ContestID, p.Index))
}

// SolveEventsFromSubmissions converts accepted submissions after `since`
// into solve events, sorted by submission time ascending. The consumers
// rely on non-decreasing order for their dedup watermark.
func (m *Mapper) SolveEventsFromSubmissions(submissions []SubmissionDTO, since time.Time) []shared.SolveEvent {
	events := make([]shared.SolveEvent, 0, len(submissions))
	for _, sub := range submissions {
		if !sub.IsAccepted() {
			continue
		}

		at := sub.CreationTime()
		if !at.After(since) {
			continue
		}

		events = append(events, shared.SolveEvent{
			SubmissionID: sub.ID,
			ProblemID:    m.ProblemID(sub.Problem),
			Rating:       sub.Problem.Rating,
			Tags:         sub.Problem.Tags,
			SubmittedAt:  at,
		})
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].SubmittedAt.Before(events[j].SubmittedAt)
	})
	return events
}
