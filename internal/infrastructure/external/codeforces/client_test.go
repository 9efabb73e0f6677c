package codeforces

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionDTO_Parsing(t *testing.T) {
	jsonData := `{
    "status": "OK",
    "result": [
        {
            "id": 123456789,
            "contestId": 1700,
            "creationTimeSeconds": 1767350400,
            "problem": {
                "contestId": 1700,
                "index": "A",
                "name": "Two Chess Pieces",
                "rating": 800,
                "tags": ["constructive algorithms", "math"]
            },
            "verdict": "OK",
            "programmingLanguage": "GNU C++20"
        },
        {
            "id": 123456790,
            "contestId": 1700,
            "creationTimeSeconds": 1767350500,
            "problem": {
                "contestId": 1700,
                "index": "B",
                "name": "Palindromic Numbers",
                "tags": ["math"]
            },
            "verdict": "WRONG_ANSWER",
            "programmingLanguage": "GNU C++20"
        }
    ]
}`

	var response APIResponse[[]SubmissionDTO]
	err := json.Unmarshal([]byte(jsonData), &response)
	require.NoError(t, err)

	assert.True(t, response.IsOK())
	require.Len(t, response.Result, 2)

	accepted := response.Result[0]
	assert.Equal(t, int64(123456789), accepted.ID)
	assert.True(t, accepted.IsAccepted())
	assert.Equal(t, "A", accepted.Problem.Index)
	assert.Equal(t, 800, accepted.Problem.Rating)
	assert.Equal(t, []string{"constructive algorithms", "math"}, accepted.Problem.Tags)
	assert.Equal(t, time.Unix(1767350400, 0).UTC(), accepted.CreationTime())

	rejected := response.Result[1]
	assert.False(t, rejected.IsAccepted())
	assert.Equal(t, 0, rejected.Problem.Rating, "rating is optional")
}

func TestAPIResponse_Failed(t *testing.T) {
	jsonData := `{"status":"FAILED","comment":"handles: User with handle nosuchuser not found"}`

	var response APIResponse[json.RawMessage]
	err := json.Unmarshal([]byte(jsonData), &response)
	require.NoError(t, err)

	assert.False(t, response.IsOK())
	assert.ErrorIs(t, classifyComment(response.Comment), ErrUnknownHandle)
}

func TestClassifyComment_Unavailable(t *testing.T) {
	assert.ErrorIs(t, classifyComment("Call limit exceeded"), ErrAPIUnavailable)
}

func TestMapper_SolveEventsFromSubmissions(t *testing.T) {
	mapper := NewMapper()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	submissions := []SubmissionDTO{
		{
			ID:                  3,
			CreationTimeSeconds: base.Add(2 * time.Hour).Unix(),
			Problem:             ProblemDTO{ContestID: 1700, Index: "B", Rating: 1200, Tags: []string{"dp"}},
			Verdict:             "OK",
		},
		{
			ID:                  2,
			CreationTimeSeconds: base.Add(time.Hour).Unix(),
			Problem:             ProblemDTO{ContestID: 1700, Index: "A", Rating: 800},
			Verdict:             "OK",
		},
		{
			// Rejected verdicts are skipped.
			ID:                  4,
			CreationTimeSeconds: base.Add(3 * time.Hour).Unix(),
			Problem:             ProblemDTO{ContestID: 1700, Index: "C"},
			Verdict:             "TIME_LIMIT_EXCEEDED",
		},
		{
			// At or before `since` is skipped.
			ID:                  1,
			CreationTimeSeconds: base.Unix(),
			Problem:             ProblemDTO{ContestID: 1600, Index: "A"},
			Verdict:             "OK",
		},
	}

	events := mapper.SolveEventsFromSubmissions(submissions, base)
	require.Len(t, events, 2)

	// Ascending submission time, regardless of API order.
	assert.Equal(t, int64(2), events[0].SubmissionID)
	assert.Equal(t, "1700A", string(events[0].ProblemID))
	assert.Equal(t, 800, events[0].Rating)
	assert.Equal(t, int64(3), events[1].SubmissionID)
	assert.Equal(t, "1700B", string(events[1].ProblemID))
	assert.True(t, events[0].SubmittedAt.Before(events[1].SubmittedAt))
}

func TestMapper_ProblemID(t *testing.T) {
	mapper := NewMapper()
	assert.Equal(t, "1700A", string(mapper.ProblemID(ProblemDTO{ContestID: 1700, Index: "A"})))
}
