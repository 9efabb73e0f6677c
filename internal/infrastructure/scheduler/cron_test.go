package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronSchedule(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "every minute", expr: "* * * * *"},
		{name: "every 5 minutes", expr: "*/5 * * * *"},
		{name: "daily at 04:00", expr: "0 4 * * *"},
		{name: "sunday midnight", expr: "0 0 * * 0"},
		{name: "list of hours", expr: "0 9,21 * * *"},
		{name: "hour range", expr: "0 9-18 * * *"},
		{name: "too few fields", expr: "* * * *", wantErr: true},
		{name: "minute out of range", expr: "61 * * * *", wantErr: true},
		{name: "garbage field", expr: "x * * * *", wantErr: true},
		{name: "zero step", expr: "*/0 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := ParseCronSchedule(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expr, cs.String())
		})
	}
}

func TestCronScheduleNext(t *testing.T) {
	// Monday 2026-01-05 12:30 UTC.
	base := time.Date(2026, 1, 5, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{
			name: "every minute advances by one",
			expr: "* * * * *",
			want: time.Date(2026, 1, 5, 12, 31, 0, 0, time.UTC),
		},
		{
			name: "daily at 04:00 rolls to next day",
			expr: "0 4 * * *",
			want: time.Date(2026, 1, 6, 4, 0, 0, 0, time.UTC),
		},
		{
			name: "every 15 minutes snaps to the grid",
			expr: "*/15 * * * *",
			want: time.Date(2026, 1, 5, 12, 45, 0, 0, time.UTC),
		},
		{
			name: "next sunday",
			expr: "0 0 * * 0",
			want: time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := MustParseCronSchedule(tt.expr)
			assert.Equal(t, tt.want, cs.Next(base))
		})
	}
}

func TestCronScheduleNeverReturnsInput(t *testing.T) {
	// Exactly on a match: Next must move past it.
	cs := MustParseCronSchedule("0 4 * * *")
	at := time.Date(2026, 1, 5, 4, 0, 0, 0, time.UTC)
	next := cs.Next(at)
	assert.Equal(t, time.Date(2026, 1, 6, 4, 0, 0, 0, time.UTC), next)
}
