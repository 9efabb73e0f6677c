package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDate_DayStartOffset(t *testing.T) {
	loc, err := LoadZone("Europe/Moscow") // UTC+3
	require.NoError(t, err)

	// 02:00 local is before the 04:00 day start, so it belongs to the previous date.
	at := time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC) // 02:00 Mar 16 in Moscow
	date := LocalDate(at, loc, DefaultDayStart)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), date)

	// 05:00 local is after the day start, same calendar date.
	at = time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC) // 05:00 Mar 16 in Moscow
	date = LocalDate(at, loc, DefaultDayStart)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), date)
}

func TestLocalDate_ZeroOffset(t *testing.T) {
	at := time.Date(2024, 3, 16, 0, 30, 0, 0, time.UTC)
	date := LocalDate(at, time.UTC, 0)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), date)
}

func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
		want time.Time
	}{
		{"monday maps to itself", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"wednesday maps to monday", time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"sunday maps to previous monday", time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StartOfWeek(tt.date))
		})
	}
}

func TestPeriodBoundaryCrossed(t *testing.T) {
	loc := time.UTC

	tests := []struct {
		name   string
		last   time.Time
		now    time.Time
		period Period
		want   bool
	}{
		{
			name:   "same day no crossing",
			last:   time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
			now:    time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC),
			period: PeriodDay,
			want:   false,
		},
		{
			name:   "midnight does not cross before day start",
			last:   time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC),
			now:    time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC),
			period: PeriodDay,
			want:   false,
		},
		{
			name:   "day start crossing",
			last:   time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC),
			now:    time.Date(2024, 3, 16, 5, 0, 0, 0, time.UTC),
			period: PeriodDay,
			want:   true,
		},
		{
			name:   "sunday to monday crosses week",
			last:   time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC),
			now:    time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC),
			period: PeriodWeek,
			want:   true,
		},
		{
			name:   "within week no crossing",
			last:   time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC),
			now:    time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
			period: PeriodWeek,
			want:   false,
		},
		{
			name:   "month rollover",
			last:   time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC),
			now:    time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
			period: PeriodMonth,
			want:   true,
		},
		{
			name:   "zero lastCheck never crosses",
			last:   time.Time{},
			now:    time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
			period: PeriodDay,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PeriodBoundaryCrossed(tt.last, tt.now, loc, DefaultDayStart, tt.period)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadZone(t *testing.T) {
	loc, err := LoadZone("Asia/Almaty")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Almaty", loc.String())

	loc, err = LoadZone("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadZone("Not/AZone")
	assert.ErrorIs(t, err, ErrInvalidZone)
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("21:30")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 21, Minute: 30}, c)
	assert.Equal(t, "21:30", c.String())

	for _, bad := range []string{"", "21", "25:00", "21:60", "ab:cd", "-1:00"} {
		_, err := ParseClock(bad)
		assert.ErrorIs(t, err, ErrInvalidClock, "input %q", bad)
	}
}

func TestClockMatches(t *testing.T) {
	loc, err := LoadZone("Europe/Moscow")
	require.NoError(t, err)

	c := Clock{Hour: 21}
	at := time.Date(2024, 3, 15, 18, 15, 0, 0, time.UTC) // 21:15 Moscow
	assert.True(t, c.Matches(at, loc))
	assert.False(t, c.Matches(at, time.UTC))
}
