package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	msk     = time.FixedZone("MSK", 3*60*60)
	weekday = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
)

func TestProjector_Next(t *testing.T) {
	t.Parallel()

	p := NewProjector(0)
	cal := Calendar{WorkingDays: weekday, Location: msk}

	t.Run("created on saturday lands on monday", func(t *testing.T) {
		t.Parallel()

		def := Definition{
			Interval:      EveryDays(1),
			PreferredTime: TimeOfDay{Hour: 9},
			MaxDelay:      4 * time.Hour,
			CreatedAt:     time.Date(2024, time.March, 2, 15, 0, 0, 0, msk),
		}
		got := p.Next(def, nil, cal)

		assert.Equal(t, time.Date(2024, time.March, 4, 9, 0, 0, 0, msk), got.ScheduledFor)
		assert.Equal(t, time.Date(2024, time.March, 4, 13, 0, 0, 0, msk), got.DueAt)
		assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 4}, got.Date)
	})

	t.Run("bases on last execution", func(t *testing.T) {
		t.Parallel()

		def := Definition{Interval: EveryDays(7), PreferredTime: TimeOfDay{Hour: 8, Minute: 30}, CreatedAt: time.Date(2024, time.January, 1, 0, 0, 0, 0, msk)}
		last := time.Date(2024, time.March, 5, 17, 45, 0, 0, msk)
		got := p.Next(def, &last, cal)

		assert.Equal(t, time.Date(2024, time.March, 12, 8, 30, 0, 0, msk), got.ScheduledFor)
		assert.Equal(t, got.ScheduledFor.Add(DefaultMaxDelay), got.DueAt)
	})

	t.Run("execution date is taken in the site timezone", func(t *testing.T) {
		t.Parallel()

		def := Definition{Interval: EveryDays(1), PreferredTime: TimeOfDay{Hour: 9}, CreatedAt: time.Date(2024, time.January, 1, 0, 0, 0, 0, msk)}
		// 22:30 UTC on Monday is already Tuesday in MSK.
		last := time.Date(2024, time.March, 4, 22, 30, 0, 0, time.UTC)
		got := p.Next(def, &last, cal)

		assert.Equal(t, time.Date(2024, time.March, 6, 9, 0, 0, 0, msk), got.ScheduledFor)
	})

	t.Run("sub-daily interval projects one slot per day", func(t *testing.T) {
		t.Parallel()

		def := Definition{Interval: NewInterval(1, 2), PreferredTime: TimeOfDay{Hour: 9}, CreatedAt: time.Date(2024, time.March, 4, 10, 0, 0, 0, msk)}
		got := p.Next(def, nil, cal)

		assert.Equal(t, time.Date(2024, time.March, 5, 9, 0, 0, 0, msk), got.ScheduledFor)
	})

	t.Run("no working days keeps the candidate", func(t *testing.T) {
		t.Parallel()

		def := Definition{Interval: EveryDays(1), PreferredTime: TimeOfDay{Hour: 9}, CreatedAt: time.Date(2024, time.March, 2, 0, 0, 0, 0, msk)}
		none := Calendar{WorkingDays: []time.Weekday{time.Weekday(9)}, Location: msk}
		got := p.Next(def, nil, none)

		assert.Equal(t, time.Date(2024, time.March, 3, 9, 0, 0, 0, msk), got.ScheduledFor)
	})
}

func TestProjector_NextAlwaysOnWorkingDay(t *testing.T) {
	t.Parallel()

	p := NewProjector(time.Hour)
	calendars := [][]time.Weekday{
		weekday,
		{time.Saturday, time.Sunday},
		{time.Wednesday},
		nil,
	}
	intervals := []Interval{NewInterval(1, 3), EveryDays(1), EveryDays(2), EveryDays(7), EveryDays(30), EveryDays(90)}

	start := time.Date(2024, time.February, 26, 12, 0, 0, 0, msk)
	for _, days := range calendars {
		cal := Calendar{WorkingDays: days, Location: msk}
		for _, iv := range intervals {
			for offset := 0; offset < 14; offset++ {
				created := start.AddDate(0, 0, offset)
				got := p.Next(Definition{Interval: iv, PreferredTime: TimeOfDay{Hour: 7}, CreatedAt: created}, nil, cal)
				require.True(t, cal.IsWorkingDay(got.ScheduledFor.In(msk).Weekday()), "interval %s created %s", iv, created)
				require.True(t, got.ScheduledFor.After(created), "interval %s created %s", iv, created)
				require.Equal(t, time.Hour, got.DueAt.Sub(got.ScheduledFor))
			}
		}
	}
}

func TestProjector_Series(t *testing.T) {
	t.Parallel()

	p := NewProjector(0)
	cal := Calendar{WorkingDays: weekday, Location: msk}
	def := Definition{
		Interval:      EveryDays(1),
		PreferredTime: TimeOfDay{Hour: 9},
		CreatedAt:     time.Date(2024, time.February, 20, 10, 0, 0, 0, msk),
	}

	t.Run("forward expansion skips weekends", func(t *testing.T) {
		t.Parallel()

		last := time.Date(2024, time.March, 1, 9, 30, 0, 0, msk) // Friday
		window := Window{From: time.Date(2024, time.March, 1, 0, 0, 0, 0, msk), To: time.Date(2024, time.March, 8, 23, 59, 0, 0, msk)}
		got := p.Series(def, &last, cal, window, DefaultSeriesOptions)

		dates := make([]string, 0, len(got))
		for _, proj := range got {
			dates = append(dates, proj.Date.String())
		}
		assert.Equal(t, []string{"2024-03-01", "2024-03-04", "2024-03-05", "2024-03-06", "2024-03-07", "2024-03-08"}, dates)
	})

	t.Run("backfill walks to window start", func(t *testing.T) {
		t.Parallel()

		window := Window{From: time.Date(2024, time.February, 26, 0, 0, 0, 0, msk), To: time.Date(2024, time.March, 1, 23, 0, 0, 0, msk)}
		last := time.Date(2024, time.February, 28, 9, 0, 0, 0, msk)
		got := p.Series(def, &last, cal, window, DefaultSeriesOptions)

		require.Len(t, got, 5)
		assert.Equal(t, "2024-02-26", got[0].Date.String())
		assert.Equal(t, "2024-03-01", got[4].Date.String())
	})

	t.Run("backfill honors limit and creation date", func(t *testing.T) {
		t.Parallel()

		window := Window{From: time.Date(2024, time.January, 1, 0, 0, 0, 0, msk), To: time.Date(2024, time.February, 23, 23, 0, 0, 0, msk)}
		last := time.Date(2024, time.February, 23, 9, 0, 0, 0, msk)
		got := p.Series(def, &last, cal, window, SeriesOptions{BackfillLimit: 60})

		// Feb 21, 22, 23 only: Feb 20 is the creation date.
		require.Len(t, got, 3)
		assert.Equal(t, "2024-02-21", got[0].Date.String())

		limited := p.Series(def, &last, cal, window, SeriesOptions{BackfillLimit: 2})
		require.Len(t, limited, 2)
		assert.Equal(t, "2024-02-22", limited[0].Date.String())
	})

	t.Run("slots are stable across windows", func(t *testing.T) {
		t.Parallel()

		weekly := def
		weekly.Interval = EveryDays(30)
		wide := p.Series(weekly, nil, cal, Window{From: def.CreatedAt, To: def.CreatedAt.AddDate(1, 0, 0)}, DefaultSeriesOptions)
		narrow := p.Series(weekly, nil, cal, Window{From: def.CreatedAt.AddDate(0, 6, 0), To: def.CreatedAt.AddDate(0, 8, 0)}, DefaultSeriesOptions)

		require.NotEmpty(t, narrow)
		wideDates := make(map[Date]struct{}, len(wide))
		for _, proj := range wide {
			wideDates[proj.Date] = struct{}{}
		}
		for _, proj := range narrow {
			_, ok := wideDates[proj.Date]
			assert.True(t, ok, "slot %s missing from wide window", proj.Date)
		}
	})

	t.Run("empty when window is inverted", func(t *testing.T) {
		t.Parallel()

		got := p.Series(def, nil, cal, Window{From: def.CreatedAt.AddDate(0, 0, 5), To: def.CreatedAt}, DefaultSeriesOptions)
		assert.Empty(t, got)
	})
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tod, err := ParseTimeOfDay("07:45")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 7, Minute: 45}, tod)
	assert.Equal(t, "07:45", tod.String())

	_, err = ParseTimeOfDay("25:00")
	require.ErrorIs(t, err, ErrInvalidTimeOfDay)
}

func TestDate(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2024-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.Equal(t, 2, d.AddDays(2).DaysSince(d))
	assert.Equal(t, time.Wednesday, d.Weekday())

	_, err = ParseDate("2024-13-01")
	require.ErrorIs(t, err, ErrInvalidDate)
}
