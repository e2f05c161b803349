package recurrence

import (
	"time"
)

// DefaultMaxDelay is the grace period applied when an item defines none.
const DefaultMaxDelay = 24 * time.Hour

// maxWorkingDayShift bounds the search for the next working day.
const maxWorkingDayShift = 7

// Calendar describes where and when a site works.
type Calendar struct {
	// WorkingDays lists the weekdays occurrences may fall on. Empty means every day.
	WorkingDays []time.Weekday
	Location    *time.Location
}

func (c Calendar) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// IsWorkingDay reports whether day is configured as a working day.
func (c Calendar) IsWorkingDay(day time.Weekday) bool {
	if len(c.WorkingDays) == 0 {
		return true
	}
	for _, d := range c.WorkingDays {
		if d == day {
			return true
		}
	}
	return false
}

// Definition carries the recurrence inputs of a work item.
type Definition struct {
	Interval      Interval
	PreferredTime TimeOfDay
	MaxDelay      time.Duration
	CreatedAt     time.Time
}

// Projection is a single scheduled occurrence.
type Projection struct {
	Date         Date
	ScheduledFor time.Time
	DueAt        time.Time
}

// Projector computes occurrences of recurring definitions.
type Projector struct {
	defaultMaxDelay time.Duration
}

// NewProjector constructs a Projector. A non-positive defaultMaxDelay falls
// back to DefaultMaxDelay.
func NewProjector(defaultMaxDelay time.Duration) *Projector {
	if defaultMaxDelay <= 0 {
		defaultMaxDelay = DefaultMaxDelay
	}
	return &Projector{defaultMaxDelay: defaultMaxDelay}
}

// Next projects the occurrence following the last execution, or following the
// creation date when the item has never been executed.
//
// The candidate is base date + StepDays at the preferred time in the site
// timezone, moved forward to the first working day within a week. If no
// working day is found the original candidate is kept.
func (p *Projector) Next(def Definition, lastExecutedAt *time.Time, cal Calendar) Projection {
	loc := cal.location()
	base := def.CreatedAt
	if lastExecutedAt != nil {
		base = *lastExecutedAt
	}
	candidate := DateOf(base, loc).AddDays(def.Interval.StepDays())
	return p.At(def, p.adjust(candidate, cal), cal)
}

// At returns the projection for a known slot date.
func (p *Projector) At(def Definition, date Date, cal Calendar) Projection {
	scheduled := date.At(def.PreferredTime, cal.location())
	return Projection{
		Date:         date,
		ScheduledFor: scheduled,
		DueAt:        scheduled.Add(p.maxDelay(def)),
	}
}

func (p *Projector) maxDelay(def Definition) time.Duration {
	if def.MaxDelay > 0 {
		return def.MaxDelay
	}
	return p.defaultMaxDelay
}

func (p *Projector) adjust(candidate Date, cal Calendar) Date {
	day := candidate
	for i := 0; i < maxWorkingDayShift; i++ {
		if cal.IsWorkingDay(day.Weekday()) {
			return day
		}
		day = day.AddDays(1)
	}
	return candidate
}

// Window is an inclusive time range.
type Window struct {
	From time.Time
	To   time.Time
}

// SeriesOptions bounds series expansion.
type SeriesOptions struct {
	// BackfillLimit caps how many intervals are walked backwards from the next
	// occurrence looking for missed slots.
	BackfillLimit int
	// ForwardLimit caps how many intervals are walked forward.
	ForwardLimit int
}

// DefaultSeriesOptions matches the engine defaults.
var DefaultSeriesOptions = SeriesOptions{BackfillLimit: 60, ForwardLimit: 400}

// Series expands a definition into every slot inside window, ordered by date.
//
// Slots lie on a lattice anchored at the base date (last execution or
// creation): forward slots are base + k*step moved to a working day, so the
// first one equals Next. Backward slots are base - k*step for k >= 0 and are
// dropped when they fall on a non-working day or on/before the creation date.
// Each slot depends only on the base, never on the window, so the same slot
// keeps the same date across queries.
func (p *Projector) Series(def Definition, lastExecutedAt *time.Time, cal Calendar, window Window, opts SeriesOptions) []Projection {
	if opts.BackfillLimit < 0 {
		opts.BackfillLimit = 0
	}
	if opts.ForwardLimit <= 0 {
		opts.ForwardLimit = DefaultSeriesOptions.ForwardLimit
	}

	loc := cal.location()
	from := DateOf(window.From, loc)
	to := DateOf(window.To, loc)
	if to.Before(from) {
		return nil
	}
	created := DateOf(def.CreatedAt, loc)
	baseTime := def.CreatedAt
	if lastExecutedAt != nil {
		baseTime = *lastExecutedAt
	}
	base := DateOf(baseTime, loc)
	step := def.Interval.StepDays()

	seen := make(map[Date]struct{})
	var backward []Projection
	for k := 0; k < opts.BackfillLimit; k++ {
		d := base.AddDays(-k * step)
		if d.Before(from) || !d.After(created) {
			break
		}
		if d.After(to) || !cal.IsWorkingDay(d.Weekday()) {
			continue
		}
		seen[d] = struct{}{}
		backward = append(backward, p.At(def, d, cal))
	}

	out := make([]Projection, 0, len(backward))
	for i := len(backward) - 1; i >= 0; i-- {
		out = append(out, backward[i])
	}

	// Skip lattice points that cannot reach the window even after a full
	// working-day shift.
	start := 1
	if gap := from.DaysSince(base) - maxWorkingDayShift; gap > step {
		start = gap / step
	}
	for k := start; k < start+opts.ForwardLimit; k++ {
		lattice := base.AddDays(k * step)
		if lattice.After(to) {
			break
		}
		d := p.adjust(lattice, cal)
		if d.Before(from) || d.After(to) {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, p.At(def, d, cal))
	}
	return out
}
