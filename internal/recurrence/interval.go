package recurrence

import (
	"fmt"
	"math"
)

// Interval is a canonical recurrence interval expressed as a rational number
// of days. "twice a day" is 1/2, "every other week" is 14/1.
type Interval struct {
	num int64
	den int64
}

// NewInterval returns num/den days reduced to lowest terms. A non-positive
// numerator or denominator yields the zero Interval.
func NewInterval(num, den int64) Interval {
	if num <= 0 || den <= 0 {
		return Interval{}
	}
	g := gcd(num, den)
	return Interval{num: num / g, den: den / g}
}

// EveryDays returns an interval of n whole days.
func EveryDays(n int64) Interval {
	return NewInterval(n, 1)
}

// IsZero reports whether the interval is unset.
func (i Interval) IsZero() bool {
	return i.num == 0 || i.den == 0
}

// Num returns the reduced numerator.
func (i Interval) Num() int64 { return i.num }

// Den returns the reduced denominator.
func (i Interval) Den() int64 { return i.den }

// Days returns the interval as a floating point day count, suitable for the
// persisted cache column.
func (i Interval) Days() float64 {
	if i.IsZero() {
		return 0
	}
	return float64(i.num) / float64(i.den)
}

// StepDays is the whole-day step used when projecting occurrences: the floor
// of the interval, never less than one day.
func (i Interval) StepDays() int {
	if i.IsZero() {
		return 1
	}
	step := i.num / i.den
	if step < 1 {
		return 1
	}
	if step > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(step)
}

// Mul scales the interval by n.
func (i Interval) Mul(n int64) Interval {
	return NewInterval(i.num*n, i.den)
}

// Div divides the interval by n.
func (i Interval) Div(n int64) Interval {
	return NewInterval(i.num, i.den*n)
}

// Class buckets the interval for calendar grouping.
func (i Interval) Class() Class {
	switch days := i.Days(); {
	case days < 1:
		return ClassSubDaily
	case days < 7:
		return ClassDaily
	case days < 28:
		return ClassWeekly
	default:
		return ClassMonthly
	}
}

// MatchesCache reports whether a persisted day count agrees with the interval.
func (i Interval) MatchesCache(days float64) bool {
	return math.Abs(i.Days()-days) < 1e-9
}

func (i Interval) String() string {
	if i.IsZero() {
		return "0"
	}
	if i.den == 1 {
		return fmt.Sprintf("%d", i.num)
	}
	return fmt.Sprintf("%d/%d", i.num, i.den)
}

// Class is the coarse frequency grouping used by calendar views.
type Class string

const (
	ClassSubDaily Class = "subdaily"
	ClassDaily    Class = "daily"
	ClassWeekly   Class = "weekly"
	ClassMonthly  Class = "monthly"
)

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}
