package testfixtures

import (
	"fmt"
	"sync"
	"time"
)

// Clock is a manually driven time source injected as SchedulerService.Now.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowFunc returns c.Now, or time.Now for a nil clock.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SetLocal moves the clock to the wall time date hh:mm in the site timezone
// tz. It panics on malformed input since it is only used to arrange tests.
func (c *Clock) SetLocal(tz, date, hhmm string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: timezone %q: %v", tz, err))
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, loc)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: wall time %s %s: %v", date, hhmm, err))
	}
	c.Set(t)
	return t
}

// Advance moves the clock by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// AdvanceDays moves the clock by whole calendar days in its own location.
func (c *Clock) AdvanceDays(days int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, days)
	return c.now
}
