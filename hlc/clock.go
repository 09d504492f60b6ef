package hlc

import (
	"fmt"
	"sync"
	"time"
)

// Layout is the savepoint timestamp format. Fixed width with nanosecond
// precision in UTC, so lexical order equals chronological order.
const Layout = "2006-01-02T15:04:05.000000000"

// Clock hands out strictly increasing savepoint timestamps.
// When the wall clock stalls or steps backwards the clock advances by one
// nanosecond past the last issued value.
type Clock struct {
	mu       sync.Mutex
	wallTime int64 // last issued, unix nanos
	now      func() time.Time
}

// Timestamp is a point on the savepoint timeline
type Timestamp struct {
	WallTime int64
}

// NewClock creates a clock backed by time.Now
func NewClock() *Clock {
	return NewClockWithSource(time.Now)
}

// NewClockWithSource creates a clock reading physical time from now.
// Tests use it to pin or rewind time.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now generates a new timestamp for a local event
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := c.now().UnixNano()
	if physicalNow > c.wallTime {
		c.wallTime = physicalNow
	} else {
		c.wallTime++
	}

	return Timestamp{WallTime: c.wallTime}
}

// Update folds in a timestamp observed from elsewhere (for example a
// server-supplied savepoint) so the next Now is strictly after it.
// Returns the current clock value.
func (c *Clock) Update(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.WallTime > c.wallTime {
		c.wallTime = remote.WallTime
	}
	return Timestamp{WallTime: c.wallTime}
}

// Observe parses s and folds it into the clock. Unparseable values are ignored.
func (c *Clock) Observe(s string) {
	ts, err := Parse(s)
	if err != nil {
		return
	}
	c.Update(ts)
}

// Parse reads a timestamp written by String
func Parse(s string) (Timestamp, error) {
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid savepoint timestamp %q: %w", s, err)
	}
	return Timestamp{WallTime: t.UnixNano()}, nil
}

// Compare compares two timestamps
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b Timestamp) int {
	switch {
	case a.WallTime < b.WallTime:
		return -1
	case a.WallTime > b.WallTime:
		return 1
	}
	return 0
}

// Less returns true if a happened before b
func Less(a, b Timestamp) bool {
	return Compare(a, b) < 0
}

// Equal returns true if timestamps are equal
func Equal(a, b Timestamp) bool {
	return Compare(a, b) == 0
}

// After returns true if a happened after b
func After(a, b Timestamp) bool {
	return Compare(a, b) > 0
}

// PhysicalTime returns the timestamp as time.Time in UTC
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime).UTC()
}

// String returns the storage representation
func (t Timestamp) String() string {
	return t.PhysicalTime().Format(Layout)
}
