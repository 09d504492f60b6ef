package hlc

import (
	"sort"
	"sync"
	"testing"
	"time"
)

func fixedSource(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestClock_Now(t *testing.T) {
	clock := NewClock()

	ts1 := clock.Now()
	if ts1.WallTime == 0 {
		t.Error("Wall time should not be zero")
	}

	ts2 := clock.Now()
	if !After(ts2, ts1) {
		t.Errorf("Expected %s after %s", ts2, ts1)
	}
}

func TestClock_MonotonicWhenWallClockStalls(t *testing.T) {
	pinned := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClockWithSource(fixedSource(pinned))

	timestamps := make([]Timestamp, 100)
	for i := 0; i < 100; i++ {
		timestamps[i] = clock.Now()
	}

	for i := 1; i < len(timestamps); i++ {
		if timestamps[i].WallTime != timestamps[i-1].WallTime+1 {
			t.Errorf("Timestamp %d should be exactly 1ns after %d", i, i-1)
		}
	}
}

func TestClock_MonotonicWhenWallClockStepsBack(t *testing.T) {
	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClockWithSource(func() time.Time { return current })

	ts1 := clock.Now()
	current = current.Add(-time.Hour)
	ts2 := clock.Now()

	if !After(ts2, ts1) {
		t.Errorf("Clock went backwards: %s then %s", ts1, ts2)
	}
}

func TestClock_ConcurrentUnique(t *testing.T) {
	clock := NewClockWithSource(fixedSource(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))

	const goroutines = 8
	const perGoroutine = 500

	var wg sync.WaitGroup
	out := make(chan string, goroutines*perGoroutine)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				out <- clock.Now().String()
			}
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[string]bool)
	for s := range out {
		if seen[s] {
			t.Fatalf("duplicate timestamp %s", s)
		}
		seen[s] = true
	}
}

func TestClock_UpdateAdvancesTime(t *testing.T) {
	pinned := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClockWithSource(fixedSource(pinned))

	ts1 := clock.Now()

	futureTS := Timestamp{WallTime: ts1.WallTime + int64(time.Second)}
	clock.Update(futureTS)

	ts2 := clock.Now()
	if !After(ts2, futureTS) {
		t.Error("Timestamp after Update should be after received future timestamp")
	}
}

func TestClock_UpdateIgnoresPast(t *testing.T) {
	pinned := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClockWithSource(fixedSource(pinned))

	ts1 := clock.Now()
	got := clock.Update(Timestamp{WallTime: ts1.WallTime - 10})
	if !Equal(got, ts1) {
		t.Errorf("Update with past timestamp moved clock: %s != %s", got, ts1)
	}
}

func TestClock_Observe(t *testing.T) {
	pinned := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClockWithSource(fixedSource(pinned))

	clock.Observe("2030-01-01T00:00:00.000000000")
	clock.Observe("not a timestamp")

	ts := clock.Now()
	if ts.String() != "2030-01-01T00:00:00.000000001" {
		t.Errorf("Unexpected timestamp after Observe: %s", ts)
	}
}

func TestTimestamp_StringFixedWidthAndSortable(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	inputs := []Timestamp{
		{WallTime: base.Add(time.Second).UnixNano()},
		{WallTime: base.UnixNano()},
		{WallTime: base.Add(999 * time.Nanosecond).UnixNano()},
		{WallTime: base.Add(10 * time.Millisecond).UnixNano()},
	}

	strs := make([]string, len(inputs))
	for i, ts := range inputs {
		strs[i] = ts.String()
		if len(strs[i]) != len(Layout) {
			t.Errorf("Expected fixed width %d, got %q", len(Layout), strs[i])
		}
	}

	sort.Strings(strs)
	sort.Slice(inputs, func(i, j int) bool { return Less(inputs[i], inputs[j]) })
	for i := range inputs {
		if inputs[i].String() != strs[i] {
			t.Errorf("Lexical order differs from chronological order at %d", i)
		}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	ts := Timestamp{WallTime: time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC).UnixNano()}

	parsed, err := Parse(ts.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !Equal(parsed, ts) {
		t.Errorf("Round trip mismatch: %s != %s", parsed, ts)
	}

	if _, err := Parse("2024-03-01"); err == nil {
		t.Error("Expected error for truncated timestamp")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a    Timestamp
		b    Timestamp
		want int
	}{
		{name: "a before b", a: Timestamp{WallTime: 100}, b: Timestamp{WallTime: 200}, want: -1},
		{name: "a after b", a: Timestamp{WallTime: 200}, b: Timestamp{WallTime: 100}, want: 1},
		{name: "equal", a: Timestamp{WallTime: 100}, b: Timestamp{WallTime: 100}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare() = %v, want %v", got, tt.want)
			}
		})
	}
}
