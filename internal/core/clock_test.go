package core

import (
	"sync"
	"testing"
	"time"
)

func TestClockFollowsWallClock(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	c := NewClockWithSource(func() time.Time { return now })

	if got := c.Now(); !got.Equal(base) {
		t.Errorf("expected %v, got %v", base, got)
	}

	now = base.Add(time.Second)
	if got := c.Now(); !got.Equal(now) {
		t.Errorf("expected %v, got %v", now, got)
	}
}

func TestClockNeverGoesBackwards(t *testing.T) {
	tests := []struct {
		name  string
		steps []time.Duration
	}{
		{name: "step back", steps: []time.Duration{0, 10 * time.Second, 5 * time.Second}},
		{name: "large step back", steps: []time.Duration{time.Hour, 0, -time.Hour}},
		{name: "steady", steps: []time.Duration{0, time.Millisecond, 2 * time.Millisecond}},
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var offset time.Duration
			c := NewClockWithSource(func() time.Time { return base.Add(offset) })

			var prev time.Time
			for _, step := range tt.steps {
				offset = step
				got := c.Now()
				if got.Before(prev) {
					t.Fatalf("clock went backwards: %v after %v", got, prev)
				}
				prev = got
			}
		})
	}
}

func TestClockObserve(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClockWithSource(func() time.Time { return base })

	later := base.Add(time.Minute)
	c.Observe(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("expected observed floor %v, got %v", later, got)
	}

	c.Observe(base)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("observing an older time must not lower the floor, got %v", got)
	}
}

func TestClockTruncatesToMillisecond(t *testing.T) {
	wall := time.Date(2024, 3, 1, 12, 0, 0, 1234567, time.UTC)
	c := NewClockWithSource(func() time.Time { return wall })

	if got := c.Now(); got.Nanosecond() != 1000000 {
		t.Errorf("expected millisecond precision, got %d ns", got.Nanosecond())
	}
}

func TestClockConcurrency(t *testing.T) {
	c := NewClock()
	var wg sync.WaitGroup
	results := make(chan time.Time, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Now()
		}()
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.IsZero() {
			t.Error("expected non-zero time")
		}
	}
}
