package clock

import (
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewFake(start)

	var order []string
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	late := c.AfterFunc(time.Second, func() { order = append(order, "late") })

	c.Advance(150 * time.Millisecond)
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("after 150ms order = %v", order)
	}

	c.Advance(100 * time.Millisecond)
	if len(order) != 2 || order[1] != "b" {
		t.Fatalf("after 250ms order = %v", order)
	}

	if !late.Stop() {
		t.Error("Stop should report true for a pending timer")
	}
	if late.Stop() {
		t.Error("second Stop should report false")
	}
	c.Advance(2 * time.Second)
	if len(order) != 2 {
		t.Errorf("stopped timer fired: %v", order)
	}
	if got := c.Now(); !got.Equal(start.Add(2250 * time.Millisecond)) {
		t.Errorf("Now = %v", got)
	}
}

func TestFakeNowDuringCallback(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewFake(start)

	var seen time.Time
	c.AfterFunc(300*time.Millisecond, func() { seen = c.Now() })
	c.Advance(time.Second)

	if want := start.Add(300 * time.Millisecond); !seen.Equal(want) {
		t.Errorf("callback saw %v, want %v", seen, want)
	}
}

func TestFakeRearmFromCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := 0
	var arm func()
	arm = func() {
		c.AfterFunc(100*time.Millisecond, func() {
			fired++
			if fired < 3 {
				arm()
			}
		})
	}
	arm()

	c.Advance(time.Second)
	if fired != 3 {
		t.Errorf("fired %d times, want 3", fired)
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d", c.Pending())
	}
}

func TestRealAfterFunc(t *testing.T) {
	done := make(chan struct{})
	New().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}
