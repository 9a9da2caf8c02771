package vad

import (
	"testing"
	"time"

	"github.com/teslashibe/go-skinvoice/pkg/clock"
)

func newTestDetector() (*Detector, *clock.Fake, *[]bool) {
	clk := clock.NewFake(time.Unix(0, 0))
	d := New(DefaultConfig(), clk, nil)
	var events []bool
	d.OnChange(func(speaking bool) { events = append(events, speaking) })
	return d, clk, &events
}

func TestDetector_Hysteresis(t *testing.T) {
	t.Run("stays speaking at 999ms", func(t *testing.T) {
		d, clk, events := newTestDetector()

		d.Observe(0.05)
		d.Observe(0.005)
		clk.Advance(999 * time.Millisecond)

		if !d.Speaking() {
			t.Error("expected still speaking after 999ms")
		}
		if len(*events) != 1 || !(*events)[0] {
			t.Errorf("events = %v, want [true]", *events)
		}
	})

	t.Run("silent at 1001ms", func(t *testing.T) {
		d, clk, events := newTestDetector()

		d.Observe(0.05)
		d.Observe(0.005)
		clk.Advance(1001 * time.Millisecond)

		if d.Speaking() {
			t.Error("expected silent after 1001ms")
		}
		if len(*events) != 2 || (*events)[1] {
			t.Errorf("events = %v, want [true false]", *events)
		}
	})
}

func TestDetector_RearmsOnSpeech(t *testing.T) {
	d, clk, events := newTestDetector()

	d.Observe(0.05)
	clk.Advance(800 * time.Millisecond)
	d.Observe(0.02)
	clk.Advance(800 * time.Millisecond)

	if !d.Speaking() {
		t.Fatal("hangover should restart on each loud frame")
	}
	if len(*events) != 1 {
		t.Errorf("events = %v", *events)
	}

	clk.Advance(201 * time.Millisecond)
	if d.Speaking() {
		t.Error("expected silence 1001ms after last loud frame")
	}
	if len(*events) != 2 {
		t.Errorf("events = %v", *events)
	}
}

func TestDetector_ThresholdIsExclusive(t *testing.T) {
	d, _, events := newTestDetector()

	d.Observe(DefaultThreshold)
	if d.Speaking() || len(*events) != 0 {
		t.Error("level equal to threshold must not start speech")
	}
}

func TestDetector_Reset(t *testing.T) {
	d, clk, events := newTestDetector()

	d.Observe(0.5)
	d.Reset()
	d.Reset()

	if d.Speaking() {
		t.Error("expected silent after Reset")
	}
	if len(*events) != 2 {
		t.Errorf("events = %v, want one start and one stop", *events)
	}

	clk.Advance(2 * time.Second)
	if len(*events) != 2 {
		t.Errorf("stale timer fired: %v", *events)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d", clk.Pending())
	}
}

func TestDetector_State(t *testing.T) {
	d, clk, _ := newTestDetector()

	clk.Advance(5 * time.Second)
	d.Observe(0.3)

	st := d.State()
	if !st.Speaking {
		t.Error("expected speaking")
	}
	if !st.LastActiveAt.Equal(time.Unix(5, 0)) {
		t.Errorf("LastActiveAt = %v", st.LastActiveAt)
	}
}
