package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-skinvoice/pkg/clock"
)

// Turn tracks latency for one conversational turn.
// All durations are measured from the moment the user's turn ended, either
// the end of speech or a sent text turn.
type Turn struct {
	// Timestamps for key events
	TurnEndTime      time.Time // When the user's turn ended
	FirstAudioTime   time.Time // When the first model audio arrived
	ResponseDoneTime time.Time // When the model finished its turn

	// Computed latencies (from turn end)
	FirstAudio time.Duration
	Total      time.Duration

	// Counts for this turn
	AudioChunksIn  int // Capture windows sent
	AudioChunksOut int // Model audio chunks received
	Interrupted    bool
}

// FormatLatency returns a one-line summary.
func (t Turn) FormatLatency() string {
	return fmt.Sprintf("first audio %dms, total %dms, chunks in/out %d/%d",
		t.FirstAudio.Milliseconds(), t.Total.Milliseconds(), t.AudioChunksIn, t.AudioChunksOut)
}

// LatencyCollector collects per-turn latency. It is goroutine-safe and
// feeds completed samples to the Prometheus histogram when attached.
type LatencyCollector struct {
	clock clock.Clock
	prom  *Metrics

	mu      sync.Mutex
	current Turn
	history []Turn // Recent turns for averaging

	onUpdate func(Turn)
}

// NewLatencyCollector creates a collector. prom may be nil.
func NewLatencyCollector(clk clock.Clock, prom *Metrics) *LatencyCollector {
	if clk == nil {
		clk = clock.New()
	}
	return &LatencyCollector{
		clock:   clk,
		prom:    prom,
		history: make([]Turn, 0, 100),
	}
}

// OnUpdate sets a callback that fires whenever a turn completes.
func (c *LatencyCollector) OnUpdate(fn func(Turn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// MarkTurnEnd records the end of the user's turn and starts a new sample.
func (c *LatencyCollector) MarkTurnEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = Turn{TurnEndTime: c.clock.Now()}
}

// MarkFirstAudio records the first model audio of the turn.
func (c *LatencyCollector) MarkFirstAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current.AudioChunksOut++
	if !c.current.FirstAudioTime.IsZero() {
		return
	}
	c.current.FirstAudioTime = c.clock.Now()
	if !c.current.TurnEndTime.IsZero() {
		c.current.FirstAudio = c.current.FirstAudioTime.Sub(c.current.TurnEndTime)
		c.prom.ObserveLatency("first_audio", c.current.FirstAudio)
	}
}

// IncrementAudioIn counts a sent capture window.
func (c *LatencyCollector) IncrementAudioIn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current.AudioChunksIn++
}

// MarkInterrupted flags the current turn as interrupted.
func (c *LatencyCollector) MarkInterrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current.Interrupted = true
}

// MarkResponseDone completes the turn and archives it.
func (c *LatencyCollector) MarkResponseDone() Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current.ResponseDoneTime = c.clock.Now()
	if !c.current.TurnEndTime.IsZero() {
		c.current.Total = c.current.ResponseDoneTime.Sub(c.current.TurnEndTime)
		c.prom.ObserveLatency("turn_complete", c.current.Total)
	}
	done := c.current
	c.history = append(c.history, done)
	if len(c.history) > 100 {
		c.history = c.history[1:]
	}
	c.current = Turn{}
	if c.onUpdate != nil {
		c.onUpdate(done)
	}
	return done
}

// Current returns the in-progress turn.
func (c *LatencyCollector) Current() Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Average returns average latencies over turns that had a start mark.
func (c *LatencyCollector) Average() Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	var avg Turn
	n := 0
	for _, h := range c.history {
		if h.TurnEndTime.IsZero() {
			continue
		}
		avg.FirstAudio += h.FirstAudio
		avg.Total += h.Total
		avg.AudioChunksIn += h.AudioChunksIn
		avg.AudioChunksOut += h.AudioChunksOut
		n++
	}
	if n == 0 {
		return Turn{}
	}
	avg.FirstAudio /= time.Duration(n)
	avg.Total /= time.Duration(n)
	avg.AudioChunksIn /= n
	avg.AudioChunksOut /= n
	return avg
}

// Reset clears history.
func (c *LatencyCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = Turn{}
	c.history = c.history[:0]
}
