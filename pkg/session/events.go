package session

import (
	"sync"
	"time"

	"github.com/teslashibe/go-skinvoice/pkg/live"
)

// EventType identifies what changed.
type EventType string

// Event types delivered to subscribers.
const (
	EventState        EventType = "state"
	EventSpeaking     EventType = "speaking"
	EventUserSpeaking EventType = "user_speaking"
	EventLoading      EventType = "loading"
	EventError        EventType = "error"
	EventToolCall     EventType = "tool_call"
	EventTranscript   EventType = "transcript"
)

// Event is one observable change of the session.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	// State is set for EventState.
	State State `json:"state,omitempty"`

	// Value is set for the boolean flags (speaking, user_speaking, loading).
	Value bool `json:"value"`

	Error    string         `json:"error,omitempty"`
	ToolCall *live.ToolCall `json:"tool_call,omitempty"`
	Text     string         `json:"text,omitempty"`
}

// notifier delivers events in order on its own goroutine so emitters never
// block on subscribers.
type notifier struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	subs   []subscriber
	nextID uint64
	closed bool
	done   chan struct{}
}

type subscriber struct {
	id uint64
	fn func(Event)
}

func newNotifier() *notifier {
	n := &notifier{done: make(chan struct{})}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

func (n *notifier) subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, s := range n.subs {
				if s.id == id {
					n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (n *notifier) emit(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, ev)
	n.cond.Signal()
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		ev := n.queue[0]
		n.queue[0] = Event{}
		n.queue = n.queue[1:]
		subs := n.subs
		n.mu.Unlock()

		for _, s := range subs {
			s.fn(ev)
		}
	}
}

// close stops delivery after queued events are flushed.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.cond.Signal()
	n.mu.Unlock()
	<-n.done
}
