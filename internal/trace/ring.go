package trace

import (
	"io"
	"sync"
)

// RingTracer keeps the most recent events in memory so they can be dumped
// after a failure.
type RingTracer struct {
	mu     sync.Mutex
	events []Event
	start  int // oldest event
	count  int
	level  Level
}

// NewRingTracer keeps up to capacity events, 4096 if capacity is not
// positive.
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingTracer{events: make([]Event, capacity), level: level}
}

func (t *RingTracer) Emit(ev *Event) {
	if !t.level.ShouldEmit(ev.Scope) {
		return
	}
	stored := *ev
	stored.Seq = nextSeq()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count < len(t.events) {
		t.events[(t.start+t.count)%len(t.events)] = stored
		t.count++
		return
	}
	t.events[t.start] = stored
	t.start = (t.start + 1) % len(t.events)
}

// Len returns the number of events held.
func (t *RingTracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Snapshot returns the held events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, t.count)
	for i := range out {
		out[i] = t.events[(t.start+i)%len(t.events)]
	}
	return out
}

// Dump writes the held events, oldest first.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	events := t.Snapshot()
	for i := range events {
		if _, err := w.Write(FormatEvent(&events[i], format)); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Flush() error  { return nil }
func (t *RingTracer) Close() error  { return nil }
func (t *RingTracer) Level() Level  { return t.level }
func (t *RingTracer) Enabled() bool { return t.level > LevelOff }
