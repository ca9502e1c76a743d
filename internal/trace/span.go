package trace

import (
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

var (
	seqCounter  atomic.Uint64
	spanCounter atomic.Uint64

	now = time.Now
)

func nextSeq() uint64    { return seqCounter.Add(1) }
func nextSpanID() uint64 { return spanCounter.Add(1) }

// goroutineID parses the id from the "goroutine N [" header of the
// current stack. It returns 0 if the header has an unexpected shape.
func goroutineID() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	const prefix = "goroutine "
	if n <= len(prefix) {
		return 0
	}
	digits := buf[len(prefix):n]
	end := 0
	for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	gid, err := strconv.ParseUint(string(digits[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return gid
}

// Span tracks one begin/end pair. A span whose scope is filtered out is
// inert: every method is a no-op and ID returns 0.
type Span struct {
	tracer   Tracer
	id       uint64
	parentID uint64
	gid      uint64
	scope    Scope
	name     string
	started  time.Time
	extra    map[string]string
}

// Begin emits the start of a span under parent (0 for a root span).
func Begin(t Tracer, scope Scope, name string, parent uint64) *Span {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return &Span{}
	}
	s := &Span{
		tracer:   t,
		id:       nextSpanID(),
		parentID: parent,
		gid:      goroutineID(),
		scope:    scope,
		name:     name,
		started:  now(),
	}
	t.Emit(&Event{
		Time:     s.started,
		Kind:     KindSpanBegin,
		Scope:    scope,
		SpanID:   s.id,
		ParentID: parent,
		GID:      s.gid,
		Name:     name,
	})
	return s
}

func (s *Span) live() bool {
	return s != nil && s.tracer != nil
}

// End emits the end of the span with the attached extras and returns its
// duration.
func (s *Span) End(detail string) time.Duration {
	if !s.live() {
		return 0
	}
	ended := now()
	s.tracer.Emit(&Event{
		Time:     ended,
		Kind:     KindSpanEnd,
		Scope:    s.scope,
		SpanID:   s.id,
		ParentID: s.parentID,
		GID:      s.gid,
		Name:     s.name,
		Detail:   detail,
		Extra:    s.extra,
	})
	return ended.Sub(s.started)
}

// WithExtra attaches a key-value pair to the end event.
func (s *Span) WithExtra(key, value string) *Span {
	if !s.live() {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string, 2)
	}
	s.extra[key] = value
	return s
}

// WithInt attaches a counter such as a block or round count.
func (s *Span) WithInt(key string, value int) *Span {
	if !s.live() {
		return s
	}
	return s.WithExtra(key, strconv.Itoa(value))
}

// WithErr attaches err under "error". A nil error is ignored.
func (s *Span) WithErr(err error) *Span {
	if err == nil || !s.live() {
		return s
	}
	return s.WithExtra("error", err.Error())
}

func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}
