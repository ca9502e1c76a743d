package trace_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"evmstack/internal/trace"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    trace.Level
		wantErr bool
	}{
		{"off", trace.LevelOff, false},
		{"PHASE", trace.LevelPhase, false},
		{"detail", trace.LevelDetail, false},
		{"debug", trace.LevelDebug, false},
		{"loud", trace.LevelOff, true},
	}
	for _, tt := range tests {
		got, err := trace.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestShouldEmit(t *testing.T) {
	if trace.LevelPhase.ShouldEmit(trace.ScopeFunction) {
		t.Error("phase level must not emit function scope")
	}
	if !trace.LevelDetail.ShouldEmit(trace.ScopeFunction) {
		t.Error("detail level must emit function scope")
	}
	if trace.LevelDetail.ShouldEmit(trace.ScopeBlock) {
		t.Error("detail level must not emit block scope")
	}
	if !trace.LevelDebug.ShouldEmit(trace.ScopeBlock) {
		t.Error("debug level must emit block scope")
	}
}

func TestStreamTracerNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := trace.NewStreamTracer(&buf, trace.LevelDetail, trace.FormatNDJSON)

	span := trace.Begin(tr, trace.ScopeFunction, "function:f", 0)
	span.WithExtra("rounds", "2").End("ok")
	trace.Point(tr, trace.ScopeBlock, "ignored", "", span.ID())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 events, got %d: %q", len(lines), buf.String())
	}
	var end map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &end); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if end["kind"] != "end" || end["name"] != "function:f" || end["detail"] != "ok" {
		t.Errorf("unexpected end event: %v", end)
	}
}

func TestRingTracerWraps(t *testing.T) {
	tr := trace.NewRingTracer(2, trace.LevelDebug)
	for _, name := range []string{"a", "b", "c"} {
		trace.Point(tr, trace.ScopeBlock, name, "", 0)
	}
	events := tr.Snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Name != "b" || events[1].Name != "c" {
		t.Errorf("unexpected order: %s, %s", events[0].Name, events[1].Name)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if trace.FromContext(ctx) != trace.Nop {
		t.Fatal("empty context must yield Nop")
	}
	tr := trace.NewRingTracer(8, trace.LevelPhase)
	ctx = trace.WithTracer(ctx, tr)
	if trace.FromContext(ctx) != trace.Tracer(tr) {
		t.Fatal("tracer lost in context")
	}
	span := trace.Begin(tr, trace.ScopePass, "layout", 0)
	ctx = trace.WithSpan(ctx, span)
	if trace.CurrentSpan(ctx) != span.ID() {
		t.Errorf("CurrentSpan = %d, want %d", trace.CurrentSpan(ctx), span.ID())
	}
}

func TestSpanExtras(t *testing.T) {
	tr := trace.NewRingTracer(8, trace.LevelDetail)
	span := trace.Begin(tr, trace.ScopeFunction, "layout:main", 0)
	span.WithInt("blocks", 3).WithErr(nil).WithErr(errors.New("too deep")).End("failed")

	events := tr.Snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	end := events[1]
	if end.Extra["blocks"] != "3" || end.Extra["error"] != "too deep" {
		t.Errorf("unexpected extras: %v", end.Extra)
	}
	if events[0].Seq >= end.Seq {
		t.Errorf("sequence numbers not increasing: %d, %d", events[0].Seq, end.Seq)
	}
}

func TestFilteredSpanIsInert(t *testing.T) {
	tr := trace.NewRingTracer(8, trace.LevelPhase)
	span := trace.Begin(tr, trace.ScopeBlock, "block", 0)
	if span.ID() != 0 {
		t.Errorf("filtered span has id %d", span.ID())
	}
	if d := span.WithInt("n", 1).End(""); d != 0 {
		t.Errorf("filtered span reported duration %v", d)
	}
	if tr.Len() != 0 {
		t.Errorf("filtered span emitted %d events", tr.Len())
	}
}
