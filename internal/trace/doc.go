// Package trace provides the tracing subsystem used by the layout pipeline.
//
// Tracing follows a run from the driver down to single basic blocks so that
// slow fixed-point iterations and oversized joins can be located quickly.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	evmstack layout --trace=- --trace-level=detail graph.toml
//
// # Architecture
//
// The package provides several tracer implementations:
//
//   - Nop: zero-overhead tracer used when tracing is disabled
//   - StreamTracer: immediate write to a file or stderr
//   - RingTracer: circular buffer, dumped after an internal failure
//   - MultiTracer: fan-out to several tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only dumps after a failure
//   - LevelPhase: driver and pass boundaries
//   - LevelDetail: one span per entry point (function)
//   - LevelDebug: everything including per-block events
//
// # Context
//
// Tracers travel through context.Context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopePass, "layout", 0)
//	defer span.End("")
package trace
