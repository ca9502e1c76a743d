// Package diag defines the diagnostic model shared by the layout pipeline.
//
// Diagnostic is the central record:
//
//   - Severity: Info, Warning or Error.
//   - Code: compact numeric identifier with a stable string form (codes.go).
//   - Message: short, actionable text.
//   - Primary: the source.Span of the operation or block at fault.
//   - Notes: optional secondary spans, e.g. "x is live here".
//
// Producers emit through a Reporter; the driver collects everything in a Bag,
// sorts and deduplicates it, and hands it to internal/diagfmt for rendering.
// Package diag performs no formatting or IO.
//
// Internal consistency failures of the layout algorithms are not diagnostics;
// they surface as *invariant.Violation and are reported once with code
// LayoutInternal.
package diag
