package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"evmstack/internal/trace"
)

// activeRing is the ring buffer of the current tracer, if it keeps one.
var activeRing *trace.RingTracer

// setupTracing inspects trace-related flags and initializes the tracer.
// It returns a cleanup function and an error if initialization fails.
func setupTracing(cmd *cobra.Command) (func(), error) {
	root := cmd.Root()

	traceOutput, err := root.PersistentFlags().GetString("trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := root.PersistentFlags().GetString("trace-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := root.PersistentFlags().GetString("trace-mode")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	ringSize, err := root.PersistentFlags().GetInt("trace-ring-size")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	if level == trace.LevelOff && traceOutput != "" {
		level = trace.LevelPhase
	}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}

	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace mode: %w", err)
	}

	// a ring tracer writes its snapshot to the output file on exit
	streamPath := traceOutput
	if mode == trace.ModeRing {
		streamPath = ""
	}
	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: streamPath,
		RingSize:   ringSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	switch t := tracer.(type) {
	case *trace.RingTracer:
		activeRing = t
	case *trace.MultiTracer:
		activeRing = t.Ring()
	}

	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)
	root.SetContext(ctx)

	cleanup := func() {
		if mode == trace.ModeRing && traceOutput != "" && activeRing != nil {
			if err := dumpRing(traceOutput); err != nil {
				fmt.Fprintf(os.Stderr, "trace: dump error: %v\n", err)
			}
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "trace: close error: %v\n", err)
		}
		activeRing = nil
	}
	return cleanup, nil
}

func dumpRing(path string) error {
	if path == "-" {
		return activeRing.Dump(os.Stderr, trace.FormatText)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	format := trace.FormatText
	if ext := filepath.Ext(path); ext == ".ndjson" || ext == ".jsonl" {
		format = trace.FormatNDJSON
	}
	if err := activeRing.Dump(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// dumpTraceOnPanic writes the ring buffer to stderr when the command
// panics, then lets the panic continue.
func dumpTraceOnPanic() {
	r := recover()
	if r == nil {
		return
	}
	if activeRing != nil {
		fmt.Fprintln(os.Stderr, "trace: last events before panic:")
		_ = activeRing.Dump(os.Stderr, trace.FormatText)
	}
	panic(r)
}
