package layout

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"evmstack/internal/cfg"
	"evmstack/internal/trace"
)

// SpillOptions configure FixStackTooDeep.
type SpillOptions struct {
	// Base is the memory address of the first spill slot.
	Base uint64
	// SlotSize is the distance between spill slots in bytes.
	SlotSize uint64
	// MaxRounds bounds how often the graph is rewritten and laid out again.
	MaxRounds int
}

func DefaultSpillOptions() SpillOptions {
	return SpillOptions{
		Base:      0x80,
		SlotSize:  32,
		MaxRounds: 8,
	}
}

func (o SpillOptions) Validate() error {
	if o.SlotSize == 0 {
		return errors.New("spill slot size must be positive")
	}
	if o.MaxRounds < 0 {
		return fmt.Errorf("spill rounds must not be negative, got %d", o.MaxRounds)
	}
	return nil
}

// RunFunc lays out a whole graph. Run is the sequential implementation.
type RunFunc func(ctx context.Context, g *cfg.Graph, opts Options) (*Layout, error)

// FixResult is the outcome of FixStackTooDeep.
type FixResult struct {
	// Graph is the graph the layout belongs to: the input graph if nothing
	// was spilled, a rewritten copy otherwise.
	Graph  *cfg.Graph
	Layout *Layout
	// Spilled maps every spilled variable to its memory address.
	Spilled map[cfg.VarID]uint64
	// Remaining lists the stack too deep errors spilling could not resolve.
	Remaining []StackTooDeep
	Rounds    int
}

// SpilledVars returns the spilled variables in address order.
func (r *FixResult) SpilledVars() []cfg.VarID {
	vars := make([]cfg.VarID, 0, len(r.Spilled))
	for v := range r.Spilled {
		vars = append(vars, v)
	}
	slices.SortFunc(vars, func(a, b cfg.VarID) int {
		if r.Spilled[a] < r.Spilled[b] {
			return -1
		}
		if r.Spilled[a] > r.Spilled[b] {
			return 1
		}
		return 0
	})
	return vars
}

// FixStackTooDeep lays out g and resolves stack too deep errors by moving
// variables to memory. Each round spills, per error, the deepest variable
// of the unreachable window that can be spilled, then lays out the
// rewritten graph again. It stops when no errors remain, when no further
// variable can be spilled, or after spill.MaxRounds rewrites.
func FixStackTooDeep(ctx context.Context, g *cfg.Graph, opts Options, spill SpillOptions, run RunFunc) (*FixResult, error) {
	if err := spill.Validate(); err != nil {
		return nil, &Error{Kind: ErrOptions, Err: err}
	}
	if run == nil {
		run = Run
	}
	tracer := trace.FromContext(ctx)
	res := &FixResult{Graph: g, Spilled: make(map[cfg.VarID]uint64)}
	for {
		lay, err := run(ctx, res.Graph, opts)
		if err != nil {
			return nil, err
		}
		found, err := ReportStackTooDeep(res.Graph, lay, opts.Policy)
		if err != nil {
			return nil, &Error{Kind: ErrInternal, Err: err}
		}
		res.Layout, res.Remaining = lay, found
		if len(found) == 0 || res.Rounds >= spill.MaxRounds {
			return res, nil
		}

		picks := pickSpills(g, found, res.Spilled)
		if len(picks) == 0 {
			return res, nil
		}
		for _, v := range picks {
			res.Spilled[v] = spill.Base + spill.SlotSize*uint64(len(res.Spilled))
			trace.Point(tracer, trace.ScopePass, "spill", g.Var(v).Name, trace.CurrentSpan(ctx))
		}
		next, err := cfg.SpillVariables(g, res.Spilled)
		if err != nil {
			return nil, &Error{Kind: ErrSpill, Err: err}
		}
		res.Graph = next
		res.Rounds++
	}
}

// pickSpills chooses one new variable per finding, the deepest spillable
// one listed.
func pickSpills(g *cfg.Graph, found []StackTooDeep, spilled map[cfg.VarID]uint64) []cfg.VarID {
	var picks []cfg.VarID
	for _, f := range found {
		for _, v := range f.Variables {
			if _, done := spilled[v]; done {
				continue
			}
			if slices.Contains(picks, v) {
				break
			}
			if cfg.Spillable(g, v) {
				picks = append(picks, v)
				break
			}
		}
	}
	return picks
}
