package layout

import (
	"context"
	"maps"

	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
	"evmstack/internal/stack"
	"evmstack/internal/trace"
)

// BlockLayout holds the stacks at the boundaries of one block.
type BlockLayout struct {
	Entry stack.Stack
	Exit  stack.Stack
}

// Stats count the work a run did. They are informational only.
type Stats struct {
	FixupRounds      int
	AggressiveBlocks int
	Combines         int
	CombineCacheHits int
}

func (s *Stats) add(o Stats) {
	s.FixupRounds += o.FixupRounds
	s.AggressiveBlocks += o.AggressiveBlocks
	s.Combines += o.Combines
	s.CombineCacheHits += o.CombineCacheHits
}

// Layout is the result of stack layout generation: the stack required in
// front of every operation and at the boundaries of every reachable block.
type Layout struct {
	Blocks     map[cfg.BlockID]*BlockLayout
	Operations map[cfg.OpID]stack.Stack
	Stats      Stats
}

func newLayout() *Layout {
	return &Layout{
		Blocks:     make(map[cfg.BlockID]*BlockLayout),
		Operations: make(map[cfg.OpID]stack.Stack),
	}
}

// Block returns the layout of a block, or nil if it was not reached.
func (l *Layout) Block(id cfg.BlockID) *BlockLayout {
	if l == nil {
		return nil
	}
	return l.Blocks[id]
}

// Merge adds the layouts of other. Entry points never share blocks, so
// nothing is overwritten.
func (l *Layout) Merge(other *Layout) {
	if other == nil {
		return
	}
	maps.Copy(l.Blocks, other.Blocks)
	maps.Copy(l.Operations, other.Operations)
	l.Stats.add(other.Stats)
}

// Run lays out the main program and every function of g.
func Run(ctx context.Context, g *cfg.Graph, opts Options) (*Layout, error) {
	if err := opts.Validate(); err != nil {
		return nil, &Error{Kind: ErrOptions, Err: err}
	}
	out := newLayout()
	for _, ep := range g.EntryPoints() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := RunEntry(ctx, g, ep, opts)
		if err != nil {
			return nil, err
		}
		out.Merge(part)
	}
	return out, nil
}

// RunEntry lays out the blocks reachable from one entry point.
func RunEntry(ctx context.Context, g *cfg.Graph, ep cfg.EntryPoint, opts Options) (*Layout, error) {
	if err := opts.Validate(); err != nil {
		return nil, &Error{Kind: ErrOptions, Err: err}
	}
	name := g.EntryName(ep)
	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeFunction, "layout:"+name, trace.CurrentSpan(ctx))

	gen := &generator{
		g:        g,
		opts:     opts,
		out:      newLayout(),
		combined: newCombineCache(),
		tracer:   tracer,
		parent:   span.ID(),
		name:     name,
	}
	if err := gen.run(ep); err != nil {
		span.WithErr(err).End("failed")
		return nil, &Error{Kind: ErrInternal, Entry: name, Err: err}
	}
	gen.out.Stats.CombineCacheHits = gen.combined.hits
	span.WithInt("blocks", len(gen.out.Blocks)).
		WithInt("rounds", gen.out.Stats.FixupRounds).
		End("")
	return gen.out, nil
}

func (gen *generator) run(ep cfg.EntryPoint) (err error) {
	defer invariant.Recover(&err)
	gen.processEntryPoint(ep.Block)
	return nil
}
