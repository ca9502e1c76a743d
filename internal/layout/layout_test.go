package layout_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
	"evmstack/internal/layout"
	"evmstack/internal/source"
	"evmstack/internal/stack"
	"evmstack/internal/testkit"
)

var noSpan source.Span

func run(t *testing.T, g *cfg.Graph) *layout.Layout {
	t.Helper()
	opts := layout.DefaultOptions()
	lay, err := layout.Run(context.Background(), g, opts)
	require.NoError(t, err)
	require.NoError(t, testkit.CheckLayoutInvariants(g, lay, opts.Policy))
	return lay
}

func finish(t *testing.T, b *cfg.Builder) *cfg.Graph {
	t.Helper()
	g, err := b.Finish()
	require.NoError(t, err)
	return g
}

func TestEmptyBlock(t *testing.T) {
	b := cfg.NewBuilder()
	blk := b.Block("start")
	b.MainExit(blk)
	g := finish(t, b)

	lay := run(t, g)
	require.Empty(t, lay.Block(blk).Entry)
	require.Empty(t, lay.Block(blk).Exit)
}

func TestAddThenPop(t *testing.T) {
	b := cfg.NewBuilder()
	blk := b.Block("start")
	a := cfg.Variable(b.Var("a", cfg.NoFuncID))
	bv := cfg.Variable(b.Var("b", cfg.NoFuncID))
	add := b.Builtin(blk, "add", []cfg.Slot{a, bv}, 1, noSpan)
	sum := cfg.Temporary(add, 0)
	pop := b.Builtin(blk, "pop", []cfg.Slot{sum}, 0, noSpan)
	b.MainExit(blk)
	g := finish(t, b)

	lay := run(t, g)
	require.Equal(t, stack.Stack{a, bv}, lay.Operations[add])
	require.Equal(t, stack.Stack{sum}, lay.Operations[pop])
	require.Equal(t, stack.Stack{a, bv}, lay.Block(blk).Entry)
	require.Empty(t, lay.Block(blk).Exit)
}

// branch builds a block branching on c into two blocks that consume lhs
// and rhs respectively.
func branch(t *testing.T, lhs, rhs func(x, y cfg.Slot) []cfg.Slot) (*cfg.Graph, cfg.BlockID, [2]cfg.BlockID) {
	t.Helper()
	b := cfg.NewBuilder()
	start := b.Block("start")
	nz := b.Block("nonzero")
	z := b.Block("zero")
	x := cfg.Variable(b.Var("x", cfg.NoFuncID))
	y := cfg.Variable(b.Var("y", cfg.NoFuncID))
	c := cfg.Variable(b.Var("c", cfg.NoFuncID))
	b.CondJump(start, c, nz, z)
	b.Builtin(nz, "sink", lhs(x, y), 0, noSpan)
	b.MainExit(nz)
	b.Builtin(z, "sink", rhs(x, y), 0, noSpan)
	b.MainExit(z)
	return finish(t, b), start, [2]cfg.BlockID{nz, z}
}

func TestBranchWithReversedRequirements(t *testing.T) {
	g, start, targets := branch(t,
		func(x, y cfg.Slot) []cfg.Slot { return []cfg.Slot{x, y} },
		func(x, y cfg.Slot) []cfg.Slot { return []cfg.Slot{y, x} },
	)
	lay := run(t, g)

	x, y, c := cfg.Variable(0), cfg.Variable(1), cfg.Variable(2)
	exit := lay.Block(start).Exit
	require.Len(t, exit, 3)
	require.Equal(t, c, exit.Top())
	require.ElementsMatch(t, stack.Stack{x, y}, exit[:2])
	for _, target := range targets {
		require.Equal(t, exit[:2], lay.Block(target).Entry)
	}

	found, err := layout.ReportStackTooDeep(g, lay, stack.DefaultPolicy())
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestBranchDoesNotKeepLiterals(t *testing.T) {
	zero := cfg.LiteralUint64(0)
	g, start, targets := branch(t,
		func(x, y cfg.Slot) []cfg.Slot { return []cfg.Slot{x, zero, y} },
		func(x, y cfg.Slot) []cfg.Slot { return []cfg.Slot{y, zero, x} },
	)
	lay := run(t, g)

	for _, slot := range lay.Block(start).Exit {
		require.NotEqual(t, cfg.SlotLiteral, slot.Kind, "exit %s", g.SlotsString(lay.Block(start).Exit))
	}
	for _, target := range targets {
		for _, slot := range lay.Block(target).Entry {
			require.NotEqual(t, cfg.SlotLiteral, slot.Kind)
		}
	}
}

func TestBranchMarksUnusedSlotsJunk(t *testing.T) {
	g, start, targets := branch(t,
		func(x, y cfg.Slot) []cfg.Slot { return []cfg.Slot{x} },
		func(x, y cfg.Slot) []cfg.Slot { return []cfg.Slot{y} },
	)
	lay := run(t, g)

	post := lay.Block(start).Exit
	post = post[:len(post)-1]
	require.Len(t, post, 2)
	junk := 0
	for _, target := range targets {
		entry := lay.Block(target).Entry
		require.Len(t, entry, 2)
		for _, slot := range entry {
			if slot.IsJunk() {
				junk++
			}
		}
	}
	require.Equal(t, 2, junk)
}

// counterLoop builds
//
//	start: x := 0; i := 0; jump head
//	head:  branch lt(i, 10) body done
//	body:  x := add(x, 2); i := add(i, 1); jump head
//	done:  sink(x)
func counterLoop(t *testing.T) (*cfg.Graph, map[string]cfg.BlockID) {
	t.Helper()
	b := cfg.NewBuilder()
	start := b.Block("start")
	head := b.Block("head")
	body := b.Block("body")
	done := b.Block("done")
	xv := b.Var("x", cfg.NoFuncID)
	iv := b.Var("i", cfg.NoFuncID)
	x, i := cfg.Variable(xv), cfg.Variable(iv)

	b.Assign(start, []cfg.VarID{xv, iv}, []cfg.Slot{cfg.LiteralUint64(0), cfg.LiteralUint64(0)}, noSpan)
	b.Jump(start, head)
	lt := b.Builtin(head, "lt", []cfg.Slot{cfg.LiteralUint64(10), i}, 1, noSpan)
	b.CondJump(head, cfg.Temporary(lt, 0), body, done)
	addX := b.Builtin(body, "add", []cfg.Slot{cfg.LiteralUint64(2), x}, 1, noSpan)
	b.Assign(body, []cfg.VarID{xv}, []cfg.Slot{cfg.Temporary(addX, 0)}, noSpan)
	addI := b.Builtin(body, "add", []cfg.Slot{cfg.LiteralUint64(1), i}, 1, noSpan)
	b.Assign(body, []cfg.VarID{iv}, []cfg.Slot{cfg.Temporary(addI, 0)}, noSpan)
	b.Jump(body, head)
	b.Builtin(done, "sink", []cfg.Slot{x}, 0, noSpan)
	b.MainExit(done)

	return finish(t, b), map[string]cfg.BlockID{"start": start, "head": head, "body": body, "done": done}
}

func TestLoopBackwardEdgeClosure(t *testing.T) {
	g, blocks := counterLoop(t)
	lay := run(t, g)

	headEntry := lay.Block(blocks["head"]).Entry
	bodyExit := lay.Block(blocks["body"]).Exit
	require.True(t, bodyExit.ContainsAll(headEntry), "head %s, body exit %s", g.SlotsString(headEntry), g.SlotsString(bodyExit))
	// x is only used after the loop but must survive it
	require.True(t, headEntry.Contains(cfg.Variable(0)))
	require.True(t, lay.Block(blocks["start"]).Exit.ContainsAll(headEntry))
}

// nested loops where x is only read after the outer loop, so revisiting the
// inner loop has to widen every block on the way
func TestNestedLoopsCarryOuterVariable(t *testing.T) {
	b := cfg.NewBuilder()
	start := b.Block("start")
	outer := b.Block("outer")
	ibody := b.Block("ibody")
	inner := b.Block("inner")
	jbody := b.Block("jbody")
	iend := b.Block("iend")
	done := b.Block("done")
	xv := b.Var("x", cfg.NoFuncID)
	iv := b.Var("i", cfg.NoFuncID)
	jv := b.Var("j", cfg.NoFuncID)
	x, i, j := cfg.Variable(xv), cfg.Variable(iv), cfg.Variable(jv)

	b.Assign(start, []cfg.VarID{xv, iv}, []cfg.Slot{cfg.LiteralUint64(7), cfg.LiteralUint64(0)}, noSpan)
	b.Jump(start, outer)
	ltI := b.Builtin(outer, "lt", []cfg.Slot{cfg.LiteralUint64(10), i}, 1, noSpan)
	b.CondJump(outer, cfg.Temporary(ltI, 0), ibody, done)
	b.Assign(ibody, []cfg.VarID{jv}, []cfg.Slot{cfg.LiteralUint64(0)}, noSpan)
	b.Jump(ibody, inner)
	ltJ := b.Builtin(inner, "lt", []cfg.Slot{cfg.LiteralUint64(5), j}, 1, noSpan)
	b.CondJump(inner, cfg.Temporary(ltJ, 0), jbody, iend)
	addJ := b.Builtin(jbody, "add", []cfg.Slot{cfg.LiteralUint64(1), j}, 1, noSpan)
	b.Assign(jbody, []cfg.VarID{jv}, []cfg.Slot{cfg.Temporary(addJ, 0)}, noSpan)
	b.Jump(jbody, inner)
	addI := b.Builtin(iend, "add", []cfg.Slot{cfg.LiteralUint64(1), i}, 1, noSpan)
	b.Assign(iend, []cfg.VarID{iv}, []cfg.Slot{cfg.Temporary(addI, 0)}, noSpan)
	b.Jump(iend, outer)
	b.Builtin(done, "sink", []cfg.Slot{x}, 0, noSpan)
	b.MainExit(done)
	g := finish(t, b)

	lay := run(t, g)
	for _, id := range []cfg.BlockID{outer, ibody, inner, jbody, iend} {
		require.True(t, lay.Block(id).Entry.Contains(x), "%s entry %s", g.BlockName(id), g.SlotsString(lay.Block(id).Entry))
	}
	require.True(t, lay.Block(inner).Entry.Contains(i))
	require.True(t, lay.Block(jbody).Exit.ContainsAll(lay.Block(inner).Entry))
	require.True(t, lay.Block(iend).Exit.ContainsAll(lay.Block(outer).Entry))
}

func TestSelfLoopIsDeterministic(t *testing.T) {
	build := func() *cfg.Graph {
		b := cfg.NewBuilder()
		start := b.Block("start")
		loop := b.Block("loop")
		iv := b.Var("i", cfg.NoFuncID)
		b.Assign(start, []cfg.VarID{iv}, []cfg.Slot{cfg.LiteralUint64(0)}, noSpan)
		b.Jump(start, loop)
		add := b.Builtin(loop, "add", []cfg.Slot{cfg.LiteralUint64(1), cfg.Variable(iv)}, 1, noSpan)
		b.Assign(loop, []cfg.VarID{iv}, []cfg.Slot{cfg.Temporary(add, 0)}, noSpan)
		b.Jump(loop, loop)
		return finish(t, b)
	}

	g1, g2 := build(), build()
	lay1, lay2 := run(t, g1), run(t, g2)
	require.Equal(t, lay1.Blocks, lay2.Blocks)
	require.Equal(t, lay1.Operations, lay2.Operations)

	var d1, d2 bytes.Buffer
	require.NoError(t, layout.Dump(&d1, g1, lay1))
	require.NoError(t, layout.Dump(&d2, g2, lay2))
	require.Equal(t, d1.String(), d2.String())

	loop := g1.Block(1)
	require.True(t, loop.Exit.Jump.Backwards)
	require.True(t, lay1.Block(loop.ID).Exit.ContainsAll(lay1.Block(loop.ID).Entry))
}

func TestFunctionCall(t *testing.T) {
	b := cfg.NewBuilder()
	start := b.Block("start")
	f := b.Func("inc", true)
	av := b.Var("a", f)
	rv := b.Var("r", f)
	b.SetSignature(f, []cfg.VarID{av}, []cfg.VarID{rv})
	body := b.Block("inc.body")
	b.SetFuncEntry(f, body)
	add := b.Builtin(body, "add", []cfg.Slot{cfg.LiteralUint64(1), cfg.Variable(av)}, 1, noSpan)
	b.Assign(body, []cfg.VarID{rv}, []cfg.Slot{cfg.Temporary(add, 0)}, noSpan)
	b.Return(body, f)

	call := b.Call(start, f, []cfg.Slot{cfg.LiteralUint64(41)}, noSpan)
	b.Builtin(start, "sink", []cfg.Slot{cfg.Temporary(call, 0)}, 0, noSpan)
	b.MainExit(start)
	g := finish(t, b)

	lay := run(t, g)
	require.Equal(t, stack.Stack{cfg.Variable(rv), cfg.FunctionReturnLabel(f)}, lay.Block(body).Exit)
	require.Equal(t, stack.Stack{cfg.CallReturnLabel(call), cfg.LiteralUint64(41)}, lay.Operations[call])

	found, err := layout.ReportStackTooDeep(g, lay, stack.DefaultPolicy())
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRunEntryOnlyTouchesItsBlocks(t *testing.T) {
	g, blocks := counterLoop(t)
	lay, err := layout.RunEntry(context.Background(), g, g.EntryPoints()[0], layout.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, lay.Blocks, len(blocks))
}

func TestFixupRoundLimit(t *testing.T) {
	g, _ := counterLoop(t)
	opts := layout.DefaultOptions()
	opts.MaxFixupRounds = 1
	_, err := layout.Run(context.Background(), g, opts)
	if err == nil {
		// converged in the first round; nothing to check
		return
	}
	var lerr *layout.Error
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, layout.ErrInternal, lerr.Kind)
	_, ok := invariant.As(err)
	require.True(t, ok)
}

func TestInvalidOptions(t *testing.T) {
	g, _ := counterLoop(t)
	opts := layout.DefaultOptions()
	opts.Policy.MaxDepth = 1
	_, err := layout.Run(context.Background(), g, opts)
	var lerr *layout.Error
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, layout.ErrOptions, lerr.Kind)
}

func TestCanceledContext(t *testing.T) {
	g, _ := counterLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := layout.Run(ctx, g, layout.DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)
}
