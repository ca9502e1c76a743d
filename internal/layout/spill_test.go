package layout_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"evmstack/internal/cfg"
	"evmstack/internal/layout"
	"evmstack/internal/testkit"
)

// reversedSink defines n variables and passes them to one operation in
// reverse order, so the first variable defined has to move from the
// bottom of the stack to the top.
func reversedSink(t *testing.T, n int) *cfg.Graph {
	t.Helper()
	b := cfg.NewBuilder()
	blk := b.Block("start")
	input := make([]cfg.Slot, n)
	for i := range n {
		v := b.Var(fmt.Sprintf("v%d", i), cfg.NoFuncID)
		load := b.Builtin(blk, "calldataload", []cfg.Slot{cfg.LiteralUint64(uint64(32 * i))}, 1, noSpan)
		b.Assign(blk, []cfg.VarID{v}, []cfg.Slot{cfg.Temporary(load, 0)}, noSpan)
		input[n-1-i] = cfg.Variable(v)
	}
	b.Builtin(blk, "sink", input, 0, noSpan)
	b.MainExit(blk)
	return finish(t, b)
}

func TestReportStackTooDeep(t *testing.T) {
	g := reversedSink(t, 18)
	lay := run(t, g)
	found, err := layout.ReportStackTooDeep(g, lay, layout.DefaultOptions().Policy)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	for _, f := range found {
		require.Positive(t, f.Deficit)
		require.NotEmpty(t, f.Variables)
		require.Equal(t, cfg.NoFuncID, f.Func)
		require.Contains(t, f.Describe(g), "stack too deep")
	}

	small := reversedSink(t, 8)
	found, err = layout.ReportStackTooDeep(small, run(t, small), layout.DefaultOptions().Policy)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestFixStackTooDeepSpills(t *testing.T) {
	g := reversedSink(t, 18)
	opts := layout.DefaultOptions()
	res, err := layout.FixStackTooDeep(context.Background(), g, opts, layout.DefaultSpillOptions(), nil)
	require.NoError(t, err)
	require.Empty(t, res.Remaining)
	require.NotEmpty(t, res.Spilled)
	require.Positive(t, res.Rounds)
	require.NotSame(t, g, res.Graph)
	require.NoError(t, testkit.CheckLayoutInvariants(res.Graph, res.Layout, opts.Policy))

	spill := layout.DefaultSpillOptions()
	for n, v := range res.SpilledVars() {
		require.Equal(t, spill.Base+spill.SlotSize*uint64(n), res.Spilled[v])
	}

	loads := 0
	for _, id := range res.Graph.Block(g.Entry).Ops {
		if res.Graph.Op(id).Name == cfg.BuiltinLoad {
			loads++
		}
	}
	require.Equal(t, len(res.Spilled), loads)
}

func TestFixStackTooDeepWithoutRounds(t *testing.T) {
	g := reversedSink(t, 18)
	spill := layout.DefaultSpillOptions()
	spill.MaxRounds = 0
	res, err := layout.FixStackTooDeep(context.Background(), g, layout.DefaultOptions(), spill, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Remaining)
	require.Empty(t, res.Spilled)
	require.Same(t, g, res.Graph)
}

func TestFixStackTooDeepNothingToDo(t *testing.T) {
	g := reversedSink(t, 4)
	res, err := layout.FixStackTooDeep(context.Background(), g, layout.DefaultOptions(), layout.DefaultSpillOptions(), layout.Run)
	require.NoError(t, err)
	require.Empty(t, res.Remaining)
	require.Zero(t, res.Rounds)
	require.Same(t, g, res.Graph)
}
