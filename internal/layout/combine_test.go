package layout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"evmstack/internal/cfg"
	"evmstack/internal/stack"
)

func TestCombineStackReversedPair(t *testing.T) {
	x, y := cfg.Variable(0), cfg.Variable(1)
	got := combineStack(stack.Stack{x, y}, stack.Stack{y, x}, DefaultOptions())
	require.Len(t, got, 2)
	require.ElementsMatch(t, stack.Stack{x, y}, got)
}

func TestCombineStackDropsLiterals(t *testing.T) {
	x, y := cfg.Variable(0), cfg.Variable(1)
	zero := cfg.LiteralUint64(0)
	got := combineStack(stack.Stack{x, zero, y}, stack.Stack{y, zero, x}, DefaultOptions())
	require.ElementsMatch(t, stack.Stack{x, y}, got)
	for _, slot := range got {
		require.NotEqual(t, cfg.SlotLiteral, slot.Kind)
	}
}

func TestCombineStackKeepsPrefix(t *testing.T) {
	a, x, y := cfg.Variable(0), cfg.Variable(1), cfg.Variable(2)
	got := combineStack(stack.Stack{a, x}, stack.Stack{a, y}, DefaultOptions())
	require.Equal(t, a, got[0])
	require.ElementsMatch(t, stack.Stack{x, y}, got[1:])

	// an empty tail means the other one is compressed
	got = combineStack(stack.Stack{a}, stack.Stack{a, cfg.LiteralUint64(7), x}, DefaultOptions())
	require.Equal(t, stack.Stack{a, x}, got)
}

func TestCombineStackCandidateSetSizes(t *testing.T) {
	for _, size := range []int{DefaultExhaustiveCombineLimit - 1, 9} {
		var lhs, rhs stack.Stack
		for i := range size {
			lhs = append(lhs, cfg.Variable(cfg.VarID(i)))
			rhs = append(rhs, cfg.Variable(cfg.VarID(size-1-i)))
		}
		got := combineStack(lhs, rhs, DefaultOptions())
		require.ElementsMatch(t, lhs, got, "size %d", size)
	}
}

func TestCombineCacheKeyDistinguishesStacks(t *testing.T) {
	x, y := cfg.Variable(0), cfg.Variable(1)
	k1 := combineKey(stack.Stack{x}, stack.Stack{y})
	k2 := combineKey(stack.Stack{x, y}, nil)
	k3 := combineKey(stack.Stack{cfg.Temporary(0, 1)}, stack.Stack{y})
	require.NotEqual(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.Equal(t, k1, combineKey(stack.Stack{x}, stack.Stack{y}))
}
