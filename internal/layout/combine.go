package layout

import (
	"evmstack/internal/cfg"
	"evmstack/internal/stack"
)

// combinePenalty is added for every shuffle step that would not be
// reachable.
const combinePenalty = 1000

func (gen *generator) combineStack(lhs, rhs stack.Stack) stack.Stack {
	gen.out.Stats.Combines++
	key := combineKey(lhs, rhs)
	if s, ok := gen.combined.get(key); ok {
		return s.Clone()
	}
	s := combineStack(lhs, rhs, gen.opts)
	gen.combined.put(key, s)
	return s.Clone()
}

// combineStack returns a stack that both lhs and rhs can be created from
// cheaply. The shared prefix is kept as is. The remaining slots are ordered
// by trying permutations and counting the shuffle steps towards both tails.
func combineStack(lhs, rhs stack.Stack, opts Options) stack.Stack {
	policy := opts.Policy

	n := 0
	for n < len(lhs) && n < len(rhs) && lhs[n] == rhs[n] {
		n++
	}
	prefix := lhs[:n].Clone()
	lhsTail, rhsTail := lhs[n:], rhs[n:]
	if len(lhsTail) == 0 {
		return append(prefix, stack.CompressStack(rhsTail, policy)...)
	}
	if len(rhsTail) == 0 {
		return append(prefix, stack.CompressStack(lhsTail, policy)...)
	}

	var candidate stack.Stack
	for _, tail := range []stack.Stack{lhsTail, rhsTail} {
		for _, slot := range tail {
			if !policy.CanBeFreelyGenerated(slot) && !candidate.Contains(slot) {
				candidate = append(candidate, slot)
			}
		}
	}

	evaluate := func(c stack.Stack) int {
		cost := 0
		var test stack.Stack
		cb := stack.Callbacks{
			Swap: func(depth int) {
				cost++
				if depth > policy.MaxDepth {
					cost += combinePenalty
				}
			},
			PushOrDup: func(slot cfg.Slot) {
				if slot.IsJunk() || policy.CanBeFreelyGenerated(slot) {
					return
				}
				if depth, ok := prefix.Concat(test...).Depth(slot); ok && depth >= policy.MaxDepth {
					cost += combinePenalty
				}
			},
		}
		for _, tail := range []stack.Stack{lhsTail, rhsTail} {
			test = c.Clone()
			stack.CreateStackLayout(&test, tail, policy.MaxDepth, cb)
		}
		return cost
	}

	best := candidate.Clone()
	bestCost := evaluate(candidate)
	try := func() {
		if cost := evaluate(candidate); cost < bestCost {
			bestCost = cost
			best = candidate.Clone()
		}
	}

	size := len(candidate)
	if size <= opts.ExhaustiveCombineLimit {
		// Heap's algorithm, every permutation
		c := make([]int, size)
		for i := 1; i < size; {
			if c[i] < i {
				if i%2 == 0 {
					candidate[0], candidate[i] = candidate[i], candidate[0]
				} else {
					candidate[c[i]], candidate[i] = candidate[i], candidate[c[i]]
				}
				try()
				c[i]++
				i = 1
			} else {
				c[i] = 0
				i++
			}
		}
	} else {
		// a single sweep of Heap's counters: rotate each slot through the
		// bottom once
		for i := 1; i < size; i++ {
			candidate[0], candidate[i] = candidate[i], candidate[0]
			try()
		}
	}

	return append(prefix, best...)
}
