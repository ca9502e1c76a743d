package stack

import (
	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
)

// idealEntry is either a placeholder for a slot that exists before the
// operation (previous, identified by its final position before the
// operation) or a concrete slot.
type idealEntry struct {
	previous bool
	index    int
	slot     cfg.Slot
}

type idealOps struct {
	layout       *[]idealEntry
	post         Stack
	outputs      map[cfg.Slot]bool
	multiplicity map[cfg.Slot]int
	generate     func(cfg.Slot) bool
}

func newIdealOps(layout *[]idealEntry, post Stack, generate func(cfg.Slot) bool) *idealOps {
	ops := &idealOps{
		layout:       layout,
		post:         post,
		outputs:      make(map[cfg.Slot]bool),
		multiplicity: make(map[cfg.Slot]int),
		generate:     generate,
	}
	for _, e := range *layout {
		if !e.previous {
			ops.outputs[e.slot] = true
			ops.multiplicity[e.slot]--
		}
	}
	for _, slot := range post {
		if ops.outputs[slot] || generate(slot) {
			ops.multiplicity[slot]++
		}
	}
	return ops
}

// fresh reports whether slot is produced by the operation or generated on
// the fly rather than kept from before.
func (o *idealOps) fresh(slot cfg.Slot) bool {
	return o.outputs[slot] || o.generate(slot)
}

func (o *idealOps) isCompatible(source, target int) bool {
	if source >= len(*o.layout) || target >= len(o.post) {
		return false
	}
	want := o.post[target]
	if want.IsJunk() {
		return true
	}
	e := (*o.layout)[source]
	if e.previous {
		return !o.fresh(want)
	}
	return e.slot == want
}

func (o *idealOps) sourceIsSame(lhs, rhs int) bool {
	l, r := (*o.layout)[lhs], (*o.layout)[rhs]
	if l.previous || r.previous {
		return l.previous && r.previous
	}
	return l.slot == r.slot
}

func (o *idealOps) sourceMultiplicity(offset int) int {
	e := (*o.layout)[offset]
	if e.previous {
		return 0
	}
	return o.multiplicity[e.slot]
}

func (o *idealOps) targetMultiplicity(offset int) int {
	if !o.fresh(o.post[offset]) {
		return 0
	}
	return o.multiplicity[o.post[offset]]
}

func (o *idealOps) targetIsArbitrary(offset int) bool {
	return offset < len(o.post) && o.post[offset].IsJunk()
}

func (o *idealOps) sourceSize() int { return len(*o.layout) }
func (o *idealOps) targetSize() int { return len(o.post) }

func (o *idealOps) swap(depth int) {
	l := *o.layout
	top := len(l) - 1
	invariant.Check(!l[top-depth].previous || !l[top].previous, "swapping two previous slots")
	l[top-depth], l[top] = l[top], l[top-depth]
}

func (o *idealOps) pop() {
	*o.layout = (*o.layout)[:len(*o.layout)-1]
}

func (o *idealOps) pushOrDupTarget(offset int) {
	*o.layout = append(*o.layout, idealEntry{slot: o.post[offset]})
}

// CreateIdealLayout returns the stack to have in front of an operation that
// leaves outputs on top, such that shuffling the stack plus outputs to post
// is cheap. The operation's inputs are not part of the result. Slots for
// which generate returns true do not appear in the result; they are pushed
// while shuffling instead. Junk positions of post need no value and are left
// out of the result as well.
func CreateIdealLayout(outputs, post Stack, generate func(cfg.Slot) bool, maxDepth int) Stack {
	// a junk target accepts any source, output slots included, which would
	// leave the shuffler without a slot to bring up above it
	post = post.Without(cfg.Slot.IsJunk)

	isOutput := make(map[cfg.Slot]bool, len(outputs))
	for _, s := range outputs {
		isOutput[s] = true
	}
	preSize := 0
	for _, slot := range post {
		if !isOutput[slot] && !generate(slot) {
			preSize++
		}
	}

	// the layout right after the operation: previous slots, then outputs
	layout := make([]idealEntry, 0, preSize+len(outputs))
	for i := range preSize {
		layout = append(layout, idealEntry{previous: true, index: i})
	}
	for _, s := range outputs {
		layout = append(layout, idealEntry{slot: s})
	}
	if len(layout) == 0 {
		return Stack{}
	}

	shuffle(maxDepth, func() shuffleOps { return newIdealOps(&layout, post, generate) })
	invariant.Check(len(layout) == len(post), "ideal layout has %d slots, want %d", len(layout), len(post))

	// where previous slot i ended up tells which post slot belongs at i
	ideal := make(Stack, len(post))
	set := make([]bool, len(post))
	for pos, e := range layout {
		if e.previous {
			ideal[e.index] = post[pos]
			set[e.index] = true
		}
	}
	n := len(ideal)
	for n > 0 && !set[n-1] {
		n--
	}
	invariant.Check(n == preSize, "ideal layout keeps %d slots, want %d", n, preSize)
	for i := range n {
		invariant.Check(set[i], "ideal layout has a gap at %d", i)
	}
	return ideal[:n]
}
