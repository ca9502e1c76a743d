package stack

import (
	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
)

// Callbacks observe the primitive operations of CreateStackLayout. Each is
// called before the operation is applied to the stack; nil callbacks are
// skipped.
type Callbacks struct {
	// Swap is called with the depth of the slot swapped with the top.
	Swap func(depth int)
	// PushOrDup is called with the slot put on top.
	PushOrDup func(slot cfg.Slot)
	Pop       func()
}

type layoutOps struct {
	current      *Stack
	target       Stack
	cb           Callbacks
	multiplicity map[cfg.Slot]int
}

func newLayoutOps(current *Stack, target Stack, cb Callbacks) *layoutOps {
	ops := &layoutOps{
		current:      current,
		target:       target,
		cb:           cb,
		multiplicity: make(map[cfg.Slot]int, len(*current)+len(target)),
	}
	for _, slot := range *current {
		ops.multiplicity[slot]--
	}
	for offset, slot := range target {
		if slot.IsJunk() && offset < len(*current) {
			ops.multiplicity[(*current)[offset]]++
		} else {
			ops.multiplicity[slot]++
		}
	}
	return ops
}

func (o *layoutOps) isCompatible(source, target int) bool {
	return source < len(*o.current) && target < len(o.target) &&
		(o.target[target].IsJunk() || (*o.current)[source] == o.target[target])
}

func (o *layoutOps) sourceIsSame(lhs, rhs int) bool {
	return (*o.current)[lhs] == (*o.current)[rhs]
}

func (o *layoutOps) sourceMultiplicity(offset int) int {
	return o.multiplicity[(*o.current)[offset]]
}

func (o *layoutOps) targetMultiplicity(offset int) int {
	return o.multiplicity[o.target[offset]]
}

func (o *layoutOps) targetIsArbitrary(offset int) bool {
	return offset < len(o.target) && o.target[offset].IsJunk()
}

func (o *layoutOps) sourceSize() int { return len(*o.current) }
func (o *layoutOps) targetSize() int { return len(o.target) }

func (o *layoutOps) swap(depth int) {
	if o.cb.Swap != nil {
		o.cb.Swap(depth)
	}
	s := *o.current
	top := len(s) - 1
	s[top-depth], s[top] = s[top], s[top-depth]
}

func (o *layoutOps) pop() {
	if o.cb.Pop != nil {
		o.cb.Pop()
	}
	*o.current = (*o.current)[:len(*o.current)-1]
}

func (o *layoutOps) pushOrDupTarget(offset int) {
	slot := o.target[offset]
	if o.cb.PushOrDup != nil {
		o.cb.PushOrDup(slot)
	}
	*o.current = append(*o.current, slot)
}

// CreateStackLayout transforms *current into target, reporting every
// primitive operation to cb. Afterwards positions where target holds junk
// are junk in *current and every other position equals target.
func CreateStackLayout(current *Stack, target Stack, maxDepth int, cb Callbacks) {
	shuffle(maxDepth, func() shuffleOps { return newLayoutOps(current, target, cb) })

	invariant.Check(len(*current) == len(target), "shuffled stack has %d slots, want %d", len(*current), len(target))
	for i, want := range target {
		if want.IsJunk() {
			(*current)[i] = cfg.Junk()
			continue
		}
		invariant.Check((*current)[i] == want, "slot %d differs after shuffling", i)
	}
}
