package stack

import (
	"evmstack/internal/invariant"
)

// shuffleOps is the view of a source layout being shuffled towards a fixed
// target layout. Offsets count from the bottom of the stack.
type shuffleOps interface {
	// isCompatible reports whether the source slot at source may stay at
	// target offset target.
	isCompatible(source, target int) bool
	sourceIsSame(lhs, rhs int) bool
	// sourceMultiplicity is n > 0 if the slot at offset needs n more copies
	// and -n if it occurs n times too often.
	sourceMultiplicity(offset int) int
	// targetMultiplicity is the same for the slot wanted at target offset.
	targetMultiplicity(offset int) int
	// targetIsArbitrary reports a junk slot in the target.
	targetIsArbitrary(offset int) bool
	sourceSize() int
	targetSize() int
	// swap exchanges the top with the slot depth positions below it.
	swap(depth int)
	pop()
	// pushOrDupTarget puts the slot wanted at target offset on top.
	pushOrDupTarget(offset int)
}

// maxShuffleSteps guards against a shuffle that does not converge.
const maxShuffleSteps = 1000

// shuffle runs shuffle steps until the source layout matches the target.
// newOps is called before every step, so implementations may derive
// multiplicities from the current state once per step.
func shuffle(maxDepth int, newOps func() shuffleOps) {
	for range maxShuffleSteps {
		if !shuffleStep(newOps(), maxDepth) {
			return
		}
	}
	invariant.Fail("could not create stack layout after %d iterations", maxShuffleSteps)
}

// dupDeepSlotIfRequired fixes or copies slots that would move out of reach
// once more slots are pushed. Reports whether it changed the stack.
func dupDeepSlotIfRequired(ops shuffleOps, maxDepth int) bool {
	reach := maxDepth - 1
	if ops.sourceSize() < reach {
		return false
	}
	for sourceOffset := 0; sourceOffset < ops.sourceSize()-reach; sourceOffset++ {
		if !ops.isCompatible(sourceOffset, sourceOffset) {
			// the top fixes this slot: swap it down now
			if ops.isCompatible(ops.sourceSize()-1, sourceOffset) {
				ops.swap(ops.sourceSize() - sourceOffset - 1)
				return true
			}
			if bringUpTargetSlot(ops, sourceOffset) {
				return true
			}
			for offset := sourceOffset + 1; offset < ops.sourceSize(); offset++ {
				if ops.isCompatible(offset, sourceOffset) {
					ops.swap(ops.sourceSize() - offset - 1)
					return true
				}
			}
			// left to compression or spilling
			continue
		}
		if ops.sourceMultiplicity(sourceOffset) <= 0 {
			continue
		}
		// a higher copy will be dupped instead
		higher := false
		for offset := sourceOffset + 1; offset < ops.sourceSize(); offset++ {
			if ops.sourceIsSame(sourceOffset, offset) {
				higher = true
				break
			}
		}
		if higher {
			continue
		}
		for targetOffset := 0; targetOffset < ops.targetSize(); targetOffset++ {
			if !ops.targetIsArbitrary(targetOffset) && ops.isCompatible(sourceOffset, targetOffset) {
				ops.pushOrDupTarget(targetOffset)
				return true
			}
		}
	}
	return false
}

// bringUpTargetSlot pushes or dups a slot that eventually fixes
// targetOffset. If the wanted slot has enough copies already, one of them
// sits at an offset that is not in place; fixing that offset first
// frees the copy, so the search continues from there.
func bringUpTargetSlot(ops shuffleOps, targetOffset int) bool {
	toVisit := []int{targetOffset}
	visited := map[int]bool{}
	for len(toVisit) > 0 {
		offset := toVisit[0]
		toVisit = toVisit[1:]
		visited[offset] = true
		if ops.targetMultiplicity(offset) > 0 {
			ops.pushOrDupTarget(offset)
			return true
		}
		for next := 0; next < min(ops.sourceSize(), ops.targetSize()); next++ {
			if !ops.isCompatible(next, next) && ops.isCompatible(next, offset) && !visited[next] {
				toVisit = append(toVisit, next)
			}
		}
	}
	return false
}

// shuffleStep performs one stack operation. Reports false once the source
// layout is final.
func shuffleStep(ops shuffleOps, maxDepth int) bool {
	allFinal := true
	for i := 0; i < ops.sourceSize(); i++ {
		if !ops.isCompatible(i, i) {
			allFinal = false
			break
		}
	}
	if allFinal {
		if ops.sourceSize() < ops.targetSize() {
			if !dupDeepSlotIfRequired(ops, maxDepth) {
				invariant.Check(bringUpTargetSlot(ops, ops.sourceSize()), "no slot to bring up for offset %d", ops.sourceSize())
			}
			return true
		}
		return false
	}

	sourceTop := ops.sourceSize() - 1
	// pop an unneeded top unless the target has junk at its position
	if ops.sourceMultiplicity(sourceTop) < 0 && !ops.targetIsArbitrary(sourceTop) {
		ops.pop()
		return true
	}

	invariant.Check(ops.targetSize() > 0, "shuffling a non-empty stack to an empty one")

	// try to swap the top down to a position that wants it
	if !ops.isCompatible(sourceTop, sourceTop) || ops.targetIsArbitrary(sourceTop) {
		for offset := 0; offset < min(ops.sourceSize(), ops.targetSize()); offset++ {
			if ops.isCompatible(offset, offset) || ops.sourceIsSame(offset, sourceTop) || !ops.isCompatible(sourceTop, offset) {
				continue
			}
			if ops.sourceSize()-offset-1 > maxDepth {
				// park the top at a reachable slot that has to go anyway
				for depth := maxDepth; depth >= 1; depth-- {
					if ops.sourceMultiplicity(ops.sourceSize()-1-depth) < 0 {
						ops.swap(depth)
						return true
					}
				}
			}
			ops.swap(ops.sourceSize() - offset - 1)
			return true
		}
	}

	// an unneeded top was popped and a needed one was swapped down
	invariant.Check(ops.sourceSize() <= ops.targetSize(), "source larger than target after fixing the top")

	// a lower slot has surplus copies: bring up what belongs there
	for offset := 0; offset < ops.sourceSize(); offset++ {
		if !ops.isCompatible(offset, offset) &&
			ops.sourceMultiplicity(offset) < 0 &&
			offset <= ops.targetSize() &&
			!ops.targetIsArbitrary(offset) {
			if !dupDeepSlotIfRequired(ops, maxDepth) {
				invariant.Check(bringUpTargetSlot(ops, offset), "no slot to bring up for offset %d", offset)
			}
			return true
		}
	}

	for i := 0; i < ops.sourceSize(); i++ {
		invariant.Check(ops.sourceMultiplicity(i) >= 0, "slot at offset %d has surplus copies", i)
	}

	// swap up a slot that wants to be on top
	if !ops.isCompatible(sourceTop, sourceTop) {
		for offset := 0; offset < ops.sourceSize(); offset++ {
			if !ops.isCompatible(offset, offset) && ops.isCompatible(offset, sourceTop) {
				ops.swap(ops.sourceSize() - offset - 1)
				return true
			}
		}
	}

	if ops.sourceSize() < ops.targetSize() {
		if !dupDeepSlotIfRequired(ops, maxDepth) {
			invariant.Check(bringUpTargetSlot(ops, ops.sourceSize()), "no slot to bring up for offset %d", ops.sourceSize())
		}
		return true
	}

	// right size, right multiplicities, top in place: fix permutation cycles
	size := ops.sourceSize()
	invariant.Check(size == ops.targetSize(), "source size %d differs from target size %d", size, ops.targetSize())
	for i := 0; i < size; i++ {
		invariant.Check(ops.sourceMultiplicity(i) == 0 && (ops.targetIsArbitrary(i) || ops.targetMultiplicity(i) == 0), "multiplicity mismatch at offset %d", i)
	}
	invariant.Check(ops.isCompatible(sourceTop, sourceTop), "top is not in place")

	for offset := 0; offset < size; offset++ {
		if !ops.isCompatible(offset, offset) && ops.isCompatible(sourceTop, offset) {
			ops.swap(size - offset - 1)
			return true
		}
	}
	for offset := 0; offset < size; offset++ {
		if !ops.isCompatible(offset, offset) && !ops.sourceIsSame(offset, sourceTop) {
			ops.swap(size - offset - 1)
			return true
		}
	}
	invariant.Fail("no shuffle step applies")
	return false
}
