package layout

import (
	"slices"
	"strconv"

	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
	"evmstack/internal/stack"
	"evmstack/internal/trace"
)

type generator struct {
	g        *cfg.Graph
	opts     Options
	out      *Layout
	combined *combineCache
	tracer   trace.Tracer
	parent   uint64
	name     string
}

// blockQueue is the to-visit list of processEntryPoint. Blocks whose
// dependencies are staged go to the front, predecessors of a finished block
// to the back.
type blockQueue []cfg.BlockID

func (q *blockQueue) pushFront(id cfg.BlockID) {
	*q = slices.Insert(*q, 0, id)
}

func (q *blockQueue) pushBack(id cfg.BlockID) {
	*q = append(*q, id)
}

func (q *blockQueue) popFront() cfg.BlockID {
	id := (*q)[0]
	*q = (*q)[1:]
	return id
}

type jump struct {
	from, target cfg.BlockID
}

func (gen *generator) blockLayout(id cfg.BlockID) *BlockLayout {
	bl, ok := gen.out.Blocks[id]
	if !ok {
		bl = &BlockLayout{}
		gen.out.Blocks[id] = bl
	}
	return bl
}

func (gen *generator) processEntryPoint(entry cfg.BlockID) {
	order := gen.g.Reachable(entry)
	var backward []jump
	for _, id := range order {
		if exit := gen.g.Block(id).Exit; exit.Kind == cfg.ExitJump && exit.Jump.Backwards {
			backward = append(backward, jump{from: id, target: exit.Jump.Target})
		}
	}

	visited := make(map[cfg.BlockID]bool, len(order))
	toVisit := blockQueue{entry}
	for round := 0; len(toVisit) > 0; round++ {
		invariant.Check(round < gen.opts.MaxFixupRounds, "%s: layout did not converge after %d rounds", gen.name, round)
		if round > 0 {
			gen.out.Stats.FixupRounds++
			trace.Point(gen.tracer, trace.ScopeFunction, "fixup", gen.name+" round "+strconv.Itoa(round), gen.parent)
		}

		// Lay out every block whose successors are known, treating backward
		// jumps as requiring the current entry of their target.
		for len(toVisit) > 0 {
			id := toVisit.popFront()
			if visited[id] {
				continue
			}
			exit, ok := gen.exitLayoutOrStage(id, visited, &toVisit)
			if !ok {
				continue
			}
			visited[id] = true
			bl := gen.blockLayout(id)
			entry := gen.propagateStackThroughBlock(exit, id, false)
			gen.checkGrowth(id, bl.Exit, exit, "exit")
			gen.checkGrowth(id, bl.Entry, entry, "entry")
			bl.Exit = exit
			bl.Entry = entry
			for _, pred := range gen.g.Block(id).Entries {
				toVisit.pushBack(pred)
			}
		}

		for _, j := range backward {
			if gen.out.Blocks[j.from].Exit.ContainsAll(gen.out.Blocks[j.target].Entry) {
				continue
			}
			// The loop body has to carry more slots: revisit everything
			// between the header and the jumping block, and whatever enters
			// the header.
			toVisit.pushFront(j.from)
			for _, pred := range gen.g.Block(j.target).Entries {
				delete(visited, pred)
			}
			queue := []cfg.BlockID{j.from}
			seen := map[cfg.BlockID]bool{j.from: true}
			for len(queue) > 0 {
				id := queue[0]
				queue = queue[1:]
				delete(visited, id)
				if id == j.target {
					continue
				}
				for _, pred := range gen.g.Block(id).Entries {
					if !seen[pred] {
						seen[pred] = true
						queue = append(queue, pred)
					}
				}
			}
		}

		// A revisited block may now require more than its forward
		// predecessors provide.
		for _, id := range order {
			if visited[id] && gen.exitIsStale(id) {
				delete(visited, id)
				toVisit.pushBack(id)
			}
		}
	}

	gen.stitchConditionalJumps(order)
}

// checkGrowth asserts that revisiting a block only adds requirements: every
// slot of the old layout that cannot be pushed on the fly is still there.
// Fixup rounds terminate because of this.
func (gen *generator) checkGrowth(id cfg.BlockID, old, next stack.Stack, what string) {
	for _, slot := range old {
		if gen.opts.Policy.CanBeFreelyGenerated(slot) {
			continue
		}
		invariant.Check(next.Contains(slot), "%s: %s of %s lost %s on revisit: %s -> %s", gen.name, what,
			gen.g.BlockName(id), gen.g.SlotString(slot), gen.g.SlotsString(old), gen.g.SlotsString(next))
	}
}

// exitLayoutOrStage returns the exit layout of a block if every successor
// it depends on is laid out. Otherwise it stages those successors in front
// of the queue and reports false.
func (gen *generator) exitLayoutOrStage(id cfg.BlockID, visited map[cfg.BlockID]bool, toVisit *blockQueue) (stack.Stack, bool) {
	blk := gen.g.Block(id)
	switch blk.Exit.Kind {
	case cfg.ExitMain, cfg.ExitTerminated:
		return stack.Stack{}, true
	case cfg.ExitJump:
		target := blk.Exit.Jump.Target
		if blk.Exit.Jump.Backwards {
			if bl, ok := gen.out.Blocks[target]; ok {
				return bl.Entry.Clone(), true
			}
			return stack.Stack{}, true
		}
		if visited[target] {
			return gen.out.Blocks[target].Entry.Clone(), true
		}
		toVisit.pushFront(target)
		return nil, false
	case cfg.ExitConditionalJump:
		c := blk.Exit.Cond
		zeroVisited, nonZeroVisited := visited[c.Zero], visited[c.NonZero]
		if zeroVisited && nonZeroVisited {
			combined := gen.combineStack(gen.out.Blocks[c.Zero].Entry, gen.out.Blocks[c.NonZero].Entry)
			return combined.Concat(c.Condition), true
		}
		if !zeroVisited {
			toVisit.pushFront(c.Zero)
		}
		if !nonZeroVisited {
			toVisit.pushFront(c.NonZero)
		}
		return nil, false
	case cfg.ExitFunctionReturn:
		f := gen.g.Func(blk.Exit.Return.Func)
		s := make(stack.Stack, 0, len(f.Returns)+1)
		for _, v := range f.Returns {
			s = append(s, cfg.Variable(v))
		}
		return append(s, cfg.FunctionReturnLabel(f.ID)), true
	case cfg.ExitNone:
		invariant.Fail("%s has no exit", gen.g.BlockName(id))
		return nil, false
	default:
		invariant.Fail("%s: unknown exit kind %d", gen.g.BlockName(id), blk.Exit.Kind)
		return nil, false
	}
}

// exitIsStale reports whether a forward successor of a laid out block
// requires a slot that is neither on the block's exit nor freely
// generatable.
func (gen *generator) exitIsStale(id cfg.BlockID) bool {
	blk := gen.g.Block(id)
	exit := gen.out.Blocks[id].Exit
	if blk.Exit.Kind == cfg.ExitConditionalJump && len(exit) > 0 {
		exit = exit[:len(exit)-1]
	}
	for _, succ := range blk.ForwardSuccessors() {
		bl, ok := gen.out.Blocks[succ]
		if !ok {
			return true
		}
		for _, slot := range bl.Entry {
			if !gen.opts.Policy.CanBeFreelyGenerated(slot) && !exit.Contains(slot) {
				return true
			}
		}
	}
	return false
}

// propagateStackThroughBlock walks the operations of a block backwards from
// its exit layout and returns the entry layout. If any operation would need
// a too deep shuffle, the block is redone with aggressive compression.
func (gen *generator) propagateStackThroughBlock(exit stack.Stack, id cfg.BlockID, aggressive bool) stack.Stack {
	ops := gen.g.Block(id).Ops
	s := exit
	for i := len(ops) - 1; i >= 0; i-- {
		next := gen.propagateStackThroughOperation(s, ops[i], aggressive)
		if !aggressive && len(stack.FindStackTooDeep(next, s, gen.opts.Policy)) > 0 {
			gen.out.Stats.AggressiveBlocks++
			trace.Point(gen.tracer, trace.ScopeBlock, "aggressive", gen.g.BlockName(id), gen.parent)
			return gen.propagateStackThroughBlock(exit, id, true)
		}
		s = next
	}
	if len(s) > gen.opts.CompressThreshold {
		s = stack.CompressStack(s, gen.opts.Policy)
	}
	return s.Clone()
}

// propagateStackThroughOperation records the layout required in front of
// the operation and returns the layout the preceding operation has to
// leave, which may be smaller.
func (gen *generator) propagateStackThroughOperation(exit stack.Stack, id cfg.OpID, aggressive bool) stack.Stack {
	op := gen.g.Op(id)
	policy := gen.opts.Policy
	if op.Kind == cfg.OpCall && op.Recursive {
		aggressive = true
	}
	generate := func(slot cfg.Slot) bool {
		return aggressive && policy.CanBeFreelyGenerated(slot)
	}

	s := stack.CreateIdealLayout(op.Output, exit, generate, policy.MaxDepth)
	if op.Kind == cfg.OpAssign {
		for _, slot := range s {
			invariant.Check(slot.Kind != cfg.SlotVariable || !slices.Contains(op.Vars, slot.Var),
				"%s: assigned variable %s is live before the assignment", gen.g.OpString(id), gen.g.SlotString(slot))
		}
	}
	s = s.Concat(op.Input...)
	gen.out.Operations[id] = s.Clone()

	// drop what the shuffle in front of the operation can recreate
	for len(s) > 0 {
		top := s.Top()
		if policy.CanBeFreelyGenerated(top) {
			s = s[:len(s)-1]
			continue
		}
		if depth, ok := s[:len(s)-1].Depth(top); ok && depth+2 < policy.MaxDepth {
			s = s[:len(s)-1]
			continue
		}
		break
	}

	if len(s) > gen.opts.CompressThreshold {
		s = stack.CompressStack(s, policy)
	}
	return s
}
