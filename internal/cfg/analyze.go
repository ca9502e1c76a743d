package cfg

import "slices"

// ComputeEntries fills Block.Entries with the predecessors of every block
// reachable from an entry point. Unreachable blocks get no entries and do
// not count as predecessors.
func ComputeEntries(g *Graph) {
	for i := range g.Blocks {
		g.Blocks[i].Entries = nil
	}
	seen := make(map[BlockID]bool, len(g.Blocks))
	for _, ep := range g.EntryPoints() {
		for _, id := range g.Reachable(ep.Block) {
			seen[id] = true
		}
	}
	for i := range g.Blocks {
		blk := &g.Blocks[i]
		if !seen[blk.ID] {
			continue
		}
		for _, succ := range blk.Successors() {
			target := &g.Blocks[succ]
			if !slices.Contains(target.Entries, blk.ID) {
				target.Entries = append(target.Entries, blk.ID)
			}
		}
	}
}

type edge struct {
	from, to BlockID
}

// backEdges returns the edges closing a cycle in a depth-first walk from
// every entry point. Conditional successors are walked non-zero first.
func backEdges(g *Graph) map[edge]bool {
	const (
		white = iota
		grey
		black
	)
	color := make([]uint8, len(g.Blocks))
	result := make(map[edge]bool)

	var visit func(BlockID)
	visit = func(id BlockID) {
		color[id] = grey
		for _, succ := range g.Blocks[id].Successors() {
			switch color[succ] {
			case white:
				visit(succ)
			case grey:
				result[edge{id, succ}] = true
			}
		}
		color[id] = black
	}
	for _, ep := range g.EntryPoints() {
		if ep.Block != NoBlockID && color[ep.Block] == white {
			visit(ep.Block)
		}
	}
	return result
}

// MarkBackwardJumps sets JumpExit.Backwards on exactly the unconditional
// jumps that close a loop.
func MarkBackwardJumps(g *Graph) {
	back := backEdges(g)
	for i := range g.Blocks {
		blk := &g.Blocks[i]
		if blk.Exit.Kind == ExitJump {
			blk.Exit.Jump.Backwards = back[edge{blk.ID, blk.Exit.Jump.Target}]
		}
	}
}

// Owners maps every reachable block to the entry point that reaches it.
// The second result lists blocks reached from more than one entry point.
func Owners(g *Graph) (map[BlockID]FuncID, []BlockID) {
	owner := make(map[BlockID]FuncID, len(g.Blocks))
	var shared []BlockID
	for _, ep := range g.EntryPoints() {
		for _, id := range g.Reachable(ep.Block) {
			if prev, ok := owner[id]; ok {
				if prev != ep.Func && !slices.Contains(shared, id) {
					shared = append(shared, id)
				}
				continue
			}
			owner[id] = ep.Func
		}
	}
	return owner, shared
}

// MarkRecursion flags functions on a call graph cycle and every call of
// such a function.
func MarkRecursion(g *Graph) {
	owner, _ := Owners(g)
	calls := make(map[FuncID][]FuncID)
	for i := range g.Blocks {
		blk := &g.Blocks[i]
		caller, ok := owner[blk.ID]
		if !ok || caller == NoFuncID {
			continue
		}
		for _, id := range blk.Ops {
			if op := &g.Ops[id]; op.Kind == OpCall && !slices.Contains(calls[caller], op.Callee) {
				calls[caller] = append(calls[caller], op.Callee)
			}
		}
	}

	reaches := func(from, to FuncID) bool {
		seen := map[FuncID]bool{}
		stack := slices.Clone(calls[from])
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if f == to {
				return true
			}
			if seen[f] {
				continue
			}
			seen[f] = true
			stack = append(stack, calls[f]...)
		}
		return false
	}

	for i := range g.Funcs {
		g.Funcs[i].Recursive = reaches(g.Funcs[i].ID, g.Funcs[i].ID)
	}
	for i := range g.Ops {
		if op := &g.Ops[i]; op.Kind == OpCall {
			op.Recursive = g.Funcs[op.Callee].Recursive
		}
	}
}
