package cfg

import (
	"slices"

	"evmstack/internal/source"
)

type Var struct {
	Name string
	// Func owns the variable; NoFuncID for the main program.
	Func FuncID
	Span source.Span
}

type Func struct {
	ID      FuncID
	Name    string
	Params  []VarID
	Returns []VarID
	Entry   BlockID
	// CanContinue is false for functions that never return to the caller.
	CanContinue bool
	// Recursive is set for functions on a call graph cycle.
	Recursive bool
	Span      source.Span
}

// Graph owns all blocks, operations, variables and functions.
type Graph struct {
	Vars   []Var
	Funcs  []Func
	Blocks []Block
	Ops    []Operation
	// Entry is the first block of the main program.
	Entry BlockID
}

func (g *Graph) Block(id BlockID) *Block {
	return &g.Blocks[id]
}

func (g *Graph) Op(id OpID) *Operation {
	return &g.Ops[id]
}

func (g *Graph) Func(id FuncID) *Func {
	return &g.Funcs[id]
}

func (g *Graph) Var(id VarID) *Var {
	return &g.Vars[id]
}

// EntryPoint is the main program or one function.
type EntryPoint struct {
	Func  FuncID // NoFuncID for main
	Block BlockID
}

// EntryPoints lists main first, then every function in declaration order.
func (g *Graph) EntryPoints() []EntryPoint {
	eps := make([]EntryPoint, 0, len(g.Funcs)+1)
	eps = append(eps, EntryPoint{Func: NoFuncID, Block: g.Entry})
	for i := range g.Funcs {
		eps = append(eps, EntryPoint{Func: g.Funcs[i].ID, Block: g.Funcs[i].Entry})
	}
	return eps
}

// EntryName returns the function name of an entry point, or "main".
func (g *Graph) EntryName(ep EntryPoint) string {
	if ep.Func == NoFuncID {
		return "main"
	}
	return g.Funcs[ep.Func].Name
}

// Reachable returns the blocks reachable from entry in breadth-first order.
func (g *Graph) Reachable(entry BlockID) []BlockID {
	seen := map[BlockID]bool{entry: true}
	order := []BlockID{entry}
	for i := 0; i < len(order); i++ {
		for _, succ := range g.Blocks[order[i]].Successors() {
			if !seen[succ] {
				seen[succ] = true
				order = append(order, succ)
			}
		}
	}
	return order
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		Vars:   slices.Clone(g.Vars),
		Funcs:  slices.Clone(g.Funcs),
		Blocks: slices.Clone(g.Blocks),
		Ops:    slices.Clone(g.Ops),
		Entry:  g.Entry,
	}
	for i := range out.Funcs {
		out.Funcs[i].Params = slices.Clone(out.Funcs[i].Params)
		out.Funcs[i].Returns = slices.Clone(out.Funcs[i].Returns)
	}
	for i := range out.Blocks {
		out.Blocks[i].Ops = slices.Clone(out.Blocks[i].Ops)
		out.Blocks[i].Entries = slices.Clone(out.Blocks[i].Entries)
	}
	for i := range out.Ops {
		out.Ops[i].Vars = slices.Clone(out.Ops[i].Vars)
		out.Ops[i].Input = slices.Clone(out.Ops[i].Input)
		out.Ops[i].Output = slices.Clone(out.Ops[i].Output)
	}
	return out
}

// OpSpan returns the span of op, falling back to the span of its block.
func (g *Graph) OpSpan(op OpID, blk BlockID) source.Span {
	if sp := g.Ops[op].Span; !sp.Empty() || blk == NoBlockID {
		return sp
	}
	return g.Blocks[blk].Span
}
