package cfg

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Builtins emitted by SpillVariables.
const (
	BuiltinLoad  = "mload"
	BuiltinStore = "mstore"
)

// SpillVariables returns a copy of g in which every variable of spills lives
// in memory at the given address instead of on the stack. Each read becomes
// an mload right before the reading operation; each assignment stores the
// assigned value with an mstore right after it. Parameters, return
// variables and branch conditions cannot be spilled.
func SpillVariables(g *Graph, spills map[VarID]uint64) (*Graph, error) {
	if err := checkSpillable(g, spills); err != nil {
		return nil, err
	}
	out := g.Clone()

	newOp := func(op Operation) OpID {
		op.ID = nextID[OpID](len(out.Ops))
		out.Ops = append(out.Ops, op)
		return op.ID
	}

	for bi := range out.Blocks {
		old := out.Blocks[bi].Ops
		ops := make([]OpID, 0, len(old))
		for _, id := range old {
			span := out.Ops[id].Span

			loaded := make(map[VarID]Slot)
			for i, s := range out.Ops[id].Input {
				addr, ok := spills[s.Var]
				if s.Kind != SlotVariable || !ok {
					continue
				}
				tmp, done := loaded[s.Var]
				if !done {
					load := newOp(Operation{
						Kind:   OpBuiltin,
						Name:   BuiltinLoad,
						Label:  BuiltinLoad + ":" + out.Vars[s.Var].Name,
						Callee: NoFuncID,
						Input:  []Slot{LiteralUint64(addr)},
						Span:   span,
					})
					tmp = Temporary(load, 0)
					out.Ops[load].Output = []Slot{tmp}
					ops = append(ops, load)
					loaded[s.Var] = tmp
				}
				out.Ops[id].Input[i] = tmp
			}

			if out.Ops[id].Kind != OpAssign {
				ops = append(ops, id)
				continue
			}

			var stores []Operation
			var keptVars []VarID
			var keptIn, keptOut []Slot
			op := &out.Ops[id]
			for k, v := range op.Vars {
				if addr, ok := spills[v]; ok {
					stores = append(stores, Operation{
						Kind:   OpBuiltin,
						Name:   BuiltinStore,
						Callee: NoFuncID,
						Input:  []Slot{op.Input[k], LiteralUint64(addr)},
						Span:   span,
					})
					continue
				}
				keptVars = append(keptVars, v)
				keptIn = append(keptIn, op.Input[k])
				keptOut = append(keptOut, op.Output[k])
			}
			if len(keptVars) > 0 {
				op.Vars, op.Input, op.Output = keptVars, keptIn, keptOut
				ops = append(ops, id)
			}
			for _, st := range stores {
				ops = append(ops, newOp(st))
			}
		}
		out.Blocks[bi].Ops = ops
	}

	if err := Validate(out); err != nil {
		return nil, fmt.Errorf("spilled graph is invalid: %w", err)
	}
	return out, nil
}

// Spillable reports whether v may be moved to memory.
func Spillable(g *Graph, v VarID) bool {
	return checkSpillable(g, map[VarID]uint64{v: 0}) == nil
}

func checkSpillable(g *Graph, spills map[VarID]uint64) error {
	var errs []error
	vars := slices.Sorted(maps.Keys(spills))
	for _, v := range vars {
		if v < 0 || int(v) >= len(g.Vars) {
			errs = append(errs, fmt.Errorf("unknown variable v%d", v))
			continue
		}
		if fn := g.Vars[v].Func; fn != NoFuncID {
			f := &g.Funcs[fn]
			if f.Recursive {
				errs = append(errs, fmt.Errorf("%s: variable of recursive function %s", g.Vars[v].Name, f.Name))
			}
			if slices.Contains(f.Params, v) || slices.Contains(f.Returns, v) {
				errs = append(errs, fmt.Errorf("%s: parameter or return variable of %s", g.Vars[v].Name, f.Name))
			}
		}
	}
	for i := range g.Blocks {
		c := g.Blocks[i].Exit.Cond
		if g.Blocks[i].Exit.Kind != ExitConditionalJump || c.Condition.Kind != SlotVariable {
			continue
		}
		if _, ok := spills[c.Condition.Var]; ok {
			errs = append(errs, fmt.Errorf("%s: branch condition of %s", g.Vars[c.Condition.Var].Name, g.blockName(g.Blocks[i].ID)))
		}
	}
	return errors.Join(errs...)
}
