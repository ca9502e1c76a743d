package cfg

import (
	"errors"
	"fmt"
)

// blockName formats a block for error messages.
func (g *Graph) blockName(id BlockID) string {
	if name := g.Blocks[id].Name; name != "" {
		return fmt.Sprintf("bb%d(%s)", id, name)
	}
	return fmt.Sprintf("bb%d", id)
}

// BlockErrorKind classifies validation failures of a block.
type BlockErrorKind uint8

const (
	BlockErrStructure BlockErrorKind = iota + 1
	BlockErrMissingExit
	BlockErrConditionalLoop
	BlockErrShared
	BlockErrControlFlow
)

// BlockError is a validation failure attributed to one block.
type BlockError struct {
	Kind  BlockErrorKind
	Block BlockID
	Name  string
	Msg   string
}

func (e *BlockError) Error() string {
	return e.Name + ": " + e.Msg
}

func (g *Graph) blockErr(kind BlockErrorKind, id BlockID, format string, args ...any) error {
	return &BlockError{Kind: kind, Block: id, Name: g.blockName(id), Msg: fmt.Sprintf(format, args...)}
}

// validateStructure checks that all references point into the arenas and
// that every block has an exit. Later passes rely on it.
func validateStructure(g *Graph) error {
	var errs []error
	inBlocks := func(id BlockID) bool { return id >= 0 && int(id) < len(g.Blocks) }

	if !inBlocks(g.Entry) {
		errs = append(errs, errors.New("graph has no entry block"))
	}
	for i := range g.Funcs {
		f := &g.Funcs[i]
		if !inBlocks(f.Entry) {
			errs = append(errs, fmt.Errorf("function %s: no entry block", f.Name))
		}
		for _, v := range append(append([]VarID(nil), f.Params...), f.Returns...) {
			if v < 0 || int(v) >= len(g.Vars) {
				errs = append(errs, fmt.Errorf("function %s: unknown variable v%d", f.Name, v))
			}
		}
	}
	for i := range g.Blocks {
		blk := &g.Blocks[i]
		switch blk.Exit.Kind {
		case ExitNone:
			errs = append(errs, g.blockErr(BlockErrMissingExit, blk.ID, "block has no exit"))
		case ExitJump:
			if !inBlocks(blk.Exit.Jump.Target) {
				errs = append(errs, g.blockErr(BlockErrStructure, blk.ID, "jump to unknown block %d", blk.Exit.Jump.Target))
			}
		case ExitConditionalJump:
			c := blk.Exit.Cond
			if !inBlocks(c.NonZero) || !inBlocks(c.Zero) {
				errs = append(errs, g.blockErr(BlockErrStructure, blk.ID, "branch to unknown block"))
			}
			if err := g.checkSlot(c.Condition); err != nil {
				errs = append(errs, g.blockErr(BlockErrStructure, blk.ID, "condition: %v", err))
			}
		case ExitFunctionReturn:
			if f := blk.Exit.Return.Func; f < 0 || int(f) >= len(g.Funcs) {
				errs = append(errs, g.blockErr(BlockErrStructure, blk.ID, "return from unknown function %d", f))
			}
		case ExitMain, ExitTerminated:
		default:
			errs = append(errs, g.blockErr(BlockErrStructure, blk.ID, "unknown exit kind %d", blk.Exit.Kind))
		}
		for _, id := range blk.Ops {
			if id < 0 || int(id) >= len(g.Ops) {
				errs = append(errs, g.blockErr(BlockErrStructure, blk.ID, "unknown operation %d", id))
				continue
			}
			for _, s := range g.Ops[id].Input {
				if err := g.checkSlot(s); err != nil {
					errs = append(errs, g.blockErr(BlockErrStructure, blk.ID, "op%d: %v", id, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (g *Graph) checkSlot(s Slot) error {
	switch s.Kind {
	case SlotJunk:
		return errors.New("junk slot is not a value")
	case SlotVariable:
		if s.Var < 0 || int(s.Var) >= len(g.Vars) {
			return fmt.Errorf("unknown variable v%d", s.Var)
		}
	case SlotTemporary, SlotCallReturnLabel:
		if s.Op < 0 || int(s.Op) >= len(g.Ops) {
			return fmt.Errorf("unknown operation op%d", s.Op)
		}
	case SlotFunctionReturnLabel:
		if s.Func < 0 || int(s.Func) >= len(g.Funcs) {
			return fmt.Errorf("unknown function %d", s.Func)
		}
	case SlotLiteral:
	default:
		return fmt.Errorf("unknown slot kind %d", s.Kind)
	}
	return nil
}

// Validate checks the invariants the layout generator relies on:
//   - every reachable block belongs to exactly one entry point
//   - returns only occur in the function they return from
//   - loops are closed by unconditional jumps flagged Backwards
//   - branch targets have no other predecessor
//   - calls of functions that never return end their block
func Validate(g *Graph) error {
	if err := validateStructure(g); err != nil {
		return err
	}
	var errs []error

	owner, shared := Owners(g)
	for _, id := range shared {
		errs = append(errs, g.blockErr(BlockErrShared, id, "reachable from more than one entry point"))
	}

	back := backEdges(g)
	for i := range g.Blocks {
		blk := &g.Blocks[i]
		fn, reachable := owner[blk.ID]
		if !reachable {
			continue
		}
		switch blk.Exit.Kind {
		case ExitFunctionReturn:
			if blk.Exit.Return.Func != fn {
				errs = append(errs, g.blockErr(BlockErrControlFlow, blk.ID, "returns from %s outside of it", g.Funcs[blk.Exit.Return.Func].Name))
			}
		case ExitJump:
			isBack := back[edge{blk.ID, blk.Exit.Jump.Target}]
			if isBack != blk.Exit.Jump.Backwards {
				errs = append(errs, g.blockErr(BlockErrControlFlow, blk.ID, "backwards flag is %v, want %v", blk.Exit.Jump.Backwards, isBack))
			}
		case ExitConditionalJump:
			c := blk.Exit.Cond
			if back[edge{blk.ID, c.NonZero}] || back[edge{blk.ID, c.Zero}] {
				errs = append(errs, g.blockErr(BlockErrConditionalLoop, blk.ID, "conditional jump closes a loop"))
			}
			for _, target := range blk.Successors() {
				if len(g.Blocks[target].Entries) > 1 {
					errs = append(errs, g.blockErr(BlockErrControlFlow, blk.ID, "branch target %s has other predecessors", g.blockName(target)))
				}
			}
		}
		for n, id := range blk.Ops {
			op := &g.Ops[id]
			if op.Kind != OpCall || g.Funcs[op.Callee].CanContinue {
				continue
			}
			if n != len(blk.Ops)-1 || blk.Exit.Kind != ExitTerminated {
				errs = append(errs, g.blockErr(BlockErrControlFlow, blk.ID, "call of %s does not return and must end a terminated block", op.Name))
			}
		}
	}
	return errors.Join(errs...)
}
