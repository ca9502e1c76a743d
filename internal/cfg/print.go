package cfg

import (
	"fmt"
	"io"
	"strings"

	"evmstack/internal/invariant"
)

// SlotString renders a slot with variable, function and operation names.
func (g *Graph) SlotString(s Slot) string {
	switch s.Kind {
	case SlotJunk:
		return "JUNK"
	case SlotVariable:
		if name := g.Vars[s.Var].Name; name != "" {
			return name
		}
		return s.String()
	case SlotLiteral:
		return s.Value.Hex()
	case SlotTemporary:
		return fmt.Sprintf("TMP[%s, %d]", g.opLabel(s.Op), s.Index)
	case SlotCallReturnLabel:
		return fmt.Sprintf("RET[%s]", g.Ops[s.Op].Name)
	case SlotFunctionReturnLabel:
		return "RET"
	default:
		invariant.Fail("unknown slot kind %d", s.Kind)
		return ""
	}
}

// SlotsString renders a stack as "[ a b c ]", bottom first.
func (g *Graph) SlotsString(slots []Slot) string {
	var sb strings.Builder
	sb.WriteString("[ ")
	for _, s := range slots {
		sb.WriteString(g.SlotString(s))
		sb.WriteByte(' ')
	}
	sb.WriteByte(']')
	return sb.String()
}

func (g *Graph) opLabel(id OpID) string {
	op := &g.Ops[id]
	if op.Label != "" {
		return op.Label
	}
	return op.Name
}

// OpString renders an operation as "outputs := name(inputs)".
func (g *Graph) OpString(id OpID) string {
	op := &g.Ops[id]
	var sb strings.Builder
	if len(op.Output) > 0 {
		sb.WriteString(g.SlotsString(op.Output))
		sb.WriteString(" := ")
	}
	switch op.Kind {
	case OpAssign:
		sb.WriteString(g.SlotsString(op.Input))
	case OpBuiltin, OpCall:
		sb.WriteString(op.Name)
		sb.WriteString(g.SlotsString(op.Input))
	default:
		invariant.Fail("op%d: unknown operation kind %d", id, op.Kind)
	}
	return sb.String()
}

// ExitString renders a block exit.
func (g *Graph) ExitString(blk BlockID) string {
	e := g.Blocks[blk].Exit
	switch e.Kind {
	case ExitMain:
		return "main exit"
	case ExitJump:
		if e.Jump.Backwards {
			return "jump " + g.blockName(e.Jump.Target) + " (backwards)"
		}
		return "jump " + g.blockName(e.Jump.Target)
	case ExitConditionalJump:
		return fmt.Sprintf("branch %s ? %s : %s", g.SlotString(e.Cond.Condition), g.blockName(e.Cond.NonZero), g.blockName(e.Cond.Zero))
	case ExitFunctionReturn:
		return "return from " + g.Funcs[e.Return.Func].Name
	case ExitTerminated:
		return "terminated"
	case ExitNone:
		return "<no exit>"
	default:
		invariant.Fail("%s: unknown exit kind %d", g.blockName(blk), e.Kind)
		return ""
	}
}

// BlockName returns "bbN(name)".
func (g *Graph) BlockName(id BlockID) string {
	return g.blockName(id)
}

// Dump writes a human-readable listing of the graph.
func Dump(w io.Writer, g *Graph) error {
	if w == nil || g == nil {
		return nil
	}
	for _, ep := range g.EntryPoints() {
		if ep.Func == NoFuncID {
			if _, err := fmt.Fprintf(w, "main entry=%s\n", g.blockName(ep.Block)); err != nil {
				return err
			}
		} else {
			f := g.Funcs[ep.Func]
			params := make([]Slot, len(f.Params))
			for i, p := range f.Params {
				params[i] = Variable(p)
			}
			rets := make([]Slot, len(f.Returns))
			for i, r := range f.Returns {
				rets[i] = Variable(r)
			}
			if _, err := fmt.Fprintf(w, "\nfn %s%s -> %s entry=%s\n", f.Name, g.SlotsString(params), g.SlotsString(rets), g.blockName(ep.Block)); err != nil {
				return err
			}
		}
		for _, id := range g.Reachable(ep.Block) {
			if _, err := fmt.Fprintf(w, "  %s:\n", g.blockName(id)); err != nil {
				return err
			}
			for _, op := range g.Blocks[id].Ops {
				if _, err := fmt.Fprintf(w, "    %s\n", g.OpString(op)); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "    %s\n", g.ExitString(id)); err != nil {
				return err
			}
		}
	}
	return nil
}
