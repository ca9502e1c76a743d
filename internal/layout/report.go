package layout

import (
	"fmt"
	"strings"

	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
	"evmstack/internal/stack"
)

// StackTooDeep is a shuffle of a computed layout that reaches deeper than
// the policy allows.
type StackTooDeep struct {
	stack.TooDeep
	Func  cfg.FuncID  // NoFuncID for main
	Block cfg.BlockID // block the shuffle happens in
	// Op is the operation the shuffle prepares, NoOpID for the shuffles at
	// function entry and block exit.
	Op cfg.OpID
	// Target is the successor the exit shuffle leads to, if any.
	Target cfg.BlockID
}

// Describe renders the finding with names from g.
func (s StackTooDeep) Describe(g *cfg.Graph) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "stack too deep by %d slot", s.Deficit)
	if s.Deficit != 1 {
		sb.WriteByte('s')
	}
	switch {
	case s.Op != cfg.NoOpID:
		fmt.Fprintf(&sb, " before %s", g.OpString(s.Op))
	case s.Target != cfg.NoBlockID:
		fmt.Fprintf(&sb, " jumping from %s to %s", g.BlockName(s.Block), g.BlockName(s.Target))
	case s.Block != cfg.NoBlockID:
		fmt.Fprintf(&sb, " at the exit of %s", g.BlockName(s.Block))
	}
	if s.Func != cfg.NoFuncID {
		fmt.Fprintf(&sb, " in function %s", g.Func(s.Func).Name)
	}
	return sb.String()
}

// ReportStackTooDeep replays the shuffles between the layouts of every entry
// point and returns those that are not reachable.
func ReportStackTooDeep(g *cfg.Graph, lay *Layout, p stack.Policy) (found []StackTooDeep, err error) {
	defer invariant.Recover(&err)
	for _, ep := range g.EntryPoints() {
		found = append(found, reportEntry(g, lay, p, ep)...)
	}
	return found, nil
}

func reportEntry(g *cfg.Graph, lay *Layout, p stack.Policy, ep cfg.EntryPoint) []StackTooDeep {
	var found []StackTooDeep
	add := func(blk cfg.BlockID, op cfg.OpID, target cfg.BlockID, from, to stack.Stack) {
		for _, td := range stack.FindStackTooDeep(from, to, p) {
			found = append(found, StackTooDeep{TooDeep: td, Func: ep.Func, Block: blk, Op: op, Target: target})
		}
	}
	entryOf := func(id cfg.BlockID) stack.Stack {
		bl := lay.Block(id)
		invariant.Check(bl != nil, "%s has no layout", g.BlockName(id))
		return bl.Entry
	}

	// the caller leaves the return label and the arguments, first on top
	if ep.Func != cfg.NoFuncID {
		f := g.Func(ep.Func)
		var start stack.Stack
		if f.CanContinue {
			start = append(start, cfg.FunctionReturnLabel(f.ID))
		}
		for i := len(f.Params) - 1; i >= 0; i-- {
			start = append(start, cfg.Variable(f.Params[i]))
		}
		add(ep.Block, cfg.NoOpID, cfg.NoBlockID, start, entryOf(ep.Block))
	}

	for _, id := range g.Reachable(ep.Block) {
		blk := g.Block(id)
		bl := lay.Block(id)
		invariant.Check(bl != nil, "%s has no layout", g.BlockName(id))

		current := bl.Entry.Clone()
		for _, opID := range blk.Ops {
			opEntry, ok := lay.Operations[opID]
			invariant.Check(ok, "%s has no layout", g.OpString(opID))
			add(id, opID, cfg.NoBlockID, current, opEntry)

			op := g.Op(opID)
			invariant.Check(len(opEntry) >= len(op.Input), "%s: layout is shorter than its input", g.OpString(opID))
			current = opEntry[:len(opEntry)-len(op.Input)].Concat(op.Output...)
		}

		switch blk.Exit.Kind {
		case cfg.ExitJump:
			add(id, cfg.NoOpID, blk.Exit.Jump.Target, current, entryOf(blk.Exit.Jump.Target))
		case cfg.ExitConditionalJump:
			add(id, cfg.NoOpID, cfg.NoBlockID, current, bl.Exit)
			invariant.Check(len(bl.Exit) > 0, "%s: empty exit layout before a branch", g.BlockName(id))
			post := bl.Exit[:len(bl.Exit)-1]
			for _, target := range blk.Successors() {
				add(id, cfg.NoOpID, target, post, entryOf(target))
			}
		case cfg.ExitMain, cfg.ExitTerminated, cfg.ExitFunctionReturn:
			add(id, cfg.NoOpID, cfg.NoBlockID, current, bl.Exit)
		default:
			invariant.Fail("%s: unknown exit kind %d", g.BlockName(id), blk.Exit.Kind)
		}
	}
	return found
}
