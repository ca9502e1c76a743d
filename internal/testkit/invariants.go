package testkit

import (
	"errors"
	"fmt"
	"slices"

	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
	"evmstack/internal/layout"
	"evmstack/internal/stack"
)

// CheckLayoutInvariants verifies a computed layout against its graph:
// 1) every reachable block and every one of its operations has a layout
// 2) every operation layout ends with the operation's inputs
// 3) every shuffle between consecutive layouts can be performed
// 4) backward jumps leave every slot their target requires on the stack
// 5) forward jumps and branches leave every slot that cannot be generated
// 6) branch targets start with the branching block's exit minus the
// condition, with unused positions turned into junk
// 7) function returns leave the return variables and the return label
func CheckLayoutInvariants(g *cfg.Graph, lay *layout.Layout, p stack.Policy) error {
	if g == nil || lay == nil {
		return errors.New("nil graph or layout")
	}
	var errs []error
	for _, ep := range g.EntryPoints() {
		for _, id := range g.Reachable(ep.Block) {
			if err := checkBlock(g, lay, p, id); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", g.BlockName(id), err))
			}
		}
	}
	return errors.Join(errs...)
}

func checkBlock(g *cfg.Graph, lay *layout.Layout, p stack.Policy, id cfg.BlockID) (err error) {
	defer invariant.Recover(&err)

	blk := g.Block(id)
	bl := lay.Block(id)
	if bl == nil {
		return errors.New("no layout")
	}

	// 1) 2) 3)
	current := bl.Entry.Clone()
	for _, opID := range blk.Ops {
		op := g.Op(opID)
		want, ok := lay.Operations[opID]
		if !ok {
			return fmt.Errorf("%s: no layout", g.OpString(opID))
		}
		if len(want) < len(op.Input) {
			return fmt.Errorf("%s: layout %s is shorter than the input", g.OpString(opID), g.SlotsString(want))
		}
		base := len(want) - len(op.Input)
		for i, slot := range op.Input {
			if want[base+i] != slot {
				return fmt.Errorf("%s: layout %s does not end with the input", g.OpString(opID), g.SlotsString(want))
			}
		}
		stack.CreateStackLayout(&current, want, p.MaxDepth, stack.Callbacks{})
		current = want[:base].Concat(op.Output...)
	}
	stack.CreateStackLayout(&current, bl.Exit, p.MaxDepth, stack.Callbacks{})

	required := func(target cfg.BlockID, exit stack.Stack, strict bool) error {
		tl := lay.Block(target)
		if tl == nil {
			return fmt.Errorf("successor %s has no layout", g.BlockName(target))
		}
		for _, slot := range tl.Entry {
			if slot.IsJunk() || (!strict && p.CanBeFreelyGenerated(slot)) {
				continue
			}
			if !exit.Contains(slot) {
				return fmt.Errorf("exit %s lacks %s required by %s", g.SlotsString(exit), g.SlotString(slot), g.BlockName(target))
			}
		}
		return nil
	}

	switch blk.Exit.Kind {
	case cfg.ExitJump:
		// 4) 5)
		return required(blk.Exit.Jump.Target, bl.Exit, blk.Exit.Jump.Backwards)
	case cfg.ExitConditionalJump:
		// 5) 6)
		if len(bl.Exit) == 0 || bl.Exit.Top() != blk.Exit.Cond.Condition {
			return fmt.Errorf("condition is not on top of %s", g.SlotsString(bl.Exit))
		}
		post := bl.Exit[:len(bl.Exit)-1]
		for _, target := range blk.Successors() {
			entry := lay.Block(target).Entry
			if len(entry) != len(post) {
				return fmt.Errorf("entry of %s is %s, want the shape of %s", g.BlockName(target), g.SlotsString(entry), g.SlotsString(post))
			}
			for i := range entry {
				if !entry[i].IsJunk() && entry[i] != post[i] {
					return fmt.Errorf("entry of %s is %s, want the shape of %s", g.BlockName(target), g.SlotsString(entry), g.SlotsString(post))
				}
			}
			if err := required(target, post, false); err != nil {
				return err
			}
		}
	case cfg.ExitFunctionReturn:
		// 7)
		f := g.Func(blk.Exit.Return.Func)
		want := make(stack.Stack, 0, len(f.Returns)+1)
		for _, v := range f.Returns {
			want = append(want, cfg.Variable(v))
		}
		want = append(want, cfg.FunctionReturnLabel(f.ID))
		if !slices.Equal(bl.Exit, want) {
			return fmt.Errorf("return exit is %s, want %s", g.SlotsString(bl.Exit), g.SlotsString(want))
		}
	case cfg.ExitMain, cfg.ExitTerminated:
		if len(bl.Exit) != 0 {
			return fmt.Errorf("exit %s is not empty", g.SlotsString(bl.Exit))
		}
	default:
		return fmt.Errorf("unknown exit kind %d", blk.Exit.Kind)
	}
	return nil
}
