package layout

import (
	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
)

// stitchConditionalJumps replaces the entry layout of every branch target by
// the exit layout of the branching block without the condition, with the
// slots the target does not need turned into junk.
func (gen *generator) stitchConditionalJumps(order []cfg.BlockID) {
	policy := gen.opts.Policy
	for _, id := range order {
		blk := gen.g.Block(id)
		if blk.Exit.Kind != cfg.ExitConditionalJump {
			continue
		}
		exit := gen.out.Blocks[id].Exit
		invariant.Check(len(exit) > 0 && exit.Top() == blk.Exit.Cond.Condition,
			"%s: condition is not on top of the exit layout %s", gen.g.BlockName(id), gen.g.SlotsString(exit))
		exit = exit[:len(exit)-1]

		for _, target := range blk.Successors() {
			bl := gen.out.Blocks[target]
			stitched := exit.Clone()
			for i, slot := range stitched {
				if !bl.Entry.Contains(slot) {
					stitched[i] = cfg.Junk()
				}
			}
			for _, slot := range bl.Entry {
				invariant.Check(slot.IsJunk() || policy.CanBeFreelyGenerated(slot) || stitched.Contains(slot),
					"%s: stitched entry of %s lacks %s", gen.g.BlockName(id), gen.g.BlockName(target), gen.g.SlotString(slot))
			}
			bl.Entry = stitched
		}
	}
}
