package cfg_test

import (
	"strings"
	"testing"

	"evmstack/internal/cfg"
	"evmstack/internal/source"
)

func TestSpillVariables(t *testing.T) {
	b := cfg.NewBuilder()
	blk := b.Block("start")
	x := b.Var("x", cfg.NoFuncID)
	y := b.Var("y", cfg.NoFuncID)
	b.Assign(blk, []cfg.VarID{x, y}, []cfg.Slot{cfg.LiteralUint64(1), cfg.LiteralUint64(2)}, source.Span{})
	add := b.Builtin(blk, "add", []cfg.Slot{cfg.Variable(x), cfg.Variable(x)}, 1, source.Span{})
	b.Builtin(blk, "pop", []cfg.Slot{cfg.Temporary(add, 0)}, 0, source.Span{})
	b.Builtin(blk, "pop", []cfg.Slot{cfg.Variable(y)}, 0, source.Span{})
	b.MainExit(blk)
	g, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	out, err := cfg.SpillVariables(g, map[cfg.VarID]uint64{x: 0x80})
	if err != nil {
		t.Fatalf("SpillVariables: %v", err)
	}
	if len(g.Block(blk).Ops) != 4 {
		t.Fatal("input graph was modified")
	}

	var names []string
	for _, id := range out.Block(blk).Ops {
		op := out.Op(id)
		names = append(names, op.Name)
		for _, s := range op.Input {
			if s == cfg.Variable(x) {
				t.Errorf("%s still reads x", out.OpString(id))
			}
		}
		for _, s := range op.Output {
			if s == cfg.Variable(x) {
				t.Errorf("%s still writes x", out.OpString(id))
			}
		}
	}
	if got := strings.Join(names, ","); got != "assign,mstore,mload,add,pop,pop" {
		t.Errorf("ops = %s", got)
	}
	// both reads of x share one load
	addOp := out.Op(add)
	if addOp.Input[0] != addOp.Input[1] || addOp.Input[0].Kind != cfg.SlotTemporary {
		t.Errorf("add input = %s", out.SlotsString(addOp.Input))
	}
}

func TestSpillRejectsParams(t *testing.T) {
	b := cfg.NewBuilder()
	start := b.Block("start")
	b.MainExit(start)
	f := b.Func("f", true)
	p := b.Var("p", f)
	b.SetSignature(f, []cfg.VarID{p}, nil)
	fb := b.Block("fb")
	b.SetFuncEntry(f, fb)
	b.Return(fb, f)
	g, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Spillable(g, p) {
		t.Error("parameter reported spillable")
	}
	if _, err := cfg.SpillVariables(g, map[cfg.VarID]uint64{p: 0}); err == nil {
		t.Error("expected error")
	}
}
