package cfg_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"evmstack/internal/cfg"
	"evmstack/internal/source"
)

func TestCallInputOrder(t *testing.T) {
	b := cfg.NewBuilder()
	start := b.Block("start")
	f := b.Func("f", true)
	x := b.Var("x", f)
	r := b.Var("r", f)
	b.SetSignature(f, []cfg.VarID{x}, []cfg.VarID{r})
	body := b.Block("f.body")
	b.SetFuncEntry(f, body)
	b.Assign(body, []cfg.VarID{r}, []cfg.Slot{cfg.Variable(x)}, source.Span{})
	b.Return(body, f)

	a1 := cfg.LiteralUint64(1)
	a2 := cfg.LiteralUint64(2)
	call := b.Call(start, f, []cfg.Slot{a1, a2}, source.Span{})
	b.MainExit(start)

	g, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	op := g.Op(call)
	want := []cfg.Slot{cfg.CallReturnLabel(call), a2, a1}
	if !slices.Equal(op.Input, want) {
		t.Errorf("Input = %s, want %s", g.SlotsString(op.Input), g.SlotsString(want))
	}
	if len(op.Output) != 1 || op.Output[0] != cfg.Temporary(call, 0) {
		t.Errorf("Output = %s", g.SlotsString(op.Output))
	}
	if op.Recursive {
		t.Error("non-recursive call marked recursive")
	}
}

func TestFinishMarksLoops(t *testing.T) {
	b := cfg.NewBuilder()
	entry := b.Block("entry")
	head := b.Block("head")
	body := b.Block("body")
	exit := b.Block("exit")
	i := b.Var("i", cfg.NoFuncID)

	b.Assign(entry, []cfg.VarID{i}, []cfg.Slot{cfg.LiteralUint64(0)}, source.Span{})
	b.Jump(entry, head)
	lt := b.Builtin(head, "lt", []cfg.Slot{cfg.LiteralUint64(10), cfg.Variable(i)}, 1, source.Span{})
	b.CondJump(head, cfg.Temporary(lt, 0), body, exit)
	add := b.Builtin(body, "add", []cfg.Slot{cfg.LiteralUint64(1), cfg.Variable(i)}, 1, source.Span{})
	b.Assign(body, []cfg.VarID{i}, []cfg.Slot{cfg.Temporary(add, 0)}, source.Span{})
	b.Jump(body, head)
	b.MainExit(exit)

	g, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if g.Block(entry).Exit.Jump.Backwards {
		t.Error("entry -> head must be forward")
	}
	if !g.Block(body).Exit.Jump.Backwards {
		t.Error("body -> head must be backwards")
	}
	entries := g.Block(head).Entries
	if !slices.Contains(entries, entry) || !slices.Contains(entries, body) || len(entries) != 2 {
		t.Errorf("head entries = %v", entries)
	}
	if got := g.Reachable(entry); len(got) != 4 {
		t.Errorf("Reachable = %v", got)
	}
}

func TestFinishMarksRecursion(t *testing.T) {
	b := cfg.NewBuilder()
	start := b.Block("start")
	f := b.Func("f", true)
	n := b.Var("n", f)
	b.SetSignature(f, []cfg.VarID{n}, nil)
	fb := b.Block("f.body")
	b.SetFuncEntry(f, fb)
	call := b.Call(fb, f, []cfg.Slot{cfg.Variable(n)}, source.Span{})
	b.Return(fb, f)
	outer := b.Call(start, f, []cfg.Slot{cfg.LiteralUint64(3)}, source.Span{})
	b.MainExit(start)

	g, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !g.Func(f).Recursive || !g.Op(call).Recursive || !g.Op(outer).Recursive {
		t.Error("recursion not marked")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *cfg.Builder)
		want  string
	}{
		{
			name: "missing exit",
			build: func(b *cfg.Builder) {
				b.Block("a")
			},
			want: "no exit",
		},
		{
			name: "conditional loop",
			build: func(b *cfg.Builder) {
				a := b.Block("a")
				c := b.Var("c", cfg.NoFuncID)
				b.CondJump(a, cfg.Variable(c), a, a)
			},
			want: "conditional jump closes a loop",
		},
		{
			name: "junk condition",
			build: func(b *cfg.Builder) {
				a := b.Block("a")
				z := b.Block("z")
				b.MainExit(z)
				b.CondJump(a, cfg.Junk(), z, z)
			},
			want: "junk slot",
		},
		{
			name: "branch into join",
			build: func(b *cfg.Builder) {
				a := b.Block("a")
				x := b.Block("x")
				y := b.Block("y")
				c := b.Var("c", cfg.NoFuncID)
				b.CondJump(a, cfg.Variable(c), x, y)
				b.Jump(x, y)
				b.MainExit(y)
			},
			want: "has other predecessors",
		},
		{
			name: "return outside function",
			build: func(b *cfg.Builder) {
				a := b.Block("a")
				f := b.Func("f", true)
				fb := b.Block("fb")
				b.SetFuncEntry(f, fb)
				b.Return(fb, f)
				b.Return(a, f)
			},
			want: "outside of it",
		},
		{
			name: "shared block",
			build: func(b *cfg.Builder) {
				a := b.Block("a")
				f := b.Func("f", true)
				b.SetFuncEntry(f, a)
				b.MainExit(a)
			},
			want: "more than one entry point",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := cfg.NewBuilder()
			tt.build(b)
			_, err := b.Finish()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestBlockErrorKind(t *testing.T) {
	b := cfg.NewBuilder()
	a := b.Block("a")
	loop := b.Block("loop")
	b.Jump(a, loop)
	c := b.Var("c", cfg.NoFuncID)
	b.CondJump(loop, cfg.Variable(c), loop, loop)
	_, err := b.Finish()

	var be *cfg.BlockError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want a *cfg.BlockError", err)
	}
	if be.Kind != cfg.BlockErrConditionalLoop || be.Block != loop {
		t.Errorf("got kind %d on bb%d", be.Kind, be.Block)
	}
	if be.Error() != "bb1(loop): conditional jump closes a loop" {
		t.Errorf("Error() = %q", be.Error())
	}
}

func TestSlotIdentity(t *testing.T) {
	if cfg.LiteralUint64(5) != cfg.LiteralUint64(5) {
		t.Error("equal literals differ")
	}
	if cfg.Variable(0) == cfg.Temporary(0, 0) {
		t.Error("variable equals temporary")
	}
	if !cfg.Junk().IsJunk() || cfg.Variable(0).IsJunk() {
		t.Error("IsJunk")
	}
	set := map[cfg.Slot]int{cfg.LiteralUint64(1): 1, cfg.CallReturnLabel(2): 2}
	if set[cfg.LiteralUint64(1)] != 1 || set[cfg.CallReturnLabel(2)] != 2 {
		t.Error("slots are not usable as map keys")
	}
}
