package cfg

import (
	"slices"

	"evmstack/internal/source"
)

// Builder assembles a Graph. Blocks are created empty and filled with
// operations in program order; every block needs exactly one exit.
type Builder struct {
	g *Graph
}

func NewBuilder() *Builder {
	return &Builder{g: &Graph{Entry: NoBlockID}}
}

// Var declares a variable owned by fn (NoFuncID for main).
func (b *Builder) Var(name string, fn FuncID) VarID {
	id := nextID[VarID](len(b.g.Vars))
	b.g.Vars = append(b.g.Vars, Var{Name: name, Func: fn})
	return id
}

// SetVarSpan records where a variable was declared.
func (b *Builder) SetVarSpan(v VarID, span source.Span) {
	b.g.Vars[v].Span = span
}

// Func declares a function. Its entry block is set with SetFuncEntry,
// parameters and return variables with SetSignature.
func (b *Builder) Func(name string, canContinue bool) FuncID {
	id := nextID[FuncID](len(b.g.Funcs))
	b.g.Funcs = append(b.g.Funcs, Func{
		ID:          id,
		Name:        name,
		Entry:       NoBlockID,
		CanContinue: canContinue,
	})
	return id
}

func (b *Builder) SetSignature(fn FuncID, params, returns []VarID) {
	b.g.Funcs[fn].Params = slices.Clone(params)
	b.g.Funcs[fn].Returns = slices.Clone(returns)
}

func (b *Builder) SetFuncEntry(fn FuncID, blk BlockID) {
	b.g.Funcs[fn].Entry = blk
}

func (b *Builder) SetFuncSpan(fn FuncID, span source.Span) {
	b.g.Funcs[fn].Span = span
}

// Block creates an empty, unterminated block.
func (b *Builder) Block(name string) BlockID {
	id := nextID[BlockID](len(b.g.Blocks))
	b.g.Blocks = append(b.g.Blocks, Block{ID: id, Name: name})
	if b.g.Entry == NoBlockID {
		b.g.Entry = id
	}
	return id
}

// SetEntry selects the main entry block. Defaults to the first block.
func (b *Builder) SetEntry(blk BlockID) {
	b.g.Entry = blk
}

func (b *Builder) SetBlockSpan(blk BlockID, span source.Span) {
	b.g.Blocks[blk].Span = span
}

func (b *Builder) addOp(blk BlockID, op Operation) OpID {
	op.ID = nextID[OpID](len(b.g.Ops))
	b.g.Ops = append(b.g.Ops, op)
	b.g.Blocks[blk].Ops = append(b.g.Blocks[blk].Ops, op.ID)
	return op.ID
}

// Builtin appends a builtin taking input (bottom first) and producing
// numOut temporaries.
func (b *Builder) Builtin(blk BlockID, name string, input []Slot, numOut int, span source.Span) OpID {
	id := b.addOp(blk, Operation{
		Kind:   OpBuiltin,
		Name:   name,
		Callee: NoFuncID,
		Input:  slices.Clone(input),
		Span:   span,
	})
	op := &b.g.Ops[id]
	for i := range numOut {
		op.Output = append(op.Output, Temporary(id, i))
	}
	return id
}

// Call appends a call of fn with args in call order. The first argument
// ends up on top of the stack, below it the rest, and below them the return
// label when fn can continue. Outputs are one temporary per return variable.
func (b *Builder) Call(blk BlockID, fn FuncID, args []Slot, span source.Span) OpID {
	f := &b.g.Funcs[fn]
	id := b.addOp(blk, Operation{
		Kind:   OpCall,
		Name:   f.Name,
		Callee: fn,
		Span:   span,
	})
	op := &b.g.Ops[id]
	if f.CanContinue {
		op.Input = append(op.Input, CallReturnLabel(id))
	}
	for i := len(args) - 1; i >= 0; i-- {
		op.Input = append(op.Input, args[i])
	}
	if f.CanContinue {
		for i := range f.Returns {
			op.Output = append(op.Output, Temporary(id, i))
		}
	}
	return id
}

// Assign appends an assignment of values[i] to vars[i].
func (b *Builder) Assign(blk BlockID, vars []VarID, values []Slot, span source.Span) OpID {
	out := make([]Slot, len(vars))
	for i, v := range vars {
		out[i] = Variable(v)
	}
	return b.addOp(blk, Operation{
		Kind:   OpAssign,
		Name:   "assign",
		Callee: NoFuncID,
		Vars:   slices.Clone(vars),
		Input:  slices.Clone(values),
		Output: out,
		Span:   span,
	})
}

// SetOpLabel sets the name used when printing an operation's temporaries.
func (b *Builder) SetOpLabel(op OpID, label string) {
	b.g.Ops[op].Label = label
}

func (b *Builder) Jump(blk, target BlockID) {
	b.g.Blocks[blk].Exit = Exit{Kind: ExitJump, Jump: JumpExit{Target: target}}
}

func (b *Builder) CondJump(blk BlockID, cond Slot, nonZero, zero BlockID) {
	b.g.Blocks[blk].Exit = Exit{Kind: ExitConditionalJump, Cond: ConditionalJumpExit{
		Condition: cond,
		NonZero:   nonZero,
		Zero:      zero,
	}}
}

func (b *Builder) Return(blk BlockID, fn FuncID) {
	b.g.Blocks[blk].Exit = Exit{Kind: ExitFunctionReturn, Return: FunctionReturnExit{Func: fn}}
}

func (b *Builder) MainExit(blk BlockID) {
	b.g.Blocks[blk].Exit = Exit{Kind: ExitMain}
}

func (b *Builder) Terminate(blk BlockID) {
	b.g.Blocks[blk].Exit = Exit{Kind: ExitTerminated}
}

// Finish validates the graph, computes predecessor lists, marks backward
// jumps and recursive calls, and hands over the graph. The builder must not
// be used afterwards.
func (b *Builder) Finish() (*Graph, error) {
	g := b.g
	b.g = nil
	if err := validateStructure(g); err != nil {
		return nil, err
	}
	ComputeEntries(g)
	MarkBackwardJumps(g)
	MarkRecursion(g)
	if err := Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}
