package cfg

import (
	"evmstack/internal/source"
)

type OpKind uint8

const (
	OpNone OpKind = iota
	// OpBuiltin is a machine instruction or builtin function.
	OpBuiltin
	// OpCall calls a function of the graph.
	OpCall
	// OpAssign copies its inputs into the variables in Vars.
	OpAssign
)

func (k OpKind) String() string {
	switch k {
	case OpNone:
		return "none"
	case OpBuiltin:
		return "builtin"
	case OpCall:
		return "call"
	case OpAssign:
		return "assign"
	}
	return "unknown"
}

// Operation consumes Input from the stack top and leaves Output in its place.
type Operation struct {
	ID   OpID
	Kind OpKind

	// Name is the builtin or callee name.
	Name string
	// Label names the operation's temporaries when printing; defaults to Name.
	Label     string
	Callee    FuncID
	Recursive bool
	Vars      []VarID

	Input  []Slot
	Output []Slot
	Span   source.Span
}
