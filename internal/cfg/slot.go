package cfg

import (
	"fmt"

	"github.com/holiman/uint256"

	"evmstack/internal/invariant"
)

type SlotKind uint8

const (
	// SlotJunk is a don't-care position; any value satisfies it.
	SlotJunk SlotKind = iota
	SlotVariable
	SlotLiteral
	SlotTemporary
	// SlotCallReturnLabel is the return address pushed before a call.
	SlotCallReturnLabel
	// SlotFunctionReturnLabel is the return address a function jumps to.
	SlotFunctionReturnLabel
)

func (k SlotKind) String() string {
	switch k {
	case SlotJunk:
		return "junk"
	case SlotVariable:
		return "variable"
	case SlotLiteral:
		return "literal"
	case SlotTemporary:
		return "temporary"
	case SlotCallReturnLabel:
		return "call-return-label"
	case SlotFunctionReturnLabel:
		return "function-return-label"
	default:
		return fmt.Sprintf("SlotKind(%d)", uint8(k))
	}
}

// Slot is one abstract stack value. Fields not used by Kind are always zero,
// so two slots compare equal exactly when they denote the same value.
type Slot struct {
	Kind  SlotKind
	Var   VarID       // SlotVariable
	Value uint256.Int // SlotLiteral
	Op    OpID        // SlotTemporary, SlotCallReturnLabel
	Index int32       // SlotTemporary
	Func  FuncID      // SlotFunctionReturnLabel
}

func Junk() Slot {
	return Slot{}
}

func Variable(v VarID) Slot {
	return Slot{Kind: SlotVariable, Var: v}
}

func Literal(v *uint256.Int) Slot {
	return Slot{Kind: SlotLiteral, Value: *v}
}

func LiteralUint64(v uint64) Slot {
	return Literal(uint256.NewInt(v))
}

func Temporary(op OpID, index int) Slot {
	return Slot{Kind: SlotTemporary, Op: op, Index: nextID[int32](index)}
}

func CallReturnLabel(op OpID) Slot {
	return Slot{Kind: SlotCallReturnLabel, Op: op}
}

func FunctionReturnLabel(f FuncID) Slot {
	return Slot{Kind: SlotFunctionReturnLabel, Func: f}
}

func (s Slot) IsJunk() bool {
	return s.Kind == SlotJunk
}

// String renders the slot without names; Graph.SlotString resolves them.
func (s Slot) String() string {
	switch s.Kind {
	case SlotJunk:
		return "JUNK"
	case SlotVariable:
		return fmt.Sprintf("v%d", s.Var)
	case SlotLiteral:
		return s.Value.Hex()
	case SlotTemporary:
		return fmt.Sprintf("TMP[op%d, %d]", s.Op, s.Index)
	case SlotCallReturnLabel:
		return fmt.Sprintf("RET[op%d]", s.Op)
	case SlotFunctionReturnLabel:
		return "RET"
	default:
		invariant.Fail("unknown slot kind %d", s.Kind)
		return ""
	}
}
