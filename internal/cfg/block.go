package cfg

import (
	"evmstack/internal/source"
)

type ExitKind uint8

const (
	ExitNone ExitKind = iota
	ExitMain
	ExitJump
	ExitConditionalJump
	ExitFunctionReturn
	ExitTerminated
)

func (k ExitKind) String() string {
	switch k {
	case ExitNone:
		return "none"
	case ExitMain:
		return "main-exit"
	case ExitJump:
		return "jump"
	case ExitConditionalJump:
		return "conditional-jump"
	case ExitFunctionReturn:
		return "return"
	case ExitTerminated:
		return "terminated"
	}
	return "unknown"
}

type Exit struct {
	Kind ExitKind

	Jump   JumpExit
	Cond   ConditionalJumpExit
	Return FunctionReturnExit
}

type JumpExit struct {
	Target BlockID
	// Backwards is set when the jump closes a loop.
	Backwards bool
}

type ConditionalJumpExit struct {
	Condition Slot
	NonZero   BlockID
	Zero      BlockID
}

type FunctionReturnExit struct {
	Func FuncID
}

type Block struct {
	ID   BlockID
	Name string
	Ops  []OpID
	Exit Exit
	// Entries lists the predecessors reachable from an entry point.
	Entries []BlockID
	Span    source.Span
}

func (b *Block) Terminated() bool {
	if b == nil {
		return true
	}
	return b.Exit.Kind != ExitNone
}

// Successors returns the blocks the exit may transfer control to.
// Backward jumps are included.
func (b *Block) Successors() []BlockID {
	switch b.Exit.Kind {
	case ExitJump:
		return []BlockID{b.Exit.Jump.Target}
	case ExitConditionalJump:
		if b.Exit.Cond.NonZero == b.Exit.Cond.Zero {
			return []BlockID{b.Exit.Cond.NonZero}
		}
		return []BlockID{b.Exit.Cond.NonZero, b.Exit.Cond.Zero}
	default:
		return nil
	}
}

// ForwardSuccessors is Successors without backward jumps.
func (b *Block) ForwardSuccessors() []BlockID {
	if b.Exit.Kind == ExitJump && b.Exit.Jump.Backwards {
		return nil
	}
	return b.Successors()
}
