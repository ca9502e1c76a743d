package stack

import (
	"fmt"

	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
)

const (
	// DefaultMaxDepth is the reach of DUP16/SWAP16.
	DefaultMaxDepth = 16
	// DefaultMaxLiteralBytes lets every 256-bit literal be pushed directly.
	DefaultMaxLiteralBytes = 32
)

// Policy holds the machine parameters of the target.
type Policy struct {
	// MaxDepth is the deepest slot dup and swap can address.
	MaxDepth int
	// MaxLiteralBytes bounds the encoded size of literals that are
	// regenerated with a push instead of being kept on the stack.
	MaxLiteralBytes int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxDepth:        DefaultMaxDepth,
		MaxLiteralBytes: DefaultMaxLiteralBytes,
	}
}

func (p Policy) Validate() error {
	if p.MaxDepth < 2 {
		return fmt.Errorf("max depth must be at least 2, got %d", p.MaxDepth)
	}
	if p.MaxLiteralBytes < 0 || p.MaxLiteralBytes > 32 {
		return fmt.Errorf("max literal bytes must be within 0..32, got %d", p.MaxLiteralBytes)
	}
	return nil
}

// CanBeFreelyGenerated reports whether slot can be produced by a single
// push without stack input.
func (p Policy) CanBeFreelyGenerated(slot cfg.Slot) bool {
	switch slot.Kind {
	case cfg.SlotLiteral:
		return slot.Value.ByteLen() <= p.MaxLiteralBytes
	case cfg.SlotCallReturnLabel:
		return true
	case cfg.SlotJunk, cfg.SlotVariable, cfg.SlotTemporary, cfg.SlotFunctionReturnLabel:
		return false
	default:
		invariant.Fail("unknown slot kind %d", slot.Kind)
		return false
	}
}
