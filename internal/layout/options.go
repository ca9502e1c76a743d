package layout

import (
	"fmt"

	"evmstack/internal/stack"
)

const (
	// DefaultCompressThreshold is the stack size above which layouts are
	// compressed while propagating.
	DefaultCompressThreshold = 12
	// DefaultExhaustiveCombineLimit bounds the candidate sets combineStack
	// permutes exhaustively.
	DefaultExhaustiveCombineLimit = 6
	DefaultMaxFixupRounds         = 1000
)

// Options configure a generator run.
type Options struct {
	Policy stack.Policy
	// CompressThreshold is the stack size above which a layout is
	// compressed after an operation.
	CompressThreshold int
	// ExhaustiveCombineLimit is the largest candidate set for which every
	// permutation is evaluated; larger sets get a single linear sweep.
	ExhaustiveCombineLimit int
	// MaxFixupRounds caps the backward jump fixup iterations per entry point.
	MaxFixupRounds int
}

func DefaultOptions() Options {
	return Options{
		Policy:                 stack.DefaultPolicy(),
		CompressThreshold:      DefaultCompressThreshold,
		ExhaustiveCombineLimit: DefaultExhaustiveCombineLimit,
		MaxFixupRounds:         DefaultMaxFixupRounds,
	}
}

func (o Options) Validate() error {
	if err := o.Policy.Validate(); err != nil {
		return err
	}
	if o.CompressThreshold < 0 {
		return fmt.Errorf("compress threshold must not be negative, got %d", o.CompressThreshold)
	}
	if o.ExhaustiveCombineLimit < 0 || o.ExhaustiveCombineLimit > 8 {
		return fmt.Errorf("exhaustive combine limit must be within 0..8, got %d", o.ExhaustiveCombineLimit)
	}
	if o.MaxFixupRounds < 1 {
		return fmt.Errorf("max fixup rounds must be positive, got %d", o.MaxFixupRounds)
	}
	return nil
}
