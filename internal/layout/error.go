package layout

import (
	"fmt"

	"evmstack/internal/invariant"
)

// ErrorKind enumerates the failures of a generator run.
type ErrorKind uint8

const (
	// ErrOptions indicates invalid Options.
	ErrOptions ErrorKind = iota + 1
	// ErrInternal indicates a broken invariant inside the generator.
	ErrInternal
	// ErrSpill indicates that the graph could not be rewritten to resolve
	// stack too deep errors.
	ErrSpill
)

// Error is returned by Run, RunEntry and FixStackTooDeep.
type Error struct {
	Kind  ErrorKind
	Entry string // entry point name, empty if not specific to one
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ErrOptions:
		return fmt.Sprintf("invalid layout options: %v", e.Err)
	case ErrInternal:
		if e.Entry != "" {
			return fmt.Sprintf("layout of %s: %v", e.Entry, e.Err)
		}
		return fmt.Sprintf("layout: %v", e.Err)
	case ErrSpill:
		return fmt.Sprintf("spilling: %v", e.Err)
	default:
		return fmt.Sprintf("layout error kind=%d: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Violation returns the broken invariant behind an ErrInternal error.
func (e *Error) Violation() (*invariant.Violation, bool) {
	if e == nil || e.Kind != ErrInternal {
		return nil, false
	}
	return invariant.As(e.Err)
}
