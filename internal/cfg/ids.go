package cfg

import (
	"fmt"

	"fortio.org/safecast"
)

type BlockID int32
type OpID int32
type VarID int32
type FuncID int32

const (
	NoBlockID BlockID = -1
	NoOpID    OpID    = -1
	NoVarID   VarID   = -1
	NoFuncID  FuncID  = -1
)

// nextID converts an arena length into the ID of the next element.
func nextID[T ~int32](n int) T {
	v, err := safecast.Conv[int32](n)
	if err != nil {
		panic(fmt.Errorf("arena overflow: %w", err))
	}
	return T(v)
}
