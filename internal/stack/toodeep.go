package stack

import (
	"slices"

	"evmstack/internal/cfg"
)

// TooDeep describes a single stack access that exceeds the policy's reach.
type TooDeep struct {
	// Deficit is how many slots too deep the access is.
	Deficit int
	// Variables lists the variables at or above the accessed slot, deepest
	// first. Moving any of them to memory shortens the access.
	Variables []cfg.VarID
}

// FindStackTooDeep simulates shuffling source into target and returns every
// dup or swap that would not be reachable.
func FindStackTooDeep(source, target Stack, p Policy) []TooDeep {
	current := source.Clone()
	var found []TooDeep
	CreateStackLayout(&current, target, p.MaxDepth, Callbacks{
		Swap: func(depth int) {
			if depth > p.MaxDepth {
				found = append(found, TooDeep{
					Deficit:   depth - p.MaxDepth,
					Variables: variablesOf(current[len(current)-depth-1:]),
				})
			}
		},
		PushOrDup: func(slot cfg.Slot) {
			if slot.IsJunk() || p.CanBeFreelyGenerated(slot) {
				return
			}
			if depth, ok := current.Depth(slot); ok && depth >= p.MaxDepth {
				found = append(found, TooDeep{
					Deficit:   depth - (p.MaxDepth - 1),
					Variables: variablesOf(current[len(current)-depth-1:]),
				})
			}
		},
	})
	return found
}

func variablesOf(s Stack) []cfg.VarID {
	var vars []cfg.VarID
	for _, slot := range s {
		if slot.Kind == cfg.SlotVariable && !slices.Contains(vars, slot.Var) {
			vars = append(vars, slot.Var)
		}
	}
	return vars
}
