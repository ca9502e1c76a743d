package stack

import (
	"slices"

	"evmstack/internal/cfg"
)

// Stack is a sequence of slots, top of stack last.
type Stack []cfg.Slot

func (s Stack) Clone() Stack {
	return slices.Clone(s)
}

func (s Stack) Top() cfg.Slot {
	return s[len(s)-1]
}

func (s Stack) Contains(slot cfg.Slot) bool {
	return slices.Contains(s, slot)
}

// Depth returns how many slots lie above the topmost occurrence of slot.
func (s Stack) Depth(slot cfg.Slot) (int, bool) {
	for depth := 0; depth < len(s); depth++ {
		if s[len(s)-1-depth] == slot {
			return depth, true
		}
	}
	return 0, false
}

// ContainsAll reports whether every slot of sub occurs in s.
func (s Stack) ContainsAll(sub Stack) bool {
	for _, slot := range sub {
		if !s.Contains(slot) {
			return false
		}
	}
	return true
}

// Without returns a copy of s with the slots matching drop removed.
func (s Stack) Without(drop func(cfg.Slot) bool) Stack {
	out := make(Stack, 0, len(s))
	for _, slot := range s {
		if !drop(slot) {
			out = append(out, slot)
		}
	}
	return out
}

// Concat returns a fresh stack holding s followed by more.
func (s Stack) Concat(more ...cfg.Slot) Stack {
	out := make(Stack, 0, len(s)+len(more))
	return append(append(out, s...), more...)
}
