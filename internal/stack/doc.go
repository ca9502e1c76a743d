// Package stack implements the stack shuffling engine: it transforms one
// stack layout into another with swap, dup/push and pop under a bounded
// addressing depth, derives the ideal layout in front of an operation, and
// detects transitions that would need a slot out of reach.
//
// A Stack lists slots bottom first; the last element is the top.
package stack
