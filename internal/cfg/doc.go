// Package cfg is the control flow graph consumed by the stack layout
// generator.
//
// Blocks, operations, variables and functions live in arenas owned by Graph
// and are addressed by stable int32 IDs. Every consumer keys its own tables by
// those IDs; the graph itself is never mutated after Builder.Finish returns.
//
// Values on the machine stack are described by Slot, a closed tagged union.
// Stacks are written bottom first: the last element of an operation's Input
// is the top of the stack when the operation runs.
package cfg
