package layout

import (
	"strconv"
	"strings"

	"evmstack/internal/cfg"
	"evmstack/internal/invariant"
	"evmstack/internal/stack"
)

// combineCache memoises combineStack results for one generator run.
type combineCache struct {
	byStacks map[string]stack.Stack
	hits     int
}

func newCombineCache() *combineCache {
	return &combineCache{byStacks: make(map[string]stack.Stack, 16)}
}

func (c *combineCache) get(key string) (stack.Stack, bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.byStacks[key]
	if ok {
		c.hits++
	}
	return s, ok
}

func (c *combineCache) put(key string, s stack.Stack) {
	if c == nil {
		return
	}
	c.byStacks[key] = s
}

// combineKey encodes the two stacks in an unambiguous form.
func combineKey(lhs, rhs stack.Stack) string {
	var sb strings.Builder
	writeStackKey(&sb, lhs)
	sb.WriteByte('|')
	writeStackKey(&sb, rhs)
	return sb.String()
}

func writeStackKey(sb *strings.Builder, s stack.Stack) {
	for _, slot := range s {
		sb.WriteString(strconv.Itoa(int(slot.Kind)))
		sb.WriteByte(':')
		switch slot.Kind {
		case cfg.SlotVariable:
			sb.WriteString(strconv.Itoa(int(slot.Var)))
		case cfg.SlotLiteral:
			sb.WriteString(slot.Value.Hex())
		case cfg.SlotTemporary:
			sb.WriteString(strconv.Itoa(int(slot.Op)))
			sb.WriteByte('.')
			sb.WriteString(strconv.Itoa(int(slot.Index)))
		case cfg.SlotCallReturnLabel:
			sb.WriteString(strconv.Itoa(int(slot.Op)))
		case cfg.SlotFunctionReturnLabel:
			sb.WriteString(strconv.Itoa(int(slot.Func)))
		case cfg.SlotJunk:
		default:
			invariant.Fail("unknown slot kind %d", slot.Kind)
		}
		sb.WriteByte(';')
	}
}
