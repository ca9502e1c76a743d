package cfgfile

import (
	"bufio"
	"bytes"
	"strings"
)

// headerLines records the lines of the array-of-tables headers so that
// declarations without an explicit line still get a span.
type headerLines struct {
	functions []uint32
	blocks    []uint32
	// ops[i] holds the op headers of the i-th block.
	ops [][]uint32
	// keys lists every key and table header in file order.
	keys []keyLine
}

// keyLine is a key defined directly in table, or the header of a table
// named key inside table.
type keyLine struct {
	table string
	key   string
	line  uint32
	used  bool
}

func scanHeaders(content []byte) headerLines {
	var h headerLines
	var line uint32
	table := ""
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		if path, ok := headerPath(text); ok {
			table = strings.Join(path, ".")
			h.keys = append(h.keys, keyLine{table: strings.Join(path[:len(path)-1], "."), key: path[len(path)-1], line: line})
		} else if eq := strings.IndexByte(text, '='); eq > 0 {
			path := splitKey(text[:eq])
			if len(path) > 0 {
				h.keys = append(h.keys, keyLine{table: joinKey(table, path[:len(path)-1]), key: path[len(path)-1], line: line})
			}
		}
		switch strings.Join(strings.Fields(text), "") {
		case "[[function]]":
			h.functions = append(h.functions, line)
		case "[[block]]":
			h.blocks = append(h.blocks, line)
			h.ops = append(h.ops, nil)
		case "[[block.op]]":
			if n := len(h.ops); n > 0 {
				h.ops[n-1] = append(h.ops[n-1], line)
			}
		}
	}
	return h
}

func lineAt(lines []uint32, i int) uint32 {
	if i < len(lines) {
		return lines[i]
	}
	return 0
}

func (h *headerLines) function(i int) uint32 {
	return lineAt(h.functions, i)
}

func (h *headerLines) block(i int) uint32 {
	return lineAt(h.blocks, i)
}

func (h *headerLines) op(blk, i int) uint32 {
	if blk < len(h.ops) {
		return lineAt(h.ops[blk], i)
	}
	return 0
}

// headerPath splits a "[a.b]" or "[[a.b]]" header into its key parts.
func headerPath(text string) ([]string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") || !strings.HasSuffix(text, "]") {
		return nil, false
	}
	text = strings.TrimSuffix(strings.TrimPrefix(text, "["), "]")
	if strings.HasPrefix(text, "[") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "["), "]")
	}
	path := splitKey(text)
	return path, len(path) > 0
}

func splitKey(text string) []string {
	var path []string
	for _, part := range strings.Split(text, ".") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part == "" {
			return nil
		}
		path = append(path, part)
	}
	return path
}

func joinKey(table string, path []string) string {
	if len(path) == 0 {
		return table
	}
	if table == "" {
		return strings.Join(path, ".")
	}
	return table + "." + strings.Join(path, ".")
}

// key returns the line defining the key at path, or of its closest
// enclosing key when path itself has no line of its own, as with keys of
// inline tables. Each line is handed out once so that repeated keys in
// arrays of tables map to successive occurrences.
func (h *headerLines) key(path []string) uint32 {
	for i := len(path) - 1; i >= 0; i-- {
		table := strings.Join(path[:i], ".")
		for j := range h.keys {
			k := &h.keys[j]
			if !k.used && k.table == table && k.key == path[i] {
				k.used = true
				return k.line
			}
		}
	}
	return 0
}
