package driver

import (
	"cmp"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/vmihailenco/msgpack/v5"

	"evmstack/internal/cfg"
	"evmstack/internal/layout"
	"evmstack/internal/stack"
)

// Current schema version - increment when DiskPayload format changes
const diskCacheSchemaVersion uint16 = 1

// DiskCache stores layout results on disk, keyed by graph content and
// options. Thread-safe for concurrent access.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

// DiskPayload is the cached outcome of laying out one graph file. The graph
// itself is not stored; it is loaded again and, when variables were
// spilled, rewritten from Spilled.
type DiskPayload struct {
	Schema uint16
	Path   string

	Blocks     []CachedBlock
	Operations []CachedOp
	Spilled    []CachedSpill
	Rounds     int
}

type CachedBlock struct {
	ID    int32
	Entry []CachedSlot
	Exit  []CachedSlot
}

type CachedOp struct {
	ID     int32
	Layout []CachedSlot
}

type CachedSpill struct {
	Var  int32
	Addr uint64
}

// CachedSlot is cfg.Slot with the literal in big-endian form.
type CachedSlot struct {
	Kind  uint8
	Var   int32  `msgpack:",omitempty"`
	Value []byte `msgpack:",omitempty"`
	Op    int32  `msgpack:",omitempty"`
	Index int32  `msgpack:",omitempty"`
	Func  int32  `msgpack:",omitempty"`
}

// OpenDiskCache opens (and creates) the cache below dir.
func OpenDiskCache(dir string) (*DiskCache, error) {
	if dir == "" {
		return nil, errors.New("cache directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *DiskCache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *DiskCache) pathFor(key Digest) string {
	return filepath.Join(c.dir, "layouts", hex.EncodeToString(key[:])+".mp")
}

// Put serializes and writes a payload to the disk cache.
func (c *DiskCache) Put(key Digest, payload *DiskPayload) (err error) {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()

	if err := msgpack.NewEncoder(f).Encode(payload); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads and deserializes a payload. A payload of another schema
// version counts as a miss.
func (c *DiskCache) Get(key Digest, out *DiskPayload) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer func() { _ = f.Close() }()
	if err := msgpack.NewDecoder(f).Decode(out); err != nil {
		return false, fmt.Errorf("corrupt cache entry: %w", err)
	}
	return out.Schema == diskCacheSchemaVersion, nil
}

// DropAll removes every cached result.
func (c *DiskCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}

func slotToCache(s cfg.Slot) CachedSlot {
	out := CachedSlot{Kind: uint8(s.Kind)}
	switch s.Kind {
	case cfg.SlotVariable:
		out.Var = int32(s.Var)
	case cfg.SlotLiteral:
		b := s.Value.Bytes32()
		out.Value = b[:]
	case cfg.SlotTemporary:
		out.Op, out.Index = int32(s.Op), s.Index
	case cfg.SlotCallReturnLabel:
		out.Op = int32(s.Op)
	case cfg.SlotFunctionReturnLabel:
		out.Func = int32(s.Func)
	}
	return out
}

func slotFromCache(c CachedSlot) (cfg.Slot, error) {
	switch cfg.SlotKind(c.Kind) {
	case cfg.SlotJunk:
		return cfg.Junk(), nil
	case cfg.SlotVariable:
		return cfg.Variable(cfg.VarID(c.Var)), nil
	case cfg.SlotLiteral:
		if len(c.Value) > 32 {
			return cfg.Slot{}, fmt.Errorf("literal of %d bytes", len(c.Value))
		}
		return cfg.Literal(new(uint256.Int).SetBytes(c.Value)), nil
	case cfg.SlotTemporary:
		return cfg.Temporary(cfg.OpID(c.Op), int(c.Index)), nil
	case cfg.SlotCallReturnLabel:
		return cfg.CallReturnLabel(cfg.OpID(c.Op)), nil
	case cfg.SlotFunctionReturnLabel:
		return cfg.FunctionReturnLabel(cfg.FuncID(c.Func)), nil
	}
	return cfg.Slot{}, fmt.Errorf("unknown slot kind %d", c.Kind)
}

func stackToCache(s stack.Stack) []CachedSlot {
	out := make([]CachedSlot, len(s))
	for i, slot := range s {
		out[i] = slotToCache(slot)
	}
	return out
}

func stackFromCache(c []CachedSlot) (stack.Stack, error) {
	out := make(stack.Stack, len(c))
	for i, slot := range c {
		s, err := slotFromCache(slot)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// layoutToDiskPayload converts a layout for caching. Blocks and operations
// are stored in ID order so equal layouts encode to equal bytes.
func layoutToDiskPayload(path string, lay *layout.Layout, spilled map[cfg.VarID]uint64, rounds int) *DiskPayload {
	payload := &DiskPayload{
		Schema: diskCacheSchemaVersion,
		Path:   path,
		Rounds: rounds,
	}
	for _, id := range sortedKeys(lay.Blocks) {
		bl := lay.Blocks[id]
		payload.Blocks = append(payload.Blocks, CachedBlock{
			ID:    int32(id),
			Entry: stackToCache(bl.Entry),
			Exit:  stackToCache(bl.Exit),
		})
	}
	for _, id := range sortedKeys(lay.Operations) {
		payload.Operations = append(payload.Operations, CachedOp{
			ID:     int32(id),
			Layout: stackToCache(lay.Operations[id]),
		})
	}
	for _, v := range sortedKeys(spilled) {
		payload.Spilled = append(payload.Spilled, CachedSpill{Var: int32(v), Addr: spilled[v]})
	}
	return payload
}

// diskPayloadToLayout restores a cached layout for g, the graph the layout
// was computed for. Entries that do not fit g are reported as errors.
func diskPayloadToLayout(payload *DiskPayload, g *cfg.Graph) (*layout.Layout, error) {
	lay := &layout.Layout{
		Blocks:     make(map[cfg.BlockID]*layout.BlockLayout, len(payload.Blocks)),
		Operations: make(map[cfg.OpID]stack.Stack, len(payload.Operations)),
	}
	for _, b := range payload.Blocks {
		if b.ID < 0 || int(b.ID) >= len(g.Blocks) {
			return nil, fmt.Errorf("cached block %d out of range", b.ID)
		}
		entry, err := stackFromCache(b.Entry)
		if err != nil {
			return nil, err
		}
		exit, err := stackFromCache(b.Exit)
		if err != nil {
			return nil, err
		}
		lay.Blocks[cfg.BlockID(b.ID)] = &layout.BlockLayout{Entry: entry, Exit: exit}
	}
	for _, op := range payload.Operations {
		if op.ID < 0 || int(op.ID) >= len(g.Ops) {
			return nil, fmt.Errorf("cached operation %d out of range", op.ID)
		}
		s, err := stackFromCache(op.Layout)
		if err != nil {
			return nil, err
		}
		lay.Operations[cfg.OpID(op.ID)] = s
	}
	return lay, nil
}

func spilledFromPayload(payload *DiskPayload) map[cfg.VarID]uint64 {
	out := make(map[cfg.VarID]uint64, len(payload.Spilled))
	for _, s := range payload.Spilled {
		out[cfg.VarID(s.Var)] = s.Addr
	}
	return out
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
