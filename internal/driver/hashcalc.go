package driver

import (
	"crypto/sha256"
	"encoding/binary"

	"evmstack/internal/layout"
)

// Digest identifies a cached layout result.
type Digest [32]byte

// cacheKey hashes the graph file content together with every setting that
// influences the result: H(schema || content || options).
func cacheKey(content [32]byte, opts *Options) Digest {
	h := sha256.New()
	var buf [8]byte
	writeInt := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	writeInt(uint64(diskCacheSchemaVersion))
	_, _ = h.Write(content[:])
	writeOptions(writeInt, opts.Layout)
	if opts.Spill {
		writeInt(1)
		writeInt(opts.SpillOptions.Base)
		writeInt(opts.SpillOptions.SlotSize)
		writeInt(uint64(opts.SpillOptions.MaxRounds))
	} else {
		writeInt(0)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

func writeOptions(writeInt func(uint64), o layout.Options) {
	writeInt(uint64(o.Policy.MaxDepth))
	writeInt(uint64(o.Policy.MaxLiteralBytes))
	writeInt(uint64(o.CompressThreshold))
	writeInt(uint64(o.ExhaustiveCombineLimit))
	writeInt(uint64(o.MaxFixupRounds))
}
