package blocks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Chunk is an ordered bundle of blocks destined for exactly one physical
// platform message.
type Chunk struct {
	Blocks []Block
}

// Wire returns the wire form of every block in the chunk.
func (c Chunk) Wire() []map[string]any {
	wire := make([]map[string]any, 0, len(c.Blocks))
	for _, block := range c.Blocks {
		wire = append(wire, block.Wire())
	}
	return wire
}

// Fallback joins every block's plain-text fallback with newlines.
func (c Chunk) Fallback() string {
	parts := make([]string, 0, len(c.Blocks))
	for _, block := range c.Blocks {
		parts = append(parts, block.Fallback())
	}
	return strings.Join(parts, "\n")
}

// Len is the cumulative fallback length of the chunk's blocks.
func (c Chunk) Len() int {
	total := 0
	for _, block := range c.Blocks {
		total += len(block.Fallback())
	}
	return total
}

// Hash returns a content hash over the serialized blocks and the joined
// fallback text, used for cheap equality checks between renderings.
func (c Chunk) Hash() string {
	digest := sha256.New()
	if serialized, err := json.Marshal(c.Wire()); err == nil {
		digest.Write(serialized)
	}
	digest.Write([]byte{0})
	digest.Write([]byte(c.Fallback()))
	return hex.EncodeToString(digest.Sum(nil))
}
