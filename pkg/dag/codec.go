package dag

import (
	"encoding/json"
	"fmt"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// chunkRecord is the on-disk shape of a Chunk. The hash itself is not
// stored (it is derivable from Data+Refs and is already the key), keeping
// the record minimal.
type chunkRecord struct {
	Data []byte      `json:"data"`
	Refs []hash.Hash `json:"refs,omitempty"`
}

// ChunkCodec serializes and deserializes chunk records for the perdag.
type ChunkCodec struct{}

// NewChunkCodec creates a new ChunkCodec.
func NewChunkCodec() *ChunkCodec {
	return &ChunkCodec{}
}

// Encode serializes a chunk's data+refs (everything but its hash, which is
// carried by the storage key).
func (c *ChunkCodec) Encode(chunk *Chunk) ([]byte, error) {
	rec := chunkRecord{Data: chunk.Data, Refs: chunk.Refs}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode chunk %s: %w", chunk.Hash, err)
	}
	return data, nil
}

// Decode deserializes a chunk record and attaches the given hash (the
// caller already knows it from the lookup key).
func (c *ChunkCodec) Decode(h hash.Hash, data []byte) (*Chunk, error) {
	var rec chunkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", h, err)
	}
	return &Chunk{Hash: h, Data: rec.Data, Refs: rec.Refs}, nil
}
