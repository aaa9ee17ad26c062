package dag

import (
	"github.com/kasuganosora/rezync/pkg/hash"
)

// Chunk is the unit of content-addressed storage. Refs enumerates every
// hash directly embedded in Data so the store can refcount and walk the
// graph without understanding what Data actually encodes (a commit, a
// B-tree node, or anything else built on top of the store).
type Chunk struct {
	Hash hash.Hash
	Data []byte
	Refs []hash.Hash
}

// NewChunk computes the chunk's hash from data and refs and returns the
// resulting immutable Chunk.
func NewChunk(data []byte, refs []hash.Hash) *Chunk {
	return &Chunk{
		Hash: hash.Of(data, refs),
		Refs: append([]hash.Hash(nil), refs...),
		Data: data,
	}
}
