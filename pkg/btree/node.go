// Package btree implements the persistent, copy-on-write ordered map that
// backs the value of every commit. Every node is itself a dag.Chunk: there
// is no separate page format, and reachability (and therefore garbage
// collection) of tree nodes falls directly out of the DAG store's own
// refcounting.
package btree

import (
	"encoding/json"
	"fmt"

	"github.com/kasuganosora/rezync/pkg/dag"
	"github.com/kasuganosora/rezync/pkg/hash"
)

// ChunkReader is the read-side dependency a tree needs from the DAG store.
// dag.ReadTx and dag.WriteTx both satisfy it.
type ChunkReader interface {
	GetChunk(h hash.Hash) (*dag.Chunk, bool, error)
}

// ChunkWriter additionally lets the tree persist new nodes. dag.WriteTx
// satisfies it.
type ChunkWriter interface {
	ChunkReader
	PutChunk(c *dag.Chunk) error
}

// entry is a leaf key/value pair.
type entry struct {
	Key   []byte          `json:"k"`
	Value json.RawMessage `json:"v"`
}

// childRef is one entry of an internal node: the smallest key reachable
// through Hash, and the hash of that child node's chunk.
type childRef struct {
	Key  []byte    `json:"k"`
	Hash hash.Hash `json:"h"`
}

// node is the decoded, in-memory shape of a tree node. Exactly one of
// Entries (leaf) or Children (internal) is populated.
type node struct {
	Leaf     bool       `json:"leaf"`
	Entries  []entry    `json:"entries,omitempty"`
	Children []childRef `json:"children,omitempty"`
}

func (n *node) minKey() []byte {
	if n.Leaf {
		if len(n.Entries) == 0 {
			return nil
		}
		return n.Entries[0].Key
	}
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[0].Key
}

func (n *node) count() int {
	if n.Leaf {
		return len(n.Entries)
	}
	return len(n.Children)
}

func encodeNode(n *node) (*dag.Chunk, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("btree: encode node: %w", err)
	}
	var refs []hash.Hash
	if !n.Leaf {
		refs = make([]hash.Hash, len(n.Children))
		for i, c := range n.Children {
			refs[i] = c.Hash
		}
	}
	return dag.NewChunk(data, refs), nil
}

func putNode(w ChunkWriter, n *node) (hash.Hash, error) {
	c, err := encodeNode(n)
	if err != nil {
		return hash.Hash{}, err
	}
	if err := w.PutChunk(c); err != nil {
		return hash.Hash{}, err
	}
	return c.Hash, nil
}

func getNode(r ChunkReader, h hash.Hash) (*node, error) {
	c, ok, err := r.GetChunk(h)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("btree: node %s not found", h)
	}
	var n node
	if err := json.Unmarshal(c.Data, &n); err != nil {
		return nil, fmt.Errorf("btree: decode node %s: %w", h, err)
	}
	return &n, nil
}
