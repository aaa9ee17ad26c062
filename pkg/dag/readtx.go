package dag

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// ReadTx is a read-only scoped transaction over a point-in-time snapshot of
// the perdag. A write transaction's *badger.Txn also satisfies every read
// it needs (Badger read/write transactions can read their own
// uncommitted writes), so WriteTx embeds a ReadTx over the same
// underlying txn rather than duplicating the read path.
type ReadTx struct {
	store *Store
	txn   *badger.Txn
}

// GetHead returns the commit hash a named head currently points at.
func (tx *ReadTx) GetHead(name string) (hash.Hash, bool, error) {
	return tx.store.loadHead(tx.txn, name)
}

// GetChunk fetches a chunk by hash, consulting the memdag before falling
// back to the perdag. Returns ok=false if the chunk does not exist.
func (tx *ReadTx) GetChunk(h hash.Hash) (*Chunk, bool, error) {
	return tx.store.loadChunk(tx.txn, h)
}

// MustGetChunk fetches a chunk by hash and errors if it does not exist.
func (tx *ReadTx) MustGetChunk(h hash.Hash) (*Chunk, error) {
	c, ok, err := tx.GetChunk(h)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("dag: chunk %s not found", h)
	}
	return c, nil
}

// Discard releases the underlying Badger transaction. Safe to call
// multiple times.
func (tx *ReadTx) Discard() {
	tx.txn.Discard()
}
