package dag

import (
	"fmt"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// WriteTx is a scoped write transaction. Only one may be in flight at a
// time (enforced by Store.writeLock); it sees its own uncommitted writes
// immediately via the embedded ReadTx.
type WriteTx struct {
	ReadTx

	// oldHeads remembers, for every head name touched in this
	// transaction, the hash it pointed at when this transaction started
	// (the zero hash if it had no prior value). Recorded lazily on first
	// touch so Commit can release exactly one old-target edge per head.
	oldHeads map[string]hash.Hash
	sawHead  map[string]bool

	// newTxnChunks holds chunks Put during this transaction that were not
	// already present in the perdag, in insertion order via a parallel
	// slice, so Commit can retain their refs exactly once.
	newTxnChunks map[hash.Hash]*Chunk
	newTxnOrder  []hash.Hash

	// pendingHeads holds the final requested target for every head name
	// touched in this transaction (a later SetHead/RemoveHead for the
	// same name overwrites an earlier one, so only the net change is
	// applied at Commit).
	pendingHeads map[string]hash.Hash

	done bool
}

// PutChunk writes a chunk if it is not already present. Content addressing
// makes this idempotent: re-putting an existing chunk is a no-op, and
// never double-counts that chunk's outgoing refs.
func (tx *WriteTx) PutChunk(c *Chunk) error {
	if tx.done {
		return fmt.Errorf("dag: write transaction already finished")
	}
	_, exists, err := tx.store.loadChunk(tx.txn, c.Hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := tx.store.storeChunk(tx.txn, c); err != nil {
		return err
	}
	tx.store.mem.Put(c)
	if _, seen := tx.newTxnChunks[c.Hash]; !seen {
		tx.newTxnChunks[c.Hash] = c
		tx.newTxnOrder = append(tx.newTxnOrder, c.Hash)
	}
	return nil
}

// SetHead points name at newHash. The refcount edge transfer (release the
// old target, retain the new one) happens atomically at Commit.
func (tx *WriteTx) SetHead(name string, newHash hash.Hash) error {
	if tx.done {
		return fmt.Errorf("dag: write transaction already finished")
	}
	if err := tx.rememberOldHead(name); err != nil {
		return err
	}
	if err := tx.txn.Set(tx.store.keyEnc.EncodeHeadKey(name), []byte(newHash.String())); err != nil {
		return fmt.Errorf("dag: set head %q: %w", name, err)
	}
	tx.recordNewHeadTarget(name, newHash)
	return nil
}

// RemoveHead deletes a named head, releasing its refcount edge at Commit.
func (tx *WriteTx) RemoveHead(name string) error {
	if tx.done {
		return fmt.Errorf("dag: write transaction already finished")
	}
	if err := tx.rememberOldHead(name); err != nil {
		return err
	}
	if err := tx.txn.Delete(tx.store.keyEnc.EncodeHeadKey(name)); err != nil {
		return fmt.Errorf("dag: remove head %q: %w", name, err)
	}
	tx.recordNewHeadTarget(name, hash.Hash{})
	return nil
}

func (tx *WriteTx) rememberOldHead(name string) error {
	if tx.sawHead[name] {
		return nil
	}
	old, _, err := tx.store.loadHead(tx.txn, name)
	if err != nil {
		return err
	}
	tx.oldHeads[name] = old
	tx.sawHead[name] = true
	return nil
}

func (tx *WriteTx) recordNewHeadTarget(name string, to hash.Hash) {
	if tx.pendingHeads == nil {
		tx.pendingHeads = make(map[string]hash.Hash)
	}
	tx.pendingHeads[name] = to
}

// Commit applies the refcount edge transfers for every head touched in
// this transaction, then commits the underlying Badger transaction. On any
// failure, no partial effect is visible (Badger transactions are
// all-or-nothing).
func (tx *WriteTx) Commit() error {
	if tx.done {
		return fmt.Errorf("dag: write transaction already finished")
	}
	defer tx.finish()

	// Retain the refs of every brand-new chunk written in this
	// transaction — each chunk contributes +1 refcount to each hash in
	// its own Refs list, independent of heads.
	for _, h := range tx.newTxnOrder {
		c := tx.newTxnChunks[h]
		for _, ref := range c.Refs {
			if err := tx.retain(ref); err != nil {
				return err
			}
		}
	}

	// Transfer the head-pointer edge: retain the new target before
	// releasing the old one, so a head repointed to a hash that shares a
	// subtree with its own previous target never collects that subtree
	// prematurely.
	for name, newHash := range tx.pendingHeads {
		old := tx.oldHeads[name]
		if !newHash.IsZero() {
			if err := tx.retain(newHash); err != nil {
				return err
			}
		}
		if !old.IsZero() {
			if err := tx.release(old); err != nil {
				return err
			}
		}
	}

	if err := tx.txn.Commit(); err != nil {
		return fmt.Errorf("dag: commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction with no visible side effect.
func (tx *WriteTx) Rollback() {
	if tx.done {
		return
	}
	tx.finish()
	tx.txn.Discard()
}

func (tx *WriteTx) finish() {
	if !tx.done {
		tx.done = true
		tx.store.writeLock.Unlock()
	}
}
