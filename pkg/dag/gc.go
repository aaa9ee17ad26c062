package dag

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// Refcount maintenance. Every chunk's Refs list is its direct out-edges:
// it enumerates every hash reachable from the chunk's data, so the store
// can refcount without parsing payloads. The invariant (refcount(C) = 1
// if a head points directly at C, plus the number of live
// chunks whose Refs include C) is maintained incrementally at edge
// creation/removal time rather than by periodic reachability sweeps:
//
//   - a chunk's own Refs edges are retained once, when the chunk is first
//     written (WriteTx.Commit, over tx.newTxnOrder);
//   - a head's edge to its target is retained/released whenever the head
//     is moved (WriteTx.Commit, over tx.pendingHeads).
//
// When a release drops a chunk's refcount to zero and it is not any head's
// direct target, the chunk is deleted and the release cascades to its own
// Refs — exactly the chunks it was keeping alive lose an edge in turn.

func (tx *WriteTx) getRefcount(h hash.Hash) (uint64, error) {
	item, err := tx.txn.Get(tx.store.keyEnc.EncodeRefcountKey(h))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dag: get refcount %s: %w", h, err)
	}
	var rc uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("dag: malformed refcount record for %s", h)
		}
		rc = binary.BigEndian.Uint64(val)
		return nil
	})
	return rc, err
}

func (tx *WriteTx) setRefcount(h hash.Hash, rc uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], rc)
	if err := tx.txn.Set(tx.store.keyEnc.EncodeRefcountKey(h), buf[:]); err != nil {
		return fmt.Errorf("dag: set refcount %s: %w", h, err)
	}
	return nil
}

// retain increments h's refcount by one, representing a newly-created edge
// into it (either from a newly-written referencing chunk, or from a head
// now pointing at it).
func (tx *WriteTx) retain(h hash.Hash) error {
	if h.IsZero() {
		return nil
	}
	rc, err := tx.getRefcount(h)
	if err != nil {
		return err
	}
	return tx.setRefcount(h, rc+1)
}

// release decrements h's refcount by one, representing the removal of an
// edge into it. If the refcount reaches zero and h is not the direct
// target of any remaining head, h is collected: its storage is freed and
// the release cascades to everything h itself referenced.
func (tx *WriteTx) release(h hash.Hash) error {
	if h.IsZero() {
		return nil
	}
	rc, err := tx.getRefcount(h)
	if err != nil {
		return err
	}
	if rc == 0 {
		// Already at zero (or never tracked, e.g. a snapshot's
		// predecessor chain established before refcounting began) —
		// nothing to decrement.
		return nil
	}
	rc--
	if rc > 0 {
		return tx.setRefcount(h, rc)
	}

	isHead, err := tx.isAnyHeadTarget(h)
	if err != nil {
		return err
	}
	if isHead {
		return tx.setRefcount(h, 0)
	}
	return tx.collect(h)
}

// collect removes a zero-refcount, non-head-targeted chunk and cascades
// the release to everything it referenced.
func (tx *WriteTx) collect(h hash.Hash) error {
	chunk, ok, err := tx.store.loadChunk(tx.txn, h)
	if err != nil {
		return err
	}
	if err := tx.txn.Delete(tx.store.keyEnc.EncodeChunkKey(h)); err != nil {
		return fmt.Errorf("dag: delete chunk %s: %w", h, err)
	}
	if err := tx.txn.Delete(tx.store.keyEnc.EncodeRefcountKey(h)); err != nil {
		return fmt.Errorf("dag: delete refcount %s: %w", h, err)
	}
	tx.store.mem.Evict(h)
	if !ok {
		return nil
	}
	for _, ref := range chunk.Refs {
		if err := tx.release(ref); err != nil {
			return err
		}
	}
	return nil
}

// isAnyHeadTarget scans all heads in the perdag for one pointing directly
// at h. The number of heads is expected to stay small (one per sync
// context, conventionally "main"), so a linear scan is cheap and avoids
// maintaining a separate reverse index.
func (tx *WriteTx) isAnyHeadTarget(h hash.Hash) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixHead)
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	target := h.String()
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		var found bool
		err := item.Value(func(val []byte) error {
			found = string(val) == target
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("dag: scan heads: %w", err)
		}
		if found {
			// SetHead/RemoveHead already wrote this transaction's
			// head changes into the txn before Commit runs the
			// release pass, so the iterator sees each head's new
			// target: a head moved away from h in this
			// transaction no longer protects h.
			return true, nil
		}
	}
	return false, nil
}

// refcount returns the current persisted refcount of h.
func (tx *ReadTx) refcount(h hash.Hash) (uint64, error) {
	item, err := tx.txn.Get(tx.store.keyEnc.EncodeRefcountKey(h))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dag: get refcount %s: %w", h, err)
	}
	var rc uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("dag: malformed refcount record for %s", h)
		}
		rc = binary.BigEndian.Uint64(val)
		return nil
	})
	return rc, err
}
