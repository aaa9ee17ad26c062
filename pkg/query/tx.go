package query

import (
	"bytes"

	"github.com/kasuganosora/rezync/pkg/btree"
	"github.com/kasuganosora/rezync/pkg/hash"
)

// trackedKeys records which keys and key prefixes a queryFn touched, so a
// commit's diff can be checked for intersection without re-running every
// subscription.
type trackedKeys struct {
	keys     [][]byte
	prefixes [][]byte
}

func newTrackedKeys() *trackedKeys { return &trackedKeys{} }

func (t *trackedKeys) addKey(key []byte) {
	t.keys = append(t.keys, append([]byte(nil), key...))
}

func (t *trackedKeys) addPrefix(prefix []byte) {
	t.prefixes = append(t.prefixes, append([]byte(nil), prefix...))
}

// intersects reports whether any key in diff was touched directly or falls
// under a tracked prefix.
func (t *trackedKeys) intersects(diff [][]byte) bool {
	for _, d := range diff {
		for _, k := range t.keys {
			if bytes.Equal(k, d) {
				return true
			}
		}
		for _, p := range t.prefixes {
			if bytes.HasPrefix(d, p) {
				return true
			}
		}
	}
	return false
}

// Tx is the read capability a subscription's queryFn runs against: a
// point-in-time view of the user data B-tree at one commit's root,
// instrumented to record every key and prefix it reads.
type Tx struct {
	reader  btree.ChunkReader
	root    hash.Hash
	touched *trackedKeys
}

func newTx(reader btree.ChunkReader, root hash.Hash) *Tx {
	return &Tx{reader: reader, root: root, touched: newTrackedKeys()}
}

func (tx *Tx) Get(key []byte) ([]byte, bool, error) {
	tx.touched.addKey(key)
	return btree.Get(tx.reader, tx.root, key)
}

func (tx *Tx) Has(key []byte) (bool, error) {
	tx.touched.addKey(key)
	return btree.Has(tx.reader, tx.root, key)
}

func (tx *Tx) Scan(opts btree.ScanOptions) (*btree.Cursor, error) {
	if opts.Prefix != nil {
		tx.touched.addPrefix(opts.Prefix)
	} else if opts.Start != nil {
		tx.touched.addPrefix(opts.Start)
	}
	return btree.Scan(tx.reader, tx.root, opts)
}

func (tx *Tx) IsEmpty() bool {
	tx.touched.addPrefix(nil)
	return btree.IsEmpty(tx.root)
}
