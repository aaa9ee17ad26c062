package sync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kasuganosora/rezync/pkg/btree"
	"github.com/kasuganosora/rezync/pkg/hash"
)

// EncodePrimaryKey builds the B-tree key for a primary entry: "e/<table>/
// <primaryKey>".
func EncodePrimaryKey(table, primaryKey string) []byte {
	return []byte("e/" + table + "/" + primaryKey)
}

// decodePrimaryKey reverses EncodePrimaryKey, splitting a raw primary-entry
// key back into its table and primary-key components. Reports false for
// anything outside the "e/" key space.
func decodePrimaryKey(key []byte) (table, primaryKey string, ok bool) {
	const prefix = "e/"
	s := string(key)
	if !strings.HasPrefix(s, prefix) {
		return "", "", false
	}
	rest := s[len(prefix):]
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DiffOp discriminates the two row-level operations a diff entry carries.
type DiffOp int

const (
	DiffPut DiffOp = iota
	DiffDel
)

// DiffEntry is one row-level change, the unit the coordinator feeds to a
// Publisher after a mutation commits or a poke applies. It is also exactly
// the shape a poke's rowsPatch already arrives in, so the rebase path
// needs no separate tree-diffing algorithm: the diff is either handed to
// us directly (poke) or recorded as the mutator's own write set (mutation).
type DiffEntry struct {
	Op         DiffOp
	TableName  string
	PrimaryKey string
	Row        json.RawMessage
}

// Transaction is the capability a Mutator executes against: CRUD plus
// custom mutation, point-in-time reads, and a raw scan, all against one
// working root. It sees its own uncommitted writes immediately, since
// Get/Scan read through the same working root Put/Delete maintain.
type Transaction struct {
	writer btree.ChunkWriter
	root   hash.Hash
	diff   []DiffEntry
}

func newTransaction(writer btree.ChunkWriter, root hash.Hash) *Transaction {
	return &Transaction{writer: writer, root: root}
}

// Put writes (or overwrites) one row and records it in the transaction's
// diff.
func (tx *Transaction) Put(table, primaryKey string, row json.RawMessage) error {
	newRoot, err := btree.Put(tx.writer, btree.DefaultConfig(), tx.root, EncodePrimaryKey(table, primaryKey), row)
	if err != nil {
		return fmt.Errorf("sync: put %s/%s: %w", table, primaryKey, err)
	}
	tx.root = newRoot
	tx.diff = append(tx.diff, DiffEntry{Op: DiffPut, TableName: table, PrimaryKey: primaryKey, Row: row})
	return nil
}

// Delete removes one row and records it in the transaction's diff.
func (tx *Transaction) Delete(table, primaryKey string) error {
	newRoot, err := btree.Delete(tx.writer, btree.DefaultConfig(), tx.root, EncodePrimaryKey(table, primaryKey))
	if err != nil {
		return fmt.Errorf("sync: delete %s/%s: %w", table, primaryKey, err)
	}
	tx.root = newRoot
	tx.diff = append(tx.diff, DiffEntry{Op: DiffDel, TableName: table, PrimaryKey: primaryKey})
	return nil
}

// Get performs a point-in-time read against the transaction's own working
// root.
func (tx *Transaction) Get(table, primaryKey string) (json.RawMessage, bool, error) {
	v, ok, err := btree.Get(tx.writer, tx.root, EncodePrimaryKey(table, primaryKey))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return json.RawMessage(v), true, nil
}

// Scan exposes a raw range-read directly against the B-tree.
func (tx *Transaction) Scan(opts btree.ScanOptions) (*btree.Cursor, error) {
	return btree.Scan(tx.writer, tx.root, opts)
}

// Root returns the transaction's current working root, after every Put/
// Delete applied so far.
func (tx *Transaction) Root() hash.Hash { return tx.root }

// Diff returns the row-level changes this transaction has accumulated.
func (tx *Transaction) Diff() []DiffEntry { return append([]DiffEntry(nil), tx.diff...) }

// Mutator is a registered named mutation, decoding its own args from raw
// JSON at the point of use rather than upstream.
type Mutator func(tx *Transaction, args json.RawMessage) error
