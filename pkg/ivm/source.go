package ivm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Source is the canonical, per-table set of rows, ordered by primary key.
// It has no upstream: Push is how the commit boundary feeds it base-table
// diffs, and Fetch is how every compiled pipeline for this table reads from
// it. Sources for the same table are shared across pipelines compiled
// against it.
type Source struct {
	baseOperator
	schema    Schema
	keyPtr    string
	indexes   map[string]indexDef
	rows      []Node
	byKey     map[string]int // primary key string -> index into rows
	indexRows map[string][]indexedNode
}

type indexDef struct {
	name       string
	jsonPtr    string
	prefix     string
	allowEmpty bool
}

type indexedNode struct {
	secondary string
	node      Node
}

// NewSource creates a Source for tableName, keyed by the primary key
// reachable at keyPointer (a JSON Pointer into each row).
func NewSource(tableName, keyPointer string, sortOrder []SortKey) *Source {
	return &Source{
		baseOperator: newBaseOperator(),
		schema: Schema{
			TableName:  tableName,
			PrimaryKey: []string{keyPointer},
			SortOrder:  sortOrder,
		},
		keyPtr:    keyPointer,
		indexes:   make(map[string]indexDef),
		byKey:     make(map[string]int),
		indexRows: make(map[string][]indexedNode),
	}
}

// DefineIndex registers a secondary index over rows reachable at
// jsonPointer, prefix-scoped to primary keys matching prefix.
func (s *Source) DefineIndex(name, jsonPointer, prefix string, allowEmpty bool) {
	s.indexes[name] = indexDef{name: name, jsonPtr: jsonPointer, prefix: prefix, allowEmpty: allowEmpty}
	s.indexRows[name] = nil
}

// PrimaryKey extracts the primary key string this source would assign to
// row, per its configured key pointer. Exposed so callers outside the
// dataflow graph (the commit boundary) can resolve a table/row pair into
// the same key the source itself uses, without duplicating the pointer
// lookup.
func (s *Source) PrimaryKey(row json.RawMessage) (string, error) {
	return s.primaryKey(row)
}

func (s *Source) primaryKey(row json.RawMessage) (string, error) {
	v, ok := ExtractString(row, s.keyPtr)
	if !ok {
		return "", fmt.Errorf("ivm: row missing primary key at %s", s.keyPtr)
	}
	return v, nil
}

func (s *Source) GetSchema() Schema { return s.schema }

func (s *Source) Destroy() {
	s.rows = nil
	s.byKey = nil
	s.indexRows = nil
}

// Fetch performs a range scan over the canonical row set, honoring an
// equality constraint on the string value at Constraint.Column and a keyset
// start cursor: rows up to and including the row whose primary key equals
// the start row's are skipped.
func (s *Source) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	rows := s.rows
	out := make([]Node, 0, len(rows))
	started := req.Start == nil
	for i := 0; i < len(rows); i++ {
		idx := i
		if req.Reverse {
			idx = len(rows) - 1 - i
		}
		row := rows[idx]
		if !started {
			startKey, _ := s.primaryKey(req.Start.Row)
			rowKey, _ := s.primaryKey(row.Row)
			if rowKey == startKey {
				started = true
			}
			continue
		}
		if req.Constraint != nil {
			v, ok := ExtractString(row.Row, req.Constraint.Column)
			if !ok || v != string(req.Constraint.Value) {
				continue
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// FetchIndex scans a named secondary index, constrained to entries whose
// secondary key begins with prefix.
func (s *Source) FetchIndex(ctx context.Context, indexName string, prefix string) ([]Node, error) {
	entries := s.indexRows[indexName]
	out := make([]Node, 0, len(entries))
	for _, e := range entries {
		if len(e.secondary) >= len(prefix) && e.secondary[:len(prefix)] == prefix {
			out = append(out, e.node)
		}
	}
	return out, nil
}

// Push applies change to the canonical row set and index views, then
// returns it unchanged (tagged with this source's table name) for the
// compiled pipeline to propagate downstream.
func (s *Source) Push(ctx context.Context, change Change) ([]Change, error) {
	change.Origin = s.schema.TableName
	switch change.Kind {
	case Add:
		if err := s.insert(change.Node); err != nil {
			return nil, err
		}
	case Remove:
		if err := s.remove(change.Node); err != nil {
			return nil, err
		}
	case Edit:
		if err := s.remove(change.OldNode); err != nil {
			return nil, err
		}
		if err := s.insert(change.NewNode); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("ivm: source %s received unsupported change kind %s", s.schema.TableName, change.Kind)
	}
	return []Change{change}, nil
}

// Upsert applies row as an Add if its key is new, or an Edit against the
// row currently stored under that key otherwise. A commit boundary doesn't
// know in advance whether a put is a first write or an overwrite, so it
// calls this instead of choosing between Add and Edit itself.
func (s *Source) Upsert(ctx context.Context, row json.RawMessage) ([]Change, error) {
	key, err := s.primaryKey(row)
	if err != nil {
		return nil, err
	}
	n := Node{Row: row}
	if i, ok := s.byKey[key]; ok {
		return s.Push(ctx, NewEdit(s.rows[i], n))
	}
	return s.Push(ctx, NewAdd(n))
}

// RemoveByKey builds and applies a Remove change for the row currently
// stored under key, looking the row up in the source's own canonical set
// rather than requiring the caller to reconstruct it. This is how a commit
// boundary feeds a pure key deletion (no row body) into the dataflow.
func (s *Source) RemoveByKey(ctx context.Context, key string) ([]Change, error) {
	i, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("ivm: source %s: RemoveByKey of absent key %q", s.schema.TableName, key)
	}
	return s.Push(ctx, NewRemove(s.rows[i]))
}

func (s *Source) insert(n Node) error {
	key, err := s.primaryKey(n.Row)
	if err != nil {
		return err
	}
	i := sort.Search(len(s.rows), func(i int) bool {
		k, _ := s.primaryKey(s.rows[i].Row)
		return k >= key
	})
	if i < len(s.rows) {
		if k, _ := s.primaryKey(s.rows[i].Row); k == key {
			return fmt.Errorf("ivm: source %s: Add of already-present key %q", s.schema.TableName, key)
		}
	}
	s.rows = append(s.rows, Node{})
	copy(s.rows[i+1:], s.rows[i:])
	s.rows[i] = n
	s.reindexKeys()
	s.addToIndexes(n)
	return nil
}

func (s *Source) remove(n Node) error {
	key, err := s.primaryKey(n.Row)
	if err != nil {
		return err
	}
	i, ok := s.byKey[key]
	if !ok {
		return fmt.Errorf("ivm: source %s: Remove of absent key %q", s.schema.TableName, key)
	}
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
	s.reindexKeys()
	s.removeFromIndexes(key)
	return nil
}

func (s *Source) reindexKeys() {
	s.byKey = make(map[string]int, len(s.rows))
	for i, r := range s.rows {
		k, _ := s.primaryKey(r.Row)
		s.byKey[k] = i
	}
}

func (s *Source) addToIndexes(n Node) {
	pk, _ := s.primaryKey(n.Row)
	for name, def := range s.indexes {
		if def.prefix != "" && !bytes.HasPrefix([]byte(pk), []byte(def.prefix)) {
			continue
		}
		v, ok := ExtractPointer(n.Row, def.jsonPtr)
		if !ok {
			if !def.allowEmpty {
				continue
			}
			v = json.RawMessage("null")
		}
		secondary := string(v) + "\x00" + pk
		entries := append(s.indexRows[name], indexedNode{secondary: secondary, node: n})
		sort.Slice(entries, func(i, j int) bool { return entries[i].secondary < entries[j].secondary })
		s.indexRows[name] = entries
	}
}

func (s *Source) removeFromIndexes(pk string) {
	for name, entries := range s.indexRows {
		out := entries[:0]
		for _, e := range entries {
			if !bytes.HasSuffix([]byte(e.secondary), []byte("\x00"+pk)) {
				out = append(out, e)
			}
		}
		s.indexRows[name] = out
	}
}
