// Package ivm implements the incremental view maintenance dataflow engine:
// a graph of stateful operators that compute query results once and then
// keep them current by propagating changes rather than re-executing.
package ivm

import "encoding/json"

// Node is one row flowing through a pipeline, together with the lazily
// fetched related rows a join attaches to it.
type Node struct {
	Row           json.RawMessage
	Relationships map[string]LazyStream
}

// LazyStream yields the related nodes for one relationship alias without
// forcing the whole join to materialize eagerly.
type LazyStream func() ([]Node, error)

// SortKey names a column and its direction within an operator's sort
// order.
type SortKey struct {
	Column  string
	Reverse bool
}

// Schema describes an operator's output shape.
type Schema struct {
	TableName     string
	Columns       []string
	PrimaryKey    []string
	SortOrder     []SortKey
	Relationships []string
	IsHidden      bool
}
