// Package query compiles query ASTs into live IVM pipelines and hosts the
// subscription layer that runs read-only query functions against a DAG
// transaction and notifies listeners when their result changes.
package query

import "github.com/kasuganosora/rezync/pkg/ivm"

// Kind tags the variant an AST node carries. A query is, for this engine,
// this Go struct tree — there is no text surface to parse.
type Kind int

const (
	KindScan Kind = iota
	KindFilter
	KindJoin
	KindLimit
	KindStart
	KindOrderBy
	KindProject
)

// AST is a node in a query's compiled-from tree. Exactly the fields
// relevant to Kind are populated; Input is the single child for every kind
// except Scan (a leaf) and Join (which has Parent/Child instead).
type AST struct {
	Kind  Kind
	Input *AST

	// Scan
	Table string

	// Filter
	Predicate ivm.Predicate

	// Join
	Parent, Child           *AST
	Alias                   string
	ParentField, ChildField string

	// Limit
	Offset, Limit int

	// Start
	StartRow       ivm.Node
	StartInclusive bool

	// OrderBy
	SortOrder []ivm.SortKey

	// Project
	ProjectColumns []string
}

func Scan(table string) *AST { return &AST{Kind: KindScan, Table: table} }

func Filter(input *AST, pred ivm.Predicate) *AST {
	return &AST{Kind: KindFilter, Input: input, Predicate: pred}
}

func Join(parent, child *AST, alias, parentField, childField string) *AST {
	return &AST{Kind: KindJoin, Parent: parent, Child: child, Alias: alias, ParentField: parentField, ChildField: childField}
}

func Limit(input *AST, offset, limit int) *AST {
	return &AST{Kind: KindLimit, Input: input, Offset: offset, Limit: limit}
}

func Start(input *AST, startRow ivm.Node, inclusive bool) *AST {
	return &AST{Kind: KindStart, Input: input, StartRow: startRow, StartInclusive: inclusive}
}

func OrderBy(input *AST, sortOrder []ivm.SortKey) *AST {
	return &AST{Kind: KindOrderBy, Input: input, SortOrder: sortOrder}
}

func Project(input *AST, columns []string) *AST {
	return &AST{Kind: KindProject, Input: input, ProjectColumns: columns}
}

// Tables returns the distinct table names a reaches via its Scan leaves,
// in first-encountered order. A pipeline compiled from a needs to hear
// about commits to exactly these tables.
func (a *AST) Tables() []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(n *AST)
	walk = func(n *AST) {
		if n == nil {
			return
		}
		switch n.Kind {
		case KindScan:
			if !seen[n.Table] {
				seen[n.Table] = true
				out = append(out, n.Table)
			}
		case KindJoin:
			walk(n.Parent)
			walk(n.Child)
		default:
			walk(n.Input)
		}
	}
	walk(a)
	return out
}
