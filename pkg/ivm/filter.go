package ivm

import "context"

// Predicate evaluates a boolean condition over a row.
type Predicate func(row Node) bool

// FilterOperator forwards rows for which Predicate holds, translating
// upstream changes into downstream Add/Remove/Edit according to whether
// the predicate holds on the old and new row.
type FilterOperator struct {
	baseOperator
	predicate Predicate
}

func NewFilter(upstream Operator, predicate Predicate) *FilterOperator {
	return &FilterOperator{baseOperator: newBaseOperator(upstream), predicate: predicate}
}

func (f *FilterOperator) GetSchema() Schema { return f.upstream[0].GetSchema() }

func (f *FilterOperator) Destroy() { f.destroyUpstream() }

func (f *FilterOperator) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	rows, err := f.upstream[0].Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(rows))
	for _, r := range rows {
		if f.predicate(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FilterOperator) Push(ctx context.Context, change Change) ([]Change, error) {
	switch change.Kind {
	case Add:
		if f.predicate(change.Node) {
			return []Change{change}, nil
		}
		return nil, nil
	case Remove:
		if f.predicate(change.Node) {
			return []Change{change}, nil
		}
		return nil, nil
	case Edit:
		oldHeld := f.predicate(change.OldNode)
		newHeld := f.predicate(change.NewNode)
		switch {
		case oldHeld && newHeld:
			return []Change{change}, nil
		case oldHeld && !newHeld:
			c := change
			c.Kind, c.Node = Remove, change.OldNode
			return []Change{c}, nil
		case !oldHeld && newHeld:
			c := change
			c.Kind, c.Node = Add, change.NewNode
			return []Change{c}, nil
		default:
			return nil, nil
		}
	default:
		return []Change{change}, nil
	}
}
