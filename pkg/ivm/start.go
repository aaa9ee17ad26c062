package ivm

import "context"

// StartOperator implements keyset-pagination's skip-while-before-start
// semantics: rows ordered before the fixed start row are dropped, on fetch
// and on push alike.
type StartOperator struct {
	baseOperator
	start     Node
	cmp       CompareFunc
	inclusive bool
}

// NewStart builds a Start operator fixed at startRow. inclusive controls
// whether startRow itself (an "at" cursor) or only rows strictly after it
// (an "after" cursor) is kept.
func NewStart(upstream Operator, startRow Node, cmp CompareFunc, inclusive bool) *StartOperator {
	return &StartOperator{baseOperator: newBaseOperator(upstream), start: startRow, cmp: cmp, inclusive: inclusive}
}

func (s *StartOperator) GetSchema() Schema { return s.upstream[0].GetSchema() }
func (s *StartOperator) Destroy()          { s.destroyUpstream() }

func (s *StartOperator) keep(row Node) bool {
	c := s.cmp(row, s.start)
	if s.inclusive {
		return c >= 0
	}
	return c > 0
}

func (s *StartOperator) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	rows, err := s.upstream[0].Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(rows))
	for _, r := range rows {
		if s.keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *StartOperator) Push(ctx context.Context, change Change) ([]Change, error) {
	switch change.Kind {
	case Add:
		if s.keep(change.Node) {
			return []Change{change}, nil
		}
		return nil, nil
	case Remove:
		if s.keep(change.Node) {
			return []Change{change}, nil
		}
		return nil, nil
	case Edit:
		oldKept, newKept := s.keep(change.OldNode), s.keep(change.NewNode)
		switch {
		case oldKept && newKept:
			return []Change{change}, nil
		case oldKept && !newKept:
			c := change
			c.Kind, c.Node = Remove, change.OldNode
			return []Change{c}, nil
		case !oldKept && newKept:
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
