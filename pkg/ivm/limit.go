package ivm

import "context"

// SkipTakeOperator maintains a stable [offset, offset+limit) window over
// its upstream's sorted rows.
type SkipTakeOperator struct {
	baseOperator
	offset, limit int
	cmp           CompareFunc
	keyFn         KeyFunc
	all           []Node
	window        []Node
}

func NewSkipTake(upstream Operator, offset, limit int, cmp CompareFunc, keyFn KeyFunc) *SkipTakeOperator {
	return &SkipTakeOperator{baseOperator: newBaseOperator(upstream), offset: offset, limit: limit, cmp: cmp, keyFn: keyFn}
}

func (s *SkipTakeOperator) GetSchema() Schema { return s.upstream[0].GetSchema() }
func (s *SkipTakeOperator) Destroy()          { s.destroyUpstream(); s.all, s.window = nil, nil }

func (s *SkipTakeOperator) windowOf(all []Node) []Node {
	if s.offset >= len(all) {
		return nil
	}
	end := s.offset + s.limit
	if s.limit <= 0 || end > len(all) {
		end = len(all)
	}
	return append([]Node(nil), all[s.offset:end]...)
}

func (s *SkipTakeOperator) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	rows, err := s.upstream[0].Fetch(ctx, FetchRequest{Constraint: req.Constraint, Reverse: req.Reverse})
	if err != nil {
		return nil, err
	}
	s.all = rows
	s.window = s.windowOf(rows)
	return append([]Node(nil), s.window...), nil
}

func (s *SkipTakeOperator) Push(ctx context.Context, change Change) ([]Change, error) {
	oldWindow := append([]Node(nil), s.window...)
	switch change.Kind {
	case Add:
		s.all = insertSorted(s.all, change.Node, s.cmp)
	case Remove:
		s.all = removeByKey(s.all, s.keyFn(change.Node), s.keyFn)
	case Edit:
		s.all = removeByKey(s.all, s.keyFn(change.OldNode), s.keyFn)
		s.all = insertSorted(s.all, change.NewNode, s.cmp)
	default:
		return []Change{change}, nil
	}
	s.window = s.windowOf(s.all)
	return diffWindows(oldWindow, s.window, s.keyFn), nil
}
