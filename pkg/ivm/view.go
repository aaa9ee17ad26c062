package ivm

import "context"

// ViewOperator is the pipeline's sink: it materializes the upstream's node
// sequence into an ordered slice and diffs incoming changes against that
// image to produce change batches a caller can observe.
type ViewOperator struct {
	baseOperator
	keyFn    KeyFunc
	rows     []Node
	listener func([]Change)
}

func NewView(upstream Operator, keyFn KeyFunc) *ViewOperator {
	return &ViewOperator{baseOperator: newBaseOperator(upstream), keyFn: keyFn}
}

func (v *ViewOperator) GetSchema() Schema { return v.upstream[0].GetSchema() }
func (v *ViewOperator) Destroy()          { v.destroyUpstream(); v.rows = nil }

// OnChange installs the callback invoked with every change batch produced
// by Push.
func (v *ViewOperator) OnChange(cb func([]Change)) { v.listener = cb }

// Rows returns the current materialized image.
func (v *ViewOperator) Rows() []Node { return append([]Node(nil), v.rows...) }

// Attach performs the initial fetch and seeds the materialized image,
// returning the initial Add batch.
func (v *ViewOperator) Attach(ctx context.Context) ([]Change, error) {
	rows, err := v.upstream[0].Fetch(ctx, FetchRequest{})
	if err != nil {
		return nil, err
	}
	v.rows = rows
	changes := make([]Change, len(rows))
	for i, r := range rows {
		changes[i] = NewAdd(r)
	}
	return changes, nil
}

func (v *ViewOperator) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	return v.upstream[0].Fetch(ctx, req)
}

func (v *ViewOperator) Push(ctx context.Context, change Change) ([]Change, error) {
	var out []Change
	switch change.Kind {
	case Add:
		v.rows = append(v.rows, change.Node)
		out = []Change{change}
	case Remove:
		v.rows = removeByKey(v.rows, v.keyFn(change.Node), v.keyFn)
		out = []Change{change}
	case Edit:
		v.rows = replaceByKey(v.rows, v.keyFn(change.OldNode), change.NewNode, v.keyFn)
		out = []Change{change}
	case Child:
		v.applyChild(change)
		out = []Change{change}
	}
	if v.listener != nil && len(out) > 0 {
		v.listener(out)
	}
	return out, nil
}

// applyChild updates the materialized parent row's cached relationship
// snapshot so Rows() reflects nested child changes too.
func (v *ViewOperator) applyChild(change Change) {
	parentKey := v.keyFn(change.ParentRow)
	for i, r := range v.rows {
		if v.keyFn(r) != parentKey {
			continue
		}
		existing, _ := r.Relationships[change.RelAlias]
		var children []Node
		if existing != nil {
			children, _ = existing()
		}
		switch change.Inner.Kind {
		case Add:
			children = append(children, change.Inner.Node)
		case Remove:
			children = removeByKey(children, v.keyFn(change.Inner.Node), v.keyFn)
		case Edit:
			children = replaceByKey(children, v.keyFn(change.Inner.OldNode), change.Inner.NewNode, v.keyFn)
		}
		snap := children
		rels := map[string]LazyStream{}
		for k, fn := range r.Relationships {
			rels[k] = fn
		}
		rels[change.RelAlias] = func() ([]Node, error) { return snap, nil }
		v.rows[i] = Node{Row: r.Row, Relationships: rels}
		return
	}
}
