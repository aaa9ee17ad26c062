package ivm

import "context"

// JoinOperator implements a one-to-many join: parent stream x child stream
// correlated by parentField = childField. Many-to-many junction-table
// joins are expressed as two chained Joins with the intermediate hidden
// (Schema.IsHidden).
type JoinOperator struct {
	baseOperator
	alias                   string
	parentTable, childTable string
	parentField, childField string
	parentKeyFn, childKeyFn KeyFunc

	parentsByKey      map[string]Node
	parentCorrelation map[string]string
	childrenByCorr    map[string][]Node
}

// NewJoin wires a parent operator and a child operator together. alias is
// the relationship name attached to each emitted parent's
// Node.Relationships.
func NewJoin(parent, child Operator, alias, parentField, childField string, parentKeyFn, childKeyFn KeyFunc) *JoinOperator {
	return &JoinOperator{
		baseOperator:      newBaseOperator(parent, child),
		alias:             alias,
		parentTable:       parent.GetSchema().TableName,
		childTable:        child.GetSchema().TableName,
		parentField:       parentField,
		childField:        childField,
		parentKeyFn:       parentKeyFn,
		childKeyFn:        childKeyFn,
		parentsByKey:      make(map[string]Node),
		parentCorrelation: make(map[string]string),
		childrenByCorr:    make(map[string][]Node),
	}
}

func (j *JoinOperator) GetSchema() Schema {
	s := j.upstream[0].GetSchema()
	s.Relationships = append(append([]string(nil), s.Relationships...), j.alias)
	return s
}

func (j *JoinOperator) Destroy() { j.destroyUpstream() }

func (j *JoinOperator) withChildren(parentRow Node) Node {
	corr, _ := ExtractString(parentRow.Row, j.parentField)
	children := append([]Node(nil), j.childrenByCorr[corr]...)
	rels := map[string]LazyStream{}
	for k, v := range parentRow.Relationships {
		rels[k] = v
	}
	rels[j.alias] = func() ([]Node, error) { return children, nil }
	return Node{Row: parentRow.Row, Relationships: rels}
}

func (j *JoinOperator) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	rows, err := j.upstream[0].Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]Node, len(rows))
	for i, r := range rows {
		out[i] = j.withChildren(r)
		key := j.parentKeyFn(out[i])
		corr, _ := ExtractString(r.Row, j.parentField)
		j.parentsByKey[key] = out[i]
		j.parentCorrelation[key] = corr
	}
	return out, nil
}

func (j *JoinOperator) Push(ctx context.Context, change Change) ([]Change, error) {
	if change.Origin == j.childTable {
		return j.pushChild(change)
	}
	return j.pushParent(change)
}

func (j *JoinOperator) pushParent(change Change) ([]Change, error) {
	switch change.Kind {
	case Add:
		joined := j.withChildren(change.Node)
		key := j.parentKeyFn(joined)
		corr, _ := ExtractString(change.Node.Row, j.parentField)
		j.parentsByKey[key] = joined
		j.parentCorrelation[key] = corr
		return []Change{{Kind: Add, Node: joined, Origin: j.parentTable}}, nil
	case Remove:
		key := j.parentKeyFn(change.Node)
		delete(j.parentsByKey, key)
		delete(j.parentCorrelation, key)
		return []Change{{Kind: Remove, Node: change.Node, Origin: j.parentTable}}, nil
	case Edit:
		oldKey := j.parentKeyFn(change.OldNode)
		delete(j.parentsByKey, oldKey)
		delete(j.parentCorrelation, oldKey)
		joined := j.withChildren(change.NewNode)
		newKey := j.parentKeyFn(joined)
		corr, _ := ExtractString(change.NewNode.Row, j.parentField)
		j.parentsByKey[newKey] = joined
		j.parentCorrelation[newKey] = corr
		return []Change{
			{Kind: Remove, Node: change.OldNode, Origin: j.parentTable},
			{Kind: Add, Node: joined, Origin: j.parentTable},
		}, nil
	default:
		return []Change{change}, nil
	}
}

func (j *JoinOperator) pushChild(change Change) ([]Change, error) {
	switch change.Kind {
	case Add:
		corr, _ := ExtractString(change.Node.Row, j.childField)
		j.childrenByCorr[corr] = append(j.childrenByCorr[corr], change.Node)
		return j.notifyParents(corr, NewAdd(change.Node)), nil
	case Remove:
		corr, _ := ExtractString(change.Node.Row, j.childField)
		j.childrenByCorr[corr] = removeByKey(j.childrenByCorr[corr], j.childKeyFn(change.Node), j.childKeyFn)
		return j.notifyParents(corr, NewRemove(change.Node)), nil
	case Edit:
		oldCorr, _ := ExtractString(change.OldNode.Row, j.childField)
		newCorr, _ := ExtractString(change.NewNode.Row, j.childField)
		if oldCorr == newCorr {
			j.childrenByCorr[oldCorr] = replaceByKey(j.childrenByCorr[oldCorr], j.childKeyFn(change.OldNode), change.NewNode, j.childKeyFn)
			return j.notifyParents(oldCorr, NewEdit(change.OldNode, change.NewNode)), nil
		}
		j.childrenByCorr[oldCorr] = removeByKey(j.childrenByCorr[oldCorr], j.childKeyFn(change.OldNode), j.childKeyFn)
		j.childrenByCorr[newCorr] = append(j.childrenByCorr[newCorr], change.NewNode)
		out := j.notifyParents(oldCorr, NewRemove(change.OldNode))
		out = append(out, j.notifyParents(newCorr, NewAdd(change.NewNode))...)
		return out, nil
	default:
		return nil, nil
	}
}

func (j *JoinOperator) notifyParents(corr string, inner Change) []Change {
	var out []Change
	for key, parentCorr := range j.parentCorrelation {
		if parentCorr != corr {
			continue
		}
		parent := j.parentsByKey[key]
		out = append(out, NewChild(parent, j.alias, inner))
	}
	return out
}

func replaceByKey(rows []Node, key string, replacement Node, keyFn KeyFunc) []Node {
	out := make([]Node, len(rows))
	copy(out, rows)
	for i, r := range out {
		if keyFn(r) == key {
			out[i] = replacement
			return out
		}
	}
	return append(out, replacement)
}
