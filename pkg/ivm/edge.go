package ivm

import "context"

// EdgeOperator is a pass-through wrapper permitting instrumentation or
// schema reshaping without state. Reshape defaults to identity; Instrument,
// if set, is called for every change that passes through (e.g. for
// metrics/logging hooks) without altering it.
type EdgeOperator struct {
	baseOperator
	reshape    func(Schema) Schema
	instrument func(Change)
}

func NewEdge(upstream Operator, reshape func(Schema) Schema, instrument func(Change)) *EdgeOperator {
	return &EdgeOperator{baseOperator: newBaseOperator(upstream), reshape: reshape, instrument: instrument}
}

func (e *EdgeOperator) GetSchema() Schema {
	s := e.upstream[0].GetSchema()
	if e.reshape != nil {
		return e.reshape(s)
	}
	return s
}

func (e *EdgeOperator) Destroy() { e.destroyUpstream() }

func (e *EdgeOperator) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	return e.upstream[0].Fetch(ctx, req)
}

func (e *EdgeOperator) Push(ctx context.Context, change Change) ([]Change, error) {
	if e.instrument != nil {
		e.instrument(change)
	}
	return []Change{change}, nil
}
