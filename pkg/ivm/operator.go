package ivm

import "context"

// Constraint narrows a Fetch to rows whose string value at Column (a JSON
// Pointer) equals Value; Source is the operator that applies it.
type Constraint struct {
	Column string
	Value  []byte
}

// FetchRequest parameterizes a Fetch call.
type FetchRequest struct {
	Constraint *Constraint
	Start      *Node
	Reverse    bool
}

// Operator is a node in an IVM pipeline. It exposes an Output side to its
// downstream (Fetch, GetSchema) and an Input side from its upstream (Push).
type Operator interface {
	// Fetch returns the operator's rows honoring req, in the operator's
	// own sort order.
	Fetch(ctx context.Context, req FetchRequest) ([]Node, error)
	// Push accepts an upstream change, updates internal state, and
	// returns the changes to forward downstream.
	Push(ctx context.Context, change Change) ([]Change, error)
	GetSchema() Schema
	Destroy()
}

// baseOperator carries the plumbing every concrete operator embeds:
// upstream wiring and an exclusive Storage handle.
type baseOperator struct {
	upstream []Operator
	storage  Storage
}

func newBaseOperator(upstream ...Operator) baseOperator {
	return baseOperator{upstream: upstream, storage: newMemStorage()}
}

// BuildChildOperators builds each upstream from its own description the
// caller supplies, short-circuiting on the first error.
func BuildChildOperators[T any](descs []T, build func(T) (Operator, error)) ([]Operator, error) {
	out := make([]Operator, 0, len(descs))
	for _, d := range descs {
		op, err := build(d)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

// destroyUpstream recursively destroys this operator's upstreams, except
// Sources: Sources are shared across every pipeline compiled for the same
// table, so only the Store that owns the Source registry may destroy one.
func (b *baseOperator) destroyUpstream() {
	for _, u := range b.upstream {
		if _, isSource := u.(*Source); isSource {
			continue
		}
		u.Destroy()
	}
}
