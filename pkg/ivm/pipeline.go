package ivm

import "context"

// Pipeline is a DAG of operators rooted at Sources and terminating at a
// View. It owns the downstream wiring a single Operator.Push cannot express
// by itself (an operator only knows how to translate one incoming change
// into zero or more outgoing ones; something has to carry those outgoing
// changes to whichever operators consume them).
type Pipeline struct {
	downstream map[Operator][]Operator
	View       *ViewOperator
}

// NewPipeline creates an empty pipeline terminating at view.
func NewPipeline(view *ViewOperator) *Pipeline {
	return &Pipeline{downstream: make(map[Operator][]Operator), View: view}
}

// Connect registers down as a consumer of up's output changes. A Join has
// two upstream producers (its parent branch and its child branch) and so
// is connected from both.
func (p *Pipeline) Connect(up, down Operator) {
	p.downstream[up] = append(p.downstream[up], down)
}

// Attach performs the pipeline's initial materialization.
func (p *Pipeline) Attach(ctx context.Context) ([]Change, error) {
	return p.View.Attach(ctx)
}

// Push feeds a single base-table change into source and propagates it
// through every reachable downstream operator down to the View, returning
// the batch of changes the View ultimately observed.
func (p *Pipeline) Push(ctx context.Context, source *Source, change Change) ([]Change, error) {
	produced, err := source.Push(ctx, change)
	if err != nil {
		return nil, err
	}
	var out []Change
	for _, c := range produced {
		leaves, err := p.propagate(ctx, source, c)
		if err != nil {
			return nil, err
		}
		out = append(out, leaves...)
	}
	return out, nil
}

// PropagateFromSource carries an already-applied source-level change
// through this pipeline's downstream graph, without calling source.Push
// again. Use this (rather than Push) when the same Source is shared across
// several pipelines and some other caller already applied the change to
// the source's canonical row set; calling Push a second time for the same
// change would double-apply it.
func (p *Pipeline) PropagateFromSource(ctx context.Context, source *Source, change Change) ([]Change, error) {
	return p.propagate(ctx, source, change)
}

func (p *Pipeline) propagate(ctx context.Context, from Operator, change Change) ([]Change, error) {
	downs := p.downstream[from]
	if len(downs) == 0 {
		return []Change{change}, nil
	}
	var out []Change
	for _, d := range downs {
		produced, err := d.Push(ctx, change)
		if err != nil {
			return nil, err
		}
		for _, c := range produced {
			leaves, err := p.propagate(ctx, d, c)
			if err != nil {
				return nil, err
			}
			out = append(out, leaves...)
		}
	}
	return out, nil
}

// Destroy tears down the View and, through it, every non-Source operator
// upstream of it.
func (p *Pipeline) Destroy() {
	p.View.Destroy()
}
