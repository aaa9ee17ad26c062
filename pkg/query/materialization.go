package query

import (
	"context"

	"github.com/kasuganosora/rezync/pkg/ivm"
)

// Materialization is the IVM-backed counterpart to Subscribe: instead of
// re-running queryFn against a fresh Tx on every commit, it keeps a
// pipeline of operators alive and feeds each commit's row-level Changes
// through Push. Rows() always reflects the current result incrementally,
// without ever re-scanning the underlying B-tree.
type Materialization struct {
	pipeline  *ivm.Pipeline
	listeners []func([]ivm.Change)
}

// Materialize compiles ast into a pipeline and attaches its View, returning
// a Materialization whose Rows() is populated by the initial Fetch.
func Materialize(ctx context.Context, ast *AST, sources map[string]*ivm.Source, keyFn ivm.KeyFunc, cmp ivm.CompareFunc) (*Materialization, error) {
	pipeline, err := Compile(ast, sources, keyFn, cmp)
	if err != nil {
		return nil, err
	}
	if _, err := pipeline.Attach(ctx); err != nil {
		return nil, err
	}
	m := &Materialization{pipeline: pipeline}
	pipeline.View.OnChange(func(changes []ivm.Change) {
		for _, l := range m.listeners {
			l(changes)
		}
	})
	return m, nil
}

// Rows returns the materialization's current result set, as a copy of the
// View's image.
func (m *Materialization) Rows() []ivm.Node {
	return m.pipeline.View.Rows()
}

// AddListener registers fn to be called with every batch of row-level
// changes the materialization's view applies, in addition to whatever
// listener Materialize already installed to keep Rows() current.
func (m *Materialization) AddListener(fn func([]ivm.Change)) {
	m.listeners = append(m.listeners, fn)
}

// Push feeds one upstream Change — as produced by a Source mutation —
// through the materialization's pipeline, incrementally updating Rows()
// and firing any registered listeners. Only safe to call when this
// materialization is the sole consumer of source; if source is shared
// across several materializations (the usual case), apply the change to
// the source once yourself and fan it out with Propagate instead, or
// source.Push would double-apply it.
func (m *Materialization) Push(ctx context.Context, source *ivm.Source, change ivm.Change) error {
	_, err := m.pipeline.Push(ctx, source, change)
	return err
}

// Propagate carries a change already applied to a shared source through
// this materialization's own pipeline, without re-applying it to source.
// This is how one commit's row-level change reaches every materialization
// reading from that table, since the Source itself is mutated exactly
// once regardless of how many materializations read from it.
func (m *Materialization) Propagate(ctx context.Context, source *ivm.Source, change ivm.Change) error {
	_, err := m.pipeline.PropagateFromSource(ctx, source, change)
	return err
}

// Destroy tears the materialization's pipeline down. Shared Sources are
// left intact; see pkg/ivm's baseOperator.destroyUpstream.
func (m *Materialization) Destroy() {
	m.pipeline.Destroy()
}
