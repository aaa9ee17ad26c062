package query

import (
	"fmt"

	"github.com/kasuganosora/rezync/pkg/ivm"
)

// Compile walks ast bottom-up, building ivm operators and wiring them into
// a Pipeline terminating at a View. sources must already contain a Source
// for every table ast references, shared across every pipeline compiled
// for that table.
func Compile(ast *AST, sources map[string]*ivm.Source, keyFn ivm.KeyFunc, cmp ivm.CompareFunc) (*ivm.Pipeline, error) {
	pipeline := ivm.NewPipeline(nil)
	root, err := compileNode(ast, sources, pipeline, keyFn, cmp)
	if err != nil {
		return nil, err
	}
	view := ivm.NewView(root, keyFn)
	pipeline.View = view
	pipeline.Connect(root, view)
	return pipeline, nil
}

func compileNode(ast *AST, sources map[string]*ivm.Source, p *ivm.Pipeline, keyFn ivm.KeyFunc, cmp ivm.CompareFunc) (ivm.Operator, error) {
	switch ast.Kind {
	case KindScan:
		src, ok := sources[ast.Table]
		if !ok {
			return nil, fmt.Errorf("query: no source registered for table %q", ast.Table)
		}
		return src, nil

	case KindFilter:
		in, err := compileNode(ast.Input, sources, p, keyFn, cmp)
		if err != nil {
			return nil, err
		}
		op := ivm.NewFilter(in, ast.Predicate)
		p.Connect(in, op)
		return op, nil

	case KindJoin:
		parentOp, err := compileNode(ast.Parent, sources, p, keyFn, cmp)
		if err != nil {
			return nil, err
		}
		childOp, err := compileNode(ast.Child, sources, p, keyFn, cmp)
		if err != nil {
			return nil, err
		}
		op := ivm.NewJoin(parentOp, childOp, ast.Alias, ast.ParentField, ast.ChildField, keyFn, keyFn)
		p.Connect(parentOp, op)
		p.Connect(childOp, op)
		return op, nil

	case KindLimit:
		in, err := compileNode(ast.Input, sources, p, keyFn, cmp)
		if err != nil {
			return nil, err
		}
		op := ivm.NewSkipTake(in, ast.Offset, ast.Limit, cmp, keyFn)
		p.Connect(in, op)
		return op, nil

	case KindStart:
		in, err := compileNode(ast.Input, sources, p, keyFn, cmp)
		if err != nil {
			return nil, err
		}
		op := ivm.NewStart(in, ast.StartRow, cmp, ast.StartInclusive)
		p.Connect(in, op)
		return op, nil

	case KindOrderBy:
		// OrderBy compiles to a pass-through decorator: rows keep the
		// order the upstream yields (a Source yields them by primary
		// key), and SortOrder is not applied.
		in, err := compileNode(ast.Input, sources, p, keyFn, cmp)
		if err != nil {
			return nil, err
		}
		op := ivm.NewEdge(in, nil, nil)
		p.Connect(in, op)
		return op, nil

	case KindProject:
		in, err := compileNode(ast.Input, sources, p, keyFn, cmp)
		if err != nil {
			return nil, err
		}
		cols := ast.ProjectColumns
		op := ivm.NewEdge(in, func(s ivm.Schema) ivm.Schema {
			s.Columns = cols
			return s
		}, nil)
		p.Connect(in, op)
		return op, nil

	default:
		return nil, fmt.Errorf("query: unknown AST node kind %d", ast.Kind)
	}
}
