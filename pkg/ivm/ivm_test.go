package ivm_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/rezync/pkg/ivm"
)

func row(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func keyFromID(n ivm.Node) string {
	id, _ := ivm.ExtractString(n.Row, "/id")
	return id
}

func TestSourceFetchAndPush(t *testing.T) {
	src := ivm.NewSource("todos", "/id", nil)
	ctx := context.Background()

	_, err := src.Push(ctx, ivm.NewAdd(ivm.Node{Row: row(t, map[string]any{"id": "a", "done": false})}))
	require.NoError(t, err)

	rows, err := src.Fetch(ctx, ivm.FetchRequest{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", keyFromID(rows[0]))
}

func TestFilterForwardsAddRemoveEdit(t *testing.T) {
	src := ivm.NewSource("todos", "/id", nil)
	f := ivm.NewFilter(src, func(n ivm.Node) bool {
		done, _ := ivm.ExtractPointer(n.Row, "/done")
		return string(done) == "true"
	})

	ctx := context.Background()
	notDone := ivm.Node{Row: row(t, map[string]any{"id": "a", "done": false})}
	out, err := f.Push(ctx, ivm.NewAdd(notDone))
	require.NoError(t, err)
	assert.Empty(t, out, "filter must drop an Add that fails the predicate")

	done := ivm.Node{Row: row(t, map[string]any{"id": "b", "done": true})}
	out, err = f.Push(ctx, ivm.NewAdd(done))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ivm.Add, out[0].Kind)

	edited := ivm.Node{Row: row(t, map[string]any{"id": "b", "done": false})}
	out, err = f.Push(ctx, ivm.NewEdit(done, edited))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ivm.Remove, out[0].Kind, "an edit that stops matching must forward as Remove")
}

func TestPipelineEndToEndFilterIntoView(t *testing.T) {
	src := ivm.NewSource("todos", "/id", nil)
	f := ivm.NewFilter(src, func(n ivm.Node) bool {
		done, _ := ivm.ExtractPointer(n.Row, "/done")
		return string(done) == "true"
	})
	view := ivm.NewView(f, keyFromID)

	p := ivm.NewPipeline(view)
	p.Connect(src, f)
	p.Connect(f, view)

	ctx := context.Background()
	initial, err := p.Attach(ctx)
	require.NoError(t, err)
	assert.Empty(t, initial)

	out, err := p.Push(ctx, src, ivm.NewAdd(ivm.Node{Row: row(t, map[string]any{"id": "a", "done": true})}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ivm.Add, out[0].Kind)
	assert.Len(t, view.Rows(), 1)

	out, err = p.Push(ctx, src, ivm.NewAdd(ivm.Node{Row: row(t, map[string]any{"id": "b", "done": false})}))
	require.NoError(t, err)
	assert.Empty(t, out, "a row failing the filter must produce no change at the view")
	assert.Len(t, view.Rows(), 1)
}

func cmpByID(a, b ivm.Node) int {
	ka, kb := keyFromID(a), keyFromID(b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	default:
		return 0
	}
}

func TestSkipTakeWindowDisplacement(t *testing.T) {
	src := ivm.NewSource("todos", "/id", nil)
	st := ivm.NewSkipTake(src, 0, 2, cmpByID, keyFromID)
	ctx := context.Background()

	for _, id := range []string{"a", "c"} {
		_, err := src.Push(ctx, ivm.NewAdd(ivm.Node{Row: row(t, map[string]any{"id": id})}))
		require.NoError(t, err)
	}
	win, err := st.Fetch(ctx, ivm.FetchRequest{})
	require.NoError(t, err)
	require.Len(t, win, 2)

	_, err = src.Push(ctx, ivm.NewAdd(ivm.Node{Row: row(t, map[string]any{"id": "b"})}))
	require.NoError(t, err)
	out, err := st.Push(ctx, ivm.NewAdd(ivm.Node{Row: row(t, map[string]any{"id": "b"})}))
	require.NoError(t, err)

	var added, removed []string
	for _, c := range out {
		if c.Kind == ivm.Add {
			added = append(added, keyFromID(c.Node))
		}
		if c.Kind == ivm.Remove {
			removed = append(removed, keyFromID(c.Node))
		}
	}
	assert.Equal(t, []string{"b"}, added, "inserting before the window boundary must add the new row")
	assert.Equal(t, []string{"c"}, removed, "inserting before the window boundary must displace the row pushed past the limit")
}

func TestJoinPropagatesChildChanges(t *testing.T) {
	lists := ivm.NewSource("lists", "/id", nil)
	items := ivm.NewSource("items", "/id", nil)
	join := ivm.NewJoin(lists, items, "items", "/id", "/listId", keyFromID, keyFromID)
	view := ivm.NewView(join, keyFromID)

	p := ivm.NewPipeline(view)
	p.Connect(lists, join)
	p.Connect(items, join)
	p.Connect(join, view)

	ctx := context.Background()
	_, err := p.Attach(ctx)
	require.NoError(t, err)

	_, err = p.Push(ctx, lists, ivm.NewAdd(ivm.Node{Row: row(t, map[string]any{"id": "l1"})}))
	require.NoError(t, err)
	require.Len(t, view.Rows(), 1)

	_, err = p.Push(ctx, items, ivm.NewAdd(ivm.Node{Row: row(t, map[string]any{"id": "i1", "listId": "l1"})}))
	require.NoError(t, err)

	parent := view.Rows()[0]
	children, err := parent.Relationships["items"]()
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "i1", keyFromID(children[0]))

	_, err = p.Push(ctx, items, ivm.NewRemove(ivm.Node{Row: row(t, map[string]any{"id": "i1", "listId": "l1"})}))
	require.NoError(t, err)
	parent = view.Rows()[0]
	children, err = parent.Relationships["items"]()
	require.NoError(t, err)
	assert.Empty(t, children)
}
