package query_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/rezync/pkg/ivm"
	"github.com/kasuganosora/rezync/pkg/query"
)

func mustRow(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func idKeyFn(n ivm.Node) string {
	id, _ := ivm.ExtractString(n.Row, "/id")
	return id
}

func TestCompileScanExposesSourceRows(t *testing.T) {
	src := ivm.NewSource("todos", "/id", nil)
	sources := map[string]*ivm.Source{"todos": src}
	ctx := context.Background()

	_, err := src.Push(ctx, ivm.NewAdd(ivm.Node{Row: mustRow(t, map[string]any{"id": "1", "done": false})}))
	require.NoError(t, err)

	mat, err := query.Materialize(ctx, query.Scan("todos"), sources, idKeyFn, nil)
	require.NoError(t, err)
	defer mat.Destroy()

	rows := mat.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "1", idKeyFn(rows[0]))
}

func TestCompileFilterDropsNonMatchingRows(t *testing.T) {
	src := ivm.NewSource("todos", "/id", nil)
	sources := map[string]*ivm.Source{"todos": src}
	ctx := context.Background()

	ast := query.Filter(query.Scan("todos"), func(n ivm.Node) bool {
		done, _ := ivm.ExtractPointer(n.Row, "/done")
		return string(done) == "true"
	})
	mat, err := query.Materialize(ctx, ast, sources, idKeyFn, nil)
	require.NoError(t, err)
	defer mat.Destroy()

	require.Empty(t, mat.Rows())

	done := ivm.Node{Row: mustRow(t, map[string]any{"id": "1", "done": true})}
	require.NoError(t, mat.Push(ctx, src, ivm.NewAdd(done)))
	require.Len(t, mat.Rows(), 1)

	notDone := ivm.Node{Row: mustRow(t, map[string]any{"id": "2", "done": false})}
	require.NoError(t, mat.Push(ctx, src, ivm.NewAdd(notDone)))
	assert.Len(t, mat.Rows(), 1, "the non-matching row must not appear in the filtered materialization")
}

func TestCompileUnknownTableErrors(t *testing.T) {
	sources := map[string]*ivm.Source{}
	_, err := query.Compile(query.Scan("missing"), sources, idKeyFn, nil)
	require.Error(t, err)
}

func TestCompileJoinEmitsParentWithChildRelationship(t *testing.T) {
	lists := ivm.NewSource("lists", "/id", nil)
	todos := ivm.NewSource("todos", "/id", nil)
	sources := map[string]*ivm.Source{"lists": lists, "todos": todos}
	ctx := context.Background()

	_, err := lists.Push(ctx, ivm.NewAdd(ivm.Node{Row: mustRow(t, map[string]any{"id": "l1"})}))
	require.NoError(t, err)
	_, err = todos.Push(ctx, ivm.NewAdd(ivm.Node{Row: mustRow(t, map[string]any{"id": "t1", "listId": "l1"})}))
	require.NoError(t, err)

	ast := query.Join(query.Scan("lists"), query.Scan("todos"), "items", "/id", "/listId")
	mat, err := query.Materialize(ctx, ast, sources, idKeyFn, nil)
	require.NoError(t, err)
	defer mat.Destroy()

	rows := mat.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "l1", idKeyFn(rows[0]))
	_, hasChildren := rows[0].Relationships["items"]
	assert.True(t, hasChildren, "parent row must carry its matching children under the join alias")
}

func TestASTTablesUsedToRegisterPipeline(t *testing.T) {
	ast := query.Join(query.Scan("lists"), query.Scan("todos"), "items", "/id", "/listId")
	assert.ElementsMatch(t, []string{"lists", "todos"}, ast.Tables())
}
