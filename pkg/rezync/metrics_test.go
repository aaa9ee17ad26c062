package rezync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/rezync/pkg/btree"
	"github.com/kasuganosora/rezync/pkg/query"
)

func TestMetricsTracksMutationsAndSubscriptionRuns(t *testing.T) {
	store := newTestStore(t)

	mustMutate(t, store, "putTodo", todoRow{ID: "1", Text: "a"})
	mustMutate(t, store, "putTodo", todoRow{ID: "2", Text: "b"})

	m := store.Metrics()
	require.EqualValues(t, 2, m.MutationsApplied())
	require.EqualValues(t, 0, m.MutationsRejected())
	require.EqualValues(t, 2, m.TableTouchCount("todos"))
	require.Zero(t, m.TableTouchCount("other"))

	_, cancel, err := store.Subscribe(func(tx *query.Tx) (any, error) {
		cursor, err := tx.Scan(btree.ScanOptions{Prefix: []byte("e/todos/")})
		if err != nil {
			return nil, err
		}
		n := 0
		for cursor.Next() {
			n++
		}
		return n, nil
	}, query.SubscribeOptions{OnData: func(any) {}})
	require.NoError(t, err)
	t.Cleanup(cancel)

	before := m.SubscriptionRuns()
	mustMutate(t, store, "putTodo", todoRow{ID: "3", Text: "c"})
	require.Greater(t, m.SubscriptionRuns(), before)
}

func TestMetricsRecordsRejectedMutation(t *testing.T) {
	store := newTestStore(t)

	ctx := context.Background()
	_, _, _, err := store.Mutate(ctx, "noSuchMutator", nil)
	require.Error(t, err)

	m := store.Metrics()
	require.EqualValues(t, 0, m.MutationsApplied())
	require.EqualValues(t, 1, m.MutationsRejected())
}
