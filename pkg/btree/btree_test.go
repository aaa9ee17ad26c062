package btree_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/rezync/pkg/btree"
	"github.com/kasuganosora/rezync/pkg/dag"
	"github.com/kasuganosora/rezync/pkg/hash"
)

func openStore(t *testing.T) *dag.Store {
	t.Helper()
	cfg := dag.DefaultConfig("")
	cfg.InMemory = true
	cfg.GCInterval = 0
	s, err := dag.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openStore(t)
	wtx, err := s.NewWriteTx(context.Background())
	require.NoError(t, err)

	cfg := btree.DefaultConfig()
	root := hash.Hash{}
	root, err = btree.Put(wtx, cfg, root, []byte("a/1"), []byte(`{"n":1}`))
	require.NoError(t, err)

	v, ok, err := btree.Get(wtx, root, []byte("a/1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(v))
}

func TestPutIdempotentSameValueSameHash(t *testing.T) {
	s := openStore(t)
	wtx, err := s.NewWriteTx(context.Background())
	require.NoError(t, err)

	cfg := btree.DefaultConfig()
	root1, err := btree.Put(wtx, cfg, hash.Hash{}, []byte("k"), []byte(`"v"`))
	require.NoError(t, err)
	root2, err := btree.Put(wtx, cfg, root1, []byte("k"), []byte(`"v"`))
	require.NoError(t, err)
	assert.Equal(t, root1, root2, "reputting an equal value must reproduce the same root hash")
}

func TestDeleteMissingKeyIsNoOp(t *testing.T) {
	s := openStore(t)
	wtx, err := s.NewWriteTx(context.Background())
	require.NoError(t, err)

	cfg := btree.DefaultConfig()
	root, err := btree.Put(wtx, cfg, hash.Hash{}, []byte("k"), []byte(`1`))
	require.NoError(t, err)

	root2, err := btree.Delete(wtx, cfg, root, []byte("missing"))
	require.NoError(t, err)
	assert.Equal(t, root, root2)
}

func TestOldRootRemainsValidAfterMutation(t *testing.T) {
	s := openStore(t)
	wtx, err := s.NewWriteTx(context.Background())
	require.NoError(t, err)

	cfg := btree.DefaultConfig()
	root1, err := btree.Put(wtx, cfg, hash.Hash{}, []byte("k"), []byte(`1`))
	require.NoError(t, err)
	root2, err := btree.Put(wtx, cfg, root1, []byte("k2"), []byte(`2`))
	require.NoError(t, err)

	_, ok, err := btree.Get(wtx, root1, []byte("k2"))
	require.NoError(t, err)
	assert.False(t, ok, "the old root must not see a write performed against a newer root")

	v, ok, err := btree.Get(wtx, root2, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`1`), []byte(v))
}

func TestSplitsAndMergesAcrossManyKeys(t *testing.T) {
	s := openStore(t)
	wtx, err := s.NewWriteTx(context.Background())
	require.NoError(t, err)

	cfg := &btree.Config{Order: 4}
	root := hash.Hash{}
	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("e/%04d", i))
		val := []byte(fmt.Sprintf(`%d`, i))
		root, err = btree.Put(wtx, cfg, root, key, val)
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("e/%04d", i))
		v, ok, err := btree.Get(wtx, root, key)
		require.NoError(t, err)
		require.True(t, ok, "key %s must be present after many splits", key)
		assert.Equal(t, fmt.Sprintf(`%d`, i), string(v))
	}

	for i := 0; i < n; i += 2 {
		key := []byte(fmt.Sprintf("e/%04d", i))
		root, err = btree.Delete(wtx, cfg, root, key)
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("e/%04d", i))
		_, ok, err := btree.Get(wtx, root, key)
		require.NoError(t, err)
		if i%2 == 0 {
			assert.False(t, ok, "deleted key %s must be gone", key)
		} else {
			assert.True(t, ok, "surviving key %s must remain after merges/redistributes", key)
		}
	}
}

func TestScanPrefix(t *testing.T) {
	s := openStore(t)
	wtx, err := s.NewWriteTx(context.Background())
	require.NoError(t, err)

	cfg := &btree.Config{Order: 4}
	root := hash.Hash{}
	keys := []string{"a/1", "a/2", "a0", "b/1"}
	for _, k := range keys {
		root, err = btree.Put(wtx, cfg, root, []byte(k), []byte(`1`))
		require.NoError(t, err)
	}

	cur, err := btree.Scan(wtx, root, btree.ScanOptions{Prefix: []byte("a/")})
	require.NoError(t, err)

	var got []string
	for cur.Next() {
		got = append(got, string(cur.Key()))
	}
	assert.Equal(t, []string{"a/1", "a/2"}, got, "scan must be a contiguous range >= prefix and < its successor")
}

func TestScanReverseAndLimit(t *testing.T) {
	s := openStore(t)
	wtx, err := s.NewWriteTx(context.Background())
	require.NoError(t, err)

	cfg := &btree.Config{Order: 4}
	root := hash.Hash{}
	for i := 0; i < 10; i++ {
		root, err = btree.Put(wtx, cfg, root, []byte(fmt.Sprintf("k%02d", i)), []byte(`1`))
		require.NoError(t, err)
	}

	cur, err := btree.Scan(wtx, root, btree.ScanOptions{Reverse: true, Limit: 3})
	require.NoError(t, err)
	var got []string
	for cur.Next() {
		got = append(got, string(cur.Key()))
	}
	assert.Equal(t, []string{"k09", "k08", "k07"}, got)
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, btree.IsEmpty(hash.Hash{}))

	s := openStore(t)
	wtx, err := s.NewWriteTx(context.Background())
	require.NoError(t, err)
	cfg := btree.DefaultConfig()
	root, err := btree.Put(wtx, cfg, hash.Hash{}, []byte("k"), []byte(`1`))
	require.NoError(t, err)
	assert.False(t, btree.IsEmpty(root))

	root, err = btree.Delete(wtx, cfg, root, []byte("k"))
	require.NoError(t, err)
	assert.True(t, btree.IsEmpty(root))
}
