package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/rezync/pkg/hash"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig("")
	cfg.InMemory = true
	cfg.GCInterval = 0
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGetChunk(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wtx, err := s.NewWriteTx(ctx)
	require.NoError(t, err)

	c := NewChunk([]byte("hello"), nil)
	require.NoError(t, wtx.PutChunk(c))
	require.NoError(t, wtx.SetHead("main", c.Hash))
	require.NoError(t, wtx.Commit())

	rtx, err := s.NewReadTx(ctx)
	require.NoError(t, err)
	defer rtx.Discard()

	got, ok, err := rtx.GetChunk(c.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c.Data, got.Data)

	head, ok, err := rtx.GetHead("main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c.Hash, head)
}

func TestGetMissingChunk(t *testing.T) {
	s := openTestStore(t)
	rtx, err := s.NewReadTx(context.Background())
	require.NoError(t, err)
	defer rtx.Discard()

	_, ok, err := rtx.GetChunk(hash.Of([]byte("nope"), nil))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = rtx.MustGetChunk(hash.Of([]byte("nope"), nil))
	assert.Error(t, err)
}

func TestPutChunkIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := NewChunk([]byte("x"), nil)

	wtx, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx.PutChunk(c))
	require.NoError(t, wtx.PutChunk(c))
	require.NoError(t, wtx.Commit())

	assert.Len(t, wtx.newTxnOrder, 1)
}

func TestRollbackHasNoVisibleEffect(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := NewChunk([]byte("abandoned"), nil)
	wtx, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx.PutChunk(c))
	wtx.Rollback()

	rtx, err := s.NewReadTx(ctx)
	require.NoError(t, err)
	defer rtx.Discard()
	_, ok, err := rtx.GetChunk(c.Hash)
	require.NoError(t, err)
	assert.False(t, ok, "rolled-back chunk must not be visible")
}

func TestWriteLockSerializesWriters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wtx, err := s.NewWriteTx(ctx)
	require.NoError(t, err)

	ctx2, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.NewWriteTx(ctx2)
	assert.ErrorIs(t, err, context.Canceled, "a second writer must block, not fail, until the lock is free")

	wtx.Rollback()

	wtx2, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	wtx2.Rollback()
}
