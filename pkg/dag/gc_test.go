package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// TestGCCollectsUnreferencedChunk checks that after any commit, a
// zero-refcount chunk pointed to by no head is absent.
func TestGCCollectsUnreferencedChunk(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	leaf := NewChunk([]byte("leaf-v1"), nil)
	root1 := NewChunk([]byte("root-v1"), []hash.Hash{leaf.Hash})

	wtx, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx.PutChunk(leaf))
	require.NoError(t, wtx.PutChunk(root1))
	require.NoError(t, wtx.SetHead("main", root1.Hash))
	require.NoError(t, wtx.Commit())

	// Replace main with a root that no longer references leaf.
	root2 := NewChunk([]byte("root-v2"), nil)
	wtx2, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx2.PutChunk(root2))
	require.NoError(t, wtx2.SetHead("main", root2.Hash))
	require.NoError(t, wtx2.Commit())

	rtx, err := s.NewReadTx(ctx)
	require.NoError(t, err)
	defer rtx.Discard()

	_, ok, err := rtx.GetChunk(root1.Hash)
	require.NoError(t, err)
	assert.False(t, ok, "old root must be collected once no head points at it")

	_, ok, err = rtx.GetChunk(leaf.Hash)
	require.NoError(t, err)
	assert.False(t, ok, "leaf must cascade-collect once its only referrer is gone")

	_, ok, err = rtx.GetChunk(root2.Hash)
	require.NoError(t, err)
	assert.True(t, ok, "every chunk referenced from a head is present")
}

// TestGCKeepsSharedSubtree covers the case where two roots share a leaf:
// replacing one root must not collect a leaf still reachable from the
// other live root.
func TestGCKeepsSharedSubtree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	shared := NewChunk([]byte("shared-leaf"), nil)
	rootA := NewChunk([]byte("root-a"), []hash.Hash{shared.Hash})
	rootB := NewChunk([]byte("root-b"), []hash.Hash{shared.Hash})

	wtx, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx.PutChunk(shared))
	require.NoError(t, wtx.PutChunk(rootA))
	require.NoError(t, wtx.PutChunk(rootB))
	require.NoError(t, wtx.SetHead("a", rootA.Hash))
	require.NoError(t, wtx.SetHead("b", rootB.Hash))
	require.NoError(t, wtx.Commit())

	wtx2, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx2.RemoveHead("a"))
	require.NoError(t, wtx2.Commit())

	rtx, err := s.NewReadTx(ctx)
	require.NoError(t, err)
	defer rtx.Discard()

	_, ok, err := rtx.GetChunk(rootA.Hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = rtx.GetChunk(shared.Hash)
	require.NoError(t, err)
	assert.True(t, ok, "leaf still reachable from head b must survive")
}

// TestGCRetargetSameSubtree guards against the premature-collection hazard
// the Commit comment documents: retargeting a head to a hash that shares a
// subtree with its own previous target must not collect that subtree.
func TestGCRetargetSameSubtree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	leaf := NewChunk([]byte("shared"), nil)
	root1 := NewChunk([]byte("root1"), []hash.Hash{leaf.Hash})
	root2 := NewChunk([]byte("root2"), []hash.Hash{leaf.Hash})

	wtx, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx.PutChunk(leaf))
	require.NoError(t, wtx.PutChunk(root1))
	require.NoError(t, wtx.SetHead("main", root1.Hash))
	require.NoError(t, wtx.Commit())

	wtx2, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx2.PutChunk(root2))
	require.NoError(t, wtx2.SetHead("main", root2.Hash))
	require.NoError(t, wtx2.Commit())

	rtx, err := s.NewReadTx(ctx)
	require.NoError(t, err)
	defer rtx.Discard()
	_, ok, err := rtx.GetChunk(leaf.Hash)
	require.NoError(t, err)
	assert.True(t, ok)
}
