package dag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/rezync/pkg/hash"
)

func putCommit(t *testing.T, wtx *WriteTx, data CommitData) hash.Hash {
	t.Helper()
	encoded, err := data.Encode()
	require.NoError(t, err)
	c := NewChunk(encoded, data.Refs())
	require.NoError(t, wtx.PutChunk(c))
	return c.Hash
}

func TestPendingCommitsAndBaseSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	value := NewChunk([]byte(`{}`), nil)
	ts := time.UnixMilli(1000)

	wtx, err := s.NewWriteTx(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx.PutChunk(value))

	snapshotData := NewSnapshotCommit(hash.Hash{}, value.Hash, map[string]uint64{"c1": 0}, []byte(`1`), nil)
	snapshotHash := putCommit(t, wtx, snapshotData)

	local1Data := NewLocalCommit(snapshotHash, snapshotHash, 1, "addTodo", []byte(`{}`), value.Hash, "c1", ts, nil)
	local1Hash := putCommit(t, wtx, local1Data)

	local2Data := NewLocalCommit(local1Hash, snapshotHash, 2, "addTodo", []byte(`{}`), value.Hash, "c1", ts, nil)
	local2Hash := putCommit(t, wtx, local2Data)

	require.NoError(t, wtx.SetHead("main", local2Hash))
	require.NoError(t, wtx.Commit())

	rtx, err := s.NewReadTx(ctx)
	require.NoError(t, err)
	defer rtx.Discard()

	base, err := BaseSnapshot(rtx, local2Hash)
	require.NoError(t, err)
	assert.Equal(t, snapshotHash, base.Hash)
	assert.True(t, base.Data.Meta.IsSnapshot())

	pending, err := PendingCommits(rtx, local2Hash)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, local1Hash, pending[0].Hash)
	assert.Equal(t, local2Hash, pending[1].Hash)
	assert.Equal(t, uint64(1), pending[0].Data.Meta.Local.MutationID)
	assert.Equal(t, uint64(2), pending[1].Data.Meta.Local.MutationID)
	assert.Equal(t, ts.UnixMilli(), pending[0].Data.Meta.Local.Timestamp, "timestamp must round-trip immutably")
}
