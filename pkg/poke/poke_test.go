package poke

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblerHappyPath(t *testing.T) {
	a := NewAssembler()

	_, done, err := a.Feed(Start("poke-1", json.RawMessage(`"c0"`), nil))
	require.NoError(t, err)
	assert.False(t, done)

	_, done, err = a.Feed(Part("poke-1", map[string]uint64{"client-a": 3}, []RowPatchOp{
		{Op: "put", TableName: "todos", Value: json.RawMessage(`{"id":"1"}`)},
	}, nil))
	require.NoError(t, err)
	assert.False(t, done)

	patch, done, err := a.Feed(End("poke-1", json.RawMessage(`"c1"`)))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, json.RawMessage(`"c0"`), patch.BaseCookie)
	assert.Equal(t, json.RawMessage(`"c1"`), patch.Cookie)
	assert.Equal(t, uint64(3), patch.LastMutationIDChanges["client-a"])
	require.Len(t, patch.RowsPatch, 1)
	assert.Equal(t, "todos", patch.RowsPatch[0].TableName)
}

func TestAssemblerMultiplePartsAccumulate(t *testing.T) {
	a := NewAssembler()
	_, _, err := a.Feed(Start("p", nil, nil))
	require.NoError(t, err)
	_, _, err = a.Feed(Part("p", nil, []RowPatchOp{{Op: "put", TableName: "t", Value: json.RawMessage(`{}`)}}, nil))
	require.NoError(t, err)
	_, _, err = a.Feed(Part("p", nil, []RowPatchOp{{Op: "del", TableName: "t", ID: "1"}}, nil))
	require.NoError(t, err)
	patch, done, err := a.Feed(End("p", nil))
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, patch.RowsPatch, 2)
}

func TestAssemblerPartWithoutStartErrors(t *testing.T) {
	a := NewAssembler()
	_, _, err := a.Feed(Part("stray", nil, nil, nil))
	assert.Error(t, err)
}

func TestAssemblerMismatchedPokeIDErrors(t *testing.T) {
	a := NewAssembler()
	_, _, err := a.Feed(Start("a", nil, nil))
	require.NoError(t, err)
	_, _, err = a.Feed(End("b", nil))
	assert.Error(t, err)
}
