package dag

import (
	"fmt"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// Commit is a decoded commit chunk: its hash, plus its CommitData.
type Commit struct {
	Hash hash.Hash
	Data CommitData
}

// basisOf returns the hash this commit's data points at as its
// predecessor on the chain (empty for the root snapshot).
func (c Commit) basisOf() hash.Hash {
	if c.Data.Meta.IsSnapshot() {
		return c.Data.Meta.Snapshot.BasisHash
	}
	return c.Data.Meta.Local.BasisHash
}

// GetCommit decodes the commit chunk at h.
func GetCommit(tx *ReadTx, h hash.Hash) (Commit, error) {
	chunk, err := tx.MustGetChunk(h)
	if err != nil {
		return Commit{}, err
	}
	data, err := DecodeCommitData(chunk.Data)
	if err != nil {
		return Commit{}, fmt.Errorf("dag: commit %s: %w", h, err)
	}
	return Commit{Hash: h, Data: data}, nil
}

// BaseSnapshot walks basisHash pointers from h, following Local commits,
// until it reaches a Snapshot commit: the base snapshot of any commit
// equals the snapshot reachable by following basisHash past all local
// commits.
func BaseSnapshot(tx *ReadTx, h hash.Hash) (Commit, error) {
	commit, err := GetCommit(tx, h)
	if err != nil {
		return Commit{}, err
	}
	for commit.Data.Meta.IsLocal() {
		commit, err = GetCommit(tx, commit.Data.Meta.Local.BaseSnapshotHash)
		if err != nil {
			return Commit{}, err
		}
	}
	return commit, nil
}

// PendingCommits returns every Local commit between the chain's base
// snapshot and h (inclusive of h), ordered oldest-first (the order they
// were originally applied, and the order they must be pushed/replayed in).
func PendingCommits(tx *ReadTx, h hash.Hash) ([]Commit, error) {
	var reversed []Commit
	cur := h
	for {
		commit, err := GetCommit(tx, cur)
		if err != nil {
			return nil, err
		}
		if commit.Data.Meta.IsSnapshot() {
			break
		}
		reversed = append(reversed, commit)
		cur = commit.Data.Meta.Local.BasisHash
	}
	out := make([]Commit, len(reversed))
	for i, c := range reversed {
		out[len(reversed)-1-i] = c
	}
	return out, nil
}
