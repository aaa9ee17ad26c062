package dag

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// IndexDefinition describes one secondary index over the user-data B-tree.
type IndexDefinition struct {
	Name        string `json:"name"`
	JSONPointer string `json:"jsonPointer"`
	Prefix      string `json:"prefix,omitempty"`
	AllowEmpty  bool   `json:"allowEmpty,omitempty"`
}

// Equal reports whether two index definitions are identical modulo Name.
func (d IndexDefinition) Equal(other IndexDefinition) bool {
	return d.JSONPointer == other.JSONPointer &&
		d.Prefix == other.Prefix &&
		d.AllowEmpty == other.AllowEmpty
}

// MetaKind discriminates the two forms of CommitMeta.
type MetaKind int

const (
	// MetaSnapshot marks a commit as an authoritative, server-labeled state.
	MetaSnapshot MetaKind = iota
	// MetaLocal marks a commit as an optimistically-applied local mutation.
	MetaLocal
)

// SnapshotMeta is the payload of a Snapshot commit.
type SnapshotMeta struct {
	BasisHash       hash.Hash         `json:"basisHash,omitempty"`
	LastMutationIDs map[string]uint64 `json:"lastMutationIDs"`
	CookieJSON      json.RawMessage   `json:"cookieJSON,omitempty"`
}

// LocalMeta is the payload of a Local commit.
type LocalMeta struct {
	BasisHash        hash.Hash       `json:"basisHash"`
	BaseSnapshotHash hash.Hash       `json:"baseSnapshotHash"`
	MutationID       uint64          `json:"mutationID"`
	MutatorName      string          `json:"mutatorName"`
	MutatorArgsJSON  json.RawMessage `json:"mutatorArgsJSON"`
	OriginalHash     hash.Hash       `json:"originalHash,omitempty"`
	Timestamp        int64           `json:"timestamp"`
	ClientID         string          `json:"clientID"`
}

// CommitMeta is a tagged variant: exactly one of Snapshot or Local is
// populated, selected by Kind.
type CommitMeta struct {
	Kind     MetaKind      `json:"kind"`
	Snapshot *SnapshotMeta `json:"snapshot,omitempty"`
	Local    *LocalMeta    `json:"local,omitempty"`
}

// IsSnapshot reports whether this meta is a Snapshot variant.
func (m CommitMeta) IsSnapshot() bool { return m.Kind == MetaSnapshot }

// IsLocal reports whether this meta is a Local variant.
func (m CommitMeta) IsLocal() bool { return m.Kind == MetaLocal }

// CommitData is the data payload carried by every commit chunk.
type CommitData struct {
	Meta      CommitMeta        `json:"meta"`
	ValueHash hash.Hash         `json:"valueHash"`
	Indexes   []IndexDefinition `json:"indexes,omitempty"`
}

// Encode serializes commit data to bytes for storage as chunk Data.
func (c CommitData) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode commit data: %w", err)
	}
	return data, nil
}

// DecodeCommitData deserializes a chunk's Data back into a CommitData.
func DecodeCommitData(data []byte) (CommitData, error) {
	var c CommitData
	if err := json.Unmarshal(data, &c); err != nil {
		return CommitData{}, fmt.Errorf("decode commit data: %w", err)
	}
	return c, nil
}

// Refs returns the direct hashes a commit's data embeds: the value tree
// root, the basis commit of a Snapshot commit that has one, and (for Local
// commits) the basis commit and base snapshot.
func (c CommitData) Refs() []hash.Hash {
	refs := []hash.Hash{c.ValueHash}
	if c.Meta.IsSnapshot() && c.Meta.Snapshot.BasisHash != (hash.Hash{}) {
		refs = append(refs, c.Meta.Snapshot.BasisHash)
	}
	if c.Meta.IsLocal() {
		refs = append(refs, c.Meta.Local.BasisHash, c.Meta.Local.BaseSnapshotHash)
	}
	return refs
}

// NewSnapshotCommit builds the CommitData for a new authoritative snapshot.
func NewSnapshotCommit(basis hash.Hash, valueHash hash.Hash, lastMutationIDs map[string]uint64, cookie json.RawMessage, indexes []IndexDefinition) CommitData {
	ids := make(map[string]uint64, len(lastMutationIDs))
	for k, v := range lastMutationIDs {
		ids[k] = v
	}
	return CommitData{
		Meta: CommitMeta{
			Kind: MetaSnapshot,
			Snapshot: &SnapshotMeta{
				BasisHash:       basis,
				LastMutationIDs: ids,
				CookieJSON:      cookie,
			},
		},
		ValueHash: valueHash,
		Indexes:   indexes,
	}
}

// NewLocalCommit builds the CommitData for a new optimistic local mutation.
func NewLocalCommit(basis, baseSnapshot hash.Hash, mutationID uint64, mutatorName string, args json.RawMessage, valueHash hash.Hash, clientID string, timestamp time.Time, indexes []IndexDefinition) CommitData {
	return CommitData{
		Meta: CommitMeta{
			Kind: MetaLocal,
			Local: &LocalMeta{
				BasisHash:        basis,
				BaseSnapshotHash: baseSnapshot,
				MutationID:       mutationID,
				MutatorName:      mutatorName,
				MutatorArgsJSON:  args,
				Timestamp:        timestamp.UnixMilli(),
				ClientID:         clientID,
			},
		},
		ValueHash: valueHash,
		Indexes:   indexes,
	}
}
