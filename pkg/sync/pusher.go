package sync

import (
	"context"
	"encoding/json"
)

// PushMutation is one entry of a push request's mutation list.
type PushMutation struct {
	ClientID  string          `json:"clientID"`
	ID        uint64          `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Timestamp int64           `json:"timestamp"`
}

// PushRequest is the upstream push payload.
type PushRequest struct {
	ProfileID      string         `json:"profileID"`
	ClientGroupID  string         `json:"clientGroupID"`
	PushVersion    int            `json:"pushVersion"`
	SchemaVersion  string         `json:"schemaVersion"`
	Mutations      []PushMutation `json:"mutations"`
}

// PushResponse carries either a batch-level error or a set of per-mutation
// results.
type PushResponse struct {
	BatchError error
	Results    []MutationResult
}

// Pusher abstracts the push transport so the coordinator (and its tests)
// never depend on a concrete network client.
type Pusher interface {
	Push(ctx context.Context, req PushRequest) (PushResponse, error)
}
