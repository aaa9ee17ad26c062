// Package sync implements the optimistic mutation lifecycle and the
// server-poke rebase: apply a mutation optimistically against the local
// head, rebase unconfirmed locals onto a new snapshot whenever a poke
// arrives, and track every mutation's client/server promise pair through
// push, confirmation, limbo, and reconnection.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/rezync/pkg/btree"
	"github.com/kasuganosora/rezync/pkg/dag"
	"github.com/kasuganosora/rezync/pkg/hash"
	"github.com/kasuganosora/rezync/pkg/poke"
)

// PrimaryKeyFn extracts the primary key string of a row belonging to
// table, so a poke's rowsPatch ("put" entries carry only a value, not a
// separate id) can be turned into the same DiffEntry shape a mutation's
// own write set produces.
type PrimaryKeyFn func(table string, row json.RawMessage) (string, error)

// Publisher is the seam between the sync coordinator and the IVM/
// subscription layers: after a mutation commits or a poke applies, the
// coordinator hands the row-level diff to Publish, which fans it out to
// every table's Source and notifies the query Manager, all before the
// caller observes the commit as done.
type Publisher interface {
	Publish(ctx context.Context, diff []DiffEntry) error
}

// Coordinator owns one client's local head and drives the optimistic
// mutate/rebase/push/confirm lifecycle against it.
type Coordinator struct {
	store    *dag.Store
	headName string
	clientID string
	mutators map[string]Mutator
	pusher   Pusher
	publish  Publisher
	pkFn     PrimaryKeyFn

	tracker *Tracker

	pushDelay   time.Duration
	pushPending bool
}

func NewCoordinator(store *dag.Store, headName, clientID string, mutators map[string]Mutator, pusher Pusher, publisher Publisher, pkFn PrimaryKeyFn, pushDelay time.Duration) *Coordinator {
	return &Coordinator{
		store:     store,
		headName:  headName,
		clientID:  clientID,
		mutators:  mutators,
		pusher:    pusher,
		publish:   publisher,
		pkFn:      pkFn,
		tracker:   NewTracker(),
		pushDelay: pushDelay,
	}
}

// Tracker exposes the mutation tracker for callers that need to observe
// onAllMutationsApplied or force a rejectAllOutstandingMutations.
func (c *Coordinator) Tracker() *Tracker { return c.tracker }

// PushPending reports whether a push batch is due (set by a successful
// Mutate, cleared once Push runs). Nothing in this module schedules Push
// from it; pushDelay is stored on the Coordinator but not read.
func (c *Coordinator) PushPending() bool { return c.pushPending }

// Mutate executes mutator name against the current head optimistically.
func (c *Coordinator) Mutate(ctx context.Context, name string, args json.RawMessage) (ephemeralID uint64, clientPromise, serverPromise *Promise, err error) {
	ephemeralID, clientPromise, serverPromise = c.tracker.TrackMutation()

	mutator, ok := c.mutators[name]
	if !ok {
		rejectErr := fmt.Errorf("sync: no mutator registered for %q", name)
		c.tracker.RejectMutation(ephemeralID, rejectErr)
		return ephemeralID, clientPromise, serverPromise, rejectErr
	}

	wtx, err := c.store.NewWriteTx(ctx)
	if err != nil {
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}

	headHash, hasHead, err := wtx.GetHead(c.headName)
	if err != nil {
		wtx.Rollback()
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}
	if !hasHead {
		headHash, err = c.bootstrapGenesis(wtx)
		if err != nil {
			wtx.Rollback()
			c.tracker.RejectMutation(ephemeralID, err)
			return ephemeralID, clientPromise, serverPromise, err
		}
	}

	head, err := dag.GetCommit(&wtx.ReadTx, headHash)
	if err != nil {
		wtx.Rollback()
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}
	baseSnapshot, err := dag.BaseSnapshot(&wtx.ReadTx, headHash)
	if err != nil {
		wtx.Rollback()
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}
	mutationID, err := c.nextMutationID(&wtx.ReadTx, headHash, baseSnapshot)
	if err != nil {
		wtx.Rollback()
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}

	tx := newTransaction(wtx, head.Data.ValueHash)
	if err := mutator(tx, args); err != nil {
		wtx.Rollback()
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}

	timestamp := time.UnixMilli(nowMillis())
	commitData := dag.NewLocalCommit(headHash, baseSnapshot.Hash, mutationID, name, args, tx.Root(), c.clientID, timestamp, head.Data.Indexes)
	data, err := commitData.Encode()
	if err != nil {
		wtx.Rollback()
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}
	chunk := dag.NewChunk(data, commitData.Refs())
	if err := wtx.PutChunk(chunk); err != nil {
		wtx.Rollback()
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}
	if err := wtx.SetHead(c.headName, chunk.Hash); err != nil {
		wtx.Rollback()
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}
	if err := wtx.Commit(); err != nil {
		c.tracker.RejectMutation(ephemeralID, err)
		return ephemeralID, clientPromise, serverPromise, err
	}

	if err := c.tracker.MutationIDAssigned(ephemeralID, c.clientID, mutationID); err != nil {
		return ephemeralID, clientPromise, serverPromise, err
	}

	// IVM changes are delivered to subscribers before the client promise
	// resolves.
	if err := c.publish.Publish(ctx, tx.Diff()); err != nil {
		return ephemeralID, clientPromise, serverPromise, err
	}
	clientPromise.resolve(Result{})
	c.pushPending = true
	return ephemeralID, clientPromise, serverPromise, nil
}

// bootstrapGenesis creates the chain's first Snapshot commit when headName
// has never been set, so every Local commit has a baseSnapshotHash to
// point at.
func (c *Coordinator) bootstrapGenesis(wtx *dag.WriteTx) (hash.Hash, error) {
	genesis := dag.NewSnapshotCommit(hash.Zero, hash.Zero, map[string]uint64{}, nil, nil)
	data, err := genesis.Encode()
	if err != nil {
		return hash.Hash{}, err
	}
	chunk := dag.NewChunk(data, genesis.Refs())
	if err := wtx.PutChunk(chunk); err != nil {
		return hash.Hash{}, err
	}
	if err := wtx.SetHead(c.headName, chunk.Hash); err != nil {
		return hash.Hash{}, err
	}
	return chunk.Hash, nil
}

func (c *Coordinator) nextMutationID(rtx *dag.ReadTx, headHash hash.Hash, baseSnapshot dag.Commit) (uint64, error) {
	pending, err := dag.PendingCommits(rtx, headHash)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return baseSnapshot.Data.Meta.Snapshot.LastMutationIDs[c.clientID] + 1, nil
	}
	last := pending[len(pending)-1]
	return last.Data.Meta.Local.MutationID + 1, nil
}

// HandlePoke applies one assembled poke.Patch as a rebase.
func (c *Coordinator) HandlePoke(ctx context.Context, patch poke.Patch) error {
	wtx, err := c.store.NewWriteTx(ctx)
	if err != nil {
		return err
	}

	headHash, hasHead, err := wtx.GetHead(c.headName)
	if err != nil {
		wtx.Rollback()
		return err
	}
	if !hasHead {
		headHash, err = c.bootstrapGenesis(wtx)
		if err != nil {
			wtx.Rollback()
			return err
		}
	}

	baseSnapshot, err := dag.BaseSnapshot(&wtx.ReadTx, headHash)
	if err != nil {
		wtx.Rollback()
		return err
	}
	if patch.BaseCookie != nil && !bytes.Equal(baseSnapshot.Data.Meta.Snapshot.CookieJSON, patch.BaseCookie) {
		// A PokeEnd whose baseCookie does not match the current cookie
		// aborts the poke with no change.
		wtx.Rollback()
		return nil
	}

	newRoot := baseSnapshot.Data.ValueHash
	rowDiff := make([]DiffEntry, 0, len(patch.RowsPatch))
	for _, op := range patch.RowsPatch {
		switch op.Op {
		case "put":
			pk, err := c.pkFn(op.TableName, op.Value)
			if err != nil {
				wtx.Rollback()
				return fmt.Errorf("sync: poke rowsPatch put for table %q: %w", op.TableName, err)
			}
			newRoot, err = btree.Put(wtx, btree.DefaultConfig(), newRoot, EncodePrimaryKey(op.TableName, pk), op.Value)
			if err != nil {
				wtx.Rollback()
				return err
			}
			rowDiff = append(rowDiff, DiffEntry{Op: DiffPut, TableName: op.TableName, PrimaryKey: pk, Row: op.Value})
		case "del":
			newRoot, err = btree.Delete(wtx, btree.DefaultConfig(), newRoot, EncodePrimaryKey(op.TableName, op.ID))
			if err != nil {
				wtx.Rollback()
				return err
			}
			rowDiff = append(rowDiff, DiffEntry{Op: DiffDel, TableName: op.TableName, PrimaryKey: op.ID})
		default:
			wtx.Rollback()
			return fmt.Errorf("sync: poke rowsPatch: unknown op %q", op.Op)
		}
	}

	lastMutationIDs := mergeLastMutationIDs(baseSnapshot.Data.Meta.Snapshot.LastMutationIDs, patch.LastMutationIDChanges)

	newSnapshot := dag.NewSnapshotCommit(baseSnapshot.Hash, newRoot, lastMutationIDs, patch.Cookie, baseSnapshot.Data.Indexes)
	data, err := newSnapshot.Encode()
	if err != nil {
		wtx.Rollback()
		return err
	}
	snapshotChunk := dag.NewChunk(data, newSnapshot.Refs())
	if err := wtx.PutChunk(snapshotChunk); err != nil {
		wtx.Rollback()
		return err
	}

	pending, err := dag.PendingCommits(&wtx.ReadTx, headHash)
	if err != nil {
		wtx.Rollback()
		return err
	}

	tip := snapshotChunk.Hash
	tipRoot := newRoot
	var replayDiff []DiffEntry
	for _, commit := range pending {
		local := commit.Data.Meta.Local
		watermark := lastMutationIDs[local.ClientID]
		if local.MutationID <= watermark {
			continue // already authoritative; resolved via lmidAdvanced below
		}
		mutator, ok := c.mutators[local.MutatorName]
		if !ok {
			wtx.Rollback()
			return fmt.Errorf("sync: rebase: no mutator registered for %q", local.MutatorName)
		}
		rtx := newTransaction(wtx, tipRoot)
		if err := mutator(rtx, local.MutatorArgsJSON); err != nil {
			wtx.Rollback()
			return fmt.Errorf("sync: rebase: replay of mutation %d failed: %w", local.MutationID, err)
		}
		replayed := dag.NewLocalCommit(tip, snapshotChunk.Hash, local.MutationID, local.MutatorName, local.MutatorArgsJSON, rtx.Root(), local.ClientID, time.UnixMilli(local.Timestamp), commit.Data.Indexes)
		rdata, err := replayed.Encode()
		if err != nil {
			wtx.Rollback()
			return err
		}
		rchunk := dag.NewChunk(rdata, replayed.Refs())
		if err := wtx.PutChunk(rchunk); err != nil {
			wtx.Rollback()
			return err
		}
		tip = rchunk.Hash
		tipRoot = rtx.Root()
		replayDiff = append(replayDiff, rtx.Diff()...)
	}

	if err := wtx.SetHead(c.headName, tip); err != nil {
		wtx.Rollback()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}

	for _, mp := range patch.MutationsPatch {
		if mp.Op != "put" || mp.Result == nil {
			continue
		}
		var resolveErr error
		if mp.Result.Error != nil {
			resolveErr = fmt.Errorf("sync: mutation %d rejected by application: %s", mp.ID.ID, *mp.Result.Error)
		}
		c.tracker.ResolveMutationResult(mp.ID.ClientID, mp.ID.ID, resolveErr)
	}
	c.tracker.LmidAdvanced(lastMutationIDs)

	diff := append(rowDiff, replayDiff...)
	return c.publish.Publish(ctx, diff)
}

// ApplyPull applies a legacy single-shot pull response the same way a
// streamed poke is applied, except patch entries address raw B-tree keys
// directly rather than table/value pairs. Put/del entries are decoded back
// into table/primaryKey pairs via decodePrimaryKey so the resulting
// DiffEntry diff reaches the Publisher exactly like a poke's rowsPatch
// does; a clear entry enumerates every primary entry it removes before
// deleting them, for the same reason.
func (c *Coordinator) ApplyPull(ctx context.Context, pull poke.PullResponse) error {
	wtx, err := c.store.NewWriteTx(ctx)
	if err != nil {
		return err
	}

	headHash, hasHead, err := wtx.GetHead(c.headName)
	if err != nil {
		wtx.Rollback()
		return err
	}
	if !hasHead {
		headHash, err = c.bootstrapGenesis(wtx)
		if err != nil {
			wtx.Rollback()
			return err
		}
	}
	baseSnapshot, err := dag.BaseSnapshot(&wtx.ReadTx, headHash)
	if err != nil {
		wtx.Rollback()
		return err
	}

	newRoot := baseSnapshot.Data.ValueHash
	var diff []DiffEntry
	for _, op := range pull.Patch {
		switch op.Op {
		case "put":
			newRoot, err = btree.Put(wtx, btree.DefaultConfig(), newRoot, []byte(op.Key), op.Value)
			if err == nil {
				if table, pk, ok := decodePrimaryKey([]byte(op.Key)); ok {
					diff = append(diff, DiffEntry{Op: DiffPut, TableName: table, PrimaryKey: pk, Row: op.Value})
				}
			}
		case "del":
			newRoot, err = btree.Delete(wtx, btree.DefaultConfig(), newRoot, []byte(op.Key))
			if err == nil {
				if table, pk, ok := decodePrimaryKey([]byte(op.Key)); ok {
					diff = append(diff, DiffEntry{Op: DiffDel, TableName: table, PrimaryKey: pk})
				}
			}
		case "clear":
			var cleared []DiffEntry
			newRoot, cleared, err = clearPrimaryEntries(wtx, newRoot)
			diff = append(diff, cleared...)
		default:
			err = fmt.Errorf("sync: pull patch: unknown op %q", op.Op)
		}
		if err != nil {
			wtx.Rollback()
			return err
		}
	}

	lastMutationIDs := mergeLastMutationIDs(baseSnapshot.Data.Meta.Snapshot.LastMutationIDs, pull.LastMutationIDChanges)
	newSnapshot := dag.NewSnapshotCommit(baseSnapshot.Hash, newRoot, lastMutationIDs, pull.Cookie, baseSnapshot.Data.Indexes)
	data, err := newSnapshot.Encode()
	if err != nil {
		wtx.Rollback()
		return err
	}
	chunk := dag.NewChunk(data, newSnapshot.Refs())
	if err := wtx.PutChunk(chunk); err != nil {
		wtx.Rollback()
		return err
	}
	if err := wtx.SetHead(c.headName, chunk.Hash); err != nil {
		wtx.Rollback()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}

	c.tracker.LmidAdvanced(lastMutationIDs)
	return c.publish.Publish(ctx, diff)
}

// clearPrimaryEntries deletes every primary entry under root, returning the
// new root and a DiffDel entry for each row it removed.
func clearPrimaryEntries(w btree.ChunkWriter, root hash.Hash) (hash.Hash, []DiffEntry, error) {
	cur, err := btree.Scan(w, root, btree.ScanOptions{Prefix: []byte("e/")})
	if err != nil {
		return hash.Hash{}, nil, err
	}
	var keys [][]byte
	for cur.Next() {
		keys = append(keys, append([]byte(nil), cur.Key()...))
	}
	var diff []DiffEntry
	for _, k := range keys {
		root, err = btree.Delete(w, btree.DefaultConfig(), root, k)
		if err != nil {
			return hash.Hash{}, nil, err
		}
		if table, pk, ok := decodePrimaryKey(k); ok {
			diff = append(diff, DiffEntry{Op: DiffDel, TableName: table, PrimaryKey: pk})
		}
	}
	return root, diff, nil
}

func mergeLastMutationIDs(base map[string]uint64, changes map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}

// Push sends the unconfirmed local mutations since the base snapshot as
// one batch. Push sends immediately when called; it does no coalescing by
// pushDelay, and nothing in this module calls it on a timer.
func (c *Coordinator) Push(ctx context.Context, profileID, clientGroupID string, pushVersion int, schemaVersion string) error {
	c.pushPending = false

	rtx, err := c.store.NewReadTx(ctx)
	if err != nil {
		return err
	}
	defer rtx.Discard()

	headHash, hasHead, err := rtx.GetHead(c.headName)
	if err != nil || !hasHead {
		return err
	}
	pending, err := dag.PendingCommits(rtx, headHash)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	mutations := make([]PushMutation, 0, len(pending))
	for _, commit := range pending {
		local := commit.Data.Meta.Local
		mutations = append(mutations, PushMutation{
			ClientID:  local.ClientID,
			ID:        local.MutationID,
			Name:      local.MutatorName,
			Args:      local.MutatorArgsJSON,
			Timestamp: local.Timestamp,
		})
	}

	resp, err := c.pusher.Push(ctx, PushRequest{
		ProfileID:     profileID,
		ClientGroupID: clientGroupID,
		PushVersion:   pushVersion,
		SchemaVersion: schemaVersion,
		Mutations:     mutations,
	})
	if err != nil {
		// Transport failure: treat like a batch-level PushError, which
		// moves every unconfirmed mutation into limbo.
		return c.tracker.ProcessPushResponse(nil, err)
	}
	return c.tracker.ProcessPushResponse(resp.Results, resp.BatchError)
}

// nowMillis is overridable in tests; production code always goes through
// time.Now().
var nowMillis = func() int64 { return time.Now().UnixMilli() }
