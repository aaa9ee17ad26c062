// Package rezync wires the DAG store, the IVM dataflow engine, the query/
// subscription layer, and the mutation & sync coordinator into one owned
// instance: every mutation registered, every query AST compiled into a
// live pipeline, and the one sync coordinator driving push/poke are held
// on a single Store rather than as package-level globals.
package rezync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kasuganosora/rezync/pkg/btree"
	"github.com/kasuganosora/rezync/pkg/config"
	"github.com/kasuganosora/rezync/pkg/dag"
	"github.com/kasuganosora/rezync/pkg/hash"
	"github.com/kasuganosora/rezync/pkg/ivm"
	"github.com/kasuganosora/rezync/pkg/poke"
	"github.com/kasuganosora/rezync/pkg/query"
	zsync "github.com/kasuganosora/rezync/pkg/sync"
)

// headName is the one local head this engine maintains; a client only
// ever tracks its own chain.
const headName = "main"

// Store is the top-level handle a client application holds: open one per
// client process, register tables and mutators against it, then
// subscribe/materialize queries and drive mutations through it.
type Store struct {
	dagStore *dag.Store
	coord    *zsync.Coordinator
	subs     *query.Manager

	mu        sync.Mutex
	sources   map[string]*ivm.Source
	pipelines []*registeredPipeline

	metrics *Metrics
}

type registeredPipeline struct {
	tables map[string]bool
	mat    *query.Materialization
}

// New opens a Store backed by cfg. mutators is the full set of named
// mutations this client may invoke; pusher is the transport the sync
// coordinator pushes pending local mutations through — nil is valid for
// an offline-only Store, in which case Push must never be called.
func New(cfg *config.Config, mutators map[string]zsync.Mutator, pusher zsync.Pusher) (*Store, error) {
	// A fresh client install has no persisted identity yet; mint one here
	// rather than forcing every caller to depend on a uuid library just to
	// populate config.Sync before construction.
	if cfg.Sync.ClientID == "" {
		cfg.Sync.ClientID = uuid.NewString()
	}
	if cfg.Sync.ClientGroupID == "" {
		cfg.Sync.ClientGroupID = uuid.NewString()
	}

	dagCfg := dag.DefaultConfig(cfg.Store.DataDir)
	dagCfg.InMemory = cfg.Store.InMemory
	dagCfg.MemdagCapacity = cfg.Store.MemdagCapacity
	dagCfg.CompressionThreshold = cfg.Store.CompressionThreshold
	dagCfg.GCInterval = cfg.Store.GCInterval
	dagCfg.GCDiscardRatio = cfg.Store.GCDiscardRatio

	ds, err := dag.Open(dagCfg)
	if err != nil {
		return nil, fmt.Errorf("rezync: open store: %w", err)
	}

	st := &Store{
		dagStore: ds,
		sources:  make(map[string]*ivm.Source),
		metrics:  NewMetrics(),
	}
	st.subs = query.NewManager(st.openReadTx)
	st.subs.SetOnRun(st.metrics.recordSubscriptionRun)
	st.coord = zsync.NewCoordinator(ds, headName, cfg.Sync.ClientID, mutators, pusher, st, st.primaryKeyFor, cfg.Sync.PushDelay)

	if cfg.Store.GCInterval > 0 {
		ds.StartAutoGC()
	}
	return st, nil
}

// Close stops background GC and closes the underlying DAG store.
func (s *Store) Close() error {
	s.dagStore.StopAutoGC()
	s.subs.Close()
	return s.dagStore.Close()
}

// RegisterSource declares table's canonical, cross-pipeline IVM source,
// keyed by keyPointer. Register every table a mutator or
// query touches before issuing mutations or materializing queries against
// it — rows already committed to the DAG are not backfilled into the
// source automatically; call Rehydrate after registering if the store was
// reopened against existing data.
func (s *Store) RegisterSource(table, keyPointer string, sortOrder []ivm.SortKey) *ivm.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := ivm.NewSource(table, keyPointer, sortOrder)
	s.sources[table] = src
	return src
}

// Source returns the previously registered source for table, if any.
func (s *Store) Source(table string) (*ivm.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[table]
	return src, ok
}

func (s *Store) primaryKeyFor(table string, row json.RawMessage) (string, error) {
	src, ok := s.Source(table)
	if !ok {
		return "", fmt.Errorf("rezync: no source registered for table %q", table)
	}
	return src.PrimaryKey(row)
}

// Rehydrate replays every row currently committed under table's primary
// entries into its registered Source, for a Store reopened against
// existing DAG state (RegisterSource alone only wires future commits).
func (s *Store) Rehydrate(ctx context.Context, table string) error {
	src, ok := s.Source(table)
	if !ok {
		return fmt.Errorf("rezync: no source registered for table %q", table)
	}

	rtx, err := s.dagStore.NewReadTx(ctx)
	if err != nil {
		return fmt.Errorf("rezync: rehydrate %s: %w", table, err)
	}
	defer rtx.Discard()

	headHash, ok, err := rtx.GetHead(headName)
	if err != nil {
		return fmt.Errorf("rezync: rehydrate %s: %w", table, err)
	}
	if !ok {
		return nil
	}
	headCommit, err := dag.GetCommit(rtx, headHash)
	if err != nil {
		return fmt.Errorf("rezync: rehydrate %s: %w", table, err)
	}

	cursor, err := btreeScan(rtx, headCommit.Data.ValueHash, table)
	if err != nil {
		return fmt.Errorf("rezync: rehydrate %s: %w", table, err)
	}
	for cursor.Next() {
		if _, err := src.Upsert(ctx, append([]byte(nil), cursor.Value()...)); err != nil {
			return fmt.Errorf("rezync: rehydrate %s: %w", table, err)
		}
	}
	return nil
}

// Materialize compiles ast into a live, incrementally-maintained pipeline
// over this Store's registered sources, and registers it to receive every
// future commit's changes for the tables it reads.
func (s *Store) Materialize(ctx context.Context, ast *query.AST, keyFn ivm.KeyFunc, cmp ivm.CompareFunc) (*query.Materialization, func(), error) {
	s.mu.Lock()
	sources := make(map[string]*ivm.Source, len(s.sources))
	for k, v := range s.sources {
		sources[k] = v
	}
	s.mu.Unlock()

	mat, err := query.Materialize(ctx, ast, sources, keyFn, cmp)
	if err != nil {
		return nil, nil, err
	}

	tables := make(map[string]bool)
	for _, t := range ast.Tables() {
		tables[t] = true
	}
	rp := &registeredPipeline{tables: tables, mat: mat}

	s.mu.Lock()
	s.pipelines = append(s.pipelines, rp)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		for i, p := range s.pipelines {
			if p == rp {
				s.pipelines = append(s.pipelines[:i], s.pipelines[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		mat.Destroy()
	}
	return mat, cancel, nil
}

// Subscribe registers a read-only queryFn, re-running it (coalesced with
// every other pending subscription) on each commit that touches a key or
// prefix it read.
func (s *Store) Subscribe(queryFn query.QueryFn, opts query.SubscribeOptions) (*query.Subscription, func(), error) {
	return s.subs.Subscribe(queryFn, opts)
}

// Mutate runs name against args as an optimistic local mutation.
func (s *Store) Mutate(ctx context.Context, name string, args json.RawMessage) (ephemeralID uint64, clientPromise, serverPromise *zsync.Promise, err error) {
	ephemeralID, clientPromise, serverPromise, err = s.coord.Mutate(ctx, name, args)
	s.metrics.recordMutation(err == nil)
	return ephemeralID, clientPromise, serverPromise, err
}

// Push sends every pending local mutation to the server.
func (s *Store) Push(ctx context.Context, profileID, clientGroupID string, pushVersion int, schemaVersion string) error {
	err := s.coord.Push(ctx, profileID, clientGroupID, pushVersion, schemaVersion)
	s.metrics.recordPush(err)
	return err
}

// HandlePoke applies a server-pushed patch, rebasing any unconfirmed local
// mutations on top of it.
func (s *Store) HandlePoke(ctx context.Context, patch poke.Patch) error {
	err := s.coord.HandlePoke(ctx, patch)
	s.metrics.recordPoke(err)
	return err
}

// ApplyPull applies a legacy pull response directly.
func (s *Store) ApplyPull(ctx context.Context, pull poke.PullResponse) error {
	err := s.coord.ApplyPull(ctx, pull)
	s.metrics.recordPoke(err)
	return err
}

// Metrics returns this Store's counters for mutations, pushes, pokes, and
// subscription executions.
func (s *Store) Metrics() *Metrics { return s.metrics }

// Tracker exposes the sync coordinator's mutation tracker, for callers
// that need to observe connection-state transitions directly — e.g.
// rejecting every outstanding mutation when the transport goes offline.
func (s *Store) Tracker() *zsync.Tracker { return s.coord.Tracker() }

// PushPending reports whether any local mutation is waiting to be pushed.
func (s *Store) PushPending() bool { return s.coord.PushPending() }

// Publish is the sync coordinator's Publisher seam (zsync.Publisher):
// after a mutation commits or a poke applies, it fans diff out to every
// affected table's Source exactly once, propagates the resulting change
// through every pipeline reading that table, and notifies the key-tracked
// subscription manager — all synchronously, so the caller only observes
// the mutation/poke as done once every downstream view has caught up.
func (s *Store) Publish(ctx context.Context, diff []zsync.DiffEntry) error {
	if len(diff) == 0 {
		return nil
	}

	rawKeys := make([][]byte, 0, len(diff))
	for _, entry := range diff {
		rawKeys = append(rawKeys, zsync.EncodePrimaryKey(entry.TableName, entry.PrimaryKey))
		s.metrics.recordTableTouch(entry.TableName)

		src, ok := s.Source(entry.TableName)
		if !ok {
			// No pipeline or subscription reads this table's rows through
			// the IVM layer; the commit itself already landed in the DAG.
			continue
		}

		var change ivm.Change
		var err error
		switch entry.Op {
		case zsync.DiffPut:
			change, err = s.applyUpsert(ctx, src, entry.Row)
		case zsync.DiffDel:
			change, err = s.applyRemove(ctx, src, entry.PrimaryKey)
		default:
			err = fmt.Errorf("rezync: diff entry for %s/%s has unknown op %d", entry.TableName, entry.PrimaryKey, entry.Op)
		}
		if err != nil {
			return err
		}

		if err := s.propagateToPipelines(ctx, entry.TableName, src, change); err != nil {
			return err
		}
	}

	return s.subs.NotifyCommit(rawKeys)
}

func (s *Store) applyUpsert(ctx context.Context, src *ivm.Source, row json.RawMessage) (ivm.Change, error) {
	changes, err := src.Upsert(ctx, row)
	if err != nil {
		return ivm.Change{}, fmt.Errorf("rezync: publish upsert: %w", err)
	}
	return changes[0], nil
}

func (s *Store) applyRemove(ctx context.Context, src *ivm.Source, primaryKey string) (ivm.Change, error) {
	changes, err := src.RemoveByKey(ctx, primaryKey)
	if err != nil {
		return ivm.Change{}, fmt.Errorf("rezync: publish remove: %w", err)
	}
	return changes[0], nil
}

func (s *Store) propagateToPipelines(ctx context.Context, table string, src *ivm.Source, change ivm.Change) error {
	s.mu.Lock()
	affected := make([]*registeredPipeline, 0)
	for _, p := range s.pipelines {
		if p.tables[table] {
			affected = append(affected, p)
		}
	}
	s.mu.Unlock()

	for _, p := range affected {
		if err := p.mat.Propagate(ctx, src, change); err != nil {
			return fmt.Errorf("rezync: propagate to materialization: %w", err)
		}
	}
	return nil
}

// openReadTx is the query.TxOpener the subscription Manager uses to run
// read-only queryFns: one DAG read transaction rooted at the current
// head's committed B-tree — the authoritative-plus-optimistic tip — so a
// subscription sees its own store's unconfirmed local mutations exactly
// like everything else.
func (s *Store) openReadTx() (btree.ChunkReader, hash.Hash, func(), error) {
	ctx := context.Background()
	rtx, err := s.dagStore.NewReadTx(ctx)
	if err != nil {
		return nil, hash.Hash{}, nil, err
	}
	headHash, ok, err := rtx.GetHead(headName)
	if err != nil {
		rtx.Discard()
		return nil, hash.Hash{}, nil, err
	}
	if !ok {
		rtx.Discard()
		return rtx, hash.Hash{}, func() {}, nil
	}
	headCommit, err := dag.GetCommit(rtx, headHash)
	if err != nil {
		rtx.Discard()
		return nil, hash.Hash{}, nil, err
	}
	return rtx, headCommit.Data.ValueHash, rtx.Discard, nil
}

// btreeScan scans every primary entry belonging to table at root.
func btreeScan(r btree.ChunkReader, root hash.Hash, table string) (*btree.Cursor, error) {
	prefix := []byte("e/" + table + "/")
	return btree.Scan(r, root, btree.ScanOptions{Prefix: prefix})
}
