package query

import (
	"log"
	"sync"

	"github.com/kasuganosora/rezync/pkg/btree"
	"github.com/kasuganosora/rezync/pkg/hash"
)

// QueryFn is a pure read against a Tx. It must not retain the Tx or any
// cursor obtained from it past its own return.
type QueryFn func(tx *Tx) (any, error)

// SubscribeOptions configures one subscription: the callbacks it fires on
// a new result, an error, and closure, plus an optional equality override.
type SubscribeOptions struct {
	OnData  func(any)
	OnError func(error)
	OnDone  func()
	IsEqual IsEqualFunc
}

// Subscription tracks one queryFn's last-delivered value and which keys it
// depends on.
type Subscription struct {
	queryFn  QueryFn
	opts     SubscribeOptions
	touched  *trackedKeys
	hasValue bool
	lastVal  any
	runCount int
}

// RunCount returns how many times this subscription's queryFn has executed,
// including suppressed, no-onData runs.
func (s *Subscription) RunCount() int { return s.runCount }

func (s *Subscription) isEqual(a, b any) bool {
	if s.opts.IsEqual != nil {
		return s.opts.IsEqual(a, b)
	}
	return defaultIsEqual(a, b)
}

// TxOpener opens one DAG read transaction for the Manager to run a batch
// of queryFns against, returning the reader, the root to read at, and a
// cleanup to discard the transaction once the batch is done.
type TxOpener func() (reader btree.ChunkReader, root hash.Hash, discard func(), err error)

// Manager coalesces subscription execution: when multiple subscriptions
// are pending for the same commit, a single DAG read transaction runs all
// their queryFns back-to-back before any onData is delivered.
type Manager struct {
	mu    sync.Mutex
	subs  map[*Subscription]struct{}
	open  TxOpener
	onRun func()
}

func NewManager(opener TxOpener) *Manager {
	return &Manager{subs: make(map[*Subscription]struct{}), open: opener}
}

// SetOnRun installs a hook invoked once per queryFn execution (including
// suppressed, no-onData runs), for callers that want to aggregate a
// run-count metric across every subscription this Manager owns.
func (m *Manager) SetOnRun(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRun = fn
}

// Subscribe registers queryFn and runs its initial tick synchronously.
func (m *Manager) Subscribe(queryFn QueryFn, opts SubscribeOptions) (*Subscription, func(), error) {
	sub := &Subscription{queryFn: queryFn, opts: opts, touched: newTrackedKeys()}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	if err := m.runBatch([]*Subscription{sub}); err != nil {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
		return nil, nil, err
	}

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
	}
	return sub, cancel, nil
}

// NotifyCommit re-runs every subscription whose tracked keys intersect
// diff, using one shared read transaction for the whole batch.
func (m *Manager) NotifyCommit(diff [][]byte) error {
	m.mu.Lock()
	var matching []*Subscription
	for sub := range m.subs {
		if sub.touched.intersects(diff) {
			matching = append(matching, sub)
		}
	}
	m.mu.Unlock()
	if len(matching) == 0 {
		return nil
	}
	return m.runBatch(matching)
}

// Close notifies every subscription's OnDone and detaches them all, for
// when the store itself closes.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[*Subscription]struct{})
	m.mu.Unlock()

	for _, sub := range subs {
		if sub.opts.OnDone != nil {
			sub.opts.OnDone()
		}
	}
}

func (m *Manager) runBatch(subs []*Subscription) error {
	reader, root, discard, err := m.open()
	if err != nil {
		return err
	}
	defer discard()

	type outcome struct {
		sub     *Subscription
		val     any
		err     error
		touched *trackedKeys
	}
	outcomes := make([]outcome, 0, len(subs))
	for _, sub := range subs {
		tx := newTx(reader, root)
		val, err := sub.queryFn(tx)
		outcomes = append(outcomes, outcome{sub: sub, val: val, err: err, touched: tx.touched})
	}

	m.mu.Lock()
	onRun := m.onRun
	m.mu.Unlock()

	for _, o := range outcomes {
		o.sub.touched = o.touched
		o.sub.runCount++
		if onRun != nil {
			onRun()
		}
		if o.err != nil {
			if o.sub.opts.OnError != nil {
				o.sub.opts.OnError(o.err)
			} else {
				log.Printf("query: subscription queryFn error: %v", o.err)
			}
			continue
		}
		if o.sub.hasValue && o.sub.isEqual(o.sub.lastVal, o.val) {
			continue
		}
		o.sub.hasValue = true
		o.sub.lastVal = o.val
		if o.sub.opts.OnData != nil {
			o.sub.opts.OnData(o.val)
		}
	}
	return nil
}
