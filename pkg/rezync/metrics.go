package rezync

import (
	"sync"
	"time"
)

// Metrics collects process-wide counters for one Store: how many
// mutations Store.Mutate applied or rejected, how many push batches were
// attempted and failed, how many pokes and pulls were handled and failed,
// how many queryFn runs the subscriptions made, and how many times each
// table's rows were touched.
type Metrics struct {
	mu sync.RWMutex

	mutationsApplied  int64
	mutationsRejected int64
	pushCount         int64
	pushErrors        int64
	pokeCount         int64
	pokeErrors        int64
	subscriptionRuns  int64
	tableTouchCount   map[string]int64
	startTime         time.Time
}

// NewMetrics creates a Metrics collector with its clock started now.
func NewMetrics() *Metrics {
	return &Metrics{
		tableTouchCount: make(map[string]int64),
		startTime:       time.Now(),
	}
}

func (m *Metrics) recordMutation(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.mutationsApplied++
	} else {
		m.mutationsRejected++
	}
}

func (m *Metrics) recordPush(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushCount++
	if err != nil {
		m.pushErrors++
	}
}

func (m *Metrics) recordPoke(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pokeCount++
	if err != nil {
		m.pokeErrors++
	}
}

func (m *Metrics) recordSubscriptionRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptionRuns++
}

func (m *Metrics) recordTableTouch(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tableTouchCount[table]++
}

// MutationsApplied returns the number of mutations that committed locally.
func (m *Metrics) MutationsApplied() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mutationsApplied
}

// MutationsRejected returns the number of Store.Mutate calls that returned
// an error (unknown mutator, failing mutator, or a failed commit).
// Rejections made later through the Tracker, such as
// RejectAllOutstanding, are not counted.
func (m *Metrics) MutationsRejected() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mutationsRejected
}

// PushCount returns how many push batches were attempted.
func (m *Metrics) PushCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pushCount
}

// PushErrors returns how many push batches failed at the batch level.
func (m *Metrics) PushErrors() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pushErrors
}

// PokeCount returns how many pokes and legacy pulls were handled,
// successfully or not.
func (m *Metrics) PokeCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pokeCount
}

// PokeErrors returns how many HandlePoke or ApplyPull calls returned an
// error. A poke dropped for a baseCookie mismatch returns no error and is
// not counted here.
func (m *Metrics) PokeErrors() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pokeErrors
}

// SubscriptionRuns returns the total number of queryFn executions across
// every subscription this Store has run, including suppressed ones.
func (m *Metrics) SubscriptionRuns() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscriptionRuns
}

// TableTouchCount returns how many times table's rows were upserted or
// removed via Publish.
func (m *Metrics) TableTouchCount(table string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tableTouchCount[table]
}

// Uptime returns how long this Metrics collector has been alive.
func (m *Metrics) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}
