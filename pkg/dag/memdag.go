package dag

import (
	"container/list"
	"sync"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// memdag is the in-memory working set of decoded chunks, bounded by a plain
// LRU eviction policy. Eviction never loses data: anything evicted can
// always be refetched from the perdag by content hash.
type memdag struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	elems    map[hash.Hash]*list.Element
}

type memdagEntry struct {
	hash  hash.Hash
	chunk *Chunk
}

func newMemdag(capacity int) *memdag {
	if capacity <= 0 {
		capacity = 1
	}
	return &memdag{
		capacity: capacity,
		order:    list.New(),
		elems:    make(map[hash.Hash]*list.Element),
	}
}

func (m *memdag) Get(h hash.Hash) (*Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.elems[h]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(elem)
	return elem.Value.(*memdagEntry).chunk, true
}

func (m *memdag) Put(c *Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.elems[c.Hash]; ok {
		m.order.MoveToFront(elem)
		return
	}
	elem := m.order.PushFront(&memdagEntry{hash: c.Hash, chunk: c})
	m.elems[c.Hash] = elem
	for m.order.Len() > m.capacity {
		back := m.order.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*memdagEntry)
		delete(m.elems, entry.hash)
		m.order.Remove(back)
	}
}

func (m *memdag) Evict(h hash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.elems[h]; ok {
		delete(m.elems, h)
		m.order.Remove(elem)
	}
}
