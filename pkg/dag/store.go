// Package dag implements the content-addressed, head-pointer-indexed
// commit graph: a perdag (persistent, Badger-backed) layered under a
// memdag (in-memory working set), scoped read/write transactions, and
// refcounted garbage collection.
package dag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// Store owns the perdag, the memdag, and the single write lock that
// serializes writers — the process-wide state for one client: one owned
// instance rather than package-level globals.
type Store struct {
	cfg        *Config
	db         *badger.DB
	keyEnc     *KeyEncoder
	codec      *ChunkCodec
	compressor *compressor
	mem        *memdag
	writeLock  *writeLock

	gcMu      sync.Mutex
	gcRunning bool
	gcStop    chan struct{}
}

// Open opens (or creates) a Store backed by cfg.
func Open(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig("")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.DataDir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("dag: open perdag: %w", err)
	}

	comp, err := newCompressor(cfg.CompressionThreshold)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		cfg:        cfg,
		db:         db,
		keyEnc:     NewKeyEncoder(),
		codec:      NewChunkCodec(),
		compressor: comp,
		mem:        newMemdag(cfg.MemdagCapacity),
		writeLock:  newWriteLock(),
	}, nil
}

// Close stops any running GC loop and closes the perdag.
func (s *Store) Close() error {
	s.StopAutoGC()
	s.compressor.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("dag: close perdag: %w", err)
	}
	return nil
}

// NewReadTx opens a read-only transaction over a point-in-time snapshot of
// the perdag. Multiple read transactions may be open concurrently.
func (s *Store) NewReadTx(ctx context.Context) (*ReadTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := s.db.NewTransaction(false)
	return &ReadTx{store: s, txn: txn}, nil
}

// NewWriteTx opens a write transaction. It blocks (rather than failing)
// until the single write lock is available or ctx is cancelled.
func (s *Store) NewWriteTx(ctx context.Context) (*WriteTx, error) {
	if err := s.writeLock.Lock(ctx); err != nil {
		return nil, err
	}
	txn := s.db.NewTransaction(true)
	return &WriteTx{
		ReadTx:   ReadTx{store: s, txn: txn},
		oldHeads: make(map[string]hash.Hash),
		sawHead:  make(map[string]bool),
		newTxnChunks: make(map[hash.Hash]*Chunk),
		done:     false,
	}, nil
}

func (s *Store) loadChunk(txn *badger.Txn, h hash.Hash) (*Chunk, bool, error) {
	if h.IsZero() {
		return nil, false, nil
	}
	if c, ok := s.mem.Get(h); ok {
		return c, true, nil
	}

	item, err := txn.Get(s.keyEnc.EncodeChunkKey(h))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dag: get chunk %s: %w", h, err)
	}

	var packed []byte
	err = item.Value(func(val []byte) error {
		packed = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("dag: read chunk %s: %w", h, err)
	}

	raw, err := s.compressor.Unpack(packed)
	if err != nil {
		return nil, false, err
	}
	chunk, err := s.codec.Decode(h, raw)
	if err != nil {
		return nil, false, err
	}
	s.mem.Put(chunk)
	return chunk, true, nil
}

func (s *Store) storeChunk(txn *badger.Txn, c *Chunk) error {
	raw, err := s.codec.Encode(c)
	if err != nil {
		return err
	}
	packed := s.compressor.Pack(raw)
	if err := txn.Set(s.keyEnc.EncodeChunkKey(c.Hash), packed); err != nil {
		return fmt.Errorf("dag: put chunk %s: %w", c.Hash, err)
	}
	return nil
}

func (s *Store) loadHead(txn *badger.Txn, name string) (hash.Hash, bool, error) {
	item, err := txn.Get(s.keyEnc.EncodeHeadKey(name))
	if err == badger.ErrKeyNotFound {
		return hash.Hash{}, false, nil
	}
	if err != nil {
		return hash.Hash{}, false, fmt.Errorf("dag: get head %q: %w", name, err)
	}
	var h hash.Hash
	err = item.Value(func(val []byte) error {
		return h.UnmarshalText(val)
	})
	if err != nil {
		return hash.Hash{}, false, fmt.Errorf("dag: decode head %q: %w", name, err)
	}
	return h, true, nil
}

// StartAutoGC starts a periodic background GC sweep driven by a ticker at
// cfg.GCInterval, stoppable via StopAutoGC.
func (s *Store) StartAutoGC() {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()
	if s.gcRunning || s.cfg.GCInterval <= 0 {
		return
	}
	s.gcRunning = true
	s.gcStop = make(chan struct{})
	go s.runAutoGC(s.gcStop)
}

// StopAutoGC stops the periodic GC sweep started by StartAutoGC.
func (s *Store) StopAutoGC() {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()
	if !s.gcRunning {
		return
	}
	close(s.gcStop)
	s.gcRunning = false
}

func (s *Store) runAutoGC(stop chan struct{}) {
	ticker := time.NewTicker(time.Duration(s.cfg.GCInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = s.RunGC()
		}
	}
}

// RunGC reclaims Badger's own value-log space via RunValueLogGC, repeating
// until Badger reports nothing left to rewrite. Zero-refcount chunks are
// collected incrementally on every write (see gc.go); RunGC does not scan
// the refcount index and does not recompute or re-collect refcounts.
func (s *Store) RunGC() error {
	ratio := s.cfg.GCDiscardRatio
	if ratio <= 0 {
		ratio = 0.5
	}
	for {
		err := s.db.RunValueLogGC(ratio)
		if err == badger.ErrNoRewrite || err == badger.ErrRejected {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dag: run gc: %w", err)
		}
	}
}
