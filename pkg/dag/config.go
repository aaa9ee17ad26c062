package dag

// Config configures a Store's perdag and memdag behavior.
type Config struct {
	// DataDir is the Badger perdag directory. Ignored if InMemory is true.
	DataDir string

	// InMemory runs the perdag purely in memory (useful for tests and
	// short-lived demo processes).
	InMemory bool

	// MemdagCapacity bounds the number of decoded chunks cached in the
	// in-memory memdag layer. Eviction is plain LRU; eviction never
	// affects correctness since any evicted chunk is refetched from the
	// perdag by its content hash.
	MemdagCapacity int

	// CompressionThreshold is the minimum chunk payload size, in bytes,
	// above which chunk data is zstd-compressed before being written to
	// the perdag. Zero disables compression.
	CompressionThreshold int

	// GCInterval is the interval, in seconds, between automatic GC sweeps
	// started by Store.StartAutoGC. Zero disables the ticker (GC can
	// still be triggered on demand via Store.RunGC).
	GCInterval int

	// GCDiscardRatio is the minimum stale-space fraction Badger's value
	// log GC requires before rewriting a log file, per
	// badger.DB.RunValueLogGC.
	GCDiscardRatio float64
}

// DefaultConfig returns sensible defaults for a perdag rooted at dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		DataDir:              dir,
		InMemory:             dir == "",
		MemdagCapacity:       10000,
		CompressionThreshold: 4096,
		GCInterval:           300,
		GCDiscardRatio:       0.5,
	}
}
