package dag

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressor wraps a reusable zstd encoder/decoder pair for chunk payloads
// above Config.CompressionThreshold. Badger itself carries klauspost/compress
// transitively for its own value-log codec; wiring it directly here lets
// large snapshot chunks (wide rows, big index fan-out) actually shrink on
// disk instead of only benefiting Badger's internal storage.
type compressor struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// byte marker prefixed to compressed payloads so Decode can tell compressed
// from raw chunk bytes apart without consulting Config.
const (
	markerRaw        byte = 0
	markerCompressed byte = 1
)

func newCompressor(threshold int) (*compressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("dag: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("dag: create zstd decoder: %w", err)
	}
	return &compressor{threshold: threshold, enc: enc, dec: dec}, nil
}

func (c *compressor) Close() {
	if c == nil {
		return
	}
	c.enc.Close()
	c.dec.Close()
}

// Pack prefixes data with a marker byte, compressing it first if it meets
// the configured threshold and compression actually shrinks it.
func (c *compressor) Pack(data []byte) []byte {
	if c == nil || c.threshold <= 0 || len(data) < c.threshold {
		return append([]byte{markerRaw}, data...)
	}
	compressed := c.enc.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return append([]byte{markerRaw}, data...)
	}
	return append([]byte{markerCompressed}, compressed...)
}

// Unpack reverses Pack.
func (c *compressor) Unpack(packed []byte) ([]byte, error) {
	if len(packed) == 0 {
		return nil, nil
	}
	marker, payload := packed[0], packed[1:]
	switch marker {
	case markerRaw:
		return payload, nil
	case markerCompressed:
		if c == nil {
			return nil, fmt.Errorf("dag: compressed payload but no decoder configured")
		}
		out, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("dag: decompress chunk: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dag: unknown chunk payload marker %d", marker)
	}
}
