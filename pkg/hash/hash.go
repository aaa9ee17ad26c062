// Package hash defines the content-address identifier used throughout the
// DAG store: a fixed-length opaque value derived from a chunk's bytes such
// that equal hashes imply equal chunks.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a Hash.
const Size = sha256.Size

// Hash is an opaque content identifier. The zero value is not a valid hash
// of any chunk and is used as a sentinel for "no hash".
type Hash [Size]byte

// Zero is the sentinel empty hash.
var Zero Hash

// IsZero reports whether h is the sentinel empty hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// String renders the hash as a lowercase hex string.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalJSON renders the hash as a quoted hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON parses a quoted hex string produced by MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("hash: invalid JSON hash %q", data)
	}
	return h.UnmarshalText(data[1 : len(data)-1])
}

// UnmarshalText parses a hex string into h.
func (h *Hash) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("hash: decode %q: %w", text, err)
	}
	if len(decoded) != Size {
		return fmt.Errorf("hash: want %d bytes, got %d", Size, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// FromHex parses a hex string into a Hash.
func FromHex(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// Of computes the content hash of a chunk's data together with its ordered
// ref list. Refs are folded into the digest (rather than hashed separately)
// so that a chunk whose refs change, even with identical data, addresses a
// distinct identity — refs are part of what the chunk "is" from the store's
// point of view.
func Of(data []byte, refs []Hash) Hash {
	h := sha256.New()

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	h.Write(lenBuf[:])
	h.Write(data)

	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(refs)))
	h.Write(lenBuf[:])
	for _, r := range refs {
		h.Write(r[:])
	}

	var out Hash
	h.Sum(out[:0])
	return out
}
