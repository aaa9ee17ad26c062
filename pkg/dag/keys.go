package dag

import (
	"strings"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// Key prefixes for the persistent state layout.
const (
	prefixHead        = "h/"
	prefixChunk       = "c/"
	prefixRefcount    = "rc/"
	prefixClient      = "client/"
	prefixClientGroup = "clientGroup/"
	prefixGot         = "g/"
)

// KeyEncoder turns logical perdag keys into the byte strings Badger stores.
type KeyEncoder struct{}

// NewKeyEncoder creates a new KeyEncoder.
func NewKeyEncoder() *KeyEncoder {
	return &KeyEncoder{}
}

// EncodeHeadKey encodes a head-name key: h/<name>.
func (e *KeyEncoder) EncodeHeadKey(name string) []byte {
	return []byte(prefixHead + name)
}

// DecodeHeadKey extracts the head name from a key previously produced by
// EncodeHeadKey.
func (e *KeyEncoder) DecodeHeadKey(key []byte) (name string, ok bool) {
	s := string(key)
	if !strings.HasPrefix(s, prefixHead) {
		return "", false
	}
	return s[len(prefixHead):], true
}

// EncodeChunkKey encodes a chunk key: c/<hash>.
func (e *KeyEncoder) EncodeChunkKey(h hash.Hash) []byte {
	return []byte(prefixChunk + h.String())
}

// EncodeRefcountKey encodes a refcount key: rc/<hash>.
func (e *KeyEncoder) EncodeRefcountKey(h hash.Hash) []byte {
	return []byte(prefixRefcount + h.String())
}

// EncodeClientKey encodes a client-record key: client/<clientID>.
func (e *KeyEncoder) EncodeClientKey(clientID string) []byte {
	return []byte(prefixClient + clientID)
}

// EncodeClientGroupKey encodes a client-group key: clientGroup/<clientGroupID>.
func (e *KeyEncoder) EncodeClientGroupKey(clientGroupID string) []byte {
	return []byte(prefixClientGroup + clientGroupID)
}

// EncodeGotKey encodes a "query was delivered" marker key: g/<queryHash>.
func (e *KeyEncoder) EncodeGotKey(queryHash string) []byte {
	return []byte(prefixGot + queryHash)
}
