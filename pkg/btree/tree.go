package btree

import (
	"bytes"
	"sort"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// IsEmpty reports whether root names an empty tree.
func IsEmpty(root hash.Hash) bool {
	return root.IsZero()
}

// Get returns the value stored at key, if any.
func Get(r ChunkReader, root hash.Hash, key []byte) (value []byte, ok bool, err error) {
	if IsEmpty(root) {
		return nil, false, nil
	}
	n, err := getNode(r, root)
	if err != nil {
		return nil, false, err
	}
	for {
		if n.Leaf {
			i := sort.Search(len(n.Entries), func(i int) bool { return bytes.Compare(n.Entries[i].Key, key) >= 0 })
			if i < len(n.Entries) && bytes.Equal(n.Entries[i].Key, key) {
				return n.Entries[i].Value, true, nil
			}
			return nil, false, nil
		}
		i := childIndexFor(n, key)
		n, err = getNode(r, n.Children[i].Hash)
		if err != nil {
			return nil, false, err
		}
	}
}

// Has reports whether key is present.
func Has(r ChunkReader, root hash.Hash, key []byte) (bool, error) {
	_, ok, err := Get(r, root, key)
	return ok, err
}

// childIndexFor returns the index of the child subtree that would contain
// key: the last child whose separator key is <= key (or 0 if key precedes
// every separator).
func childIndexFor(n *node, key []byte) int {
	i := sort.Search(len(n.Children), func(i int) bool { return bytes.Compare(n.Children[i].Key, key) > 0 })
	if i == 0 {
		return 0
	}
	return i - 1
}
