package btree

import (
	"bytes"
	"sort"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// Put returns the hash of a new root reflecting key set to value; the old
// root remains valid and untouched (copy-on-write). An idempotent put of an
// equal value reproduces the same subtree bytes and therefore the same
// hash, since nodes are content-addressed.
func Put(w ChunkWriter, cfg *Config, root hash.Hash, key, value []byte) (hash.Hash, error) {
	order := cfg.order()
	if IsEmpty(root) {
		return putNode(w, &node{Leaf: true, Entries: []entry{{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}}})
	}

	newHash, splitKey, splitHash, split, err := insertRec(w, order, root, key, value)
	if err != nil {
		return hash.Hash{}, err
	}
	if !split {
		return newHash, nil
	}

	leftNode, err := getNode(w, newHash)
	if err != nil {
		return hash.Hash{}, err
	}
	return putNode(w, &node{Children: []childRef{
		{Key: leftNode.minKey(), Hash: newHash},
		{Key: splitKey, Hash: splitHash},
	}})
}

// insertRec inserts (key, value) under the subtree rooted at h, returning
// the new subtree root. If the subtree had to split, split is true and
// (splitKey, splitHash) describe the new right sibling produced alongside
// the returned left sibling.
func insertRec(w ChunkWriter, order int, h hash.Hash, key, value []byte) (newHash hash.Hash, splitKey []byte, splitHash hash.Hash, split bool, err error) {
	n, err := getNode(w, h)
	if err != nil {
		return hash.Hash{}, nil, hash.Hash{}, false, err
	}

	if n.Leaf {
		i := sort.Search(len(n.Entries), func(i int) bool { return bytes.Compare(n.Entries[i].Key, key) >= 0 })
		entries := append([]entry(nil), n.Entries...)
		e := entry{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
		if i < len(entries) && bytes.Equal(entries[i].Key, key) {
			entries[i] = e
		} else {
			entries = append(entries, entry{})
			copy(entries[i+1:], entries[i:])
			entries[i] = e
		}

		if len(entries) <= order-1 {
			h, err := putNode(w, &node{Leaf: true, Entries: entries})
			return h, nil, hash.Hash{}, false, err
		}

		mid := len(entries) / 2
		leftHash, err := putNode(w, &node{Leaf: true, Entries: entries[:mid]})
		if err != nil {
			return hash.Hash{}, nil, hash.Hash{}, false, err
		}
		rightHash, err := putNode(w, &node{Leaf: true, Entries: entries[mid:]})
		if err != nil {
			return hash.Hash{}, nil, hash.Hash{}, false, err
		}
		return leftHash, entries[mid].Key, rightHash, true, nil
	}

	idx := childIndexFor(n, key)
	childHash, childSplitKey, childSplitHash, childSplit, err := insertRec(w, order, n.Children[idx].Hash, key, value)
	if err != nil {
		return hash.Hash{}, nil, hash.Hash{}, false, err
	}

	children := append([]childRef(nil), n.Children...)
	if !childSplit {
		children[idx].Hash = childHash
		if idx == 0 {
			childNode, err := getNode(w, childHash)
			if err != nil {
				return hash.Hash{}, nil, hash.Hash{}, false, err
			}
			children[idx].Key = childNode.minKey()
		}
		h, err := putNode(w, &node{Children: children})
		return h, nil, hash.Hash{}, false, err
	}

	leftChildNode, err := getNode(w, childHash)
	if err != nil {
		return hash.Hash{}, nil, hash.Hash{}, false, err
	}
	children[idx] = childRef{Key: leftChildNode.minKey(), Hash: childHash}
	inserted := make([]childRef, 0, len(children)+1)
	inserted = append(inserted, children[:idx+1]...)
	inserted = append(inserted, childRef{Key: childSplitKey, Hash: childSplitHash})
	inserted = append(inserted, children[idx+1:]...)

	if len(inserted) <= order {
		h, err := putNode(w, &node{Children: inserted})
		return h, nil, hash.Hash{}, false, err
	}

	mid := len(inserted) / 2
	leftHash, err := putNode(w, &node{Children: inserted[:mid]})
	if err != nil {
		return hash.Hash{}, nil, hash.Hash{}, false, err
	}
	rightHash, err := putNode(w, &node{Children: inserted[mid:]})
	if err != nil {
		return hash.Hash{}, nil, hash.Hash{}, false, err
	}
	return leftHash, inserted[mid].Key, rightHash, true, nil
}
