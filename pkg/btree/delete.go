package btree

import (
	"bytes"
	"sort"

	"github.com/kasuganosora/rezync/pkg/hash"
)

func minChildren(order int) int { return (order + 1) / 2 }
func minLeafEntries(order int) int {
	m := minChildren(order) - 1
	if m < 1 {
		m = 1
	}
	return m
}

// Delete returns the hash of a new root with key removed. Deleting a
// non-existent key is a no-op: the returned hash equals root.
func Delete(w ChunkWriter, cfg *Config, root hash.Hash, key []byte) (hash.Hash, error) {
	if IsEmpty(root) {
		return root, nil
	}
	order := cfg.order()

	newHash, existed, _, err := deleteRec(w, order, root, key)
	if err != nil {
		return hash.Hash{}, err
	}
	if !existed {
		return root, nil
	}

	n, err := getNode(w, newHash)
	if err != nil {
		return hash.Hash{}, err
	}
	if n.Leaf && len(n.Entries) == 0 {
		return hash.Hash{}, nil
	}
	// Collapse internal root nodes left with a single child down to that
	// child, keeping the tree's height minimal.
	for !n.Leaf && len(n.Children) == 1 {
		newHash = n.Children[0].Hash
		n, err = getNode(w, newHash)
		if err != nil {
			return hash.Hash{}, err
		}
	}
	return newHash, nil
}

// deleteRec removes key from the subtree rooted at h. underflow reports
// whether the returned subtree now holds fewer than the minimum number of
// entries/children for a non-root node, signalling the caller to rebalance.
func deleteRec(w ChunkWriter, order int, h hash.Hash, key []byte) (newHash hash.Hash, existed bool, underflow bool, err error) {
	n, err := getNode(w, h)
	if err != nil {
		return hash.Hash{}, false, false, err
	}

	if n.Leaf {
		i := sort.Search(len(n.Entries), func(i int) bool { return bytes.Compare(n.Entries[i].Key, key) >= 0 })
		if i >= len(n.Entries) || !bytes.Equal(n.Entries[i].Key, key) {
			return h, false, false, nil
		}
		entries := append([]entry(nil), n.Entries[:i]...)
		entries = append(entries, n.Entries[i+1:]...)
		newH, err := putNode(w, &node{Leaf: true, Entries: entries})
		if err != nil {
			return hash.Hash{}, false, false, err
		}
		return newH, true, len(entries) < minLeafEntries(order), nil
	}

	idx := childIndexFor(n, key)
	childHash, existedChild, childUnderflow, err := deleteRec(w, order, n.Children[idx].Hash, key)
	if err != nil {
		return hash.Hash{}, false, false, err
	}
	if !existedChild {
		return h, false, false, nil
	}

	children := append([]childRef(nil), n.Children...)
	children[idx].Hash = childHash
	if !childUnderflow {
		if idx == 0 {
			childNode, err := getNode(w, childHash)
			if err != nil {
				return hash.Hash{}, false, false, err
			}
			children[idx].Key = childNode.minKey()
		}
		newH, err := putNode(w, &node{Children: children})
		if err != nil {
			return hash.Hash{}, false, false, err
		}
		return newH, true, false, nil
	}

	children, err = rebalance(w, order, children, idx)
	if err != nil {
		return hash.Hash{}, false, false, err
	}
	newH, err := putNode(w, &node{Children: children})
	if err != nil {
		return hash.Hash{}, false, false, err
	}
	return newH, true, len(children) < minChildren(order), nil
}

// rebalance repairs an underflowing child at index idx by borrowing an
// entry from a sibling with room to spare, or merging with one otherwise.
func rebalance(w ChunkWriter, order int, children []childRef, idx int) ([]childRef, error) {
	child, err := getNode(w, children[idx].Hash)
	if err != nil {
		return nil, err
	}

	if idx+1 < len(children) {
		right, err := getNode(w, children[idx+1].Hash)
		if err != nil {
			return nil, err
		}
		if canLend(right, order) {
			return borrowFromRight(w, children, idx, child, right)
		}
	}
	if idx > 0 {
		left, err := getNode(w, children[idx-1].Hash)
		if err != nil {
			return nil, err
		}
		if canLend(left, order) {
			return borrowFromLeft(w, children, idx, left, child)
		}
	}
	if idx+1 < len(children) {
		right, err := getNode(w, children[idx+1].Hash)
		if err != nil {
			return nil, err
		}
		return mergeChildren(w, children, idx, child, right)
	}
	left, err := getNode(w, children[idx-1].Hash)
	if err != nil {
		return nil, err
	}
	return mergeChildren(w, children, idx-1, left, child)
}

func canLend(n *node, order int) bool {
	if n.Leaf {
		return len(n.Entries) > minLeafEntries(order)
	}
	return len(n.Children) > minChildren(order)
}

func borrowFromRight(w ChunkWriter, children []childRef, idx int, child, right *node) ([]childRef, error) {
	var newChildHash, newRightHash hash.Hash
	var err error
	if child.Leaf {
		moved := right.Entries[0]
		newChild := &node{Leaf: true, Entries: append(append([]entry(nil), child.Entries...), moved)}
		newRight := &node{Leaf: true, Entries: append([]entry(nil), right.Entries[1:]...)}
		if newChildHash, err = putNode(w, newChild); err != nil {
			return nil, err
		}
		if newRightHash, err = putNode(w, newRight); err != nil {
			return nil, err
		}
	} else {
		moved := right.Children[0]
		newChild := &node{Children: append(append([]childRef(nil), child.Children...), moved)}
		newRight := &node{Children: append([]childRef(nil), right.Children[1:]...)}
		if newChildHash, err = putNode(w, newChild); err != nil {
			return nil, err
		}
		if newRightHash, err = putNode(w, newRight); err != nil {
			return nil, err
		}
	}
	out := append([]childRef(nil), children...)
	n, err := getNode(w, newChildHash)
	if err != nil {
		return nil, err
	}
	out[idx] = childRef{Key: n.minKey(), Hash: newChildHash}
	n2, err := getNode(w, newRightHash)
	if err != nil {
		return nil, err
	}
	out[idx+1] = childRef{Key: n2.minKey(), Hash: newRightHash}
	return out, nil
}

func borrowFromLeft(w ChunkWriter, children []childRef, idx int, left, child *node) ([]childRef, error) {
	var newLeftHash, newChildHash hash.Hash
	var err error
	if child.Leaf {
		moved := left.Entries[len(left.Entries)-1]
		newLeft := &node{Leaf: true, Entries: append([]entry(nil), left.Entries[:len(left.Entries)-1]...)}
		newChild := &node{Leaf: true, Entries: append([]entry{moved}, child.Entries...)}
		if newLeftHash, err = putNode(w, newLeft); err != nil {
			return nil, err
		}
		if newChildHash, err = putNode(w, newChild); err != nil {
			return nil, err
		}
	} else {
		moved := left.Children[len(left.Children)-1]
		newLeft := &node{Children: append([]childRef(nil), left.Children[:len(left.Children)-1]...)}
		newChild := &node{Children: append([]childRef{moved}, child.Children...)}
		if newLeftHash, err = putNode(w, newLeft); err != nil {
			return nil, err
		}
		if newChildHash, err = putNode(w, newChild); err != nil {
			return nil, err
		}
	}
	out := append([]childRef(nil), children...)
	n, err := getNode(w, newLeftHash)
	if err != nil {
		return nil, err
	}
	out[idx-1] = childRef{Key: n.minKey(), Hash: newLeftHash}
	n2, err := getNode(w, newChildHash)
	if err != nil {
		return nil, err
	}
	out[idx] = childRef{Key: n2.minKey(), Hash: newChildHash}
	return out, nil
}

// mergeChildren combines the child at leftIdx with its right neighbour into
// a single node, removing one entry from children.
func mergeChildren(w ChunkWriter, children []childRef, leftIdx int, left, right *node) ([]childRef, error) {
	var mergedHash hash.Hash
	var err error
	if left.Leaf {
		merged := &node{Leaf: true, Entries: append(append([]entry(nil), left.Entries...), right.Entries...)}
		if mergedHash, err = putNode(w, merged); err != nil {
			return nil, err
		}
	} else {
		merged := &node{Children: append(append([]childRef(nil), left.Children...), right.Children...)}
		if mergedHash, err = putNode(w, merged); err != nil {
			return nil, err
		}
	}
	n, err := getNode(w, mergedHash)
	if err != nil {
		return nil, err
	}
	out := make([]childRef, 0, len(children)-1)
	out = append(out, children[:leftIdx]...)
	out = append(out, childRef{Key: n.minKey(), Hash: mergedHash})
	out = append(out, children[leftIdx+2:]...)
	return out, nil
}
