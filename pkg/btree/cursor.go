package btree

import (
	"bytes"

	"github.com/kasuganosora/rezync/pkg/hash"
)

// ScanOptions constrains a Scan to a contiguous key range.
type ScanOptions struct {
	// Prefix, if set, restricts the scan to keys >= Prefix and < the
	// lexicographic successor of Prefix.
	Prefix []byte
	// Start, if set, further restricts the scan to keys >= Start.
	Start []byte
	// Limit caps the number of entries returned; 0 means unlimited.
	Limit int
	// Reverse walks the range from its high end to its low end.
	Reverse bool
}

// Cursor is a restartable scan result closed over the root hash it was
// created against: later writes to the tree never change what a live
// Cursor yields, since the nodes it reads are immutable content-addressed
// chunks.
type Cursor struct {
	items []entry
	pos   int
}

// Next advances the cursor, returning false once exhausted.
func (c *Cursor) Next() bool {
	if c.pos >= len(c.items) {
		return false
	}
	c.pos++
	return true
}

// Key returns the current entry's key. Valid only after a true-returning
// Next.
func (c *Cursor) Key() []byte { return c.items[c.pos-1].Key }

// Value returns the current entry's value. Valid only after a
// true-returning Next.
func (c *Cursor) Value() []byte { return c.items[c.pos-1].Value }

// Len reports how many entries the cursor will yield in total.
func (c *Cursor) Len() int { return len(c.items) }

// Scan opens a cursor over root constrained by opts.
func Scan(r ChunkReader, root hash.Hash, opts ScanOptions) (*Cursor, error) {
	if IsEmpty(root) {
		return &Cursor{}, nil
	}

	lower := opts.Start
	if opts.Prefix != nil && bytes.Compare(opts.Prefix, lower) > 0 {
		lower = opts.Prefix
	}
	var upper []byte
	hasUpper := false
	if opts.Prefix != nil {
		if end := prefixUpperBound(opts.Prefix); end != nil {
			upper, hasUpper = end, true
		}
	}

	var items []entry
	err := collect(r, root, lower, upper, hasUpper, opts.Limit, opts.Reverse, &items)
	if err != nil {
		return nil, err
	}
	return &Cursor{items: items}, nil
}

func collect(r ChunkReader, h hash.Hash, lower, upper []byte, hasUpper bool, limit int, reverse bool, out *[]entry) error {
	if limit > 0 && len(*out) >= limit {
		return nil
	}
	n, err := getNode(r, h)
	if err != nil {
		return err
	}

	if n.Leaf {
		if reverse {
			for i := len(n.Entries) - 1; i >= 0; i-- {
				e := n.Entries[i]
				if inRange(e.Key, lower, upper, hasUpper) {
					*out = append(*out, e)
					if limit > 0 && len(*out) >= limit {
						return nil
					}
				}
			}
		} else {
			for _, e := range n.Entries {
				if inRange(e.Key, lower, upper, hasUpper) {
					*out = append(*out, e)
					if limit > 0 && len(*out) >= limit {
						return nil
					}
				}
			}
		}
		return nil
	}

	indices := childSubsetInRange(n, lower, upper, hasUpper)
	if reverse {
		for i := len(indices) - 1; i >= 0; i-- {
			if err := collect(r, n.Children[indices[i]].Hash, lower, upper, hasUpper, limit, reverse, out); err != nil {
				return err
			}
			if limit > 0 && len(*out) >= limit {
				return nil
			}
		}
	} else {
		for _, idx := range indices {
			if err := collect(r, n.Children[idx].Hash, lower, upper, hasUpper, limit, reverse, out); err != nil {
				return err
			}
			if limit > 0 && len(*out) >= limit {
				return nil
			}
		}
	}
	return nil
}

// childSubsetInRange returns the indices of children whose subtree can
// possibly contain a key in [lower, upper), pruning subtrees that provably
// fall entirely outside the range by comparing separator keys.
func childSubsetInRange(n *node, lower, upper []byte, hasUpper bool) []int {
	start := 0
	if lower != nil {
		start = childIndexFor(n, lower)
	}
	end := len(n.Children) - 1
	if hasUpper {
		for i := start; i < len(n.Children); i++ {
			if bytes.Compare(n.Children[i].Key, upper) >= 0 {
				end = i - 1
				break
			}
		}
	}
	if end < start {
		return nil
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out
}

func inRange(key, lower, upper []byte, hasUpper bool) bool {
	if lower != nil && bytes.Compare(key, lower) < 0 {
		return false
	}
	if hasUpper && bytes.Compare(key, upper) >= 0 {
		return false
	}
	return true
}

// prefixUpperBound returns the lexicographically smallest key guaranteed
// greater than every key with the given prefix, or nil if no such finite
// bound exists (prefix is empty or all 0xFF).
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
