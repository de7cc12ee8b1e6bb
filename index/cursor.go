package index

import (
	"github.com/jobala/pysqlite/util"
)

// A Cursor is a root-to-leaf path plus an index within the leaf. Any
// structural change to the tree invalidates every open cursor on it, which
// must then re-seek.

type frame struct {
	pageNo uint32
	idx    int
}

func (t *Tree) NewCursor() *Cursor {
	return &Cursor{tree: t, modCount: t.modCount}
}

// First positions the cursor so Next returns the smallest key.
func (c *Cursor) First() error {
	c.stack = c.stack[:0]
	return c.descendLeft(c.tree.root)
}

// Seek positions the cursor so Next returns the first key >= target.
func (c *Cursor) Seek(key []byte) error {
	c.stack = c.stack[:0]

	pageNo := c.tree.root
	for {
		n, err := c.tree.load(pageNo)
		if err != nil {
			return err
		}

		if n.isLeaf() {
			pos, _ := leafPos(n, key)
			c.stack = append(c.stack, frame{pageNo: pageNo, idx: pos})
			return nil
		}

		idx := findChildIdx(n, key)
		c.stack = append(c.stack, frame{pageNo: pageNo, idx: idx})
		pageNo = childAt(n, idx)
	}
}

// Next returns the entry under the cursor and advances, walking leaf cells
// in order and ascending/redescending at leaf boundaries.
func (c *Cursor) Next() ([]byte, []byte, bool, error) {
	if c.modCount != c.tree.modCount {
		return nil, nil, false, util.Errorf(util.INTERNAL, "cursor invalidated by tree modification, re-seek required")
	}

	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		n, err := c.tree.load(top.pageNo)
		if err != nil {
			return nil, nil, false, err
		}

		if n.isLeaf() {
			if top.idx < len(n.cells) {
				cl := &n.cells[top.idx]
				top.idx++

				payload, err := c.tree.readPayload(cl)
				if err != nil {
					return nil, nil, false, err
				}
				return cl.key, payload, true, nil
			}
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}

		// interior: move to the next child or give this level up
		top.idx++
		if top.idx <= len(n.cells) {
			if err := c.descendLeft(childAt(n, top.idx)); err != nil {
				return nil, nil, false, err
			}
			continue
		}
		c.stack = c.stack[:len(c.stack)-1]
	}

	return nil, nil, false, nil
}

// descendLeft pushes the path to the leftmost leaf under pageNo.
func (c *Cursor) descendLeft(pageNo uint32) error {
	for {
		n, err := c.tree.load(pageNo)
		if err != nil {
			return err
		}

		c.stack = append(c.stack, frame{pageNo: pageNo, idx: 0})
		if n.isLeaf() {
			return nil
		}
		pageNo = childAt(n, 0)
	}
}

type Cursor struct {
	tree     *Tree
	stack    []frame
	modCount uint64
}
