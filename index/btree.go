// Package index implements the B+tree that backs every table and every
// secondary index. Keys are order-preserving byte strings; all payloads
// live in leaves, interior nodes only route.
package index

import (
	"bytes"
	"sort"

	"github.com/jobala/pysqlite/storage/disk"
	"github.com/jobala/pysqlite/storage/pager"
	"github.com/jobala/pysqlite/util"
)

func NewTree(p *pager.Pager, root uint32, isIndex bool) *Tree {
	t := &Tree{pager: p, root: root}
	if isIndex {
		t.leafType = pager.PAGE_INDEX_LEAF
		t.interiorType = pager.PAGE_INDEX_INTERIOR
	} else {
		t.leafType = pager.PAGE_TABLE_LEAF
		t.interiorType = pager.PAGE_TABLE_INTERIOR
	}
	return t
}

// Create allocates an empty leaf root for a new tree. The root page number
// never changes afterwards: splits grow the tree underneath it.
func Create(p *pager.Pager, isIndex bool) (uint32, error) {
	pageNo, err := p.Allocate()
	if err != nil {
		return 0, err
	}

	t := NewTree(p, pageNo, isIndex)
	root := &node{pageNo: pageNo, typ: t.leafType}
	if err := t.store(root); err != nil {
		return 0, err
	}

	return pageNo, nil
}

func (t *Tree) Root() uint32 {
	return t.root
}

func (t *Tree) load(pageNo uint32) (*node, error) {
	page, err := t.pager.Get(pageNo)
	if err != nil {
		return nil, err
	}
	return decodeNode(pageNo, page)
}

func (t *Tree) store(n *node) error {
	if err := t.pager.MarkDirty(n.pageNo); err != nil {
		return err
	}
	page, err := t.pager.Get(n.pageNo)
	if err != nil {
		return err
	}
	return n.encode(page)
}

// Search returns the payload stored under key.
func (t *Tree) Search(key []byte) ([]byte, bool, error) {
	n, err := t.load(t.root)
	if err != nil {
		return nil, false, err
	}

	for !n.isLeaf() {
		child := childAt(n, findChildIdx(n, key))
		if n, err = t.load(child); err != nil {
			return nil, false, err
		}
	}

	pos, exact := leafPos(n, key)
	if !exact {
		return nil, false, nil
	}

	payload, err := t.readPayload(&n.cells[pos])
	return payload, true, err
}

// Insert adds (key, payload) to the tree. Without replace, an existing key
// fails with CONSTRAINT; with replace, its payload is overwritten.
func (t *Tree) Insert(key, payload []byte, replace bool) error {
	if len(key) > maxKeySize {
		return util.Errorf(util.CONSTRAINT, "key of %d bytes exceeds the %d byte limit", len(key), maxKeySize)
	}

	t.modCount++

	sp, err := t.insertInto(t.root, key, payload, replace)
	if err != nil {
		return err
	}
	if sp == nil {
		return nil
	}

	// root split: the old root became the left half in place; move it out
	// to a fresh page and turn the root page into an interior node so the
	// root page number stays stable
	left, err := t.load(t.root)
	if err != nil {
		return err
	}
	newLeft, err := t.pager.Allocate()
	if err != nil {
		return err
	}
	left.pageNo = newLeft
	if err := t.store(left); err != nil {
		return err
	}

	root := &node{
		pageNo:     t.root,
		typ:        t.interiorType,
		cells:      []cell{{key: sp.sep, child: newLeft}},
		rightChild: sp.right,
	}
	return t.store(root)
}

type split struct {
	sep   []byte
	right uint32
}

func (t *Tree) insertInto(pageNo uint32, key, payload []byte, replace bool) (*split, error) {
	n, err := t.load(pageNo)
	if err != nil {
		return nil, err
	}

	if n.isLeaf() {
		pos, exact := leafPos(n, key)
		if exact {
			if !replace {
				return nil, util.Errorf(util.CONSTRAINT, "duplicate key")
			}
			if err := t.freeOverflow(n.cells[pos].overflow); err != nil {
				return nil, err
			}
			c, err := t.makeCell(key, payload)
			if err != nil {
				return nil, err
			}
			n.cells[pos] = c
		} else {
			c, err := t.makeCell(key, payload)
			if err != nil {
				return nil, err
			}
			n.cells = append(n.cells, cell{})
			copy(n.cells[pos+1:], n.cells[pos:])
			n.cells[pos] = c
		}

		if n.encodedSize() > disk.PAGE_SIZE {
			return t.splitLeaf(n)
		}
		return nil, t.store(n)
	}

	idx := findChildIdx(n, key)
	sp, err := t.insertInto(childAt(n, idx), key, payload, replace)
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return nil, nil
	}

	// the child split: its old page keeps the keys below sep, the new page
	// takes the rest
	if idx < len(n.cells) {
		newCell := cell{key: sp.sep, child: n.cells[idx].child}
		n.cells[idx].child = sp.right
		n.cells = append(n.cells, cell{})
		copy(n.cells[idx+1:], n.cells[idx:])
		n.cells[idx] = newCell
	} else {
		n.cells = append(n.cells, cell{key: sp.sep, child: n.rightChild})
		n.rightChild = sp.right
	}

	if n.encodedSize() > disk.PAGE_SIZE {
		return t.splitInterior(n)
	}
	return nil, t.store(n)
}

// splitLeaf moves the upper half of a leaf's cells to a new leaf and
// promotes the new leaf's first key as the separator.
func (t *Tree) splitLeaf(n *node) (*split, error) {
	mid := splitPoint(n)

	rightPage, err := t.pager.Allocate()
	if err != nil {
		return nil, err
	}

	right := &node{pageNo: rightPage, typ: n.typ}
	right.cells = append(right.cells, n.cells[mid:]...)
	n.cells = n.cells[:mid]

	if err := t.store(n); err != nil {
		return nil, err
	}
	if err := t.store(right); err != nil {
		return nil, err
	}

	return &split{sep: right.cells[0].key, right: rightPage}, nil
}

// splitInterior promotes the middle cell's key; its child becomes the left
// half's rightmost child.
func (t *Tree) splitInterior(n *node) (*split, error) {
	mid := splitPoint(n)
	if mid == len(n.cells)-1 {
		mid--
	}

	rightPage, err := t.pager.Allocate()
	if err != nil {
		return nil, err
	}

	sep := n.cells[mid].key
	right := &node{pageNo: rightPage, typ: n.typ, rightChild: n.rightChild}
	right.cells = append(right.cells, n.cells[mid+1:]...)

	n.rightChild = n.cells[mid].child
	n.cells = n.cells[:mid]

	if err := t.store(n); err != nil {
		return nil, err
	}
	if err := t.store(right); err != nil {
		return nil, err
	}

	return &split{sep: sep, right: rightPage}, nil
}

// splitPoint picks the first index at which the cells before it hold at
// least half the node's content, keeping both halves non-empty, then
// nudges the point until each half fits a page on its own.
func splitPoint(n *node) int {
	sizes := make([]int, len(n.cells))
	total := 0
	for i := range n.cells {
		c := &n.cells[i]
		if n.isLeaf() {
			sizes[i] = 2 + len(c.key) + 4 + len(c.payload) + 4
		} else {
			sizes[i] = 2 + len(c.key) + 4
		}
		total += sizes[i]
	}

	mid := len(n.cells) - 1
	acc := 0
	for i, size := range sizes {
		acc += size
		if acc >= total/2 {
			if i+1 < len(n.cells) {
				mid = i + 1
			}
			break
		}
	}

	half := func(from, to int) int {
		sum := interiorHeaderSize
		for i := from; i < to; i++ {
			sum += sizes[i]
		}
		return sum
	}
	for mid > 1 && half(0, mid) > disk.PAGE_SIZE {
		mid--
	}
	for mid < len(n.cells)-1 && half(mid, len(n.cells)) > disk.PAGE_SIZE {
		mid++
	}

	return mid
}

// Delete removes key from the tree, reporting whether it was present.
func (t *Tree) Delete(key []byte) (bool, error) {
	t.modCount++

	root, err := t.load(t.root)
	if err != nil {
		return false, err
	}

	found, err := t.deleteFrom(root, key)
	if err != nil || !found {
		return found, err
	}

	// shrink: an interior root left with a single child collapses into the
	// root page, reducing the tree's height by one
	root, err = t.load(t.root)
	if err != nil {
		return true, err
	}
	if !root.isLeaf() && len(root.cells) == 0 {
		child, err := t.load(root.rightChild)
		if err != nil {
			return true, err
		}
		oldPage := child.pageNo
		child.pageNo = t.root
		if err := t.store(child); err != nil {
			return true, err
		}
		if err := t.pager.Free(oldPage); err != nil {
			return true, err
		}
	}

	return true, nil
}

func (t *Tree) deleteFrom(n *node, key []byte) (bool, error) {
	if n.isLeaf() {
		pos, exact := leafPos(n, key)
		if !exact {
			return false, nil
		}
		if err := t.freeOverflow(n.cells[pos].overflow); err != nil {
			return false, err
		}
		n.cells = append(n.cells[:pos], n.cells[pos+1:]...)
		return true, t.store(n)
	}

	idx := findChildIdx(n, key)
	child, err := t.load(childAt(n, idx))
	if err != nil {
		return false, err
	}

	found, err := t.deleteFrom(child, key)
	if err != nil || !found {
		return found, err
	}

	if child.encodedSize() < minFill {
		return true, t.rebalance(n, idx, child)
	}
	return true, nil
}

func findChildIdx(n *node, key []byte) int {
	// keys equal to a separator live in the child to its right
	return sort.Search(len(n.cells), func(i int) bool {
		return bytes.Compare(key, n.cells[i].key) < 0
	})
}

func childAt(n *node, idx int) uint32 {
	if idx < len(n.cells) {
		return n.cells[idx].child
	}
	return n.rightChild
}

func leafPos(n *node, key []byte) (int, bool) {
	pos := sort.Search(len(n.cells), func(i int) bool {
		return bytes.Compare(n.cells[i].key, key) >= 0
	})
	exact := pos < len(n.cells) && bytes.Equal(n.cells[pos].key, key)
	return pos, exact
}

type Tree struct {
	pager        *pager.Pager
	root         uint32
	leafType     pager.PageType
	interiorType pager.PageType
	modCount     uint64
}
