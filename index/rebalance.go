package index

import (
	"github.com/jobala/pysqlite/storage/disk"
	"github.com/jobala/pysqlite/util"
)

// rebalance restores the fill invariant after a deletion left the child at
// slot idx under minFill: borrow one cell from an adjacent sibling when the
// sibling can spare it, otherwise merge the two and drop the separator.
func (t *Tree) rebalance(parent *node, idx int, child *node) error {
	var left, right *node
	var err error

	if idx > 0 {
		if left, err = t.load(childAt(parent, idx-1)); err != nil {
			return err
		}
	}
	if idx < len(parent.cells) {
		if right, err = t.load(childAt(parent, idx+1)); err != nil {
			return err
		}
	}

	if left != nil && canDonate(left) {
		return t.borrowFromLeft(parent, idx, left, child)
	}
	if right != nil && canDonate(right) {
		return t.borrowFromRight(parent, idx, child, right)
	}

	// merge with a sibling; prefer the right one
	if right != nil && t.mergedSize(child, right, parent.cells[idx].key) <= disk.PAGE_SIZE {
		return t.merge(parent, idx, child, right)
	}
	if left != nil && t.mergedSize(left, child, parent.cells[idx-1].key) <= disk.PAGE_SIZE {
		return t.merge(parent, idx-1, left, child)
	}

	// neither merge fits, so a sibling must be cell-rich enough to donate
	// even if that dips it slightly below the fill target
	if left != nil && len(left.cells) > 1 {
		return t.borrowFromLeft(parent, idx, left, child)
	}
	if right != nil && len(right.cells) > 1 {
		return t.borrowFromRight(parent, idx, child, right)
	}

	return util.Errorf(util.INTERNAL, "cannot rebalance page %d", child.pageNo)
}

func canDonate(n *node) bool {
	if len(n.cells) < 2 {
		return false
	}

	last := &n.cells[len(n.cells)-1]
	cost := 2 + len(last.key) + 4
	if n.isLeaf() {
		cost += 4 + len(last.payload)
	}
	return n.encodedSize()-cost >= minFill
}

// borrowFromLeft moves the left sibling's last cell into the front of
// child and updates the separator between them.
func (t *Tree) borrowFromLeft(parent *node, idx int, left, child *node) error {
	sepIdx := idx - 1
	last := len(left.cells) - 1

	if child.isLeaf() {
		moved := left.cells[last]
		left.cells = left.cells[:last]

		child.cells = append([]cell{moved}, child.cells...)
		parent.cells[sepIdx].key = moved.key
	} else {
		moved := cell{key: parent.cells[sepIdx].key, child: left.rightChild}
		child.cells = append([]cell{moved}, child.cells...)

		parent.cells[sepIdx].key = left.cells[last].key
		left.rightChild = left.cells[last].child
		left.cells = left.cells[:last]
	}

	return t.storeAll(left, child, parent)
}

// borrowFromRight moves the right sibling's first cell onto the end of
// child and updates the separator between them.
func (t *Tree) borrowFromRight(parent *node, idx int, child, right *node) error {
	if child.isLeaf() {
		moved := right.cells[0]
		right.cells = right.cells[1:]

		child.cells = append(child.cells, moved)
		parent.cells[idx].key = right.cells[0].key
	} else {
		child.cells = append(child.cells, cell{key: parent.cells[idx].key, child: child.rightChild})
		child.rightChild = right.cells[0].child

		parent.cells[idx].key = right.cells[0].key
		right.cells = right.cells[1:]
	}

	return t.storeAll(child, right, parent)
}

// merge folds b into a (its left neighbor) and removes the separator cell
// at sepIdx from the parent.
func (t *Tree) merge(parent *node, sepIdx int, a, b *node) error {
	if !a.isLeaf() {
		a.cells = append(a.cells, cell{key: parent.cells[sepIdx].key, child: a.rightChild})
		a.rightChild = b.rightChild
	}
	a.cells = append(a.cells, b.cells...)

	// whatever pointed at b now points at the merged node
	if sepIdx+1 < len(parent.cells) {
		parent.cells[sepIdx+1].child = a.pageNo
	} else {
		parent.rightChild = a.pageNo
	}
	parent.cells = append(parent.cells[:sepIdx], parent.cells[sepIdx+1:]...)

	if err := t.storeAll(a, parent); err != nil {
		return err
	}
	return t.pager.Free(b.pageNo)
}

func (t *Tree) mergedSize(a, b *node, sep []byte) int {
	size := a.encodedSize() + b.encodedSize()
	if a.isLeaf() {
		return size - leafHeaderSize
	}
	return size - interiorHeaderSize + 2 + len(sep) + 4
}

func (t *Tree) storeAll(nodes ...*node) error {
	for _, n := range nodes {
		if err := t.store(n); err != nil {
			return err
		}
	}
	return nil
}
