package index

import (
	"encoding/binary"

	"github.com/jobala/pysqlite/storage/disk"
	"github.com/jobala/pysqlite/storage/pager"
	"github.com/jobala/pysqlite/util"
)

// Node layout. Leaf pages:
//
//	[type u8][cell count u16]
//	cell: [key len u16][key][payload len u32][local payload][overflow page u32]
//
// Interior pages:
//
//	[type u8][cell count u16][rightmost child u32]
//	cell: [key len u16][key][child page u32]
//
// A cell in an interior node routes keys below its key to its child; the
// rightmost child takes everything at or above the last cell key. Payloads
// longer than maxLocal keep their first maxLocal bytes in the leaf and
// spill the rest into an overflow chain.

const (
	leafHeaderSize     = 3
	interiorHeaderSize = 7

	// maxLocal bounds the in-leaf portion of a payload
	maxLocal = disk.PAGE_SIZE / 4

	// maxKeySize keeps any interior cell comfortably inside a page
	maxKeySize = disk.PAGE_SIZE / 8

	// a node underflows when its encoding shrinks below this
	minFill = disk.PAGE_SIZE / 4
)

type cell struct {
	key     []byte
	payload []byte // local part, leaf cells only
	total   uint32 // full payload length including overflow
	overflow uint32
	child   uint32 // interior cells only
}

type node struct {
	pageNo     uint32
	typ        pager.PageType
	cells      []cell
	rightChild uint32
}

func (n *node) isLeaf() bool {
	return n.typ == pager.PAGE_TABLE_LEAF || n.typ == pager.PAGE_INDEX_LEAF
}

func (n *node) encodedSize() int {
	if n.isLeaf() {
		size := leafHeaderSize
		for i := range n.cells {
			size += 2 + len(n.cells[i].key) + 4 + len(n.cells[i].payload) + 4
		}
		return size
	}

	size := interiorHeaderSize
	for i := range n.cells {
		size += 2 + len(n.cells[i].key) + 4
	}
	return size
}

func (n *node) encode(page []byte) error {
	if n.encodedSize() > len(page) {
		return util.Errorf(util.INTERNAL, "node for page %d exceeds page size", n.pageNo)
	}

	for i := range page {
		page[i] = 0
	}

	page[0] = n.typ
	binary.LittleEndian.PutUint16(page[1:], uint16(len(n.cells)))

	if n.isLeaf() {
		pos := leafHeaderSize
		for i := range n.cells {
			c := &n.cells[i]
			binary.LittleEndian.PutUint16(page[pos:], uint16(len(c.key)))
			pos += 2
			pos += copy(page[pos:], c.key)
			binary.LittleEndian.PutUint32(page[pos:], c.total)
			pos += 4
			pos += copy(page[pos:], c.payload)
			binary.LittleEndian.PutUint32(page[pos:], c.overflow)
			pos += 4
		}
		return nil
	}

	binary.LittleEndian.PutUint32(page[3:], n.rightChild)
	pos := interiorHeaderSize
	for i := range n.cells {
		c := &n.cells[i]
		binary.LittleEndian.PutUint16(page[pos:], uint16(len(c.key)))
		pos += 2
		pos += copy(page[pos:], c.key)
		binary.LittleEndian.PutUint32(page[pos:], c.child)
		pos += 4
	}
	return nil
}

func decodeNode(pageNo uint32, page []byte) (*node, error) {
	typ := page[0]
	switch typ {
	case pager.PAGE_TABLE_LEAF, pager.PAGE_INDEX_LEAF,
		pager.PAGE_TABLE_INTERIOR, pager.PAGE_INDEX_INTERIOR:
	default:
		return nil, util.Errorf(util.CORRUPT, "page %d has unexpected type 0x%02x", pageNo, typ)
	}

	n := &node{pageNo: pageNo, typ: typ}
	count := int(binary.LittleEndian.Uint16(page[1:]))
	n.cells = make([]cell, 0, count)

	if n.isLeaf() {
		pos := leafHeaderSize
		for i := 0; i < count; i++ {
			if pos+2 > len(page) {
				return nil, truncated(pageNo)
			}
			klen := int(binary.LittleEndian.Uint16(page[pos:]))
			pos += 2
			if pos+klen+4 > len(page) {
				return nil, truncated(pageNo)
			}
			key := append([]byte(nil), page[pos:pos+klen]...)
			pos += klen
			total := binary.LittleEndian.Uint32(page[pos:])
			pos += 4

			local := int(total)
			if local > maxLocal {
				local = maxLocal
			}
			if pos+local+4 > len(page) {
				return nil, truncated(pageNo)
			}
			payload := append([]byte(nil), page[pos:pos+local]...)
			pos += local
			overflow := binary.LittleEndian.Uint32(page[pos:])
			pos += 4

			n.cells = append(n.cells, cell{key: key, payload: payload, total: total, overflow: overflow})
		}
		return n, nil
	}

	n.rightChild = binary.LittleEndian.Uint32(page[3:])
	pos := interiorHeaderSize
	for i := 0; i < count; i++ {
		if pos+2 > len(page) {
			return nil, truncated(pageNo)
		}
		klen := int(binary.LittleEndian.Uint16(page[pos:]))
		pos += 2
		if pos+klen+4 > len(page) {
			return nil, truncated(pageNo)
		}
		key := append([]byte(nil), page[pos:pos+klen]...)
		pos += klen
		child := binary.LittleEndian.Uint32(page[pos:])
		pos += 4

		n.cells = append(n.cells, cell{key: key, child: child})
	}
	return n, nil
}

func truncated(pageNo uint32) error {
	return util.Errorf(util.CORRUPT, "page %d cell content runs past page end", pageNo)
}
