package index

import (
	"encoding/binary"

	"github.com/jobala/pysqlite/storage/disk"
	"github.com/jobala/pysqlite/storage/pager"
	"github.com/jobala/pysqlite/util"
)

// Overflow page layout: [type u8][next page u32][len u16][data].

const overflowHeaderSize = 7

const overflowCapacity = disk.PAGE_SIZE - overflowHeaderSize

// writeOverflow spills the non-local tail of a payload into a chain of
// overflow pages and returns the head page number.
func (t *Tree) writeOverflow(tail []byte) (uint32, error) {
	if len(tail) == 0 {
		return 0, nil
	}

	chunk := tail
	if len(chunk) > overflowCapacity {
		chunk = tail[:overflowCapacity]
	}

	next, err := t.writeOverflow(tail[len(chunk):])
	if err != nil {
		return 0, err
	}

	pageNo, err := t.pager.Allocate()
	if err != nil {
		return 0, err
	}
	page, err := t.pager.Get(pageNo)
	if err != nil {
		return 0, err
	}

	page[0] = pager.PAGE_OVERFLOW
	binary.LittleEndian.PutUint32(page[1:], next)
	binary.LittleEndian.PutUint16(page[5:], uint16(len(chunk)))
	copy(page[overflowHeaderSize:], chunk)

	return pageNo, nil
}

// readPayload reassembles a cell's full payload from its local part and
// overflow chain.
func (t *Tree) readPayload(c *cell) ([]byte, error) {
	if c.overflow == 0 {
		return append([]byte(nil), c.payload...), nil
	}

	payload := make([]byte, 0, c.total)
	payload = append(payload, c.payload...)

	pageNo := c.overflow
	for pageNo != 0 {
		page, err := t.pager.Get(pageNo)
		if err != nil {
			return nil, err
		}
		if page[0] != pager.PAGE_OVERFLOW {
			return nil, util.Errorf(util.CORRUPT, "page %d in overflow chain is not an overflow page", pageNo)
		}

		next := binary.LittleEndian.Uint32(page[1:])
		n := int(binary.LittleEndian.Uint16(page[5:]))
		if n > overflowCapacity {
			return nil, util.Errorf(util.CORRUPT, "overflow page %d claims %d bytes", pageNo, n)
		}

		payload = append(payload, page[overflowHeaderSize:overflowHeaderSize+n]...)
		pageNo = next
	}

	if uint32(len(payload)) != c.total {
		return nil, util.Errorf(util.CORRUPT, "overflow chain length mismatch: want %d got %d", c.total, len(payload))
	}
	return payload, nil
}

func (t *Tree) freeOverflow(head uint32) error {
	for head != 0 {
		page, err := t.pager.Get(head)
		if err != nil {
			return err
		}
		next := binary.LittleEndian.Uint32(page[1:])

		if err := t.pager.Free(head); err != nil {
			return err
		}
		head = next
	}
	return nil
}

// makeCell splits a payload into its local part and overflow chain.
func (t *Tree) makeCell(key, payload []byte) (cell, error) {
	c := cell{key: key, total: uint32(len(payload))}

	if len(payload) <= maxLocal {
		c.payload = append([]byte(nil), payload...)
		return c, nil
	}

	c.payload = append([]byte(nil), payload[:maxLocal]...)
	overflow, err := t.writeOverflow(payload[maxLocal:])
	if err != nil {
		return c, err
	}
	c.overflow = overflow
	return c, nil
}
