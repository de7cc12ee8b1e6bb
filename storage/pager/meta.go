package pager

import (
	"bytes"
	"encoding/binary"

	"github.com/jobala/pysqlite/storage/disk"
	"github.com/jobala/pysqlite/util"
)

// Page type tags, first byte of every page except page 0 which is
// identified by the format magic instead.
type PageType = byte

const (
	PAGE_META PageType = iota
	PAGE_TABLE_INTERIOR
	PAGE_TABLE_LEAF
	PAGE_INDEX_INTERIOR
	PAGE_INDEX_LEAF
	PAGE_OVERFLOW
	PAGE_FREE
)

const MetaMagic = "PYSQLITE-FMT-01"

// Meta is the decoded image of page 0.
//
//	offset  0 magic (16 bytes, NUL padded)
//	offset 16 page size
//	offset 20 page count
//	offset 24 free-list head (0 = none)
//	offset 28 catalog root page (0 = not yet created)
//	offset 32 schema-change counter
type Meta struct {
	PageSize      uint32
	PageCount     uint32
	FreelistHead  uint32
	CatalogRoot   uint32
	SchemaCounter uint32
}

func (m *Meta) encode(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf[0:16], MetaMagic)
	binary.LittleEndian.PutUint32(buf[16:], m.PageSize)
	binary.LittleEndian.PutUint32(buf[20:], m.PageCount)
	binary.LittleEndian.PutUint32(buf[24:], m.FreelistHead)
	binary.LittleEndian.PutUint32(buf[28:], m.CatalogRoot)
	binary.LittleEndian.PutUint32(buf[32:], m.SchemaCounter)
}

func decodeMeta(buf []byte) (Meta, error) {
	var m Meta

	magic := make([]byte, 16)
	copy(magic, MetaMagic)
	if !bytes.Equal(buf[0:16], magic) {
		return m, util.Errorf(util.CORRUPT, "bad database magic")
	}

	m.PageSize = binary.LittleEndian.Uint32(buf[16:])
	m.PageCount = binary.LittleEndian.Uint32(buf[20:])
	m.FreelistHead = binary.LittleEndian.Uint32(buf[24:])
	m.CatalogRoot = binary.LittleEndian.Uint32(buf[28:])
	m.SchemaCounter = binary.LittleEndian.Uint32(buf[32:])

	if m.PageSize != disk.PAGE_SIZE {
		return m, util.Errorf(util.CORRUPT, "unsupported page size %d", m.PageSize)
	}
	if m.PageCount == 0 {
		return m, util.Errorf(util.CORRUPT, "zero page count in meta page")
	}

	return m, nil
}
