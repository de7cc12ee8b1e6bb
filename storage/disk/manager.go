package disk

import (
	"io"
	"os"

	"github.com/jobala/pysqlite/util"
)

const PAGE_SIZE = 4096

func NewManager(file *os.File) *Manager {
	return &Manager{dbFile: file}
}

func (dm *Manager) ReadPage(pageNo uint32, buf []byte) error {
	offset := int64(pageNo) * PAGE_SIZE

	// a page at or past EOF reads as zeroes: pages allocated by extending
	// the file only reach disk at commit
	n, err := dm.dbFile.ReadAt(buf, offset)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return util.Wrap(util.IO, err, "reading page")
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}

	return nil
}

func (dm *Manager) WritePage(pageNo uint32, data []byte) error {
	offset := int64(pageNo) * PAGE_SIZE

	if _, err := dm.dbFile.WriteAt(data, offset); err != nil {
		return util.Wrap(util.IO, err, "writing page")
	}

	return nil
}

func (dm *Manager) Sync() error {
	if err := dm.dbFile.Sync(); err != nil {
		return util.Wrap(util.IO, err, "syncing db file")
	}
	return nil
}

// PageCount derives the page count from the file size on disk.
func (dm *Manager) PageCount() (uint32, error) {
	info, err := dm.dbFile.Stat()
	if err != nil {
		return 0, util.Wrap(util.IO, err, "stating db file")
	}
	return uint32((info.Size() + PAGE_SIZE - 1) / PAGE_SIZE), nil
}

func (dm *Manager) Truncate(pageCount uint32) error {
	if err := dm.dbFile.Truncate(int64(pageCount) * PAGE_SIZE); err != nil {
		return util.Wrap(util.IO, err, "resizing db file")
	}
	return nil
}

func (dm *Manager) Path() string {
	return dm.dbFile.Name()
}

func (dm *Manager) Close() error {
	return dm.dbFile.Close()
}

type Manager struct {
	dbFile *os.File
}
