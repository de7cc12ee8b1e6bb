package pager

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/jobala/pysqlite/storage/disk"
	"github.com/jobala/pysqlite/util"
)

// The rollback journal holds the pre-image of every page dirtied by the
// current write transaction. Its presence at open time means an incomplete
// transaction must be rolled back; deleting it is the moment of commit.
//
//	header: magic (16 bytes) | page size u32 | original page count u32
//	record: page no u32 | page image | crc32(image) u32

const JournalMagic = "PYSQLITE-JRNL-01"

const journalHeaderSize = 24

func JournalPath(dbPath string) string {
	return dbPath + "-journal"
}

func createJournal(dbPath string, origPageCount uint32) (*journal, error) {
	path := JournalPath(dbPath)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, util.Wrap(util.IO, err, "creating journal")
	}

	header := make([]byte, journalHeaderSize)
	copy(header[0:16], JournalMagic)
	binary.LittleEndian.PutUint32(header[16:], disk.PAGE_SIZE)
	binary.LittleEndian.PutUint32(header[20:], origPageCount)

	if _, err := file.Write(header); err != nil {
		file.Close()
		return nil, util.Wrap(util.IO, err, "writing journal header")
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, util.Wrap(util.IO, err, "syncing journal")
	}

	return &journal{file: file, path: path}, nil
}

// append journals the pre-image of a page and flushes it to disk before the
// caller is allowed to mutate the in-memory copy.
func (j *journal) append(pageNo uint32, image []byte) error {
	record := make([]byte, 4+len(image)+4)
	binary.LittleEndian.PutUint32(record[0:], pageNo)
	copy(record[4:], image)
	binary.LittleEndian.PutUint32(record[4+len(image):], crc32.ChecksumIEEE(image))

	if _, err := j.file.Write(record); err != nil {
		return util.Wrap(util.IO, err, "appending journal record")
	}
	if err := j.file.Sync(); err != nil {
		return util.Wrap(util.IO, err, "syncing journal")
	}

	return nil
}

// delete removes the journal. Once the remove and the directory sync have
// both returned, the transaction is durably committed.
func (j *journal) delete() error {
	if err := j.file.Close(); err != nil {
		return util.Wrap(util.IO, err, "closing journal")
	}
	if err := os.Remove(j.path); err != nil {
		return util.Wrap(util.IO, err, "removing journal")
	}
	return syncDir(j.path)
}

// replayJournal restores every valid pre-image recorded in the journal to
// the database file, truncates the file back to its original page count and
// removes the journal. A record with a bad checksum marks the torn tail of
// an interrupted append; replay stops there and earlier records still apply.
func replayJournal(dbPath string, dm *disk.Manager) error {
	path := JournalPath(dbPath)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return util.Wrap(util.IO, err, "opening journal")
	}
	defer file.Close()

	header := make([]byte, journalHeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		// a journal too short to hold a header never recorded a pre-image
		return removeJournal(path)
	}

	magic := make([]byte, 16)
	copy(magic, JournalMagic)
	if !bytes.Equal(header[0:16], magic) {
		return util.Errorf(util.CORRUPT, "bad journal magic")
	}
	if binary.LittleEndian.Uint32(header[16:]) != disk.PAGE_SIZE {
		return util.Errorf(util.CORRUPT, "journal page size mismatch")
	}
	origPageCount := binary.LittleEndian.Uint32(header[20:])

	record := make([]byte, 4+disk.PAGE_SIZE+4)
	for {
		if _, err := io.ReadFull(file, record); err != nil {
			break
		}

		pageNo := binary.LittleEndian.Uint32(record[0:])
		image := record[4 : 4+disk.PAGE_SIZE]
		sum := binary.LittleEndian.Uint32(record[4+disk.PAGE_SIZE:])

		if crc32.ChecksumIEEE(image) != sum {
			break
		}
		if pageNo >= origPageCount {
			return util.Errorf(util.CORRUPT, "journal records out-of-range page %d", pageNo)
		}

		if err := dm.WritePage(pageNo, image); err != nil {
			return err
		}
	}

	if err := dm.Truncate(origPageCount); err != nil {
		return err
	}
	if err := dm.Sync(); err != nil {
		return err
	}

	return removeJournal(path)
}

func removeJournal(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return util.Wrap(util.IO, err, "removing journal")
	}
	return syncDir(path)
}

func syncDir(path string) error {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return util.Wrap(util.IO, err, "opening directory")
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return util.Wrap(util.IO, err, "syncing directory")
	}
	return nil
}

type journal struct {
	file *os.File
	path string
}
