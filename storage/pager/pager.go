// Package pager presents the database file as an array of fixed-size pages
// with a per-transaction cache whose dirty pages reach the file at commit,
// a persistent free list and journal-backed
// transactions: either every write of a transaction reaches the file or
// none does.
package pager

import (
	"encoding/binary"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jobala/pysqlite/storage/disk"
	"github.com/jobala/pysqlite/storage/lock"
	"github.com/jobala/pysqlite/util"
)

func Open(path string, busyTimeout time.Duration, log *zap.Logger) (*Pager, error) {
	if log == nil {
		log = zap.NewNop()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, util.Wrap(util.IO, err, "opening db file")
	}

	p := &Pager{
		dm:     disk.NewManager(file),
		locker: lock.NewLocker(file, busyTimeout),
		log:    log,
		path:   path,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, util.Wrap(util.IO, err, "stating db file")
	}

	if info.Size() == 0 {
		if err := p.initFreshFile(); err != nil {
			file.Close()
			return nil, err
		}
	} else if err := p.recoverIfNeeded(); err != nil {
		file.Close()
		return nil, err
	}

	if err := p.loadMeta(); err != nil {
		file.Close()
		return nil, err
	}
	p.lastSchemaCounter = p.meta.SchemaCounter

	return p, nil
}

func (p *Pager) initFreshFile() error {
	meta := Meta{PageSize: disk.PAGE_SIZE, PageCount: 1}

	buf := make([]byte, disk.PAGE_SIZE)
	meta.encode(buf)

	if err := p.dm.WritePage(0, buf); err != nil {
		return err
	}
	return p.dm.Sync()
}

// recoverIfNeeded rolls back the incomplete transaction a hot journal
// records, under an exclusive lock so no other connection observes the
// intermediate state.
func (p *Pager) recoverIfNeeded() error {
	if _, err := os.Stat(JournalPath(p.path)); os.IsNotExist(err) {
		return nil
	}

	p.log.Info("hot journal found, recovering", zap.String("db", p.path))

	if err := p.locker.Lock(lock.EXCLUSIVE); err != nil {
		return err
	}
	defer p.locker.Unlock()

	return replayJournal(p.path, p.dm)
}

func (p *Pager) loadMeta() error {
	buf := make([]byte, disk.PAGE_SIZE)
	if err := p.dm.ReadPage(0, buf); err != nil {
		return err
	}

	meta, err := decodeMeta(buf)
	if err != nil {
		return err
	}

	p.meta = meta
	return nil
}

// Begin starts a transaction under a SHARED lock. The returned flag reports
// whether the schema counter moved since this pager last looked, in which
// case the caller must reload any cached schema state.
func (p *Pager) Begin() (schemaChanged bool, err error) {
	if p.inTxn {
		return false, util.Errorf(util.INTERNAL, "transaction already open")
	}

	if err := p.locker.Lock(lock.SHARED); err != nil {
		return false, err
	}

	if err := p.loadMeta(); err != nil {
		p.locker.Unlock()
		return false, err
	}

	schemaChanged = p.meta.SchemaCounter != p.lastSchemaCounter
	p.lastSchemaCounter = p.meta.SchemaCounter

	metaPage := make([]byte, disk.PAGE_SIZE)
	p.meta.encode(metaPage)

	p.cache = map[uint32][]byte{0: metaPage}
	p.dirty = map[uint32]bool{}
	p.journaled = map[uint32]bool{}
	p.origPageCount = p.meta.PageCount
	p.inTxn = true

	return schemaChanged, nil
}

// Get returns the transaction's in-memory copy of a page. Callers must not
// mutate it before MarkDirty.
func (p *Pager) Get(pageNo uint32) ([]byte, error) {
	if !p.inTxn {
		return nil, util.Errorf(util.INTERNAL, "page read outside a transaction")
	}
	if pageNo >= p.meta.PageCount {
		return nil, util.Errorf(util.CORRUPT, "page %d out of range (page count %d)", pageNo, p.meta.PageCount)
	}

	if page, ok := p.cache[pageNo]; ok {
		return page, nil
	}

	buf := make([]byte, disk.PAGE_SIZE)
	if err := p.dm.ReadPage(pageNo, buf); err != nil {
		return nil, err
	}

	p.cache[pageNo] = buf
	return buf, nil
}

// MarkDirty records the pre-image of a page in the journal before its first
// modification within the transaction. The first MarkDirty of a transaction
// upgrades the lock to RESERVED and opens the journal.
func (p *Pager) MarkDirty(pageNo uint32) error {
	if !p.inTxn {
		return util.Errorf(util.INTERNAL, "page write outside a transaction")
	}

	if p.jrnl == nil {
		if err := p.locker.Lock(lock.RESERVED); err != nil {
			return err
		}

		jrnl, err := createJournal(p.path, p.origPageCount)
		if err != nil {
			return err
		}
		p.jrnl = jrnl
	}

	// pages allocated by this transaction have no pre-image; rollback
	// truncates them away instead
	if !p.journaled[pageNo] && pageNo < p.origPageCount {
		image, err := p.Get(pageNo)
		if err != nil {
			return err
		}
		if err := p.jrnl.append(pageNo, image); err != nil {
			return err
		}
	}

	p.journaled[pageNo] = true
	p.dirty[pageNo] = true
	return nil
}

// Allocate pops a page off the free list, or extends the file when the
// free list is empty. The page comes back zeroed either way.
func (p *Pager) Allocate() (uint32, error) {
	if head := p.meta.FreelistHead; head != 0 {
		page, err := p.Get(head)
		if err != nil {
			return 0, err
		}
		if page[0] != PAGE_FREE {
			return 0, util.Errorf(util.CORRUPT, "free-list head %d is not a free page", head)
		}
		next := binary.LittleEndian.Uint32(page[1:])

		if err := p.MarkDirty(head); err != nil {
			return 0, err
		}
		for i := range page {
			page[i] = 0
		}

		if err := p.mutateMeta(func(m *Meta) { m.FreelistHead = next }); err != nil {
			return 0, err
		}
		return head, nil
	}

	pageNo := p.meta.PageCount
	if err := p.mutateMeta(func(m *Meta) { m.PageCount++ }); err != nil {
		return 0, err
	}

	p.cache[pageNo] = make([]byte, disk.PAGE_SIZE)
	if err := p.MarkDirty(pageNo); err != nil {
		return 0, err
	}

	return pageNo, nil
}

// Free pushes a page onto the free list.
func (p *Pager) Free(pageNo uint32) error {
	if pageNo == 0 {
		return util.Errorf(util.INTERNAL, "freeing the meta page")
	}

	page, err := p.Get(pageNo)
	if err != nil {
		return err
	}
	if err := p.MarkDirty(pageNo); err != nil {
		return err
	}

	for i := range page {
		page[i] = 0
	}
	page[0] = PAGE_FREE
	binary.LittleEndian.PutUint32(page[1:], p.meta.FreelistHead)

	return p.mutateMeta(func(m *Meta) { m.FreelistHead = pageNo })
}

// Commit flushes dirty pages to the main file under an exclusive lock and
// deletes the journal. The journal's removal is the moment of commit.
func (p *Pager) Commit() error {
	if !p.inTxn {
		return util.Errorf(util.INTERNAL, "commit outside a transaction")
	}

	if p.jrnl == nil {
		// read-only transaction
		p.endTxn()
		return nil
	}

	if err := p.locker.Lock(lock.EXCLUSIVE); err != nil {
		return err
	}

	for pageNo := range p.dirty {
		if err := p.dm.WritePage(pageNo, p.cache[pageNo]); err != nil {
			return err
		}
	}
	if err := p.dm.Sync(); err != nil {
		return err
	}

	if err := p.jrnl.delete(); err != nil {
		return err
	}
	p.jrnl = nil
	p.lastSchemaCounter = p.meta.SchemaCounter

	p.log.Debug("transaction committed",
		zap.String("db", p.path),
		zap.Int("pages", len(p.dirty)))

	p.endTxn()
	return nil
}

// Rollback discards the transaction. If the journal already holds
// pre-images they are replayed against the main file, undoing any page a
// failed commit may have half-written.
func (p *Pager) Rollback() error {
	if !p.inTxn {
		return nil
	}

	if p.jrnl != nil {
		p.jrnl.file.Close()
		p.jrnl = nil

		if err := replayJournal(p.path, p.dm); err != nil {
			p.endTxn()
			return err
		}
		p.log.Debug("transaction rolled back", zap.String("db", p.path))
	}

	p.endTxn()
	return p.loadMeta()
}

func (p *Pager) endTxn() {
	p.locker.Unlock()
	p.cache = nil
	p.dirty = nil
	p.journaled = nil
	p.inTxn = false
}

func (p *Pager) mutateMeta(mut func(m *Meta)) error {
	if err := p.MarkDirty(0); err != nil {
		return err
	}

	mut(&p.meta)

	page, err := p.Get(0)
	if err != nil {
		return err
	}
	p.meta.encode(page)
	return nil
}

func (p *Pager) CatalogRoot() uint32 {
	return p.meta.CatalogRoot
}

func (p *Pager) SetCatalogRoot(pageNo uint32) error {
	return p.mutateMeta(func(m *Meta) { m.CatalogRoot = pageNo })
}

// BumpSchemaCounter marks a schema change so other connections drop their
// cached schema state.
func (p *Pager) BumpSchemaCounter() error {
	err := p.mutateMeta(func(m *Meta) { m.SchemaCounter++ })
	if err == nil {
		p.lastSchemaCounter = p.meta.SchemaCounter
	}
	return err
}

func (p *Pager) SchemaCounter() uint32 {
	return p.meta.SchemaCounter
}

func (p *Pager) PageCount() uint32 {
	return p.meta.PageCount
}

func (p *Pager) FreelistHead() uint32 {
	return p.meta.FreelistHead
}

func (p *Pager) InTxn() bool {
	return p.inTxn
}

func (p *Pager) IsWriting() bool {
	return p.jrnl != nil
}

func (p *Pager) Path() string {
	return p.path
}

// Close rolls back any open transaction and releases the file.
func (p *Pager) Close() error {
	if p.inTxn {
		if err := p.Rollback(); err != nil {
			p.dm.Close()
			return err
		}
	}
	return p.dm.Close()
}

type Pager struct {
	dm     *disk.Manager
	locker *lock.Locker
	log    *zap.Logger
	path   string

	meta              Meta
	lastSchemaCounter uint32

	inTxn         bool
	origPageCount uint32
	cache         map[uint32][]byte
	dirty         map[uint32]bool
	journaled     map[uint32]bool
	jrnl          *journal
}
