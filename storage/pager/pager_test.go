package pager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jobala/pysqlite/storage/disk"
)

func openTestPager(t *testing.T, path string) *Pager {
	t.Helper()

	p, err := Open(path, time.Second, nil)
	assert.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p
}

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestPager(t *testing.T) {
	t.Run("a fresh file gets a valid meta page", func(t *testing.T) {
		p := openTestPager(t, dbPath(t))

		assert.Equal(t, uint32(1), p.PageCount())
		assert.Equal(t, uint32(0), p.FreelistHead())
		assert.Equal(t, uint32(0), p.CatalogRoot())
	})

	t.Run("allocate extends the file, free feeds the free list", func(t *testing.T) {
		p := openTestPager(t, dbPath(t))

		_, err := p.Begin()
		assert.NoError(t, err)

		first, err := p.Allocate()
		assert.NoError(t, err)
		second, err := p.Allocate()
		assert.NoError(t, err)
		assert.Equal(t, uint32(1), first)
		assert.Equal(t, uint32(2), second)
		assert.Equal(t, uint32(3), p.PageCount())

		assert.NoError(t, p.Free(first))
		assert.Equal(t, first, p.FreelistHead())

		// the free list is popped before the file grows
		reused, err := p.Allocate()
		assert.NoError(t, err)
		assert.Equal(t, first, reused)
		assert.Equal(t, uint32(0), p.FreelistHead())
		assert.Equal(t, uint32(3), p.PageCount())

		// a reused page comes back zeroed
		page, err := p.Get(reused)
		assert.NoError(t, err)
		for _, b := range page {
			assert.Zero(t, b)
		}
	})

	t.Run("committed pages survive reopen", func(t *testing.T) {
		path := dbPath(t)
		p := openTestPager(t, path)

		_, err := p.Begin()
		assert.NoError(t, err)

		pageNo, err := p.Allocate()
		assert.NoError(t, err)
		page, err := p.Get(pageNo)
		assert.NoError(t, err)
		copy(page[1:], "hello world")

		assert.NoError(t, p.Commit())
		assert.NoError(t, p.Close())

		reopened := openTestPager(t, path)
		_, err = reopened.Begin()
		assert.NoError(t, err)

		page, err = reopened.Get(pageNo)
		assert.NoError(t, err)
		assert.Equal(t, []byte("hello world"), page[1:12])
		assert.NoError(t, reopened.Commit())
	})

	t.Run("rollback discards staged writes and file growth", func(t *testing.T) {
		path := dbPath(t)
		p := openTestPager(t, path)

		_, err := p.Begin()
		assert.NoError(t, err)
		pageNo, err := p.Allocate()
		assert.NoError(t, err)
		page, err := p.Get(pageNo)
		assert.NoError(t, err)
		copy(page[1:], "doomed")
		assert.NoError(t, p.Commit())

		// second transaction mutates the page, then rolls back
		_, err = p.Begin()
		assert.NoError(t, err)
		page, err = p.Get(pageNo)
		assert.NoError(t, err)
		assert.NoError(t, p.MarkDirty(pageNo))
		copy(page[1:], "oops!!")
		_, err = p.Allocate()
		assert.NoError(t, err)

		assert.NoError(t, p.Rollback())

		_, err = p.Begin()
		assert.NoError(t, err)
		page, err = p.Get(pageNo)
		assert.NoError(t, err)
		assert.Equal(t, []byte("doomed"), page[1:7])
		assert.Equal(t, uint32(2), p.PageCount())
		assert.NoError(t, p.Commit())

		// no journal left behind
		_, err = os.Stat(JournalPath(path))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("a crash mid-commit is rolled back on reopen", func(t *testing.T) {
		path := dbPath(t)
		p := openTestPager(t, path)

		_, err := p.Begin()
		assert.NoError(t, err)
		pageNo, err := p.Allocate()
		assert.NoError(t, err)
		page, err := p.Get(pageNo)
		assert.NoError(t, err)
		copy(page[1:], "committed")
		assert.NoError(t, p.Commit())

		// dirty the page again and simulate a crash after the new image
		// reached the main file but before the journal was deleted
		_, err = p.Begin()
		assert.NoError(t, err)
		page, err = p.Get(pageNo)
		assert.NoError(t, err)
		assert.NoError(t, p.MarkDirty(pageNo))
		copy(page[1:], "torn write")

		assert.NoError(t, p.dm.WritePage(pageNo, page))
		assert.NoError(t, p.dm.Sync())
		p.jrnl.file.Close()
		p.jrnl = nil
		p.endTxn()
		assert.NoError(t, p.Close())

		_, err = os.Stat(JournalPath(path))
		assert.NoError(t, err, "hot journal must exist before recovery")

		reopened := openTestPager(t, path)
		_, err = reopened.Begin()
		assert.NoError(t, err)

		page, err = reopened.Get(pageNo)
		assert.NoError(t, err)
		assert.Equal(t, []byte("committed"), page[1:10])
		assert.NoError(t, reopened.Commit())

		// recovery consumed the journal
		_, err = os.Stat(JournalPath(path))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("reads outside a transaction are rejected", func(t *testing.T) {
		p := openTestPager(t, dbPath(t))

		_, err := p.Get(0)
		assert.Error(t, err)
	})

	t.Run("out-of-range page numbers are corruption", func(t *testing.T) {
		p := openTestPager(t, dbPath(t))

		_, err := p.Begin()
		assert.NoError(t, err)

		_, err = p.Get(99)
		assert.Error(t, err)
		assert.NoError(t, p.Commit())
	})

	t.Run("schema counter changes are reported at begin", func(t *testing.T) {
		p := openTestPager(t, dbPath(t))

		_, err := p.Begin()
		assert.NoError(t, err)
		assert.NoError(t, p.BumpSchemaCounter())
		assert.NoError(t, p.Commit())

		// same pager saw its own bump, no change reported
		changed, err := p.Begin()
		assert.NoError(t, err)
		assert.False(t, changed)
		assert.NoError(t, p.Commit())
	})

	t.Run("bad magic is rejected", func(t *testing.T) {
		path := dbPath(t)

		garbage := make([]byte, disk.PAGE_SIZE)
		copy(garbage, "NOT-A-DATABASE")
		assert.NoError(t, os.WriteFile(path, garbage, 0644))

		_, err := Open(path, time.Second, nil)
		assert.Error(t, err)
	})
}
