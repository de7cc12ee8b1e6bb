package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fcntl locks are per-process, so conflicting lockers cannot be exercised
// within one test process; these tests cover the state machine.

func newTestLocker(t *testing.T) *Locker {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	assert.NoError(t, err)
	t.Cleanup(func() {
		_ = file.Close()
	})

	return NewLocker(file, 100*time.Millisecond)
}

func TestLocker(t *testing.T) {
	t.Run("upgrades pass through every state in order", func(t *testing.T) {
		locker := newTestLocker(t)
		assert.Equal(t, UNLOCKED, locker.State())

		assert.NoError(t, locker.Lock(SHARED))
		assert.Equal(t, SHARED, locker.State())

		assert.NoError(t, locker.Lock(RESERVED))
		assert.Equal(t, RESERVED, locker.State())

		assert.NoError(t, locker.Lock(EXCLUSIVE))
		assert.Equal(t, EXCLUSIVE, locker.State())

		assert.NoError(t, locker.Unlock())
		assert.Equal(t, UNLOCKED, locker.State())
	})

	t.Run("a single call upgrades across multiple states", func(t *testing.T) {
		locker := newTestLocker(t)

		assert.NoError(t, locker.Lock(EXCLUSIVE))
		assert.Equal(t, EXCLUSIVE, locker.State())
		assert.NoError(t, locker.Unlock())
	})

	t.Run("locking an already-held state is a no-op", func(t *testing.T) {
		locker := newTestLocker(t)

		assert.NoError(t, locker.Lock(SHARED))
		assert.NoError(t, locker.Lock(SHARED))
		assert.Equal(t, SHARED, locker.State())
		assert.NoError(t, locker.Unlock())
	})

	t.Run("unlock without a lock is a no-op", func(t *testing.T) {
		locker := newTestLocker(t)
		assert.NoError(t, locker.Unlock())
	})
}
