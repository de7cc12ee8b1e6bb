// Package lock implements the shared/reserved/exclusive advisory locking
// protocol over a byte range of the database file.
//
// The lock bytes live beyond the 1GiB mark so they never overlap page I/O.
// Many connections may hold SHARED at once; a single writer holds RESERVED
// while it stages changes and upgrades to EXCLUSIVE only for the window in
// which new page images are flushed to the main file.
package lock

import (
	"math/rand"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jobala/pysqlite/util"
)

type State int

const (
	UNLOCKED State = iota
	SHARED
	RESERVED
	EXCLUSIVE
)

const (
	pendingByte  = 0x40000000
	reservedByte = pendingByte + 1
	sharedFirst  = pendingByte + 2
	sharedSize   = 510
)

const retryBase = 2 * time.Millisecond

func (s State) String() string {
	switch s {
	case UNLOCKED:
		return "UNLOCKED"
	case SHARED:
		return "SHARED"
	case RESERVED:
		return "RESERVED"
	case EXCLUSIVE:
		return "EXCLUSIVE"
	}
	return "UNKNOWN"
}

func NewLocker(file *os.File, timeout time.Duration) *Locker {
	return &Locker{file: file, timeout: timeout}
}

func (l *Locker) State() State {
	return l.state
}

// Lock upgrades the locker to target, passing through the intermediate
// states in order. Downgrades other than a full Unlock are not part of the
// protocol.
func (l *Locker) Lock(target State) error {
	for l.state < target {
		var err error
		switch l.state {
		case UNLOCKED:
			err = l.acquireShared()
		case SHARED:
			err = l.acquireReserved()
		case RESERVED:
			err = l.acquireExclusive()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Unlock releases every lock byte and returns the locker to UNLOCKED.
func (l *Locker) Unlock() error {
	if l.state == UNLOCKED {
		return nil
	}

	if err := l.unlockRange(pendingByte, sharedFirst+sharedSize-pendingByte); err != nil {
		return err
	}
	l.state = UNLOCKED
	return nil
}

func (l *Locker) acquireShared() error {
	// a writer signals intent on the pending byte; taking a read lock on it
	// first keeps new readers from starving a writer waiting for EXCLUSIVE
	if err := l.withRetry(unix.F_RDLCK, pendingByte, 1); err != nil {
		return err
	}
	if err := l.withRetry(unix.F_RDLCK, sharedFirst, sharedSize); err != nil {
		_ = l.unlockRange(pendingByte, 1)
		return err
	}
	if err := l.unlockRange(pendingByte, 1); err != nil {
		return err
	}

	l.state = SHARED
	return nil
}

func (l *Locker) acquireReserved() error {
	if err := l.withRetry(unix.F_WRLCK, reservedByte, 1); err != nil {
		return err
	}
	l.state = RESERVED
	return nil
}

func (l *Locker) acquireExclusive() error {
	if err := l.withRetry(unix.F_WRLCK, pendingByte, 1); err != nil {
		return err
	}
	// blocks until the last SHARED holder drains
	if err := l.withRetry(unix.F_WRLCK, sharedFirst, sharedSize); err != nil {
		_ = l.unlockRange(pendingByte, 1)
		return err
	}

	l.state = EXCLUSIVE
	return nil
}

// withRetry attempts a non-blocking fcntl lock, backing off with jitter
// until the busy timeout expires.
func (l *Locker) withRetry(lockType int16, start, length int64) error {
	deadline := time.Now().Add(l.timeout)
	wait := retryBase

	for {
		err := l.fcntlLock(lockType, start, length)
		if err == nil {
			return nil
		}
		if err != unix.EAGAIN && err != unix.EACCES {
			return util.Wrap(util.IO, err, "acquiring file lock")
		}
		if time.Now().After(deadline) {
			return util.Errorf(util.BUSY, "lock acquisition timed out after %v", l.timeout)
		}

		time.Sleep(wait + time.Duration(rand.Int63n(int64(wait))))
		if wait < 50*time.Millisecond {
			wait *= 2
		}
	}
}

func (l *Locker) fcntlLock(lockType int16, start, length int64) error {
	flock := unix.Flock_t{
		Type:   lockType,
		Whence: 0,
		Start:  start,
		Len:    length,
	}
	return unix.FcntlFlock(l.file.Fd(), unix.F_SETLK, &flock)
}

func (l *Locker) unlockRange(start, length int64) error {
	if err := l.fcntlLock(unix.F_UNLCK, start, length); err != nil {
		return util.Wrap(util.IO, err, "releasing file lock")
	}
	return nil
}

type Locker struct {
	file    *os.File
	state   State
	timeout time.Duration
}
