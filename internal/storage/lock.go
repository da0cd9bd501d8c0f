package storage

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tracdap/trac-core/internal/errors"
)

const (
	lockTimeout  = 1 * time.Second
	lockInterval = 50 * time.Millisecond
)

// FileLock is an advisory lock on a single file, held for the lifetime
// of a storage read or write (§4.3 file locking).
type FileLock struct {
	f *os.File
}

// AcquireShared takes a shared (read) advisory lock on abs, retrying
// every 50ms until acquired or the 1s timeout elapses. The lock is held
// against a ".lock" sidecar file rather than the content file itself,
// so acquiring a lock never interferes with the content file's own
// open flags (notably WRITE|CREATE_NEW, which must see the content
// path as genuinely absent).
func AcquireShared(abs string) (*FileLock, error) {
	return acquire(abs, unix.LOCK_SH)
}

// AcquireExclusive takes an exclusive (write) advisory lock on abs.
func AcquireExclusive(abs string) (*FileLock, error) {
	return acquire(abs, unix.LOCK_EX)
}

func acquire(abs string, how int) (*FileLock, error) {
	f, err := os.OpenFile(abs+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(errors.EStorageIO, err, "opening lock file for %s", abs)
	}

	deadline := time.Now().Add(lockTimeout)
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return &FileLock{f: f}, nil
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, errors.New(errors.ELockTimeout, "could not lock %s within %s", abs, lockTimeout)
		}
		time.Sleep(lockInterval)
	}
}

// Release drops the lock and closes the underlying file handle.
func (l *FileLock) Release() {
	if l == nil || l.f == nil {
		return
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
}
