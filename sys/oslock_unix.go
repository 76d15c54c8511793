//go:build unix

package sys

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// AcquireOSFileLock takes an advisory exclusive flock on lockPath, creating
// the file if needed. It retries until timeout elapses; a zero timeout makes
// a single attempt. The lock file itself is left in place on release since
// removing it would let a waiter lock an unlinked inode.
func AcquireOSFileLock(lockPath string, timeout time.Duration) (Unlocker, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	deadline := time.Now().Add(timeout)
	for {
		err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return func() error {
				uerr := unix.Flock(fd, unix.LOCK_UN)
				cerr := f.Close()
				return errors.Join(uerr, cerr)
			}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", lockPath, err)
		}
		if !time.Now().Before(deadline) {
			f.Close()
			return nil, fmt.Errorf("%s: %w", lockPath, ErrLocked)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
