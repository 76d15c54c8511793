//go:build !unix

package sys

import (
	"errors"
	"time"
)

// AcquireOSFileLock is not implemented on this platform.
func AcquireOSFileLock(lockPath string, timeout time.Duration) (Unlocker, error) {
	return nil, errors.ErrUnsupported
}
