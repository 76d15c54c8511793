package sys

import "errors"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("file is locked by another process")

// Unlocker releases a lock obtained from AcquireOSFileLock.
type Unlocker func() error
