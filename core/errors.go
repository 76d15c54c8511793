package core

import (
	"errors"
	"fmt"
)

var (
	// ErrLockHeld is returned when another writer owns the table/replica lock.
	ErrLockHeld = errors.New("table lock is already held")
	// ErrManifestMismatch is returned when a decoded manifest does not carry
	// the expected generation or table name.
	ErrManifestMismatch = errors.New("manifest mismatch")
	// ErrMergeConflict is returned when a merge input disappeared before the
	// merge result could be published.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrConsistency is returned by consistency checks that are not allowed to repair.
	ErrConsistency = errors.New("consistency check failed")
	// ErrUnfinishedChunk is returned when a chunk file was never finalized.
	ErrUnfinishedChunk = errors.New("unfinished table chunk")
	// ErrCorrupted is returned when a file fails magic or checksum validation.
	ErrCorrupted = errors.New("data is corrupted")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("table writer is closed")
)

// ErrorKind classifies storage errors into the recovery classes callers act on.
type ErrorKind int

const (
	// KindTransient covers I/O, encode and decode failures; the operation may be retried.
	KindTransient ErrorKind = iota
	// KindFatal aborts construction of a writer.
	KindFatal
	// KindConflict is a lost race between compactions; the caller may simply try again later.
	KindConflict
	// KindConsistency reports a referenced chunk missing from the artifact index.
	KindConsistency
)

func (k ErrorKind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindConflict:
		return "conflict"
	case KindConsistency:
		return "consistency"
	default:
		return "transient"
	}
}

// StorageError attaches an operation, a kind and an optional path to an error.
type StorageError struct {
	Op   string
	Kind ErrorKind
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err, deriving the kind from err when kind is omitted.
func NewStorageError(op, path string, err error) *StorageError {
	return &StorageError{Op: op, Kind: KindOf(err), Path: path, Err: err}
}

// KindOf classifies err. Unknown errors are transient.
func KindOf(err error) ErrorKind {
	var se *StorageError
	if errors.As(err, &se) && se.Kind != KindTransient {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrLockHeld), errors.Is(err, ErrManifestMismatch):
		return KindFatal
	case errors.Is(err, ErrMergeConflict):
		return KindConflict
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	default:
		return KindTransient
	}
}

// IsFatal reports whether err must abort writer construction.
func IsFatal(err error) bool { return err != nil && KindOf(err) == KindFatal }

// IsConflict reports whether err is a lost compaction race.
func IsConflict(err error) bool { return err != nil && KindOf(err) == KindConflict }
