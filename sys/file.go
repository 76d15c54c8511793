package sys

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// fileWrapper keeps the concrete type stored in defaultFile stable so that
// different File implementations can be swapped through atomic.Value.
type fileWrapper struct {
	f File
}

var defaultFile atomic.Value // stores fileWrapper
var debugMode atomic.Bool

// File is the platform layer used for every file the table engine touches.
// Tests replace it with SetDefaultFile to inject faults.
type File interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
}

// FileHandle is the subset of *os.File used by the chunk and manifest writers.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

type CreateHandler func(name string) (FileHandle, error)
type OpenHandler func(name string) (FileHandle, error)
type OpenFileHandler func(name string, flag int, perm os.FileMode) (FileHandle, error)
type RemoveHandler func(name string) error
type RenameHandler func(oldpath, newpath string) error
type StatHandler func(name string) (os.FileInfo, error)

func init() {
	defaultFile.Store(fileWrapper{f: NewFile()})
}

// SetDefaultFile swaps the platform layer. Passing nil restores the default.
func SetDefaultFile(file File) {
	if file == nil {
		file = NewFile()
	}
	defaultFile.Store(fileWrapper{f: file})
}

// SetDebugMode enables tracking of open handles, see OpenHandles.
func SetDebugMode(mode bool) {
	debugMode.Store(mode)
}

func current() File {
	return defaultFile.Load().(fileWrapper).f
}

var Create CreateHandler = func(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

var Open OpenHandler = func(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDONLY, 0)
}

var OpenFile OpenFileHandler = func(name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := current().OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if debugMode.Load() {
		return trackHandle(f), nil
	}
	return f, nil
}

// Remove deletes name. A file that is already gone is not an error.
var Remove RemoveHandler = func(name string) error {
	err := current().Remove(name)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

var Rename RenameHandler = func(oldpath, newpath string) error {
	return current().Rename(oldpath, newpath)
}

var Stat StatHandler = func(name string) (os.FileInfo, error) {
	return current().Stat(name)
}

// Exists reports whether name can be stat'ed.
func Exists(name string) bool {
	_, err := Stat(name)
	return err == nil
}

var (
	openHandles sync.Map // id -> name
	nextID      atomic.Uint64
)

type trackedFile struct {
	*os.File
	id uint64
}

func trackHandle(f *os.File) *trackedFile {
	id := nextID.Add(1)
	openHandles.Store(id, f.Name())
	return &trackedFile{File: f, id: id}
}

func (t *trackedFile) Close() error {
	openHandles.Delete(t.id)
	return t.File.Close()
}

// OpenHandles lists the names of handles opened in debug mode and not yet closed.
func OpenHandles() []string {
	var names []string
	openHandles.Range(func(_, v any) bool {
		names = append(names, v.(string))
		return true
	})
	return names
}
