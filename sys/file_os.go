package sys

import "os"

type osFile struct{}

// NewFile returns the File implementation backed by the os package.
func NewFile() File {
	return osFile{}
}

func (osFile) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (osFile) Remove(name string) error { return os.Remove(name) }

func (osFile) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (osFile) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
