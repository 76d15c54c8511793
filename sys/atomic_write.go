package sys

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path by way of a temporary sibling which is
// fsynced and renamed over the target. Readers see either the old content or
// the complete new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp := path + "~"
	f, err := OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create temp file %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file %s: %w", tmp, err)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file %s: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file %s: %w", tmp, err)
	}
	if err = Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmp, path, err)
	}
	return SyncDir(filepath.Dir(path))
}

// SyncDir fsyncs a directory so that renames and creations inside it are durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !os.IsPermission(err) {
		return err
	}
	return nil
}
