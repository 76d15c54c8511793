package sys

import (
	"fmt"
	"hash/fnv"
	"io"
)

// FileChecksum returns the FNV-64a digest of the file content and its size.
func FileChecksum(path string) (checksum uint64, size uint64, err error) {
	f, err := Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	h := fnv.New64a()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	return h.Sum64(), uint64(n), nil
}
