// Package artifacts keeps the registry of physical files per chunk that other
// replicas use to discover what they can fetch from this node.
package artifacts

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/sys"
	"golang.org/x/sync/errgroup"
)

// Status of an artifact on this node.
type Status uint8

const (
	// StatusPresent means every file is on local disk.
	StatusPresent Status = 1
	// StatusDownload means the files must be fetched from another replica.
	StatusDownload Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusPresent:
		return "PRESENT"
	case StatusDownload:
		return "DOWNLOAD"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// FileRef is one file of an artifact, relative to the index directory.
// Size or Checksum zero means unknown.
type FileRef struct {
	Filename string
	Size     uint64
	Checksum uint64
}

// Ref is one artifact: a named group of files.
type Ref struct {
	Name   string
	Status Status
	Files  []FileRef
}

// Index is a persistent artifact registry stored as <dir>/<name>.afx.
type Index struct {
	mu        sync.RWMutex
	dir       string
	path      string
	artifacts map[string]Ref
	logger    *slog.Logger

	// checkConcurrency bounds parallel file verification.
	checkConcurrency int
}

// Open loads the index or starts an empty one.
func Open(dir, name string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{
		dir:              dir,
		path:             filepath.Join(dir, name+core.ArtifactIndexSuffix),
		artifacts:        make(map[string]Ref),
		logger:           logger.With("component", "ArtifactIndex", "index", name),
		checkConcurrency: 8,
	}
	data, err := os.ReadFile(idx.path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact index %s: %w", idx.path, err)
	}
	refs, err := decodeIndex(data)
	if err != nil {
		return nil, fmt.Errorf("artifact index %s: %w", idx.path, err)
	}
	for _, r := range refs {
		idx.artifacts[r.Name] = r
	}
	return idx, nil
}

// Path is the file the index is persisted to.
func (idx *Index) Path() string { return idx.path }

// AddArtifact inserts ref, replacing an artifact of the same name.
func (idx *Index) AddArtifact(ref Ref) error {
	if ref.Name == "" {
		return fmt.Errorf("artifact without name: %w", core.ErrInvalidArgument)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ref.Files = append([]FileRef(nil), ref.Files...)
	idx.artifacts[ref.Name] = ref
	return idx.persistLocked()
}

// DeleteArtifact removes an artifact. A missing artifact is not an error.
func (idx *Index) DeleteArtifact(name string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.artifacts[name]; !ok {
		return nil
	}
	delete(idx.artifacts, name)
	return idx.persistLocked()
}

// UpdateStatus flips the status of an existing artifact.
func (idx *Index) UpdateStatus(name string, status Status) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ref, ok := idx.artifacts[name]
	if !ok {
		return fmt.Errorf("artifact %q not found: %w", name, core.ErrInvalidArgument)
	}
	ref.Status = status
	idx.artifacts[name] = ref
	return idx.persistLocked()
}

func (idx *Index) GetArtifact(name string) (Ref, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ref, ok := idx.artifacts[name]
	return ref, ok
}

// ListArtifacts returns all artifacts sorted by name.
func (idx *Index) ListArtifacts() []Ref {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.sortedLocked()
}

func (idx *Index) sortedLocked() []Ref {
	out := make([]Ref, 0, len(idx.artifacts))
	for _, r := range idx.artifacts {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (idx *Index) persistLocked() error {
	if err := sys.WriteFileAtomic(idx.path, encodeIndex(idx.sortedLocked()), 0644); err != nil {
		return fmt.Errorf("failed to persist artifact index: %w", err)
	}
	return nil
}

// RunConsistencyCheck verifies that every PRESENT artifact's files exist with
// the recorded size, and with the recorded checksum when checkChecksums is
// set. Broken artifacts are flipped to DOWNLOAD when repair is set;
// otherwise ErrConsistency is returned. The names of broken artifacts are
// returned in both cases.
func (idx *Index) RunConsistencyCheck(ctx context.Context, checkChecksums, repair bool) ([]string, error) {
	refs := idx.ListArtifacts()

	var (
		mu     sync.Mutex
		broken []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.checkConcurrency)
	for _, ref := range refs {
		if ref.Status != StatusPresent {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := idx.verify(ref, checkChecksums); err != nil {
				idx.logger.Error("Artifact failed consistency check", "artifact", ref.Name, "error", err)
				mu.Lock()
				broken = append(broken, ref.Name)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(broken)
	if len(broken) == 0 {
		return nil, nil
	}
	if !repair {
		return broken, fmt.Errorf("%d broken artifacts (%s): %w", len(broken), strings.Join(broken, ", "), core.ErrConsistency)
	}
	for _, name := range broken {
		if err := idx.UpdateStatus(name, StatusDownload); err != nil {
			return broken, err
		}
		idx.logger.Warn("Artifact marked for download", "artifact", name)
	}
	return broken, nil
}

func (idx *Index) verify(ref Ref, checkChecksums bool) error {
	for _, f := range ref.Files {
		path := filepath.Join(idx.dir, f.Filename)
		fi, err := sys.Stat(path)
		if err != nil {
			return err
		}
		if f.Size != 0 && uint64(fi.Size()) != f.Size {
			return fmt.Errorf("%s: size %d, want %d", f.Filename, fi.Size(), f.Size)
		}
		if checkChecksums && f.Checksum != 0 {
			sum, _, err := sys.FileChecksum(path)
			if err != nil {
				return err
			}
			if sum != f.Checksum {
				return fmt.Errorf("%s: checksum %x, want %x", f.Filename, sum, f.Checksum)
			}
		}
	}
	return nil
}

// On disk: magic u32 | crc32 u32 | protobuf wire payload.
func encodeIndex(refs []Ref) []byte {
	payload := marshalRefs(refs)
	out := make([]byte, 8, 8+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], core.ArtifactIndexMagicNumber)
	binary.LittleEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(payload))
	return append(out, payload...)
}

func decodeIndex(data []byte) ([]Ref, error) {
	if len(data) < 8 || binary.LittleEndian.Uint32(data[0:4]) != core.ArtifactIndexMagicNumber {
		return nil, fmt.Errorf("bad header: %w", core.ErrCorrupted)
	}
	payload := data[8:]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(data[4:8]) {
		return nil, fmt.Errorf("checksum mismatch: %w", core.ErrCorrupted)
	}
	return unmarshalRefs(payload)
}
