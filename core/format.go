package core

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// This file centralizes constants related to file formats, magic numbers,
// and the naming scheme of every file a table writer owns.

// --- Magic Numbers ---
const (
	// SSTableMagicNumber identifies a row-store chunk file.
	SSTableMagicNumber uint32 = 0x53535442 // "SSTB"
	// CSTableMagicNumber identifies a column-store chunk file.
	CSTableMagicNumber uint32 = 0x43535442 // "CSTB"
	// SummaryMagicNumber identifies a chunk summary file.
	SummaryMagicNumber uint32 = 0x534D5259 // "SMRY"
	// ArtifactIndexMagicNumber identifies a persisted artifact index.
	ArtifactIndexMagicNumber uint32 = 0x41465849 // "AFXI"
)

// --- Magic Strings ---
const (
	// SSTableMagicString terminates a finalized row-store file.
	SSTableMagicString    = "NXT-SSTABLE-V1"
	SSTableMagicStringLen = len(SSTableMagicString)
)

// --- File Suffixes ---
const (
	GenerationSuffix    = ".idx"
	SSTableSuffix       = ".sst"
	CSTableSuffix       = ".cst"
	SummarySuffix       = ".smr"
	LockSuffix          = ".lck"
	ArtifactIndexSuffix = ".afx"
	// TempSuffix marks a file that has not been published yet.
	TempSuffix = "~"
)

// ChunkFileSuffixes lists the files that make up one chunk, in publish order.
var ChunkFileSuffixes = []string{SSTableSuffix, CSTableSuffix, SummarySuffix}

// --- Protocol & Format Versions ---
const (
	// FormatVersion is the current version of the chunk file formats.
	FormatVersion uint8 = 1
	// GenerationFormatVersion is the manifest version written by this module.
	// Version 1 manifests carry no file sizes.
	GenerationFormatVersion uint8 = 2
)

// TempPath returns the unpublished name of path.
func TempPath(path string) string {
	return path + TempSuffix
}

// ChunkName is "<table>.<replica>.<chunk>", the artifact name of a chunk.
func ChunkName(table, replicaID, chunkID string) string {
	return fmt.Sprintf("%s.%s.%s", table, replicaID, chunkID)
}

// ChunkBasePath is the chunk path without a file suffix.
func ChunkBasePath(dir, table, replicaID, chunkID string) string {
	return filepath.Join(dir, ChunkName(table, replicaID, chunkID))
}

// GenerationFileName is "<table>.<replica>.<gen>.idx".
func GenerationFileName(table, replicaID string, gen uint64) string {
	return fmt.Sprintf("%s.%s.%d%s", table, replicaID, gen, GenerationSuffix)
}

// GenerationPath joins dir and GenerationFileName.
func GenerationPath(dir, table, replicaID string, gen uint64) string {
	return filepath.Join(dir, GenerationFileName(table, replicaID, gen))
}

// LockPath is "<dir>/<table>.<replica>.lck".
func LockPath(dir, table, replicaID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%s%s", table, replicaID, LockSuffix))
}

// ArtifactIndexName is the name under which a writer's artifact index is stored.
func ArtifactIndexName(table, replicaID string) string {
	return fmt.Sprintf("%s.%s", table, replicaID)
}

// ParseGenerationFileName extracts the generation number from a manifest file
// name belonging to table/replica. ok is false for any other file.
func ParseGenerationFileName(name, table, replicaID string) (gen uint64, ok bool) {
	prefix := table + "." + replicaID + "."
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, GenerationSuffix) {
		return 0, false
	}
	mid := name[len(prefix) : len(name)-len(GenerationSuffix)]
	if mid == "" {
		return 0, false
	}
	gen, err := strconv.ParseUint(mid, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// MaxIdentifierLen bounds table names, replica ids and chunk ids so that
// every chunk file name stays within common file system limits.
const MaxIdentifierLen = 64

// ValidateIdentifier rejects names that would break the file naming scheme.
func ValidateIdentifier(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s must not be empty: %w", kind, ErrInvalidArgument)
	}
	if len(s) > MaxIdentifierLen {
		return fmt.Errorf("%s of %d bytes exceeds %d: %w", kind, len(s), MaxIdentifierLen, ErrInvalidArgument)
	}
	if strings.ContainsAny(s, "./\\~\x00") {
		return fmt.Errorf("%s %q contains a reserved character: %w", kind, s, ErrInvalidArgument)
	}
	return nil
}
