package table

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/sys"
	"github.com/RoaringBitmap/roaring/roaring64"
)

// Generation is one immutable version of a table's chunk set. A published
// Generation is never mutated; Clone it and change the copy instead.
type Generation struct {
	TableName  string
	Generation uint64
	Chunks     []core.ChunkRef
}

func NewGeneration(tableName string) *Generation {
	return &Generation{TableName: tableName}
}

// Clone returns a deep copy.
func (g *Generation) Clone() *Generation {
	c := &Generation{TableName: g.TableName, Generation: g.Generation}
	c.Chunks = append([]core.ChunkRef(nil), g.Chunks...)
	return c
}

// Find returns the index of the chunk with the given key.
func (g *Generation) Find(key string) (int, bool) {
	for i := range g.Chunks {
		if g.Chunks[i].Key() == key {
			return i, true
		}
	}
	return -1, false
}

func (g *Generation) remove(i int) {
	g.Chunks = append(g.Chunks[:i], g.Chunks[i+1:]...)
}

// ChunksOf returns the chunks of one replica ordered by start sequence.
func (g *Generation) ChunksOf(replicaID string) []core.ChunkRef {
	var out []core.ChunkRef
	for _, c := range g.Chunks {
		if c.ReplicaID == replicaID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartSequence < out[j].StartSequence })
	return out
}

// NextSequence is max(start+count) over the replica's chunks, at least 1.
func (g *Generation) NextSequence(replicaID string) uint64 {
	next := uint64(1)
	for _, c := range g.Chunks {
		if c.ReplicaID == replicaID && c.EndSequence() > next {
			next = c.EndSequence()
		}
	}
	return next
}

// Coverage returns the set of sequence numbers held by the replica's chunks.
func (g *Generation) Coverage(replicaID string) *roaring64.Bitmap {
	bm := roaring64.New()
	for _, c := range g.Chunks {
		if c.ReplicaID == replicaID && c.NumRecords > 0 {
			bm.AddRange(c.StartSequence, c.EndSequence())
		}
	}
	return bm
}

// Validate checks that no two chunks of the same replica share a sequence
// number and that chunk keys are unique.
func (g *Generation) Validate() error {
	seen := make(map[string]struct{}, len(g.Chunks))
	coverage := make(map[string]*roaring64.Bitmap)
	for _, c := range g.Chunks {
		if _, dup := seen[c.Key()]; dup {
			return fmt.Errorf("generation %d: duplicate chunk %s: %w", g.Generation, c.Key(), core.ErrCorrupted)
		}
		seen[c.Key()] = struct{}{}
		if c.NumRecords == 0 {
			continue
		}
		bm, ok := coverage[c.ReplicaID]
		if !ok {
			bm = roaring64.New()
			coverage[c.ReplicaID] = bm
		}
		before := bm.GetCardinality()
		bm.AddRange(c.StartSequence, c.EndSequence())
		if bm.GetCardinality()-before != c.NumRecords {
			return fmt.Errorf("generation %d: chunk %s overlaps another chunk of replica %s: %w",
				g.Generation, c, c.ReplicaID, core.ErrCorrupted)
		}
	}
	return nil
}

// Encode serializes g in the current manifest format. All integers are
// little endian.
func (g *Generation) Encode() ([]byte, error) {
	return g.EncodeVersion(core.GenerationFormatVersion)
}

// EncodeVersion serializes g in format version 1 or 2. Version 1 has no
// file sizes.
func (g *Generation) EncodeVersion(version uint8) ([]byte, error) {
	if version < 1 || version > core.GenerationFormatVersion {
		return nil, fmt.Errorf("unsupported manifest version %d: %w", version, core.ErrInvalidArgument)
	}
	if err := checkString16("table name", g.TableName); err != nil {
		return nil, err
	}
	b := make([]byte, 0, 32+len(g.Chunks)*96)
	b = append(b, version)
	b = binary.LittleEndian.AppendUint64(b, g.Generation)
	b = appendString16(b, g.TableName)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(g.Chunks)))
	for _, c := range g.Chunks {
		if err := checkString16("replica id", c.ReplicaID); err != nil {
			return nil, err
		}
		if err := checkString16("chunk id", c.ChunkID); err != nil {
			return nil, err
		}
		b = appendString16(b, c.ReplicaID)
		b = appendString16(b, c.ChunkID)
		b = binary.LittleEndian.AppendUint64(b, c.StartSequence)
		b = binary.LittleEndian.AppendUint64(b, c.NumRecords)
		b = binary.LittleEndian.AppendUint64(b, c.SSTable.Checksum)
		b = binary.LittleEndian.AppendUint64(b, c.CSTable.Checksum)
		b = binary.LittleEndian.AppendUint64(b, c.Summary.Checksum)
		if version >= 2 {
			b = binary.AppendUvarint(b, c.SSTable.Size)
			b = binary.AppendUvarint(b, c.CSTable.Size)
			b = binary.AppendUvarint(b, c.Summary.Size)
		}
	}
	return b, nil
}

func checkString16(kind, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%s of %d bytes exceeds the manifest limit of %d: %w", kind, len(s), math.MaxUint16, core.ErrInvalidArgument)
	}
	return nil
}

// appendString16 writes s with a uint16 length prefix. Callers check the
// length with checkString16 first.
func appendString16(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// DecodeGeneration parses a manifest. A nonzero expectedGen or non-empty
// expectedName must match the decoded values, otherwise ErrManifestMismatch
// is returned.
func DecodeGeneration(data []byte, expectedGen uint64, expectedName string) (*Generation, error) {
	r := manifestReader{buf: data}
	version := r.u8()
	if r.err == nil && (version < 1 || version > core.GenerationFormatVersion) {
		return nil, fmt.Errorf("manifest version %d: %w", version, core.ErrManifestMismatch)
	}
	g := &Generation{}
	g.Generation = r.u64()
	g.TableName = r.string16()
	if r.err != nil {
		return nil, r.err
	}
	if expectedGen > 0 && g.Generation != expectedGen {
		return nil, fmt.Errorf("generation mismatch: %d vs %d: %w", g.Generation, expectedGen, core.ErrManifestMismatch)
	}
	if expectedName != "" && g.TableName != expectedName {
		return nil, fmt.Errorf("name mismatch: %q vs %q: %w", g.TableName, expectedName, core.ErrManifestMismatch)
	}

	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		var c core.ChunkRef
		c.ReplicaID = r.string16()
		c.ChunkID = r.string16()
		c.StartSequence = r.u64()
		c.NumRecords = r.u64()
		c.SSTable.Checksum = r.u64()
		c.CSTable.Checksum = r.u64()
		c.Summary.Checksum = r.u64()
		if version >= 2 {
			c.SSTable.Size = r.uvarint()
			c.CSTable.Size = r.uvarint()
			c.Summary.Size = r.uvarint()
		}
		g.Chunks = append(g.Chunks, c)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("manifest has %d trailing bytes: %w", len(r.buf)-r.off, core.ErrCorrupted)
	}
	return g, nil
}

type manifestReader struct {
	buf []byte
	off int
	err error
}

func (r *manifestReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.buf)-r.off {
		r.err = fmt.Errorf("manifest truncated at offset %d: %w", r.off, core.ErrCorrupted)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *manifestReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *manifestReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *manifestReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *manifestReader) string16() string {
	if b := r.take(2); b != nil {
		return string(r.take(int(binary.LittleEndian.Uint16(b))))
	}
	return ""
}

func (r *manifestReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.err = fmt.Errorf("bad varint at offset %d: %w", r.off, core.ErrCorrupted)
		return 0
	}
	r.off += n
	return v
}

// ReadGenerationFile loads and decodes the manifest at path.
func ReadGenerationFile(path string, expectedGen uint64, expectedName string) (*Generation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := DecodeGeneration(data, expectedGen, expectedName)
	if err != nil {
		return nil, core.NewStorageError("decode manifest", path, err)
	}
	return g, nil
}

// WriteGenerationFile publishes g at path through a temp file and rename.
func WriteGenerationFile(path string, g *Generation) error {
	data, err := g.Encode()
	if err != nil {
		return err
	}
	return sys.WriteFileAtomic(path, data, 0644)
}

// FindHeadGeneration scans dir for manifests of table/replica and returns
// the highest generation number, 0 if there are none.
func FindHeadGeneration(dir, tableName, replicaID string) (uint64, error) {
	gens, err := listGenerations(dir, tableName, replicaID)
	if err != nil || len(gens) == 0 {
		return 0, err
	}
	return gens[len(gens)-1], nil
}

// listGenerations returns every generation number on disk, ascending.
func listGenerations(dir, tableName, replicaID string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var gens []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if gen, ok := core.ParseGenerationFileName(e.Name(), tableName, replicaID); ok {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}
