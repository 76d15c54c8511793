package table

import (
	"log/slog"

	"github.com/INLOpen/nexustable/core"
)

const mib = 1024 * 1024

// MergeTier bounds the cumulative row-store size of one merge.
type MergeTier struct {
	MinBytes uint64
	MaxBytes uint64
}

// DefaultMergeTiers returns the size tiers, largest first.
func DefaultMergeTiers() []MergeTier {
	return []MergeTier{
		{MinBytes: 490 * mib, MaxBytes: 520 * mib},
		{MinBytes: 200 * mib, MaxBytes: 250 * mib},
		{MinBytes: 90 * mib, MaxBytes: 100 * mib},
		{MinBytes: 1 * mib, MaxBytes: 25 * mib},
	}
}

// ChunkSizeFunc returns the row-store size of a chunk.
type ChunkSizeFunc func(core.ChunkRef) uint64

// MergePlan is the outcome of FindNextMerge.
type MergePlan struct {
	Inputs []core.ChunkRef
	Output core.ChunkRef
	Bytes  uint64
}

// MergePolicy picks contiguous runs of one replica's chunks to compact.
type MergePolicy struct {
	tiers  []MergeTier
	ids    IDSource
	logger *slog.Logger
}

func NewMergePolicy(tiers []MergeTier, ids IDSource, logger *slog.Logger) *MergePolicy {
	if len(tiers) == 0 {
		tiers = DefaultMergeTiers()
	}
	if ids == nil {
		ids = NewRandomIDSource()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MergePolicy{tiers: tiers, ids: ids, logger: logger.With("component", "MergePolicy")}
}

// FindNextMerge tries every start position and, for each, every tier in
// order. The first run of at least two chunks whose size reaches the
// tier's minimum wins.
func (p *MergePolicy) FindNextMerge(gen *Generation, replicaID string, sizeOf ChunkSizeFunc) (MergePlan, bool) {
	chunks := gen.ChunksOf(replicaID)
	if len(chunks) < 2 {
		return MergePlan{}, false
	}

	for i := 0; i < len(chunks)-1; i++ {
		for _, tier := range p.tiers {
			if plan, ok := p.tryFold(chunks, i, tier, replicaID, sizeOf); ok {
				return plan, true
			}
		}
	}
	return MergePlan{}, false
}

func (p *MergePolicy) tryFold(chunks []core.ChunkRef, begin int, tier MergeTier, replicaID string, sizeOf ChunkSizeFunc) (MergePlan, bool) {
	var (
		size    uint64
		records uint64
		nextSeq uint64
	)
	end := begin
	for i := begin; i < len(chunks); i++ {
		c := chunks[i]
		if i > begin && c.StartSequence != nextSeq {
			p.logger.Warn("Found record sequence discontinuity, missing chunks?",
				"replica", replicaID, "start_sequence", c.StartSequence, "expected", nextSeq)
			break
		}
		csize := sizeOf(c)
		if size+csize > tier.MaxBytes {
			break
		}
		end++
		size += csize
		records += c.NumRecords
		nextSeq = c.EndSequence()
	}

	if end-begin < 2 || size < tier.MinBytes {
		return MergePlan{}, false
	}
	return MergePlan{
		Inputs: append([]core.ChunkRef(nil), chunks[begin:end]...),
		Output: core.ChunkRef{
			ReplicaID:     replicaID,
			ChunkID:       p.ids.NewID(),
			StartSequence: chunks[begin].StartSequence,
			NumRecords:    records,
		},
		Bytes: size,
	}, true
}
