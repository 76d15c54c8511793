package table

import (
	"expvar"
	"fmt"
)

// Metrics holds the expvar counters of a table writer.
type Metrics struct {
	RecordsAdded      *expvar.Int
	PendingRecords    *expvar.Int
	Commits           *expvar.Int
	ChunksWritten     *expvar.Int
	BytesWritten      *expvar.Int
	FlushFailures     *expvar.Int
	FlushLatencyMs    *expvar.Float
	HeadGeneration    *expvar.Int
	Merges            *expvar.Int
	MergeConflicts    *expvar.Int
	MergedChunks      *expvar.Int
	GCRuns            *expvar.Int
	GCFilesDeleted    *expvar.Int
	OrphansSwept      *expvar.Int
	ReplicatedChunks  *expvar.Int
	DroppedChunks     *expvar.Int
	ConsistencyErrors *expvar.Int
}

// NewMetrics publishes the counters under "<prefix>_<name>". Publishing the
// same prefix twice reuses and resets the existing variables.
func NewMetrics(prefix string) *Metrics {
	return newMetrics(func(name string) string { return prefix + "_" + name })
}

// newMetrics with a nil namer returns counters that are not published.
func newMetrics(name func(string) string) *Metrics {
	i := func(n string) *expvar.Int {
		if name == nil {
			return new(expvar.Int)
		}
		return publishExpvarInt(name(n))
	}
	f := func(n string) *expvar.Float {
		if name == nil {
			return new(expvar.Float)
		}
		return publishExpvarFloat(name(n))
	}
	return &Metrics{
		RecordsAdded:      i("records_added_total"),
		PendingRecords:    i("pending_records"),
		Commits:           i("commits_total"),
		ChunksWritten:     i("chunks_written_total"),
		BytesWritten:      i("chunk_bytes_written_total"),
		FlushFailures:     i("flush_failures_total"),
		FlushLatencyMs:    f("last_flush_latency_ms"),
		HeadGeneration:    i("head_generation"),
		Merges:            i("merges_total"),
		MergeConflicts:    i("merge_conflicts_total"),
		MergedChunks:      i("merged_input_chunks_total"),
		GCRuns:            i("gc_runs_total"),
		GCFilesDeleted:    i("gc_files_deleted_total"),
		OrphansSwept:      i("orphans_swept_total"),
		ReplicatedChunks:  i("replicated_chunks_total"),
		DroppedChunks:     i("replicated_dropped_chunks_total"),
		ConsistencyErrors: i("consistency_errors_total"),
	}
}

func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

func publishExpvarFloat(name string) *expvar.Float {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewFloat(name)
	}
	if fv, ok := v.(*expvar.Float); ok {
		fv.Set(0)
		return fv
	}
	panic(fmt.Sprintf("expvar: trying to publish Float %s but variable already exists with different type %T", name, v))
}
