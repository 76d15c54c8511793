package table

import (
	"context"
	"fmt"

	"github.com/INLOpen/nexustable/artifacts"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/hooks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReplicateFrom adds the chunks of other replicas listed in other to the
// head generation and registers them as artifacts to download. Chunks that
// are already known, or whose range lies within a known chunk of the same
// replica, are skipped. Known chunks whose range lies within a new chunk
// are dropped. A new generation is written only if something changed;
// applying the same generation twice is a no-op. A foreign chunk whose
// replica or chunk id is not a valid identifier rejects the whole
// generation with ErrInvalidArgument.
func (w *Writer) ReplicateFrom(ctx context.Context, other *Generation) (changed bool, err error) {
	ctx, span := startSpan(ctx, w.tracer, "TableWriter.ReplicateFrom",
		attribute.String("table.name", w.name),
		attribute.Int64("table.remote_generation", int64(other.Generation)))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if other.TableName != "" && other.TableName != w.name {
		return false, fmt.Errorf("replicate %q into %q: %w", other.TableName, w.name, core.ErrManifestMismatch)
	}
	if err := w.validateForeignChunks(other.Chunks); err != nil {
		return false, err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false, core.ErrClosed
	}
	next := w.head.Clone()
	next.Generation++

	known := make(map[string]struct{}, len(next.Chunks))
	for _, c := range next.Chunks {
		known[c.Key()] = struct{}{}
	}

	var added, dropped []core.ChunkRef
	for _, c := range other.Chunks {
		if c.ReplicaID == w.replicaID {
			continue
		}
		if _, ok := known[c.Key()]; ok {
			continue
		}
		if containedInReplica(next.Chunks, c) {
			continue
		}

		w.logger.Info("Adding foreign chunk", "chunk", c.Key())
		kept := next.Chunks[:0]
		var subsumed []string
		for _, e := range next.Chunks {
			if e.ReplicaID == c.ReplicaID && c.Contains(e) {
				dropped = append(dropped, e)
				subsumed = append(subsumed, e.Key())
				continue
			}
			kept = append(kept, e)
		}
		if len(subsumed) > 0 {
			w.logger.Info("Dropping foreign chunks that are a strict subset of a new chunk",
				"dropped", subsumed, "chunk", c.Key())
		}
		if err := w.addChunkArtifact(c, artifacts.StatusDownload); err != nil {
			w.mu.Unlock()
			return false, err
		}
		next.Chunks = append(kept, c)
		known[c.Key()] = struct{}{}
		added = append(added, c)
	}

	if len(added) == 0 {
		w.mu.Unlock()
		return false, nil
	}
	if err := w.publishLocked(next); err != nil {
		w.mu.Unlock()
		return false, err
	}
	w.mu.Unlock()

	w.metrics.ReplicatedChunks.Add(int64(len(added)))
	w.metrics.DroppedChunks.Add(int64(len(dropped)))
	w.manifestWritten(ctx, next)
	w.hooks.Trigger(ctx, hooks.NewPostReplicateEvent(hooks.ReplicatePayload{
		Table:      w.name,
		Generation: next.Generation,
		Added:      added,
		Dropped:    dropped,
	}))
	return true, nil
}

func (w *Writer) validateForeignChunks(chunks []core.ChunkRef) error {
	for i, c := range chunks {
		if c.ReplicaID == w.replicaID {
			continue
		}
		if err := core.ValidateIdentifier("replica id", c.ReplicaID); err != nil {
			return fmt.Errorf("replicate chunk %d: %w", i, err)
		}
		if err := core.ValidateIdentifier("chunk id", c.ChunkID); err != nil {
			return fmt.Errorf("replicate chunk %d of replica %s: %w", i, c.ReplicaID, err)
		}
	}
	return nil
}

func containedInReplica(chunks []core.ChunkRef, c core.ChunkRef) bool {
	for _, e := range chunks {
		if e.ReplicaID == c.ReplicaID && e.Contains(c) {
			return true
		}
	}
	return false
}

// RunConsistencyCheck verifies that every chunk of the head generation is
// registered in the artifact index and then checks the index itself. With
// repair, missing chunks are registered as present and broken artifacts are
// marked for download; without it, the first problem is returned as an error
// of kind KindConsistency.
func (w *Writer) RunConsistencyCheck(ctx context.Context, checkChecksums, repair bool) (err error) {
	ctx, span := startSpan(ctx, w.tracer, "TableWriter.RunConsistencyCheck",
		attribute.String("table.name", w.name),
		attribute.Bool("table.check_checksums", checkChecksums),
		attribute.Bool("table.repair", repair))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	existing := make(map[string]struct{})
	for _, a := range w.artifacts.ListArtifacts() {
		existing[a.Name] = struct{}{}
	}

	var missing []string
	for _, c := range w.Head().Chunks {
		name := core.ChunkName(w.name, c.ReplicaID, c.ChunkID)
		if _, ok := existing[name]; ok {
			continue
		}
		w.logger.Error("Consistency error: chunk is missing from artifact index", "chunk", name)
		missing = append(missing, name)
		w.metrics.ConsistencyErrors.Add(1)
		if !repair {
			w.hooks.Trigger(ctx, hooks.NewConsistencyErrorEvent(hooks.ConsistencyPayload{Table: w.name, Missing: missing}))
			return &core.StorageError{
				Op:   "consistency check",
				Kind: core.KindConsistency,
				Err:  fmt.Errorf("chunk %s is missing from the artifact index: %w", name, core.ErrConsistency),
			}
		}
		if err := w.addChunkArtifact(c, artifacts.StatusPresent); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		w.hooks.Trigger(ctx, hooks.NewConsistencyErrorEvent(hooks.ConsistencyPayload{Table: w.name, Missing: missing, Repaired: true}))
	}

	broken, err := w.artifacts.RunConsistencyCheck(ctx, checkChecksums, repair)
	w.metrics.ConsistencyErrors.Add(int64(len(broken)))
	if err != nil {
		return core.NewStorageError("consistency check", w.artifacts.Path(), err)
	}
	return nil
}
