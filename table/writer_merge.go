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

// Merge runs at most one compaction chosen by the merge policy and reports
// whether a merged chunk was published. It blocks for the whole merge and
// belongs in a maintenance loop.
//
// If an input chunk left the head generation while the merge ran, nothing is
// published and an error of kind KindConflict wrapping ErrMergeConflict is
// returned. The output files stay on disk until SweepOrphans removes them.
func (w *Writer) Merge(ctx context.Context) (merged bool, err error) {
	w.mergeMu.Lock()
	defer w.mergeMu.Unlock()
	if w.isClosed() {
		return false, core.ErrClosed
	}

	ctx, span := startSpan(ctx, w.tracer, "TableWriter.Merge", attribute.String("table.name", w.name))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	snap := w.GetSnapshot()
	plan, ok := w.policy.FindNextMerge(snap.Head, w.replicaID, w.chunkSize)
	if !ok {
		return false, nil
	}
	inputIDs := make([]string, 0, len(plan.Inputs))
	for _, c := range plan.Inputs {
		inputIDs = append(inputIDs, c.ChunkID)
	}
	span.SetAttributes(
		attribute.StringSlice("table.merge.inputs", inputIDs),
		attribute.String("table.merge.output", plan.Output.ChunkID),
		attribute.Int64("table.merge.bytes", int64(plan.Bytes)))

	payload := hooks.MergePayload{Table: w.name, Inputs: plan.Inputs, Output: plan.Output}
	if err := w.hooks.Trigger(ctx, hooks.NewPreMergeEvent(payload)); err != nil {
		return false, fmt.Errorf("merge cancelled by pre-hook: %w", err)
	}

	w.logger.Info("Merging table", "input_chunks", inputIDs, "output_chunk", plan.Output.ChunkID, "bytes", plan.Bytes)
	start := w.opts.Clock()

	cw, err := NewChunkWriter(ChunkWriterOptions{
		Dir:        w.dir,
		TableName:  w.name,
		Schema:     w.schema,
		Chunk:      plan.Output,
		Compressor: w.opts.Compressor,
		Summaries:  w.summaryFactories(),
		Logger:     w.opts.Logger,
		Tracer:     w.tracer,
	})
	if err != nil {
		return false, err
	}
	out, err := NewChunkMerge(w.dir, w.name, w.schema, plan.Inputs, cw, w.limiter, w.opts.Logger).Merge(ctx)
	if err != nil {
		return false, err
	}
	payload.Output = out
	if err := w.addChunkArtifact(out, artifacts.StatusPresent); err != nil {
		return false, err
	}

	if w.testHookBeforeMergePublish != nil {
		w.testHookBeforeMergePublish()
	}

	w.mu.Lock()
	next := w.head.Clone()
	next.Generation++
	var missing []string
	for _, in := range plan.Inputs {
		i, ok := next.Find(in.Key())
		if !ok {
			missing = append(missing, in.ChunkID)
			continue
		}
		next.remove(i)
	}
	if len(missing) > 0 {
		w.mu.Unlock()
		return false, w.abortMerge(ctx, payload, missing)
	}
	next.Chunks = append(next.Chunks, out)
	if err := w.publishLocked(next); err != nil {
		w.mu.Unlock()
		return false, err
	}
	w.mu.Unlock()

	payload.Duration = w.opts.Clock().Sub(start)
	w.metrics.Merges.Add(1)
	w.metrics.MergedChunks.Add(int64(len(plan.Inputs)))
	w.metrics.BytesWritten.Add(int64(out.SSTable.Size + out.CSTable.Size + out.Summary.Size))
	w.manifestWritten(ctx, next)
	w.hooks.Trigger(ctx, hooks.NewPostMergeEvent(payload))
	w.logger.Info("Merged table", "output_chunk", out.ChunkID, "records", out.NumRecords, "duration", payload.Duration)
	return true, nil
}

func (w *Writer) abortMerge(ctx context.Context, payload hooks.MergePayload, missing []string) error {
	err := &core.StorageError{
		Op:   "merge",
		Kind: core.KindConflict,
		Err:  fmt.Errorf("input chunks %v are gone: %w", missing, core.ErrMergeConflict),
	}
	w.logger.Info("Aborting merge", "output_chunk", payload.Output.ChunkID, "missing_inputs", missing)
	if derr := w.artifacts.DeleteArtifact(core.ChunkName(w.name, payload.Output.ReplicaID, payload.Output.ChunkID)); derr != nil {
		w.logger.Error("Failed to delete artifact of aborted merge", "error", derr)
	}
	w.metrics.MergeConflicts.Add(1)
	w.hooks.Trigger(ctx, hooks.NewMergeAbortedEvent(hooks.MergeAbortedPayload{MergePayload: payload, Reason: err}))
	return err
}
