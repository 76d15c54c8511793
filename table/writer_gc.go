package table

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/hooks"
	"github.com/INLOpen/nexustable/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// GC deletes manifests older than the newest keep generations together with
// every chunk that no retained manifest references. Generations read within
// GCDelay are kept as well, but never more than max generations. Orphaned
// chunk files older than GCDelay are swept afterwards.
func (w *Writer) GC(ctx context.Context, keep, max uint64) (err error) {
	if keep < 1 {
		return fmt.Errorf("must keep at least one generation: %w", core.ErrInvalidArgument)
	}
	ctx, span := startSpan(ctx, w.tracer, "TableWriter.GC",
		attribute.String("table.name", w.name),
		attribute.Int64("table.gc.keep", int64(keep)),
		attribute.Int64("table.gc.max", int64(max)))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	w.mu.Lock()
	headGen := w.head.Generation
	w.gcArenasLocked()
	w.mu.Unlock()
	w.metrics.GCRuns.Add(1)

	result := hooks.GarbageCollectPayload{Table: w.name}
	if headGen >= keep {
		if err := w.collectGenerations(headGen, keep, max, &result); err != nil {
			return err
		}
	}

	swept, err := w.SweepOrphans(ctx, w.opts.GCDelay)
	result.SweptOrphans = swept
	if err != nil {
		return err
	}
	w.hooks.Trigger(ctx, hooks.NewPostGarbageCollectEvent(result))
	return nil
}

func (w *Writer) collectGenerations(headGen, keep, max uint64, result *hooks.GarbageCollectPayload) error {
	firstGen := headGen - keep
	var floor uint64
	if max < headGen {
		floor = headGen - max
	}
	cutoff := w.opts.Clock().Add(-w.opts.GCDelay)
	for firstGen > floor {
		path := w.generationPath(firstGen)
		if !sys.Exists(path) {
			return nil
		}
		atime, err := sys.AccessTime(path)
		if err != nil || !atime.After(cutoff) {
			break
		}
		w.logger.Debug("Skipping garbage collection of recently accessed generation",
			"generation", firstGen, "gc_delay", w.opts.GCDelay)
		firstGen--
	}

	deleteChunks := make(map[string]core.ChunkRef)
	var deleteFiles []string
	lastGen := firstGen
	for ; lastGen > 0; lastGen-- {
		path := w.generationPath(lastGen)
		if !sys.Exists(path) {
			break
		}
		g, err := ReadGenerationFile(path, lastGen, w.name)
		if err != nil {
			w.logger.Warn("Skipping unreadable generation", "generation", lastGen, "error", err)
			continue
		}
		for _, c := range g.Chunks {
			deleteChunks[c.Key()] = c
		}
		deleteFiles = append(deleteFiles, path)
		result.DeletedGenerations = append(result.DeletedGenerations, lastGen)
	}

	for gen := headGen; gen > firstGen; gen-- {
		g, err := ReadGenerationFile(w.generationPath(gen), gen, w.name)
		if err != nil {
			return fmt.Errorf("cannot determine chunks retained by generation %d: %w", gen, err)
		}
		for _, c := range g.Chunks {
			delete(deleteChunks, c.Key())
		}
	}

	keys := make([]string, 0, len(deleteChunks))
	for k := range deleteChunks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.logger.Debug("Garbage collecting table",
		"from_generation", lastGen, "to_generation", firstGen, "num_chunks", len(keys), "chunks", keys)

	for _, k := range keys {
		c := deleteChunks[k]
		if err := w.artifacts.DeleteArtifact(core.ChunkName(w.name, c.ReplicaID, c.ChunkID)); err != nil {
			w.logger.Error("Error while deleting artifact", "chunk", k, "error", err)
		}
		if core.ValidateIdentifier("replica id", c.ReplicaID) != nil || core.ValidateIdentifier("chunk id", c.ChunkID) != nil {
			w.logger.Warn("Not deleting files of chunk with an invalid identifier", "chunk", k)
			continue
		}
		deleteFiles = append(deleteFiles, chunkFiles(w.dir, w.name, c)...)
	}
	result.DeletedChunks = keys

	for _, f := range deleteFiles {
		if !sys.Exists(f) {
			// foreign chunks that were never downloaded
			w.logger.Debug("Skipping missing file", "path", f)
			continue
		}
		w.logger.Info("Deleting file", "path", f)
		if err := sys.Remove(f); err != nil {
			w.logger.Error("Failed to delete file", "path", f, "error", err)
			continue
		}
		result.DeletedFiles++
	}
	w.metrics.GCFilesDeleted.Add(int64(result.DeletedFiles))
	return nil
}

func (w *Writer) generationPath(gen uint64) string {
	return core.GenerationPath(w.dir, w.name, w.replicaID, gen)
}

// SweepOrphans deletes chunk files of this replica, published or
// temporary, that are older than minAge and referenced neither by a
// manifest on disk, the head generation nor a live arena. Such files are
// left behind by aborted merges and failed flushes.
func (w *Writer) SweepOrphans(ctx context.Context, minAge time.Duration) (int, error) {
	w.mergeMu.Lock()
	defer w.mergeMu.Unlock()

	referenced := make(map[string]struct{})
	w.mu.Lock()
	for _, c := range w.head.Chunks {
		referenced[c.ChunkID] = struct{}{}
	}
	for _, a := range w.arenas {
		referenced[a.ChunkID()] = struct{}{}
	}
	for a := range w.failed {
		referenced[a.ChunkID()] = struct{}{}
	}
	w.mu.Unlock()

	gens, err := listGenerations(w.dir, w.name, w.replicaID)
	if err != nil {
		return 0, err
	}
	for _, gen := range gens {
		g, err := ReadGenerationFile(w.generationPath(gen), gen, w.name)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("orphan sweep aborted: %w", err)
		}
		for _, c := range g.Chunks {
			if c.ReplicaID == w.replicaID {
				referenced[c.ChunkID] = struct{}{}
			}
		}
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", w.dir, err)
	}
	now := w.opts.Clock()
	prefix := w.name + "." + w.replicaID + "."
	swept := 0
	sweptChunks := make(map[string]struct{})
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		chunkID, ok := parseChunkFileName(e.Name(), prefix)
		if !ok || e.IsDir() {
			continue
		}
		if _, ok := referenced[chunkID]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < minAge {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		w.logger.Info("Deleting orphaned chunk file", "path", path)
		if err := sys.Remove(path); err != nil {
			w.logger.Error("Failed to delete orphaned chunk file", "path", path, "error", err)
			continue
		}
		swept++
		sweptChunks[chunkID] = struct{}{}
	}
	for id := range sweptChunks {
		name := core.ChunkName(w.name, w.replicaID, id)
		if _, ok := w.artifacts.GetArtifact(name); ok {
			if err := w.artifacts.DeleteArtifact(name); err != nil {
				w.logger.Error("Error while deleting artifact", "artifact", name, "error", err)
			}
		}
	}
	w.metrics.OrphansSwept.Add(int64(swept))
	return swept, nil
}

// parseChunkFileName returns the chunk id of "<prefix><chunk><suffix>[~]".
func parseChunkFileName(name, prefix string) (string, bool) {
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	rest := strings.TrimSuffix(name[len(prefix):], core.TempSuffix)
	for _, suffix := range core.ChunkFileSuffixes {
		if id, ok := strings.CutSuffix(rest, suffix); ok && id != "" && !strings.Contains(id, ".") {
			return id, true
		}
	}
	return "", false
}
