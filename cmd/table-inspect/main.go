// Command table-inspect prints the manifests of one table replica and
// optionally checks its artifact index.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/INLOpen/nexustable/artifacts"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/table"
)

type inspectOptions struct {
	dir, table, replica string
	check, checksums    bool
	repair              bool
}

func main() {
	var o inspectOptions
	flag.StringVar(&o.dir, "dir", "./data", "Table data directory")
	flag.StringVar(&o.table, "table", "events", "Table name")
	flag.StringVar(&o.replica, "replica", "r1", "Replica id")
	flag.BoolVar(&o.check, "check", false, "Run the artifact consistency check")
	flag.BoolVar(&o.checksums, "checksums", false, "Verify file checksums during -check")
	flag.BoolVar(&o.repair, "repair", false, "Mark broken artifacts for download during -check")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if err := inspect(context.Background(), os.Stdout, o, logger); err != nil {
		fmt.Fprintf(os.Stderr, "table-inspect: %v\n", err)
		os.Exit(1)
	}
}

func inspect(ctx context.Context, out io.Writer, o inspectOptions, logger *slog.Logger) error {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return err
	}
	var gens []uint64
	for _, e := range entries {
		if gen, ok := core.ParseGenerationFileName(e.Name(), o.table, o.replica); ok {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	if len(gens) == 0 {
		fmt.Fprintf(out, "no generations of %s.%s in %s\n", o.table, o.replica, o.dir)
	}

	var head *table.Generation
	for _, gen := range gens {
		g, err := table.ReadGenerationFile(core.GenerationPath(o.dir, o.table, o.replica, gen), gen, o.table)
		if err != nil {
			fmt.Fprintf(out, "generation %d: %v\n", gen, err)
			continue
		}
		printGeneration(out, g)
		head = g
	}
	if head != nil {
		if err := head.Validate(); err != nil {
			fmt.Fprintf(out, "head generation %d is invalid: %v\n", head.Generation, err)
		}
	}

	if !o.check {
		return nil
	}
	idx, err := artifacts.Open(o.dir, core.ArtifactIndexName(o.table, o.replica), logger)
	if err != nil {
		return err
	}
	if head != nil {
		for _, c := range head.Chunks {
			name := core.ChunkName(o.table, c.ReplicaID, c.ChunkID)
			if _, ok := idx.GetArtifact(name); !ok {
				fmt.Fprintf(out, "chunk %s is missing from %s\n", name, filepath.Base(idx.Path()))
			}
		}
	}
	broken, err := idx.RunConsistencyCheck(ctx, o.checksums, o.repair)
	for _, name := range broken {
		fmt.Fprintf(out, "broken artifact %s\n", name)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "consistency check passed: %d artifacts, %d repaired\n", len(idx.ListArtifacts()), len(broken))
	return nil
}

func printGeneration(out io.Writer, g *table.Generation) {
	fmt.Fprintf(out, "generation %d: %d chunks\n", g.Generation, len(g.Chunks))
	for _, c := range g.Chunks {
		fmt.Fprintf(out, "  %-40s records [%d, %d)  sst=%dB cst=%dB smr=%dB\n",
			c.Key(), c.StartSequence, c.EndSequence(), c.SSTable.Size, c.CSTable.Size, c.Summary.Size)
	}
}
