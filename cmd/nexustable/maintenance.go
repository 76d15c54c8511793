package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/INLOpen/nexustable/config"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/table"
)

// maintenance drives the periodic commit, merge and gc of one writer.
type maintenance struct {
	w              *table.Writer
	logger         *slog.Logger
	commitInterval time.Duration
	mergeInterval  time.Duration
	gcInterval     time.Duration
	keep, max      uint64
	sweepOrphans   bool
	orphanMinAge   time.Duration
}

func newMaintenance(w *table.Writer, cfg config.TableConfig, logger *slog.Logger) *maintenance {
	keep, max := cfg.KeepGenerations, cfg.MaxGenerations
	if keep == 0 {
		keep = table.DefaultKeepGenerations
	}
	if max < keep {
		max = table.DefaultMaxGenerations
	}
	var orphanMinAge time.Duration
	if cfg.GCDelay != "off" {
		orphanMinAge = config.ParseDuration(cfg.GCDelay, table.DefaultGCDelay, logger)
	}
	return &maintenance{
		w:              w,
		logger:         logger.With("component", "Maintenance"),
		commitInterval: config.ParseDuration(cfg.CommitInterval, 5*time.Second, logger),
		mergeInterval:  config.ParseDuration(cfg.MergeInterval, 30*time.Second, logger),
		gcInterval:     config.ParseDuration(cfg.GCInterval, 60*time.Second, logger),
		keep:           keep,
		max:            max,
		sweepOrphans:   cfg.OrphanSweep,
		orphanMinAge:   orphanMinAge,
	}
}

// Run blocks until ctx is done.
func (m *maintenance) Run(ctx context.Context) {
	commitTicker := time.NewTicker(m.commitInterval)
	defer commitTicker.Stop()
	mergeTicker := time.NewTicker(m.mergeInterval)
	defer mergeTicker.Stop()
	gcTicker := time.NewTicker(m.gcInterval)
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-commitTicker.C:
			m.commit()
		case <-mergeTicker.C:
			m.merge(ctx)
		case <-gcTicker.C:
			m.gc(ctx)
		}
	}
}

func (m *maintenance) commit() {
	if n := m.w.RetryFailedFlushes(); n > 0 {
		m.logger.Info("Retrying failed flushes", "arenas", n)
	}
	if _, err := m.w.Commit(); err != nil {
		m.logger.Error("Commit failed", "error", err)
	}
}

// merge runs merges until the policy finds nothing left to do.
func (m *maintenance) merge(ctx context.Context) {
	for ctx.Err() == nil {
		merged, err := m.w.Merge(ctx)
		if core.IsConflict(err) {
			m.logger.Info("Merge lost a race, will retry on the next tick", "error", err)
			if m.sweepOrphans {
				if _, err := m.w.SweepOrphans(ctx, m.orphanMinAge); err != nil {
					m.logger.Warn("Orphan sweep failed", "error", err)
				}
			}
			return
		}
		if err != nil {
			m.logger.Error("Merge failed", "error", err)
			return
		}
		if !merged {
			return
		}
	}
}

func (m *maintenance) gc(ctx context.Context) {
	if err := m.w.GC(ctx, m.keep, m.max); err != nil {
		m.logger.Error("Garbage collection failed", "error", err)
	}
}
