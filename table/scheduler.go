package table

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TaskScheduler runs background chunk flushes.
type TaskScheduler interface {
	Run(task func())
}

// WorkerPool runs every task on its own goroutine, at most n at a time.
type WorkerPool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewWorkerPool(n int) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(n))}
}

func (p *WorkerPool) Run(task func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Acquire with a background context cannot fail.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)
		task()
	}()
}

// Wait blocks until every task handed to Run has returned.
func (p *WorkerPool) Wait() { p.wg.Wait() }

// InlineScheduler runs tasks on the calling goroutine.
type InlineScheduler struct{}

func (InlineScheduler) Run(task func()) { task() }
