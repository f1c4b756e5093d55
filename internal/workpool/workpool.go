// Package workpool is the bounded concurrent executor used throughout the
// pipeline (spec §4.C): an I/O-bound flavour for network/disk work and a
// CPU-bound flavour for SIFT/RANSAC tilepair matching. Both are built on
// golang.org/x/sync's errgroup and semaphore, the pattern used by the
// PMTiles-domain fan-out in other_examples (pmtiles-extract.go) rather than
// hand-rolled channel/WaitGroup plumbing.
//
// On the first error from any submitted task, the group's context is
// canceled; every other in-flight and not-yet-started task observes the
// cancellation and returns early (spec §5 "Cancellation & timeouts").
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrency at Parallel in-flight tasks and reports progress
// as each completes.
type Pool struct {
	parallel int64
	reporter Reporter
}

// Reporter receives progress callbacks. nil is a valid Reporter (a no-op).
type Reporter interface {
	Increment()
	Finish()
}

// New creates a pool capped at `parallel` concurrent tasks. parallel <= 0 is
// treated as 1 (sequential but still cancellation-aware).
func New(parallel int, reporter Reporter) *Pool {
	if parallel <= 0 {
		parallel = 1
	}
	return &Pool{parallel: int64(parallel), reporter: reporter}
}

// Task is one unit of work submitted to the pool.
type Task func(ctx context.Context) error

// Run submits every task, blocks in-flight count at Parallel, and returns
// the first error encountered (after which the remaining tasks are
// canceled via ctx and skipped rather than started). Run itself blocks
// until every task has either completed or been canceled.
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(p.parallel)

	for _, task := range tasks {
		task := task
		if err := sem.Acquire(gctx, 1); err != nil {
			// Context already canceled by an earlier failure; stop
			// submitting further work.
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			err := task(gctx)
			if p.reporter != nil {
				p.reporter.Increment()
			}
			return err
		})
	}

	err := g.Wait()
	if p.reporter != nil {
		p.reporter.Finish()
	}
	return err
}

// ImageDownloadGate serializes calls to the render server's bounding-box
// image endpoint across the CPU pool (spec §4.C, §5): "all calls to
// get_bb_image across the CPU pool pass through a single mutex". Modeled as
// a weighted semaphore of capacity 1 rather than a sync.Mutex so the same
// context-aware Acquire/Release idiom is used throughout this package.
type ImageDownloadGate struct {
	sem *semaphore.Weighted
}

// NewImageDownloadGate creates a gate allowing one in-flight image request
// at a time.
func NewImageDownloadGate() *ImageDownloadGate {
	return &ImageDownloadGate{sem: semaphore.NewWeighted(1)}
}

// With runs fn while holding the gate.
func (g *ImageDownloadGate) With(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}
