// Package pool implements the fixed-size download worker pool of
// spec.md §4.6: a bounded number of workers pull (id, key) jobs off a
// channel, fetch+decode each through the cache, and hand the plaintext
// to a per-job sink. Modeled on the concurrency-limited fan-out idiom
// rclone's sync/operations code gets from errgroup.Group (observed via
// the golang.org/x/sync/errgroup import shared across backend/s3 and
// the transfer queue, rather than a hand-rolled worker-channel loop).
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of fetch work: the block to resolve and a sink that
// receives its decoded plaintext.
type Job struct {
	ID   string
	Key  string
	Sink func(plaintext []byte) error
}

// Resolver fetches and decodes a single block, typically
// cache.Cache.Get paired with a blob.Decode call.
type Resolver func(ctx context.Context, id, key string) ([]byte, error)

// Pool runs jobs across a fixed number of concurrent workers.
type Pool struct {
	size    int
	resolve Resolver
}

// New returns a Pool with the given worker count (spec.md §4.6 default
// is 20) calling resolve for every job.
func New(size int, resolve Resolver) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{size: size, resolve: resolve}
}

// Size returns the pool's configured worker count, for callers that
// need to bound their own fan-out (e.g. the unpacker processing
// several files at once) to the same concurrency the pool allows.
func (p *Pool) Size() int { return p.size }

// Run submits jobs and blocks until all have completed or one fails.
// The first error cancels the remaining jobs' context, matching
// errgroup.WithContext's fail-fast semantics.
func (p *Pool) Run(ctx context.Context, jobs []Job) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			data, err := p.resolve(gctx, j.ID, j.Key)
			if err != nil {
				return err
			}
			return j.Sink(data)
		})
	}
	return g.Wait()
}

// Stream runs jobs as they arrive on a channel, for callers that
// produce the job list incrementally (e.g. a directory walk emitting
// blocks to prefetch as it discovers them).
func (p *Pool) Stream(ctx context.Context, jobs <-chan Job) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

loop:
	for {
		select {
		case j, ok := <-jobs:
			if !ok {
				break loop
			}
			j := j
			g.Go(func() error {
				data, err := p.resolve(gctx, j.ID, j.Key)
				if err != nil {
					return err
				}
				return j.Sink(data)
			})
		case <-gctx.Done():
			break loop
		}
	}
	return g.Wait()
}
