package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var (
	ErrPoolClosed = errors.New("ingestion pool is shut down")
	ErrJobDropped = errors.New("ingestion job dropped before it started")
)

// Pool runs background jobs with at most `workers` running at once.
// Submit never blocks the caller.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), ctx: ctx, cancel: cancel}
}

// Submit queues a job. A job that panics, or that never starts because the
// pool shut down first, is reported to abort instead. abort may be nil.
func (p *Pool) Submit(name string, job func(ctx context.Context), abort func(err error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	if abort == nil {
		abort = func(error) {}
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			log.Warn().Str("job", name).Msg("Ingestion job dropped, pool is shutting down")
			abort(fmt.Errorf("%w: %w", ErrJobDropped, err))
			return
		}
		defer p.sem.Release(1)
		if err := p.ctx.Err(); err != nil {
			log.Warn().Str("job", name).Msg("Ingestion job dropped, pool is shutting down")
			abort(fmt.Errorf("%w: %w", ErrJobDropped, err))
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("job", name).Str("panic", fmt.Sprint(r)).Msg("Ingestion job panicked")
				abort(fmt.Errorf("ingestion job panicked: %v", r))
			}
		}()
		job(p.ctx)
	}()
	return nil
}

// Wait blocks until every submitted job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting jobs and waits for running ones until ctx is
// done, then cancels whatever is left.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
