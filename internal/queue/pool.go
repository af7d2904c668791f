// Package queue implements C6, the bounded admission queue and worker pool
// that dequeues payments and runs the selector (idempotency claim, then
// retry loop) for each (spec §4.6).
package queue

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/atomic"

	"paygate/internal/model"
)

// ErrClosed is returned by Submit once Shutdown has begun.
var ErrClosed = errors.New("queue: closed for admission")

// capacity is the bounded queue size; producers block once it is full.
const capacity = 1000

// drainDeadline bounds how long Shutdown waits for in-flight work to finish.
const drainDeadline = 30 * time.Second

// runner processes one dequeued payment to completion. Satisfied by
// *selector.Selector.
type runner interface {
	Run(ctx context.Context, payment model.PaymentRequest)
}

// Pool is a bounded FIFO queue fronting a fixed-size worker pool.
type Pool struct {
	items  chan model.QueueItem
	runner runner
	logger *slog.Logger

	workers int
	done    chan struct{}
	stop    chan struct{}
	closed  atomic.Bool
}

// New builds a Pool with one worker per available CPU core, per spec §4.6.
func New(r runner, logger *slog.Logger) *Pool {
	return &Pool{
		items:   make(chan model.QueueItem, capacity),
		runner:  r,
		logger:  logger,
		workers: runtime.GOMAXPROCS(0),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Submit enqueues item, blocking if the queue is saturated. It returns
// ErrClosed once Shutdown has begun, or ctx.Err() if ctx is cancelled
// before a slot frees up.
func (p *Pool) Submit(ctx context.Context, item model.QueueItem) error {
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrClosed
	}
}

// Run starts the worker pool and blocks until Shutdown is called and all
// in-flight items drain, or the drain deadline elapses.
func (p *Pool) Run(ctx context.Context) {
	workerPool := pool.New().WithMaxGoroutines(p.workers)

loop:
	for {
		select {
		case item := <-p.items:
			queueItem := item
			workerPool.Go(func() {
				workCtx, cancel := context.WithDeadline(ctx, queueItem.Deadline)
				defer cancel()
				p.runner.Run(workCtx, queueItem.Payment)
			})
		case <-p.stop:
			break loop
		}
	}

	// Drain whatever was already admitted before Shutdown fired.
	for {
		select {
		case item := <-p.items:
			queueItem := item
			workerPool.Go(func() {
				workCtx, cancel := context.WithDeadline(ctx, queueItem.Deadline)
				defer cancel()
				p.runner.Run(workCtx, queueItem.Payment)
			})
		default:
			waitCh := make(chan struct{})
			go func() {
				workerPool.Wait()
				close(waitCh)
			}()

			select {
			case <-waitCh:
				p.logger.Info("queue: drained cleanly")
			case <-time.After(drainDeadline):
				p.logger.Warn("queue: drain deadline exceeded, in-flight items abandoned")
			}
			close(p.done)
			return
		}
	}
}

// Shutdown closes admission; Submit returns ErrClosed afterward, and Run's
// loop exits once items already queued are dispatched to workers. It blocks
// until Run has finished draining (or the deadline fires).
func (p *Pool) Shutdown() {
	p.closed.Store(true)
	close(p.stop)
	<-p.done
}
