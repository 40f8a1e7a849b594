package shell

import (
	"context"
	"sync"

	"github.com/campusrun/campus-run/internal/utils"
)

// queueSize is how many command lines may wait behind the running one before
// Submit blocks.
const queueSize = 16

// Result is the outcome of a queued command.
type Result struct {
	Exit bool
	Err  error
}

// Queue runs command lines one at a time on a single worker. The oldest
// unfinished command can be interrupted, before or while it runs, without
// affecting the ones queued after it.
type Queue struct {
	ctx        context.Context
	dispatcher *Dispatcher
	pool       *utils.WorkerPool

	mu      sync.Mutex
	pending []*job
}

// job is a submitted command line. Its context exists from Submit on so an
// interrupt is honoured even before the worker picks it up.
type job struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue creates a new Queue dispatching to dispatcher. Commands run under
// contexts derived from ctx.
func NewQueue(ctx context.Context, dispatcher *Dispatcher) *Queue {
	return &Queue{
		ctx:        ctx,
		dispatcher: dispatcher,
		pool:       utils.NewWorkerPool(1, queueSize),
	}
}

// Submit queues line and returns a channel that receives its result. A
// command interrupted before it starts is skipped.
func (q *Queue) Submit(line string) <-chan Result {
	result := make(chan Result, 1)
	ctx, cancel := context.WithCancel(q.ctx)
	j := &job{ctx: ctx, cancel: cancel}

	q.mu.Lock()
	q.pending = append(q.pending, j)
	q.mu.Unlock()

	err := q.pool.Submit(func() {
		var r Result
		if j.ctx.Err() == nil {
			r.Exit, r.Err = q.dispatcher.Dispatch(j.ctx, line)
		}
		q.done(j)
		result <- r
	})
	if err != nil {
		q.done(j)
		result <- Result{Err: err}
	}
	return result
}

func (q *Queue) done(j *job) {
	j.cancel()
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == j {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Interrupt cancels the oldest unfinished command. It reports whether there
// was one.
func (q *Queue) Interrupt() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return false
	}
	q.pending[0].cancel()
	return true
}

// Close waits for queued commands to finish. Later submissions fail with
// utils.ErrPoolClosed.
func (q *Queue) Close() {
	q.pool.Shutdown()
}
