// Package queue implements a single-consumer FIFO work queue: one worker
// goroutine drains jobs in submission order, so two invocations of the same
// module never run concurrently against it. Grounded on the original
// supervisor's wasm_queue (queue.Queue) plus its init_wasm_worker/
// teardown_worker atexit-registered shutdown.
package queue

import "context"

// Job is one unit of work the worker goroutine executes.
type Job struct {
	Run func(ctx context.Context)
}

// shutdownSentinel is the Job value that tells the worker to stop, mirroring
// the original supervisor enqueuing None to wake and retire its worker
// thread.
var shutdownSentinel = Job{}

// Queue is a buffered, single-consumer FIFO work queue.
type Queue struct {
	jobs chan Job
	done chan struct{}
}

// New creates a queue with room for buffer pending jobs before Enqueue
// blocks.
func New(buffer int) *Queue {
	return &Queue{
		jobs: make(chan Job, buffer),
		done: make(chan struct{}),
	}
}

// Enqueue appends j to the queue, blocking if it is full.
func (q *Queue) Enqueue(j Job) {
	q.jobs <- j
}

// Start runs the single worker goroutine, calling each job's Run in
// submission order until Shutdown is called.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		for job := range q.jobs {
			if job.Run == nil {
				return
			}
			job.Run(ctx)
		}
	}()
}

// Shutdown enqueues the sentinel job and blocks until the worker goroutine
// drains everything already queued ahead of it and exits.
func (q *Queue) Shutdown() {
	q.jobs <- shutdownSentinel
	<-q.done
}
