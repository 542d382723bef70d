// Package persist runs save/load jobs off the simulation thread.
//
// Callers schedule a job and get a request id back immediately; they poll
// the request state later and fetch the result once it has finished.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RequestID identifies a scheduled job.
type RequestID string

// RequestState is the lifecycle phase of a request.
type RequestState uint8

const (
	StateQueued RequestState = iota
	StateInProgress
	StateFinished
	StateError
)

func (s RequestState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInProgress:
		return "in_progress"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

var (
	// ErrUnknownRequest is returned for ids the facade does not know (or forgot).
	ErrUnknownRequest = errors.New("persist: unknown request")
	// ErrNotFinished is returned when fetching the result of a pending request.
	ErrNotFinished = errors.New("persist: request not finished")
	// ErrQueueFull is the error of a request rejected because the queue was full.
	ErrQueueFull = errors.New("persist: queue full")
	// ErrClosed is the error of a request scheduled after Shutdown.
	ErrClosed = errors.New("persist: facade closed")
)

// Result is what a job reports on success.
type Result struct {
	Path     string
	Timestep uint64
	Data     any
}

// Job performs the I/O of one request.
type Job func(ctx context.Context) (Result, error)

type request struct {
	id     RequestID
	sender string
	job    Job
	state  RequestState
	result Result
	err    error
}

// Facade is an asynchronous request/response front for persistence jobs.
type Facade struct {
	workers int

	mu       sync.Mutex
	requests map[RequestID]*request
	queue    chan *request
	closed   bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewFacade creates a facade with the given worker count and queue capacity.
// Start must be called before jobs run.
func NewFacade(workers, queueSize int) *Facade {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	return &Facade{
		workers:  workers,
		requests: make(map[RequestID]*request),
		queue:    make(chan *request, queueSize),
	}
}

// Start launches the workers. Jobs receive ctx; cancelling it does not stop
// the workers, which keep taking requests until Shutdown closes the queue, so
// every scheduled request ends up finished or failed.
func (f *Facade) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	g := new(errgroup.Group)
	for i := 0; i < f.workers; i++ {
		g.Go(func() error {
			for r := range f.queue {
				f.run(ctx, r)
			}
			return nil
		})
	}
	f.group = g
}

func (f *Facade) run(ctx context.Context, r *request) {
	f.setState(r, StateInProgress, Result{}, nil)

	result, err := r.job(ctx)
	if err != nil {
		slog.Error("persist request failed", "id", string(r.id), "sender", r.sender, "error", err)
		f.setState(r, StateError, Result{}, err)
		return
	}
	f.setState(r, StateFinished, result, nil)
}

func (f *Facade) setState(r *request, state RequestState, result Result, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.state = state
	r.result = result
	r.err = err
}

// Schedule queues job and returns its id without blocking. A request that
// cannot be queued is immediately in StateError.
func (f *Facade) Schedule(senderID string, job Job) RequestID {
	r := &request{
		id:     RequestID(uuid.NewString()),
		sender: senderID,
		job:    job,
		state:  StateQueued,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests[r.id] = r
	if f.closed {
		r.state = StateError
		r.err = ErrClosed
		return r.id
	}
	select {
	case f.queue <- r:
	default:
		r.state = StateError
		r.err = ErrQueueFull
	}
	return r.id
}

// State returns the state of a request.
func (f *Facade) State(id RequestID) (RequestState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return 0, false
	}
	return r.state, true
}

// Result returns the outcome of a finished request, or the job's error for a
// failed one.
func (f *Facade) Result(id RequestID) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return Result{}, ErrUnknownRequest
	}
	switch r.state {
	case StateFinished:
		return r.result, nil
	case StateError:
		return Result{}, r.err
	default:
		return Result{}, ErrNotFinished
	}
}

// Forget drops a request's bookkeeping. Pending jobs still run.
func (f *Facade) Forget(id RequestID) {
	f.mu.Lock()
	delete(f.requests, id)
	f.mu.Unlock()
}

// Shutdown stops accepting requests, lets workers drain the queue and waits for them.
func (f *Facade) Shutdown() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	if f.group == nil {
		return nil
	}
	err := f.group.Wait()
	f.cancel()
	return err
}
