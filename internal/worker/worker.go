// Package worker runs analyses behind a message-passing boundary. Callers
// submit a Request carrying a buffer and receive exactly one Response; the
// buffer is copied on submit so nothing mutable is shared with the caller.
package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/RowanDark/unravel/internal/extract"
)

// ErrStopped is returned by Submit once the pool no longer accepts work.
var ErrStopped = errors.New("worker pool stopped")

// Request asks for one buffer to be analysed.
type Request struct {
	ID     string
	Buffer []byte
}

// Response carries either a Result or a Failure for the Request with the
// same ID.
type Response struct {
	ID     string
	Result *extract.Result
	Error  *extract.Failure
}

// Pool manages background analysis goroutines.
type Pool struct {
	workers   int
	opts      extract.Options
	requests  chan Request
	responses chan Response
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a pool of workers sharing opts.
func NewPool(workers int, opts extract.Options) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:   workers,
		opts:      opts,
		requests:  make(chan Request, workers*2),
		responses: make(chan Response, workers*2),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case req, ok := <-p.requests:
			if !ok {
				return
			}
			resp := Handle(p.ctx, req, p.opts)
			select {
			case p.responses <- resp:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues req. A missing ID is filled with a random UUID and returned.
func (p *Pool) Submit(req Request) (string, error) {
	return p.SubmitContext(context.Background(), req)
}

// SubmitContext is Submit that gives up when ctx ends while the queue is
// full.
func (p *Pool) SubmitContext(ctx context.Context, req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Buffer = bytes.Clone(req.Buffer)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return "", ErrStopped
	}
	select {
	case p.requests <- req:
		return req.ID, nil
	case <-p.ctx.Done():
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Responses returns the response channel. It is closed by Stop.
func (p *Pool) Responses() <-chan Response {
	return p.responses
}

// Stop waits for queued requests to finish and closes Responses. Responses
// must be drained concurrently when more than the buffered amount is
// outstanding.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.requests)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.responses)
	p.cancel()
}

// Cancel aborts in-flight analyses and stops all workers without
// delivering their responses.
func (p *Pool) Cancel() {
	p.cancel()
	p.wg.Wait()
}

// Handle performs one request synchronously.
func Handle(ctx context.Context, req Request, opts extract.Options) Response {
	res, err := extract.Analyze(ctx, req.Buffer, opts)
	if err != nil {
		var failure *extract.Failure
		if !errors.As(err, &failure) {
			failure = &extract.Failure{Message: err.Error(), Err: err}
		}
		return Response{ID: req.ID, Error: failure}
	}
	return Response{ID: req.ID, Result: res}
}
