package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher lets concurrent callers share one Pool by routing every
// Response back to the caller that submitted the matching Request. It owns
// the pool's Responses channel; nothing else may read from it.
type Dispatcher struct {
	pool *Pool

	mu      sync.Mutex
	waiting map[string]chan Response
	closed  bool
	done    chan struct{}
}

// NewDispatcher starts routing responses from pool. The pool must already
// be started.
func NewDispatcher(pool *Pool) *Dispatcher {
	d := &Dispatcher{
		pool:    pool,
		waiting: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	go d.route()
	return d
}

func (d *Dispatcher) route() {
	defer close(d.done)
	for resp := range d.pool.Responses() {
		d.mu.Lock()
		ch, ok := d.waiting[resp.ID]
		delete(d.waiting, resp.ID)
		d.mu.Unlock()
		// Callers that gave up are no longer waiting; drop their response.
		if ok {
			ch <- resp
		}
	}

	d.mu.Lock()
	d.closed = true
	for id, ch := range d.waiting {
		close(ch)
		delete(d.waiting, id)
	}
	d.mu.Unlock()
}

// Do submits req and blocks until its Response arrives or ctx ends. A
// missing ID is filled with a random UUID. ErrStopped is returned when the
// pool shuts down before answering.
func (d *Dispatcher) Do(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ch := make(chan Response, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Response{}, ErrStopped
	}
	d.waiting[req.ID] = ch
	d.mu.Unlock()

	if _, err := d.pool.SubmitContext(ctx, req); err != nil {
		d.forget(req.ID)
		return Response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, ErrStopped
		}
		return resp, nil
	case <-ctx.Done():
		d.forget(req.ID)
		return Response{}, ctx.Err()
	}
}

// Done is closed once the pool has stopped and every waiter was released.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.waiting, id)
	d.mu.Unlock()
}
