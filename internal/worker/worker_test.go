package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RowanDark/unravel/internal/extract"
)

func TestPool_Basic(t *testing.T) {
	pool := NewPool(2, extract.DefaultOptions())
	pool.Start()
	defer pool.Stop()

	id, err := pool.Submit(Request{ID: "req-1", Buffer: []byte("hello world")})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id != "req-1" {
		t.Fatalf("expected caller ID to be kept, got %s", id)
	}

	select {
	case resp := <-pool.Responses():
		if resp.ID != "req-1" {
			t.Errorf("expected req-1, got %s", resp.ID)
		}
		if resp.Error != nil {
			t.Fatalf("unexpected error: %v", resp.Error)
		}
		if len(resp.Result.Final) != 1 || resp.Result.Final[0].Text != "hello world" {
			t.Errorf("unexpected result: %+v", resp.Result.Final)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for response")
	}
}

func TestPool_MultipleRequests(t *testing.T) {
	pool := NewPool(3, extract.DefaultOptions())
	pool.Start()

	const count = 8
	ids := make(map[string]bool)
	go func() {
		for i := 0; i < count; i++ {
			if _, err := pool.Submit(Request{Buffer: []byte("player_token")}); err != nil {
				t.Errorf("Submit %d failed: %v", i, err)
				break
			}
		}
		pool.Stop()
	}()

	for resp := range pool.Responses() {
		if resp.ID == "" {
			t.Error("expected generated request ID")
		}
		if ids[resp.ID] {
			t.Errorf("duplicate response for %s", resp.ID)
		}
		ids[resp.ID] = true
		if resp.Error != nil {
			t.Errorf("unexpected error: %v", resp.Error)
		}
	}
	if len(ids) != count {
		t.Fatalf("expected %d responses, got %d", count, len(ids))
	}
}

func TestPool_CopiesBuffer(t *testing.T) {
	pool := NewPool(1, extract.DefaultOptions())
	buf := []byte("hello world")

	// not started yet, so the request waits in the queue
	if _, err := pool.Submit(Request{ID: "copy", Buffer: buf}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	copy(buf, "XXXXXXXXXXX")

	pool.Start()
	defer pool.Stop()
	resp := <-pool.Responses()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if got := resp.Result.AllStrings; len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("caller mutation leaked into request: %q", got)
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(1, extract.DefaultOptions())
	pool.Start()
	pool.Stop()
	pool.Stop()

	if _, err := pool.Submit(Request{Buffer: []byte("x")}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestHandleFailure(t *testing.T) {
	opts := extract.DefaultOptions()
	opts.Workers = -1

	resp := Handle(context.Background(), Request{ID: "bad", Buffer: []byte("hello")}, opts)
	if resp.Result != nil {
		t.Fatal("failure must not carry a result")
	}
	if resp.Error == nil || resp.Error.Message == "" {
		t.Fatalf("expected failure message, got %+v", resp.Error)
	}
	if !errors.Is(resp.Error, extract.ErrInvalidOptions) {
		t.Fatalf("expected invalid options failure, got %v", resp.Error)
	}
}

func TestHandleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := Handle(ctx, Request{ID: "cancelled", Buffer: []byte("hello world")}, extract.DefaultOptions())
	if resp.Error == nil || !errors.Is(resp.Error, context.Canceled) {
		t.Fatalf("expected cancellation failure, got %+v", resp)
	}
}
