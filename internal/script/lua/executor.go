package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Errors returned by the Executor.
var (
	// ErrExecutorClosed is returned when attempting to use a closed executor.
	ErrExecutorClosed = errors.New("script executor is closed")

	// ErrQueueFull is returned by ExecuteAsync when the queue is full.
	ErrQueueFull = errors.New("script executor queue full")
)

// Call is an operation to run on the context's goroutine.
type Call struct {
	// Fn receives the context and performs all script operations.
	Fn func(c *Context) error

	// Result receives the result of the operation.
	// The channel is closed after the result is sent.
	Result chan error
}

// Executor serializes all operations on a Context through a single
// goroutine.
//
// A Context belongs to one goroutine. The Executor marshals operations from
// other goroutines, such as file watchers and timers, to the goroutine
// running Run.
//
// Usage:
//
//	exec := lua.NewExecutor(ctx, 16)
//	go exec.Run(runCtx)
//	defer exec.Close()
//
//	// From any goroutine:
//	err := exec.Execute(reqCtx, func(c *lua.Context) error {
//	    return c.Execute(source, "main.lua", 1)
//	})
type Executor struct {
	ctx    *Context
	queue  chan *Call
	closed atomic.Bool
	done   chan struct{}

	closeOnce sync.Once
}

// NewExecutor creates an executor for c.
// The queue size determines how many operations can be buffered.
func NewExecutor(c *Context, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Executor{
		ctx:   c,
		queue: make(chan *Call, queueSize),
		done:  make(chan struct{}),
	}
}

// Run processes operations from the queue.
// This method blocks until ctx is cancelled or Close is called.
// The goroutine calling Run becomes the context's goroutine.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drainQueue(ctx.Err())
			return
		case <-e.done:
			e.drainQueue(ErrExecutorClosed)
			return
		case call, ok := <-e.queue:
			if !ok {
				return
			}
			err := e.executeCall(call)
			select {
			case call.Result <- err:
			default:
			}
			close(call.Result)
		}
	}
}

// executeCall runs a single operation with panic recovery.
func (e *Executor) executeCall(call *Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = fmt.Errorf("script executor panic: %v", v)
			}
			e.ctx.log.Error("executor call panicked")
		}
	}()
	return call.Fn(e.ctx)
}

// drainQueue fails the remaining calls with err.
func (e *Executor) drainQueue(err error) {
	for {
		select {
		case call, ok := <-e.queue:
			if !ok {
				return
			}
			select {
			case call.Result <- err:
			default:
			}
			close(call.Result)
		default:
			return
		}
	}
}

// Execute runs fn on the executor's goroutine and waits for its result or
// for ctx to be done. A call already queued still runs after ctx is done.
func (e *Executor) Execute(ctx context.Context, fn func(c *Context) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	call := &Call{
		Fn:     fn,
		Result: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- call:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-call.Result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// ExecuteAsync queues fn without waiting for completion.
func (e *Executor) ExecuteAsync(fn func(c *Context) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	call := &Call{
		Fn:     fn,
		Result: make(chan error, 1),
	}

	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- call:
		go func() {
			if err := <-call.Result; err != nil {
				e.ctx.log.Debug("async script call failed")
			}
		}()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the executor and prevents new operations.
// Queued operations complete with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
