package services

import (
	"context"
	"sync"
	"time"
)

type ViewState int

const (
	StateIdle ViewState = iota
	StateLoading
	StateSuccess
	StateError
)

func (s ViewState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	}
	return "unknown"
}

type Snapshot[T any] struct {
	State ViewState
	Data  T
	Err   error
}

func (s Snapshot[T]) Settled() bool {
	return s.State == StateSuccess || s.State == StateError
}

// QueryView drives one view through idle -> loading -> success|error. Close
// tears the view down: the in-flight fetch is cancelled and a result that
// arrives afterwards is dropped.
type QueryView[T any] struct {
	mu      sync.Mutex
	state   ViewState
	data    T
	err     error
	closed  bool
	cancel  context.CancelFunc
	settled chan struct{}
	stopped chan struct{}
}

func NewQueryView[T any]() *QueryView[T] {
	return &QueryView[T]{
		settled: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start runs fetch on its own goroutine. Only the first call on an idle,
// open view has an effect.
func (v *QueryView[T]) Start(ctx context.Context, fetch func(ctx context.Context) (T, error)) {
	v.mu.Lock()
	if v.state != StateIdle || v.closed {
		v.mu.Unlock()
		return
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	v.state = StateLoading
	v.cancel = cancel
	v.mu.Unlock()

	go func() {
		defer close(v.stopped)
		defer cancel()
		data, err := fetch(fetchCtx)
		v.complete(data, err)
	}()
}

func (v *QueryView[T]) complete(data T, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.state != StateLoading {
		return
	}
	if err != nil {
		v.state = StateError
		v.err = err
	} else {
		v.state = StateSuccess
		v.data = data
	}
	close(v.settled)
}

// Wait blocks until the view settles, ctx ends or timeout elapses, and
// returns the state at that moment.
func (v *QueryView[T]) Wait(ctx context.Context, timeout time.Duration) Snapshot[T] {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-v.settled:
	case <-ctx.Done():
	case <-timer.C:
	}
	return v.Snapshot()
}

func (v *QueryView[T]) Snapshot() Snapshot[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot[T]{State: v.state, Data: v.data, Err: v.err}
}

func (v *QueryView[T]) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	cancel := v.cancel
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the fetch goroutine has returned. It never closes for
// a view that was not started.
func (v *QueryView[T]) Done() <-chan struct{} {
	return v.stopped
}
