package pool

import (
	"context"
	"sync"

	"github.com/harun/umile/pkg/task"
)

// Handle is the completion future of a submitted task.
type Handle struct {
	task task.Task

	once   sync.Once
	done   chan struct{}
	result task.Result
}

func newHandle(t task.Task) *Handle {
	return &Handle{task: t, done: make(chan struct{})}
}

// Task returns the submitted task.
func (h *Handle) Task() task.Task {
	return h.task
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the result and whether it is available yet.
func (h *Handle) Result() (task.Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return task.Result{}, false
	}
}

// Wait blocks until the result is available or ctx is done.
func (h *Handle) Wait(ctx context.Context) (task.Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return task.Result{}, ctx.Err()
	}
}

// resolve sets the result. Only the first call has an effect.
func (h *Handle) resolve(r task.Result) bool {
	resolved := false
	h.once.Do(func() {
		h.result = r
		close(h.done)
		resolved = true
	})
	return resolved
}
