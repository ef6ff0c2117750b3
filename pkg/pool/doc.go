// Package pool runs tasks on a fixed number of concurrent slots.
//
// Invariants:
// - At most Capacity tasks execute at any time; extra submissions wait in FIFO order.
// - Submissions are never rejected while the pool is open.
// - Every accepted task resolves its Handle exactly once, including tasks
//   discarded by Shutdown and tasks whose executor panicked.
// - A failing task never affects other tasks.
//
// Usage:
//
//	p := pool.New(pool.Config{Capacity: 4, Executor: runner})
//	defer p.Close()
//	h, err := p.Submit(ctx, task.New("hello", task.Origin{}))
//	if err == nil {
//		res, _ := h.Wait(ctx)
//		_ = res
//	}
package pool
