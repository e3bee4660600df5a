// executor.go: function-typed executors for loader and refresh offload
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import "golang.org/x/sync/semaphore"

// Executor runs a task, typically on another goroutine. A non-nil error
// means the task was rejected and did not run; the dispatcher then applies
// the saturation rule (caller-runs for Get, a dedicated goroutine for
// LoadAll/ReloadAll so callers never observe the loader goroutine).
type Executor func(task func()) error

// NewPooledExecutor returns an executor that admits at most workers tasks
// at a time, each on its own goroutine. Admission is bounded with a
// weighted semaphore; a task arriving while all permits are held is
// rejected with a LOADCACHE_EXECUTOR_SATURATED error instead of queueing.
func NewPooledExecutor(workers int) Executor {
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	return func(task func()) error {
		if !sem.TryAcquire(1) {
			return NewErrExecutorSaturated(workers)
		}
		go func() {
			defer sem.Release(1)
			task()
		}()
		return nil
	}
}

// DirectExecutor runs the task synchronously on the calling goroutine.
// Useful in tests and as an explicit caller-runs policy.
func DirectExecutor(task func()) error {
	task()
	return nil
}
