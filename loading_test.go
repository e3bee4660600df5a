// loading_test.go: miss resolution, coalescing and failure propagation
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestGet_CacheHitSkipsLoader verifies that a fresh value short-circuits.
func TestGet_CacheHitSkipsLoader(t *testing.T) {
	var calls atomic.Int32
	cache, _ := New(Config[string, string]{
		Loader: LoaderFunc[string, string](func(ctx context.Context, key string) (string, error) {
			calls.Add(1)
			return "loaded", nil
		}),
	})
	defer cache.Close()

	_ = cache.Put("k", "cached")
	v, err := cache.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "cached" {
		t.Errorf("Get = %q, want cached value", v)
	}
	if calls.Load() != 0 {
		t.Errorf("loader called %d times on a hit, want 0", calls.Load())
	}
}

// TestGet_LoaderErrorWrapsCause verifies the error envelope chain.
func TestGet_LoaderErrorWrapsCause(t *testing.T) {
	errAlwaysFail := errors.New("always fail")
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) {
			return 0, errAlwaysFail
		}),
	})
	defer cache.Close()

	_, err := cache.Get(context.Background(), 5)
	if err == nil {
		t.Fatal("expected loader error")
	}
	if GetErrorCode(err) != ErrCodeLoaderFailed {
		t.Errorf("code = %s, want %s", GetErrorCode(err), ErrCodeLoaderFailed)
	}
	if !errors.Is(err, errAlwaysFail) {
		t.Errorf("envelope should wrap the original error, got %v", err)
	}
	// the failure is not cached as a value
	if _, ok := cache.Peek(5); ok {
		t.Error("Peek should not surface a value after a failed load")
	}
}

// TestGet_Concurrent_AtMostOneInFlight is the critical coalescing test:
// many goroutines reading a missing key share one loader invocation.
func TestGet_Concurrent_AtMostOneInFlight(t *testing.T) {
	const goroutines = 100
	var calls atomic.Int32
	gate := make(chan struct{})
	cache, _ := New(Config[string, int]{
		Loader: LoaderFunc[string, int](func(ctx context.Context, key string) (int, error) {
			calls.Add(1)
			<-gate
			return 42, nil
		}),
	})
	defer cache.Close()

	var wg sync.WaitGroup
	results := make([]int, goroutines)
	errs := make([]error, goroutines)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background(), "k")
		}(i)
	}
	// let the callers pile up on the in-flight load
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("loader called %d times, want exactly 1", calls.Load())
	}
	for i := 0; i < goroutines; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d got error: %v", i, errs[i])
		}
		if results[i] != 42 {
			t.Errorf("goroutine %d got %d, want 42", i, results[i])
		}
	}
}

// TestGet_LoaderPanicIsRecovered verifies panic containment.
func TestGet_LoaderPanicIsRecovered(t *testing.T) {
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) {
			panic("boom")
		}),
	})
	defer cache.Close()

	_, err := cache.Get(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error from panicking loader")
	}
	if !IsLoaderError(err) {
		t.Errorf("panic should surface as loader failure, got code %s", GetErrorCode(err))
	}
}

// TestGet_NilValueRejected verifies the nil-return rule.
func TestGet_NilValueRejected(t *testing.T) {
	cache, _ := New(Config[string, *int]{
		Loader: LoaderFunc[string, *int](func(ctx context.Context, key string) (*int, error) {
			return nil, nil
		}),
	})
	defer cache.Close()

	_, err := cache.Get(context.Background(), "k")
	if err == nil {
		t.Fatal("expected nil-value failure")
	}
	cause := errors.Unwrap(err)
	if GetErrorCode(cause) != ErrCodeNilValue {
		t.Errorf("cause code = %s, want %s", GetErrorCode(cause), ErrCodeNilValue)
	}
}

// TestGet_NilValuePermitted verifies PermitNilValues.
func TestGet_NilValuePermitted(t *testing.T) {
	cache, _ := New(Config[string, *int]{
		Loader: LoaderFunc[string, *int](func(ctx context.Context, key string) (*int, error) {
			return nil, nil
		}),
		PermitNilValues: true,
	})
	defer cache.Close()

	v, err := cache.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != nil {
		t.Errorf("Get = %v, want nil", v)
	}
	if !cache.ContainsKey("k") {
		t.Error("nil value should still be contained")
	}
}

// TestGet_ContextCancelUnblocksWaiter verifies that a waiter abandons an
// in-flight load when its context dies; the load itself keeps running.
func TestGet_ContextCancelUnblocksWaiter(t *testing.T) {
	gate := make(chan struct{})
	cache, _ := New(Config[string, int]{
		Loader: LoaderFunc[string, int](func(ctx context.Context, key string) (int, error) {
			<-gate
			return 1, nil
		}),
	})
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "k")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("want context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not unblock on cancellation")
	}

	close(gate)
	// the load still completes and populates the entry
	if !eventually(func() bool { return cache.ContainsKey("k") }) {
		t.Error("abandoned load should still populate the entry")
	}
}

// TestPut_OverridesInFlightLoad verifies that waiters of an overridden
// load receive the put value and the load result is discarded.
func TestPut_OverridesInFlightLoad(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	cache, _ := New(Config[string, int]{
		Loader: LoaderFunc[string, int](func(ctx context.Context, key string) (int, error) {
			close(entered)
			<-gate
			return 5, nil
		}),
	})
	defer cache.Close()

	done := make(chan int, 1)
	go func() {
		v, _ := cache.Get(context.Background(), "k")
		done <- v
	}()
	<-entered

	if err := cache.Put("k", 99); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	close(gate)

	select {
	case v := <-done:
		if v != 99 {
			t.Errorf("waiter got %d, want put value 99", v)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not complete")
	}
	if v, _ := cache.Peek("k"); v != 99 {
		t.Errorf("Peek = %d, want 99 (load result discarded)", v)
	}
}

// TestClose_CompletesPendingWaiters verifies close safety: blocked readers
// are released with the closed error and the late loader callback is
// absorbed without effect.
func TestClose_CompletesPendingWaiters(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	cache, _ := New(Config[string, int]{
		Loader: LoaderFunc[string, int](func(ctx context.Context, key string) (int, error) {
			close(entered)
			<-gate
			return 1, nil
		}),
	})

	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(context.Background(), "k")
		done <- err
	}()
	<-entered

	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-done:
		if !IsCacheClosed(err) {
			t.Errorf("waiter should observe closed error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter hung across Close")
	}

	// late completion is silently dropped
	close(gate)
	time.Sleep(20 * time.Millisecond)
	if cache.ContainsKey("k") {
		t.Error("late load completion must not mutate a closed cache")
	}
}

// TestAdvancedLoader_SeesPreviousValue verifies the per-load view on a
// reload of an expired entry with keep-data.
func TestAdvancedLoader_SeesPreviousValue(t *testing.T) {
	clock := newFakeClock()
	var sawPrevious atomic.Int64
	var leaked *LoaderContext[string, int]
	cache, _ := New(Config[string, int]{
		AdvancedLoader: AdvancedLoaderFunc[string, int](func(ctx context.Context, key string, details *LoaderContext[string, int]) (int, error) {
			leaked = details
			if snap, err := details.CurrentEntry(); err == nil && snap != nil {
				if v, ok := snap.Value(); ok {
					sawPrevious.Store(int64(v))
				}
			}
			return 2, nil
		}),
		ExpireAfterWrite:     50 * time.Millisecond,
		KeepDataAfterExpired: true,
		TimeProvider:         clock,
		LoaderExecutor:       DirectExecutor,
	})
	defer cache.Close()

	_ = cache.Put("k", 1)
	clock.advance(100 * time.Millisecond)

	v, err := cache.Get(context.Background(), "k")
	if err != nil || v != 2 {
		t.Fatalf("Get = %d,%v, want 2,nil", v, err)
	}
	if sawPrevious.Load() != 1 {
		t.Errorf("loader saw previous value %d, want 1", sawPrevious.Load())
	}

	// outside the load span the snapshot access fails deterministically
	if _, err := leaked.CurrentEntry(); GetErrorCode(err) != ErrCodeEntryAccess {
		t.Errorf("CurrentEntry after the span: want %s, got %v", ErrCodeEntryAccess, err)
	}
}

// TestGet_SaturatedExecutorRunsOnCaller verifies the saturation rule.
func TestGet_SaturatedExecutorRunsOnCaller(t *testing.T) {
	rejecting := Executor(func(task func()) error {
		return NewErrExecutorSaturated(0)
	})
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) {
			return key + 1, nil
		}),
		LoaderExecutor: rejecting,
	})
	defer cache.Close()

	v, err := cache.Get(context.Background(), 1)
	if err != nil || v != 2 {
		t.Errorf("Get under saturation = %d,%v, want 2,nil (caller-runs)", v, err)
	}

	fut := cache.LoadAll(context.Background(), []int{5})
	if _, err := fut.Get(context.Background()); err != nil {
		t.Errorf("LoadAll under saturation failed: %v", err)
	}
	if v, _ := cache.Peek(5); v != 6 {
		t.Errorf("Peek(5) = %d, want 6", v)
	}
}
