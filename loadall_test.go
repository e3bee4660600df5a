// loadall_test.go: batch loading, forced reloads and aggregation
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestLoadAll_AlwaysFailingLoader mirrors the canonical failure scenario:
// aggregated envelopes carry the counts, values stay absent, Put recovers.
func TestLoadAll_AlwaysFailingLoader(t *testing.T) {
	errAlwaysFail := errors.New("always fail")
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) {
			return 0, errAlwaysFail
		}),
	})
	defer cache.Close()
	ctx := context.Background()

	_, err := cache.Get(ctx, 5)
	if err == nil || !errors.Is(err, errAlwaysFail) {
		t.Fatalf("Get(5): want envelope wrapping cause, got %v", err)
	}

	_, err = cache.LoadAll(ctx, []int{6, 7, 8}).Get(ctx)
	if err == nil {
		t.Fatal("LoadAll future should resolve exceptionally")
	}
	if !strings.Contains(err.Error(), "3") {
		t.Errorf("LoadAll error %q should contain the failure count", err)
	}
	if !errors.Is(err, errAlwaysFail) {
		t.Errorf("aggregate should reach the original cause, got %v", err)
	}

	_, err = cache.ReloadAll(ctx, []int{6, 7, 8}).Get(ctx)
	if err == nil || !strings.Contains(err.Error(), "3 out of 3") {
		t.Errorf("ReloadAll error %v should contain \"3 out of 3\"", err)
	}

	if v, ok := cache.Peek(6); ok {
		t.Errorf("Peek(6) = %d, want no value after failures", v)
	}
	if err := cache.Put(6, 123); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if v, ok := cache.Peek(6); !ok || v != 123 {
		t.Errorf("Peek(6) after Put = %d,%v, want 123,true", v, ok)
	}
}

// TestLoadAll_SkipsFreshEntries verifies that LoadAll loads only missing
// keys: a counting loader advances once per actual load.
func TestLoadAll_SkipsFreshEntries(t *testing.T) {
	var counter atomic.Int64
	cache, _ := New(Config[int, int64]{
		Loader: LoaderFunc[int, int64](func(ctx context.Context, key int) (int64, error) {
			return counter.Add(1), nil
		}),
	})
	defer cache.Close()
	ctx := context.Background()

	v, _ := cache.Get(ctx, 5)
	if v != 1 {
		t.Fatalf("Get(5) = %d, want 1", v)
	}

	if _, err := cache.LoadAll(ctx, []int{5, 6}).Get(ctx); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if counter.Load() != 2 {
		t.Errorf("counter = %d, want 2 (key 5 fresh, key 6 loaded)", counter.Load())
	}
	v, _ = cache.Get(ctx, 6)
	if v != 2 {
		t.Errorf("Get(6) = %d, want 2", v)
	}
}

// TestLoadAll_Deduplication verifies the invariant: N concurrent LoadAll
// for one key share a single loader invocation.
func TestLoadAll_Deduplication(t *testing.T) {
	const n = 10
	var calls atomic.Int32
	gate := make(chan struct{})
	cache, _ := New(Config[string, int]{
		Loader: LoaderFunc[string, int](func(ctx context.Context, key string) (int, error) {
			calls.Add(1)
			<-gate
			return 1, nil
		}),
	})
	defer cache.Close()
	ctx := context.Background()

	futs := make([]*Future[int], n)
	for i := 0; i < n; i++ {
		futs[i] = cache.LoadAll(ctx, []string{"k"})
	}
	close(gate)
	for i, fut := range futs {
		if _, err := fut.Get(ctx); err != nil {
			t.Errorf("future %d failed: %v", i, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("loader called %d times, want exactly 1", calls.Load())
	}
}

// TestReloadAll_ForcesPerCallLoads verifies the exemption: N ReloadAll
// calls over one key cause N loader invocations.
func TestReloadAll_ForcesPerCallLoads(t *testing.T) {
	const n = 5
	var calls atomic.Int32
	cache, _ := New(Config[string, int]{
		Loader: LoaderFunc[string, int](func(ctx context.Context, key string) (int, error) {
			return int(calls.Add(1)), nil
		}),
	})
	defer cache.Close()
	ctx := context.Background()

	for i := 0; i < n; i++ {
		if _, err := cache.ReloadAll(ctx, []string{"k"}).Get(ctx); err != nil {
			t.Fatalf("ReloadAll %d failed: %v", i, err)
		}
	}
	if calls.Load() != n {
		t.Errorf("loader called %d times, want %d (one per ReloadAll)", calls.Load(), n)
	}
}

// TestReloadAll_ServesStaleDuringReload verifies a forced reload of a
// present entry does not block concurrent readers.
func TestReloadAll_ServesStaleDuringReload(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	var loads atomic.Int32
	cache, _ := New(Config[string, int]{
		Loader: LoaderFunc[string, int](func(ctx context.Context, key string) (int, error) {
			n := loads.Add(1)
			if n > 1 {
				entered <- struct{}{}
				<-gate
			}
			return int(n), nil
		}),
	})
	defer cache.Close()
	ctx := context.Background()

	if v, _ := cache.Get(ctx, "k"); v != 1 {
		t.Fatal("setup failed")
	}
	fut := cache.ReloadAll(ctx, []string{"k"})
	<-entered

	// the reload is in flight; reads still see the old value
	v, err := cache.Get(ctx, "k")
	if err != nil || v != 1 {
		t.Errorf("Get during reload = %d,%v, want stale 1,nil", v, err)
	}
	close(gate)
	if _, err := fut.Get(ctx); err != nil {
		t.Fatalf("reload future failed: %v", err)
	}
	if v, _ := cache.Peek("k"); v != 2 {
		t.Errorf("Peek after reload = %d, want 2", v)
	}
}

// TestLoadAll_DuplicateKeysAreDeduplicated verifies user-iterable dedup.
func TestLoadAll_DuplicateKeysAreDeduplicated(t *testing.T) {
	var calls atomic.Int32
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) {
			calls.Add(1)
			return key, nil
		}),
	})
	defer cache.Close()

	if _, err := cache.LoadAll(context.Background(), []int{1, 1, 1, 2}).Get(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("loader called %d times, want 2", calls.Load())
	}
}

// TestGetAll_ReturnsAllValues verifies the blocking batch read.
func TestGetAll_ReturnsAllValues(t *testing.T) {
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) {
			return key * 2, nil
		}),
	})
	defer cache.Close()

	values, err := cache.GetAll(context.Background(), []int{1, 2, 3})
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(values) != 3 || values[1] != 2 || values[2] != 4 || values[3] != 6 {
		t.Errorf("GetAll = %v, want {1:2 2:4 3:6}", values)
	}
}

// TestGetAll_PartialFailureReturnsMapping verifies that GetAll aggregates
// only when every key fails; otherwise the partial mapping is returned and
// per-key exceptions stay observable via PeekEntry.
func TestGetAll_PartialFailureReturnsMapping(t *testing.T) {
	errOdd := errors.New("odd keys fail")
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) {
			if key%2 == 1 {
				return 0, errOdd
			}
			return key * 10, nil
		}),
	})
	defer cache.Close()
	ctx := context.Background()

	values, err := cache.GetAll(ctx, []int{1, 2})
	if err != nil {
		t.Fatalf("partial GetAll should not fail, got %v", err)
	}
	if len(values) != 1 || values[2] != 20 {
		t.Errorf("GetAll = %v, want {2:20}", values)
	}
	snap := cache.PeekEntry(1)
	if snap == nil || snap.Err() == nil {
		t.Error("PeekEntry(1) should expose the cached exception")
	} else if !errors.Is(snap.Err(), errOdd) {
		t.Errorf("cached exception should wrap the cause, got %v", snap.Err())
	}

	// all keys failing aggregates
	_, err = cache.GetAll(ctx, []int{3, 5})
	if err == nil || !strings.Contains(err.Error(), "2 out of 2") {
		t.Errorf("all-failed GetAll: want \"2 out of 2\" envelope, got %v", err)
	}
}

// TestLoadAll_EmptyAndNilKeys verifies the degenerate inputs.
func TestLoadAll_EmptyAndNilKeys(t *testing.T) {
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) { return key, nil }),
	})
	defer cache.Close()

	fut := cache.LoadAll(context.Background(), nil)
	if n, err := fut.Get(context.Background()); n != 0 || err != nil {
		t.Errorf("LoadAll(nil) = %d,%v, want 0,nil", n, err)
	}
	if !fut.IsDone() {
		t.Error("empty LoadAll should resolve immediately")
	}
}

// TestFuture_HandleFiresExactlyOnce verifies the combinator contract used
// by callers to chain failure capture.
func TestFuture_HandleFiresExactlyOnce(t *testing.T) {
	errFail := errors.New("fail")
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) {
			return 0, errFail
		}),
	})
	defer cache.Close()

	var fired atomic.Int32
	fut := cache.LoadAll(context.Background(), []int{1, 2}).Handle(func(n int, err error) (int, error) {
		fired.Add(1)
		if err == nil {
			t.Error("Handle should observe the aggregated failure")
		}
		return -1, nil
	})
	v, err := fut.Get(context.Background())
	if err != nil || v != -1 {
		t.Errorf("handled future = %d,%v, want -1,nil", v, err)
	}
	time.Sleep(10 * time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("Handle fired %d times, want exactly 1", fired.Load())
	}
	if !fut.IsDone() || fut.IsCompletedExceptionally() {
		t.Error("handled future should be done and non-exceptional")
	}
}

// TestLoadAll_WaiterCompleteness verifies that every future attached
// before completion resolves exactly once even under heavy overlap.
func TestLoadAll_WaiterCompleteness(t *testing.T) {
	const n = 50
	var calls atomic.Int32
	cache, _ := New(Config[int, int]{
		Loader: LoaderFunc[int, int](func(ctx context.Context, key int) (int, error) {
			calls.Add(1)
			time.Sleep(time.Millisecond)
			return key, nil
		}),
	})
	defer cache.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			keys := []int{i % 3, i%3 + 1}
			if _, err := cache.LoadAll(ctx, keys).Get(ctx); err != nil {
				t.Errorf("LoadAll(%v) failed: %v", keys, err)
			}
		}(i)
	}
	wg.Wait()
	// keys 0..3 exist, each loaded at least once but the futures all
	// resolved; loader calls are bounded by the key count
	if calls.Load() > 4 {
		t.Errorf("loader called %d times for 4 distinct keys, coalescing broken", calls.Load())
	}
}
