// entry.go: per-key slot state machine
//
// Every key maps to one slot. Transitions are linearized by the slot mutex;
// cross-slot operations never hold two slot locks at once, and a loader
// callback is never invoked while a slot lock is held.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import (
	"reflect"
	"sync"
	"time"
)

// entryState encodes the slot lifecycle.
//
//	Empty -> Loading -> Present | Exceptional
//	Present -> Refreshing -> Present | Exceptional
//	Exceptional -> Loading -> ...
//	any state -> Removed
type entryState uint8

const (
	stateEmpty entryState = iota
	stateLoading
	stateRefreshing
	statePresent
	stateExceptional
	stateRemoved
)

// excInfo carries the cached load failure together with the resilience
// instants derived from it. It survives until the next successful load.
type excInfo struct {
	err           error // load-exception envelope, cause is the loader error
	firstFailure  int64 // start of the current failure streak
	retryAt       int64
	suppressUntil int64
}

// entry is the slot for one key. All mutable fields are guarded by mu.
// At most one load record is attached at a time; a forced reload issued
// while another load is in flight runs as a detached record that is not
// referenced here.
type entry[K comparable, V any] struct {
	mu sync.Mutex

	key   K
	state entryState

	value    V
	hasValue bool

	exc        *excInfo
	suppressed bool // value is stale but served because of suppression

	loadStarted   int64
	loadCompleted int64
	retryCount    int
	expireAt      int64 // nanos, 0 = eternal

	record *loadRecord[K, V] // in-flight primary load, nil otherwise

	putOverride bool // a Put arrived while Loading; the load result is discarded
}

// valueFresh reports whether the entry holds a servable fresh value.
// Caller holds mu.
func (e *entry[K, V]) valueFresh(now int64) bool {
	return e.hasValue && (e.expireAt == 0 || now < e.expireAt)
}

// snapshotLocked captures the entry for PeekEntry and loader contexts.
// Caller holds mu. Returns nil for slots with neither value nor exception.
func (e *entry[K, V]) snapshotLocked() *EntrySnapshot[K, V] {
	if !e.hasValue && e.exc == nil {
		return nil
	}
	s := &EntrySnapshot[K, V]{
		key:           e.key,
		value:         e.value,
		hasValue:      e.hasValue,
		suppressed:    e.suppressed,
		loadStarted:   e.loadStarted,
		loadCompleted: e.loadCompleted,
		retryCount:    e.retryCount,
		expireAt:      e.expireAt,
	}
	if e.exc != nil {
		s.err = e.exc.err
	}
	return s
}

// EntrySnapshot is an immutable view of a slot, as returned by PeekEntry
// and LoaderContext.CurrentEntry.
type EntrySnapshot[K comparable, V any] struct {
	key           K
	value         V
	hasValue      bool
	err           error
	suppressed    bool
	loadStarted   int64
	loadCompleted int64
	retryCount    int
	expireAt      int64
}

// Key returns the entry key.
func (s *EntrySnapshot[K, V]) Key() K { return s.key }

// Value returns the cached value (fresh or suppressed-stale) and whether
// one is present.
func (s *EntrySnapshot[K, V]) Value() (V, bool) { return s.value, s.hasValue }

// Err returns the cached load-exception envelope, or nil.
func (s *EntrySnapshot[K, V]) Err() error { return s.err }

// Suppressed reports whether the value is stale and served only because
// resilience suppressed a more recent load failure.
func (s *EntrySnapshot[K, V]) Suppressed() bool { return s.suppressed }

// RetryCount returns the number of consecutive failed loads.
func (s *EntrySnapshot[K, V]) RetryCount() int { return s.retryCount }

// LoadStartedAt returns the start time of the most recent load.
func (s *EntrySnapshot[K, V]) LoadStartedAt() time.Time { return time.Unix(0, s.loadStarted) }

// LoadCompletedAt returns the completion time of the most recent load.
func (s *EntrySnapshot[K, V]) LoadCompletedAt() time.Time { return time.Unix(0, s.loadCompleted) }

// ExpiresAt returns the expiry instant, or the zero time for eternal entries.
func (s *EntrySnapshot[K, V]) ExpiresAt() time.Time {
	if s.expireAt == 0 {
		return time.Time{}
	}
	return time.Unix(0, s.expireAt)
}

// isNilValue reports whether a loaded value is nil for the purposes of the
// nil-value rule. Only nilable kinds can trigger it; value types never do.
func isNilValue(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
