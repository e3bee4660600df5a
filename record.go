// record.go: in-flight load bookkeeping and completion delivery
//
// A loadRecord represents one in-flight load and its attached waiters.
// The completion protocol mirrors the broadcast used for futures: the
// outcome is written once under the slot lock, the done channel is closed,
// and waiter sinks are invoked after the lock is released. Every waiter
// therefore receives exactly one completion and never observes a partially
// updated entry.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

// completionSink receives the per-key outcome of a load.
type completionSink[V any] func(value V, err error)

// loadRecord tracks one in-flight load. A record is primary when the entry
// references it (entry.record). A forced reload issued while another load
// is in flight runs as a detached record which never receives coalesced
// waiters; with no load in flight it becomes the primary record.
type loadRecord[K comparable, V any] struct {
	entry     *entry[K, V]
	startTime int64

	reload  bool // forced by ReloadAll
	refresh bool // refresh-ahead reload

	bulk *bulkRequest[K, V] // bulk request membership, nil for per-key loads

	done chan struct{}

	// guarded by entry.mu until completed, then immutable
	completed bool
	sinks     []completionSink[V]
	value     V
	err       error
}

func (c *LoadingCache[K, V]) newRecord(e *entry[K, V], now int64) *loadRecord[K, V] {
	rec := &loadRecord[K, V]{
		entry:     e,
		startTime: now,
		done:      make(chan struct{}),
	}
	c.recMu.Lock()
	c.records[rec] = struct{}{}
	c.recMu.Unlock()
	return rec
}

// addSinkLocked attaches a waiter sink. Caller holds entry.mu and the
// record is not completed.
func (rec *loadRecord[K, V]) addSinkLocked(sink completionSink[V]) {
	rec.sinks = append(rec.sinks, sink)
}

// completeRecord applies a load outcome to the entry, resolves the record
// and wakes every waiter. loadErr is the loader's raw error; wrapping into
// the load-exception envelope happens here, exactly once, and the envelope
// is cached in the entry together with the derived resilience instants.
//
// Waiter sinks run after the slot lock is released, never inside it.
func (c *LoadingCache[K, V]) completeRecord(rec *loadRecord[K, V], value V, loadErr error) {
	e := rec.entry
	now := c.clock.Now()

	e.mu.Lock()
	if rec.completed {
		e.mu.Unlock()
		return
	}
	rec.completed = true

	if loadErr == nil && !c.cfg.PermitNilValues && isNilValue(any(value)) {
		loadErr = NewErrNilValue(e.key)
	}

	var (
		outV   = value
		outErr error
		zero   V
	)

	primary := e.record == rec
	// A detached reload finishing while the primary is still in flight
	// leaves the entry to the primary: last-completion-wins.
	skipEntry := rec.reload && !primary && e.record != nil

	switch {
	case c.closed.Load():
		outV, outErr = zero, NewErrCacheClosed("load")

	case e.state == stateRemoved:
		if loadErr != nil {
			outV, outErr = zero, NewErrLoaderFailed(e.key, loadErr)
		}

	case e.putOverride && primary:
		// The load was overridden by a Put; discard the result but hand
		// the put value to every waiter.
		e.putOverride = false
		e.state = statePresent
		outV, outErr = e.value, nil

	case skipEntry:
		if loadErr != nil {
			outV, outErr = zero, NewErrLoaderFailed(e.key, loadErr)
		}

	case loadErr != nil:
		e.retryCount++
		env := NewErrLoaderFailed(e.key, loadErr)
		first := now
		if e.exc != nil && e.exc.firstFailure > 0 {
			first = e.exc.firstFailure
		}
		pol := c.resilience.Load()
		retryAt, suppressUntil := pol.instants(rec.startTime, first, e.retryCount)
		e.exc = &excInfo{err: env, firstFailure: first, retryAt: retryAt, suppressUntil: suppressUntil}
		e.state = stateExceptional
		e.loadCompleted = now
		if e.hasValue && suppressUntil > now {
			e.suppressed = true
			outV, outErr = e.value, nil
		} else {
			e.suppressed = false
			e.hasValue = false
			e.value = zero
			outV, outErr = zero, env
		}

	default:
		e.state = statePresent
		e.value = outV
		e.hasValue = true
		e.exc = nil
		e.suppressed = false
		e.retryCount = 0
		e.loadCompleted = now
		if ttl := c.cfg.ExpireAfterWrite; ttl > 0 {
			e.expireAt = now + int64(ttl)
		} else {
			e.expireAt = 0
		}
	}

	if primary {
		e.record = nil
	}
	sinks := rec.sinks
	rec.sinks = nil
	rec.value, rec.err = outV, outErr
	e.mu.Unlock()

	c.recMu.Lock()
	delete(c.records, rec)
	c.recMu.Unlock()

	close(rec.done)
	for _, sink := range sinks {
		sink(outV, outErr)
	}

	latency := now - rec.startTime
	c.metrics.RecordLoad(latency, outErr == nil && loadErr == nil)
	c.stats.loads.Add(1)
	if loadErr != nil {
		c.stats.loadFailures.Add(1)
	}
	if rec.refresh {
		c.metrics.RecordRefresh(loadErr == nil)
		if loadErr != nil {
			c.logger.Warn("refresh failed", "key", e.key, "error", loadErr)
		}
	}
}
