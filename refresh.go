// refresh.go: refresh-ahead driver
//
// When refresh-ahead is enabled and an access finds the remaining TTL of a
// Present entry at or below the threshold, the entry is marked Refreshing
// and a reload is submitted on the refresh executor; the accessor keeps the
// current value without waiting. On success the value is replaced
// atomically; on failure the resilience policy decides whether the previous
// value is retained.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

// maybeStartRefreshLocked starts a refresh record when the entry is due.
// Caller holds e.mu and dispatches the returned record, if any, after
// releasing the lock.
func (c *LoadingCache[K, V]) maybeStartRefreshLocked(e *entry[K, V], now int64) *loadRecord[K, V] {
	if !c.cfg.RefreshAhead || e.state != statePresent || e.expireAt == 0 {
		return nil
	}
	threshold := c.refreshThreshold.Load()
	if threshold <= 0 || e.expireAt-now > threshold {
		return nil
	}
	return c.startRefreshLocked(e, now)
}

// startRefreshLocked unconditionally transitions a Present entry to
// Refreshing with a fresh primary record. Caller holds e.mu.
func (c *LoadingCache[K, V]) startRefreshLocked(e *entry[K, V], now int64) *loadRecord[K, V] {
	rec := c.newRecord(e, now)
	rec.refresh = true
	e.state = stateRefreshing
	e.record = rec
	e.loadStarted = now
	e.putOverride = false
	c.stats.refreshes.Add(1)
	return rec
}
