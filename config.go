// config.go: configuration for loadcache
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0

package loadcache

import (
	"runtime"
	"time"

	"github.com/agilira/go-timecache"
)

// Config holds configuration parameters for a loading cache. Exactly one
// loader shape may be set; a cache without a loader still supports Put,
// Peek and ContainsKey, but load operations fail with a
// LOADCACHE_LOADER_FAILED envelope whose cause is LOADCACHE_NO_LOADER.
type Config[K comparable, V any] struct {
	// Loader is the sync single-key shape.
	Loader Loader[K, V]

	// AdvancedLoader is the sync shape that receives the per-load view
	// (start time, current entry snapshot).
	AdvancedLoader AdvancedLoader[K, V]

	// AsyncLoader is the async single-key shape completing via callback.
	AsyncLoader AsyncLoader[K, V]

	// BulkLoader is the sync bulk shape. When set, pending per-key
	// requests of LoadAll/GetAll/ReloadAll are grouped into one call.
	BulkLoader BulkLoader[K, V]

	// AsyncBulkLoader is the async bulk shape with per-key or whole-bulk
	// callback completion.
	AsyncBulkLoader AsyncBulkLoader[K, V]

	// LoaderExecutor offloads sync loaders. If nil, a pooled executor
	// with LoaderConcurrency workers is created. Rejections fall back to
	// the caller goroutine for Get and to a dedicated goroutine for
	// LoadAll/ReloadAll.
	LoaderExecutor Executor

	// RefreshExecutor runs refresh-ahead reloads. Defaults to the loader
	// executor.
	RefreshExecutor Executor

	// LoaderConcurrency sizes the default pooled loader executor.
	// Must be >= 2 when set; default max(2, GOMAXPROCS).
	LoaderConcurrency int

	// ExpireAfterWrite is the time-to-live for loaded and put values.
	// If 0, entries never expire.
	ExpireAfterWrite time.Duration

	// RefreshAhead reloads an entry in the background when an access
	// finds its remaining TTL at or below RefreshThreshold, instead of
	// letting it expire. The accessor keeps getting the current value.
	RefreshAhead bool

	// RefreshThreshold is the remaining-TTL bound that triggers a
	// refresh-ahead reload. Default: ExpireAfterWrite / 10.
	RefreshThreshold time.Duration

	// KeepDataAfterExpired retains the expired value so that reloads can
	// see it (LoaderContext.CurrentEntry) and resilience can serve it as
	// stale. When false, an expired entry behaves like an absent one.
	KeepDataAfterExpired bool

	// PermitNilValues allows loaders to return nil values. When false, a
	// nil return completes the load with a LOADCACHE_NIL_VALUE failure.
	// Only nilable value types (pointers, maps, slices, ...) are checked.
	PermitNilValues bool

	// Resilience configures exception suppression and retry. The zero
	// value disables suppression and retries immediately; use
	// DefaultResilienceConfig as a starting point for derived knobs.
	Resilience ResilienceConfig

	// Logger is used for slow events only. If nil, NoOpLogger is used.
	Logger Logger

	// TimeProvider provides current time for expiry and resilience
	// calculations. If nil, a go-timecache backed provider is used.
	TimeProvider TimeProvider

	// MetricsCollector receives operation metrics. If nil,
	// NoOpMetricsCollector is used (zero overhead).
	MetricsCollector MetricsCollector
}

// Validate checks configuration parameters and applies defaults. It is
// called by New; it is exposed so a normalized configuration can be
// inspected beforehand.
func (c *Config[K, V]) Validate() error {
	shapes := 0
	if c.Loader != nil {
		shapes++
	}
	if c.AdvancedLoader != nil {
		shapes++
	}
	if c.AsyncLoader != nil {
		shapes++
	}
	if c.BulkLoader != nil {
		shapes++
	}
	if c.AsyncBulkLoader != nil {
		shapes++
	}
	if shapes > 1 {
		return NewErrAmbiguousLoader(shapes)
	}

	if c.LoaderConcurrency == 0 {
		c.LoaderConcurrency = runtime.GOMAXPROCS(0)
		if c.LoaderConcurrency < DefaultLoaderConcurrency {
			c.LoaderConcurrency = DefaultLoaderConcurrency
		}
	} else if c.LoaderConcurrency < DefaultLoaderConcurrency {
		return NewErrInvalidConcurrency(c.LoaderConcurrency)
	}

	if c.ExpireAfterWrite < 0 {
		return NewErrInvalidConfig("ExpireAfterWrite must be non-negative")
	}

	if c.RefreshAhead {
		if c.ExpireAfterWrite == 0 {
			return NewErrInvalidConfig("RefreshAhead requires ExpireAfterWrite")
		}
		if c.RefreshThreshold <= 0 {
			c.RefreshThreshold = c.ExpireAfterWrite / 10
		}
		if c.RefreshThreshold > c.ExpireAfterWrite {
			return NewErrInvalidConfig("RefreshThreshold exceeds ExpireAfterWrite")
		}
	}

	// Zero duration knobs mean "unset" once suppression is on; the
	// meaningful zero (never suppress) is expressed by leaving
	// SuppressExceptions off.
	if c.Resilience.SuppressExceptions {
		if c.Resilience.ResilienceDuration == 0 {
			c.Resilience.ResilienceDuration = DurationUnset
		}
		if c.Resilience.RetryInterval == 0 {
			c.Resilience.RetryInterval = DurationUnset
		}
		if c.Resilience.MaxRetryInterval == 0 {
			c.Resilience.MaxRetryInterval = DurationUnset
		}
	}

	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}
	if c.TimeProvider == nil {
		c.TimeProvider = &systemTimeProvider{}
	}
	if c.MetricsCollector == nil {
		c.MetricsCollector = NoOpMetricsCollector{}
	}

	return nil
}

// systemTimeProvider is the default time provider using go-timecache,
// giving fast allocation-free time access.
type systemTimeProvider struct{}

func (t *systemTimeProvider) Now() int64 {
	return timecache.CachedTimeNano()
}
