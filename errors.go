// errors.go: structured error handling for loading operations
//
// This file provides structured error types using the go-errors library,
// enabling rich error context, categorization, and standardized error codes
// for every failure mode of the loading pipeline. The loader-failure
// envelope wraps the loader's original error as its cause; multi-key
// aggregates carry the literal text "<N> out of <M>" in their message so
// interop tests can recover the counts by pattern.
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import (
	goerrors "errors"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes for loadcache operations
const (
	// Configuration errors
	ErrCodeInvalidConfig      errors.ErrorCode = "LOADCACHE_INVALID_CONFIG"
	ErrCodeAmbiguousLoader    errors.ErrorCode = "LOADCACHE_AMBIGUOUS_LOADER"
	ErrCodeInvalidResilience  errors.ErrorCode = "LOADCACHE_INVALID_RESILIENCE"
	ErrCodeInvalidConcurrency errors.ErrorCode = "LOADCACHE_INVALID_CONCURRENCY"

	// Loader errors
	ErrCodeLoaderFailed errors.ErrorCode = "LOADCACHE_LOADER_FAILED"
	ErrCodeNilValue     errors.ErrorCode = "LOADCACHE_NIL_VALUE"
	ErrCodeKeyMissing   errors.ErrorCode = "LOADCACHE_KEY_MISSING"
	ErrCodeNoLoader     errors.ErrorCode = "LOADCACHE_NO_LOADER"

	// Callback protocol errors
	ErrCodeDoubleCompletion errors.ErrorCode = "LOADCACHE_DOUBLE_COMPLETION"
	ErrCodeUnknownKey       errors.ErrorCode = "LOADCACHE_UNKNOWN_KEY"
	ErrCodeEntryAccess      errors.ErrorCode = "LOADCACHE_ENTRY_ACCESS"

	// Lifecycle and internal errors
	ErrCodeCacheClosed       errors.ErrorCode = "LOADCACHE_CACHE_CLOSED"
	ErrCodeExecutorSaturated errors.ErrorCode = "LOADCACHE_EXECUTOR_SATURATED"
	ErrCodePanicRecovered    errors.ErrorCode = "LOADCACHE_PANIC_RECOVERED"
	ErrCodeInternalError     errors.ErrorCode = "LOADCACHE_INTERNAL_ERROR"
)

// Common error messages
const (
	msgAmbiguousLoader    = "at most one loader shape may be configured"
	msgInvalidResilience  = "invalid resilience configuration"
	msgInvalidConcurrency = "loader concurrency must be at least 2"
	msgLoaderFailed       = "loader failed"
	msgNilValue           = "loader returned nil and nil values are not permitted"
	msgKeyMissing         = "bulk loader returned a partial result, key missing"
	msgNoLoader           = "no loader configured"
	msgDoubleCompletion   = "load callback already completed"
	msgUnknownKey         = "key does not belong to this bulk request"
	msgEntryAccess        = "current entry accessed outside the load span"
	msgCacheClosed        = "cache is closed"
	msgExecutorSaturated  = "executor rejected task: at capacity"
	msgPanicRecovered     = "panic recovered in loader"
	msgInternalError      = "internal cache error"
)

// =============================================================================
// CONFIGURATION ERRORS
// =============================================================================

// NewErrInvalidConfig creates a generic configuration error.
func NewErrInvalidConfig(reason string) error {
	return errors.NewWithField(ErrCodeInvalidConfig, "invalid configuration", "reason", reason)
}

// NewErrAmbiguousLoader creates an error when several loader shapes are set.
func NewErrAmbiguousLoader(shapes int) error {
	return errors.NewWithField(ErrCodeAmbiguousLoader, msgAmbiguousLoader, "configured_shapes", fmt.Sprintf("%d", shapes))
}

// NewErrInvalidResilience creates an error for invalid resilience knobs.
func NewErrInvalidResilience(field string, value interface{}) error {
	return errors.NewWithContext(ErrCodeInvalidResilience, msgInvalidResilience, map[string]interface{}{
		"field": field,
		"value": value,
	})
}

// NewErrInvalidConcurrency creates an error for a too-small loader pool.
func NewErrInvalidConcurrency(n int) error {
	return errors.NewWithContext(ErrCodeInvalidConcurrency, msgInvalidConcurrency, map[string]interface{}{
		"provided":         n,
		"minimum_required": DefaultLoaderConcurrency,
	})
}

// =============================================================================
// LOADER ERRORS
// =============================================================================

// NewErrLoaderFailed wraps a loader error into the load-exception envelope.
// The cause is the loader's original error and stays reachable through
// errors.Is / errors.Unwrap.
func NewErrLoaderFailed(key interface{}, cause error) error {
	return errors.Wrap(cause, ErrCodeLoaderFailed, msgLoaderFailed).
		WithContext("key", fmt.Sprintf("%v", key)).
		AsRetryable()
}

// NewErrBulkLoadFailed aggregates per-key load failures into a single
// envelope. The message carries the "<N> out of <M>" counts verbatim.
func NewErrBulkLoadFailed(failed, total int, cause error) error {
	msg := fmt.Sprintf("%s: %d out of %d keys", msgLoaderFailed, failed, total)
	if cause == nil {
		return errors.NewWithContext(ErrCodeLoaderFailed, msg, map[string]interface{}{
			"failed": failed,
			"total":  total,
		}).AsRetryable()
	}
	return errors.Wrap(cause, ErrCodeLoaderFailed, msg).
		WithContext("failed", failed).
		WithContext("total", total).
		AsRetryable()
}

// NewErrNilValue creates the distinguished nil-return failure.
func NewErrNilValue(key interface{}) error {
	return errors.NewWithField(ErrCodeNilValue, msgNilValue, "key", fmt.Sprintf("%v", key))
}

// NewErrKeyMissing creates the partial-result failure for a key a bulk
// loader did not cover.
func NewErrKeyMissing(key interface{}) error {
	return errors.NewWithField(ErrCodeKeyMissing, msgKeyMissing, "key", fmt.Sprintf("%v", key))
}

// NewErrNoLoader creates an error for a load operation on a cache that was
// built without any loader.
func NewErrNoLoader(operation string) error {
	return errors.NewWithField(ErrCodeNoLoader, msgNoLoader, "operation", operation)
}

// =============================================================================
// CALLBACK PROTOCOL ERRORS
// =============================================================================

// NewErrDoubleCompletion creates the illegal-state signal raised to the
// caller of a second OnLoadSuccess/OnLoadFailure on the same key.
func NewErrDoubleCompletion(operation string) error {
	return errors.NewWithField(ErrCodeDoubleCompletion, msgDoubleCompletion, "operation", operation).
		WithSeverity("warning")
}

// NewErrUnknownKey creates an error for a per-key bulk completion naming a
// key the bulk request never contained.
func NewErrUnknownKey(key interface{}) error {
	return errors.NewWithField(ErrCodeUnknownKey, msgUnknownKey, "key", fmt.Sprintf("%v", key))
}

// NewErrEntryAccess creates the deterministic failure for reading the
// current entry snapshot outside the loader's active span.
func NewErrEntryAccess() error {
	return errors.New(ErrCodeEntryAccess, msgEntryAccess)
}

// =============================================================================
// LIFECYCLE AND INTERNAL ERRORS
// =============================================================================

// NewErrCacheClosed creates an error for operations on a closed cache.
func NewErrCacheClosed(operation string) error {
	return errors.NewWithField(ErrCodeCacheClosed, msgCacheClosed, "operation", operation)
}

// NewErrExecutorSaturated creates the rejection signal of a pooled executor.
func NewErrExecutorSaturated(capacity int) error {
	return errors.NewWithField(ErrCodeExecutorSaturated, msgExecutorSaturated, "capacity", fmt.Sprintf("%d", capacity)).
		AsRetryable()
}

// NewErrPanicRecovered creates an error when a loader panic is recovered.
func NewErrPanicRecovered(operation string, panicValue interface{}) error {
	return errors.NewWithContext(ErrCodePanicRecovered, msgPanicRecovered, map[string]interface{}{
		"operation":   operation,
		"panic_value": fmt.Sprintf("%v", panicValue),
	}).WithSeverity("critical")
}

// NewErrInternal creates a generic internal error.
func NewErrInternal(operation string, cause error) error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeInternalError, msgInternalError).
			WithContext("operation", operation).
			WithSeverity("warning")
	}
	return errors.NewWithField(ErrCodeInternalError, msgInternalError, "operation", operation).
		WithSeverity("warning")
}

// =============================================================================
// ERROR CHECKING HELPERS
// =============================================================================

// IsLoaderError checks if err is a load-exception envelope or one of the
// per-key loader failures.
func IsLoaderError(err error) bool {
	return errors.HasCode(err, ErrCodeLoaderFailed) ||
		errors.HasCode(err, ErrCodeNilValue) ||
		errors.HasCode(err, ErrCodeKeyMissing)
}

// IsDoubleCompletion checks if err is the illegal double-completion signal.
func IsDoubleCompletion(err error) bool {
	return errors.HasCode(err, ErrCodeDoubleCompletion)
}

// IsCacheClosed checks if err is the closed-cache error.
func IsCacheClosed(err error) bool {
	return errors.HasCode(err, ErrCodeCacheClosed)
}

// IsExecutorSaturated checks if err is an executor rejection.
func IsExecutorSaturated(err error) bool {
	return errors.HasCode(err, ErrCodeExecutorSaturated)
}

// IsConfigError checks if err is a construction-time configuration error.
func IsConfigError(err error) bool {
	return errors.HasCode(err, ErrCodeInvalidConfig) ||
		errors.HasCode(err, ErrCodeAmbiguousLoader) ||
		errors.HasCode(err, ErrCodeInvalidResilience) ||
		errors.HasCode(err, ErrCodeInvalidConcurrency)
}

// IsRetryable checks if the error can be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable errors.Retryable
	if goerrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}

// GetErrorContext extracts the structured context from an error.
func GetErrorContext(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	var cacheErr *errors.Error
	if goerrors.As(err, &cacheErr) {
		return cacheErr.Context
	}
	return nil
}
