// loadcache.go: package-wide constants and defaults
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0

package loadcache

import "time"

const (
	// Version of the loadcache library
	Version = "v0.1.0-dev"

	// DefaultLoaderConcurrency is the lower bound for the pooled loader
	// executor. The effective default is max(DefaultLoaderConcurrency, GOMAXPROCS).
	DefaultLoaderConcurrency = 2

	// DefaultMultiplier is the default exponential backoff multiplier
	// applied to the retry interval on consecutive load failures.
	DefaultMultiplier = 1.5

	// DefaultRandomization is the default jitter factor applied to the
	// retry interval.
	DefaultRandomization = 0.5
)

const (
	// DurationUnset marks a duration knob that was not configured.
	// New (and UpdateResilience) derive the effective value per the
	// resilience rules.
	DurationUnset time.Duration = -1

	// DurationEternal expresses an unbounded resilience duration:
	// exception suppression without a time bound.
	DurationEternal time.Duration = 1<<63 - 1
)
