// hot-reload.go: dynamic configuration with Argus integration
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0

package loadcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/agilira/argus"
)

// Reloadable is the slice of a cache that can be retuned at runtime:
// the resilience knobs and the refresh-ahead threshold. Structural knobs
// (loader shape, executors, TTL) are construction-only.
type Reloadable interface {
	UpdateResilience(rc ResilienceConfig) error
	SetRefreshThreshold(d time.Duration)
}

// HotConfig provides dynamic configuration reload capabilities using Argus.
// It watches a configuration file and swaps the cache's resilience policy
// and refresh threshold when changes are detected.
type HotConfig struct {
	cache   Reloadable
	watcher *argus.Watcher
	logger  Logger

	mu         sync.RWMutex
	resilience ResilienceConfig
	threshold  time.Duration

	// OnReload is called after configuration is successfully applied.
	// Optional; must be fast and non-blocking.
	OnReload func(rc ResilienceConfig, refreshThreshold time.Duration)
}

// HotConfigOptions configures hot reload behavior.
type HotConfigOptions struct {
	// ConfigPath is the path to the configuration file to watch.
	// Supports JSON, YAML, TOML, HCL, INI, Properties formats.
	ConfigPath string

	// PollInterval is how often to check for configuration changes.
	// Default: 1 second. Minimum: 100ms.
	PollInterval time.Duration

	// OnReload is called after configuration is successfully applied.
	OnReload func(rc ResilienceConfig, refreshThreshold time.Duration)

	// Logger for hot reload operations. Default: NoOpLogger.
	Logger Logger
}

// NewHotConfig creates a hot-reloadable configuration for a cache.
//
// Example configuration file (YAML):
//
//	resilience:
//	  suppress_exceptions: true
//	  retry_interval: "3s"
//	  max_retry_interval: "1m"
//	  resilience_duration: "10m"
//	  multiplier: 1.5
//	  randomization: 0.5
//	refresh:
//	  threshold: "30s"
func NewHotConfig(cache Reloadable, opts HotConfigOptions) (*HotConfig, error) {
	if opts.ConfigPath == "" {
		return nil, fmt.Errorf("config_path is required")
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = 1 * time.Second
	} else if opts.PollInterval < 100*time.Millisecond {
		opts.PollInterval = 100 * time.Millisecond
	}

	if opts.Logger == nil {
		opts.Logger = NoOpLogger{}
	}

	hc := &HotConfig{
		cache:      cache,
		logger:     opts.Logger,
		OnReload:   opts.OnReload,
		resilience: DefaultResilienceConfig(),
	}

	argusConfig := argus.Config{
		PollInterval: opts.PollInterval,
	}

	watcher, err := argus.UniversalConfigWatcherWithConfig(opts.ConfigPath, hc.handleConfigChange, argusConfig)
	if err != nil {
		return nil, err
	}
	hc.watcher = watcher

	return hc, nil
}

// Start begins watching the configuration file for changes.
func (hc *HotConfig) Start() error {
	if hc.watcher.IsRunning() {
		return nil
	}
	return hc.watcher.Start()
}

// Stop stops watching the configuration file.
func (hc *HotConfig) Stop() error {
	return hc.watcher.Stop()
}

// Resilience returns the most recently applied resilience knobs.
func (hc *HotConfig) Resilience() ResilienceConfig {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.resilience
}

// handleConfigChange is called by Argus when configuration changes.
func (hc *HotConfig) handleConfigChange(configData map[string]interface{}) {
	rc, threshold := hc.parseConfig(configData)

	if err := hc.cache.UpdateResilience(rc); err != nil {
		hc.logger.Warn("resilience reload rejected", "error", err)
		return
	}
	if threshold > 0 {
		hc.cache.SetRefreshThreshold(threshold)
	}

	hc.mu.Lock()
	hc.resilience = rc
	hc.threshold = threshold
	hc.mu.Unlock()

	hc.logger.Info("configuration reloaded",
		"suppress_exceptions", rc.SuppressExceptions,
		"retry_interval", rc.RetryInterval,
		"refresh_threshold", threshold)

	if hc.OnReload != nil {
		hc.OnReload(rc, threshold)
	}
}

// parseDuration extracts a time.Duration from a string value.
func parseDuration(value interface{}) (time.Duration, bool) {
	if str, ok := value.(string); ok {
		if d, err := time.ParseDuration(str); err == nil {
			return d, true
		}
	}
	return 0, false
}

// parseBool extracts a bool value.
func parseBool(value interface{}) (bool, bool) {
	if b, ok := value.(bool); ok {
		return b, true
	}
	return false, false
}

// parseFloat extracts a float64 value (YAML/JSON numbers may vary).
func parseFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// parseConfig extracts the reloadable knobs from Argus config data.
func (hc *HotConfig) parseConfig(data map[string]interface{}) (ResilienceConfig, time.Duration) {
	rc := DefaultResilienceConfig()
	var threshold time.Duration

	if section, ok := data["resilience"].(map[string]interface{}); ok {
		if b, ok := parseBool(section["suppress_exceptions"]); ok {
			rc.SuppressExceptions = b
		}
		if d, ok := parseDuration(section["retry_interval"]); ok {
			rc.RetryInterval = d
		}
		if d, ok := parseDuration(section["max_retry_interval"]); ok {
			rc.MaxRetryInterval = d
		}
		if d, ok := parseDuration(section["resilience_duration"]); ok {
			rc.ResilienceDuration = d
		}
		if f, ok := parseFloat(section["multiplier"]); ok && f > 0 {
			rc.Multiplier = f
		}
		if f, ok := parseFloat(section["randomization"]); ok && f >= 0 {
			rc.Randomization = f
		}
	}

	if section, ok := data["refresh"].(map[string]interface{}); ok {
		if d, ok := parseDuration(section["threshold"]); ok {
			threshold = d
		}
	}

	return rc, threshold
}
