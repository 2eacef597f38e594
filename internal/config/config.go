// Package config provides the configuration surface for the sync core.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/offsitehq/fieldsync/internal/models"
)

// Config holds all recognized sync options.
type Config struct {
	StorageRoot         string                    `json:"storage_root"`
	DeviceID            string                    `json:"device_id"`
	MaxRetries          int                       `json:"max_retries"`
	RetryDelay          time.Duration             `json:"retry_delay"`
	SyncInterval        time.Duration             `json:"sync_interval"`
	MaxQueueSize        int                       `json:"max_queue_size"`
	MaxStorageBytes     int64                     `json:"max_storage_bytes"`
	DefaultStrategy     models.ResolutionStrategy `json:"default_strategy"`
	AutoSync            bool                      `json:"auto_sync"`
	PriorityEntityTypes []string                  `json:"priority_entity_types"`

	// Remote endpoint wiring for the shell binary. An empty URL selects
	// the in-process simulated endpoint.
	RemoteURL       string `json:"remote_url,omitempty"`
	RemoteAuthToken string `json:"remote_auth_token,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		StorageRoot:         ".fieldsync",
		MaxRetries:          3,
		RetryDelay:          2 * time.Second,
		SyncInterval:        15 * time.Minute,
		MaxQueueSize:        1000,
		MaxStorageBytes:     500 * 1024 * 1024,
		DefaultStrategy:     models.ResolutionLatestWins,
		AutoSync:            false,
		PriorityEntityTypes: []string{"Issue", "RFI"},
	}
}

// fileConfig mirrors Config with durations as human-readable strings,
// matching how the desktop shell serializes settings.
type fileConfig struct {
	StorageRoot         string   `json:"storage_root"`
	DeviceID            string   `json:"device_id"`
	MaxRetries          *int     `json:"max_retries,omitempty"`
	RetryDelay          string   `json:"retry_delay,omitempty"`
	SyncInterval        string   `json:"sync_interval,omitempty"`
	MaxQueueSize        *int     `json:"max_queue_size,omitempty"`
	MaxStorageBytes     *int64   `json:"max_storage_bytes,omitempty"`
	DefaultStrategy     string   `json:"default_strategy,omitempty"`
	AutoSync            *bool    `json:"auto_sync,omitempty"`
	PriorityEntityTypes []string `json:"priority_entity_types,omitempty"`
	RemoteURL           string   `json:"remote_url,omitempty"`
	RemoteAuthToken     string   `json:"remote_auth_token,omitempty"`
}

// Load reads a JSON config file and overlays it onto the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()
	if fc.StorageRoot != "" {
		cfg.StorageRoot = fc.StorageRoot
	}
	if fc.DeviceID != "" {
		cfg.DeviceID = fc.DeviceID
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.RetryDelay != "" {
		d, err := time.ParseDuration(fc.RetryDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid retry_delay: %w", err)
		}
		cfg.RetryDelay = d
	}
	if fc.SyncInterval != "" {
		d, err := time.ParseDuration(fc.SyncInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid sync_interval: %w", err)
		}
		cfg.SyncInterval = d
	}
	if fc.MaxQueueSize != nil {
		cfg.MaxQueueSize = *fc.MaxQueueSize
	}
	if fc.MaxStorageBytes != nil {
		cfg.MaxStorageBytes = *fc.MaxStorageBytes
	}
	if fc.DefaultStrategy != "" {
		cfg.DefaultStrategy = models.ResolutionStrategy(fc.DefaultStrategy)
	}
	if fc.AutoSync != nil {
		cfg.AutoSync = *fc.AutoSync
	}
	if fc.PriorityEntityTypes != nil {
		cfg.PriorityEntityTypes = fc.PriorityEntityTypes
	}
	cfg.RemoteURL = fc.RemoteURL
	cfg.RemoteAuthToken = fc.RemoteAuthToken

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("storage_root must not be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive")
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive")
	}
	if c.MaxStorageBytes <= 0 {
		return fmt.Errorf("max_storage_bytes must be positive")
	}
	if !c.DefaultStrategy.Valid() {
		return fmt.Errorf("unknown default_strategy: %q", c.DefaultStrategy)
	}
	return nil
}

// IsPriorityType reports whether the entity type syncs ahead of the rest.
func (c *Config) IsPriorityType(entityType string) bool {
	for _, t := range c.PriorityEntityTypes {
		if t == entityType {
			return true
		}
	}
	return false
}
