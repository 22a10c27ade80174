package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/invopop/jsonschema"
)

//go:embed schema.json
var embeddedSchemaData []byte

// Verify validates the config against the embedded JSON schema constraints
func Verify(cfg *DeskConfig) error {
	// parse embedded schema to make sure the shipped artifact is intact
	var schema map[string]interface{}
	if err := json.Unmarshal(embeddedSchemaData, &schema); err != nil {
		return fmt.Errorf("parse embedded schema: %w", err)
	}

	if err := validateRequiredFields(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// validateRequiredFields performs the field-level checks the schema encodes
func validateRequiredFields(cfg *DeskConfig) error {
	if cfg.Backend == "" {
		return fmt.Errorf("backend is required")
	}
	u, err := url.Parse(cfg.Backend)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend must be an absolute URL, got %q", cfg.Backend)
	}

	if cfg.PollInterval != "" {
		d, err := time.ParseDuration(cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
		if d < 100*time.Millisecond {
			return fmt.Errorf("poll_interval %s too aggressive, minimum 100ms", d)
		}
	}

	switch cfg.Store.Engine {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("store engine must be 'file' or 'sqlite', got %q", cfg.Store.Engine)
	}

	if cfg.Resume.Concurrency < 0 {
		return fmt.Errorf("resume concurrency can't be negative")
	}
	if cfg.Resume.Attempts < 0 {
		return fmt.Errorf("resume attempts can't be negative")
	}
	return nil
}

// GenerateSchema generates the JSON schema for DeskConfig, used by the
// internal schema command to refresh the embedded schema.json
func GenerateSchema() (*jsonschema.Schema, error) {
	return jsonschema.Reflect(&DeskConfig{}), nil
}
