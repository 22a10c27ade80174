// Package config deals with the optional YAML desk configuration file.
// Passing the file is an explicit opt-in: values it sets override the
// matching flags, for deployments that prefer a checked-in config over
// long command lines. Settings the file leaves out keep their flag values.
package config

import (
	"fmt"
	"os"
	"time"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"
)

// DeskConfig is the root of the YAML configuration
type DeskConfig struct {
	Backend      string `yaml:"backend" json:"backend" jsonschema:"required,description=base URL of the redaction backend"`
	Profile      string `yaml:"profile,omitempty" json:"profile,omitempty" jsonschema:"description=default configuration profile id"`
	PollInterval string `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty" jsonschema:"description=status poll interval as a go duration,example=2s"`

	Store StoreConfig `yaml:"store,omitempty" json:"store,omitempty"`
	Web   WebConfig   `yaml:"web,omitempty" json:"web,omitempty"`

	Resume struct {
		Concurrency int `yaml:"concurrency,omitempty" json:"concurrency,omitempty" jsonschema:"description=parallel startup probes,minimum=1"`
		Attempts    int `yaml:"attempts,omitempty" json:"attempts,omitempty" jsonschema:"description=startup probe retry attempts,minimum=1"`
	} `yaml:"resume,omitempty" json:"resume,omitempty"`
}

// StoreConfig selects and locates the persisted store
type StoreConfig struct {
	Engine string `yaml:"engine,omitempty" json:"engine,omitempty" jsonschema:"enum=file,enum=sqlite,description=persistence engine"`
	Path   string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"description=state file or database location"`
}

// WebConfig holds the local projection API settings
type WebConfig struct {
	Address string `yaml:"address,omitempty" json:"address,omitempty" jsonschema:"description=listen address for the local API,example=localhost:8880"`
}

// Load reads and validates the YAML config file
func Load(path string) (*DeskConfig, error) {
	data, err := os.ReadFile(path) // nolint:gosec // path comes from the operator's flag
	if err != nil {
		return nil, fmt.Errorf("can't read config file %s: %w", path, err)
	}

	var cfg DeskConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("can't parse config file %s: %w", path, err)
	}

	if err := Verify(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	log.Printf("[INFO] loaded desk config from %s", path)
	return &cfg, nil
}

// PollIntervalDuration parses the poll interval, zero if unset
func (c *DeskConfig) PollIntervalDuration() (time.Duration, error) {
	if c.PollInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("bad poll_interval %q: %w", c.PollInterval, err)
	}
	return d, nil
}
