package stack

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailored-agentic-units/persistence/store"
)

const defaultShutdownTimeout = 5 * time.Second

// Config holds the parameters for a Stack. The store section delegates to
// store.NewStore.
type Config struct {
	Store           store.Config `json:"store"`
	Codec           string       `json:"codec,omitempty"`
	Observers       []string     `json:"observers,omitempty"`
	ShutdownTimeout string       `json:"shutdown_timeout,omitempty"`
}

// DefaultConfig returns an in-memory stack using the proto codec and the
// slog observer.
func DefaultConfig() Config {
	return Config{
		Store:           store.DefaultConfig(),
		Codec:           "proto",
		Observers:       []string{"slog"},
		ShutdownTimeout: defaultShutdownTimeout.String(),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	c.Store.Merge(&source.Store)

	if source.Codec != "" {
		c.Codec = source.Codec
	}
	if len(source.Observers) > 0 {
		c.Observers = source.Observers
	}
	if source.ShutdownTimeout != "" {
		c.ShutdownTimeout = source.ShutdownTimeout
	}
}

// Timeout parses ShutdownTimeout, falling back to the default when unset.
func (c *Config) Timeout() (time.Duration, error) {
	if c.ShutdownTimeout == "" {
		return defaultShutdownTimeout, nil
	}
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdown_timeout %q: %w", c.ShutdownTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid shutdown_timeout %q: must be positive", c.ShutdownTimeout)
	}
	return d, nil
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
