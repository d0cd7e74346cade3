package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Driver names accepted in Config.Driver.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config holds store initialization parameters.
type Config struct {
	Driver string `json:"driver,omitempty"` // memory, file, sqlite or redis.
	Path   string `json:"path,omitempty"`   // FileStore root or SQLite database file.
	Addr   string `json:"addr,omitempty"`   // Redis address (host:port).
	Key    string `json:"key,omitempty"`    // Redis hash holding the entries.
}

// DefaultConfig returns the default store configuration (in-memory).
func DefaultConfig() Config {
	return Config{Driver: DriverMemory}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if source.Path != "" {
		c.Path = source.Path
	}
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.Key != "" {
		c.Key = source.Key
	}
}

// Factory builds a Store from configuration.
type Factory func(ctx context.Context, cfg *Config) (Store, error)

var (
	drivers = map[string]Factory{
		DriverMemory: func(context.Context, *Config) (Store, error) {
			return NewMemoryStore(), nil
		},
		DriverFile: func(_ context.Context, cfg *Config) (Store, error) {
			if cfg.Path == "" {
				return nil, fmt.Errorf("file store: path is required")
			}
			return NewFileStore(cfg.Path), nil
		},
		DriverSQLite: func(ctx context.Context, cfg *Config) (Store, error) {
			if cfg.Path == "" {
				return nil, fmt.Errorf("sqlite store: path is required")
			}
			return NewSQLiteStore(ctx, cfg.Path)
		},
		DriverRedis: func(ctx context.Context, cfg *Config) (Store, error) {
			if cfg.Addr == "" {
				return nil, fmt.Errorf("redis store: addr is required")
			}
			client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
			if err := client.Ping(ctx).Err(); err != nil {
				client.Close()
				return nil, fmt.Errorf("redis store: ping %s: %w", cfg.Addr, err)
			}
			return NewRedisStore(client, cfg.Key)
		},
	}
	mutex sync.RWMutex
)

// RegisterDriver adds or replaces a named store driver.
func RegisterDriver(name string, factory Factory) {
	mutex.Lock()
	defer mutex.Unlock()

	drivers[name] = factory
}

// Drivers returns the registered driver names in sorted order.
func Drivers() []string {
	mutex.RLock()
	defer mutex.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStore creates a Store from configuration. An empty driver selects the
// in-memory store.
func NewStore(ctx context.Context, cfg *Config) (Store, error) {
	name := cfg.Driver
	if name == "" {
		name = DriverMemory
	}

	mutex.RLock()
	factory, exists := drivers[name]
	mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, name)
	}
	return factory(ctx, cfg)
}
