// Package loader handles configuration file loading and validation.
//
// This package is responsible for:
//   - Loading an optional .env file (godotenv)
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Converting to per-component configurations
package loader

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	defaults "github.com/sensorhub-io/sensorhub/config"
	"github.com/sensorhub-io/sensorhub/internal/errors"
	"github.com/sensorhub-io/sensorhub/internal/ingest"
	"github.com/sensorhub-io/sensorhub/internal/query"
	"github.com/sensorhub-io/sensorhub/internal/schema"
	"github.com/sensorhub-io/sensorhub/internal/store"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. A .env file next to the working
// directory is loaded first so that ${VAR} references in the YAML can come
// from it; a missing .env is not an error.
func Load(path string) (*Config, error) {
	godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// =============================================================================
// Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML as either a
// Go duration string ("5s", "2m") or a plain integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the complete application configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Devices DevicesConfig `yaml:"devices"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Store   StoreConfig   `yaml:"store"`
	Query   QueryConfig   `yaml:"query"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DevicesConfig configures the simulated device fleet.
type DevicesConfig struct {
	// Count is the number of simulated devices.
	Count int `yaml:"count"`

	// SensorTypes is the set of enabled sensor types. Empty means all.
	SensorTypes []string `yaml:"sensor_types"`

	// IntervalMin and IntervalMax bound the per-device sample interval.
	IntervalMin Duration `yaml:"interval_min"`
	IntervalMax Duration `yaml:"interval_max"`
}

// IngestConfig configures write buffering and retry.
type IngestConfig struct {
	BatchSize  int      `yaml:"batch_size"`
	FlushDelay Duration `yaml:"flush_delay"`
	MaxRetries int      `yaml:"max_retries"`
}

// StoreConfig configures the store gateway.
type StoreConfig struct {
	// Backend selects the store implementation: "cassandra" or "memory".
	// Memory is for local runs without a cluster.
	Backend string `yaml:"backend"`

	Hosts       []string `yaml:"hosts"`
	Port        int      `yaml:"port"`
	Keyspace    string   `yaml:"keyspace"`
	Table       string   `yaml:"table"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Consistency string   `yaml:"consistency"`
	Timeout     Duration `yaml:"timeout"`
	PoolSize    int      `yaml:"pool_size"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	WindowDefault  Duration `yaml:"window_default"`
	PageSize       int      `yaml:"page_size"`
	DevicesRefresh Duration `yaml:"devices_refresh"`
	MaxRetries     int      `yaml:"max_retries"`
}

// =============================================================================
// Defaults and validation
// =============================================================================

// DefaultConfig returns a configuration with documented defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Devices: DevicesConfig{
			Count:       defaults.DefaultDeviceCount,
			IntervalMin: Duration(defaults.DefaultIntervalMin),
			IntervalMax: Duration(defaults.DefaultIntervalMax),
		},
		Ingest: IngestConfig{
			BatchSize:  defaults.DefaultBatchSize,
			FlushDelay: Duration(defaults.DefaultFlushDelay),
			MaxRetries: defaults.DefaultWriteMaxRetries,
		},
		Store: StoreConfig{
			Backend:     "cassandra",
			Hosts:       []string{"localhost"},
			Port:        defaults.DefaultStorePort,
			Keyspace:    defaults.DefaultKeyspace,
			Table:       defaults.DefaultTable,
			Consistency: "quorum",
			Timeout:     Duration(defaults.DefaultRequestTimeout),
			PoolSize:    defaults.DefaultPoolSize,
		},
		Query: QueryConfig{
			WindowDefault:  Duration(defaults.DefaultQueryWindow),
			PageSize:       defaults.DefaultQueryPageSize,
			DevicesRefresh: Duration(defaults.DefaultDevicesRefresh),
			MaxRetries:     defaults.DefaultReadMaxRetries,
		},
	}
}

// Validate checks the configuration for inconsistencies that the component
// configs would only catch later.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	switch c.Store.Backend {
	case "cassandra", "memory":
	default:
		v.AddField("store.backend", "must be 'cassandra' or 'memory'")
	}

	if _, err := c.sensorTypes(); err != nil {
		v.Add(err)
	}

	return v.Err()
}

func (c *Config) sensorTypes() ([]schema.SensorType, error) {
	if len(c.Devices.SensorTypes) == 0 {
		return schema.AllSensorTypes(), nil
	}
	types := make([]schema.SensorType, 0, len(c.Devices.SensorTypes))
	for _, s := range c.Devices.SensorTypes {
		t, err := schema.ParseSensorType(s)
		if err != nil {
			return nil, errors.NewValidation("devices.sensor_types", err.Error())
		}
		types = append(types, t)
	}
	return types, nil
}

// =============================================================================
// Component config conversion
// =============================================================================

// ToIngestConfig converts the loaded configuration for the ingestion engine.
func (c *Config) ToIngestConfig() (*ingest.Config, error) {
	types, err := c.sensorTypes()
	if err != nil {
		return nil, err
	}

	cfg := ingest.DefaultConfig()
	cfg.DeviceCount = c.Devices.Count
	cfg.SensorTypes = types
	cfg.IntervalMin = c.Devices.IntervalMin.Duration()
	cfg.IntervalMax = c.Devices.IntervalMax.Duration()
	cfg.BatchSize = c.Ingest.BatchSize
	cfg.FlushDelay = c.Ingest.FlushDelay.Duration()
	cfg.MaxRetries = c.Ingest.MaxRetries
	cfg.RequestTimeout = c.Store.Timeout.Duration()
	return cfg, nil
}

// ToQueryConfig converts the loaded configuration for the query service.
func (c *Config) ToQueryConfig() *query.Config {
	cfg := query.DefaultConfig()
	cfg.WindowDefault = c.Query.WindowDefault.Duration()
	cfg.PageSize = c.Query.PageSize
	cfg.DevicesRefresh = c.Query.DevicesRefresh.Duration()
	cfg.MaxRetries = c.Query.MaxRetries
	cfg.RequestTimeout = c.Store.Timeout.Duration()
	return cfg
}

// OpenStore opens the configured store backend.
func (c *Config) OpenStore() (store.Store, error) {
	if c.Store.Backend == "memory" {
		return store.NewMemory(), nil
	}

	return store.NewCassandra(store.CassandraConfig{
		Hosts:       c.Store.Hosts,
		Port:        c.Store.Port,
		Keyspace:    c.Store.Keyspace,
		Table:       c.Store.Table,
		Username:    c.Store.Username,
		Password:    c.Store.Password,
		Consistency: c.Store.Consistency,
		Timeout:     c.Store.Timeout.Duration(),
		PoolSize:    c.Store.PoolSize,
	})
}
