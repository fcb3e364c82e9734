package config

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/freeeve/stagedump/internal/kv"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// StoreConfig holds tunables for the pebble stores opened by the tool.
type StoreConfig struct {
	CacheSizeBytes    int64  `yaml:"cache_size_bytes"`
	MemTableSizeBytes uint64 `yaml:"mem_table_size_bytes"`
	Sync              bool   `yaml:"sync"`
}

// DumpConfig holds settings for the table copies of a dump.
type DumpConfig struct {
	CopyBatchSize int `yaml:"copy_batch_size"`
}

// Config is the top-level tool configuration.
type Config struct {
	Log   LogConfig   `yaml:"log"`
	Store StoreConfig `yaml:"store"`
	Dump  DumpConfig  `yaml:"dump"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Store: StoreConfig{
			CacheSizeBytes:    64 << 20, // 64 MiB
			MemTableSizeBytes: 32 << 20, // 32 MiB
			Sync:              true,
		},
		Dump: DumpConfig{
			CopyBatchSize: 10000,
		},
	}
}

// Load reads configuration from an io.Reader, overriding defaults.
// A nil or empty reader yields the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return Load(nil)
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Validate rejects values the tool cannot run with.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Dump.CopyBatchSize <= 0 {
		return fmt.Errorf("dump.copy_batch_size must be positive, got %d", c.Dump.CopyBatchSize)
	}
	if c.Store.CacheSizeBytes < 0 {
		return fmt.Errorf("store.cache_size_bytes must not be negative")
	}
	return nil
}

// StoreOptions maps the store section onto options for kv.Open and kv.Create.
func (c *Config) StoreOptions(log zerolog.Logger) kv.Options {
	return kv.Options{
		CacheSize:    c.Store.CacheSizeBytes,
		MemTableSize: c.Store.MemTableSizeBytes,
		Sync:         c.Store.Sync,
		Logger:       log,
	}
}
