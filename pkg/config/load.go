package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nicktill/solarlog/pkg/codec"
	"github.com/nicktill/solarlog/pkg/query"
)

// EnvPrefix prefixes every environment override, e.g. SOLARLOG_STORAGE_BACKEND
const EnvPrefix = "SOLARLOG"

// Config is the runtime configuration of the server and CLI
type Config struct {
	Port     string `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	Timezone string `mapstructure:"timezone"`
	LogLevel string `mapstructure:"log_level"`

	Storage StorageConfig `mapstructure:"storage"`
	Codec   CodecConfig   `mapstructure:"codec"`
	Query   QueryConfig   `mapstructure:"query"`
}

// StorageConfig selects and tunes the log backend
type StorageConfig struct {
	Backend      string        `mapstructure:"backend"`
	Stream       string        `mapstructure:"stream"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	Pretty       bool          `mapstructure:"pretty"`
	MaxStorageGB int64         `mapstructure:"max_storage_gb"`
	MaxMemoryMB  int64         `mapstructure:"max_memory_mb"`
}

// CodecConfig configures which fields the delta codec compares
type CodecConfig struct {
	TrackedFields []string `mapstructure:"tracked_fields"`
	ErrorField    string   `mapstructure:"error_field"`
	WarningField  string   `mapstructure:"warning_field"`
}

// QueryConfig configures the chart and statistics fields
type QueryConfig struct {
	AverageFields []string `mapstructure:"average_fields"`
	ChartFields   []string `mapstructure:"chart_fields"`
}

// Load reads configuration from path (YAML, JSON or TOML) when given, else
// from configs/config.yml if present, then applies SOLARLOG_* overrides.
// A missing default config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no env
func Default() *Config {
	return &Config{
		Port:     DefaultPort,
		DataDir:  DefaultDataDir,
		Timezone: DefaultTimezone,
		LogLevel: "info",
		Storage: StorageConfig{
			Backend:      DefaultBackend,
			Stream:       DefaultStream,
			CacheTTL:     DefaultCacheTTL,
			MaxStorageGB: DefaultMaxStorageGB,
			MaxMemoryMB:  DefaultMaxMemoryMB,
		},
		Codec: CodecConfig{
			TrackedFields: append([]string(nil), codec.DefaultTrackedFields...),
			ErrorField:    codec.DefaultErrorField,
			WarningField:  codec.DefaultWarningField,
		},
		Query: QueryConfig{
			AverageFields: append([]string(nil), query.DefaultAverageFields...),
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.stream", d.Storage.Stream)
	v.SetDefault("storage.cache_ttl", d.Storage.CacheTTL)
	v.SetDefault("storage.pretty", d.Storage.Pretty)
	v.SetDefault("storage.max_storage_gb", d.Storage.MaxStorageGB)
	v.SetDefault("storage.max_memory_mb", d.Storage.MaxMemoryMB)
	v.SetDefault("codec.tracked_fields", d.Codec.TrackedFields)
	v.SetDefault("codec.error_field", d.Codec.ErrorField)
	v.SetDefault("codec.warning_field", d.Codec.WarningField)
	v.SetDefault("query.average_fields", d.Query.AverageFields)
	v.SetDefault("query.chart_fields", []string{})
}

// Validate checks values that would otherwise fail deep inside startup
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendMemory, BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Stream == "" {
		return fmt.Errorf("storage.stream must not be empty")
	}
	if strings.ContainsAny(c.Storage.Stream, `/\`) {
		return fmt.Errorf("storage.stream %q must not contain path separators", c.Storage.Stream)
	}
	if len(c.Codec.TrackedFields) == 0 {
		return fmt.Errorf("codec.tracked_fields must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the timezone used for local_time
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == DefaultTimezone {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LogPath is where the file backend keeps the stream
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, c.Storage.Stream+".json")
}

// MaxStorageBytes is the configured storage limit in bytes
func (c *Config) MaxStorageBytes() int64 {
	return c.Storage.MaxStorageGB * 1024 * 1024 * 1024
}

// ChartFields returns the configured chart fields, or the tracked fields
// without the error and warning indicators
func (c *Config) ChartFields() []string {
	if len(c.Query.ChartFields) > 0 {
		return c.Query.ChartFields
	}
	out := make([]string, 0, len(c.Codec.TrackedFields))
	for _, f := range c.Codec.TrackedFields {
		if f == c.Codec.ErrorField || f == c.Codec.WarningField {
			continue
		}
		out = append(out, f)
	}
	return out
}

// CodecOptions converts to the codec's own configuration
func (c *Config) CodecOptions() codec.Config {
	return codec.Config{
		TrackedFields: c.Codec.TrackedFields,
		ErrorField:    c.Codec.ErrorField,
		WarningField:  c.Codec.WarningField,
	}
}
