// Package config loads metarecon settings from an optional YAML file and
// METARECON_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"metarecon/internal/blob"
	"metarecon/internal/ledger"
	"metarecon/internal/sink"
	"metarecon/internal/telemetry"
)

// EnvPrefix is prepended to every environment variable; dots become
// underscores, so sink.url is read from METARECON_SINK_URL.
const EnvPrefix = "METARECON"

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Profile string        `mapstructure:"profile"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Stub    StubConfig    `mapstructure:"stub"`
}

type StorageConfig struct {
	Driver string   `mapstructure:"driver"`
	Root   string   `mapstructure:"root"`
	S3     S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type SinkConfig struct {
	URL            string        `mapstructure:"url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Retries        int           `mapstructure:"retries"`
	Backoff        time.Duration `mapstructure:"backoff"`
	ImportStrategy string        `mapstructure:"import_strategy"`
	AtomicMode     string        `mapstructure:"atomic_mode"`
}

type LedgerConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	File string `mapstructure:"file"`
}

// StubConfig configures cmd/sinkstub.
type StubConfig struct {
	Addr string `mapstructure:"addr"`
}

var keys = []string{
	"storage.driver", "storage.root",
	"storage.s3.bucket", "storage.s3.region", "storage.s3.prefix", "storage.s3.endpoint",
	"storage.s3.path_style", "storage.s3.access_key_id", "storage.s3.secret_access_key",
	"sink.url", "sink.username", "sink.password", "sink.timeout", "sink.retries",
	"sink.backoff", "sink.import_strategy", "sink.atomic_mode",
	"ledger.driver", "ledger.sqlite_path", "ledger.postgres_dsn",
	"profile",
	"log.level", "log.format",
	"metrics.file",
	"stub.addr",
}

// Load reads path (when set) and the environment, applies defaults and
// validates the result. A missing explicit file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("storage.driver", string(blob.DriverFilesystem))
	v.SetDefault("storage.root", "metadata")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("sink.timeout", 60*time.Second)
	v.SetDefault("sink.retries", 3)
	v.SetDefault("sink.backoff", 2*time.Second)
	v.SetDefault("sink.import_strategy", "CREATE_AND_UPDATE")
	v.SetDefault("sink.atomic_mode", "NONE")
	v.SetDefault("ledger.driver", string(ledger.DriverSQLite))
	v.SetDefault("ledger.sqlite_path", "metarecon-ledger.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", telemetry.FormatJSON)
	v.SetDefault("stub.addr", ":8080")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and incomplete backend settings. The sink
// URL is checked by the commands that need it.
func (c *Config) Validate() error {
	switch blob.Driver(c.Storage.Driver) {
	case blob.DriverFilesystem:
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the fs driver")
		}
	case blob.DriverS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 driver")
		}
	case blob.DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be fs, s3 or memory, got %q", c.Storage.Driver)
	}

	switch ledger.Driver(c.Ledger.Driver) {
	case ledger.DriverMemory:
	case ledger.DriverSQLite:
		if c.Ledger.SQLitePath == "" {
			return fmt.Errorf("ledger.sqlite_path is required for the sqlite driver")
		}
	case ledger.DriverPostgres:
		if c.Ledger.PostgresDSN == "" {
			return fmt.Errorf("ledger.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("ledger.driver must be memory, sqlite or postgres, got %q", c.Ledger.Driver)
	}

	if c.Sink.Retries < 0 {
		return fmt.Errorf("sink.retries must not be negative")
	}
	switch c.Log.Format {
	case telemetry.FormatJSON, telemetry.FormatConsole:
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// BlobConfig returns the document storage settings.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: c.Storage.Driver,
		Root:   c.Storage.Root,
		S3: blob.S3Config{
			Bucket:          c.Storage.S3.Bucket,
			Region:          c.Storage.S3.Region,
			Prefix:          c.Storage.S3.Prefix,
			Endpoint:        c.Storage.S3.Endpoint,
			PathStyle:       c.Storage.S3.PathStyle,
			AccessKeyID:     c.Storage.S3.AccessKeyID,
			SecretAccessKey: c.Storage.S3.SecretAccessKey,
		},
	}
}

// LedgerConfig returns the run ledger settings.
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		Driver:      c.Ledger.Driver,
		SQLitePath:  c.Ledger.SQLitePath,
		PostgresDSN: c.Ledger.PostgresDSN,
	}
}

// SinkConfig returns the sink client settings.
func (c *Config) SinkConfig() sink.Config {
	return sink.Config{
		BaseURL:        c.Sink.URL,
		Username:       c.Sink.Username,
		Password:       c.Sink.Password,
		Timeout:        c.Sink.Timeout,
		Retries:        c.Sink.Retries,
		Backoff:        c.Sink.Backoff,
		ImportStrategy: c.Sink.ImportStrategy,
		AtomicMode:     c.Sink.AtomicMode,
	}
}
