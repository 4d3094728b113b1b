package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Driver != "fs" || cfg.Storage.Root != "metadata" {
		t.Errorf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Sink.Timeout != 60*time.Second || cfg.Sink.Retries != 3 || cfg.Sink.ImportStrategy != "CREATE_AND_UPDATE" {
		t.Errorf("unexpected sink defaults %+v", cfg.Sink)
	}
	if cfg.Ledger.Driver != "sqlite" || cfg.Ledger.SQLitePath == "" {
		t.Errorf("unexpected ledger defaults %+v", cfg.Ledger)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metarecon.yaml")
	yaml := `
storage:
  driver: s3
  s3:
    bucket: registry-metadata
    path_style: true
sink:
  url: https://registry.example.org
  backoff: 500ms
ledger:
  driver: memory
profile: profiles/cancer.yaml
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("METARECON_SINK_USERNAME", "admin")
	t.Setenv("METARECON_SINK_RETRIES", "5")
	t.Setenv("METARECON_STORAGE_S3_REGION", "eu-west-1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.S3.Bucket != "registry-metadata" || !cfg.Storage.S3.PathStyle || cfg.Storage.S3.Region != "eu-west-1" {
		t.Errorf("unexpected s3 settings %+v", cfg.Storage.S3)
	}
	if cfg.Sink.URL != "https://registry.example.org" || cfg.Sink.Username != "admin" || cfg.Sink.Retries != 5 || cfg.Sink.Backoff != 500*time.Millisecond {
		t.Errorf("unexpected sink settings %+v", cfg.Sink)
	}
	if cfg.Profile != "profiles/cancer.yaml" || cfg.Ledger.Driver != "memory" {
		t.Errorf("unexpected settings %+v", cfg)
	}

	bc := cfg.BlobConfig()
	if bc.Driver != "s3" || bc.S3.Bucket != "registry-metadata" || !bc.S3.PathStyle {
		t.Errorf("unexpected blob config %+v", bc)
	}
	sc := cfg.SinkConfig()
	if sc.BaseURL != cfg.Sink.URL || sc.Retries != 5 {
		t.Errorf("unexpected sink config %+v", sc)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage: StorageConfig{Driver: "fs", Root: "metadata"},
			Ledger:  LedgerConfig{Driver: "sqlite", SQLitePath: "ledger.db"},
			Log:     LogConfig{Format: "json"},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Driver = "ftp" }, want: "storage.driver"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Storage.Driver = "s3" }, want: "storage.s3.bucket"},
		{name: "memory storage", mutate: func(c *Config) { c.Storage.Driver = "memory"; c.Storage.Root = "" }},
		{name: "unknown ledger", mutate: func(c *Config) { c.Ledger.Driver = "mysql" }, want: "ledger.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Ledger.Driver = "postgres" }, want: "ledger.postgres_dsn"},
		{name: "negative retries", mutate: func(c *Config) { c.Sink.Retries = -1 }, want: "sink.retries"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, want: "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("METARECON_LEDGER_DRIVER", "mysql")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}
