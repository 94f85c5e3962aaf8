package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ledgerworks/factura/internal/extraction"
	"github.com/ledgerworks/factura/internal/notify"
	"github.com/ledgerworks/factura/internal/pipeline"
	"github.com/ledgerworks/factura/pkg/database"
	"github.com/ledgerworks/factura/pkg/storage"
	"github.com/pelletier/go-toml/v2"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvFacturaEnv             = "FACTURA_ENV"
	EnvFacturaShutdownTimeout = "FACTURA_SHUTDOWN_TIMEOUT"
	EnvFacturaVersion         = "FACTURA_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "FACTURA_DB_HOST",
	Port:            "FACTURA_DB_PORT",
	Name:            "FACTURA_DB_NAME",
	User:            "FACTURA_DB_USER",
	Password:        "FACTURA_DB_PASSWORD",
	SSLMode:         "FACTURA_DB_SSL_MODE",
	MaxOpenConns:    "FACTURA_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "FACTURA_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "FACTURA_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "FACTURA_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "FACTURA_STORAGE_CONTAINER_NAME",
	ConnectionString: "FACTURA_STORAGE_CONNECTION_STRING",
}

var extractionEnv = &extraction.Env{
	Endpoint:    "FACTURA_EXTRACTION_ENDPOINT",
	APIKey:      "FACTURA_EXTRACTION_API_KEY",
	TemplateKey: "FACTURA_EXTRACTION_TEMPLATE_KEY",
	Timeout:     "FACTURA_EXTRACTION_TIMEOUT",
}

var notifyEnv = &notify.Env{
	Host:     "FACTURA_SMTP_HOST",
	Port:     "FACTURA_SMTP_PORT",
	Username: "FACTURA_SMTP_USERNAME",
	Password: "FACTURA_SMTP_PASSWORD",
	From:     "FACTURA_SMTP_FROM",
	To:       "FACTURA_SMTP_TO",
}

var pipelineEnv = &pipeline.Env{
	Prefix:          "FACTURA_PIPELINE_PREFIX",
	ReconcileTotals: "FACTURA_PIPELINE_RECONCILE_TOTALS",
	Tolerance:       "FACTURA_PIPELINE_TOLERANCE",
	MaxConcurrent:   "FACTURA_PIPELINE_MAX_CONCURRENT",
}

// Config is the root configuration for the factura service.
type Config struct {
	Server          ServerConfig      `toml:"server"`
	Database        database.Config   `toml:"database"`
	Storage         storage.Config    `toml:"storage"`
	API             APIConfig         `toml:"api"`
	Extraction      extraction.Config `toml:"extraction"`
	Notify          notify.Config     `toml:"notify"`
	Pipeline        pipeline.Config   `toml:"pipeline"`
	ShutdownTimeout string            `toml:"shutdown_timeout"`
	Version         string            `toml:"version"`
}

// Env returns the FACTURA_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvFacturaEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Extraction.Merge(&overlay.Extraction)
	c.Notify.Merge(&overlay.Notify)
	c.Pipeline.Merge(&overlay.Pipeline)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Extraction.Finalize(extractionEnv); err != nil {
		return fmt.Errorf("extraction: %w", err)
	}
	if err := c.Notify.Finalize(notifyEnv); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if err := c.Pipeline.Finalize(pipelineEnv); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}
func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvFacturaShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvFacturaVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvFacturaEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
