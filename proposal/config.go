package proposal

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/rfpgen/docpipe"
	"github.com/hazyhaar/rfpgen/shield"
)

// DefaultConfigPath is read by LoadConfig when no path is given. A missing
// file at this path is not an error.
const DefaultConfigPath = "rfpgen.yaml"

// Config holds the full rfpgen service configuration. Values come from
// DefaultConfig, then the YAML file, then RFPGEN_* environment variables.
type Config struct {
	Listen   string `yaml:"listen" env:"RFPGEN_LISTEN"`
	LogLevel string `yaml:"log_level" env:"RFPGEN_LOG_LEVEL"`

	Store StoreConfig `yaml:"store" envPrefix:"RFPGEN_STORE_"`

	MaxUploadMB  int `yaml:"max_upload_mb" env:"RFPGEN_MAX_UPLOAD_MB"`
	ListLimitMax int `yaml:"list_limit_max" env:"RFPGEN_LIST_LIMIT_MAX"`

	Decoder DecoderConfig `yaml:"decoder" envPrefix:"RFPGEN_DECODER_"`
	MCP     MCPConfig     `yaml:"mcp" envPrefix:"RFPGEN_MCP_"`
	CORS    CORSConfig    `yaml:"cors" envPrefix:"RFPGEN_CORS_"`

	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RFPGEN_RATE_LIMIT_"`
	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies" env:"RFPGEN_TRUSTED_PROXIES"`

	// MetricsDB is the observability SQLite database. Empty disables metrics,
	// events and heartbeats.
	MetricsDB     string `yaml:"metrics_db" env:"RFPGEN_METRICS_DB"`
	RetentionDays int    `yaml:"retention_days" env:"RFPGEN_RETENTION_DAYS"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"RFPGEN_SHUTDOWN_TIMEOUT"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // sqlite | postgres
	DSN    string `yaml:"dsn" env:"DSN"`       // file path for sqlite, URL for postgres
}

// DecoderConfig configures the document decoder.
type DecoderConfig struct {
	PDFEngine  string   `yaml:"pdf_engine" env:"PDF_ENGINE"`
	Disable    []string `yaml:"disable" env:"DISABLE"`
	MaxInputMB int      `yaml:"max_input_mb" env:"MAX_INPUT_MB"`
}

// MCPConfig toggles the MCP endpoint at /mcp.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// CORSConfig lists allowed origins. "*" allows any.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// RateLimitConfig caps requests per client IP. 0 disables a limit.
type RateLimitConfig struct {
	UploadsPerMinute int `yaml:"uploads_per_minute" env:"UPLOADS_PER_MINUTE"`
	// MCPRequestsPerMinute applies to POST /mcp, every tool call included.
	MCPRequestsPerMinute int `yaml:"mcp_requests_per_minute" env:"MCP_REQUESTS_PER_MINUTE"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8000",
		LogLevel: "info",
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "data/rfpgen.db",
		},
		MaxUploadMB:  25,
		ListLimitMax: 500,
		Decoder: DecoderConfig{
			PDFEngine:  docpipe.PDFEnginePDFCPU,
			MaxInputMB: 100,
		},
		CORS:            CORSConfig{AllowedOrigins: []string{"*"}},
		RetentionDays:   30,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig, applies
// environment overrides and validates the result. An empty path means
// DefaultConfigPath, which may be absent.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	optional := path == ""
	if optional {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported store.driver %q (use sqlite or postgres)", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0")
	}
	if c.ListLimitMax <= 0 {
		return fmt.Errorf("list_limit_max must be > 0")
	}
	switch c.Decoder.PDFEngine {
	case docpipe.PDFEnginePDFCPU, docpipe.PDFEnginePlain:
	default:
		return fmt.Errorf("unsupported decoder.pdf_engine %q (use pdfcpu or plain)", c.Decoder.PDFEngine)
	}
	for _, f := range c.Decoder.Disable {
		if !slices.Contains(docpipe.SpecializedFormats(), docpipe.Format(f)) {
			return fmt.Errorf("decoder.disable: unknown format %q", f)
		}
	}
	if c.Decoder.MaxInputMB <= 0 {
		return fmt.Errorf("decoder.max_input_mb must be > 0")
	}
	if c.RateLimit.UploadsPerMinute < 0 {
		return fmt.Errorf("rate_limit.uploads_per_minute must be >= 0")
	}
	if c.RateLimit.MCPRequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.mcp_requests_per_minute must be >= 0")
	}
	if _, err := shield.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return err
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be >= 0")
	}
	return nil
}

// Proxies returns the parsed trusted proxy list. Validate rejects bad entries.
func (c *Config) Proxies() shield.TrustedProxies {
	tp, _ := shield.ParseTrustedProxies(c.TrustedProxies)
	return tp
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) * 1024 * 1024 }

// DocpipeConfig returns the decoder configuration.
func (c *Config) DocpipeConfig() docpipe.Config {
	disable := make([]docpipe.Format, len(c.Decoder.Disable))
	for i, f := range c.Decoder.Disable {
		disable[i] = docpipe.Format(f)
	}
	return docpipe.Config{
		MaxInputSize: int64(c.Decoder.MaxInputMB) * 1024 * 1024,
		PDFEngine:    c.Decoder.PDFEngine,
		Disable:      disable,
	}
}
