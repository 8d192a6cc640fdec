// Package config loads pipeline configuration from a .env file, an optional
// YAML file and environment variables, in that order of precedence (lowest
// first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the pipeline binaries.
//
// YAML example:
//
//	httpAddr: ":8081"
//	storageDir: "./dev-data"
//	derivativeFormat: "webp"
//	recompress:
//	  ceilingBytes: 102400
//	  maxWidth: 650
//	fetch:
//	  maxAttempts: 3
//	  baseDelay: 2s
//	  proxies:
//	    - name: corsproxy
//	      prefix: "https://corsproxy.io/?url="
type Config struct {
	HTTPAddr         string           `yaml:"httpAddr"`
	StorageDir       string           `yaml:"storageDir"`
	ContentAPIURL    string           `yaml:"contentAPIURL"`
	ScratchDir       string           `yaml:"scratchDir"`
	PublicBaseURL    string           `yaml:"publicBaseURL"`
	RawPrefix        string           `yaml:"rawPrefix"`
	DerivativePrefix string           `yaml:"derivativePrefix"`
	DerivativeFormat string           `yaml:"derivativeFormat"`
	EncoderBackend   string           `yaml:"encoderBackend"` // vips or imaging
	Quality          int              `yaml:"quality"`
	Recompress       RecompressConfig `yaml:"recompress"`
	DBOS             DBOSConfig       `yaml:"dbos"`
	LedgerURL        string           `yaml:"ledgerURL"`
	Fetch            FetchConfig      `yaml:"fetch"`
	Preload          PreloadConfig    `yaml:"preload"`
	LogLevel         string           `yaml:"logLevel"`
	LogFormat        string           `yaml:"logFormat"`
}

// RecompressConfig controls the second-pass ceiling
type RecompressConfig struct {
	Enabled      bool  `yaml:"enabled"`
	CeilingBytes int64 `yaml:"ceilingBytes"`
	MaxWidth     int   `yaml:"maxWidth"`
}

// DBOSConfig configures the durable workflow queue
type DBOSConfig struct {
	DatabaseURL string `yaml:"databaseURL"`
	AppName     string `yaml:"appName"`
	QueueName   string `yaml:"queueName"`
	Concurrency int    `yaml:"concurrency"`
	AppVersion  string `yaml:"appVersion"`
}

// ProxyConfig is one proxy passthrough strategy
type ProxyConfig struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
}

// FetchConfig configures the fallback fetch chain and its retry wrapper
type FetchConfig struct {
	Proxies     []ProxyConfig `yaml:"proxies"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PreloadConfig configures the preload scheduler
type PreloadConfig struct {
	PriorityCount int    `yaml:"priorityCount"`
	BatchSize     int    `yaml:"batchSize"`
	CacheDir      string `yaml:"cacheDir"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		HTTPAddr:         ":8081",
		StorageDir:       "./dev-data",
		RawPrefix:        "uploads/",
		DerivativePrefix: "derivatives/",
		DerivativeFormat: "webp",
		EncoderBackend:   "vips",
		Quality:          80,
		Recompress: RecompressConfig{
			Enabled:      true,
			CeilingBytes: 100 * 1024,
			MaxWidth:     650,
		},
		DBOS: DBOSConfig{
			AppName:     "derivative-pipeline",
			QueueName:   "derivatives",
			Concurrency: 4,
		},
		Fetch: FetchConfig{
			Proxies: []ProxyConfig{
				{Name: "corsproxy", Prefix: "https://corsproxy.io/?url="},
				{Name: "allorigins", Prefix: "https://api.allorigins.win/raw?url="},
			},
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			Timeout:     30 * time.Second,
		},
		Preload: PreloadConfig{
			PriorityCount: 16,
			BatchSize:     8,
		},
		LogLevel:  "info",
		LogFormat: "auto",
	}
}

// Load reads .env (if present), the YAML file named by PIPELINE_CONFIG (or
// ./pipeline.yaml if it exists) and then applies environment overrides.
func Load() (*Config, error) {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg := Default()

	path := os.Getenv("PIPELINE_CONFIG")
	explicit := path != ""
	if !explicit {
		path = "pipeline.yaml"
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTPAddr, "WORKER_HTTP_ADDR")
	setString(&c.StorageDir, "STORAGE_DIR")
	setString(&c.ContentAPIURL, "CONTENT_API_URL")
	setString(&c.ScratchDir, "SCRATCH_DIR")
	setString(&c.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&c.RawPrefix, "RAW_PREFIX")
	setString(&c.DerivativePrefix, "DERIVATIVE_PREFIX")
	setString(&c.DerivativeFormat, "DERIVATIVE_FORMAT")
	setString(&c.EncoderBackend, "ENCODER_BACKEND")
	setString(&c.DBOS.DatabaseURL, "DBOS_SYSTEM_DATABASE_URL")
	setString(&c.DBOS.QueueName, "DBOS_QUEUE_NAME")
	setString(&c.DBOS.AppName, "DBOS_APP_NAME")
	setString(&c.DBOS.AppVersion, "DBOS_APP_VERSION")
	setString(&c.LedgerURL, "LEDGER_DATABASE_URL")
	setString(&c.Preload.CacheDir, "PRELOAD_CACHE_DIR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	if err := setInt(&c.Quality, "DERIVATIVE_QUALITY"); err != nil {
		return err
	}
	if err := setInt(&c.DBOS.Concurrency, "DBOS_CONCURRENCY"); err != nil {
		return err
	}
	if err := setInt(&c.Recompress.MaxWidth, "RECOMPRESS_MAX_WIDTH"); err != nil {
		return err
	}
	if err := setInt(&c.Fetch.MaxAttempts, "FETCH_MAX_ATTEMPTS"); err != nil {
		return err
	}
	if err := setInt(&c.Preload.PriorityCount, "PRELOAD_PRIORITY_COUNT"); err != nil {
		return err
	}
	if err := setInt(&c.Preload.BatchSize, "PRELOAD_BATCH_SIZE"); err != nil {
		return err
	}

	if v := os.Getenv("RECOMPRESS_CEILING_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RECOMPRESS_CEILING_BYTES: %w", err)
		}
		c.Recompress.CeilingBytes = n
	}
	if v := os.Getenv("RECOMPRESS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RECOMPRESS_ENABLED: %w", err)
		}
		c.Recompress.Enabled = b
	}
	if v := os.Getenv("FETCH_BASE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FETCH_BASE_DELAY: %w", err)
		}
		c.Fetch.BaseDelay = d
	}
	if v := os.Getenv("FETCH_PROXIES"); v != "" {
		proxies, err := ParseProxies(v)
		if err != nil {
			return fmt.Errorf("invalid FETCH_PROXIES: %w", err)
		}
		c.Fetch.Proxies = proxies
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("quality must be within 0..100 (got %d)", c.Quality)
	}
	if c.Recompress.CeilingBytes <= 0 {
		return fmt.Errorf("recompress ceiling must be greater than zero (got %d)", c.Recompress.CeilingBytes)
	}
	if c.Recompress.MaxWidth <= 0 {
		return fmt.Errorf("recompress max width must be greater than zero (got %d)", c.Recompress.MaxWidth)
	}
	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch max attempts must be at least 1 (got %d)", c.Fetch.MaxAttempts)
	}
	if c.Fetch.BaseDelay < 0 {
		return fmt.Errorf("fetch base delay must not be negative")
	}
	if c.Preload.BatchSize < 1 || c.Preload.PriorityCount < 0 {
		return fmt.Errorf("preload batch size must be positive and priority count non-negative")
	}
	if c.DerivativePrefix == "" || strings.Trim(c.DerivativePrefix, "/") == strings.Trim(c.RawPrefix, "/") {
		return fmt.Errorf("derivative prefix must be set and differ from the raw prefix")
	}
	return nil
}

// ParseProxies parses "name=prefix,name=prefix". The order is the fallback
// order.
func ParseProxies(s string) ([]ProxyConfig, error) {
	var proxies []ProxyConfig
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, prefix, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(prefix) == "" {
			return nil, fmt.Errorf("invalid proxy %q, expected name=prefix", pair)
		}
		proxies = append(proxies, ProxyConfig{Name: strings.TrimSpace(name), Prefix: strings.TrimSpace(prefix)})
	}
	return proxies, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}
