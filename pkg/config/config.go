// Package config assembles the settings shared by the servers and exporters.
//
// Sources, lowest precedence first: built-in defaults, an optional YAML file,
// .env files (never overriding the process environment), and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/shopify-export/pkg/client"
	"github.com/Sternrassler/shopify-export/pkg/export"
	"github.com/Sternrassler/shopify-export/pkg/logging"
	"github.com/Sternrassler/shopify-export/pkg/pagination"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvAccessToken        = "ACCESS_TOKEN"
	EnvStoreDomain        = "STORE_DOMAIN"
	EnvAPIVersion         = "API_VERSION"
	EnvAPIBaseURL         = "API_BASE_URL"
	EnvPort               = "PORT"
	EnvRedisURL           = "REDIS_URL"
	EnvCacheTTL           = "CACHE_TTL"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogPretty          = "LOG_PRETTY"
	EnvMaxRetries         = "MAX_RETRIES"
	EnvRetryBackoff       = "RETRY_BACKOFF"
	EnvMaxBackoff         = "MAX_BACKOFF"
	EnvRequestTimeout     = "REQUEST_TIMEOUT"
	EnvPageSize           = "PAGE_SIZE"
	EnvMaxPages           = "MAX_PAGES"
	EnvPaginationStrategy = "PAGINATION_STRATEGY"
	EnvOutputDir          = "OUTPUT_DIR"
	EnvIndexCaption       = "INDEX_CAPTION"
	EnvShipmentCost       = "SHIPMENT_COST"
	EnvDeliveryTime       = "DELIVERY_TIME"
	EnvWarranty           = "WARRANTY"
	EnvProductType        = "PRODUCT_TYPE"
)

// Config is built once per process and passed to every component.
type Config struct {
	Shop   ShopConfig   `yaml:"shop"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Server ServerConfig `yaml:"server"`
	Cache  CacheConfig  `yaml:"cache"`
	Log    LogConfig    `yaml:"log"`
	Export ExportConfig `yaml:"export"`
}

// ShopConfig identifies the store.
type ShopConfig struct {
	AccessToken string `yaml:"access_token"`
	StoreDomain string `yaml:"store_domain"`
	APIVersion  string `yaml:"api_version"`

	// BaseURL replaces https://<StoreDomain> (tests, local mocks).
	BaseURL string `yaml:"base_url"`
}

// FetchConfig controls paging and retry.
type FetchConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PageSize       int           `yaml:"page_size"`
	MaxPages       int           `yaml:"max_pages"`
	Strategy       string        `yaml:"strategy"`
}

// ServerConfig is shared by the HTTP servers.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig enables the Redis collection cache. Empty RedisURL disables it.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ExportConfig holds the file exporters' settings and feed constants.
type ExportConfig struct {
	OutputDir    string `yaml:"output_dir"`
	IndexCaption string `yaml:"index_caption"`
	ShipmentCost string `yaml:"shipment_cost"`
	DeliveryTime int    `yaml:"delivery_time"`
	Warranty     int    `yaml:"warranty"`
	ProductType  int    `yaml:"product_type"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Shop: ShopConfig{
			APIVersion: "2023-10",
		},
		Fetch: FetchConfig{
			MaxRetries:     3,
			RetryBackoff:   1 * time.Second,
			MaxBackoff:     30 * time.Second,
			RequestTimeout: 30 * time.Second,
			PageSize:       pagination.MaxPageSize,
			Strategy:       pagination.StrategySinceID,
		},
		Server: ServerConfig{
			Port:            "5000",
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Export: ExportConfig{
			OutputDir:    ".",
			IndexCaption: "Catalog",
			ShipmentCost: "15.00",
			DeliveryTime: 7,
			Warranty:     1,
			ProductType:  0,
		},
	}
}

// Load builds the configuration. configFile may be empty; missing dotenv
// files are skipped. With no dotenv files, ".env" is tried.
func Load(configFile string, dotenvFiles ...string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configFile, err)
		}
	}

	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment values. Every malformed value is reported.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
			return
		}
		*dst = b
	}

	str(EnvAccessToken, &c.Shop.AccessToken)
	str(EnvStoreDomain, &c.Shop.StoreDomain)
	str(EnvAPIVersion, &c.Shop.APIVersion)
	str(EnvAPIBaseURL, &c.Shop.BaseURL)

	num(EnvMaxRetries, &c.Fetch.MaxRetries)
	dur(EnvRetryBackoff, &c.Fetch.RetryBackoff)
	dur(EnvMaxBackoff, &c.Fetch.MaxBackoff)
	dur(EnvRequestTimeout, &c.Fetch.RequestTimeout)
	num(EnvPageSize, &c.Fetch.PageSize)
	num(EnvMaxPages, &c.Fetch.MaxPages)
	str(EnvPaginationStrategy, &c.Fetch.Strategy)

	str(EnvPort, &c.Server.Port)
	str(EnvRedisURL, &c.Cache.RedisURL)
	dur(EnvCacheTTL, &c.Cache.TTL)

	str(EnvLogLevel, &c.Log.Level)
	flag(EnvLogPretty, &c.Log.Pretty)

	str(EnvOutputDir, &c.Export.OutputDir)
	str(EnvIndexCaption, &c.Export.IndexCaption)
	str(EnvShipmentCost, &c.Export.ShipmentCost)
	num(EnvDeliveryTime, &c.Export.DeliveryTime)
	num(EnvWarranty, &c.Export.Warranty)
	num(EnvProductType, &c.Export.ProductType)

	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("1.5s") and bare seconds ("2").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not a duration", v)
	}
	return d, nil
}

// Validate reports every malformed setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Fetch.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 1 (got %d)", c.Fetch.MaxRetries))
	}
	if c.Fetch.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry_backoff must not be negative (got %v)", c.Fetch.RetryBackoff))
	}
	if c.Fetch.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("max_backoff must not be negative (got %v)", c.Fetch.MaxBackoff))
	}
	if c.Fetch.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout must not be negative (got %v)", c.Fetch.RequestTimeout))
	}
	if c.Fetch.PageSize < 1 || c.Fetch.PageSize > pagination.MaxPageSize {
		errs = append(errs, fmt.Errorf("page_size must be between 1 and %d (got %d)", pagination.MaxPageSize, c.Fetch.PageSize))
	}
	if c.Fetch.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("max_pages must not be negative (got %d)", c.Fetch.MaxPages))
	}
	if _, err := pagination.ParseStrategy(c.Fetch.Strategy); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl must not be negative (got %v)", c.Cache.TTL))
	}
	if _, err := strconv.ParseFloat(c.Export.ShipmentCost, 64); err != nil {
		errs = append(errs, fmt.Errorf("shipment_cost %q is not a number", c.Export.ShipmentCost))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// MissingSettingsError lists required settings that are unset.
type MissingSettingsError struct {
	Missing []string
}

// Error implements the error interface.
func (e *MissingSettingsError) Error() string {
	return "missing required settings: " + strings.Join(e.Missing, ", ")
}

// RequireStoreAccess checks the settings every store-facing tool needs.
func (c *Config) RequireStoreAccess() error {
	var missing []string
	if c.Shop.AccessToken == "" {
		missing = append(missing, EnvAccessToken)
	}
	if c.Shop.StoreDomain == "" {
		missing = append(missing, EnvStoreDomain)
	}
	if len(missing) > 0 {
		return &MissingSettingsError{Missing: missing}
	}
	return nil
}

// RetryConfig returns the per-page retry budget.
func (c *Config) RetryConfig() client.RetryConfig {
	retry := client.DefaultRetryConfig()
	retry.MaxAttempts = c.Fetch.MaxRetries
	retry.InitialBackoff = c.Fetch.RetryBackoff
	retry.MaxBackoff = c.Fetch.MaxBackoff
	return retry
}

// ClientConfig returns the Admin API client configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Shop.StoreDomain, c.Shop.AccessToken)
	if c.Shop.APIVersion != "" {
		cfg.APIVersion = c.Shop.APIVersion
	}
	cfg.BaseURL = c.Shop.BaseURL
	if c.Fetch.RequestTimeout > 0 {
		cfg.RequestTimeout = c.Fetch.RequestTimeout
	}
	cfg.Retry = c.RetryConfig()
	return cfg
}

// PaginationConfig returns the fetcher configuration.
func (c *Config) PaginationConfig() (pagination.Config, error) {
	strategy, err := pagination.ParseStrategy(c.Fetch.Strategy)
	if err != nil {
		return pagination.Config{}, err
	}
	return pagination.Config{
		Strategy: strategy,
		PageSize: c.Fetch.PageSize,
		Retry:    c.RetryConfig(),
		MaxPages: c.Fetch.MaxPages,
	}, nil
}

// LoggingConfig returns the logger configuration for service.
func (c *Config) LoggingConfig(service string) logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.Log.Level))
	cfg.Pretty = c.Log.Pretty
	cfg.Service = service
	return cfg
}

// FeedOptions returns the XML feed constants for the configured store.
func (c *Config) FeedOptions() export.FeedOptions {
	return export.FeedOptions{
		StoreDomain:  c.Shop.StoreDomain,
		ShipmentCost: c.Export.ShipmentCost,
		DeliveryTime: c.Export.DeliveryTime,
		Warranty:     c.Export.Warranty,
		ProductType:  c.Export.ProductType,
	}
}

// Addr returns the listen address for the servers.
func (c *Config) Addr() string {
	port := strings.TrimPrefix(c.Server.Port, ":")
	return ":" + port
}
