package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aryan0dhankhar/tenantrouter/pkg/database"
)

// Config holds the application configuration. Load fills it from defaults,
// then an optional YAML file, then environment variables.
type Config struct {
	Environment  string             `yaml:"environment"`
	LogLevel     string             `yaml:"log_level"`
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Directory    DirectoryConfig    `yaml:"directory"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Routing      RoutingConfig      `yaml:"routing"`
	Auth         AuthConfig         `yaml:"auth"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

type ServerConfig struct {
	Port               int           `yaml:"port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
}

// StorageConfig selects the partition backend. Driver is "postgres" or "memory".
// SeedTenants are created at start-up by the memory driver only.
type StorageConfig struct {
	Driver        string          `yaml:"driver"`
	Database      database.Config `yaml:"database"`
	SwitchTimeout time.Duration   `yaml:"switch_timeout"`
	SeedTenants   []string        `yaml:"seed_tenants"`
}

// RedisConfig enables the shared directory cache when URL is set
type RedisConfig struct {
	URL string `yaml:"url"`
}

type DirectoryConfig struct {
	LookupTimeout    time.Duration `yaml:"lookup_timeout"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	NegativeTTL      time.Duration `yaml:"negative_ttl"`
	LocalCacheTTL    time.Duration `yaml:"local_cache_ttl"`
	UnsharedCacheTTL time.Duration `yaml:"unshared_cache_ttl"`
	LocalCacheBytes  int64         `yaml:"local_cache_bytes"`
	BreakerFailures  int           `yaml:"breaker_failures"`
	BreakerSuccesses int           `yaml:"breaker_successes"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

type ProvisioningConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RoutingConfig struct {
	APIPrefix        string   `yaml:"api_prefix"`
	ReservedPrefixes []string `yaml:"reserved_prefixes"`
	Placeholders     []string `yaml:"placeholders"`
	TenantHeader     string   `yaml:"tenant_header"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	Algorithm string        `yaml:"algorithm"`
	Leeway    time.Duration `yaml:"leeway"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// RateLimitConfig bounds requests per tenant. Requests <= 0 disables it.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSAllowedOrigins: []string{
				"http://localhost:5173",
				"http://localhost:3000",
			},
		},
		Storage: StorageConfig{
			Driver:        "postgres",
			Database:      *database.DefaultConfig(),
			SwitchTimeout: 2 * time.Second,
		},
		Directory: DirectoryConfig{
			LookupTimeout:    time.Second,
			CacheTTL:         5 * time.Minute,
			NegativeTTL:      30 * time.Second,
			LocalCacheTTL:    30 * time.Second,
			UnsharedCacheTTL: 5 * time.Second,
			LocalCacheBytes:  16 << 20,
			BreakerFailures:  5,
			BreakerSuccesses: 2,
			BreakerTimeout:   10 * time.Second,
		},
		Provisioning: ProvisioningConfig{
			CacheTTL:      10 * time.Minute,
			Timeout:       5 * time.Second,
			SweepInterval: time.Minute,
		},
		Routing: RoutingConfig{
			APIPrefix:    "api",
			TenantHeader: "X-Tenant-Name",
		},
		Auth: AuthConfig{
			Issuer:    "tenantrouter",
			Algorithm: "HS256",
			Leeway:    30 * time.Second,
			TokenTTL:  15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Load reads configuration: defaults < YAML file (CONFIG_FILE, default
// tenantrouter.yaml, optional) < environment variables.
func Load() (*Config, error) {
	cfg := Default()

	path := getEnv("CONFIG_FILE", "tenantrouter.yaml")
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.CORSAllowedOrigins = parseCSVEnv("CORS_ALLOWED_ORIGINS", c.Server.CORSAllowedOrigins)
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Database.URL = getEnv("DATABASE_URL", c.Storage.Database.URL)
	c.Storage.SeedTenants = parseCSVEnv("SEED_TENANTS", c.Storage.SeedTenants)
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Routing.APIPrefix = getEnv("API_PREFIX", c.Routing.APIPrefix)
	c.Routing.TenantHeader = getEnv("TENANT_HEADER", c.Routing.TenantHeader)
	c.Routing.ReservedPrefixes = parseCSVEnv("RESERVED_PREFIXES", c.Routing.ReservedPrefixes)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("JWT_ISSUER", c.Auth.Issuer)
	c.Auth.Algorithm = getEnv("JWT_ALGORITHM", c.Auth.Algorithm)
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)

	var err error
	if c.Server.Port, err = getInt("SERVER_PORT", c.Server.Port); err != nil {
		return err
	}
	if c.RateLimit.Requests, err = getInt("RATE_LIMIT_REQUESTS", c.RateLimit.Requests); err != nil {
		return err
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PARTITION_SWITCH_TIMEOUT", &c.Storage.SwitchTimeout},
		{"DIRECTORY_LOOKUP_TIMEOUT", &c.Directory.LookupTimeout},
		{"DIRECTORY_CACHE_TTL", &c.Directory.CacheTTL},
		{"DIRECTORY_UNSHARED_CACHE_TTL", &c.Directory.UnsharedCacheTTL},
		{"PROVISION_TIMEOUT", &c.Provisioning.Timeout},
		{"PROVISION_CACHE_TTL", &c.Provisioning.CacheTTL},
		{"RATE_LIMIT_WINDOW", &c.RateLimit.Window},
		{"JWT_LEEWAY", &c.Auth.Leeway},
		{"TOKEN_TTL", &c.Auth.TokenTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port %d", c.Server.Port))
	}
	if c.Storage.SwitchTimeout <= 0 || c.Directory.LookupTimeout <= 0 || c.Provisioning.Timeout <= 0 {
		errs = append(errs, errors.New("storage, directory and provisioning timeouts must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
