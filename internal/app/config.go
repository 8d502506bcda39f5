package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (RETAIL_ prefix), flags, a .env file or YAML config
// files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (RETAIL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (RETAIL_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Directory    DirectoryConfig
	Kafka        KafkaConfig
	Orders       OrdersConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// DirectoryConfig locates the HR and CRM services that own employee and
// customer records.
type DirectoryConfig struct {
	HRBaseURL  string        `usage:"Base URL of the HR service (employees)" flag:"hr-base-url"`
	CRMBaseURL string        `usage:"Base URL of the CRM service (customers)" flag:"crm-base-url"`
	Timeout    time.Duration `default:"2s" usage:"Per-request directory lookup timeout"`
}

// KafkaConfig controls order event publishing. Publishing is disabled when
// no brokers are configured.
type KafkaConfig struct {
	Brokers        []string      `usage:"Kafka bootstrap brokers"`
	Topic          string        `default:"orders.created" usage:"Topic for order created events"`
	PublishTimeout time.Duration `default:"2s" usage:"Max time a created order waits for its event to be published"`
}

// OrdersConfig tunes the order transaction engine.
type OrdersConfig struct {
	ConflictRetries int `default:"1" usage:"Retries of a stock-conflicted order before failing"`
	CodeAttempts    int `default:"5" usage:"Order code generation attempts per order"`
}

// RateLimitConfig controls the per-caller sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env (when present), then environment variables, flags and
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	return loadConfig(loaderConfig("config.yaml", "/etc/retail/config.yaml"))
}

func loaderConfig(files ...string) aconfig.Config {
	return aconfig.Config{
		EnvPrefix: "RETAIL",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	}
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set RETAIL_DATABASE_URL or DATABASE_URL")
	case c.APIKeyPepper == "":
		return errors.New("API key pepper is required: set RETAIL_API_KEY_PEPPER")
	case c.Orders.ConflictRetries < 0:
		return errors.Errorf("orders conflict retries must not be negative, got %d", c.Orders.ConflictRetries)
	case c.Orders.CodeAttempts < 1:
		return errors.Errorf("orders code attempts must be at least 1, got %d", c.Orders.CodeAttempts)
	case c.Kafka.PublishTimeout <= 0:
		return errors.New("kafka publish timeout must be positive")
	case c.RateLimit.Max < 1 || c.RateLimit.Window <= 0:
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's RETAIL_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
