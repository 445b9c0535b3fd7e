package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (MARKET_ prefix), flags, or YAML config files.
type Config struct {
	Addr              string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage           string        `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL       string        `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper      string        `usage:"HMAC pepper for API key hashing (MARKET_API_KEY_PEPPER)" flag:"api-key-pepper"`
	BootstrapAdminKey string        `usage:"Registers this raw key as an admin API key on startup" flag:"bootstrap-admin-key"`
	TaxRate           string        `default:"0.05" usage:"Tax rate applied to the discounted subtotal" flag:"tax-rate"`
	CheckoutTimeout   time.Duration `default:"10s" usage:"Upper bound of a single checkout" flag:"checkout-timeout"`
	Redis             RedisConfig
	Kafka             KafkaConfig
	Outbox            OutboxConfig
	RateLimit         RateLimitConfig
	CORS              CORSConfig
	Graceful          GracefulConfig
}

// RedisConfig enables the cart read cache when Addr is set.
type RedisConfig struct {
	Addr     string        `usage:"Redis address for the cart cache; empty disables caching"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	CartTTL  time.Duration `default:"30s" usage:"Cart cache entry lifetime" flag:"cart-ttl"`
}

// KafkaConfig enables publishing outbox events when Brokers is set.
type KafkaConfig struct {
	Brokers  []string `usage:"Kafka brokers; empty logs events instead of publishing"`
	Topic    string   `default:"market.events" usage:"Topic for domain events"`
	DLQTopic string   `default:"market.events.dlq" usage:"Topic for events that exhausted their retries" flag:"dlq-topic"`
	ClientID string   `default:"market-api" usage:"Kafka client id" flag:"client-id"`
}

// OutboxConfig controls the outbox relay.
type OutboxConfig struct {
	PollInterval time.Duration `default:"1s" usage:"Outbox poll interval" flag:"poll-interval"`
	BatchSize    int           `default:"100" usage:"Messages relayed per poll" flag:"batch-size"`
	MaxAttempts  int           `default:"3" usage:"Publish attempts before a message goes to the DLQ" flag:"max-attempts"`
	MaxLag       time.Duration `default:"5m" usage:"Oldest pending message age before readiness fails" flag:"max-lag"`
	ClaimLease   time.Duration `default:"30s" usage:"How long a claimed message is hidden from other relays" flag:"claim-lease"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
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

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARKET",
		Files:     []string{"config.yaml", "/etc/market/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set MARKET_API_KEY_PEPPER")
	}
	rate, err := c.Tax()
	if err != nil {
		return err
	}
	if rate.IsNegative() {
		return errors.Errorf("tax rate %s is negative", rate)
	}
	if c.CheckoutTimeout < 0 {
		return errors.New("checkout timeout must not be negative")
	}
	return nil
}

// Tax returns the parsed tax rate.
func (c *Config) Tax() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse tax rate %q", c.TaxRate)
	}
	return rate, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's MARKET_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
