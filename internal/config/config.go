package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/mcpdeck/gateway/internal/provider/anthropic"
	"github.com/mcpdeck/gateway/internal/provider/openai"
)

// Config represents the gateway configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Stripe    StripeConfig
	OpenAI    openai.Config
	Anthropic anthropic.Config
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"60"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// DatabaseConfig contains settings for the SQLite ledger store.
type DatabaseConfig struct {
	Path string `env:"DATABASE_PATH" envDefault:"gateway.db"`
}

// RedisConfig contains settings for the cache-aside store.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB"       envDefault:"0"`
}

// RateLimitConfig contains the fixed-window completion rate limit.
type RateLimitConfig struct {
	RequestsPerWindow int `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	WindowSeconds     int `env:"RATE_LIMIT_WINDOW"   envDefault:"60"`
}

// StripeConfig contains payment provider credentials.
type StripeConfig struct {
	SecretKey string `env:"STRIPE_SECRET_KEY"`
}

// DepConfig is used for dependency injection with dig. Provider configs get
// named fields because both adapters call their type Config.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*DatabaseConfig
	*RedisConfig
	*RateLimitConfig
	*StripeConfig
	OpenAI    *openai.Config
	Anthropic *anthropic.Config
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Database,
		&cfg.Redis,
		&cfg.RateLimit,
		&cfg.Stripe,
		&cfg.OpenAI,
		&cfg.Anthropic,
	}
}
