package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	redisstore "github.com/mcpdeck/gateway/internal/cache/redis"
	"github.com/mcpdeck/gateway/internal/config"
	"github.com/mcpdeck/gateway/internal/directory"
	"github.com/mcpdeck/gateway/internal/domain"
	"github.com/mcpdeck/gateway/internal/http"
	"github.com/mcpdeck/gateway/internal/http/middleware"
	"github.com/mcpdeck/gateway/internal/ledger/sqlite"
	"github.com/mcpdeck/gateway/internal/observability"
	stripepay "github.com/mcpdeck/gateway/internal/payment/stripe"
	"github.com/mcpdeck/gateway/internal/provider/anthropic"
	"github.com/mcpdeck/gateway/internal/provider/echo"
	"github.com/mcpdeck/gateway/internal/provider/openai"
	"github.com/mcpdeck/gateway/internal/provider/registry"
)

// ErrProviderNotConfigured indicates that a provider is not configured and should be skipped.
var ErrProviderNotConfigured = errors.New("provider not configured")

func main() {
	container := buildContainer()

	err := container.Invoke(func(server *http.Server) {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Provide(func(logger *zap.Logger) domain.EventPublisher {
		return observability.NewEventBus(logger)
	}); err != nil {
		log.Fatalf("Failed to provide event bus: %v", err)
	}
	if err := container.Provide(func() domain.Clock {
		return domain.SystemClock{}
	}); err != nil {
		log.Fatalf("Failed to provide clock: %v", err)
	}

	// Redis: response cache, balance snapshots, rate limiting.
	if err := container.Provide(func(cfg *config.RedisConfig) *redislib.Client {
		return redisstore.NewClient(cfg.Addr, cfg.Password, cfg.DB)
	}); err != nil {
		log.Fatalf("Failed to provide redis client: %v", err)
	}
	if err := container.Provide(func(client *redislib.Client) domain.CacheStore {
		return redisstore.NewStore(client)
	}); err != nil {
		log.Fatalf("Failed to provide cache store: %v", err)
	}
	if err := container.Provide(func(client *redislib.Client, cfg *config.RateLimitConfig) domain.RateLimiter {
		return redisstore.NewRateLimiter(client, cfg.RequestsPerWindow, time.Duration(cfg.WindowSeconds)*time.Second)
	}); err != nil {
		log.Fatalf("Failed to provide rate limiter: %v", err)
	}

	// SQLite: ledger, usage records, server catalog.
	if err := container.Provide(func(cfg *config.DatabaseConfig) (*sqlite.DB, error) {
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return db, nil
	}); err != nil {
		log.Fatalf("Failed to provide database: %v", err)
	}
	if err := container.Provide(func(db *sqlite.DB) domain.LedgerStore {
		return sqlite.NewLedgerStore(db)
	}); err != nil {
		log.Fatalf("Failed to provide ledger store: %v", err)
	}
	if err := container.Provide(func(db *sqlite.DB) domain.UsageStore {
		return sqlite.NewUsageStore(db)
	}); err != nil {
		log.Fatalf("Failed to provide usage store: %v", err)
	}
	if err := container.Provide(func(db *sqlite.DB) directory.Store {
		return sqlite.NewDirectoryStore(db)
	}); err != nil {
		log.Fatalf("Failed to provide directory store: %v", err)
	}

	// Payments
	if err := container.Provide(func(cfg *config.StripeConfig) (domain.PaymentProvider, error) {
		if cfg.SecretKey == "" {
			log.Println("Stripe not configured, credit purchases disabled")
			return stripepay.Unconfigured{}, nil
		}
		return stripepay.NewProvider(stripepay.Config{SecretKey: cfg.SecretKey})
	}); err != nil {
		log.Fatalf("Failed to provide payment provider: %v", err)
	}

	// Provider Registry
	if err := container.Provide(func() domain.ProviderRegistry {
		return registry.NewRegistry()
	}); err != nil {
		log.Fatalf("Failed to provide registry: %v", err)
	}

	// OpenAI Provider
	if err := container.Provide(func(cfg *openai.Config) (*openai.Provider, error) {
		if cfg.APIKey == "" {
			return nil, ErrProviderNotConfigured
		}
		return openai.NewProvider(*cfg)
	}); err != nil {
		log.Fatalf("Failed to provide OpenAI provider: %v", err)
	}

	// Anthropic Provider
	if err := container.Provide(func(cfg *anthropic.Config) (*anthropic.Provider, error) {
		if cfg.APIKey == "" {
			return nil, ErrProviderNotConfigured
		}
		return anthropic.NewProvider(*cfg)
	}); err != nil {
		log.Fatalf("Failed to provide Anthropic provider: %v", err)
	}

	// Register providers with registry (invoked for side effects)
	if err := container.Invoke(func(reg domain.ProviderRegistry) error {
		return reg.Register(context.Background(), echo.NewProvider())
	}); err != nil {
		log.Fatalf("Failed to register echo provider: %v", err)
	}
	if err := container.Invoke(func(reg domain.ProviderRegistry, p *openai.Provider) error {
		return reg.Register(context.Background(), p)
	}); err != nil {
		// Ignore ErrProviderNotConfigured as it's expected for optional providers
		if !errors.Is(err, ErrProviderNotConfigured) {
			log.Fatalf("Failed to register OpenAI provider: %v", err)
		}
	}
	if err := container.Invoke(func(reg domain.ProviderRegistry, p *anthropic.Provider) error {
		return reg.Register(context.Background(), p)
	}); err != nil {
		if !errors.Is(err, ErrProviderNotConfigured) {
			log.Fatalf("Failed to register Anthropic provider: %v", err)
		}
	}

	// Model catalog
	if err := container.Provide(domain.NewModelRegistry); err != nil {
		log.Fatalf("Failed to provide model registry: %v", err)
	}
	if err := container.Invoke(func(models *domain.ModelRegistry) error {
		return domain.LoadDefaultProfiles(context.Background(), models)
	}); err != nil {
		log.Fatalf("Failed to load model profiles: %v", err)
	}

	// Domain Services
	if err := container.Provide(domain.NewCreditService); err != nil {
		log.Fatalf("Failed to provide credit service: %v", err)
	}
	if err := container.Provide(domain.NewCompletionService); err != nil {
		log.Fatalf("Failed to provide completion service: %v", err)
	}
	if err := container.Provide(directory.NewService); err != nil {
		log.Fatalf("Failed to provide directory service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(func(corsCfg *config.CORSConfig, ledger domain.LedgerStore) middleware.Middleware {
		return middleware.BuildMiddlewareChain(corsCfg, ledger)
	}); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}
