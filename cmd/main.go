package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/creditmeter/internal/config"
	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/http"
	"github.com/davidbz/creditmeter/internal/http/middleware"
	"github.com/davidbz/creditmeter/internal/observability"
	"github.com/davidbz/creditmeter/internal/provider/echo"
	"github.com/davidbz/creditmeter/internal/provider/openai"
	"github.com/davidbz/creditmeter/internal/provider/registry"
	"github.com/davidbz/creditmeter/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// ErrProviderNotConfigured indicates that a provider is not configured and should be skipped.
var ErrProviderNotConfigured = errors.New("provider not configured")

func main() {
	container := buildContainer()

	err := container.Invoke(func(server *http.Server, backend *storage.Backend, logger *zap.Logger) {
		defer func() { _ = logger.Sync() }()
		defer func() {
			if err := backend.Close(); err != nil {
				logger.Warn("failed to close ledger store", zap.Error(err))
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case err := <-errCh:
			if err != nil {
				logger.Fatal("server failed to start", zap.Error(err))
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown failed", zap.Error(err))
			}
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
	if err := container.Provide(config.LoadCatalog); err != nil {
		log.Fatalf("Failed to provide catalog: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Provide(observability.NewRegistry); err != nil {
		log.Fatalf("Failed to provide metrics registry: %v", err)
	}
	if err := container.Provide(observability.NewMetrics); err != nil {
		log.Fatalf("Failed to provide metrics: %v", err)
	}
	// Components that log at construction take the logger so InitLogger runs first.
	if err := container.Provide(func(metrics *observability.Metrics, _ *zap.Logger) domain.EventPublisher {
		return observability.NewEventBus(metrics)
	}); err != nil {
		log.Fatalf("Failed to provide event bus: %v", err)
	}

	// Pricing
	if err := container.Provide(func(cfg *config.CreditsConfig) (*domain.TokenCostModel, error) {
		return domain.NewTokenCostModel(cfg.Pricing())
	}); err != nil {
		log.Fatalf("Failed to provide cost model: %v", err)
	}
	if err := container.Provide(func(model *domain.TokenCostModel, catalog *config.Catalog) (*domain.OperationCostTable, error) {
		return domain.NewOperationCostTable(model, catalog.Operations)
	}); err != nil {
		log.Fatalf("Failed to provide operation cost table: %v", err)
	}
	if err := container.Provide(func(catalog *config.Catalog) (*domain.CreditPackageCatalog, error) {
		return domain.NewCreditPackageCatalog(catalog.Packages)
	}); err != nil {
		log.Fatalf("Failed to provide package catalog: %v", err)
	}
	if err := container.Provide(func(catalog *config.Catalog) domain.TierGrants {
		return catalog.Tiers
	}); err != nil {
		log.Fatalf("Failed to provide tier grants: %v", err)
	}

	// Ledger storage
	if err := container.Provide(func(
		ledgerCfg *config.LedgerConfig,
		redisCfg *config.RedisConfig,
		_ *zap.Logger,
	) (*storage.Backend, error) {
		return storage.Open(ledgerCfg, redisCfg)
	}); err != nil {
		log.Fatalf("Failed to provide ledger backend: %v", err)
	}
	if err := container.Provide(func(backend *storage.Backend) domain.LedgerStore {
		return backend.Store
	}); err != nil {
		log.Fatalf("Failed to provide ledger store: %v", err)
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

	// Register providers with registry (invoked for side effects)
	if err := container.Invoke(func(reg domain.ProviderRegistry) error {
		return reg.Register(context.Background(), echo.NewProvider())
	}); err != nil {
		log.Fatalf("Failed to register echo provider: %v", err)
	}
	if err := container.Invoke(func(
		reg domain.ProviderRegistry,
		openaiProvider *openai.Provider,
	) error {
		if err := reg.Register(context.Background(), openaiProvider); err != nil {
			return fmt.Errorf("failed to register OpenAI provider: %w", err)
		}
		return nil
	}); err != nil {
		// Ignore ErrProviderNotConfigured as it's expected for optional providers
		if !errors.Is(err, ErrProviderNotConfigured) {
			log.Fatalf("Failed to register providers: %v", err)
		}
	}

	// Domain Services
	if err := container.Provide(domain.NewCreditLedger); err != nil {
		log.Fatalf("Failed to provide credit ledger: %v", err)
	}
	if err := container.Provide(domain.NewUsageEstimator); err != nil {
		log.Fatalf("Failed to provide usage estimator: %v", err)
	}
	if err := container.Provide(domain.NewMeteredService); err != nil {
		log.Fatalf("Failed to provide metered service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}
