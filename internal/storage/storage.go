// Package storage selects the ledger backend named in configuration.
package storage

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/davidbz/creditmeter/internal/config"
	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/observability"
	"github.com/davidbz/creditmeter/internal/storage/memory"
	"github.com/davidbz/creditmeter/internal/storage/redis"
	"github.com/davidbz/creditmeter/internal/storage/sqlite"
)

const pingTimeout = 5 * time.Second

// Backend is an opened ledger store together with its release hook.
type Backend struct {
	Store domain.LedgerStore
	Close func() error
}

// Open builds the store selected by LEDGER_BACKEND (DI constructor).
func Open(ledgerCfg *config.LedgerConfig, redisCfg *config.RedisConfig) (*Backend, error) {
	logger := observability.FromContext(context.Background())

	switch ledgerCfg.Backend {
	case "", config.BackendMemory:
		logger.Info("using in-memory ledger")
		return &Backend{Store: memory.NewStore(), Close: func() error { return nil }}, nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", redisCfg.Addr, err)
		}

		store, err := redis.NewStore(client, redisCfg.KeyPrefix, ledgerCfg.MaxRetries)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Info("using redis ledger", observability.String("addr", redisCfg.Addr))
		return &Backend{Store: store, Close: client.Close}, nil

	case config.BackendSQLite:
		store, err := sqlite.NewStore(ledgerCfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite ledger", observability.String("path", ledgerCfg.SQLitePath))
		return &Backend{Store: store, Close: store.Close}, nil

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", ledgerCfg.Backend)
	}
}
