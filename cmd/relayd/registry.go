package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/relayd/internal/config"
	"github.com/bigkaa/relayd/internal/database"
	"github.com/bigkaa/relayd/internal/storage/nodes"
)

// openedRegistry — реестр узлов и, для источника postgres, пул соединений.
type openedRegistry struct {
	registry  nodes.Registry
	pool      *pgxpool.Pool
	readiness *database.ReadinessChecker
}

// openRegistry открывает реестр по RELAY_NODES_SOURCE. Для postgres
// сначала применяются миграции.
func openRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*openedRegistry, error) {
	if cfg.NodesSource != config.NodesSourcePostgres {
		registry, err := nodes.NewFileRegistry(cfg.NodesListFile, logger)
		if err != nil {
			return nil, fmt.Errorf("загрузка реестра узлов: %w", err)
		}
		logger.Info("Реестр узлов загружен",
			slog.String("path", cfg.NodesListFile),
			slog.Int("nodes", registry.Count()),
		)
		return &openedRegistry{registry: registry}, nil
	}

	if err := database.Migrate(cfg, logger); err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	registry, err := nodes.NewPostgresRegistry(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("инициализация реестра узлов: %w", err)
	}

	return &openedRegistry{
		registry:  registry,
		pool:      pool,
		readiness: database.NewReadinessChecker(pool),
	}, nil
}
