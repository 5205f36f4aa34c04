// Точка входа relayd — relay shared-files и remote run для узлов Rudder.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/relayd/internal/api/handlers"
	"github.com/bigkaa/relayd/internal/api/middleware"
	"github.com/bigkaa/relayd/internal/api/openapi"
	"github.com/bigkaa/relayd/internal/config"
	"github.com/bigkaa/relayd/internal/database"
	"github.com/bigkaa/relayd/internal/domain/ttl"
	"github.com/bigkaa/relayd/internal/server"
	"github.com/bigkaa/relayd/internal/service"
	"github.com/bigkaa/relayd/internal/storage/sharedfiles"
	"github.com/bigkaa/relayd/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("relayd запускается",
		slog.String("node_id", cfg.NodeID),
		slog.String("version", config.Version),
		slog.String("addr", cfg.ListenAddr()),
		slog.String("nodes_source", cfg.NodesSource),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("relayd завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("relayd остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. WAL-движок
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("инициализация WAL: %w", err)
	}

	// 2. Хранилище shared-файлов и откат прерванных операций
	store, err := sharedfiles.New(cfg.SharedFilesDir, walEngine, logger)
	if err != nil {
		return fmt.Errorf("инициализация хранилища: %w", err)
	}
	recovered, err := store.Recover()
	if err != nil {
		return fmt.Errorf("восстановление WAL: %w", err)
	}
	if recovered > 0 {
		logger.Warn("Откачены прерванные операции хранилища", slog.Int("count", recovered))
	}
	registerDiskMetrics(cfg.SharedFilesDir, logger)

	// 3. Реестр узлов (nodeslist.json или PostgreSQL)
	reg, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if reg.pool != nil {
		defer reg.pool.Close()
	}

	// 4. Сервисы
	stats := service.NewStats()
	sharedFilesSvc := service.NewSharedFilesService(store, reg.registry, ttl.New(), stats, logger)
	remoteRunSvc := service.NewRemoteRunService(
		reg.registry,
		service.ExecRunner{},
		cfg.RemoteRunCommand,
		cfg.RemoteRunTimeout,
		cfg.RemoteRunHistory,
		cfg.RemoteRunRetention,
		stats,
		logger,
	)
	defer remoteRunSvc.Shutdown()

	// 5. Фоновые процессы
	gcSvc := service.NewGCService(store, walEngine, stats, cfg.GCInterval, cfg.TempMaxAge, logger)
	gcSvc.Start(ctx)
	defer gcSvc.Stop()

	dephealthSvc := startDephealth(ctx, cfg, reg.pool, logger)
	if dephealthSvc != nil {
		defer dephealthSvc.Stop()
	}

	// Интерфейсы StatusService получают nil без типа, если компонент не настроен.
	var readiness service.ReadinessChecker
	if reg.readiness != nil {
		readiness = reg.readiness
	}
	var dependencies service.HealthReporter
	if dephealthSvc != nil {
		dependencies = dephealthSvc
	}
	statusSvc := service.NewStatusService(
		cfg.NodeID, cfg.SharedFilesDir, cfg.WALDir,
		reg.registry, readiness, dependencies,
	)

	// 6. JWT middleware
	jwtAuth, err := newJWTAuth(cfg, logger)
	if err != nil {
		return err
	}

	// 7. OpenAPI контракт
	doc, err := openapi.Load()
	if err != nil {
		return err
	}
	specHandler, err := openapi.Handler(doc)
	if err != nil {
		return err
	}

	// 8. HTTP-сервер
	router := server.NewRouter(server.Handlers{
		Health:      handlers.NewHealthHandler(statusSvc),
		SharedFiles: handlers.NewSharedFilesHandler(sharedFilesSvc, cfg.MaxFileSize),
		RelayCtl:    handlers.NewRelayCtlHandler(stats, reg.registry, statusSvc, logger),
		RemoteRun:   handlers.NewRemoteRunHandler(remoteRunSvc),
		OpenAPI:     specHandler,
	}, jwtAuth, logger)

	srv := server.New(cfg, logger, router)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}

// newJWTAuth создаёт JWT middleware. Без RELAY_JWKS_URL управляющие
// маршруты работают без аутентификации.
func newJWTAuth(cfg *config.Config, logger *slog.Logger) (*middleware.JWTAuth, error) {
	if cfg.JWKSUrl == "" {
		logger.Warn("RELAY_JWKS_URL не задан, reload и remote-run доступны без аутентификации")
		return nil, nil
	}

	auth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("инициализация JWT: %w", err)
	}

	logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	return auth, nil
}

// startDephealth запускает мониторинг зависимостей. Возвращает nil,
// если мониторить нечего или topologymetrics не запустился.
func startDephealth(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) *service.DephealthService {
	params := service.DephealthParams{
		ServiceID:     dephealthName(cfg),
		Group:         cfg.DephealthGroup,
		UpstreamURL:   cfg.UpstreamURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}
	if pool != nil {
		params.DB = database.SQLDB(pool)
		params.PostgresURL = cfg.PostgresURL()
	}

	svc, err := service.NewDephealthService(params, logger)
	if errors.Is(err, service.ErrNoDependencies) {
		logger.Info("Зависимости для topologymetrics не настроены")
		return nil
	}
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := svc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("topologymetrics запущен",
		slog.String("name", params.ServiceID),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return svc
}
