// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// relayd мониторит:
//   - вышестоящий сервер (policy server) — HTTP checker, если задан RELAY_UPSTREAM_URL
//   - PostgreSQL реестра узлов — SQL checker через существующий pgxpool,
//     если RELAY_NODES_SOURCE=postgres
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — не настроена ни одна зависимость, мониторинг не нужен.
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// upstreamHealthPath — probe path вышестоящего сервера.
const upstreamHealthPath = "/health/live"

// DephealthParams — параметры мониторинга зависимостей.
type DephealthParams struct {
	// ServiceID — имя вершины графа текущего приложения (RELAY_NODE_ID)
	ServiceID string
	// Group — имя группы в метриках (RELAY_DEPHEALTH_GROUP)
	Group string
	// UpstreamURL — URL вышестоящего сервера; пустой — не мониторится
	UpstreamURL string
	// DB — *sql.DB поверх pgxpool (database.SQLDB); nil — не мониторится
	DB *sql.DB
	// PostgresURL — URL PostgreSQL для меток (без учётных данных)
	PostgresURL string
	// CheckInterval — интервал проверки (RELAY_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(params DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(params, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	params DephealthParams,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(params, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	params DephealthParams,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}

	if params.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(params.DB)),
			dephealth.FromURL(params.PostgresURL),
			dephealth.CheckInterval(params.CheckInterval),
			dephealth.Critical(true),
		))
	}

	if params.UpstreamURL != "" {
		upstreamOpts := []dephealth.DependencyOption{
			dephealth.FromURL(params.UpstreamURL),
			dephealth.WithHTTPHealthPath(upstreamHealthPath),
			dephealth.CheckInterval(params.CheckInterval),
			dephealth.Critical(false),
		}
		if parsed, err := url.Parse(params.UpstreamURL); err == nil && parsed.Scheme == "https" {
			upstreamOpts = append(upstreamOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP("upstream", upstreamOpts...))
	}

	if len(opts) == 1 {
		return nil, ErrNoDependencies
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(params.ServiceID, params.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
