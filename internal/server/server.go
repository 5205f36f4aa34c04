// Пакет server — HTTP-сервер relayd с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/relayd/internal/api/errors"
	"github.com/bigkaa/relayd/internal/api/handlers"
	"github.com/bigkaa/relayd/internal/api/middleware"
	"github.com/bigkaa/relayd/internal/config"
)

// PathPrefix — общий префикс API relay.
const PathPrefix = "/rudder"

// Handlers — обработчики, монтируемые в роутер.
type Handlers struct {
	Health      *handlers.HealthHandler
	SharedFiles *handlers.SharedFilesHandler
	RelayCtl    *handlers.RelayCtlHandler
	RemoteRun   *handlers.RemoteRunHandler
	// OpenAPI отдаёт контракт; nil — endpoint не монтируется
	OpenAPI http.Handler
}

// NewRouter собирает маршруты relayd.
//
// auth == nil — JWT не настроен, управляющие endpoints открыты.
// Иначе reload требует scope relay:admin, remote-run — relay:remote-run.
func NewRouter(h Handlers, auth *middleware.JWTAuth, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MetricsMiddleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден")
	})

	r.Get("/health/live", h.Health.HealthLive)
	r.Get("/health/ready", h.Health.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route(PathPrefix, func(r chi.Router) {
		r.Route("/relay-ctl", func(r chi.Router) {
			r.Get("/stats", h.RelayCtl.GetStats)
			r.Get("/status", h.RelayCtl.GetStatus)
			r.With(protect(auth, middleware.ScopeRelayAdmin)...).Post("/reload", h.RelayCtl.Reload)
		})

		r.Route("/relay-api", func(r chi.Router) {
			if h.OpenAPI != nil {
				r.Method(http.MethodGet, "/openapi.json", h.OpenAPI)
			}

			r.Put("/shared-files/{target_uuid}/{source_uuid}/{file_id}", h.SharedFiles.PutSharedFile)
			r.Head("/shared-files/{target_uuid}/{source_uuid}/{file_id}", h.SharedFiles.HeadSharedFile)

			r.Route("/remote-run", func(r chi.Router) {
				r.Use(protect(auth, middleware.ScopeRemoteRun)...)
				r.Post("/nodes/{node_id}", h.RemoteRun.RunNode)
				r.Post("/nodes", h.RemoteRun.RunNodes)
				r.Post("/all", h.RemoteRun.RunAll)
				r.Get("/executions/{execution_id}", h.RemoteRun.GetExecution)
			})
		})
	})

	return r
}

// protect — цепочка JWT + scope, пустая без настроенного JWT.
func protect(auth *middleware.JWTAuth, scope string) []func(http.Handler) http.Handler {
	if auth == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{auth.Require(scope)}
}

// Server — HTTP-сервер relayd.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер поверх handler.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Синхронный remote run держит ответ до завершения агента.
		WriteTimeout: cfg.RemoteRunTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с таймаутом
// RELAY_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.httpServer.TLSConfig != nil),
		)

		var err error
		if s.httpServer.TLSConfig != nil {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
