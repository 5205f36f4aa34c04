// relayctl.go — управление relay: /rudder/relay-ctl/{stats,status,reload}.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/relayd/internal/api/errors"
	"github.com/bigkaa/relayd/internal/api/middleware"
	"github.com/bigkaa/relayd/internal/service"
	"github.com/bigkaa/relayd/internal/storage/nodes"
)

// RelayCtlHandler — обработчик relay-ctl endpoints.
type RelayCtlHandler struct {
	stats    *service.Stats
	registry nodes.Registry
	status   *service.StatusService
	logger   *slog.Logger
}

// NewRelayCtlHandler создаёт обработчик relay-ctl.
func NewRelayCtlHandler(
	stats *service.Stats,
	registry nodes.Registry,
	status *service.StatusService,
	logger *slog.Logger,
) *RelayCtlHandler {
	return &RelayCtlHandler{
		stats:    stats,
		registry: registry,
		status:   status,
		logger:   logger.With(slog.String("component", "relay_ctl")),
	}
}

// GetStats обрабатывает GET /rudder/relay-ctl/stats.
func (h *RelayCtlHandler) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Snapshot(h.registry.Count()))
}

// GetStatus обрабатывает GET /rudder/relay-ctl/status.
// Статус fail отдаётся с 503.
func (h *RelayCtlHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	report := h.status.Report()
	writeJSON(w, statusCode(report), report)
}

// reloadResponse — ответ на перечитывание реестра узлов.
type reloadResponse struct {
	Nodes int `json:"nodes"`
}

// Reload обрабатывает POST /rudder/relay-ctl/reload: перечитывает реестр узлов.
// При ошибке реестр сохраняет прежнее содержимое.
func (h *RelayCtlHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Reload(r.Context()); err != nil {
		h.logger.Error("Не удалось перечитать реестр узлов", slog.String("error", err.Error()))
		apierrors.WriteFromError(w, err)
		return
	}

	count := h.registry.Count()
	h.logger.Info("Реестр узлов перечитан",
		slog.Int("nodes", count),
		slog.String("operator", middleware.OperatorFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, reloadResponse{Nodes: count})
}

func statusCode(report service.StatusReport) int {
	if report.Status == service.StatusFail {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
