// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"time"

	"github.com/bigkaa/relayd/internal/config"
	"github.com/bigkaa/relayd/internal/service"
)

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version string
	status  *service.StatusService
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(status *service.StatusService) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		status:  status,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    service.StatusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "relayd",
	})
}

// HealthReady обрабатывает GET /health/ready: те же проверки, что relay-ctl/status.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	report := h.status.Report()
	writeJSON(w, statusCode(report), report)
}
