// remoterun.go — запуск агента на узлах: /rudder/relay-api/remote-run/*.
package handlers

import (
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/relayd/internal/api/errors"
	"github.com/bigkaa/relayd/internal/service"
)

// RemoteRunHandler — обработчик remote-run endpoints.
type RemoteRunHandler struct {
	svc *service.RemoteRunService
}

// NewRemoteRunHandler создаёт обработчик remote-run.
func NewRemoteRunHandler(svc *service.RemoteRunService) *RemoteRunHandler {
	return &RemoteRunHandler{svc: svc}
}

// RunNode обрабатывает POST /remote-run/nodes/{node_id}.
func (h *RemoteRunHandler) RunNode(w http.ResponseWriter, r *http.Request) {
	var nodeID string
	if err := bindPathParam(r, "node_id", &nodeID); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	h.run(w, r, service.RemoteRunTarget{Nodes: []string{nodeID}})
}

// RunNodes обрабатывает POST /remote-run/nodes с полем формы nodes=a,b.
func (h *RemoteRunHandler) RunNodes(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	h.run(w, r, service.RemoteRunTarget{Nodes: service.SplitNodeList(r.PostForm.Get("nodes"))})
}

// RunAll обрабатывает POST /remote-run/all.
func (h *RemoteRunHandler) RunAll(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, service.RemoteRunTarget{All: true})
}

// GetExecution обрабатывает GET /remote-run/executions/{execution_id}.
func (h *RemoteRunHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	var id openapi_types.UUID
	if err := bindPathParam(r, "execution_id", &id); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	execution, ok := h.svc.Get(id.String())
	if !ok {
		apierrors.NotFound(w, "Запуск не найден: "+id.String())
		return
	}
	writeJSON(w, http.StatusOK, execution.View())
}

// run запускает агента. Асинхронный запуск — 202 сразу, синхронный — 200
// после завершения. Обрыв соединения клиента запуск не прерывает.
func (h *RemoteRunHandler) run(w http.ResponseWriter, r *http.Request, target service.RemoteRunTarget) {
	if !parseForm(w, r) {
		return
	}

	req, err := service.ParseRemoteRunRequest(target, formValues(r))
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}

	execution, err := h.svc.Run(r.Context(), req)
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}

	if req.Asynchronous {
		writeJSON(w, http.StatusAccepted, execution.View())
		return
	}
	if err := execution.Wait(r.Context()); err != nil {
		return
	}
	writeJSON(w, http.StatusOK, execution.View())
}
