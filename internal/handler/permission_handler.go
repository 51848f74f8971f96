package handler

import (
	"log/slog"
	"net/http"

	"device-control-relay/internal/domain"
	"device-control-relay/internal/middleware"
	"device-control-relay/internal/service"
	"device-control-relay/internal/websocket"
	"device-control-relay/pkg/response"

	"github.com/gorilla/mux"
)

type PermissionHandler struct {
	service *service.PermissionService
	logger  *slog.Logger
}

func NewPermissionHandler(service *service.PermissionService, logger *slog.Logger) *PermissionHandler {
	return &PermissionHandler{
		service: service,
		logger:  logger.With("component", "permission_handler"),
	}
}

type resolvedPermission struct {
	Request  *domain.PermissionRequest `json:"request"`
	Delivery *websocket.DeliveryResult `json:"delivery,omitempty"`
}

func (h *PermissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAdmin(r)
	if !ok {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	var req domain.CreatePermissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	outcome, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Outcome(w, http.StatusCreated, outcome.Request, outcome.Degraded)
}

// Resolve approves or denies a pending request. An approved unlock whose
// device is offline still resolves; the delivery result says so.
func (h *PermissionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAdmin(r)
	if !ok {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	requestID := mux.Vars(r)["id"]
	if requestID == "" {
		response.BadRequest(w, "Request ID is required")
		return
	}

	var req domain.ResolvePermissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	outcome, err := h.service.Resolve(r.Context(), actor, requestID, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	data := resolvedPermission{Request: outcome.Request}
	if outcome.Delivery != nil {
		wire := outcome.Delivery.Wire()
		data.Delivery = &wire
	}
	response.Outcome(w, http.StatusOK, data, outcome.Degraded)
}

func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAdmin(r)
	if !ok {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	status := domain.PermissionStatus(r.URL.Query().Get("status"))

	requests, err := h.service.List(r.Context(), actor, status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Success(w, nonNil(requests))
}

func (h *PermissionHandler) Mine(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAdmin(r)
	if !ok {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	requests, err := h.service.Mine(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Success(w, nonNil(requests))
}

func nonNil(requests []*domain.PermissionRequest) []*domain.PermissionRequest {
	if requests == nil {
		return []*domain.PermissionRequest{}
	}
	return requests
}
