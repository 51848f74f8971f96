package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"device-control-relay/internal/domain"
	"device-control-relay/internal/middleware"
	"device-control-relay/internal/service"
	"device-control-relay/internal/websocket"
	"device-control-relay/pkg/response"

	"github.com/gorilla/mux"
)

type DeviceHandler struct {
	service *service.DeviceService
	logger  *slog.Logger
}

func NewDeviceHandler(service *service.DeviceService, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{
		service: service,
		logger:  logger.With("component", "device_handler"),
	}
}

type deviceCommand func(ctx context.Context, actor domain.AdminIdentity, deviceID string) (*service.Outcome, error)

func (h *DeviceHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.service.Lock)
}

func (h *DeviceHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.service.Unlock)
}

// Screenshot asks the device for a capture. The image is relayed over
// WebSocket to sessions monitoring the device, not in this response.
func (h *DeviceHandler) Screenshot(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.service.RequestScreenshot)
}

// command answers 202 once the envelope is queued on the device's socket.
// The device acknowledges on its own connection later.
func (h *DeviceHandler) command(w http.ResponseWriter, r *http.Request, run deviceCommand) {
	actor, ok := middleware.GetAdmin(r)
	if !ok {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	deviceID := mux.Vars(r)["id"]
	if deviceID == "" {
		response.BadRequest(w, "Device ID is required")
		return
	}

	outcome, err := run(r.Context(), actor, deviceID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	delivery := outcome.Delivery
	if delivery != nil && !delivery.Delivered {
		err := delivery.Err
		if err == nil {
			err = fmt.Errorf("device %s: %w", deviceID, domain.ErrTargetUnreachable)
		}
		writeError(w, r, h.logger, err)
		return
	}

	var data websocket.DeliveryResult
	if delivery != nil {
		data = delivery.Wire()
	}
	response.Accepted(w, data, outcome.Degraded)
}

type liveDevices struct {
	Devices  []domain.DeviceView `json:"devices"`
	Degraded bool                `json:"degraded"`
}

func (h *DeviceHandler) Live(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAdmin(r)
	if !ok {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	views, degraded, err := h.service.Live(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Success(w, liveDevices{Devices: views, Degraded: degraded})
}
