package handler

import (
	"net/http"
	"time"

	"device-control-relay/pkg/response"
)

type SessionCounter interface {
	Count() (devices, admins int)
}

type HealthHandler struct {
	sessions SessionCounter
	started  time.Time
}

func NewHealthHandler(sessions SessionCounter) *HealthHandler {
	return &HealthHandler{sessions: sessions, started: time.Now()}
}

type healthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Uptime  string `json:"uptime"`
	Devices int    `json:"devices"`
	Admins  int    `json:"admins"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	devices, admins := h.sessions.Count()
	response.Success(w, healthStatus{
		Status:  "healthy",
		Service: "device-control-relay",
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Devices: devices,
		Admins:  admins,
	})
}
