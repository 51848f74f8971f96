// Package command routes admin-issued envelopes to live sessions. It does not
// authorize and never mutates presence; a device's acknowledgment arrives
// later on its own connection.
package command

import (
	"fmt"
	"log/slog"
	"time"

	"device-control-relay/internal/domain"
	"device-control-relay/internal/metrics"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"
)

// Result is the outcome of one delivery attempt. Delivered means the
// envelope was queued on the target socket, not that the target acted on it.
type Result struct {
	DeviceID  string
	AdminID   string
	Delivered bool
	Err       error
}

func (r Result) Wire() websocket.DeliveryResult {
	return websocket.DeliveryResult{
		DeviceID:  r.DeviceID,
		AdminID:   r.AdminID,
		Delivered: r.Delivered,
		Code:      domain.ErrorCode(r.Err),
	}
}

// Targets selects broadcast recipients: explicit device ids, or every device
// session of an organization when DeviceIDs is empty.
type Targets struct {
	DeviceIDs []string
	OrgID     string
}

type Router struct {
	registry *session.Registry
	now      func() time.Time
	logger   *slog.Logger
}

func NewRouter(registry *session.Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		now:      time.Now,
		logger:   logger.With("component", "command_router"),
	}
}

func (r *Router) envelope(msgType websocket.MessageType, payload interface{}, originID string) (*websocket.Message, error) {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	msg.Timestamp = r.now()
	msg.OriginID = originID
	return msg, nil
}

// Send queues a command on the device's session. A device without a live
// session yields ErrTargetUnreachable in the result.
func (r *Router) Send(msgType websocket.MessageType, deviceID string, payload interface{}, originAdminID string) Result {
	result := Result{DeviceID: deviceID}

	s, ok := r.registry.FindDevice(deviceID)
	if !ok {
		result.Err = fmt.Errorf("device %s: %w", deviceID, domain.ErrTargetUnreachable)
		metrics.CommandsTotal.WithLabelValues(string(msgType), "unreachable").Inc()
		r.logger.Warn("command target unreachable", "type", msgType, "device_id", deviceID, "origin_id", originAdminID)
		return result
	}

	msg, err := r.envelope(msgType, payload, originAdminID)
	if err != nil {
		result.Err = err
		return result
	}
	msg.TargetDeviceID = deviceID

	result.Delivered = r.deliver(s, msg)
	if !result.Delivered {
		result.Err = fmt.Errorf("device %s queue unavailable: %w", deviceID, domain.ErrTargetUnreachable)
	}
	return result
}

// SendToAdmin queues on every session of the admin user. It is delivered if
// at least one session accepted it.
func (r *Router) SendToAdmin(msgType websocket.MessageType, adminID string, payload interface{}, originID string) Result {
	result := Result{AdminID: adminID}

	sessions := r.registry.FindAdmin(adminID)
	if len(sessions) == 0 {
		result.Err = fmt.Errorf("admin %s: %w", adminID, domain.ErrTargetUnreachable)
		metrics.CommandsTotal.WithLabelValues(string(msgType), "unreachable").Inc()
		r.logger.Debug("admin target unreachable", "type", msgType, "admin_id", adminID)
		return result
	}

	msg, err := r.envelope(msgType, payload, originID)
	if err != nil {
		result.Err = err
		return result
	}
	msg.TargetAdminID = adminID

	for _, s := range sessions {
		if r.deliver(s, msg) {
			result.Delivered = true
		}
	}
	if !result.Delivered {
		result.Err = fmt.Errorf("admin %s queues unavailable: %w", adminID, domain.ErrTargetUnreachable)
	}
	return result
}

// Broadcast fans the same envelope out and reports per-target results.
func (r *Router) Broadcast(msgType websocket.MessageType, payload interface{}, targets Targets, originAdminID string) []Result {
	if len(targets.DeviceIDs) > 0 {
		results := make([]Result, 0, len(targets.DeviceIDs))
		for _, deviceID := range targets.DeviceIDs {
			results = append(results, r.Send(msgType, deviceID, payload, originAdminID))
		}
		return results
	}

	msg, err := r.envelope(msgType, payload, originAdminID)
	if err != nil {
		return []Result{{Err: err}}
	}

	members := r.registry.MembersOf(session.OrgDevicesGroup(targets.OrgID))
	results := make([]Result, 0, len(members))
	for _, s := range members {
		deviceID := s.Identity.Key()
		res := Result{DeviceID: deviceID, Delivered: r.deliver(s, msg)}
		if !res.Delivered {
			res.Err = fmt.Errorf("device %s queue unavailable: %w", deviceID, domain.ErrTargetUnreachable)
		}
		results = append(results, res)
	}
	return results
}

// Publish fans an event out to a group and returns how many sessions took it.
func (r *Router) Publish(g session.Group, msgType websocket.MessageType, payload interface{}) int {
	members := r.registry.MembersOf(g)
	if len(members) == 0 {
		return 0
	}

	msg, err := r.envelope(msgType, payload, "")
	if err != nil {
		r.logger.Error("failed to encode event", "type", msgType, "error", err)
		return 0
	}

	delivered := 0
	for _, s := range members {
		if r.deliver(s, msg) {
			delivered++
		}
	}
	return delivered
}

// Reply answers the invoking session directly.
func (r *Router) Reply(s *session.Session, msgType websocket.MessageType, payload interface{}) bool {
	msg, err := r.envelope(msgType, payload, "")
	if err != nil {
		r.logger.Error("failed to encode reply", "type", msgType, "error", err)
		return false
	}
	return r.deliver(s, msg)
}

func (r *Router) deliver(s *session.Session, msg *websocket.Message) bool {
	frame, err := msg.Encode()
	if err != nil {
		r.logger.Error("failed to encode envelope", "type", msg.Type, "error", err)
		return false
	}

	if !s.Enqueue(frame) {
		metrics.CommandsTotal.WithLabelValues(string(msg.Type), "dropped").Inc()
		r.logger.Warn("outbound queue unavailable, frame dropped", "type", msg.Type, "session_id", s.ID)
		return false
	}

	metrics.CommandsTotal.WithLabelValues(string(msg.Type), "delivered").Inc()
	return true
}
