package relay

import (
	"context"
	"errors"

	"device-control-relay/internal/domain"
	"device-control-relay/internal/presence"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.New().String()
}

// presenceEvent applies a device event as session s. When an older session
// still owns the record but s is the registered session for the device, s
// takes the record over and the event is applied once more.
func (r *Relay) presenceEvent(ctx context.Context, s *session.Session, event func(sessionID string) (presence.Transition, error)) (presence.Transition, error) {
	tr, err := event(s.ID)
	if !errors.Is(err, presence.ErrStaleSession) {
		return tr, err
	}

	device := s.Identity.Device
	if cur, ok := r.registry.FindDevice(device.DeviceID); !ok || cur.ID != s.ID {
		return tr, err
	}
	claimed, cerr := r.tracker.Connected(ctx, device.DeviceID, device.OrgID, s.ID)
	r.observe(claimed, cerr, device.DeviceID)
	if cerr != nil {
		return tr, err
	}
	r.logger.Info("live session reclaimed device presence", "device_id", device.DeviceID, "session_id", s.ID, "status", claimed.To)
	return event(s.ID)
}

func (r *Relay) handleDeviceMessage(ctx context.Context, s *session.Session, msg *websocket.Message) {
	device := s.Identity.Device
	logger := r.logger.With("device_id", device.DeviceID, "type", msg.Type)

	switch msg.Type {
	case websocket.TypeHeartbeat:
		var hb websocket.HeartbeatPayload
		if len(msg.Payload) > 0 {
			if err := msg.UnmarshalPayload(&hb); err != nil {
				logger.Warn("malformed heartbeat", "error", err)
			}
		}
		tr, err := r.presenceEvent(ctx, s, func(sessionID string) (presence.Transition, error) {
			return r.tracker.Heartbeat(ctx, device.DeviceID, sessionID, hb.CurrentUser)
		})
		r.observe(tr, err, device.DeviceID)
		if err == nil && hb.Status != "" && hb.Status != tr.To {
			logger.Debug("heartbeat status differs from acknowledged status", "reported", hb.Status, "tracked", tr.To)
		}

	case websocket.TypeScreenLocked, websocket.TypeScreenUnlocked:
		var ack websocket.ScreenStatePayload
		if len(msg.Payload) > 0 {
			if err := msg.UnmarshalPayload(&ack); err != nil {
				logger.Warn("malformed acknowledgment", "error", err)
			}
		}

		action := domain.ActionScreenLocked
		ackFn := r.tracker.LockAcknowledged
		if msg.Type == websocket.TypeScreenUnlocked {
			action = domain.ActionScreenUnlocked
			ackFn = r.tracker.UnlockAcknowledged
		}

		tr, err := r.presenceEvent(ctx, s, func(sessionID string) (presence.Transition, error) {
			return ackFn(ctx, device.DeviceID, sessionID)
		})
		r.observe(tr, err, device.DeviceID)
		if err != nil {
			return
		}
		details := map[string]interface{}{"from": tr.From, "to": tr.To}
		if ack.RequestID != "" {
			details["request_id"] = ack.RequestID
		}
		r.audit(ctx, &domain.ActivityLog{
			OrgID:    device.OrgID,
			DeviceID: device.DeviceID,
			AdminID:  ack.AdminID,
			Action:   action,
			Details:  details,
		})

	case websocket.TypeScreenshotData:
		var shot websocket.ScreenshotDataPayload
		if err := decode(msg, &shot); err != nil {
			logger.Warn("discarding screenshot", "error", err)
			return
		}
		at := shot.Timestamp
		if at.IsZero() {
			at = r.now()
		}
		r.tracker.ScreenshotReceived(device.DeviceID, at)
		n := r.router.Publish(session.MonitorGroup(device.DeviceID), websocket.TypeScreenshotReceived, websocket.ScreenshotReceivedPayload{
			DeviceID:  device.DeviceID,
			Image:     shot.Image,
			Timestamp: at,
		})
		if n == 0 {
			logger.Debug("screenshot has no watchers")
		}

	case websocket.TypeRemoteControlAccepted, websocket.TypeRemoteControlDenied:
		var reply websocket.RemoteControlReplyPayload
		if err := decode(msg, &reply); err != nil {
			logger.Warn("discarding remote control reply", "error", err)
			return
		}
		reply.DeviceID = device.DeviceID
		result := r.router.SendToAdmin(msg.Type, reply.AdminID, reply, device.DeviceID)
		if !result.Delivered {
			logger.Info("remote control reply not delivered", "admin_id", reply.AdminID, "error", result.Err)
		}

	case websocket.TypePong:

	default:
		logger.Warn("unknown device event")
	}
}
